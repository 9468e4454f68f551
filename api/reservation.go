package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/semanticallynull/bikeshare-backend/rental"
	"github.com/semanticallynull/bikeshare-backend/reservation"
)

type reservationResponse struct {
	ID             uuid.UUID            `json:"id"`
	BikeID         uuid.UUID            `json:"bikeId"`
	UserID         string               `json:"userId"`
	StartTime      time.Time            `json:"startTime"`
	EndTime        time.Time            `json:"endTime"`
	ActualStart    *time.Time           `json:"actualStart,omitempty"`
	ActualEnd      *time.Time           `json:"actualEnd,omitempty"`
	PickupLocation reservation.Location `json:"pickupLocation"`
	Status         reservation.Status   `json:"status"`
	DistanceKM     float64              `json:"distance"`
	Cost           *int64               `json:"cost,omitempty"`
	CreatedAt      time.Time            `json:"createdAt"`
}

func toReservationResponse(r reservation.Reservation) reservationResponse {
	resp := reservationResponse{
		ID:             r.ID,
		BikeID:         r.BikeID,
		UserID:         r.UserID,
		StartTime:      r.StartTime,
		EndTime:        r.EndTime,
		PickupLocation: reservation.LocationFromPoint(r.PickupLocation),
		Status:         r.Status,
		DistanceKM:     r.DistanceKM,
		CreatedAt:      r.CreatedAt,
	}
	if r.ActualStart.Valid {
		resp.ActualStart = &r.ActualStart.Time
	}
	if r.ActualEnd.Valid {
		resp.ActualEnd = &r.ActualEnd.Time
	}
	if r.CostCents.Valid {
		resp.Cost = &r.CostCents.Int64
	}
	return resp
}

type createReservationRequest struct {
	BikeID         string                `json:"bikeId" binding:"required"`
	StartTime      time.Time             `json:"startTime" binding:"required"`
	EndTime        time.Time             `json:"endTime" binding:"required"`
	PickupLocation *reservation.Location `json:"pickupLocation"`
}

func (a *API) createReservationHandler(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req createReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	b, err := a.lookupBike(c, req.BikeID)
	if err != nil {
		respondError(c, err)
		return
	}

	pickup := reservation.Location{Lat: b.Lat(), Lng: b.Lng()}
	if req.PickupLocation != nil {
		pickup = *req.PickupLocation
	}

	res, err := a.svc.CreateReservation(c.Request.Context(), rental.CreateReservationRequest{
		BikeID: b.ID,
		UserID: userID,
		Start:  req.StartTime,
		End:    req.EndTime,
		Pickup: pickup,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toReservationResponse(res))
}

func (a *API) listReservationsHandler(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var status *reservation.Status
	if s := c.Query("status"); s != "" {
		st := reservation.Status(s)
		status = &st
	}

	list, err := a.svc.ListReservations(c.Request.Context(), userID, status)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]reservationResponse, 0, len(list))
	for _, r := range list {
		out = append(out, toReservationResponse(r))
	}
	c.JSON(http.StatusOK, out)
}

func (a *API) currentReservationHandler(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	res, err := a.svc.CurrentReservation(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	if res == nil {
		c.JSON(http.StatusOK, nil)
		return
	}
	c.JSON(http.StatusOK, toReservationResponse(*res))
}

func (a *API) getReservationHandler(c *gin.Context) {
	userID, reservationID, ok := reservationParams(c)
	if !ok {
		return
	}

	res, err := a.svc.GetReservation(c.Request.Context(), userID, reservationID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toReservationResponse(res))
}

func (a *API) cancelReservationHandler(c *gin.Context) {
	userID, reservationID, ok := reservationParams(c)
	if !ok {
		return
	}

	res, err := a.svc.CancelReservation(c.Request.Context(), userID, reservationID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toReservationResponse(res))
}

// reservationEventsHandler streams state changes of a reservation over a
// websocket until the client disconnects.
func (a *API) reservationEventsHandler(c *gin.Context) {
	userID, reservationID, ok := reservationParams(c)
	if !ok {
		return
	}
	if _, err := a.svc.GetReservation(c.Request.Context(), userID, reservationID); err != nil {
		respondError(c, err)
		return
	}
	a.hub.ServeReservation(c.Writer, c.Request, reservationID)
}

// reservationParams resolves the caller and the :id path parameter.
func reservationParams(c *gin.Context) (string, uuid.UUID, bool) {
	userID, ok := requireUser(c)
	if !ok {
		return "", uuid.Nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "Invalid reservation id")
		return "", uuid.Nil, false
	}
	return userID, id, true
}
