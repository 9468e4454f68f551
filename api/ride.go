package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/semanticallynull/bikeshare-backend/reservation"
	"github.com/semanticallynull/bikeshare-backend/ride"
)

type progressRequest struct {
	Lat        *float64   `json:"latitude" binding:"required"`
	Lng        *float64   `json:"longitude" binding:"required"`
	RecordedAt *time.Time `json:"recordedAt"`
}

func (a *API) rideProgressHandler(c *gin.Context) {
	userID, reservationID, ok := reservationParams(c)
	if !ok {
		return
	}

	var req progressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if *req.Lat < -90 || *req.Lat > 90 || *req.Lng < -180 || *req.Lng > 180 {
		badRequest(c, "Coordinates out of range")
		return
	}

	var recordedAt time.Time
	if req.RecordedAt != nil {
		recordedAt = *req.RecordedAt
	}

	res, err := a.svc.RecordRideProgress(c.Request.Context(), userID, reservationID,
		reservation.Location{Lat: *req.Lat, Lng: *req.Lng}, recordedAt)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toReservationResponse(res))
}

type rideSummaryResponse struct {
	ReservationID   string  `json:"reservationId"`
	DistanceKM      float64 `json:"distance"`
	Cost            int64   `json:"cost"`
	Currency        string  `json:"currency"`
	DurationSeconds int64   `json:"durationSeconds"`
}

func (a *API) endRideHandler(c *gin.Context) {
	userID, reservationID, ok := reservationParams(c)
	if !ok {
		return
	}

	summary, err := a.svc.EndRide(c.Request.Context(), userID, reservationID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, rideSummaryResponse{
		ReservationID:   reservationID.String(),
		DistanceKM:      summary.DistanceKM,
		Cost:            summary.CostCents,
		Currency:        a.svc.Currency(),
		DurationSeconds: int64(summary.Duration / time.Second),
	})
}

func (a *API) ridePathHandler(c *gin.Context) {
	userID, reservationID, ok := reservationParams(c)
	if !ok {
		return
	}

	points, err := a.svc.RidePath(c.Request.Context(), userID, reservationID)
	if err != nil {
		respondError(c, err)
		return
	}
	if points == nil {
		points = []ride.Point{}
	}
	c.JSON(http.StatusOK, gin.H{
		"points":   points,
		"distance": ride.RoundKM(ride.PathKM(points)),
	})
}
