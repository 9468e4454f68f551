package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/semanticallynull/bikeshare-backend/bike"
	"github.com/semanticallynull/bikeshare-backend/reservation"
)

type bikeResponse struct {
	ID           uuid.UUID   `json:"id"`
	Label        string      `json:"label"`
	DisplayName  string      `json:"displayName"`
	ImageURL     string      `json:"imageUrl,omitempty"`
	IMEI         string      `json:"bleId"`
	Lat          float64     `json:"latitude"`
	Lng          float64     `json:"longitude"`
	BatteryLevel int         `json:"batteryLevel"`
	Status       bike.Status `json:"status"`
	Available    bool        `json:"available"`
}

func toBikeResponse(b bike.Bike) bikeResponse {
	br := bikeResponse{
		ID:           b.ID,
		Label:        b.Label,
		IMEI:         b.IMEI,
		Lat:          b.Lat(),
		Lng:          b.Lng(),
		BatteryLevel: b.BatteryLevel,
		Status:       b.Status,
		Available:    b.Status == bike.StatusAvailable,
	}
	if b.DisplayName != nil {
		br.DisplayName = *b.DisplayName
	}
	if b.ImageURL != nil {
		br.ImageURL = *b.ImageURL
	}
	return br
}

func (a *API) bikesHandler(c *gin.Context) {
	bikes, err := a.br.GetBikes(c)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]bikeResponse, 0, len(bikes))
	for _, b := range bikes {
		out = append(out, toBikeResponse(b))
	}
	c.JSON(http.StatusOK, out)
}

// bikeHandler looks a bike up by ID, or by the label printed on it.
func (a *API) bikeHandler(c *gin.Context) {
	b, err := a.lookupBike(c, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBikeResponse(b))
}

func (a *API) lookupBike(c *gin.Context, ref string) (bike.Bike, error) {
	if _, err := uuid.Parse(ref); err == nil {
		return a.br.GetBikeByID(c, ref)
	}
	return a.br.GetBike(c, ref)
}

type availabilityResponse struct {
	BikeID    uuid.UUID `json:"bikeId"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Available bool      `json:"available"`
}

func (a *API) availabilityHandler(c *gin.Context) {
	b, err := a.lookupBike(c, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	start, end, err := parseRange(c.Query("start"), c.Query("end"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if start == nil || end == nil {
		badRequest(c, "start and end are required")
		return
	}

	free, err := a.svc.CheckAvailability(c.Request.Context(), b.ID, *start, *end)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, availabilityResponse{
		BikeID:    b.ID,
		StartTime: *start,
		EndTime:   *end,
		Available: free,
	})
}

type timeSlotResponse struct {
	StartTime time.Time          `json:"startTime"`
	EndTime   time.Time          `json:"endTime"`
	Status    reservation.Status `json:"status"`
}

// scheduleHandler lists booked slots of a bike so a client can offer free
// times. Who holds a slot is not disclosed.
func (a *API) scheduleHandler(c *gin.Context) {
	b, err := a.lookupBike(c, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	from, to, err := parseRange(c.Query("from"), c.Query("to"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	slots, err := a.svc.BikeSchedule(c.Request.Context(), b.ID, from, to)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]timeSlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, timeSlotResponse{StartTime: s.StartTime, EndTime: s.EndTime, Status: s.Status})
	}
	c.JSON(http.StatusOK, out)
}

type maintenanceRequest struct {
	Maintenance *bool `json:"maintenance" binding:"required"`
}

func (a *API) maintenanceHandler(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "Invalid bike id")
		return
	}
	var req maintenanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	b, err := a.svc.SetBikeMaintenance(c.Request.Context(), id, *req.Maintenance)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBikeResponse(b))
}

func parseRange(startStr, endStr string) (*time.Time, *time.Time, error) {
	var start, end *time.Time
	if startStr != "" {
		t, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			return nil, nil, errors.New("invalid start time format")
		}
		start = &t
	}
	if endStr != "" {
		t, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			return nil, nil, errors.New("invalid end time format")
		}
		end = &t
	}
	return start, end, nil
}
