package reservation

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type Status string

const (
	StatusUpcoming  Status = "upcoming"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Open reports whether a reservation in this status still holds its bike.
func (s Status) Open() bool {
	return s == StatusUpcoming || s == StatusActive
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Reservation struct {
	ID             uuid.UUID     `db:"id"`
	BikeID         uuid.UUID     `db:"bike_id"`
	UserID         string        `db:"user_id"`
	StartTime      time.Time     `db:"start_time"`
	EndTime        time.Time     `db:"end_time"`
	ActualStart    sql.NullTime  `db:"actual_start"`
	ActualEnd      sql.NullTime  `db:"actual_end"`
	PickupLocation pgtype.Point  `db:"pickup_location"`
	Status         Status        `db:"status"`
	DistanceKM     float64       `db:"distance_km"`
	CostCents      sql.NullInt64 `db:"cost_cents"`
	Version        int           `db:"version"`
	CreatedAt      time.Time     `db:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at"`
}

func (r Reservation) Interval() Interval {
	return Interval{Start: r.StartTime, End: r.EndTime}
}

// Location is a WGS84 coordinate.
type Location struct {
	Lat float64 `json:"latitude"`
	Lng float64 `json:"longitude"`
}

func (l Location) Point() pgtype.Point {
	return pgtype.Point{P: pgtype.Vec2{X: l.Lat, Y: l.Lng}, Valid: true}
}

func LocationFromPoint(p pgtype.Point) Location {
	return Location{Lat: p.P.X, Lng: p.P.Y}
}

// TimeSlot is a booked interval on a bike, as returned by availability queries.
type TimeSlot struct {
	ReservationID uuid.UUID `db:"id"`
	UserID        string    `db:"user_id"`
	StartTime     time.Time `db:"start_time"`
	EndTime       time.Time `db:"end_time"`
	Status        Status    `db:"status"`
}
