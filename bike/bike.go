// Package bike
package bike

import (
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type Status string

const (
	StatusAvailable   Status = "available"
	StatusReserved    Status = "reserved"
	StatusActive      Status = "active"
	StatusMaintenance Status = "maintenance"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusReserved, StatusActive, StatusMaintenance:
		return true
	}
	return false
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// Bike represents a bike which can be reserved and ridden.
type Bike struct {
	// ID is an internal identifier for a bike
	ID uuid.UUID
	// Label is a physical label which is on the bike. It is printed as a QR code
	// (e.g. "CARGO-123") and is what the unlock scan must match.
	Label string
	// IMEI is the identifier of the SIM card used in the bike. This is what is transmitted by the lock
	IMEI string

	Location pgtype.Point

	BatteryLevel int `db:"battery_level"`

	Status Status

	// DisplayName is a user-friendly name for the bike type (e.g., "Bergamont Cargoville LJ")
	DisplayName *string `db:"display_name"`
	// ImageURL is a URL to an image of the bike
	ImageURL *string `db:"image_url"`
}

func (b Bike) Lat() float64 { return b.Location.P.X }
func (b Bike) Lng() float64 { return b.Location.P.Y }
