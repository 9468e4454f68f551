package loyalty

import (
	"database/sql"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInsufficientPoints = errors.New("insufficient loyalty points")
	ErrInvalidPoints      = errors.New("points must be positive")
)

// Account is a user's points balance. Balance is the running sum of Entries
// and never drops below zero.
type Account struct {
	UserID        string    `db:"user_id" json:"userId"`
	PointsBalance int64     `db:"points_balance" json:"pointsBalance"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`
	Entries       []Entry   `db:"-" json:"entries"`
}

// Entry is one append-only ledger line.
type Entry struct {
	ID        int64          `db:"id" json:"id"`
	UserID    string         `db:"user_id" json:"-"`
	Delta     int64          `db:"delta" json:"delta"`
	Reason    string         `db:"reason" json:"reason"`
	SourceKey sql.NullString `db:"source_key" json:"-"`
	CreatedAt time.Time      `db:"created_at" json:"timestamp"`
}

// ReasonRide is the ledger reason for points earned on a completed ride.
const ReasonRide = "ride"

// PointsForDistance is one point per whole kilometre ridden.
func PointsForDistance(distanceKM float64) int64 {
	if distanceKM <= 0 || math.IsNaN(distanceKM) {
		return 0
	}
	return int64(math.Floor(distanceKM))
}

// RideSourceKey ties an accrual to the reservation that earned it.
func RideSourceKey(reservationID uuid.UUID) string {
	return "ride:" + reservationID.String()
}

// CheckRedeem rejects a redemption that would drive balance negative.
func CheckRedeem(balance, cost int64) error {
	if cost <= 0 {
		return ErrInvalidPoints
	}
	if balance < cost {
		return ErrInsufficientPoints
	}
	return nil
}
