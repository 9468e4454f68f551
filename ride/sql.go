package ride

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var ErrOutOfOrder = errors.New("position report is older than the last recorded position")

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{
		db: db,
	}
}

// Points returns the recorded path of a ride in report order.
func (r *Repository) Points(ctx context.Context, reservationID uuid.UUID) ([]Point, error) {
	var points []Point
	err := r.db.SelectContext(ctx, &points, pointsQuery, reservationID)
	return points, err
}

const pointsQuery = `SELECT * FROM ride_points WHERE reservation_id = $1 ORDER BY id ASC`

// LastPointTx returns the most recent point of a ride, or nil if none was recorded.
func LastPointTx(ctx context.Context, tx *sqlx.Tx, reservationID uuid.UUID) (*Point, error) {
	var p Point
	err := tx.GetContext(ctx, &p, lastPointQuery, reservationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

const lastPointQuery = `SELECT * FROM ride_points WHERE reservation_id = $1 ORDER BY id DESC LIMIT 1`

// AppendPointTx records p and returns the length of the leg from the previous
// point (zero for the first point of a ride).
func AppendPointTx(ctx context.Context, tx *sqlx.Tx, p Point) (float64, error) {
	last, err := LastPointTx(ctx, tx, p.ReservationID)
	if err != nil {
		return 0, err
	}
	if last != nil && p.RecordedAt.Before(last.RecordedAt) {
		return 0, ErrOutOfOrder
	}

	_, err = tx.ExecContext(ctx, appendPointQuery, p.ReservationID, p.Lat, p.Lng, p.RecordedAt)
	if err != nil {
		return 0, err
	}

	if last == nil {
		return 0, nil
	}
	return DistanceKM(last.Lat, last.Lng, p.Lat, p.Lng), nil
}

const appendPointQuery = `
INSERT INTO ride_points (reservation_id, lat, lng, recorded_at) VALUES ($1, $2, $3, $4)
`

// DiscardTx drops the recorded path of a ride that will not be charged.
func DiscardTx(ctx context.Context, tx *sqlx.Tx, reservationID uuid.UUID) error {
	_, err := tx.ExecContext(ctx, discardQuery, reservationID)
	return err
}

const discardQuery = `DELETE FROM ride_points WHERE reservation_id = $1`
