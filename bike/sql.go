package bike

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jmoiron/sqlx"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrNotAvailable  = errors.New("bike not available")
	ErrInvalidStatus = errors.New("invalid bike status")
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetBikes(ctx context.Context) ([]Bike, error) {
	var bikes []Bike
	err := r.db.SelectContext(ctx, &bikes, getBikes)
	return bikes, err
}

const getBikes = `SELECT * FROM bikes ORDER BY label`

// GetBike fetches a bike by its physical label.
func (r *Repository) GetBike(ctx context.Context, label string) (Bike, error) {
	var bike Bike

	err := r.db.GetContext(ctx, &bike, getBike, label)
	if errors.Is(err, sql.ErrNoRows) {
		return bike, ErrNotFound
	}

	return bike, err
}

const getBike = `SELECT * FROM bikes WHERE label = $1`

// GetBikeByID fetches a bike by its UUID.
func (r *Repository) GetBikeByID(ctx context.Context, id string) (Bike, error) {
	var bike Bike
	err := r.db.GetContext(ctx, &bike, getBikeByID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return bike, ErrNotFound
	}
	return bike, err
}

const getBikeByID = `SELECT * FROM bikes WHERE id = $1`

// LockTx fetches a bike inside tx and holds its row lock until the tx ends.
func LockTx(ctx context.Context, tx *sqlx.Tx, id string) (Bike, error) {
	var bike Bike
	err := tx.GetContext(ctx, &bike, lockBike, id)
	if errors.Is(err, sql.ErrNoRows) {
		return bike, ErrNotFound
	}
	return bike, err
}

const lockBike = `SELECT * FROM bikes WHERE id = $1 FOR UPDATE`

// SetStatusTx changes a bike's status inside tx. Maintenance is sticky: a bike
// in maintenance is never moved back by reservation transitions.
func SetStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status Status) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	_, err := tx.ExecContext(ctx, setStatus, id, status)
	return err
}

const setStatus = `UPDATE bikes SET status = $2 WHERE id = $1 AND status <> 'maintenance'`

// ReserveTx marks an available bike reserved inside tx. A bike in any other
// status is left as it is.
func ReserveTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	_, err := tx.ExecContext(ctx, reserveBike, id)
	return err
}

const reserveBike = `UPDATE bikes SET status = 'reserved' WHERE id = $1 AND status = 'available'`

// SetMaintenance takes a bike out of (or back into) service. A bike that is
// reserved or being ridden cannot be moved into maintenance.
func (r *Repository) SetMaintenance(ctx context.Context, id string, maintenance bool) (Bike, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return Bike{}, err
	}
	defer tx.Rollback()

	b, err := LockTx(ctx, tx, id)
	if err != nil {
		return Bike{}, err
	}

	next := StatusAvailable
	if maintenance {
		if b.Status == StatusReserved || b.Status == StatusActive {
			return Bike{}, ErrNotAvailable
		}
		next = StatusMaintenance
	} else if b.Status != StatusMaintenance {
		return b, tx.Commit()
	}

	err = tx.GetContext(ctx, &b, setMaintenance, id, next)
	if err != nil {
		return Bike{}, err
	}

	return b, tx.Commit()
}

const setMaintenance = `UPDATE bikes SET status = $2 WHERE id = $1 RETURNING *`

// MoveTx records the last reported position of a bike.
func MoveTx(ctx context.Context, tx *sqlx.Tx, id string, location pgtype.Point) error {
	_, err := tx.ExecContext(ctx, moveBike, id, location)
	return err
}

const moveBike = `UPDATE bikes SET location = $2 WHERE id = $1`
