package reservation

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/semanticallynull/bikeshare-backend/bike"
)

var (
	ErrNotFound              = errors.New("reservation not found")
	ErrConflict              = errors.New("reservation overlaps with existing reservation")
	ErrOpenReservationExists = errors.New("user already has an upcoming or active reservation")
	ErrNotAuthorized         = errors.New("not authorized to modify this reservation")
)

// PostgreSQL error codes raised by the reservations table constraints.
const (
	pgExclusionViolation = "23P01"
	pgUniqueViolation    = "23505"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// GetByID fetches a single reservation by its ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Reservation, error) {
	var res Reservation
	err := r.db.GetContext(ctx, &res, getByIDQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Reservation{}, ErrNotFound
	}
	return res, err
}

const getByIDQuery = `SELECT * FROM reservations WHERE id = $1`

// GetByUserID fetches all reservations for a user, optionally filtered by status.
// Results are sorted by start_time ASC.
func (r *Repository) GetByUserID(ctx context.Context, userID string, status *Status) ([]Reservation, error) {
	var out []Reservation
	var err error
	if status != nil {
		err = r.db.SelectContext(ctx, &out, getByUserIDAndStatusQuery, userID, *status)
	} else {
		err = r.db.SelectContext(ctx, &out, getByUserIDQuery, userID)
	}
	return out, err
}

const getByUserIDQuery = `SELECT * FROM reservations WHERE user_id = $1 ORDER BY start_time ASC`

const getByUserIDAndStatusQuery = `
SELECT * FROM reservations WHERE user_id = $1 AND status = $2 ORDER BY start_time ASC
`

// GetCurrentByUserID fetches the user's upcoming or active reservation, if any.
func (r *Repository) GetCurrentByUserID(ctx context.Context, userID string) (*Reservation, error) {
	var res Reservation
	err := r.db.GetContext(ctx, &res, getCurrentByUserIDQuery, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

const getCurrentByUserIDQuery = `
SELECT * FROM reservations
WHERE user_id = $1
  AND status IN ('upcoming', 'active')
ORDER BY start_time ASC
LIMIT 1
`

// GetSlotsForBike fetches open reservation slots for a bike that intersect [from, to).
// A nil bound leaves that side of the range open.
func (r *Repository) GetSlotsForBike(ctx context.Context, bikeID uuid.UUID, from, to *time.Time) ([]TimeSlot, error) {
	var slots []TimeSlot
	err := r.db.SelectContext(ctx, &slots, getSlotsForBikeQuery, bikeID, from, to)
	return slots, err
}

const getSlotsForBikeQuery = `
SELECT id, user_id, start_time, end_time, status FROM reservations
WHERE bike_id = $1
  AND status IN ('upcoming', 'active')
  AND ($3::timestamptz IS NULL OR start_time < $3)
  AND ($2::timestamptz IS NULL OR end_time > $2)
ORDER BY start_time ASC
`

// IsAvailable reports whether no open reservation on bikeID overlaps [start, end).
func (r *Repository) IsAvailable(ctx context.Context, bikeID uuid.UUID, start, end time.Time) (bool, error) {
	want := Interval{Start: start, End: end}
	if err := want.Validate(); err != nil {
		return false, err
	}
	slots, err := r.GetSlotsForBike(ctx, bikeID, &start, &end)
	if err != nil {
		return false, err
	}
	return Available(slots, want)
}

// Create inserts a new upcoming reservation after checking for overlaps. The
// check and the insert run under a per-bike advisory lock so two concurrent
// creations for the same bike cannot both pass the check; the exclusion
// constraint on the table rejects anything that slips past. Existing rows are
// read without row locks: transitions only ever close reservations, which can
// free a slot but never take one. When markReserved is set an available bike
// is moved to reserved in the same transaction.
func (r *Repository) Create(ctx context.Context, res *Reservation, markReserved bool) error {
	if err := res.Interval().Validate(); err != nil {
		return err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, lockBikeSlotsQuery, res.BikeID.String()); err != nil {
		return err
	}

	b, err := bike.LockTx(ctx, tx, res.BikeID.String())
	if err != nil {
		return err
	}
	if b.Status == bike.StatusMaintenance {
		return bike.ErrNotAvailable
	}

	var open int
	if err := tx.GetContext(ctx, &open, countOpenForUserQuery, res.UserID); err != nil {
		return err
	}
	if open > 0 {
		return ErrOpenReservationExists
	}

	var overlappingIDs []uuid.UUID
	err = tx.SelectContext(ctx, &overlappingIDs, checkOverlapQuery, res.BikeID, res.StartTime, res.EndTime)
	if err != nil {
		return err
	}
	if len(overlappingIDs) > 0 {
		return ErrConflict
	}

	err = tx.GetContext(ctx, res, createReservationQuery,
		res.ID, res.BikeID, res.UserID, res.StartTime, res.EndTime, res.PickupLocation)
	if err != nil {
		return mapConstraintError(err)
	}

	if markReserved {
		if err := bike.ReserveTx(ctx, tx, res.BikeID.String()); err != nil {
			return err
		}
	}

	return mapConstraintError(tx.Commit())
}

const lockBikeSlotsQuery = `SELECT pg_advisory_xact_lock(hashtext($1))`

const countOpenForUserQuery = `
SELECT count(*) FROM reservations WHERE user_id = $1 AND status IN ('upcoming', 'active')
`

const checkOverlapQuery = `
SELECT id FROM reservations
WHERE bike_id = $1
  AND status IN ('upcoming', 'active')
  AND start_time < $3
  AND end_time > $2
`

const createReservationQuery = `
INSERT INTO reservations (id, bike_id, user_id, start_time, end_time, pickup_location, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, 'upcoming', now(), now())
RETURNING *
`

func mapConstraintError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgExclusionViolation:
			return ErrConflict
		case pgUniqueViolation:
			return ErrOpenReservationExists
		}
	}
	return err
}

// LockTx fetches a reservation inside tx and holds its row lock until the tx
// ends. Every transition goes through this lock, which serializes unlock,
// end-ride and cancel calls on the same reservation.
func LockTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (Reservation, error) {
	var res Reservation
	err := tx.GetContext(ctx, &res, lockReservationQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Reservation{}, ErrNotFound
	}
	return res, err
}

const lockReservationQuery = `SELECT * FROM reservations WHERE id = $1 FOR UPDATE`

// ActivateTx moves a locked reservation from upcoming to active and marks its
// bike active. It fails with bike.ErrNotAvailable while the bike is in
// maintenance or another reservation is riding it.
func ActivateTx(ctx context.Context, tx *sqlx.Tx, res *Reservation, at time.Time) error {
	if err := CheckTransition(res.Status, StatusActive); err != nil {
		return err
	}
	b, err := bike.LockTx(ctx, tx, res.BikeID.String())
	if err != nil {
		return err
	}
	if b.Status == bike.StatusMaintenance {
		return bike.ErrNotAvailable
	}
	var ridden bool
	if err := tx.GetContext(ctx, &ridden, bikeRiddenQuery, res.BikeID, res.ID); err != nil {
		return err
	}
	if ridden {
		return bike.ErrNotAvailable
	}
	if err := tx.GetContext(ctx, res, activateQuery, res.ID, at); err != nil {
		return err
	}
	return bike.SetStatusTx(ctx, tx, res.BikeID.String(), bike.StatusActive)
}

const bikeRiddenQuery = `
SELECT EXISTS (SELECT 1 FROM reservations WHERE bike_id = $1 AND id <> $2 AND status = 'active')
`

const activateQuery = `
UPDATE reservations
SET status = 'active', actual_start = $2, version = version + 1, updated_at = now()
WHERE id = $1
RETURNING *
`

// CompleteTx freezes distance and cost on a locked active reservation, moves it
// to completed and releases its bike. See ReleaseBikeTx for holdUntil.
func CompleteTx(ctx context.Context, tx *sqlx.Tx, res *Reservation, distanceKM float64, costCents int64, at, holdUntil time.Time) error {
	if err := CheckTransition(res.Status, StatusCompleted); err != nil {
		return err
	}
	if err := tx.GetContext(ctx, res, completeQuery, res.ID, at, distanceKM, costCents); err != nil {
		return err
	}
	return ReleaseBikeTx(ctx, tx, res, holdUntil)
}

const completeQuery = `
UPDATE reservations
SET status = 'completed', actual_end = $2, distance_km = $3, cost_cents = $4,
    version = version + 1, updated_at = now()
WHERE id = $1
RETURNING *
`

// CancelTx moves a locked open reservation to cancelled, discards any ride
// accounting and releases its bike. See ReleaseBikeTx for holdUntil.
func CancelTx(ctx context.Context, tx *sqlx.Tx, res *Reservation, holdUntil time.Time) error {
	if err := CheckTransition(res.Status, StatusCancelled); err != nil {
		return err
	}
	if err := tx.GetContext(ctx, res, cancelQuery, res.ID); err != nil {
		return err
	}
	return ReleaseBikeTx(ctx, tx, res, holdUntil)
}

const cancelQuery = `
UPDATE reservations
SET status = 'cancelled', distance_km = 0, cost_cents = NULL,
    version = version + 1, updated_at = now()
WHERE id = $1
RETURNING *
`

// ReleaseBikeTx recomputes the status of res's bike once res no longer holds
// it. The bike stays active while another reservation rides it, becomes
// reserved when another upcoming reservation starts by holdUntil and is
// available otherwise. Maintenance is left alone.
func ReleaseBikeTx(ctx context.Context, tx *sqlx.Tx, res *Reservation, holdUntil time.Time) error {
	_, err := tx.ExecContext(ctx, releaseBikeQuery, res.BikeID, res.ID, holdUntil)
	return err
}

const releaseBikeQuery = `
UPDATE bikes SET status = CASE
    WHEN EXISTS (SELECT 1 FROM reservations r
                 WHERE r.bike_id = $1 AND r.id <> $2 AND r.status = 'active') THEN 'active'
    WHEN EXISTS (SELECT 1 FROM reservations r
                 WHERE r.bike_id = $1 AND r.id <> $2 AND r.status = 'upcoming' AND r.start_time <= $3) THEN 'reserved'
    ELSE 'available'
END
WHERE id = $1 AND status <> 'maintenance'
`

// SetDistanceTx stores the running distance of a locked active reservation.
func SetDistanceTx(ctx context.Context, tx *sqlx.Tx, res *Reservation, distanceKM float64) error {
	if res.Status != StatusActive {
		return ErrIllegalTransition
	}
	return tx.GetContext(ctx, res, setDistanceQuery, res.ID, distanceKM)
}

const setDistanceQuery = `
UPDATE reservations SET distance_km = $2, version = version + 1, updated_at = now()
WHERE id = $1
RETURNING *
`
