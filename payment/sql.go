package payment

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

const pgUniqueViolation = "23505"

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Payment, error) {
	var p Payment
	err := r.db.GetContext(ctx, &p, getByIDQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Payment{}, ErrNotFound
	}
	return p, err
}

const getByIDQuery = `SELECT * FROM payments WHERE id = $1`

// GetOpenForReservation returns the pending or completed payment of a
// reservation, or nil if every attempt so far has failed.
func (r *Repository) GetOpenForReservation(ctx context.Context, reservationID uuid.UUID) (*Payment, error) {
	var p Payment
	err := r.db.GetContext(ctx, &p, getOpenForReservationQuery, reservationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

const getOpenForReservationQuery = `
SELECT * FROM payments WHERE reservation_id = $1 AND status IN ('pending', 'completed')
`

// ListPending returns pending payments of method, oldest first.
func (r *Repository) ListPending(ctx context.Context, method Method) ([]Payment, error) {
	var out []Payment
	err := r.db.SelectContext(ctx, &out, listPendingQuery, method)
	return out, err
}

const listPendingQuery = `
SELECT * FROM payments WHERE status = 'pending' AND method = $1 ORDER BY created_at ASC
`

// Create inserts p as pending. At most one pending or completed payment may
// exist per reservation.
func (r *Repository) Create(ctx context.Context, p *Payment) error {
	err := r.db.GetContext(ctx, p, createQuery,
		p.ID, p.ReservationID, p.UserID, p.Method, p.AmountCents, p.Currency, p.ExternalRef)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrPaymentInProgress
	}
	return err
}

const createQuery = `
INSERT INTO payments (id, reservation_id, user_id, method, amount_cents, currency, status, external_ref, created_at)
VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, now())
RETURNING *
`

// AttachReference records the external reference of a pending payment. It is
// a no-op when the same reference is already attached. A crypto transaction
// hash can back only one payment; reusing it is ErrReferenceInUse.
func (r *Repository) AttachReference(ctx context.Context, id uuid.UUID, ref string) (Payment, error) {
	var p Payment
	err := r.db.GetContext(ctx, &p, attachReferenceQuery, id, ref)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return Payment{}, ErrReferenceInUse
	}
	if errors.Is(err, sql.ErrNoRows) {
		p, err = r.GetByID(ctx, id)
		if err != nil {
			return Payment{}, err
		}
		if p.ExternalRef.Valid && p.ExternalRef.String != ref {
			return Payment{}, ErrReferenceMismatch
		}
		return p, nil
	}
	return p, err
}

const attachReferenceQuery = `
UPDATE payments SET external_ref = $2
WHERE id = $1 AND status = 'pending' AND (external_ref IS NULL OR external_ref = $2)
RETURNING *
`

// SettleTx moves a payment from pending to target with a compare-and-swap on
// its status. won is true only for the call that performed the transition; a
// repeat of the same outcome returns the stored payment with won false.
func SettleTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, target Status, ref *string, at time.Time) (p Payment, won bool, err error) {
	if !target.Terminal() {
		return Payment{}, false, ErrAlreadySettled
	}

	err = tx.GetContext(ctx, &p, settleQuery, id, target, ref, at)
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Payment{}, false, err
	}

	err = tx.GetContext(ctx, &p, getByIDQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Payment{}, false, ErrNotFound
	}
	if err != nil {
		return Payment{}, false, err
	}
	if _, err := Resolve(p.Status, target); err != nil {
		return p, false, err
	}
	return p, false, nil
}

const settleQuery = `
UPDATE payments
SET status = $2, external_ref = COALESCE($3, external_ref), settled_at = $4
WHERE id = $1 AND status = 'pending'
RETURNING *
`
