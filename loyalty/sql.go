package loyalty

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Account returns the user's balance and ledger, newest entry last. A user who
// never earned points has an empty account.
func (r *Repository) Account(ctx context.Context, userID string) (Account, error) {
	acc := Account{UserID: userID}
	err := r.db.GetContext(ctx, &acc, getAccountQuery, userID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Account{}, err
	}
	acc.Entries = []Entry{}
	err = r.db.SelectContext(ctx, &acc.Entries, getEntriesQuery, userID)
	return acc, err
}

const getAccountQuery = `SELECT * FROM loyalty_accounts WHERE user_id = $1`

const getEntriesQuery = `SELECT * FROM loyalty_entries WHERE user_id = $1 ORDER BY id ASC`

// AccrueTx credits the points earned by a completed ride. It is keyed to the
// reservation: a second call for the same reservation credits nothing and
// returns applied false.
func AccrueTx(ctx context.Context, tx *sqlx.Tx, userID string, reservationID uuid.UUID, distanceKM float64, at time.Time) (points int64, applied bool, err error) {
	points = PointsForDistance(distanceKM)

	if _, err := tx.ExecContext(ctx, ensureAccountQuery, userID); err != nil {
		return 0, false, err
	}

	var entryID int64
	err = tx.GetContext(ctx, &entryID, insertKeyedEntryQuery, userID, points, ReasonRide, RideSourceKey(reservationID), at)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	if _, err := tx.ExecContext(ctx, adjustBalanceQuery, userID, points); err != nil {
		return 0, false, err
	}
	return points, true, nil
}

const ensureAccountQuery = `
INSERT INTO loyalty_accounts (user_id, points_balance) VALUES ($1, 0) ON CONFLICT (user_id) DO NOTHING
`

const insertKeyedEntryQuery = `
INSERT INTO loyalty_entries (user_id, delta, reason, source_key, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (source_key) DO NOTHING
RETURNING id
`

const adjustBalanceQuery = `
UPDATE loyalty_accounts SET points_balance = points_balance + $2, updated_at = now() WHERE user_id = $1
`

// Accrue is AccrueTx in its own transaction.
func (r *Repository) Accrue(ctx context.Context, userID string, reservationID uuid.UUID, distanceKM float64, at time.Time) (int64, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback()

	points, applied, err := AccrueTx(ctx, tx, userID, reservationID, distanceKM, at)
	if err != nil {
		return 0, false, err
	}
	return points, applied, tx.Commit()
}

// Redeem debits pointsCost from the user's balance. The balance is locked for
// the check and the debit; an insufficient balance changes nothing.
func (r *Repository) Redeem(ctx context.Context, userID string, pointsCost int64, reason string, at time.Time) (Account, error) {
	if err := CheckRedeem(0, pointsCost); errors.Is(err, ErrInvalidPoints) {
		return Account{}, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return Account{}, err
	}
	defer tx.Rollback()

	var balance int64
	err = tx.GetContext(ctx, &balance, lockBalanceQuery, userID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Account{}, err
	}
	if err := CheckRedeem(balance, pointsCost); err != nil {
		return Account{}, err
	}

	if _, err := tx.ExecContext(ctx, insertEntryQuery, userID, -pointsCost, reason, at); err != nil {
		return Account{}, err
	}
	if _, err := tx.ExecContext(ctx, adjustBalanceQuery, userID, -pointsCost); err != nil {
		return Account{}, err
	}
	if err := tx.Commit(); err != nil {
		return Account{}, err
	}

	return r.Account(ctx, userID)
}

const lockBalanceQuery = `SELECT points_balance FROM loyalty_accounts WHERE user_id = $1 FOR UPDATE`

const insertEntryQuery = `
INSERT INTO loyalty_entries (user_id, delta, reason, created_at) VALUES ($1, $2, $3, $4)
`
