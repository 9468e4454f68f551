package unlock

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// IssueTx stores c and retires any earlier live challenge of the same method
// for the reservation, so only the newest secret is accepted.
func IssueTx(ctx context.Context, tx *sqlx.Tx, c Challenge) error {
	if _, err := tx.ExecContext(ctx, retireQuery, c.ReservationID, c.Method, c.CreatedAt); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, insertChallengeQuery,
		c.ID, c.ReservationID, c.Method, c.SecretHash, c.ExpiresAt, c.CreatedAt)
	return err
}

const retireQuery = `
UPDATE unlock_challenges SET expires_at = $3
WHERE reservation_id = $1 AND method = $2 AND consumed_at IS NULL AND expires_at > $3
`

const insertChallengeQuery = `
INSERT INTO unlock_challenges (id, reservation_id, method, secret_hash, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`

// LatestTx locks and returns the newest challenge of method for the reservation.
func LatestTx(ctx context.Context, tx *sqlx.Tx, reservationID uuid.UUID, method Method) (Challenge, error) {
	var c Challenge
	err := tx.GetContext(ctx, &c, latestQuery, reservationID, method)
	if errors.Is(err, sql.ErrNoRows) {
		return Challenge{}, ErrChallengeNotFound
	}
	return c, err
}

const latestQuery = `
SELECT * FROM unlock_challenges
WHERE reservation_id = $1 AND method = $2
ORDER BY created_at DESC
LIMIT 1
FOR UPDATE
`

// VerifyTx checks payload against the newest challenge. A match consumes the
// challenge; a mismatch is counted against it. The caller must commit tx even
// when ErrInvalidCode is returned so the attempt is recorded.
func VerifyTx(ctx context.Context, tx *sqlx.Tx, reservationID uuid.UUID, method Method, payload string, now time.Time) error {
	if !method.Valid() {
		return ErrUnsupportedMethod
	}
	c, err := LatestTx(ctx, tx, reservationID, method)
	if err != nil {
		return err
	}

	switch err := c.Check(now, payload); {
	case errors.Is(err, ErrInvalidCode):
		if _, dbErr := tx.ExecContext(ctx, recordAttemptQuery, c.ID); dbErr != nil {
			return dbErr
		}
		return err
	case err != nil:
		return err
	}

	_, err = tx.ExecContext(ctx, consumeQuery, c.ID, now)
	return err
}

const recordAttemptQuery = `UPDATE unlock_challenges SET attempts = attempts + 1 WHERE id = $1`

const consumeQuery = `UPDATE unlock_challenges SET consumed_at = $2 WHERE id = $1 AND consumed_at IS NULL`
