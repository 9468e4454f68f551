package rental

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/semanticallynull/bikeshare-backend/reservation"
)

// lockOwned locks a reservation for the rest of tx and checks it belongs to userID.
func lockOwned(ctx context.Context, tx *sqlx.Tx, userID string, reservationID uuid.UUID) (reservation.Reservation, error) {
	res, err := reservation.LockTx(ctx, tx, reservationID)
	if err != nil {
		return reservation.Reservation{}, err
	}
	if res.UserID != userID {
		return reservation.Reservation{}, reservation.ErrNotAuthorized
	}
	return res, nil
}
