package rental

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/semanticallynull/bikeshare-backend/customer"
	"github.com/semanticallynull/bikeshare-backend/events"
	"github.com/semanticallynull/bikeshare-backend/reservation"
	"github.com/semanticallynull/bikeshare-backend/unlock"
)

// IssueUnlockChallenge creates a fresh challenge for an upcoming reservation,
// replacing any earlier one of the same method. For QR the secret is the
// label printed on the bike; for email a numeric code is mailed to the
// customer's address on file.
func (s *Service) IssueUnlockChallenge(ctx context.Context, userID string, reservationID uuid.UUID, method unlock.Method) (_ unlock.Ref, err error) {
	ctx, span := s.startSpan(ctx, "IssueUnlockChallenge",
		attribute.String("reservation_id", reservationID.String()),
		attribute.String("method", string(method)))
	defer func() { endSpan(span, err) }()

	if !method.Valid() || (method == unlock.MethodEmail && s.mailer == nil) {
		return unlock.Ref{}, unlock.ErrUnsupportedMethod
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return unlock.Ref{}, err
	}
	defer tx.Rollback()

	res, err := lockOwned(ctx, tx, userID, reservationID)
	if err != nil {
		return unlock.Ref{}, err
	}
	if err := reservation.CheckTransition(res.Status, reservation.StatusActive); err != nil {
		return unlock.Ref{}, err
	}
	if err := s.checkUnlockWindow(res); err != nil {
		return unlock.Ref{}, err
	}

	var secret, address string
	var ttl time.Duration
	switch method {
	case unlock.MethodQR:
		b, err := s.bikes.GetBikeByID(ctx, res.BikeID.String())
		if err != nil {
			return unlock.Ref{}, err
		}
		secret, ttl = b.Label, s.cfg.QRTokenTTL
	case unlock.MethodEmail:
		address, err = s.emailAddress(ctx, userID)
		if err != nil {
			return unlock.Ref{}, err
		}
		secret, err = unlock.GenerateCode(unlock.CodeLength)
		if err != nil {
			return unlock.Ref{}, err
		}
		ttl = s.cfg.EmailCodeTTL
	}

	c, err := unlock.NewChallenge(res.ID, method, secret, s.now(), ttl)
	if err != nil {
		return unlock.Ref{}, err
	}
	if err := unlock.IssueTx(ctx, tx, c); err != nil {
		return unlock.Ref{}, err
	}
	if err := tx.Commit(); err != nil {
		return unlock.Ref{}, err
	}

	if method == unlock.MethodEmail {
		if err := s.mailer.Send(ctx, address, secret); err != nil {
			s.logger.ErrorContext(ctx, "failed to send unlock code", "reservation_id", res.ID, "error", err)
			return unlock.Ref{}, err
		}
	}

	s.logger.InfoContext(ctx, "unlock challenge issued",
		"reservation_id", res.ID, "method", method, "expires_at", c.ExpiresAt)
	return c.Ref(), nil
}

// checkUnlockWindow allows unlocking from ImmediateWindow before the booked
// start until the booked end.
func (s *Service) checkUnlockWindow(res reservation.Reservation) error {
	now := s.now()
	if now.Before(res.StartTime.Add(-s.cfg.ImmediateWindow)) || !now.Before(res.EndTime) {
		return unlock.ErrOutsideWindow
	}
	return nil
}

func (s *Service) emailAddress(ctx context.Context, userID string) (string, error) {
	cust, err := s.customers.GetCustomerByAuth0ID(ctx, userID)
	if errors.Is(err, customer.ErrNotFound) {
		return "", unlock.ErrNoEmailAddress
	}
	if err != nil {
		return "", err
	}
	if !cust.Email.Valid || cust.Email.String == "" {
		return "", unlock.ErrNoEmailAddress
	}
	return cust.Email.String, nil
}

// VerifyUnlock checks payload against the reservation's newest challenge and,
// on a match, starts the ride. A wrong payload is recorded against the
// challenge and may be retried until it expires or runs out of attempts.
func (s *Service) VerifyUnlock(ctx context.Context, userID string, reservationID uuid.UUID, method unlock.Method, payload string) (_ reservation.Reservation, err error) {
	ctx, span := s.startSpan(ctx, "VerifyUnlock",
		attribute.String("reservation_id", reservationID.String()),
		attribute.String("method", string(method)))
	defer func() {
		s.metrics.unlocks.WithLabelValues(string(method), unlockOutcome(err)).Inc()
		endSpan(span, err)
	}()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return reservation.Reservation{}, err
	}
	defer tx.Rollback()

	res, err := lockOwned(ctx, tx, userID, reservationID)
	if err != nil {
		return reservation.Reservation{}, err
	}
	if err := reservation.CheckTransition(res.Status, reservation.StatusActive); err != nil {
		return reservation.Reservation{}, err
	}
	if err := s.checkUnlockWindow(res); err != nil {
		return reservation.Reservation{}, err
	}

	now := s.now()
	err = unlock.VerifyTx(ctx, tx, res.ID, method, payload, now)
	if errors.Is(err, unlock.ErrInvalidCode) {
		if cerr := tx.Commit(); cerr != nil {
			return reservation.Reservation{}, cerr
		}
		return reservation.Reservation{}, err
	}
	if err != nil {
		return reservation.Reservation{}, err
	}

	if err := reservation.ActivateTx(ctx, tx, &res, now); err != nil {
		return reservation.Reservation{}, err
	}
	if err := tx.Commit(); err != nil {
		return reservation.Reservation{}, err
	}

	s.logger.InfoContext(ctx, "ride started", "reservation_id", res.ID, "bike_id", res.BikeID, "method", method)
	s.publish(ctx, events.Event{Type: events.ReservationActivated, ReservationID: res.ID, Status: string(res.Status)})
	return res, nil
}

func unlockOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, unlock.ErrInvalidCode):
		return "invalid"
	case errors.Is(err, unlock.ErrExpiredChallenge):
		return "expired"
	}
	return "error"
}
