package rental

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/semanticallynull/bikeshare-backend/bike"
	"github.com/semanticallynull/bikeshare-backend/events"
	"github.com/semanticallynull/bikeshare-backend/reservation"
	"github.com/semanticallynull/bikeshare-backend/ride"
)

// CheckAvailability reports whether bikeID is free over [start, end). A bike
// in maintenance is never available.
func (s *Service) CheckAvailability(ctx context.Context, bikeID uuid.UUID, start, end time.Time) (_ bool, err error) {
	ctx, span := s.startSpan(ctx, "CheckAvailability", attribute.String("bike_id", bikeID.String()))
	defer func() { endSpan(span, err) }()

	if err := (reservation.Interval{Start: start, End: end}).Validate(); err != nil {
		return false, err
	}
	b, err := s.bikes.GetBikeByID(ctx, bikeID.String())
	if err != nil {
		return false, err
	}
	if b.Status == bike.StatusMaintenance {
		return false, nil
	}
	return s.reservations.IsAvailable(ctx, bikeID, start, end)
}

type CreateReservationRequest struct {
	BikeID uuid.UUID
	UserID string
	Start  time.Time
	End    time.Time
	Pickup reservation.Location
}

// CreateReservation books a bike. A reservation starting within the
// immediate window holds the bike as reserved from now on; a later one leaves
// it available until it is unlocked.
func (s *Service) CreateReservation(ctx context.Context, req CreateReservationRequest) (_ reservation.Reservation, err error) {
	ctx, span := s.startSpan(ctx, "CreateReservation",
		attribute.String("bike_id", req.BikeID.String()),
		attribute.String("user_id", req.UserID))
	defer func() { endSpan(span, err) }()

	want := reservation.Interval{Start: req.Start, End: req.End}
	if err := want.Validate(); err != nil {
		return reservation.Reservation{}, err
	}
	now := s.now()
	if !req.End.After(now) {
		return reservation.Reservation{}, fmt.Errorf("%w: reservation ends in the past", reservation.ErrInvalidInterval)
	}

	res := &reservation.Reservation{
		ID:             uuid.New(),
		BikeID:         req.BikeID,
		UserID:         req.UserID,
		StartTime:      req.Start,
		EndTime:        req.End,
		PickupLocation: req.Pickup.Point(),
	}
	immediate := !req.Start.After(now.Add(s.cfg.ImmediateWindow))

	err = s.reservations.Create(ctx, res, immediate)
	switch {
	case errors.Is(err, reservation.ErrConflict):
		s.metrics.reservations.WithLabelValues("conflict").Inc()
		return reservation.Reservation{}, err
	case err != nil:
		s.metrics.reservations.WithLabelValues("rejected").Inc()
		return reservation.Reservation{}, err
	}
	s.metrics.reservations.WithLabelValues("created").Inc()

	s.logger.InfoContext(ctx, "reservation created",
		"reservation_id", res.ID, "bike_id", res.BikeID, "user_id", res.UserID, "immediate", immediate)
	s.publish(ctx, events.Event{Type: events.ReservationCreated, ReservationID: res.ID, Status: string(res.Status)})
	return *res, nil
}

// CancelReservation cancels an upcoming or active reservation, releases its
// bike and throws away any ride recorded so far. Nothing is charged.
func (s *Service) CancelReservation(ctx context.Context, userID string, reservationID uuid.UUID) (_ reservation.Reservation, err error) {
	ctx, span := s.startSpan(ctx, "CancelReservation", attribute.String("reservation_id", reservationID.String()))
	defer func() { endSpan(span, err) }()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return reservation.Reservation{}, err
	}
	defer tx.Rollback()

	res, err := lockOwned(ctx, tx, userID, reservationID)
	if err != nil {
		return reservation.Reservation{}, err
	}
	if err := reservation.CancelTx(ctx, tx, &res, s.now().Add(s.cfg.ImmediateWindow)); err != nil {
		return reservation.Reservation{}, err
	}
	if err := ride.DiscardTx(ctx, tx, res.ID); err != nil {
		return reservation.Reservation{}, err
	}
	if err := tx.Commit(); err != nil {
		return reservation.Reservation{}, err
	}

	s.logger.InfoContext(ctx, "reservation cancelled", "reservation_id", res.ID)
	s.publish(ctx, events.Event{Type: events.ReservationCancelled, ReservationID: res.ID, Status: string(res.Status)})
	return res, nil
}

// GetReservation returns a reservation owned by userID.
func (s *Service) GetReservation(ctx context.Context, userID string, reservationID uuid.UUID) (reservation.Reservation, error) {
	res, err := s.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return reservation.Reservation{}, err
	}
	if res.UserID != userID {
		return reservation.Reservation{}, reservation.ErrNotAuthorized
	}
	return res, nil
}

// CurrentReservation returns the user's upcoming or active reservation, or
// nil when there is none.
func (s *Service) CurrentReservation(ctx context.Context, userID string) (*reservation.Reservation, error) {
	return s.reservations.GetCurrentByUserID(ctx, userID)
}

func (s *Service) ListReservations(ctx context.Context, userID string, status *reservation.Status) ([]reservation.Reservation, error) {
	return s.reservations.GetByUserID(ctx, userID, status)
}

// BikeSchedule lists the booked slots of a bike intersecting [from, to).
func (s *Service) BikeSchedule(ctx context.Context, bikeID uuid.UUID, from, to *time.Time) ([]reservation.TimeSlot, error) {
	if _, err := s.bikes.GetBikeByID(ctx, bikeID.String()); err != nil {
		return nil, err
	}
	return s.reservations.GetSlotsForBike(ctx, bikeID, from, to)
}

// SetBikeMaintenance takes a bike out of service or puts it back.
func (s *Service) SetBikeMaintenance(ctx context.Context, bikeID uuid.UUID, maintenance bool) (_ bike.Bike, err error) {
	ctx, span := s.startSpan(ctx, "SetBikeMaintenance", attribute.String("bike_id", bikeID.String()))
	defer func() { endSpan(span, err) }()

	b, err := s.bikes.SetMaintenance(ctx, bikeID.String(), maintenance)
	if err != nil {
		return bike.Bike{}, err
	}
	s.logger.InfoContext(ctx, "bike maintenance changed", "bike_id", bikeID, "status", b.Status)
	return b, nil
}
