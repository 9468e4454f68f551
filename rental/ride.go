package rental

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/semanticallynull/bikeshare-backend/bike"
	"github.com/semanticallynull/bikeshare-backend/events"
	"github.com/semanticallynull/bikeshare-backend/reservation"
	"github.com/semanticallynull/bikeshare-backend/ride"
)

// RecordRideProgress adds a position report to an active ride and extends its
// running distance by the great-circle leg from the previous report. A zero
// timestamp means now.
func (s *Service) RecordRideProgress(ctx context.Context, userID string, reservationID uuid.UUID, loc reservation.Location, recordedAt time.Time) (_ reservation.Reservation, err error) {
	ctx, span := s.startSpan(ctx, "RecordRideProgress", attribute.String("reservation_id", reservationID.String()))
	defer func() { endSpan(span, err) }()

	if recordedAt.IsZero() {
		recordedAt = s.now()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return reservation.Reservation{}, err
	}
	defer tx.Rollback()

	res, err := lockOwned(ctx, tx, userID, reservationID)
	if err != nil {
		return reservation.Reservation{}, err
	}
	if res.Status != reservation.StatusActive {
		return reservation.Reservation{}, fmt.Errorf("%w: ride progress on %s reservation", reservation.ErrIllegalTransition, res.Status)
	}

	leg, err := ride.AppendPointTx(ctx, tx, ride.Point{
		ReservationID: res.ID,
		Lat:           loc.Lat,
		Lng:           loc.Lng,
		RecordedAt:    recordedAt,
	})
	if err != nil {
		return reservation.Reservation{}, err
	}
	if err := reservation.SetDistanceTx(ctx, tx, &res, res.DistanceKM+leg); err != nil {
		return reservation.Reservation{}, err
	}
	if err := bike.MoveTx(ctx, tx, res.BikeID.String(), loc.Point()); err != nil {
		return reservation.Reservation{}, err
	}
	if err := tx.Commit(); err != nil {
		return reservation.Reservation{}, err
	}

	s.publish(ctx, events.Event{
		Type:          events.RideProgress,
		ReservationID: res.ID,
		Status:        string(res.Status),
		DistanceKM:    ride.RoundKM(res.DistanceKM),
	})
	return res, nil
}

// EndRide freezes the distance and cost of an active ride, completes the
// reservation and releases the bike. The returned summary is what the
// payment has to match.
func (s *Service) EndRide(ctx context.Context, userID string, reservationID uuid.UUID) (_ ride.Summary, err error) {
	ctx, span := s.startSpan(ctx, "EndRide", attribute.String("reservation_id", reservationID.String()))
	defer func() { endSpan(span, err) }()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return ride.Summary{}, err
	}
	defer tx.Rollback()

	res, err := lockOwned(ctx, tx, userID, reservationID)
	if err != nil {
		return ride.Summary{}, err
	}
	if err := reservation.CheckTransition(res.Status, reservation.StatusCompleted); err != nil {
		return ride.Summary{}, err
	}

	now := s.now()
	var elapsed time.Duration
	if res.ActualStart.Valid {
		elapsed = now.Sub(res.ActualStart.Time)
	}
	distance := ride.RoundKM(res.DistanceKM)
	cost := s.cfg.Pricing.Cost(distance, elapsed)

	if err := reservation.CompleteTx(ctx, tx, &res, distance, cost, now, now.Add(s.cfg.ImmediateWindow)); err != nil {
		return ride.Summary{}, err
	}
	if err := tx.Commit(); err != nil {
		return ride.Summary{}, err
	}

	s.metrics.ridesCompleted.Inc()
	s.metrics.rideDistance.Observe(distance)
	s.logger.InfoContext(ctx, "ride ended",
		"reservation_id", res.ID, "distance_km", distance, "cost_cents", cost, "duration", elapsed)
	s.publish(ctx, events.Event{
		Type:          events.ReservationCompleted,
		ReservationID: res.ID,
		Status:        string(res.Status),
		DistanceKM:    distance,
	})

	return ride.Summary{DistanceKM: distance, CostCents: cost, Duration: elapsed}, nil
}

// RidePath returns the position reports of a reservation owned by userID.
func (s *Service) RidePath(ctx context.Context, userID string, reservationID uuid.UUID) ([]ride.Point, error) {
	if _, err := s.GetReservation(ctx, userID, reservationID); err != nil {
		return nil, err
	}
	return s.rides.Points(ctx, reservationID)
}
