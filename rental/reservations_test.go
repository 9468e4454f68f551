package rental

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/semanticallynull/bikeshare-backend/bike"
	"github.com/semanticallynull/bikeshare-backend/reservation"
	"github.com/semanticallynull/bikeshare-backend/unlock"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 2, hour, minute, 0, 0, time.UTC)
}

func TestCreateReservation_OverlapScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bikeID, _ := f.createBike(t)

	free, err := f.svc.CheckAvailability(ctx, bikeID, at(10, 0), at(12, 0))
	if err != nil || !free {
		t.Fatalf("expected bike free 10:00-12:00, got %v %v", free, err)
	}

	r1 := f.reserve(t, bikeID, newUser(), at(10, 0), at(11, 0))
	if r1.Status != reservation.StatusUpcoming {
		t.Errorf("expected upcoming, got %s", r1.Status)
	}
	// 10:00 is an hour away, so the bike is not held yet.
	if got := f.bikeStatus(t, bikeID); got != string(bike.StatusAvailable) {
		t.Errorf("expected bike available, got %s", got)
	}

	user2 := newUser()
	_, err = f.svc.CreateReservation(ctx, CreateReservationRequest{
		BikeID: bikeID, UserID: user2, Start: at(10, 30), End: at(10, 45),
	})
	if !errors.Is(err, reservation.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	free, err = f.svc.CheckAvailability(ctx, bikeID, at(10, 30), at(10, 45))
	if err != nil || free {
		t.Errorf("expected 10:30-10:45 taken, got %v %v", free, err)
	}

	r2 := f.reserve(t, bikeID, user2, at(11, 0), at(12, 0))
	if !r2.StartTime.Equal(at(11, 0)) {
		t.Errorf("unexpected reservation %s", spew.Sdump(r2))
	}

	slots, err := f.svc.BikeSchedule(ctx, bikeID, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 2 || slots[0].ReservationID != r1.ID || slots[1].ReservationID != r2.ID {
		t.Errorf("unexpected schedule %s", spew.Sdump(slots))
	}
}

func TestCreateReservation_ConcurrentBookingsOneWinner(t *testing.T) {
	f := newFixture(t)
	bikeID, _ := f.createBike(t)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CreateReservation(context.Background(), CreateReservationRequest{
				BikeID: bikeID, UserID: newUser(), Start: at(13, 0), End: at(14, 0),
			})
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, reservation.ErrConflict):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Errorf("expected exactly one booking, got %d", won)
	}
}

func TestCreateReservation_ImmediateHoldsBike(t *testing.T) {
	f := newFixture(t)
	bikeID, _ := f.createBike(t)

	now := f.clock.Now()
	f.reserve(t, bikeID, newUser(), now.Add(5*time.Minute), now.Add(time.Hour))

	if got := f.bikeStatus(t, bikeID); got != string(bike.StatusReserved) {
		t.Errorf("expected bike reserved, got %s", got)
	}
}

func TestCreateReservation_OneOpenPerUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b1, _ := f.createBike(t)
	b2, _ := f.createBike(t)
	user := newUser()

	f.reserve(t, b1, user, at(10, 0), at(11, 0))
	_, err := f.svc.CreateReservation(ctx, CreateReservationRequest{
		BikeID: b2, UserID: user, Start: at(15, 0), End: at(16, 0),
	})
	if !errors.Is(err, reservation.ErrOpenReservationExists) {
		t.Errorf("expected ErrOpenReservationExists, got %v", err)
	}
}

func TestCreateReservation_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bikeID, _ := f.createBike(t)

	_, err := f.svc.CreateReservation(ctx, CreateReservationRequest{
		BikeID: bikeID, UserID: newUser(), Start: at(11, 0), End: at(11, 0),
	})
	if !errors.Is(err, reservation.ErrInvalidInterval) {
		t.Errorf("zero-length: expected ErrInvalidInterval, got %v", err)
	}

	_, err = f.svc.CreateReservation(ctx, CreateReservationRequest{
		BikeID: bikeID, UserID: newUser(), Start: at(7, 0), End: at(8, 0),
	})
	if !errors.Is(err, reservation.ErrInvalidInterval) {
		t.Errorf("past: expected ErrInvalidInterval, got %v", err)
	}

	if _, err := f.svc.SetBikeMaintenance(ctx, bikeID, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = f.svc.CreateReservation(ctx, CreateReservationRequest{
		BikeID: bikeID, UserID: newUser(), Start: at(10, 0), End: at(11, 0),
	})
	if !errors.Is(err, bike.ErrNotAvailable) {
		t.Errorf("maintenance: expected ErrNotAvailable, got %v", err)
	}
	free, err := f.svc.CheckAvailability(ctx, bikeID, at(10, 0), at(11, 0))
	if err != nil || free {
		t.Errorf("expected maintenance bike unavailable, got %v %v", free, err)
	}
}

func TestCancelReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bikeID, _ := f.createBike(t)
	user := newUser()
	now := f.clock.Now()
	res := f.reserve(t, bikeID, user, now, now.Add(time.Hour))

	if _, err := f.svc.CancelReservation(ctx, newUser(), res.ID); !errors.Is(err, reservation.ErrNotAuthorized) {
		t.Errorf("expected ErrNotAuthorized, got %v", err)
	}

	cancelled, err := f.svc.CancelReservation(ctx, user, res.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cancelled.Status != reservation.StatusCancelled || cancelled.Version != res.Version+1 {
		t.Errorf("unexpected reservation %s", spew.Sdump(cancelled))
	}
	if got := f.bikeStatus(t, bikeID); got != string(bike.StatusAvailable) {
		t.Errorf("expected bike released, got %s", got)
	}

	_, err = f.svc.CancelReservation(ctx, user, res.ID)
	if !errors.Is(err, reservation.ErrAlreadyCancelled) {
		t.Errorf("expected ErrAlreadyCancelled, got %v", err)
	}

	// The slot is free again.
	f.reserve(t, bikeID, newUser(), now, now.Add(time.Hour))
}

func TestBikeStatus_BackToBackBookingDuringRide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bikeID, label := f.createBike(t)
	now := f.clock.Now()

	rider := newUser()
	r1 := f.reserve(t, bikeID, rider, now, now.Add(10*time.Minute))
	f.unlockQR(t, rider, r1.ID, label)

	next := newUser()
	r2 := f.reserve(t, bikeID, next, now.Add(10*time.Minute), now.Add(time.Hour))
	if got := f.bikeStatus(t, bikeID); got != string(bike.StatusActive) {
		t.Errorf("booking during a ride: expected bike active, got %s", got)
	}

	if _, err := f.svc.IssueUnlockChallenge(ctx, next, r2.ID, unlock.MethodQR); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := f.svc.VerifyUnlock(ctx, next, r2.ID, unlock.MethodQR, label)
	if !errors.Is(err, bike.ErrNotAvailable) {
		t.Fatalf("unlock while ridden: expected ErrNotAvailable, got %v", err)
	}

	if _, err := f.svc.EndRide(ctx, rider, r1.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.bikeStatus(t, bikeID); got != string(bike.StatusReserved) {
		t.Errorf("after first ride: expected bike reserved for the next one, got %s", got)
	}

	if _, err := f.svc.VerifyUnlock(ctx, next, r2.ID, unlock.MethodQR, label); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.bikeStatus(t, bikeID); got != string(bike.StatusActive) {
		t.Errorf("expected bike active, got %s", got)
	}
}

func TestBikeStatus_CancelLaterBookingKeepsRideActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r1, _ := f.startRide(t)
	now := f.clock.Now()

	later := newUser()
	r3 := f.reserve(t, r1.BikeID, later, now.Add(3*time.Hour), now.Add(4*time.Hour))
	if _, err := f.svc.CancelReservation(ctx, later, r3.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.bikeStatus(t, r1.BikeID); got != string(bike.StatusActive) {
		t.Errorf("expected bike still active, got %s", got)
	}

	_, err := f.svc.SetBikeMaintenance(ctx, r1.BikeID, true)
	if !errors.Is(err, bike.ErrNotAvailable) {
		t.Errorf("maintenance during a ride: expected ErrNotAvailable, got %v", err)
	}
}

func TestBikeStatus_CancelHeldBookingReleasesBike(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bikeID, _ := f.createBike(t)
	now := f.clock.Now()
	user := newUser()

	res := f.reserve(t, bikeID, user, now.Add(5*time.Minute), now.Add(time.Hour))
	if _, err := f.svc.CancelReservation(ctx, user, res.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.bikeStatus(t, bikeID); got != string(bike.StatusAvailable) {
		t.Errorf("expected bike available, got %s", got)
	}
}
