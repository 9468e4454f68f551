package rental

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/semanticallynull/bikeshare-backend/customer"
	"github.com/semanticallynull/bikeshare-backend/events"
	"github.com/semanticallynull/bikeshare-backend/internal/clock"
	"github.com/semanticallynull/bikeshare-backend/internal/email"
	"github.com/semanticallynull/bikeshare-backend/internal/migrate"
	"github.com/semanticallynull/bikeshare-backend/payment"
	"github.com/semanticallynull/bikeshare-backend/reservation"
	"github.com/semanticallynull/bikeshare-backend/unlock"
)

var testStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	db      *sqlx.DB
	svc     *Service
	clock   *clock.Fake
	mailer  *email.FakeSender
	gateway *payment.FakeGateway
	chain   *payment.FakeChain
	bus     *events.Bus
}

// newFixture connects to DATABASE_URL and builds a Service over fakes. Tests
// create their own bikes and users, so nothing is cleaned up between them.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set")
	}
	db, err := sqlx.Connect("pgx", dbURL)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := migrate.Apply(context.Background(), db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	f := &fixture{
		db:      db,
		clock:   clock.NewFake(testStart),
		mailer:  email.NewFakeSender(),
		gateway: payment.NewFakeGateway(),
		chain:   payment.NewFakeChain(),
		bus:     events.NewBus(),
	}

	cfg := DefaultConfig()
	cfg.CryptoPollInterval = time.Hour
	cfg.ChainCheckTimeout = time.Second

	f.svc = New(db, Deps{
		Gateway:    f.gateway,
		Chain:      f.chain,
		Mailer:     f.mailer,
		Clock:      f.clock,
		Events:     f.bus,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Registerer: prometheus.NewRegistry(),
	}, cfg)
	t.Cleanup(f.svc.Close)

	return f
}

func (f *fixture) createBike(t *testing.T) (uuid.UUID, string) {
	t.Helper()
	id := uuid.New()
	label := fmt.Sprintf("CARGO-%s", id.String()[:8])
	_, err := f.db.Exec(`INSERT INTO bikes (id, label, imei) VALUES ($1, $2, $3)`, id, label, "IMEI-"+label)
	if err != nil {
		t.Fatalf("failed to create test bike: %v", err)
	}
	return id, label
}

func (f *fixture) bikeStatus(t *testing.T, id uuid.UUID) string {
	t.Helper()
	var status string
	if err := f.db.Get(&status, `SELECT status FROM bikes WHERE id = $1`, id); err != nil {
		t.Fatalf("failed to read bike status: %v", err)
	}
	return status
}

func newUser() string {
	return "auth0|" + uuid.NewString()
}

func (f *fixture) createCustomer(t *testing.T, userID, address string) {
	t.Helper()
	cr := customer.NewRepository(f.db)
	if _, err := cr.EnsureCustomer(context.Background(), userID); err != nil {
		t.Fatalf("failed to create customer: %v", err)
	}
	if err := cr.UpdateProfile(context.Background(), userID, address, ""); err != nil {
		t.Fatalf("failed to set email: %v", err)
	}
}

func (f *fixture) reserve(t *testing.T, bikeID uuid.UUID, userID string, start, end time.Time) reservation.Reservation {
	t.Helper()
	res, err := f.svc.CreateReservation(context.Background(), CreateReservationRequest{
		BikeID: bikeID,
		UserID: userID,
		Start:  start,
		End:    end,
	})
	if err != nil {
		t.Fatalf("failed to create reservation: %v", err)
	}
	return res
}

// startRide books an immediate slot and unlocks it over QR.
func (f *fixture) startRide(t *testing.T) (reservation.Reservation, string) {
	t.Helper()
	bikeID, label := f.createBike(t)
	userID := newUser()
	now := f.clock.Now()
	res := f.reserve(t, bikeID, userID, now, now.Add(2*time.Hour))

	return f.unlockQR(t, userID, res.ID, label), userID
}

func (f *fixture) unlockQR(t *testing.T, userID string, reservationID uuid.UUID, label string) reservation.Reservation {
	t.Helper()
	ctx := context.Background()
	if _, err := f.svc.IssueUnlockChallenge(ctx, userID, reservationID, unlock.MethodQR); err != nil {
		t.Fatalf("failed to issue challenge: %v", err)
	}
	res, err := f.svc.VerifyUnlock(ctx, userID, reservationID, unlock.MethodQR, label)
	if err != nil {
		t.Fatalf("failed to unlock: %v", err)
	}
	return res
}
