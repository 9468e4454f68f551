// Package rental composes bikes, reservations, unlock challenges, rides,
// payments and loyalty into the operations a renter goes through: book,
// unlock, ride, return, pay. Every state change that spans more than one
// table happens in a single database transaction.
package rental

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/semanticallynull/bikeshare-backend/bike"
	"github.com/semanticallynull/bikeshare-backend/customer"
	"github.com/semanticallynull/bikeshare-backend/events"
	"github.com/semanticallynull/bikeshare-backend/internal/clock"
	"github.com/semanticallynull/bikeshare-backend/internal/email"
	"github.com/semanticallynull/bikeshare-backend/loyalty"
	"github.com/semanticallynull/bikeshare-backend/payment"
	"github.com/semanticallynull/bikeshare-backend/reservation"
	"github.com/semanticallynull/bikeshare-backend/ride"
)

type Config struct {
	Pricing  ride.Pricing
	Currency string

	EmailCodeTTL time.Duration
	QRTokenTTL   time.Duration

	// ImmediateWindow is how close to now a reservation has to start for its
	// bike to be held as reserved straight away.
	ImmediateWindow time.Duration

	// ChainCheckTimeout bounds the synchronous receipt lookup done while a
	// confirm call is in flight. Anything slower is left to the watcher.
	ChainCheckTimeout    time.Duration
	CryptoPollInterval   time.Duration
	CryptoConfirmTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Pricing:              ride.DefaultPricing(),
		Currency:             "eur",
		EmailCodeTTL:         5 * time.Minute,
		QRTokenTTL:           5 * time.Minute,
		ImmediateWindow:      15 * time.Minute,
		ChainCheckTimeout:    5 * time.Second,
		CryptoPollInterval:   5 * time.Second,
		CryptoConfirmTimeout: 10 * time.Minute,
	}
}

// Deps are the external collaborators of the service. A nil Gateway, Chain or
// Mailer disables the card, crypto or email rail respectively.
type Deps struct {
	Gateway    payment.Gateway
	Chain      payment.ChainRPC
	Mailer     email.Sender
	Clock      clock.Clock
	Events     events.Publisher
	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

type Service struct {
	db  *sqlx.DB
	cfg Config

	bikes        *bike.Repository
	reservations *reservation.Repository
	rides        *ride.Repository
	payments     *payment.Repository
	loyalty      *loyalty.Repository
	customers    *customer.Repository

	gateway payment.Gateway
	chain   payment.ChainRPC
	mailer  email.Sender
	clock   clock.Clock
	events  events.Publisher
	watcher *payment.Watcher

	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *metrics
}

func New(db *sqlx.DB, deps Deps, cfg Config) *Service {
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Events == nil {
		deps.Events = events.Discard{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Registerer == nil {
		deps.Registerer = prometheus.NewRegistry()
	}

	s := &Service{
		db:           db,
		cfg:          cfg,
		bikes:        bike.NewRepository(db),
		reservations: reservation.NewRepository(db),
		rides:        ride.NewRepository(db),
		payments:     payment.NewRepository(db),
		loyalty:      loyalty.NewRepository(db),
		customers:    customer.NewRepository(db),
		gateway:      deps.Gateway,
		chain:        deps.Chain,
		mailer:       deps.Mailer,
		clock:        deps.Clock,
		events:       deps.Events,
		logger:       deps.Logger.With(slog.String("component", "rental")),
		tracer:       otel.Tracer("rental"),
		metrics:      newMetrics(deps.Registerer),
	}
	if s.chain != nil {
		s.watcher = payment.NewWatcher(s.chain, s.settleFromChain, s.logger,
			cfg.CryptoPollInterval, cfg.CryptoConfirmTimeout)
	}
	return s
}

// Close stops background chain watches. Payments being watched stay pending.
func (s *Service) Close() {
	if s.watcher != nil {
		s.watcher.Close()
	}
}

// Currency is the ISO code rides are priced and charged in.
func (s *Service) Currency() string {
	return s.cfg.Currency
}

func (s *Service) now() time.Time {
	return s.clock.Now()
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "rental."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if e.At.IsZero() {
		e.At = s.now()
	}
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "failed to publish event", "type", e.Type, "error", err)
	}
}
