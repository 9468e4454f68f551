package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/semanticallynull/bikeshare-backend/bike"
	"github.com/semanticallynull/bikeshare-backend/customer"
	"github.com/semanticallynull/bikeshare-backend/events"
	"github.com/semanticallynull/bikeshare-backend/internal/auth0"
	"github.com/semanticallynull/bikeshare-backend/internal/middleware"
	"github.com/semanticallynull/bikeshare-backend/internal/o11y"
	"github.com/semanticallynull/bikeshare-backend/rental"
)

type Config struct {
	MetricsUsername string
	MetricsPassword string
	AdminUsername   string
	AdminPassword   string
	// StripeEnabled turns on the customer payment-method endpoints.
	StripeEnabled bool
}

type API struct {
	r      *gin.Engine
	svc    *rental.Service
	br     *bike.Repository
	cr     *customer.Repository
	auth0  auth0.Client
	hub    *events.Hub
	logger *slog.Logger
	cfg    Config
}

// New wires the HTTP routes. auth authenticates every protected route and
// must leave the caller's subject where middleware.GetAuth0ID finds it.
func New(svc *rental.Service, br *bike.Repository, cr *customer.Repository, authClient auth0.Client, hub *events.Hub, obs *o11y.Observability, auth gin.HandlerFunc, cfg Config) *API {
	a := &API{
		r:      gin.New(),
		svc:    svc,
		br:     br,
		cr:     cr,
		auth0:  authClient,
		hub:    hub,
		logger: obs.Logger,
		cfg:    cfg,
	}

	a.r.Use(gin.Recovery(), middleware.Tracing(), middleware.Logging(obs.Logger), middleware.Metrics(obs.Registry))

	a.r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if cfg.MetricsUsername != "" {
		metrics := promhttp.HandlerFor(obs.Registry, promhttp.HandlerOpts{})
		a.r.GET("/metrics", gin.BasicAuth(gin.Accounts{cfg.MetricsUsername: cfg.MetricsPassword}), gin.WrapH(metrics))
	}

	a.r.GET("/bikes", a.bikesHandler)
	a.r.GET("/bikes/:id", a.bikeHandler)
	a.r.GET("/bikes/:id/availability", a.availabilityHandler)
	a.r.GET("/bikes/:id/schedule", a.scheduleHandler)

	if cfg.AdminUsername != "" {
		admin := a.r.Group("/admin", gin.BasicAuth(gin.Accounts{cfg.AdminUsername: cfg.AdminPassword}))
		admin.PUT("/bikes/:id/maintenance", a.maintenanceHandler)
		admin.POST("/payments/:id/confirm", a.confirmQRPaymentHandler)
	}

	protected := a.r.Group("/", auth)
	{
		protected.GET("/reservations", a.listReservationsHandler)
		protected.POST("/reservations", a.createReservationHandler)
		protected.GET("/reservations/current", a.currentReservationHandler)
		protected.GET("/reservations/:id", a.getReservationHandler)
		protected.POST("/reservations/:id/cancel", a.cancelReservationHandler)
		protected.GET("/reservations/:id/events", a.reservationEventsHandler)

		protected.POST("/reservations/:id/unlock-challenge", a.issueUnlockChallengeHandler)
		protected.POST("/reservations/:id/unlock", a.verifyUnlockHandler)

		protected.POST("/reservations/:id/progress", a.rideProgressHandler)
		protected.POST("/reservations/:id/end", a.endRideHandler)
		protected.GET("/reservations/:id/path", a.ridePathHandler)

		protected.POST("/reservations/:id/payments", a.startPaymentHandler)
		protected.GET("/payments/:id", a.getPaymentHandler)
		protected.POST("/payments/:id/confirm", a.confirmPaymentHandler)

		protected.GET("/loyalty", a.loyaltyHandler)
		protected.POST("/loyalty/redeem", a.redeemHandler)

		protected.POST("/customer/email", a.syncEmailHandler)
		if cfg.StripeEnabled {
			protected.POST("/customer/setup-intent", a.createSetupIntent)
		}
	}

	return a
}

func (a *API) Router() *gin.Engine {
	return a.r
}
