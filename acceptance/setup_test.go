package acceptance

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/semanticallynull/bikeshare-backend/api"
	"github.com/semanticallynull/bikeshare-backend/bike"
	"github.com/semanticallynull/bikeshare-backend/customer"
	"github.com/semanticallynull/bikeshare-backend/events"
	"github.com/semanticallynull/bikeshare-backend/internal/auth0"
	"github.com/semanticallynull/bikeshare-backend/internal/clock"
	"github.com/semanticallynull/bikeshare-backend/internal/email"
	"github.com/semanticallynull/bikeshare-backend/internal/middleware"
	"github.com/semanticallynull/bikeshare-backend/internal/migrate"
	"github.com/semanticallynull/bikeshare-backend/internal/o11y"
	"github.com/semanticallynull/bikeshare-backend/payment"
	"github.com/semanticallynull/bikeshare-backend/rental"
)

var testStart = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

type TestServer struct {
	DB      *sqlx.DB
	Router  *gin.Engine
	Clock   *clock.Fake
	Mailer  *email.FakeSender
	Gateway *payment.FakeGateway
	Chain   *payment.FakeChain
	Auth0   *auth0.FakeClient
	Bus     *events.Bus

	svc *rental.Service
}

// NewTestServer builds the real router over a live database and fake
// collaborators. Tests create their own bikes and users instead of cleaning
// tables, so packages can share one database.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()

	gin.SetMode(gin.TestMode)

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set")
	}

	db, err := sqlx.Connect("pgx", dbURL)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}
	if err := migrate.Apply(context.Background(), db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	ts := &TestServer{
		DB:      db,
		Clock:   clock.NewFake(testStart),
		Mailer:  email.NewFakeSender(),
		Gateway: payment.NewFakeGateway(),
		Chain:   payment.NewFakeChain(),
		Auth0:   auth0.NewFakeClient(),
		Bus:     events.NewBus(),
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	obs := &o11y.Observability{Logger: logger, Registry: prometheus.NewRegistry()}

	cfg := rental.DefaultConfig()
	cfg.CryptoPollInterval = time.Hour
	cfg.ChainCheckTimeout = time.Second

	ts.svc = rental.New(db, rental.Deps{
		Gateway:    ts.Gateway,
		Chain:      ts.Chain,
		Mailer:     ts.Mailer,
		Clock:      ts.Clock,
		Events:     ts.Bus,
		Logger:     logger,
		Registerer: obs.Registry,
	}, cfg)

	a := api.New(ts.svc, bike.NewRepository(db), customer.NewRepository(db), ts.Auth0,
		events.NewHub(ts.Bus, logger), obs, fakeAuthMiddleware(), api.Config{
			AdminUsername: "admin",
			AdminPassword: "admin",
		})
	ts.Router = a.Router()

	return ts
}

func (ts *TestServer) Close() {
	ts.svc.Close()
	ts.DB.Close()
}

// fakeAuthMiddleware extracts user ID from X-User-ID header for testing
func fakeAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "Authentication required"})
			c.Abort()
			return
		}
		c.Set(middleware.Auth0IDKey, userID)
		c.Next()
	}
}

func asUser(userID string) map[string]string {
	return map[string]string{"X-User-ID": userID}
}

func newUser() string {
	return "auth0|" + uuid.NewString()
}

// Helper methods for making requests
func (ts *TestServer) GET(path string, headers map[string]string) *httptest.ResponseRecorder {
	return ts.do(http.MethodGet, path, nil, headers)
}

func (ts *TestServer) POST(path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	return ts.do(http.MethodPost, path, body, headers)
}

func (ts *TestServer) PUT(path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	return ts.do(http.MethodPut, path, body, headers)
}

func (ts *TestServer) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.Router.ServeHTTP(w, req)
	return w
}

// CreateTestBike inserts an available bike with a unique label.
func (ts *TestServer) CreateTestBike(t *testing.T) (string, string) {
	t.Helper()
	id := uuid.NewString()
	label := fmt.Sprintf("CARGO-%s", id[:8])
	_, err := ts.DB.Exec(`
		INSERT INTO bikes (id, label, imei, location)
		VALUES ($1, $2, $3, point(53.3498, -6.2603))
	`, id, label, "IMEI-"+label)
	if err != nil {
		t.Fatalf("failed to create test bike: %v", err)
	}
	return id, label
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to unmarshal response: %v\n%s", err, spew.Sdump(w.Body.String()))
	}
	return v
}
