package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestGetAuth0ID(t *testing.T) {
	r := gin.New()
	r.GET("/anon", func(c *gin.Context) {
		_, ok := GetAuth0ID(c)
		c.JSON(http.StatusOK, gin.H{"ok": ok})
	})
	r.GET("/me", func(c *gin.Context) {
		c.Set(Auth0IDKey, "auth0|abc")
		id, ok := GetAuth0ID(c)
		c.JSON(http.StatusOK, gin.H{"ok": ok, "id": id})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/anon", nil))
	if !strings.Contains(w.Body.String(), `"ok":false`) {
		t.Errorf("expected anonymous request, got %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	if !strings.Contains(w.Body.String(), `"id":"auth0|abc"`) {
		t.Errorf("expected subject, got %s", w.Body.String())
	}
}

func TestGetAccessToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		url    string
		want   string
	}{
		{"header", "Bearer tok-1", "/", "tok-1"},
		{"lowercase scheme", "bearer tok-2", "/", "tok-2"},
		{"query", "", "/?access_token=tok-3", "tok-3"},
		{"none", "", "/", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}
			if got := GetAccessToken(c); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoggingAndMetrics(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	reg := prometheus.NewRegistry()

	r := gin.New()
	r.Use(Tracing(), Logging(logger), Metrics(reg))
	r.GET("/bikes/:id", func(c *gin.Context) {
		GetLogger(c).Info("handling")
		c.JSON(http.StatusNotFound, gin.H{"code": "BIKE_NOT_FOUND"})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bikes/123", nil))

	if !strings.Contains(buf.String(), `"msg":"request completed"`) || !strings.Contains(buf.String(), `"status":404`) {
		t.Errorf("expected completion log, got %s", buf.String())
	}
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/bikes/:id", "404")); got != 1 {
		t.Errorf("expected 1 request counted, got %v", got)
	}
	if got := testutil.ToFloat64(httpRequestErrorsTotal.WithLabelValues("GET", "/bikes/:id", "404", "client")); got != 1 {
		t.Errorf("expected 1 client error counted, got %v", got)
	}
}
