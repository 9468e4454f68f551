package acceptance

import (
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/semanticallynull/bikeshare-backend/internal/auth0"
)

type rideSummaryResponse struct {
	DistanceKM      float64 `json:"distance"`
	Cost            int64   `json:"cost"`
	Currency        string  `json:"currency"`
	DurationSeconds int64   `json:"durationSeconds"`
}

type paymentResponse struct {
	ID          string `json:"id"`
	Method      string `json:"method"`
	Amount      int64  `json:"amount"`
	Status      string `json:"status"`
	ExternalRef string `json:"externalRef"`
}

type loyaltyResponse struct {
	PointsBalance int64 `json:"pointsBalance"`
	Entries       []struct {
		Delta  int64  `json:"delta"`
		Reason string `json:"reason"`
	} `json:"entries"`
}

// unlockWithEmail runs the email unlock flow, pulling the address from the
// identity provider on first use.
func (ts *TestServer) unlockWithEmail(t *testing.T, resID, userID string) {
	t.Helper()

	token := "token-" + userID
	ts.Auth0.AddUser(token, &auth0.UserInfo{Sub: userID, Email: "rider@example.com", EmailVerified: true})
	headers := asUser(userID)
	headers["Authorization"] = "Bearer " + token

	w := ts.POST("/reservations/"+resID+"/unlock-challenge", map[string]string{"method": "email"}, headers)
	expectStatus(t, w, http.StatusCreated)

	msg, ok := ts.Mailer.Last()
	if !ok {
		t.Fatal("expected an unlock code to be sent")
	}
	if msg.Address != "rider@example.com" {
		t.Errorf("expected code sent to rider@example.com, got %s", msg.Address)
	}

	w = ts.POST("/reservations/"+resID+"/unlock", map[string]string{"method": "email", "payload": msg.Code}, headers)
	expectStatus(t, w, http.StatusOK)
	if got := decode[reservationResponse](t, w); got.Status != "active" {
		t.Fatalf("expected active after unlock, got %s", got.Status)
	}
}

func TestRide_FullLifecycle(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	userID := newUser()
	bikeID, _ := ts.CreateTestBike(t)
	res := ts.reserve(t, bikeID, userID, testStart, testStart.Add(2*time.Hour))

	ts.unlockWithEmail(t, res.ID, userID)

	// Roughly 11.1 km due north.
	for i, lat := range []float64{53.30, 53.35, 53.40} {
		w := ts.POST("/reservations/"+res.ID+"/progress", map[string]any{
			"latitude":   lat,
			"longitude":  -6.26,
			"recordedAt": testStart.Add(time.Duration(i) * time.Minute),
		}, asUser(userID))
		expectStatus(t, w, http.StatusOK)
	}

	w := ts.POST("/reservations/"+res.ID+"/progress", map[string]any{
		"latitude":   53.41,
		"longitude":  -6.26,
		"recordedAt": testStart.Add(-time.Minute),
	}, asUser(userID))
	expectStatus(t, w, http.StatusBadRequest)

	ts.Clock.Advance(40 * time.Minute)

	w = ts.POST("/reservations/"+res.ID+"/end", nil, asUser(userID))
	expectStatus(t, w, http.StatusOK)
	summary := decode[rideSummaryResponse](t, w)

	if summary.DistanceKM < 11 || summary.DistanceKM > 11.2 {
		t.Errorf("expected about 11.1 km, got %v", summary.DistanceKM)
	}
	if summary.DurationSeconds != 2400 {
		t.Errorf("expected 2400 s, got %d", summary.DurationSeconds)
	}
	if summary.Cost <= 0 || summary.Currency != "eur" {
		t.Errorf("unexpected cost %d %s", summary.Cost, summary.Currency)
	}

	w = ts.POST("/reservations/"+res.ID+"/end", nil, asUser(userID))
	expectStatus(t, w, http.StatusConflict)

	w = ts.GET("/reservations/"+res.ID, asUser(userID))
	expectStatus(t, w, http.StatusOK)
	final := decode[reservationResponse](t, w)
	if final.Status != "completed" || final.Cost == nil || *final.Cost != summary.Cost {
		t.Errorf("expected completed reservation with frozen cost, got %+v", final)
	}

	w = ts.POST("/reservations/"+res.ID+"/payments", map[string]any{"method": "qr", "amount": summary.Cost + 1}, asUser(userID))
	expectStatus(t, w, http.StatusUnprocessableEntity)

	w = ts.POST("/reservations/"+res.ID+"/payments", map[string]any{"method": "qr", "amount": summary.Cost}, asUser(userID))
	expectStatus(t, w, http.StatusCreated)
	p := decode[paymentResponse](t, w)
	if p.Status != "pending" {
		t.Fatalf("expected pending payment, got %s", p.Status)
	}

	// QR payments are marked paid by an operator, never by the payer.
	w = ts.POST("/payments/"+p.ID+"/confirm", map[string]any{"success": true}, asUser(userID))
	expectStatus(t, w, http.StatusForbidden)
	expectStatus(t, ts.POST("/admin/payments/"+p.ID+"/confirm", map[string]any{"success": true}, asUser(userID)), http.StatusUnauthorized)

	admin := map[string]string{"Authorization": "Basic YWRtaW46YWRtaW4="}
	w = ts.POST("/admin/payments/"+p.ID+"/confirm", map[string]any{"success": true}, admin)
	expectStatus(t, w, http.StatusOK)
	if got := decode[paymentResponse](t, w); got.Status != "completed" {
		t.Errorf("expected completed payment, got %s", got.Status)
	}

	// Repeating the same outcome is a no-op, contradicting it is not.
	expectStatus(t, ts.POST("/admin/payments/"+p.ID+"/confirm", map[string]any{"success": true}, admin), http.StatusOK)
	expectStatus(t, ts.POST("/payments/"+p.ID+"/confirm", map[string]any{"success": false}, asUser(userID)), http.StatusConflict)

	w = ts.GET("/loyalty", asUser(userID))
	expectStatus(t, w, http.StatusOK)
	acct := decode[loyaltyResponse](t, w)
	if want := int64(math.Floor(summary.DistanceKM)); acct.PointsBalance != want {
		t.Errorf("expected %d points, got %d", want, acct.PointsBalance)
	}
	if len(acct.Entries) != 1 || acct.Entries[0].Reason != "ride" {
		t.Errorf("expected a single ride entry, got %+v", acct.Entries)
	}

	w = ts.POST("/loyalty/redeem", map[string]any{"points": acct.PointsBalance + 1, "reason": "free ride"}, asUser(userID))
	expectStatus(t, w, http.StatusPaymentRequired)

	w = ts.POST("/loyalty/redeem", map[string]any{"points": 5, "reason": "free ride"}, asUser(userID))
	expectStatus(t, w, http.StatusOK)
	if got := decode[loyaltyResponse](t, w); got.PointsBalance != acct.PointsBalance-5 {
		t.Errorf("expected %d points after redeem, got %d", acct.PointsBalance-5, got.PointsBalance)
	}

	w = ts.GET("/reservations/"+res.ID+"/path", asUser(userID))
	expectStatus(t, w, http.StatusOK)
	path := decode[struct {
		Points []struct{} `json:"points"`
	}](t, w)
	if len(path.Points) != 3 {
		t.Errorf("expected 3 recorded points, got %d", len(path.Points))
	}
}

func TestUnlock_ExpiredCode(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	userID := newUser()
	bikeID, label := ts.CreateTestBike(t)
	res := ts.reserve(t, bikeID, userID, testStart, testStart.Add(time.Hour))

	w := ts.POST("/reservations/"+res.ID+"/unlock-challenge", map[string]string{"method": "qr"}, asUser(userID))
	expectStatus(t, w, http.StatusCreated)

	ts.Clock.Advance(6 * time.Minute)

	w = ts.POST("/reservations/"+res.ID+"/unlock", map[string]string{"method": "qr", "payload": label}, asUser(userID))
	expectStatus(t, w, http.StatusGone)
}

func TestUnlock_WithoutVerifiedEmail(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	userID := newUser()
	bikeID, _ := ts.CreateTestBike(t)
	res := ts.reserve(t, bikeID, userID, testStart, testStart.Add(time.Hour))

	ts.Auth0.AddUser("unverified", &auth0.UserInfo{Sub: userID, Email: "rider@example.com"})
	headers := asUser(userID)
	headers["Authorization"] = "Bearer unverified"

	w := ts.POST("/reservations/"+res.ID+"/unlock-challenge", map[string]string{"method": "email"}, headers)
	expectStatus(t, w, http.StatusPreconditionFailed)
}

func TestEndRide_RequiresActiveReservation(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	userID := newUser()
	bikeID, _ := ts.CreateTestBike(t)
	res := ts.reserve(t, bikeID, userID, testStart.Add(time.Hour), testStart.Add(2*time.Hour))

	w := ts.POST("/reservations/"+res.ID+"/end", nil, asUser(userID))
	expectStatus(t, w, http.StatusConflict)

	w = ts.GET("/reservations/"+res.ID, asUser(userID))
	if got := decode[reservationResponse](t, w); got.Status != "upcoming" {
		t.Errorf("expected reservation untouched, got %s", got.Status)
	}
}

func TestCryptoPayment_PendingUntilConfirmed(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	userID := newUser()
	bikeID, label := ts.CreateTestBike(t)
	res := ts.reserve(t, bikeID, userID, testStart, testStart.Add(time.Hour))

	expectStatus(t, ts.POST("/reservations/"+res.ID+"/unlock-challenge", map[string]string{"method": "qr"}, asUser(userID)), http.StatusCreated)
	expectStatus(t, ts.POST("/reservations/"+res.ID+"/unlock", map[string]string{"method": "qr", "payload": label}, asUser(userID)), http.StatusOK)

	w := ts.POST("/reservations/"+res.ID+"/end", nil, asUser(userID))
	expectStatus(t, w, http.StatusOK)
	summary := decode[rideSummaryResponse](t, w)

	w = ts.POST("/reservations/"+res.ID+"/payments", map[string]any{"method": "crypto", "amount": summary.Cost}, asUser(userID))
	expectStatus(t, w, http.StatusCreated)
	p := decode[paymentResponse](t, w)

	txHash := "0x" + res.ID[:8]
	w = ts.POST("/payments/"+p.ID+"/confirm", map[string]any{"success": true, "externalRef": txHash}, asUser(userID))
	expectStatus(t, w, http.StatusAccepted)
	if got := decode[paymentResponse](t, w); got.Status != "pending" || got.ExternalRef != txHash {
		t.Errorf("expected pending payment with tx hash, got %+v", got)
	}

	ts.Chain.Confirm(txHash, 100)

	w = ts.POST("/payments/"+p.ID+"/confirm", map[string]any{"success": true}, asUser(userID))
	expectStatus(t, w, http.StatusOK)
	if got := decode[paymentResponse](t, w); got.Status != "completed" {
		t.Errorf("expected completed payment, got %s", got.Status)
	}

	expectStatus(t, ts.GET("/payments/"+p.ID, asUser(newUser())), http.StatusForbidden)
}
