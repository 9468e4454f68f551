package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/semanticallynull/bikeshare-backend/internal/middleware"
	"github.com/semanticallynull/bikeshare-backend/payment"
)

type paymentResponse struct {
	ID            uuid.UUID      `json:"id"`
	ReservationID uuid.UUID      `json:"reservationId"`
	Method        payment.Method `json:"method"`
	Amount        int64          `json:"amount"`
	Currency      string         `json:"currency"`
	Status        payment.Status `json:"status"`
	ExternalRef   string         `json:"externalRef,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	SettledAt     *time.Time     `json:"settledAt,omitempty"`
}

func toPaymentResponse(p payment.Payment) paymentResponse {
	resp := paymentResponse{
		ID:            p.ID,
		ReservationID: p.ReservationID,
		Method:        p.Method,
		Amount:        p.AmountCents,
		Currency:      p.Currency,
		Status:        p.Status,
		ExternalRef:   p.ExternalRef.String,
		CreatedAt:     p.CreatedAt,
	}
	if p.SettledAt.Valid {
		resp.SettledAt = &p.SettledAt.Time
	}
	return resp
}

type startPaymentRequest struct {
	Method payment.Method `json:"method" binding:"required"`
	Amount int64          `json:"amount" binding:"required"`
}

func (a *API) startPaymentHandler(c *gin.Context) {
	userID, reservationID, ok := reservationParams(c)
	if !ok {
		return
	}

	var req startPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	p, err := a.svc.StartPayment(c.Request.Context(), userID, reservationID, req.Method, req.Amount)
	if err != nil {
		respondPayment(c, p, err)
		return
	}
	c.JSON(http.StatusCreated, toPaymentResponse(p))
}

type confirmPaymentRequest struct {
	Success     *bool  `json:"success" binding:"required"`
	ExternalRef string `json:"externalRef"`
}

func (a *API) confirmPaymentHandler(c *gin.Context) {
	userID, paymentID, ok := paymentParams(c)
	if !ok {
		return
	}

	var req confirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	p, err := a.svc.ConfirmPayment(c.Request.Context(), userID, paymentID, *req.Success, req.ExternalRef)
	if err != nil {
		respondPayment(c, p, err)
		return
	}
	c.JSON(http.StatusOK, toPaymentResponse(p))
}

type operatorConfirmRequest struct {
	Success *bool `json:"success" binding:"required"`
}

// confirmQRPaymentHandler is the operator's side of a QR payment.
func (a *API) confirmQRPaymentHandler(c *gin.Context) {
	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "Invalid payment id")
		return
	}

	var req operatorConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	p, err := a.svc.ConfirmQRPayment(c.Request.Context(), paymentID, *req.Success)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPaymentResponse(p))
}

func (a *API) getPaymentHandler(c *gin.Context) {
	userID, paymentID, ok := paymentParams(c)
	if !ok {
		return
	}

	p, err := a.svc.GetPayment(c.Request.Context(), userID, paymentID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPaymentResponse(p))
}

// respondPayment reports a payment that is still pending with its current
// state, so the client can poll it. Everything else goes through respondError.
func respondPayment(c *gin.Context, p payment.Payment, err error) {
	switch {
	case p.ID == uuid.Nil:
		respondError(c, err)
	case errors.Is(err, payment.ErrConfirmationPending):
		c.JSON(http.StatusAccepted, toPaymentResponse(p))
	case errors.Is(err, payment.ErrExternalService):
		middleware.GetLogger(c).WarnContext(c, "payment provider unavailable", "payment_id", p.ID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"code":    "EXTERNAL_SERVICE_ERROR",
			"message": "Payment provider unavailable, retry confirmation later",
			"payment": toPaymentResponse(p),
		})
	default:
		respondError(c, err)
	}
}

func paymentParams(c *gin.Context) (string, uuid.UUID, bool) {
	userID, ok := requireUser(c)
	if !ok {
		return "", uuid.Nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "Invalid payment id")
		return "", uuid.Nil, false
	}
	return userID, id, true
}
