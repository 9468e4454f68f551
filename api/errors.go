package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/semanticallynull/bikeshare-backend/bike"
	"github.com/semanticallynull/bikeshare-backend/internal/auth0"
	"github.com/semanticallynull/bikeshare-backend/internal/email"
	"github.com/semanticallynull/bikeshare-backend/internal/middleware"
	"github.com/semanticallynull/bikeshare-backend/loyalty"
	"github.com/semanticallynull/bikeshare-backend/payment"
	"github.com/semanticallynull/bikeshare-backend/reservation"
	"github.com/semanticallynull/bikeshare-backend/ride"
	"github.com/semanticallynull/bikeshare-backend/unlock"
)

type apiError struct {
	status  int
	code    string
	message string
}

// errorTable maps domain errors to responses. Order matters where errors
// wrap each other: the more specific sentinel comes first.
var errorTable = []struct {
	err error
	apiError
}{
	{bike.ErrNotFound, apiError{http.StatusNotFound, "BIKE_NOT_FOUND", "Bike not found"}},
	{bike.ErrNotAvailable, apiError{http.StatusConflict, "BIKE_NOT_AVAILABLE", "Bike is not available"}},
	{reservation.ErrNotFound, apiError{http.StatusNotFound, "RESERVATION_NOT_FOUND", "Reservation not found"}},
	{reservation.ErrNotAuthorized, apiError{http.StatusForbidden, "NOT_AUTHORIZED", "Not authorized to access this resource"}},
	{reservation.ErrInvalidInterval, apiError{http.StatusBadRequest, "INVALID_INTERVAL", ""}},
	{reservation.ErrConflict, apiError{http.StatusConflict, "BOOKING_OVERLAP", "Reservation overlaps with an existing reservation"}},
	{reservation.ErrOpenReservationExists, apiError{http.StatusConflict, "OPEN_RESERVATION_EXISTS", "You already have an upcoming or active reservation"}},
	{reservation.ErrAlreadyCancelled, apiError{http.StatusConflict, "ALREADY_CANCELLED", "Reservation already cancelled"}},
	{reservation.ErrAlreadyActive, apiError{http.StatusConflict, "ALREADY_ACTIVE", "Reservation already active"}},
	{reservation.ErrIllegalTransition, apiError{http.StatusConflict, "ILLEGAL_TRANSITION", ""}},
	{ride.ErrOutOfOrder, apiError{http.StatusBadRequest, "OUT_OF_ORDER", "Position report is older than the last one"}},
	{unlock.ErrExpiredChallenge, apiError{http.StatusGone, "CHALLENGE_EXPIRED", "Unlock challenge expired, request a new one"}},
	{unlock.ErrInvalidCode, apiError{http.StatusUnauthorized, "INVALID_CODE", "Unlock code does not match"}},
	{unlock.ErrChallengeNotFound, apiError{http.StatusNotFound, "CHALLENGE_NOT_FOUND", "No unlock challenge issued"}},
	{unlock.ErrOutsideWindow, apiError{http.StatusConflict, "OUTSIDE_UNLOCK_WINDOW", "Reservation cannot be unlocked at this time"}},
	{unlock.ErrUnsupportedMethod, apiError{http.StatusBadRequest, "UNSUPPORTED_METHOD", "Unsupported unlock method"}},
	{unlock.ErrNoEmailAddress, apiError{http.StatusPreconditionFailed, "NO_EMAIL_ADDRESS", "No verified email address on file"}},
	{auth0.ErrEmailNotVerified, apiError{http.StatusPreconditionFailed, "EMAIL_NOT_VERIFIED", "Email address not verified"}},
	{auth0.ErrUserInfoFailed, apiError{http.StatusBadGateway, "IDENTITY_PROVIDER_ERROR", "Could not reach identity provider"}},
	{email.ErrSendFailed, apiError{http.StatusBadGateway, "EMAIL_FAILED", "Could not send unlock code"}},
	{payment.ErrNotFound, apiError{http.StatusNotFound, "PAYMENT_NOT_FOUND", "Payment not found"}},
	{payment.ErrAmountMismatch, apiError{http.StatusUnprocessableEntity, "AMOUNT_MISMATCH", "Amount does not match the ride cost"}},
	{payment.ErrAlreadySettled, apiError{http.StatusConflict, "ALREADY_SETTLED", "Payment already settled"}},
	{payment.ErrPaymentInProgress, apiError{http.StatusConflict, "PAYMENT_IN_PROGRESS", "Another payment for this reservation is in progress"}},
	{payment.ErrMissingReference, apiError{http.StatusBadRequest, "MISSING_REFERENCE", "External reference required"}},
	{payment.ErrReferenceMismatch, apiError{http.StatusConflict, "REFERENCE_MISMATCH", "External reference does not match payment"}},
	{payment.ErrReferenceInUse, apiError{http.StatusConflict, "REFERENCE_IN_USE", "External reference already used by another payment"}},
	{payment.ErrOperatorOnly, apiError{http.StatusForbidden, "OPERATOR_CONFIRMATION_REQUIRED", "This payment is confirmed by an operator"}},
	{payment.ErrUnsupportedMethod, apiError{http.StatusBadRequest, "UNSUPPORTED_METHOD", "Unsupported payment method"}},
	{payment.ErrExternalService, apiError{http.StatusBadGateway, "EXTERNAL_SERVICE_ERROR", "Payment provider unavailable, retry confirmation later"}},
	{loyalty.ErrInsufficientPoints, apiError{http.StatusPaymentRequired, "INSUFFICIENT_POINTS", "Not enough loyalty points"}},
	{loyalty.ErrInvalidPoints, apiError{http.StatusBadRequest, "INVALID_POINTS", "Points must be positive"}},
}

// respondError writes the response for err. Unknown errors are logged and
// reported as 500 without detail.
func respondError(c *gin.Context, err error) {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			msg := e.message
			if msg == "" {
				msg = err.Error()
			}
			if e.status >= http.StatusInternalServerError {
				middleware.GetLogger(c).WarnContext(c, "upstream failure", "error", err)
			}
			c.JSON(e.status, gin.H{"code": e.code, "message": msg})
			return
		}
	}

	middleware.GetLogger(c).ErrorContext(c, "unhandled error", "error", err)
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": "internal error"})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": message})
}

func requireUser(c *gin.Context) (string, bool) {
	userID, ok := middleware.GetAuth0ID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "Authentication required"})
	}
	return userID, ok
}
