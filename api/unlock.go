package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/semanticallynull/bikeshare-backend/customer"
	"github.com/semanticallynull/bikeshare-backend/internal/auth0"
	"github.com/semanticallynull/bikeshare-backend/internal/middleware"
	"github.com/semanticallynull/bikeshare-backend/unlock"
)

type issueChallengeRequest struct {
	Method unlock.Method `json:"method" binding:"required"`
}

func (a *API) issueUnlockChallengeHandler(c *gin.Context) {
	userID, reservationID, ok := reservationParams(c)
	if !ok {
		return
	}

	var req issueChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	ref, err := a.svc.IssueUnlockChallenge(c.Request.Context(), userID, reservationID, req.Method)
	if errors.Is(err, unlock.ErrNoEmailAddress) {
		// First email unlock: pull the verified address from Auth0 and retry.
		if _, syncErr := a.syncEmail(c, userID); syncErr != nil {
			respondError(c, syncErr)
			return
		}
		ref, err = a.svc.IssueUnlockChallenge(c.Request.Context(), userID, reservationID, req.Method)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, ref)
}

type verifyUnlockRequest struct {
	Method  unlock.Method `json:"method" binding:"required"`
	Payload string        `json:"payload" binding:"required"`
}

func (a *API) verifyUnlockHandler(c *gin.Context) {
	userID, reservationID, ok := reservationParams(c)
	if !ok {
		return
	}

	var req verifyUnlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	res, err := a.svc.VerifyUnlock(c.Request.Context(), userID, reservationID, req.Method, req.Payload)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toReservationResponse(res))
}

// syncEmail copies the caller's verified Auth0 email onto their customer record.
func (a *API) syncEmail(c *gin.Context, userID string) (string, error) {
	if a.auth0 == nil {
		return "", unlock.ErrNoEmailAddress
	}
	address, info, err := auth0.VerifiedEmail(c.Request.Context(), a.auth0, middleware.GetAccessToken(c))
	if err != nil {
		return "", err
	}
	if _, err := a.cr.EnsureCustomer(c.Request.Context(), userID); err != nil {
		return "", err
	}
	if err := a.cr.UpdateProfile(c.Request.Context(), userID, address, info.Name); err != nil {
		return "", err
	}
	middleware.GetLogger(c).InfoContext(c, "customer email synced from identity provider")
	return address, nil
}

func (a *API) syncEmailHandler(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	address, err := a.syncEmail(c, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	cust, err := a.cr.GetCustomerByAuth0ID(c.Request.Context(), userID)
	if err != nil && !errors.Is(err, customer.ErrNotFound) {
		respondError(c, err)
		return
	}
	resp := gin.H{"email": address}
	if cust != nil {
		resp["customerId"] = cust.ID
	}
	c.JSON(http.StatusOK, resp)
}
