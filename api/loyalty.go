package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (a *API) loyaltyHandler(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	acct, err := a.svc.LoyaltyAccount(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

type redeemRequest struct {
	Points int64  `json:"points" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

func (a *API) redeemHandler(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	acct, err := a.svc.RedeemLoyalty(c.Request.Context(), userID, req.Points, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}
