package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v84"
	stripecustomer "github.com/stripe/stripe-go/v84/customer"
	"github.com/stripe/stripe-go/v84/setupintent"

	"github.com/semanticallynull/bikeshare-backend/internal/middleware"
)

// createSetupIntent lets the app save a card for later ride charges. The
// Stripe customer is created on first use.
func (a *API) createSetupIntent(c *gin.Context) {
	logger := middleware.GetLogger(c)

	userID, ok := requireUser(c)
	if !ok {
		return
	}

	cust, err := a.cr.EnsureCustomer(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	if !cust.StripeID.Valid {
		params := &stripe.CustomerParams{
			Metadata: map[string]string{
				"auth0_id": userID,
				"id":       cust.ID.String(),
			},
		}
		if cust.Email.Valid {
			params.Email = stripe.String(cust.Email.String)
		}
		params.Context = c.Request.Context()
		params.SetIdempotencyKey("customer-" + cust.ID.String())
		stripeCustomer, err := stripecustomer.New(params)
		if err != nil {
			logger.ErrorContext(c, "Failed to create stripe customer", "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"code": "EXTERNAL_SERVICE_ERROR", "message": "Could not create payment customer"})
			return
		}

		cust.StripeID.String = stripeCustomer.ID
		cust.StripeID.Valid = true

		if err := a.cr.AddStripeIDToCustomer(c.Request.Context(), userID, stripeCustomer.ID); err != nil {
			respondError(c, err)
			return
		}
	}

	siparams := &stripe.SetupIntentParams{
		Customer: stripe.String(cust.StripeID.String),
		AutomaticPaymentMethods: &stripe.SetupIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	siparams.Context = c.Request.Context()
	si, err := setupintent.New(siparams)
	if err != nil {
		logger.ErrorContext(c, "Failed to create setup intent", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"code": "EXTERNAL_SERVICE_ERROR", "message": "Could not create setup intent"})
		return
	}

	c.JSON(http.StatusOK, struct {
		CustomerID  string `json:"customerId"`
		SetupIntent string `json:"setupIntent"`
	}{
		CustomerID:  cust.StripeID.String,
		SetupIntent: si.ClientSecret,
	})
}
