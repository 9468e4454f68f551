package payment

import (
	"context"

	"github.com/google/uuid"
)

type ChargeStatus string

const (
	ChargePending   ChargeStatus = "pending"
	ChargeSucceeded ChargeStatus = "succeeded"
	ChargeFailed    ChargeStatus = "failed"
)

// ChargeRequest describes a card charge for one payment.
type ChargeRequest struct {
	PaymentID   uuid.UUID
	AmountCents int64
	Currency    string
	// CustomerRef is the gateway's identifier for the paying customer.
	CustomerRef string
	Description string
}

// Gateway is the card payment collaborator. CreateCharge only opens the
// charge; CollectCharge takes the money and must be safe to repeat.
// CancelCharge stops a charge that has not been collected, after which
// ChargeStatus reports ChargeFailed.
type Gateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (externalRef string, err error)
	CollectCharge(ctx context.Context, externalRef string, req ChargeRequest) error
	ChargeStatus(ctx context.Context, externalRef string) (ChargeStatus, error)
	CancelCharge(ctx context.Context, externalRef string) error
}
