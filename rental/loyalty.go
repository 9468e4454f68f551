package rental

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/semanticallynull/bikeshare-backend/loyalty"
)

func (s *Service) LoyaltyAccount(ctx context.Context, userID string) (loyalty.Account, error) {
	return s.loyalty.Account(ctx, userID)
}

// RedeemLoyalty debits pointsCost from the user's balance, or nothing at all
// when the balance is short.
func (s *Service) RedeemLoyalty(ctx context.Context, userID string, pointsCost int64, reason string) (_ loyalty.Account, err error) {
	ctx, span := s.startSpan(ctx, "RedeemLoyalty", attribute.Int64("points", pointsCost))
	defer func() { endSpan(span, err) }()

	acc, err := s.loyalty.Redeem(ctx, userID, pointsCost, reason, s.now())
	if err != nil {
		return loyalty.Account{}, err
	}
	s.metrics.loyaltyRedeemed.Add(float64(pointsCost))
	s.logger.InfoContext(ctx, "loyalty points redeemed",
		"user_id", userID, "points", pointsCost, "reason", reason, "balance", acc.PointsBalance)
	return acc, nil
}
