package ride

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pricing is the rate card applied when a ride ends. All amounts are in cents.
//
// cost = max(Minimum, UnlockFee + ceil(km * PerKM) + ceil(minutes) * PerMinute)
//
// Started minutes are charged in full.
type Pricing struct {
	UnlockFeeCents int64
	PerKMCents     int64
	PerMinuteCents int64
	MinimumCents   int64
}

func DefaultPricing() Pricing {
	return Pricing{
		UnlockFeeCents: 100,
		PerKMCents:     50,
		PerMinuteCents: 15,
		MinimumCents:   100,
	}
}

func (p Pricing) Cost(distanceKM float64, elapsed time.Duration) int64 {
	if distanceKM < 0 {
		distanceKM = 0
	}
	if elapsed < 0 {
		elapsed = 0
	}

	distance := decimal.NewFromFloat(distanceKM).
		Mul(decimal.NewFromInt(p.PerKMCents)).
		Ceil()

	minutes := decimal.NewFromFloat(elapsed.Minutes()).Ceil()
	timeCharge := minutes.Mul(decimal.NewFromInt(p.PerMinuteCents))

	total := decimal.NewFromInt(p.UnlockFeeCents).Add(distance).Add(timeCharge)
	if minimum := decimal.NewFromInt(p.MinimumCents); total.LessThan(minimum) {
		total = minimum
	}
	return total.IntPart()
}
