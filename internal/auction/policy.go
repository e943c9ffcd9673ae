package auction

import (
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/live-auction/internal/config"
)

// cent is the smallest money unit the store keeps.
var cent = decimal.New(1, -2)

// IncrementPolicy decides the lowest acceptable next bid.
type IncrementPolicy interface {
	// MinimumNext returns the lowest amount accepted over current. It is
	// always strictly greater than current.
	MinimumNext(current decimal.Decimal) decimal.Decimal
}

// Strict accepts any amount strictly greater than the current price.
type Strict struct{}

func (Strict) MinimumNext(current decimal.Decimal) decimal.Decimal {
	return current.Add(cent)
}

// Tiered requires LowStep over the current price while it is below
// Threshold and HighStep from Threshold upward.
type Tiered struct {
	Threshold decimal.Decimal
	LowStep   decimal.Decimal
	HighStep  decimal.Decimal
}

func (t Tiered) MinimumNext(current decimal.Decimal) decimal.Decimal {
	if current.LessThan(t.Threshold) {
		return current.Add(t.LowStep)
	}
	return current.Add(t.HighStep)
}

// NewPolicy returns the policy named by cfg.IncrementPolicy.
func NewPolicy(cfg config.BiddingConfig) IncrementPolicy {
	if cfg.IncrementPolicy == config.IncrementTiered {
		return Tiered{Threshold: cfg.TierThreshold, LowStep: cfg.LowStep, HighStep: cfg.HighStep}
	}
	return Strict{}
}

// maxAmount bounds money to what NUMERIC(12,2) columns hold.
var maxAmount = decimal.New(1, 10)

// validAmount reports whether amount is positive, below maxAmount and
// representable in cents.
func validAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.LessThan(maxAmount) && amount.Round(2).Equal(amount)
}
