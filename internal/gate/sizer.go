package gate

import (
	"math"

	"autotrader/internal/domain"
)

// FlatShares computes order quantity as floor(capitalPerTrade / price).
// A result below one share means the trade is skipped by the caller.
func FlatShares(capitalPerTrade, price float64) float64 {
	if price <= 0 || capitalPerTrade <= 0 {
		return 0
	}
	return math.Floor(capitalPerTrade / price)
}

// NotionalSizer is the dynamic-sizing contract: any swapped-in implementation
// maps portfolio value, conviction and volatility to a target notional.
type NotionalSizer interface {
	TargetNotional(portfolioValue, conviction, volatility float64) float64
}

// ConvictionSizer sizes a position as a conviction-weighted percentage of
// portfolio value, dampened by volatility and capped by the maximum
// single-position percentage and the per-trade risk percentage.
type ConvictionSizer struct {
	MaxSinglePositionPercent float64
	RiskPerTradePercent      float64
}

// NewConvictionSizer builds a sizer from the runtime settings caps.
func NewConvictionSizer(s domain.Settings) *ConvictionSizer {
	return &ConvictionSizer{
		MaxSinglePositionPercent: s.MaxSinglePositionPercent,
		RiskPerTradePercent:      s.RiskPerTradePercent,
	}
}

// TargetNotional implements NotionalSizer. Conviction is on a 0-10 scale;
// volatility is an annualized fraction (0.3 = 30%).
func (c *ConvictionSizer) TargetNotional(portfolioValue, conviction, volatility float64) float64 {
	if portfolioValue <= 0 || conviction <= 0 {
		return 0
	}
	basePct := c.MaxSinglePositionPercent * math.Min(conviction/10, 1)
	if volatility > 0 {
		// Higher volatility shrinks the allocation so that the expected
		// adverse excursion stays inside the per-trade risk budget.
		riskPct := c.RiskPerTradePercent / volatility
		basePct = math.Min(basePct, riskPct)
	}
	basePct = math.Min(basePct, c.MaxSinglePositionPercent)
	return portfolioValue * basePct / 100
}
