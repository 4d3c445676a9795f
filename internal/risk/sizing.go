// sizing.go implements quantity adjustment and the position sizing
// regimes.
package risk

import (
	"github.com/shopspring/decimal"

	"hydra/pkg/types"
)

const quantityScale = 8 // exchange quantities carry at most 8 decimals

var dust = decimal.New(1, -4) // 0.0001

// AdjustQuantity clamps qty onto a symbol's LOT_SIZE grid: below the
// minimum yields zero, above the maximum is capped, and the remainder
// snaps down to the nearest step offset from the minimum. A nil filter
// passes the quantity through unchanged.
func AdjustQuantity(lot *types.LotSizeFilter, qty decimal.Decimal) decimal.Decimal {
	if lot == nil {
		return qty
	}
	if qty.LessThan(lot.MinQty) {
		return decimal.Zero
	}
	if qty.GreaterThan(lot.MaxQty) {
		qty = lot.MaxQty
	}
	steps := qty.Sub(lot.MinQty).Div(lot.StepSize).Floor()
	return steps.Mul(lot.StepSize).Add(lot.MinQty).RoundDown(quantityScale)
}

// InvestmentSize returns how much of balance one cycle may commit:
// balance scaled by the smaller of the requested risk percentage and
// the dynamic portfolio risk cap, truncated to 8 decimals. A result
// smaller than dust falls back to the full balance; a result below the
// minimum position size means the asset is skipped entirely.
func (m *Manager) InvestmentSize(balance decimal.Decimal, riskPct float64) decimal.Decimal {
	if !balance.IsPositive() {
		return decimal.Zero
	}

	dyn := m.DynamicParams()
	eff := riskPct
	if dyn.MaxPortfolioRisk < eff {
		eff = dyn.MaxPortfolioRisk
	}

	size := balance.Mul(decimal.NewFromFloat(eff)).RoundDown(quantityScale)
	if size.LessThan(dust) {
		size = balance
	}
	if size.LessThan(decimal.NewFromFloat(m.cfg.MinPositionSize)) {
		return decimal.Zero
	}
	return size
}

// TradeStats summarizes historical outcomes for kelly estimation.
type TradeStats struct {
	WinRate float64
	AvgWin  float64 // mean winning return, e.g. 0.02 = +2%
	AvgLoss float64 // mean losing return magnitude
}

// DefaultTradeStats are the priors used until enough history exists.
func DefaultTradeStats() TradeStats {
	return TradeStats{WinRate: 0.5, AvgWin: 0.02, AvgLoss: 0.01}
}

// Outcome is one historical trade reduced to what kelly needs.
type Outcome struct {
	Profitable bool
	ReturnPct  float64
}

// StatsFromOutcomes estimates win rate and average returns from trade
// history, falling back to the priors for anything unobserved.
func StatsFromOutcomes(outcomes []Outcome) TradeStats {
	stats := DefaultTradeStats()
	if len(outcomes) == 0 {
		return stats
	}

	wins, winSum, lossSum := 0, 0.0, 0.0
	for _, o := range outcomes {
		if o.Profitable {
			wins++
			winSum += o.ReturnPct
		} else {
			lossSum += -o.ReturnPct
		}
	}
	losses := len(outcomes) - wins

	stats.WinRate = float64(wins) / float64(len(outcomes))
	if wins > 0 {
		stats.AvgWin = winSum / float64(wins)
	}
	if losses > 0 {
		stats.AvgLoss = lossSum / float64(losses)
	}
	return stats
}

// KellyFraction computes the kelly criterion f = (p·W − (1−p)·L) / W,
// clamped to [0, 0.25] (quarter-kelly cap).
func KellyFraction(stats TradeStats) float64 {
	if stats.AvgWin <= 0 {
		return 0
	}
	f := (stats.WinRate*stats.AvgWin - (1-stats.WinRate)*stats.AvgLoss) / stats.AvgWin
	return clamp(f, 0, 0.25)
}

// VolatilityFraction sizes inversely to volatility: the risk target
// divided by the path's drawdown estimate, clamped to [0, 0.5].
func (m *Manager) VolatilityFraction(vol float64) float64 {
	if vol <= 0 {
		return 0.5
	}
	return clamp(m.DynamicParams().MaxPortfolioRisk/vol, 0, 0.5)
}

// SizeCap returns the largest amount the configured sizing regime lets
// one instruction commit out of capital.
func (m *Manager) SizeCap(capital decimal.Decimal, analysis types.PathAnalysis, stats TradeStats) decimal.Decimal {
	var fraction float64
	switch m.cfg.SizingRegime {
	case "kelly":
		fraction = KellyFraction(stats)
	case "volatility":
		fraction = m.VolatilityFraction(analysis.MaxDrawdown)
	default: // fixed
		fraction = m.DynamicParams().MaxPortfolioRisk
	}
	return capital.Mul(decimal.NewFromFloat(fraction))
}
