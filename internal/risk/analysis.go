// analysis.go computes the heuristic risk profile of a candidate path.
//
// All scores are derived from the path's length and the spreads of the
// symbols it trades through. The expected profit is the only monetary
// figure: it re-prices the whole chain with lot-size-adjusted quantities
// so that infeasible fills surface before allocation.
package risk

import (
	"math"

	"github.com/shopspring/decimal"

	"hydra/pkg/types"
)

const (
	defaultHopSpread  = 0.01
	unresolvedPenalty = 0.05
	wideSpread        = 0.02
)

// AnalyzePath scores one candidate path assuming investment units of the
// start asset are committed.
func (m *Manager) AnalyzePath(p Pricer, path types.PathResult, investment decimal.Decimal) types.PathAnalysis {
	n := len(path.Path)
	hops := n - 1
	if hops < 1 {
		return types.PathAnalysis{Investment: investment}
	}

	spreadSum := 0.0
	wideHops := 0
	penalty := 0.0
	for i := 0; i+1 < n; i++ {
		symbol, _, ok := p.Graph().Resolve(path.Path[i], path.Path[i+1])
		if !ok {
			spreadSum += defaultHopSpread
			penalty += unresolvedPenalty
			continue
		}
		spread, priced := p.Spread(symbol)
		if !priced {
			spread = defaultHopSpread
		}
		spreadSum += spread
		if spread > wideSpread {
			wideHops++
		}
	}

	riskScore := 0.3
	if n > 2 {
		riskScore = math.Min(1.0, 0.1*float64(n-2)+spreadSum+penalty)
	}

	volatility := spreadSum / float64(hops)

	expected := m.expectedProfit(p, path.Path, investment)

	invF, _ := investment.Float64()
	expF, _ := expected.Float64()
	sharpe := 0.0
	if volatility > 0 && invF > 0 {
		sharpe = (expF - invF*m.cfg.RiskFreeRate/365) / (volatility * invF)
	}

	drawdown := math.Min(0.1, 0.02+0.005*float64(n-1))

	execProb := clamp(0.95-0.02*float64(n-2)-0.01*float64(wideHops), 0.5, 1.0)

	unique := make(map[string]bool, n)
	for _, a := range path.Path {
		unique[a] = true
	}
	correlation := 0.3
	if len(unique) > 2 {
		correlation = 0.6
	}

	return types.PathAnalysis{
		RiskScore:       riskScore,
		Volatility:      volatility,
		ExpectedProfit:  expected,
		SharpeRatio:     sharpe,
		MaxDrawdown:     drawdown,
		ExecProbability: execProb,
		Correlation:     correlation,
		Investment:      investment,
	}
}

// expectedProfit walks the path from investment, clamping each hop's
// quantity to the symbol's lot-size grid. Any hop that becomes
// infeasible zeroes the whole estimate.
func (m *Manager) expectedProfit(p Pricer, path []string, investment decimal.Decimal) decimal.Decimal {
	amount := investment
	for i := 0; i+1 < len(path); i++ {
		symbol, _, ok := p.Graph().Resolve(path[i], path[i+1])
		if !ok {
			return decimal.Zero
		}
		if si, has := p.Graph().SymbolInfo(symbol); has {
			amount = AdjustQuantity(si.LotSize, amount)
			if !amount.IsPositive() {
				return decimal.Zero
			}
		}
		out, _, feasible := p.Convert(path[i], path[i+1], amount)
		if !feasible || !out.IsPositive() {
			return decimal.Zero
		}
		amount = out
	}
	return amount.Sub(investment)
}
