// allocator.go implements the hydra capital split.
//
// For each start asset the bot groups the profitable paths and spreads
// the asset's capital across up to three "heads". Forward paths (ones
// that park the value in a different asset) are preferred over cycles
// and get their allocation boosted, which is what lets the bot migrate
// capital toward better markets over time.
package risk

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"hydra/pkg/types"
)

const (
	maxHeads     = 3
	minViableEP  = 0.7 // minimum execution probability for a viable head
	baseFraction = 0.2
	maxFraction  = 0.6
	forwardBoost = 1.5
)

// Head is one allocated path inside a portfolio.
type Head struct {
	Path     types.PathResult
	Analysis types.PathAnalysis
	Fraction float64
}

// Portfolio is the allocation decision for one start asset.
type Portfolio struct {
	StartAsset          string
	Capital             decimal.Decimal
	Heads               []Head
	TotalExpectedProfit decimal.Decimal
	RiskScore           float64
	Diversification     float64
	Strategy            string
}

// Allocate splits capital across the best paths of one start asset.
// analysisInvestment is the per-path stake used for scoring (the total
// capital divided by the number of start asset groups in the cycle).
// Returns nil when the capital is too small or no path survives.
func (m *Manager) Allocate(p Pricer, startAsset string, capital, analysisInvestment decimal.Decimal, paths []types.PathResult) *Portfolio {
	if !capital.IsPositive() || len(paths) == 0 {
		return nil
	}

	heads := make([]Head, 0, len(paths))
	for _, path := range paths {
		heads = append(heads, Head{
			Path:     path,
			Analysis: m.AnalyzePath(p, path, analysisInvestment),
		})
	}

	if len(heads) == 1 {
		heads[0].Fraction = 1.0
		return m.buildPortfolio(startAsset, capital, heads, "single_path")
	}

	viable := make([]Head, 0, len(heads))
	for _, h := range heads {
		if h.Analysis.SharpeRatio >= m.cfg.MinSharpe && h.Analysis.ExecProbability >= minViableEP {
			viable = append(viable, h)
		}
	}
	if len(viable) == 0 {
		viable = heads
	}

	// Forward paths first, then expected profit, then lower risk.
	sort.SliceStable(viable, func(i, j int) bool {
		fi, fj := !viable[i].Path.Returning(), !viable[j].Path.Returning()
		if fi != fj {
			return fi
		}
		if !viable[i].Analysis.ExpectedProfit.Equal(viable[j].Analysis.ExpectedProfit) {
			return viable[i].Analysis.ExpectedProfit.GreaterThan(viable[j].Analysis.ExpectedProfit)
		}
		return viable[i].Analysis.RiskScore < viable[j].Analysis.RiskScore
	})

	if len(viable) > maxHeads {
		viable = viable[:maxHeads]
	}

	pathfinding := false
	for i := range viable {
		fraction := baseFraction
		if s := viable[i].Analysis.SharpeRatio; s > 0.5 {
			fraction = s / 2
			if fraction > maxFraction {
				fraction = maxFraction
			}
		}
		if !viable[i].Path.Returning() {
			fraction *= forwardBoost
			pathfinding = true
		}
		viable[i].Fraction = fraction
	}

	strategy := fmt.Sprintf("hydra_%d_heads", len(viable))
	if pathfinding {
		strategy += "_pathfinding"
	}
	return m.buildPortfolio(startAsset, capital, viable, strategy)
}

func (m *Manager) buildPortfolio(startAsset string, capital decimal.Decimal, heads []Head, strategy string) *Portfolio {
	total := decimal.Zero
	maxRisk := 0.0
	corrSum := 0.0
	for _, h := range heads {
		total = total.Add(h.Analysis.ExpectedProfit.Mul(decimal.NewFromFloat(h.Fraction)))
		if h.Analysis.RiskScore > maxRisk {
			maxRisk = h.Analysis.RiskScore
		}
		corrSum += h.Analysis.Correlation
	}

	diversification := 0.0
	if n := len(heads); n > 0 {
		meanCorr := corrSum / float64(n)
		diversification = clamp(0.2*float64(n)-meanCorr, 0, 1.0)
	}

	m.logger.Debug("portfolio allocated",
		"start_asset", startAsset,
		"strategy", strategy,
		"heads", len(heads),
		"expected_profit", total,
	)

	return &Portfolio{
		StartAsset:          startAsset,
		Capital:             capital,
		Heads:               heads,
		TotalExpectedProfit: total,
		RiskScore:           maxRisk,
		Diversification:     diversification,
		Strategy:            strategy,
	}
}

// Instructions converts portfolios into gated, sized trade
// instructions. Heads failing a risk gate are dropped silently.
func (m *Manager) Instructions(portfolios []*Portfolio, stats TradeStats) []types.TradeInstruction {
	var out []types.TradeInstruction
	for _, pf := range portfolios {
		if pf == nil {
			continue
		}
		for _, h := range pf.Heads {
			amount := pf.Capital.Mul(decimal.NewFromFloat(h.Fraction))
			if cap := m.SizeCap(pf.Capital, h.Analysis, stats); cap.IsPositive() && amount.GreaterThan(cap) {
				amount = cap
			}
			if !m.approve(amount, h.Analysis) {
				continue
			}
			out = append(out, types.TradeInstruction{
				ID:                     uuid.NewString(),
				StartAsset:             pf.StartAsset,
				Path:                   h.Path.Path,
				Hops:                   h.Path.Hops,
				Amount:                 amount,
				PredictedProfitPercent: h.Path.ProfitPercent,
				Regime:                 pf.Strategy,
				CreatedAt:              time.Now(),
			})
		}
	}
	return out
}
