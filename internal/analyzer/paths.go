// paths.go implements the breadth-first path search.
//
// Starting from an asset the bot holds, the search expands through the
// pair graph one hop at a time, re-pricing the whole chain from the
// original start amount at every asset it reaches. Any intermediate
// position already counts as a candidate: a path that ends back at the
// start asset is a cycle, while a "forward" path parks the value in a
// different asset when that conversion alone beats the threshold.
package analyzer

import (
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"hydra/internal/config"
	"hydra/pkg/types"
)

// Engine runs path searches with the configured depth and exploration
// limits.
type Engine struct {
	cfg    config.TradingConfig
	logger *slog.Logger
}

// NewEngine creates a path engine.
func NewEngine(cfg config.TradingConfig, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		logger: logger.With("component", "analyzer"),
	}
}

type searchNode struct {
	asset  string
	path   []string
	amount decimal.Decimal
	depth  int
}

type visitKey struct {
	asset string
	depth int
}

// FindPaths searches for profitable conversion chains starting from
// startAsset with startAmount on hand. thresholdPct is the minimum
// profit in percent a candidate must exceed. Results are sorted by
// profit descending.
func (e *Engine) FindPaths(p *Pricer, startAsset string, startAmount decimal.Decimal, thresholdPct decimal.Decimal) []types.PathResult {
	if startAmount.LessThan(decimal.NewFromFloat(e.cfg.MinNotional)) {
		return nil
	}
	if !p.Graph().HasAsset(startAsset) {
		e.logger.Debug("start asset not in graph", "asset", startAsset)
		return nil
	}

	var results []types.PathResult
	explored := 0
	visited := map[visitKey]bool{{asset: startAsset, depth: 0}: true}
	queue := []searchNode{{
		asset:  startAsset,
		path:   []string{startAsset},
		amount: startAmount,
		depth:  0,
	}}

	for len(queue) > 0 && explored < e.cfg.MaxPathsExplored {
		node := queue[0]
		queue = queue[1:]

		for _, neighbor := range p.Graph().Neighbors(node.asset) {
			if explored >= e.cfg.MaxPathsExplored {
				break
			}
			explored++

			out, _, ok := p.Convert(node.asset, neighbor, node.amount)
			if !ok || !out.IsPositive() {
				continue
			}

			path := make([]string, len(node.path), len(node.path)+1)
			copy(path, node.path)
			path = append(path, neighbor)

			profitPct := out.Sub(startAmount).Div(startAmount).Mul(hundred)
			if profitPct.GreaterThan(thresholdPct) {
				if final, hops, priced := p.PricePath(path, startAmount); priced {
					results = append(results, types.PathResult{
						Path:          path,
						Hops:          hops,
						StartAmount:   startAmount,
						FinalAmount:   final,
						ProfitPercent: profitPct,
					})
				}
			}

			if node.depth < e.cfg.MaxPathDepth-1 {
				key := visitKey{asset: neighbor, depth: node.depth + 1}
				if !visited[key] {
					visited[key] = true
					queue = append(queue, searchNode{
						asset:  neighbor,
						path:   path,
						amount: out,
						depth:  node.depth + 1,
					})
				}
			}
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].ProfitPercent.GreaterThan(results[j].ProfitPercent)
	})

	if len(results) > 0 {
		e.logger.Debug("profitable paths found",
			"start", startAsset, "count", len(results), "explored", explored)
	}
	return results
}
