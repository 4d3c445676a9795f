// Package market provides the tradeable pair graph and the local mirror
// of live market state.
//
// Graph models the spot exchange as an undirected graph: assets are
// nodes, TRADING symbols are edges. The path engine walks this graph to
// enumerate conversion chains. A Graph is immutable once built; periodic
// rebuilds construct a fresh Graph and swap it into a Holder so readers
// never observe a partially built graph.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"hydra/pkg/types"
)

const (
	buildAttempts = 3
	buildBackoff  = 10 * time.Second
)

// ExchangeInfoFetcher is the slice of the exchange client the graph
// builder needs.
type ExchangeInfoFetcher interface {
	ExchangeInfo(ctx context.Context) (*types.ExchangeInfoResponse, error)
}

// Graph is the asset/pair topology of the exchange.
type Graph struct {
	adjacency map[string]map[string]bool
	bySymbol  map[string]types.SymbolInfo
	builtAt   time.Time
}

// NewGraph builds a graph from an exchange-info response. Only symbols
// with status TRADING and both assets present become edges.
func NewGraph(info *types.ExchangeInfoResponse, logger *slog.Logger) *Graph {
	g := &Graph{
		adjacency: make(map[string]map[string]bool),
		bySymbol:  make(map[string]types.SymbolInfo),
		builtAt:   time.Now(),
	}

	for _, sym := range info.Symbols {
		if types.SymbolStatus(sym.Status) != types.StatusTrading {
			continue
		}
		if sym.BaseAsset == "" || sym.QuoteAsset == "" {
			continue
		}

		si := types.SymbolInfo{
			Symbol: sym.Symbol,
			Base:   sym.BaseAsset,
			Quote:  sym.QuoteAsset,
			Status: types.SymbolStatus(sym.Status),
		}
		if lot := parseLotSize(sym.Filters); lot != nil {
			si.LotSize = lot
		} else {
			logger.Warn("symbol missing LOT_SIZE filter", "symbol", sym.Symbol)
		}
		g.bySymbol[sym.Symbol] = si

		g.addEdge(sym.BaseAsset, sym.QuoteAsset)
		g.addEdge(sym.QuoteAsset, sym.BaseAsset)
	}

	return g
}

func (g *Graph) addEdge(from, to string) {
	if g.adjacency[from] == nil {
		g.adjacency[from] = make(map[string]bool)
	}
	g.adjacency[from][to] = true
}

func parseLotSize(filters []types.ExchangeFilter) *types.LotSizeFilter {
	for _, f := range filters {
		if f.FilterType != "LOT_SIZE" {
			continue
		}
		minQty, errMin := decimal.NewFromString(f.MinQty)
		maxQty, errMax := decimal.NewFromString(f.MaxQty)
		step, errStep := decimal.NewFromString(f.StepSize)
		if errMin != nil || errMax != nil || errStep != nil {
			return nil
		}
		return &types.LotSizeFilter{MinQty: minQty, MaxQty: maxQty, StepSize: step}
	}
	return nil
}

// Neighbors returns the assets directly convertible from asset, sorted
// for deterministic traversal.
func (g *Graph) Neighbors(asset string) []string {
	adj := g.adjacency[asset]
	if len(adj) == 0 {
		return nil
	}
	out := make([]string, 0, len(adj))
	for a := range adj {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// HasAsset reports whether the asset appears in any TRADING pair.
func (g *Graph) HasAsset(asset string) bool {
	return len(g.adjacency[asset]) > 0
}

// Assets returns every asset in the graph.
func (g *Graph) Assets() map[string]bool {
	out := make(map[string]bool, len(g.adjacency))
	for a := range g.adjacency {
		out[a] = true
	}
	return out
}

// SymbolInfo looks up a symbol's metadata.
func (g *Graph) SymbolInfo(symbol string) (types.SymbolInfo, bool) {
	si, ok := g.bySymbol[symbol]
	return si, ok
}

// Resolve maps a conversion (from → to) onto a symbol and side: selling
// the base of the forward pair, or buying the base of the reverse pair.
// ok is false when no pair connects the two assets.
func (g *Graph) Resolve(from, to string) (symbol string, side types.Side, ok bool) {
	if _, exists := g.bySymbol[from+to]; exists {
		return from + to, types.SELL, true
	}
	if _, exists := g.bySymbol[to+from]; exists {
		return to + from, types.BUY, true
	}
	return "", "", false
}

// Size returns the number of assets and symbols in the graph.
func (g *Graph) Size() (assets, symbols int) {
	return len(g.adjacency), len(g.bySymbol)
}

// BuiltAt returns when the graph was constructed.
func (g *Graph) BuiltAt() time.Time {
	return g.builtAt
}

// BuildWithRetry fetches exchange info and builds the graph, retrying
// transient failures. The final error leaves the caller with whatever
// graph it already had; the bot keeps running and rebuilds later.
func BuildWithRetry(ctx context.Context, fetcher ExchangeInfoFetcher, logger *slog.Logger) (*Graph, error) {
	return buildWithRetry(ctx, fetcher, logger, buildBackoff)
}

func buildWithRetry(ctx context.Context, fetcher ExchangeInfoFetcher, logger *slog.Logger, backoff time.Duration) (*Graph, error) {
	var lastErr error
	for attempt := 1; attempt <= buildAttempts; attempt++ {
		info, err := fetcher.ExchangeInfo(ctx)
		if err == nil {
			g := NewGraph(info, logger)
			assets, symbols := g.Size()
			logger.Info("pair graph built", "assets", assets, "symbols", symbols)
			return g, nil
		}
		lastErr = err
		logger.Warn("graph build failed", "attempt", attempt, "error", err)

		if attempt < buildAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return nil, fmt.Errorf("build graph: %w", lastErr)
}

// Holder publishes the current graph to concurrent readers. Swap
// replaces it atomically; Load may return nil before the first build.
type Holder struct {
	mu    sync.RWMutex
	graph *Graph
}

// Load returns the current graph, possibly nil.
func (h *Holder) Load() *Graph {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.graph
}

// Swap installs a new graph.
func (h *Holder) Swap(g *Graph) {
	h.mu.Lock()
	h.graph = g
	h.mu.Unlock()
}
