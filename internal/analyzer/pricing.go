// Package analyzer implements the path engine: it searches the pair
// graph for multi-hop conversion chains and prices them against live
// market data.
//
// Pricing for a single hop follows the taker rule: selling the base of
// the forward pair earns qty·bid·(1−fee); buying the base of the reverse
// pair earns (qty/ask)·(1−fee). The order book's best prices are
// preferred when a depth snapshot has both sides; the ticker is the
// fallback. A hop whose notional falls below the exchange minimum is
// infeasible and yields zero.
package analyzer

import (
	"github.com/shopspring/decimal"

	"hydra/internal/market"
	"hydra/pkg/types"
)

var (
	one        = decimal.NewFromInt(1)
	hundred    = decimal.NewFromInt(100)
	defaultFee = decimal.NewFromFloat(0.001)
)

// Pricer values single hops against one consistent snapshot of tickers,
// books, and fees. Build a fresh Pricer per analysis cycle.
type Pricer struct {
	graph       *market.Graph
	tickers     map[string]types.Ticker
	books       map[string]*types.DepthSnapshot
	fees        map[string]types.TradeFee
	minNotional decimal.Decimal
}

// NewPricer creates a pricer over a market snapshot. fees may be nil;
// the default taker fee applies to symbols without an entry.
func NewPricer(
	graph *market.Graph,
	tickers map[string]types.Ticker,
	books map[string]*types.DepthSnapshot,
	fees map[string]types.TradeFee,
	minNotional decimal.Decimal,
) *Pricer {
	return &Pricer{
		graph:       graph,
		tickers:     tickers,
		books:       books,
		fees:        fees,
		minNotional: minNotional,
	}
}

// Convert prices the conversion of qty units of from into to. It
// returns the resulting amount and the hop taken, or ok=false when no
// pair connects the assets, the ticker is missing, or the hop is below
// the minimum notional.
func (p *Pricer) Convert(from, to string, qty decimal.Decimal) (out decimal.Decimal, hop types.Hop, ok bool) {
	symbol, side, ok := p.graph.Resolve(from, to)
	if !ok {
		return decimal.Zero, types.Hop{}, false
	}
	hop = types.Hop{From: from, To: to, Symbol: symbol, Side: side}

	ticker, hasTicker := p.tickers[symbol]
	if !hasTicker {
		return decimal.Zero, hop, false
	}

	bid, ask := ticker.Bid, ticker.Ask
	if book := p.books[symbol]; book.Crossed() {
		bid, ask = book.BestBid(), book.BestAsk()
	}

	fee := defaultFee
	if f, has := p.fees[symbol]; has && f.Taker.IsPositive() {
		fee = f.Taker
	}
	keep := one.Sub(fee)

	switch side {
	case types.SELL:
		// Notional is measured against the ticker bid even when the
		// book provides the execution price.
		notional := qty.Mul(ticker.Bid)
		if notional.LessThan(p.minNotional) {
			return decimal.Zero, hop, false
		}
		if !bid.IsPositive() {
			return decimal.Zero, hop, false
		}
		return qty.Mul(bid).Mul(keep), hop, true

	case types.BUY:
		// qty is already denominated in the quote asset.
		if qty.LessThan(p.minNotional) {
			return decimal.Zero, hop, false
		}
		if !ask.IsPositive() {
			return decimal.Zero, hop, false
		}
		return qty.Div(ask).Mul(keep), hop, true
	}

	return decimal.Zero, hop, false
}

// PricePath walks a whole asset path from startAmount, returning the
// final amount and the hops taken. ok is false when any hop is
// infeasible.
func (p *Pricer) PricePath(path []string, startAmount decimal.Decimal) (final decimal.Decimal, hops []types.Hop, ok bool) {
	amount := startAmount
	hops = make([]types.Hop, 0, len(path)-1)
	for i := 0; i+1 < len(path); i++ {
		out, hop, hopOK := p.Convert(path[i], path[i+1], amount)
		if !hopOK {
			return decimal.Zero, hops, false
		}
		hops = append(hops, hop)
		amount = out
	}
	return amount, hops, true
}

// PathSymbols returns the set of symbols a path trades through.
func (p *Pricer) PathSymbols(path []string) map[string]bool {
	symbols := make(map[string]bool, len(path))
	for i := 0; i+1 < len(path); i++ {
		if symbol, _, ok := p.graph.Resolve(path[i], path[i+1]); ok {
			symbols[symbol] = true
		}
	}
	return symbols
}

// Spread returns a symbol's relative spread (ask−bid)/bid from the
// ticker snapshot. ok is false when the symbol has no usable ticker.
func (p *Pricer) Spread(symbol string) (float64, bool) {
	ticker, has := p.tickers[symbol]
	if !has || !ticker.Bid.IsPositive() {
		return 0, false
	}
	spread, _ := ticker.Ask.Sub(ticker.Bid).Div(ticker.Bid).Float64()
	return spread, true
}

// Graph exposes the graph this pricer was built over.
func (p *Pricer) Graph() *market.Graph {
	return p.graph
}
