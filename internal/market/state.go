// state.go maintains the local mirror of live market data.
//
// State is updated from two stream sources:
//   - the all-market ticker stream via ApplyTickers (best bid/ask/volume)
//   - per-symbol depth streams via ApplyDepth (top-5 book levels)
//
// It is concurrency-safe (RWMutex protected); analysis cycles take a
// Snapshot so pricing runs against a consistent view while the streams
// keep writing.
package market

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"hydra/pkg/types"
)

// State mirrors tickers and depth books for the symbols the bot watches.
type State struct {
	mu      sync.RWMutex
	tickers map[string]types.Ticker
	books   map[string]*types.DepthSnapshot
	updated time.Time
}

// NewState creates an empty mirror.
func NewState() *State {
	return &State{
		tickers: make(map[string]types.Ticker),
		books:   make(map[string]*types.DepthSnapshot),
	}
}

// ApplyTickers folds a ticker batch into the mirror and returns how many
// entries were applied. Entries with unparseable prices are skipped.
func (s *State) ApplyTickers(batch []types.WSTicker) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := 0
	for _, t := range batch {
		if t.Symbol == "" {
			continue
		}
		bid, errB := decimal.NewFromString(t.BidPrice)
		ask, errA := decimal.NewFromString(t.AskPrice)
		if errB != nil || errA != nil {
			continue
		}
		vol := decimal.Zero
		if t.LastQuoteQty != "" {
			if v, err := decimal.NewFromString(t.LastQuoteQty); err == nil {
				vol = v
			}
		}
		s.tickers[t.Symbol] = types.Ticker{Bid: bid, Ask: ask, QuoteVolume: vol}
		applied++
	}
	if applied > 0 {
		s.updated = time.Now()
	}
	return applied
}

// ApplyDepth replaces a symbol's book with the levels from one depth
// frame. Malformed levels are dropped individually.
func (s *State) ApplyDepth(upd types.WSDepthUpdate) {
	if upd.Symbol == "" {
		return
	}

	snap := &types.DepthSnapshot{
		Symbol:    upd.Symbol,
		Bids:      parseLevels(upd.BidLevels()),
		Asks:      parseLevels(upd.AskLevels()),
		Timestamp: time.Now(),
	}

	s.mu.Lock()
	s.books[upd.Symbol] = snap
	s.updated = time.Now()
	s.mu.Unlock()
}

func parseLevels(raw [][]string) []types.BookLevel {
	levels := make([]types.BookLevel, 0, len(raw))
	for _, lv := range raw {
		if len(lv) < 2 {
			continue
		}
		price, errP := decimal.NewFromString(lv[0])
		qty, errQ := decimal.NewFromString(lv[1])
		if errP != nil || errQ != nil {
			continue
		}
		levels = append(levels, types.BookLevel{Price: price, Qty: qty})
	}
	return levels
}

// DropBook removes a symbol's depth snapshot, called when its stream is
// unsubscribed.
func (s *State) DropBook(symbol string) {
	s.mu.Lock()
	delete(s.books, symbol)
	s.mu.Unlock()
}

// Snapshot returns consistent copies of the ticker and book maps.
func (s *State) Snapshot() (map[string]types.Ticker, map[string]*types.DepthSnapshot) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tickers := make(map[string]types.Ticker, len(s.tickers))
	for sym, t := range s.tickers {
		tickers[sym] = t
	}
	books := make(map[string]*types.DepthSnapshot, len(s.books))
	for sym, b := range s.books {
		books[sym] = b
	}
	return tickers, books
}

// TickerCount returns the number of symbols with a live ticker.
func (s *State) TickerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tickers)
}

// LastUpdated returns when the mirror last changed.
func (s *State) LastUpdated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}
