// weight.go implements the request-weight budget for the exchange API.
//
// The exchange meters REST usage in weight units per rolling minute (6000
// by default) rather than raw request counts. Every endpoint has a fixed
// weight; callers reserve their weight in Wait() before dispatching and
// block for the rest of the window when the budget is exhausted. The
// X-MBX-USED-WEIGHT-1M response header is authoritative and replaces the
// local counter whenever it is present.
package exchange

import (
	"context"
	"sync"
	"time"
)

// Endpoint weights as published by the exchange.
const (
	weightPing         = 1
	weightTime         = 1
	weightSystemStatus = 1
	weightTickerPrice  = 1
	weightOrder        = 1
	weightTestOrder    = 1
	weightCancelOrder  = 1
	weightGetOrder     = 2
	weightOpenOrders   = 2
	weightTradeFee     = 10
	weightMyTrades     = 10
	weightExchangeInfo = 20
	weightAccount      = 20
)

// WeightGate tracks used weight inside a fixed window. Wait reserves
// weight, blocking until the window rolls over when the reservation would
// exceed the limit.
type WeightGate struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	used        int
	windowStart time.Time
}

// NewWeightGate creates a gate with the given per-window weight limit.
func NewWeightGate(limit int, window time.Duration) *WeightGate {
	return &WeightGate{
		limit:       limit,
		window:      window,
		windowStart: time.Now(),
	}
}

// Wait reserves weight units, blocking for the remainder of the current
// window when the budget is exhausted, or until ctx is cancelled.
func (g *WeightGate) Wait(ctx context.Context, weight int) error {
	for {
		g.mu.Lock()
		now := time.Now()
		if now.Sub(g.windowStart) >= g.window {
			g.used = 0
			g.windowStart = now
		}
		if g.used+weight <= g.limit {
			g.used += weight
			g.mu.Unlock()
			return nil
		}
		wait := g.window - now.Sub(g.windowStart)
		g.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// window rolled over, retry
		}
	}
}

// SetUsed replaces the local counter with the server-reported used weight.
func (g *WeightGate) SetUsed(used int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if time.Since(g.windowStart) >= g.window {
		g.windowStart = time.Now()
	}
	g.used = used
}

// Used returns the weight consumed in the current window.
func (g *WeightGate) Used() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if time.Since(g.windowStart) >= g.window {
		return 0
	}
	return g.used
}
