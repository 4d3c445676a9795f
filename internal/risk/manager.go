// Package risk turns profitable paths into sized, gated trade
// instructions.
//
// The manager owns four concerns:
//
//   - Path analysis: a heuristic risk profile per candidate path
//     (risk score, volatility, Sharpe, drawdown, execution probability).
//   - Allocation: the hydra split of a start asset's capital across up
//     to three heads, preferring forward (non-returning) paths.
//   - Sizing: the kelly / volatility / fixed regimes that cap how much
//     of the capital a single instruction may commit.
//   - Gates: hard limits (daily loss, concurrent positions, minimum
//     size, drawdown budget) that silently drop instructions.
//
// Baseline limits come from config; dynamic parameters scale them with
// observed market volatility each cycle.
package risk

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"hydra/internal/config"
	"hydra/internal/market"
	"hydra/pkg/types"
)

// Pricer is the slice of the path engine the risk layer needs to
// re-price candidate paths with size-adjusted quantities.
type Pricer interface {
	Convert(from, to string, qty decimal.Decimal) (decimal.Decimal, types.Hop, bool)
	Spread(symbol string) (float64, bool)
	Graph() *market.Graph
}

// DynamicParams are the volatility-scaled risk limits for one cycle.
type DynamicParams struct {
	MaxPortfolioRisk       float64
	MaxDailyLoss           float64
	StopLossPct            float64
	TakeProfitPct          float64
	MaxConcurrentPositions int
	VolatilityMultiplier   float64
}

// Position is one open exposure with its protective levels.
type Position struct {
	ID         string
	Asset      string
	EntryPrice decimal.Decimal
	Size       decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	OpenedAt   time.Time
}

// Manager holds the risk state shared across analysis cycles.
type Manager struct {
	cfg    config.RiskConfig
	logger *slog.Logger

	mu        sync.RWMutex
	dynamic   DynamicParams
	positions map[string]*Position
	dailyPnL  decimal.Decimal
	dailyDate time.Time // UTC day the PnL counter belongs to
}

// NewManager creates a risk manager with baseline dynamic parameters.
func NewManager(cfg config.RiskConfig, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger.With("component", "risk"),
		dynamic: DynamicParams{
			MaxPortfolioRisk:       cfg.MaxPortfolioRisk,
			MaxDailyLoss:           cfg.MaxDailyLoss,
			StopLossPct:            cfg.StopLossPct,
			TakeProfitPct:          cfg.TakeProfitPct,
			MaxConcurrentPositions: cfg.MaxConcurrentPositions,
			VolatilityMultiplier:   1.0,
		},
		positions: make(map[string]*Position),
		dailyDate: utcDay(time.Now()),
	}
}

func utcDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// UpdateDynamicParams rescales the risk limits from the cycle's average
// spread. A calm market (multiplier < 1) loosens concurrency; a volatile
// one tightens every percentage limit.
func (m *Manager) UpdateDynamicParams(avgSpread float64) DynamicParams {
	vm := clamp(avgSpread/0.05, 0.5, 2.0)

	maxConcurrent := int(float64(m.cfg.MaxConcurrentPositions) / vm)
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	params := DynamicParams{
		MaxPortfolioRisk:       m.cfg.MaxPortfolioRisk * vm,
		MaxDailyLoss:           m.cfg.MaxDailyLoss * vm,
		StopLossPct:            m.cfg.StopLossPct * vm,
		TakeProfitPct:          m.cfg.TakeProfitPct * vm,
		MaxConcurrentPositions: maxConcurrent,
		VolatilityMultiplier:   vm,
	}

	m.mu.Lock()
	m.dynamic = params
	m.mu.Unlock()

	m.logger.Debug("dynamic risk parameters updated",
		"volatility_multiplier", vm,
		"max_portfolio_risk", params.MaxPortfolioRisk,
		"max_concurrent", params.MaxConcurrentPositions,
	)
	return params
}

// DynamicParams returns the limits currently in force.
func (m *Manager) DynamicParams() DynamicParams {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dynamic
}

// OpenPosition records a new exposure with stop-loss and take-profit
// levels derived from the dynamic percentages.
func (m *Manager) OpenPosition(asset string, entry, size decimal.Decimal) *Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	sl := decimal.NewFromFloat(1 - m.dynamic.StopLossPct)
	tp := decimal.NewFromFloat(1 + m.dynamic.TakeProfitPct)

	pos := &Position{
		ID:         uuid.NewString(),
		Asset:      asset,
		EntryPrice: entry,
		Size:       size,
		StopLoss:   entry.Mul(sl),
		TakeProfit: entry.Mul(tp),
		OpenedAt:   time.Now(),
	}
	m.positions[pos.ID] = pos
	return pos
}

// PositionAction is the verdict of a mark-price check.
type PositionAction int

const (
	Hold PositionAction = iota
	StopLossHit
	TakeProfitHit
)

// CheckPosition evaluates a mark price against a position's levels.
func (m *Manager) CheckPosition(id string, mark decimal.Decimal) PositionAction {
	m.mu.RLock()
	pos, ok := m.positions[id]
	m.mu.RUnlock()
	if !ok {
		return Hold
	}
	if mark.LessThanOrEqual(pos.StopLoss) {
		return StopLossHit
	}
	if mark.GreaterThanOrEqual(pos.TakeProfit) {
		return TakeProfitHit
	}
	return Hold
}

// ClosePosition removes a position and folds its PnL into the daily
// counter.
func (m *Manager) ClosePosition(id string, exit decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[id]
	if !ok {
		return
	}
	delete(m.positions, id)

	pnl := exit.Sub(pos.EntryPrice).Mul(pos.Size)
	m.resetDailyLocked()
	m.dailyPnL = m.dailyPnL.Add(pnl)

	m.logger.Info("position closed",
		"id", id, "asset", pos.Asset, "pnl", pnl, "daily_pnl", m.dailyPnL)
}

// RecordResult folds an execution outcome into the daily PnL.
func (m *Manager) RecordResult(result types.ExecutionResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetDailyLocked()
	m.dailyPnL = m.dailyPnL.Add(result.ProfitLoss)
}

// The counter belongs to a UTC day and resets at midnight.
func (m *Manager) resetDailyLocked() {
	today := utcDay(time.Now())
	if !today.Equal(m.dailyDate) {
		m.logger.Info("daily PnL reset", "previous", m.dailyPnL)
		m.dailyPnL = decimal.Zero
		m.dailyDate = today
	}
}

// DailyPnL returns the realized PnL for the current UTC day.
func (m *Manager) DailyPnL() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetDailyLocked()
	return m.dailyPnL
}

// OpenPositions returns the number of currently open positions.
func (m *Manager) OpenPositions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions)
}

// approve runs the hard risk gates for one prospective instruction.
// Rejections are silent drops, logged at debug level only.
func (m *Manager) approve(size decimal.Decimal, analysis types.PathAnalysis) bool {
	m.mu.Lock()
	m.resetDailyLocked()
	dailyPnL := m.dailyPnL
	dyn := m.dynamic
	open := len(m.positions)
	m.mu.Unlock()

	if dailyPnL.LessThan(decimal.NewFromFloat(-dyn.MaxDailyLoss)) {
		m.logger.Debug("rejected: daily loss limit", "daily_pnl", dailyPnL)
		return false
	}
	if open >= dyn.MaxConcurrentPositions {
		m.logger.Debug("rejected: max concurrent positions", "open", open)
		return false
	}
	if size.LessThan(decimal.NewFromFloat(m.cfg.MinPositionSize)) {
		m.logger.Debug("rejected: below minimum size", "size", size)
		return false
	}
	// Potential loss (worst drawdown on the full size) must stay inside
	// the portfolio risk budget.
	sizeF, _ := size.Float64()
	if analysis.MaxDrawdown*sizeF > dyn.MaxPortfolioRisk {
		m.logger.Debug("rejected: drawdown budget",
			"drawdown", analysis.MaxDrawdown, "size", size)
		return false
	}
	return true
}
