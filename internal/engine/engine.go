// Package engine is the central orchestrator of the arbitrage bot.
//
// It wires together all subsystems:
//
//  1. The exchange client connects, syncs the clock, and builds the pair
//     graph from exchange info.
//  2. The ticker stream feeds the market state mirror; every N ticker
//     messages one analysis cycle runs.
//  3. A cycle assesses market quality, finds profitable paths per funded
//     start asset, subscribes depth streams for the symbols those paths
//     trade, allocates capital across heads, and executes the surviving
//     instructions.
//  4. A heartbeat loop rebuilds the graph periodically and reports
//     liveness and process health.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"hydra/internal/analyzer"
	"hydra/internal/api"
	"hydra/internal/config"
	"hydra/internal/exchange"
	"hydra/internal/executor"
	"hydra/internal/market"
	"hydra/internal/risk"
	"hydra/internal/store"
	"hydra/pkg/types"
)

const (
	heartbeatInterval = time.Second
	aliveEvery        = 30 // heartbeats between liveness logs
	perfEvery         = 60 // heartbeats between process health reports
	statsWindow       = 100
	recentTradeRows   = 10
)

// Engine orchestrates all components of the arbitrage system.
type Engine struct {
	cfg        config.Config
	client     *exchange.Client
	streams    *exchange.Streams
	state      *market.State
	graph      *market.Holder
	pathEngine *analyzer.Engine
	riskMgr    *risk.Manager
	exec       *executor.Executor
	store      *store.Store
	metrics    *api.Metrics
	logger     *slog.Logger

	feesMu sync.RWMutex
	fees   map[string]types.TradeFee

	startedAt    time.Time
	tickerMsgs   int
	cycleRunning atomic.Bool

	statsMu    sync.RWMutex
	cycles     int64
	lastCycle  time.Duration
	lastPaths  int
	regime     string
	lastSpread float64
	lastVolume decimal.Decimal

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all engine components.
func New(cfg config.Config, metrics *api.Metrics, logger *slog.Logger) (*Engine, error) {
	client := exchange.NewClient(cfg, logger)

	st, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:        cfg,
		client:     client,
		streams:    exchange.NewStreams(client, logger),
		state:      market.NewState(),
		graph:      &market.Holder{},
		pathEngine: analyzer.NewEngine(cfg.Trading, logger),
		riskMgr:    risk.NewManager(cfg.Risk, logger),
		exec:       executor.NewExecutor(client, st, logger),
		store:      st,
		metrics:    metrics,
		logger:     logger.With("component", "engine"),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start connects to the exchange, builds the graph, and launches the
// stream consumer and heartbeat goroutines.
func (e *Engine) Start() error {
	e.startedAt = time.Now()

	if err := e.client.Connect(e.ctx); err != nil {
		return err
	}

	g, err := market.BuildWithRetry(e.ctx, e.client, e.logger)
	if err != nil {
		return err
	}
	e.graph.Swap(g)
	e.refreshFees()

	e.streams.Start(e.ctx)

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.consumeStreams()
	}()
	go func() {
		defer e.wg.Done()
		e.heartbeat()
	}()

	assets, symbols := g.Size()
	e.logger.Info("engine started", "assets", assets, "symbols", symbols)
	return nil
}

// Stop shuts everything down and waits for in-flight work.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	e.cancel()
	e.streams.Stop()
	e.wg.Wait()

	if err := e.store.Close(); err != nil {
		e.logger.Error("store close failed", "error", err)
	}
	e.logger.Info("shutdown complete")
}

// consumeStreams fans in the three stream channels. Every CycleEvery
// ticker batches one analysis cycle is launched, unless the previous one
// is still running.
func (e *Engine) consumeStreams() {
	for {
		select {
		case <-e.ctx.Done():
			return

		case batch := <-e.streams.Tickers():
			e.state.ApplyTickers(batch)
			e.tickerMsgs++
			if e.tickerMsgs >= e.cfg.Trading.CycleEvery {
				e.tickerMsgs = 0
				e.launchCycle()
			}

		case upd := <-e.streams.Depth():
			e.state.ApplyDepth(upd)

		case evt := <-e.streams.UserEvents():
			e.logger.Debug("user event", "type", evt.EventType)
		}
	}
}

func (e *Engine) launchCycle() {
	if !e.cycleRunning.CompareAndSwap(false, true) {
		e.logger.Debug("cycle still running, skipping trigger")
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.cycleRunning.Store(false)
		e.runCycle(e.ctx)
	}()
}

// runCycle is one full analyze-allocate-execute pass.
func (e *Engine) runCycle(ctx context.Context) {
	start := time.Now()

	if status, err := e.client.SystemStatus(ctx); err == nil && status.Status != 0 {
		e.logger.Warn("exchange in maintenance, skipping cycle", "msg", status.Msg)
		return
	}

	graph := e.graph.Load()
	if graph == nil {
		return
	}

	tickers, books := e.state.Snapshot()
	quality := assessMarket(graph, tickers, e.cfg.Trading.TopVolumeSymbols)
	e.riskMgr.UpdateDynamicParams(quality.avgSpread)

	e.statsMu.Lock()
	e.lastSpread = quality.avgSpread
	e.lastVolume = quality.volume
	e.statsMu.Unlock()
	e.metrics.MarketVolatility.Set(quality.avgSpread * 100)
	vol, _ := quality.volume.Float64()
	e.metrics.MarketVolume.Set(vol)

	balances, err := e.client.Account(ctx)
	if err != nil {
		e.logger.Error("balance fetch failed, skipping cycle", "error", err)
		return
	}

	startAssets := selectStartAssets(graph, balances, quality.major)
	if len(startAssets) == 0 {
		e.logger.Debug("no funded start assets")
		e.finishCycle(start, 0, nil)
		return
	}

	pricer := analyzer.NewPricer(graph, tickers, books, e.currentFees(),
		decimal.NewFromFloat(e.cfg.Trading.MinNotional))
	threshold := decimal.NewFromFloat(e.cfg.Trading.ProfitThreshold * 100)

	type group struct {
		asset      string
		investment decimal.Decimal
		paths      []types.PathResult
	}
	var groups []group
	for _, asset := range startAssets {
		investment := e.riskMgr.InvestmentSize(balances[asset].Free, e.cfg.Risk.MaxPortfolioRisk)
		if !investment.IsPositive() {
			continue
		}
		paths := e.pathEngine.FindPaths(pricer, asset, investment, threshold)
		if len(paths) == 0 {
			continue
		}
		groups = append(groups, group{asset: asset, investment: investment, paths: paths})
	}

	totalPaths := 0
	needed := make(map[string]bool)
	for _, grp := range groups {
		totalPaths += len(grp.paths)
		for _, p := range grp.paths {
			for sym := range pricer.PathSymbols(p.Path) {
				needed[sym] = true
			}
		}
	}

	if e.reconcileDepth(needed) {
		// Fresh subscriptions need a frame of data before execution.
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.cfg.Trading.DepthSettle):
		}
	}

	// Re-snapshot so allocation prices against the settled books.
	tickers, books = e.state.Snapshot()
	pricer = analyzer.NewPricer(graph, tickers, books, e.currentFees(),
		decimal.NewFromFloat(e.cfg.Trading.MinNotional))

	var portfolios []*risk.Portfolio
	for _, grp := range groups {
		perGroup := grp.investment.Div(decimal.NewFromInt(int64(len(groups))))
		pf := e.riskMgr.Allocate(pricer, grp.asset, grp.investment, perGroup, grp.paths)
		if pf != nil {
			portfolios = append(portfolios, pf)
		}
	}

	stats := e.tradeStats()
	instructions := e.riskMgr.Instructions(portfolios, stats)

	results := e.exec.ExecuteAll(ctx, graph, instructions)
	for _, r := range results {
		e.riskMgr.RecordResult(r)
		e.metrics.RecordExecution(r.Success)
		e.logger.Info("execution finished",
			"instruction", r.InstructionID,
			"success", r.Success,
			"profit_loss", r.ProfitLoss.String(),
			"duration", r.ExecutionTime,
		)
	}

	e.finishCycle(start, totalPaths, portfolios)
}

func (e *Engine) finishCycle(start time.Time, totalPaths int, portfolios []*risk.Portfolio) {
	elapsed := time.Since(start)
	regime := ""
	if len(portfolios) > 0 {
		regime = portfolios[0].Strategy
	}

	e.statsMu.Lock()
	e.cycles++
	e.lastCycle = elapsed
	e.lastPaths = totalPaths
	if regime != "" {
		e.regime = regime
	}
	e.statsMu.Unlock()

	e.metrics.Cycles.Inc()
	e.metrics.CycleDuration.Observe(elapsed.Seconds())
	e.metrics.PathsFound.Set(float64(totalPaths))
	e.metrics.UsedWeight.Set(float64(e.client.UsedWeight()))
	e.metrics.DepthSubscriptions.Set(float64(len(e.streams.ActiveDepth())))
	e.metrics.OpenPositions.Set(float64(e.riskMgr.OpenPositions()))
	if graph := e.graph.Load(); graph != nil {
		_, symbols := graph.Size()
		e.metrics.GraphSymbols.Set(float64(symbols))
	}
	if sum, err := e.store.Summarize(); err == nil {
		profit, _ := sum.TotalProfit.Float64()
		e.metrics.ProfitTotal.Set(profit)
	}

	e.logger.Info("cycle finished",
		"paths", totalPaths, "portfolios", len(portfolios), "duration", elapsed)
}

// reconcileDepth aligns the active depth subscriptions with the symbols
// the current paths need. Reports whether any new stream was opened.
func (e *Engine) reconcileDepth(needed map[string]bool) bool {
	active := e.streams.ActiveDepth()

	for sym := range active {
		if !needed[sym] {
			e.streams.UnsubscribeDepth(sym)
			e.state.DropBook(sym)
		}
	}

	opened := false
	for sym := range needed {
		if !active[sym] {
			e.streams.SubscribeDepth(sym)
			opened = true
		}
	}
	return opened
}

// heartbeat drives the periodic maintenance work: graph rebuilds,
// liveness logs, and process health reports.
func (e *Engine) heartbeat() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	ticks := 0
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			ticks++

			if e.cfg.Trading.GraphRebuildTicks > 0 && ticks%e.cfg.Trading.GraphRebuildTicks == 0 {
				e.rebuildGraph()
			}
			if ticks%aliveEvery == 0 {
				e.logAlive()
			}
			if ticks%perfEvery == 0 {
				e.logProcessHealth()
			}
		}
	}
}

func (e *Engine) rebuildGraph() {
	g, err := market.BuildWithRetry(e.ctx, e.client, e.logger)
	if err != nil {
		e.logger.Error("graph rebuild failed, keeping previous graph", "error", err)
		return
	}
	e.graph.Swap(g)
	e.refreshFees()
	assets, symbols := g.Size()
	e.logger.Info("pair graph rebuilt", "assets", assets, "symbols", symbols)
}

func (e *Engine) logAlive() {
	e.statsMu.RLock()
	cycles := e.cycles
	paths := e.lastPaths
	e.statsMu.RUnlock()

	e.logger.Info("still running",
		"cycles", cycles,
		"last_cycle_paths", paths,
		"tickers", e.state.TickerCount(),
		"used_weight", e.client.UsedWeight(),
	)
}

func (e *Engine) logProcessHealth() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	e.logger.Info("process health",
		"uptime", time.Since(e.startedAt).Round(time.Second).String(),
		"goroutines", runtime.NumGoroutine(),
		"heap_mb", mem.HeapAlloc/1024/1024,
	)
}

func (e *Engine) refreshFees() {
	fees, err := e.client.TradeFees(e.ctx)
	if err != nil {
		e.logger.Warn("trade fee fetch failed, using default fee", "error", err)
		return
	}
	e.feesMu.Lock()
	e.fees = fees
	e.feesMu.Unlock()
}

func (e *Engine) currentFees() map[string]types.TradeFee {
	e.feesMu.RLock()
	defer e.feesMu.RUnlock()
	return e.fees
}

// tradeStats estimates win rate and average returns from the recent
// trade history.
func (e *Engine) tradeStats() risk.TradeStats {
	records, err := e.store.Recent(statsWindow)
	if err != nil {
		e.logger.Warn("trade history load failed, using priors", "error", err)
		return risk.DefaultTradeStats()
	}
	return risk.StatsFromOutcomes(outcomesFromRecords(records))
}

// Stats implements api.StatsProvider.
func (e *Engine) Stats() api.Stats {
	e.statsMu.RLock()
	cycles := e.cycles
	lastCycle := e.lastCycle
	lastPaths := e.lastPaths
	regime := e.regime
	spread := e.lastSpread
	volume := e.lastVolume
	e.statsMu.RUnlock()

	stats := api.Stats{
		Timestamp:          time.Now(),
		Uptime:             time.Since(e.startedAt).Round(time.Second).String(),
		Cycles:             cycles,
		LastCycleDuration:  lastCycle.String(),
		LastCyclePaths:     lastPaths,
		TickerSymbols:      e.state.TickerCount(),
		ActiveDepthStreams: len(e.streams.ActiveDepth()),
		UsedWeight:         e.client.UsedWeight(),
		MarketVolatility:   spread * 100,
		MarketVolume:       volume.String(),
		OpenPositions:      e.riskMgr.OpenPositions(),
		DailyPnL:           e.riskMgr.DailyPnL().String(),
		Regime:             regime,
	}
	if graph := e.graph.Load(); graph != nil {
		stats.GraphAssets, stats.GraphSymbols = graph.Size()
	}
	if sum, err := e.store.Summarize(); err == nil {
		stats.Trades = sum.Trades
		stats.Wins = sum.Wins
		stats.TotalProfit = sum.TotalProfit.String()
		if sum.Trades > 0 {
			stats.SuccessRate = float64(sum.Wins) / float64(sum.Trades)
			stats.AvgProfit = sum.TotalProfit.Div(decimal.NewFromInt(sum.Trades)).Round(8).String()
		}
	}
	if records, err := e.store.Recent(recentTradeRows); err == nil {
		stats.RecentTrades = make([]api.TradeRow, 0, len(records))
		for _, rec := range records {
			stats.RecentTrades = append(stats.RecentTrades, api.TradeRow{
				Timestamp:  rec.Timestamp,
				Path:       rec.Path,
				Success:    rec.Success,
				ProfitLoss: rec.ProfitLoss,
				Regime:     rec.OperatingRegime,
			})
		}
	}
	return stats
}

// ————————————————————————————————————————————————————————————————————————
// Cycle helpers
// ————————————————————————————————————————————————————————————————————————

// marketQuality summarizes the tradeable market for one cycle: the
// average relative spread across graph symbols with a live ticker, the
// summed quote volume, and the assets of the highest-volume symbols.
type marketQuality struct {
	avgSpread float64
	volume    decimal.Decimal
	major     map[string]bool
}

type rankedSymbol struct {
	symbol string
	volume decimal.Decimal
}

func assessMarket(graph *market.Graph, tickers map[string]types.Ticker, topN int) marketQuality {
	spreadSum := 0.0
	spreadCount := 0
	volume := decimal.Zero
	ranked := make([]rankedSymbol, 0, len(tickers))

	for sym, t := range tickers {
		if _, ok := graph.SymbolInfo(sym); !ok {
			continue
		}
		if t.Bid.IsPositive() && t.Ask.GreaterThanOrEqual(t.Bid) {
			spread, _ := t.Ask.Sub(t.Bid).Div(t.Bid).Float64()
			spreadSum += spread
			spreadCount++
		}
		volume = volume.Add(t.QuoteVolume)
		ranked = append(ranked, rankedSymbol{symbol: sym, volume: t.QuoteVolume})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if !ranked[i].volume.Equal(ranked[j].volume) {
			return ranked[i].volume.GreaterThan(ranked[j].volume)
		}
		return ranked[i].symbol < ranked[j].symbol
	})
	if topN > 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}

	major := make(map[string]bool, 2*len(ranked))
	for _, r := range ranked {
		if si, ok := graph.SymbolInfo(r.symbol); ok {
			major[si.Base] = true
			major[si.Quote] = true
		}
	}

	quality := marketQuality{volume: volume, major: major}
	if spreadCount > 0 {
		quality.avgSpread = spreadSum / float64(spreadCount)
	}
	return quality
}

// selectStartAssets picks the funded assets a cycle trades from: free
// balance, present in the graph, and part of the high-volume set. When
// no funded asset is major, any funded graph asset qualifies.
func selectStartAssets(graph *market.Graph, balances map[string]types.Balance, major map[string]bool) []string {
	var majors, fallback []string
	for asset, bal := range balances {
		if !bal.Free.IsPositive() || !graph.HasAsset(asset) {
			continue
		}
		fallback = append(fallback, asset)
		if major[asset] {
			majors = append(majors, asset)
		}
	}

	selected := majors
	if len(selected) == 0 {
		selected = fallback
	}
	sort.Strings(selected)
	return selected
}

func outcomesFromRecords(records []store.TradeRecord) []risk.Outcome {
	outcomes := make([]risk.Outcome, 0, len(records))
	for _, rec := range records {
		pl, okPL := rec.ProfitLossDecimal()
		initial, okInit := rec.InitialAmountDecimal()
		if !okPL || !okInit || !initial.IsPositive() {
			continue
		}
		ret, _ := pl.Div(initial).Float64()
		outcomes = append(outcomes, risk.Outcome{Profitable: rec.Success, ReturnPct: ret})
	}
	return outcomes
}
