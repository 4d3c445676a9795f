package risk

import (
	"log/slog"
	"math"
	"os"
	"testing"

	"github.com/shopspring/decimal"

	"hydra/internal/analyzer"
	"hydra/internal/config"
	"hydra/internal/market"
	"hydra/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func approx(got, want float64) bool {
	return math.Abs(got-want) < 1e-9
}

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxPortfolioRisk:       0.05,
		MaxDailyLoss:           0.02,
		StopLossPct:            0.01,
		TakeProfitPct:          0.02,
		RiskFreeRate:           0.02,
		MinSharpe:              0.5,
		MaxCorrelation:         0.7,
		MaxConcurrentPositions: 5,
		MinPositionSize:        10,
		SizingRegime:           "kelly",
	}
}

func newTestManager(cfg config.RiskConfig) *Manager {
	return NewManager(cfg, testLogger())
}

func lotFilter(min, max, step string) []types.ExchangeFilter {
	return []types.ExchangeFilter{{FilterType: "LOT_SIZE", MinQty: min, MaxQty: max, StepSize: step}}
}

func testPricer(t *testing.T) *analyzer.Pricer {
	t.Helper()
	info := &types.ExchangeInfoResponse{
		Symbols: []types.ExchangeSymbol{
			{Symbol: "BTCUSDT", Status: "TRADING", BaseAsset: "BTC", QuoteAsset: "USDT", Filters: lotFilter("0.0001", "9000", "0.0001")},
			{Symbol: "ETHUSDT", Status: "TRADING", BaseAsset: "ETH", QuoteAsset: "USDT", Filters: lotFilter("0.0001", "9000", "0.0001")},
			{Symbol: "ETHBTC", Status: "TRADING", BaseAsset: "ETH", QuoteAsset: "BTC", Filters: lotFilter("0.0001", "9000", "0.0001")},
		},
	}
	g := market.NewGraph(info, testLogger())
	tickers := map[string]types.Ticker{
		"BTCUSDT": {Bid: dec("49990"), Ask: dec("50000")},
		"ETHUSDT": {Bid: dec("2600"), Ask: dec("2601")},
		"ETHBTC":  {Bid: dec("0.0499"), Ask: dec("0.05")},
	}
	return analyzer.NewPricer(g, tickers, nil, nil, dec("0.001"))
}

func TestAdjustQuantity(t *testing.T) {
	t.Parallel()

	lot := &types.LotSizeFilter{
		MinQty:   dec("0.0001"),
		MaxQty:   dec("9000"),
		StepSize: dec("0.0001"),
	}

	tests := []struct {
		name string
		lot  *types.LotSizeFilter
		qty  string
		want string
	}{
		{"nil filter passes through", nil, "0.00123456", "0.00123456"},
		{"below minimum yields zero", lot, "0.00005", "0"},
		{"snaps down to step grid", lot, "0.00123456", "0.0012"},
		{"on-grid quantity unchanged", lot, "0.0012", "0.0012"},
		{"above maximum capped", lot, "10000", "9000"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := AdjustQuantity(tt.lot, dec(tt.qty))
			if !got.Equal(dec(tt.want)) {
				t.Errorf("AdjustQuantity(%s) = %s, want %s", tt.qty, got, tt.want)
			}
		})
	}
}

func TestAdjustQuantityIdempotent(t *testing.T) {
	t.Parallel()

	lot := &types.LotSizeFilter{
		MinQty:   dec("0.001"),
		MaxQty:   dec("100"),
		StepSize: dec("0.005"),
	}
	once := AdjustQuantity(lot, dec("0.7342"))
	twice := AdjustQuantity(lot, once)
	if !once.Equal(twice) {
		t.Errorf("not idempotent: %s then %s", once, twice)
	}
}

func TestInvestmentSize(t *testing.T) {
	t.Parallel()

	m := newTestManager(testRiskConfig())

	tests := []struct {
		name    string
		balance string
		riskPct float64
		want    string
	}{
		{"five percent of balance", "1000", 0.05, "50"},
		{"capped by portfolio risk", "1000", 0.50, "50"},
		{"below minimum position skipped", "100", 0.05, "0"},
		{"zero balance", "0", 0.05, "0"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := m.InvestmentSize(dec(tt.balance), tt.riskPct)
			if !got.Equal(dec(tt.want)) {
				t.Errorf("InvestmentSize(%s, %v) = %s, want %s", tt.balance, tt.riskPct, got, tt.want)
			}
		})
	}
}

func TestInvestmentSizeDustFallsBackToFullBalance(t *testing.T) {
	t.Parallel()

	cfg := testRiskConfig()
	cfg.MinPositionSize = 0.0005
	m := newTestManager(cfg)

	// 0.001 × 0.05 = 0.00005, below the dust floor, so the whole
	// balance is committed instead.
	got := m.InvestmentSize(dec("0.001"), 0.05)
	if !got.Equal(dec("0.001")) {
		t.Errorf("InvestmentSize = %s, want full balance 0.001", got)
	}
}

func TestKellyFraction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		stats TradeStats
		want  float64
	}{
		{"default priors hit the cap", DefaultTradeStats(), 0.25},
		{"strong edge clamps at quarter kelly", TradeStats{WinRate: 0.9, AvgWin: 0.05, AvgLoss: 0.01}, 0.25},
		{"negative edge yields zero", TradeStats{WinRate: 0.2, AvgWin: 0.01, AvgLoss: 0.05}, 0},
		{"no winning history yields zero", TradeStats{WinRate: 0.5, AvgWin: 0, AvgLoss: 0.01}, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := KellyFraction(tt.stats); got != tt.want {
				t.Errorf("KellyFraction = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatsFromOutcomes(t *testing.T) {
	t.Parallel()

	outcomes := []Outcome{
		{Profitable: true, ReturnPct: 0.04},
		{Profitable: true, ReturnPct: 0.02},
		{Profitable: false, ReturnPct: -0.03},
		{Profitable: false, ReturnPct: -0.01},
	}
	stats := StatsFromOutcomes(outcomes)
	if stats.WinRate != 0.5 {
		t.Errorf("WinRate = %v, want 0.5", stats.WinRate)
	}
	if stats.AvgWin != 0.03 {
		t.Errorf("AvgWin = %v, want 0.03", stats.AvgWin)
	}
	if stats.AvgLoss != 0.02 {
		t.Errorf("AvgLoss = %v, want 0.02", stats.AvgLoss)
	}

	priors := StatsFromOutcomes(nil)
	if priors != DefaultTradeStats() {
		t.Errorf("empty history = %+v, want default priors", priors)
	}
}

func TestUpdateDynamicParams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		avgSpread      float64
		wantVM         float64
		wantRisk       float64
		wantConcurrent int
	}{
		{"neutral market", 0.05, 1.0, 0.05, 5},
		{"volatile market tightens", 0.20, 2.0, 0.10, 2},
		{"calm market loosens", 0.001, 0.5, 0.025, 10},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := newTestManager(testRiskConfig())
			params := m.UpdateDynamicParams(tt.avgSpread)
			if params.VolatilityMultiplier != tt.wantVM {
				t.Errorf("VolatilityMultiplier = %v, want %v", params.VolatilityMultiplier, tt.wantVM)
			}
			if params.MaxPortfolioRisk != tt.wantRisk {
				t.Errorf("MaxPortfolioRisk = %v, want %v", params.MaxPortfolioRisk, tt.wantRisk)
			}
			if params.MaxConcurrentPositions != tt.wantConcurrent {
				t.Errorf("MaxConcurrentPositions = %v, want %v", params.MaxConcurrentPositions, tt.wantConcurrent)
			}
		})
	}
}

func TestAnalyzePathBounds(t *testing.T) {
	t.Parallel()

	m := newTestManager(testRiskConfig())
	p := testPricer(t)

	path := types.PathResult{Path: []string{"USDT", "BTC", "ETH", "USDT"}}
	a := m.AnalyzePath(p, path, dec("1000"))

	if a.RiskScore < 0 || a.RiskScore > 1 {
		t.Errorf("RiskScore = %v, outside [0,1]", a.RiskScore)
	}
	// Tight spreads on a 4-node path: 0.2 from length plus a tiny
	// spread contribution.
	if a.RiskScore < 0.2 || a.RiskScore > 0.21 {
		t.Errorf("RiskScore = %v, want ~0.2026", a.RiskScore)
	}
	if a.MaxDrawdown != 0.035 {
		t.Errorf("MaxDrawdown = %v, want 0.035", a.MaxDrawdown)
	}
	if !approx(a.ExecProbability, 0.91) {
		t.Errorf("ExecProbability = %v, want 0.91", a.ExecProbability)
	}
	if a.Correlation != 0.6 {
		t.Errorf("Correlation = %v, want 0.6 for 3 distinct assets", a.Correlation)
	}
	// Lot clamping at every hop trims the raw +3.7% cycle: 1000 USDT
	// buys 0.0199 BTC, which buys 0.3976 ETH, which sells for
	// 1032.72624 USDT.
	if !a.ExpectedProfit.Equal(dec("32.72624")) {
		t.Errorf("ExpectedProfit = %s, want 32.72624", a.ExpectedProfit)
	}
	if a.SharpeRatio <= 0 {
		t.Errorf("SharpeRatio = %v, want positive for a profitable path", a.SharpeRatio)
	}
}

func TestAnalyzePathTwoAssets(t *testing.T) {
	t.Parallel()

	m := newTestManager(testRiskConfig())
	p := testPricer(t)

	a := m.AnalyzePath(p, types.PathResult{Path: []string{"USDT", "BTC"}}, dec("1000"))
	if a.RiskScore != 0.3 {
		t.Errorf("RiskScore = %v, want the 0.3 floor for a single hop", a.RiskScore)
	}
	if a.Correlation != 0.3 {
		t.Errorf("Correlation = %v, want 0.3 for 2 distinct assets", a.Correlation)
	}
}

func TestApproveGates(t *testing.T) {
	t.Parallel()

	analysis := types.PathAnalysis{MaxDrawdown: 0.02}

	t.Run("approves within limits", func(t *testing.T) {
		t.Parallel()
		cfg := testRiskConfig()
		cfg.MinPositionSize = 1
		m := newTestManager(cfg)
		if !m.approve(dec("2"), analysis) {
			t.Error("expected approval for a small in-budget size")
		}
	})

	t.Run("rejects below minimum size", func(t *testing.T) {
		t.Parallel()
		m := newTestManager(testRiskConfig())
		if m.approve(dec("5"), analysis) {
			t.Error("expected rejection below minimum position size")
		}
	})

	t.Run("rejects over drawdown budget", func(t *testing.T) {
		t.Parallel()
		m := newTestManager(testRiskConfig())
		// 0.02 × 50 = 1.0 exceeds the 0.05 portfolio risk budget.
		if m.approve(dec("50"), analysis) {
			t.Error("expected rejection when drawdown times size exceeds the budget")
		}
	})

	t.Run("rejects after daily loss limit", func(t *testing.T) {
		t.Parallel()
		cfg := testRiskConfig()
		cfg.MinPositionSize = 1
		m := newTestManager(cfg)
		m.RecordResult(types.ExecutionResult{ProfitLoss: dec("-5")})
		if m.approve(dec("2"), analysis) {
			t.Error("expected rejection after breaching the daily loss limit")
		}
	})

	t.Run("rejects at max concurrent positions", func(t *testing.T) {
		t.Parallel()
		cfg := testRiskConfig()
		cfg.MinPositionSize = 1
		m := newTestManager(cfg)
		for i := 0; i < cfg.MaxConcurrentPositions; i++ {
			m.OpenPosition("BTC", dec("50000"), dec("0.001"))
		}
		if m.approve(dec("2"), analysis) {
			t.Error("expected rejection at the concurrent position cap")
		}
	})
}

func TestPositionLifecycle(t *testing.T) {
	t.Parallel()

	m := newTestManager(testRiskConfig())
	pos := m.OpenPosition("BTC", dec("50000"), dec("0.01"))

	if !pos.StopLoss.Equal(dec("49500")) {
		t.Errorf("StopLoss = %s, want 49500", pos.StopLoss)
	}
	if !pos.TakeProfit.Equal(dec("51000")) {
		t.Errorf("TakeProfit = %s, want 51000", pos.TakeProfit)
	}

	if got := m.CheckPosition(pos.ID, dec("50500")); got != Hold {
		t.Errorf("CheckPosition(50500) = %v, want Hold", got)
	}
	if got := m.CheckPosition(pos.ID, dec("49400")); got != StopLossHit {
		t.Errorf("CheckPosition(49400) = %v, want StopLossHit", got)
	}
	if got := m.CheckPosition(pos.ID, dec("51200")); got != TakeProfitHit {
		t.Errorf("CheckPosition(51200) = %v, want TakeProfitHit", got)
	}

	m.ClosePosition(pos.ID, dec("51000"))
	if m.OpenPositions() != 0 {
		t.Errorf("OpenPositions = %d after close, want 0", m.OpenPositions())
	}
	// (51000 − 50000) × 0.01 = 10
	if !m.DailyPnL().Equal(dec("10")) {
		t.Errorf("DailyPnL = %s, want 10", m.DailyPnL())
	}
}

func TestAllocateSinglePath(t *testing.T) {
	t.Parallel()

	m := newTestManager(testRiskConfig())
	p := testPricer(t)

	paths := []types.PathResult{
		{Path: []string{"USDT", "BTC", "ETH", "USDT"}, ProfitPercent: dec("3.69")},
	}
	pf := m.Allocate(p, "USDT", dec("1000"), dec("1000"), paths)
	if pf == nil {
		t.Fatal("expected a portfolio")
	}
	if pf.Strategy != "single_path" {
		t.Errorf("Strategy = %q, want single_path", pf.Strategy)
	}
	if len(pf.Heads) != 1 || pf.Heads[0].Fraction != 1.0 {
		t.Errorf("single path should get the full fraction, got %+v", pf.Heads)
	}
}

func TestAllocateViableFilterKeepsProfitableCycle(t *testing.T) {
	t.Parallel()

	m := newTestManager(testRiskConfig())
	p := testPricer(t)

	// Only the first cycle is profitable; the forward paths end in a
	// different unit and score a negative Sharpe, so the viability
	// filter leaves a single head.
	paths := []types.PathResult{
		{Path: []string{"USDT", "BTC", "ETH", "USDT"}, ProfitPercent: dec("3.69")},
		{Path: []string{"USDT", "ETH", "BTC", "USDT"}, ProfitPercent: dec("-4.3")},
		{Path: []string{"USDT", "BTC"}, ProfitPercent: dec("0.5")},
	}
	pf := m.Allocate(p, "USDT", dec("1000"), dec("250"), paths)
	if pf == nil {
		t.Fatal("expected a portfolio")
	}
	if len(pf.Heads) != 1 {
		t.Fatalf("got %d heads, want 1 viable", len(pf.Heads))
	}
	if !pf.Heads[0].Path.Returning() || pf.Heads[0].Path.Path[1] != "BTC" {
		t.Errorf("viable head = %v, want the profitable cycle", pf.Heads[0].Path.Path)
	}
	if pf.Strategy != "hydra_1_heads" {
		t.Errorf("Strategy = %q, want hydra_1_heads", pf.Strategy)
	}
	// Profitable cycle with a high Sharpe hits the fraction cap.
	if pf.Heads[0].Fraction != maxFraction {
		t.Errorf("Fraction = %v, want %v", pf.Heads[0].Fraction, maxFraction)
	}
}

func TestAllocateFallbackPrefersForwardPaths(t *testing.T) {
	t.Parallel()

	m := newTestManager(testRiskConfig())
	p := testPricer(t)

	// Nothing here passes the viability filter, so all paths compete
	// and the forward ones sort first with a boosted fraction.
	paths := []types.PathResult{
		{Path: []string{"USDT", "ETH", "BTC", "USDT"}, ProfitPercent: dec("-4.3")},
		{Path: []string{"USDT", "BTC"}, ProfitPercent: dec("0.5")},
		{Path: []string{"USDT", "ETH"}, ProfitPercent: dec("0.4")},
		{Path: []string{"USDT", "ETH", "BTC"}, ProfitPercent: dec("0.3")},
	}
	pf := m.Allocate(p, "USDT", dec("1000"), dec("250"), paths)
	if pf == nil {
		t.Fatal("expected a portfolio")
	}
	if len(pf.Heads) != 3 {
		t.Fatalf("got %d heads, want 3", len(pf.Heads))
	}
	if pf.Heads[0].Path.Returning() {
		t.Errorf("first head %v is a cycle; forward paths should lead", pf.Heads[0].Path.Path)
	}
	for _, h := range pf.Heads {
		if h.Path.Returning() {
			continue
		}
		if !approx(h.Fraction, baseFraction*forwardBoost) {
			t.Errorf("forward head fraction = %v, want %v", h.Fraction, baseFraction*forwardBoost)
		}
	}
	if pf.Diversification < 0 || pf.Diversification > 1 {
		t.Errorf("Diversification = %v, outside [0,1]", pf.Diversification)
	}
	if pf.Strategy != "hydra_3_heads_pathfinding" {
		t.Errorf("Strategy = %q, want hydra_3_heads_pathfinding", pf.Strategy)
	}
}

func TestAllocateEmptyInputs(t *testing.T) {
	t.Parallel()

	m := newTestManager(testRiskConfig())
	p := testPricer(t)

	if pf := m.Allocate(p, "USDT", dec("1000"), dec("1000"), nil); pf != nil {
		t.Error("expected nil portfolio for no paths")
	}
	paths := []types.PathResult{{Path: []string{"USDT", "BTC"}}}
	if pf := m.Allocate(p, "USDT", decimal.Zero, decimal.Zero, paths); pf != nil {
		t.Error("expected nil portfolio for zero capital")
	}
}

func TestInstructionsSizedAndGated(t *testing.T) {
	t.Parallel()

	cfg := testRiskConfig()
	cfg.MinPositionSize = 0.1
	cfg.SizingRegime = "fixed"
	m := newTestManager(cfg)
	p := testPricer(t)

	paths := []types.PathResult{
		{Path: []string{"USDT", "BTC", "ETH", "USDT"}, ProfitPercent: dec("3.69")},
	}
	pf := m.Allocate(p, "USDT", dec("2"), dec("2"), paths)
	if pf == nil {
		t.Fatal("expected a portfolio")
	}

	instructions := m.Instructions([]*Portfolio{pf, nil}, DefaultTradeStats())
	if len(instructions) != 1 {
		t.Fatalf("got %d instructions, want 1", len(instructions))
	}

	in := instructions[0]
	if in.ID == "" {
		t.Error("instruction missing ID")
	}
	if in.StartAsset != "USDT" {
		t.Errorf("StartAsset = %q, want USDT", in.StartAsset)
	}
	if in.Regime != pf.Strategy {
		t.Errorf("Regime = %q, want %q", in.Regime, pf.Strategy)
	}
	// Fixed regime caps at capital × max_portfolio_risk = 0.1.
	if !in.Amount.Equal(dec("0.1")) {
		t.Errorf("Amount = %s, want 0.1", in.Amount)
	}
	if !in.PredictedProfitPercent.Equal(dec("3.69")) {
		t.Errorf("PredictedProfitPercent = %s, want 3.69", in.PredictedProfitPercent)
	}
}

func TestInstructionsDropRejectedHeads(t *testing.T) {
	t.Parallel()

	// Default minimum size of 10 rejects everything a 2-unit capital
	// can produce.
	m := newTestManager(testRiskConfig())
	p := testPricer(t)

	paths := []types.PathResult{
		{Path: []string{"USDT", "BTC", "ETH", "USDT"}, ProfitPercent: dec("3.69")},
	}
	pf := m.Allocate(p, "USDT", dec("2"), dec("2"), paths)
	if pf == nil {
		t.Fatal("expected a portfolio")
	}
	if got := m.Instructions([]*Portfolio{pf}, DefaultTradeStats()); len(got) != 0 {
		t.Errorf("got %d instructions, want 0 when every head fails a gate", len(got))
	}
}
