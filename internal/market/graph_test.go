package market

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"hydra/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testExchangeInfo() *types.ExchangeInfoResponse {
	lot := []types.ExchangeFilter{
		{FilterType: "LOT_SIZE", MinQty: "0.0001", MaxQty: "9000", StepSize: "0.0001"},
	}
	return &types.ExchangeInfoResponse{
		Symbols: []types.ExchangeSymbol{
			{Symbol: "ETHBTC", Status: "TRADING", BaseAsset: "ETH", QuoteAsset: "BTC", Filters: lot},
			{Symbol: "BNBBTC", Status: "TRADING", BaseAsset: "BNB", QuoteAsset: "BTC", Filters: lot},
			{Symbol: "BNBETH", Status: "TRADING", BaseAsset: "BNB", QuoteAsset: "ETH", Filters: lot},
			{Symbol: "BTCUSDT", Status: "TRADING", BaseAsset: "BTC", QuoteAsset: "USDT", Filters: lot},
			{Symbol: "LUNAUST", Status: "BREAK", BaseAsset: "LUNA", QuoteAsset: "UST", Filters: lot},
		},
	}
}

func TestGraphExcludesNonTradingSymbols(t *testing.T) {
	t.Parallel()
	g := NewGraph(testExchangeInfo(), testLogger())

	if g.HasAsset("LUNA") || g.HasAsset("UST") {
		t.Error("assets of a BREAK symbol should not enter the graph")
	}
	if _, ok := g.SymbolInfo("LUNAUST"); ok {
		t.Error("SymbolInfo returned a non-TRADING symbol")
	}

	assets, symbols := g.Size()
	if assets != 4 {
		t.Errorf("assets = %d, want 4", assets)
	}
	if symbols != 4 {
		t.Errorf("symbols = %d, want 4", symbols)
	}
}

func TestGraphAdjacencyIsUndirected(t *testing.T) {
	t.Parallel()
	g := NewGraph(testExchangeInfo(), testLogger())

	wantBTC := []string{"BNB", "ETH", "USDT"}
	got := g.Neighbors("BTC")
	if len(got) != len(wantBTC) {
		t.Fatalf("Neighbors(BTC) = %v, want %v", got, wantBTC)
	}
	for i, a := range wantBTC {
		if got[i] != a {
			t.Errorf("Neighbors(BTC)[%d] = %s, want %s", i, got[i], a)
		}
	}

	// Quote side sees the base side too.
	got = g.Neighbors("USDT")
	if len(got) != 1 || got[0] != "BTC" {
		t.Errorf("Neighbors(USDT) = %v, want [BTC]", got)
	}
}

func TestResolveRoundTrip(t *testing.T) {
	t.Parallel()
	g := NewGraph(testExchangeInfo(), testLogger())

	tests := []struct {
		from, to   string
		wantSymbol string
		wantSide   types.Side
		wantOK     bool
	}{
		{"ETH", "BTC", "ETHBTC", types.SELL, true},
		{"BTC", "ETH", "ETHBTC", types.BUY, true},
		{"BNB", "ETH", "BNBETH", types.SELL, true},
		{"ETH", "BNB", "BNBETH", types.BUY, true},
		{"ETH", "USDT", "", "", false},
		{"DOGE", "BTC", "", "", false},
	}

	for _, tt := range tests {
		symbol, side, ok := g.Resolve(tt.from, tt.to)
		if ok != tt.wantOK || symbol != tt.wantSymbol || side != tt.wantSide {
			t.Errorf("Resolve(%s, %s) = (%s, %s, %v), want (%s, %s, %v)",
				tt.from, tt.to, symbol, side, ok, tt.wantSymbol, tt.wantSide, tt.wantOK)
		}
	}
}

func TestGraphParsesLotSizeFilter(t *testing.T) {
	t.Parallel()
	g := NewGraph(testExchangeInfo(), testLogger())

	si, ok := g.SymbolInfo("ETHBTC")
	if !ok {
		t.Fatal("ETHBTC missing")
	}
	if si.LotSize == nil {
		t.Fatal("LOT_SIZE filter not parsed")
	}
	if si.LotSize.StepSize.String() != "0.0001" {
		t.Errorf("StepSize = %s, want 0.0001", si.LotSize.StepSize)
	}
	if si.Base != "ETH" || si.Quote != "BTC" {
		t.Errorf("assets = %s/%s, want ETH/BTC", si.Base, si.Quote)
	}
}

type fakeFetcher struct {
	failures int
	calls    int
}

func (f *fakeFetcher) ExchangeInfo(ctx context.Context) (*types.ExchangeInfoResponse, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection reset")
	}
	return testExchangeInfo(), nil
}

func TestBuildWithRetryGivesUpAfterThreeAttempts(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{failures: 99}
	if _, err := buildWithRetry(context.Background(), fetcher, testLogger(), time.Millisecond); err == nil {
		t.Error("expected error after exhausting attempts")
	}
	if fetcher.calls != buildAttempts {
		t.Errorf("ExchangeInfo called %d times, want %d", fetcher.calls, buildAttempts)
	}
}

func TestHolderSwap(t *testing.T) {
	t.Parallel()

	var h Holder
	if h.Load() != nil {
		t.Error("Load() before first build should be nil")
	}

	g := NewGraph(testExchangeInfo(), testLogger())
	h.Swap(g)
	if h.Load() != g {
		t.Error("Load() did not return the swapped graph")
	}
}
