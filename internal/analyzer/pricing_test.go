package analyzer

import (
	"log/slog"
	"os"
	"testing"

	"github.com/shopspring/decimal"

	"hydra/internal/market"
	"hydra/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// testGraph wires USDT, BTC, ETH, and BNB into a small trading universe.
func testGraph(t *testing.T) *market.Graph {
	t.Helper()
	lot := []types.ExchangeFilter{
		{FilterType: "LOT_SIZE", MinQty: "0.0001", MaxQty: "9000", StepSize: "0.0001"},
	}
	info := &types.ExchangeInfoResponse{
		Symbols: []types.ExchangeSymbol{
			{Symbol: "BTCUSDT", Status: "TRADING", BaseAsset: "BTC", QuoteAsset: "USDT", Filters: lot},
			{Symbol: "ETHUSDT", Status: "TRADING", BaseAsset: "ETH", QuoteAsset: "USDT", Filters: lot},
			{Symbol: "ETHBTC", Status: "TRADING", BaseAsset: "ETH", QuoteAsset: "BTC", Filters: lot},
			{Symbol: "BNBBTC", Status: "TRADING", BaseAsset: "BNB", QuoteAsset: "BTC", Filters: lot},
			{Symbol: "BNBETH", Status: "TRADING", BaseAsset: "BNB", QuoteAsset: "ETH", Filters: lot},
		},
	}
	return market.NewGraph(info, testLogger())
}

func testTickers() map[string]types.Ticker {
	return map[string]types.Ticker{
		"BTCUSDT": {Bid: dec("49990"), Ask: dec("50000"), QuoteVolume: dec("900000")},
		"ETHUSDT": {Bid: dec("2600"), Ask: dec("2601"), QuoteVolume: dec("500000")},
		"ETHBTC":  {Bid: dec("0.0499"), Ask: dec("0.05"), QuoteVolume: dec("400")},
		"BNBBTC":  {Bid: dec("0.0099"), Ask: dec("0.01"), QuoteVolume: dec("200")},
		"BNBETH":  {Bid: dec("0.198"), Ask: dec("0.2"), QuoteVolume: dec("100")},
	}
}

func newTestPricer(t *testing.T, books map[string]*types.DepthSnapshot) *Pricer {
	t.Helper()
	return NewPricer(testGraph(t), testTickers(), books, nil, dec("0.001"))
}

func TestConvertSellUsesBidLessFee(t *testing.T) {
	t.Parallel()
	p := newTestPricer(t, nil)

	// SELL 2 ETH on ETHUSDT: 2 * 2600 * 0.999 = 5194.8
	out, hop, ok := p.Convert("ETH", "USDT", dec("2"))
	if !ok {
		t.Fatal("Convert returned ok=false")
	}
	if hop.Symbol != "ETHUSDT" || hop.Side != types.SELL {
		t.Errorf("hop = %s %s, want ETHUSDT SELL", hop.Symbol, hop.Side)
	}
	if !out.Equal(dec("5194.8")) {
		t.Errorf("out = %s, want 5194.8", out)
	}
}

func TestConvertBuyUsesAskLessFee(t *testing.T) {
	t.Parallel()
	p := newTestPricer(t, nil)

	// BUY BTC with 1000 USDT: 1000 / 50000 * 0.999 = 0.01998
	out, hop, ok := p.Convert("USDT", "BTC", dec("1000"))
	if !ok {
		t.Fatal("Convert returned ok=false")
	}
	if hop.Symbol != "BTCUSDT" || hop.Side != types.BUY {
		t.Errorf("hop = %s %s, want BTCUSDT BUY", hop.Symbol, hop.Side)
	}
	if !out.Equal(dec("0.01998")) {
		t.Errorf("out = %s, want 0.01998", out)
	}
}

func TestConvertPrefersCrossedBook(t *testing.T) {
	t.Parallel()

	books := map[string]*types.DepthSnapshot{
		"ETHUSDT": {
			Symbol: "ETHUSDT",
			Bids:   []types.BookLevel{{Price: dec("2610"), Qty: dec("5")}},
			Asks:   []types.BookLevel{{Price: dec("2611"), Qty: dec("5")}},
		},
	}
	p := newTestPricer(t, books)

	// Book bid 2610 beats ticker bid 2600: 1 * 2610 * 0.999 = 2607.39
	out, _, ok := p.Convert("ETH", "USDT", dec("1"))
	if !ok {
		t.Fatal("Convert returned ok=false")
	}
	if !out.Equal(dec("2607.39")) {
		t.Errorf("out = %s, want 2607.39 (book-priced)", out)
	}
}

func TestConvertIgnoresOneSidedBook(t *testing.T) {
	t.Parallel()

	books := map[string]*types.DepthSnapshot{
		"ETHUSDT": {
			Symbol: "ETHUSDT",
			Bids:   []types.BookLevel{{Price: dec("2610"), Qty: dec("5")}},
		},
	}
	p := newTestPricer(t, books)

	// Asks empty, so the ticker is used: 1 * 2600 * 0.999 = 2597.4
	out, _, ok := p.Convert("ETH", "USDT", dec("1"))
	if !ok {
		t.Fatal("Convert returned ok=false")
	}
	if !out.Equal(dec("2597.4")) {
		t.Errorf("out = %s, want 2597.4 (ticker fallback)", out)
	}
}

func TestConvertPerSymbolFee(t *testing.T) {
	t.Parallel()

	fees := map[string]types.TradeFee{
		"ETHUSDT": {Maker: dec("0.0008"), Taker: dec("0.002")},
	}
	p := NewPricer(testGraph(t), testTickers(), nil, fees, dec("0.001"))

	// 1 * 2600 * 0.998 = 2594.8
	out, _, ok := p.Convert("ETH", "USDT", dec("1"))
	if !ok {
		t.Fatal("Convert returned ok=false")
	}
	if !out.Equal(dec("2594.8")) {
		t.Errorf("out = %s, want 2594.8 with 0.002 taker fee", out)
	}
}

func TestConvertBelowMinNotional(t *testing.T) {
	t.Parallel()
	p := NewPricer(testGraph(t), testTickers(), nil, nil, dec("10"))

	// SELL notional: 0.003 ETH * 2600 = 7.8 < 10
	if _, _, ok := p.Convert("ETH", "USDT", dec("0.003")); ok {
		t.Error("sell below min notional should be infeasible")
	}
	// BUY notional is the quote quantity itself: 9 USDT < 10
	if _, _, ok := p.Convert("USDT", "BTC", dec("9")); ok {
		t.Error("buy below min notional should be infeasible")
	}
	// 20 USDT clears the bar.
	if _, _, ok := p.Convert("USDT", "BTC", dec("20")); !ok {
		t.Error("buy above min notional should be feasible")
	}
}

func TestConvertUnresolvablePair(t *testing.T) {
	t.Parallel()
	p := newTestPricer(t, nil)

	if _, _, ok := p.Convert("BNB", "USDT", dec("1")); ok {
		t.Error("no BNB/USDT pair exists, conversion should fail")
	}
}

func TestPricePathThreeHopCycle(t *testing.T) {
	t.Parallel()
	p := newTestPricer(t, nil)

	// 1000 USDT -> BTC -> ETH -> USDT
	//   1000 / 50000 * 0.999             = 0.01998    BTC
	//   0.01998 / 0.05 * 0.999           = 0.3992004  ETH
	//   0.3992004 * 2600 * 0.999         = 1036.88311896 USDT
	final, hops, ok := p.PricePath([]string{"USDT", "BTC", "ETH", "USDT"}, dec("1000"))
	if !ok {
		t.Fatal("PricePath returned ok=false")
	}
	if !final.Equal(dec("1036.88311896")) {
		t.Errorf("final = %s, want 1036.88311896", final)
	}
	if len(hops) != 3 {
		t.Fatalf("hops = %d, want 3", len(hops))
	}
	wantHops := []types.Hop{
		{From: "USDT", To: "BTC", Symbol: "BTCUSDT", Side: types.BUY},
		{From: "BTC", To: "ETH", Symbol: "ETHBTC", Side: types.BUY},
		{From: "ETH", To: "USDT", Symbol: "ETHUSDT", Side: types.SELL},
	}
	for i, want := range wantHops {
		if hops[i] != want {
			t.Errorf("hop[%d] = %+v, want %+v", i, hops[i], want)
		}
	}
}

func TestPathSymbols(t *testing.T) {
	t.Parallel()
	p := newTestPricer(t, nil)

	symbols := p.PathSymbols([]string{"USDT", "BTC", "ETH", "USDT"})
	for _, want := range []string{"BTCUSDT", "ETHBTC", "ETHUSDT"} {
		if !symbols[want] {
			t.Errorf("PathSymbols missing %s", want)
		}
	}
	if len(symbols) != 3 {
		t.Errorf("len(symbols) = %d, want 3", len(symbols))
	}
}

func TestSpread(t *testing.T) {
	t.Parallel()
	p := newTestPricer(t, nil)

	spread, ok := p.Spread("BTCUSDT")
	if !ok {
		t.Fatal("Spread returned ok=false")
	}
	// (50000 - 49990) / 49990
	want := 10.0 / 49990.0
	if diff := spread - want; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("spread = %v, want %v", spread, want)
	}

	if _, ok := p.Spread("NOPE"); ok {
		t.Error("Spread for unknown symbol should be ok=false")
	}
}
