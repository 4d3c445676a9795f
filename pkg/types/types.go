// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — symbols, tickers,
// order books, trade paths, instructions, and the REST/WebSocket payloads
// of the exchange API. It has no dependencies on internal packages, so it
// can be imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// OrderType enumerates the supported order types. The bot only ever takes
// liquidity, so MARKET is the single variant in use.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
)

// SymbolStatus is the exchange-reported trading status of a symbol.
type SymbolStatus string

const (
	StatusTrading SymbolStatus = "TRADING"
	StatusBreak   SymbolStatus = "BREAK"
	StatusHalt    SymbolStatus = "HALT"
)

// ————————————————————————————————————————————————————————————————————————
// Symbols and filters
// ————————————————————————————————————————————————————————————————————————

// LotSizeFilter constrains order quantity for a symbol: quantities must lie
// in [MinQty, MaxQty] and be a multiple of StepSize offset from MinQty.
type LotSizeFilter struct {
	MinQty   decimal.Decimal
	MaxQty   decimal.Decimal
	StepSize decimal.Decimal
}

// SymbolInfo is the internal representation of one tradeable spot pair,
// populated from the exchange-info endpoint during graph builds.
type SymbolInfo struct {
	Symbol  string       // e.g. "ETHBTC"
	Base    string       // e.g. "ETH"
	Quote   string       // e.g. "BTC"
	Status  SymbolStatus // only TRADING symbols enter the graph
	LotSize *LotSizeFilter
}

// ————————————————————————————————————————————————————————————————————————
// Market state
// ————————————————————————————————————————————————————————————————————————

// Ticker is the best bid/ask view of a symbol, fed by the all-market
// ticker stream. QuoteVolume is the trailing quote-asset volume used to
// rank symbols by activity.
type Ticker struct {
	Bid         decimal.Decimal
	Ask         decimal.Decimal
	QuoteVolume decimal.Decimal
}

// BookLevel is a single bid or ask level in a depth snapshot.
type BookLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// DepthSnapshot is a point-in-time top-of-book view of one symbol,
// maintained locally from the partial depth stream.
type DepthSnapshot struct {
	Symbol    string
	Bids      []BookLevel // sorted descending by price (best bid first)
	Asks      []BookLevel // sorted ascending by price (best ask first)
	Timestamp time.Time
}

// BestBid returns the top bid, or zero when the book side is empty.
func (d *DepthSnapshot) BestBid() decimal.Decimal {
	if len(d.Bids) == 0 {
		return decimal.Zero
	}
	return d.Bids[0].Price
}

// BestAsk returns the top ask, or zero when the book side is empty.
func (d *DepthSnapshot) BestAsk() decimal.Decimal {
	if len(d.Asks) == 0 {
		return decimal.Zero
	}
	return d.Asks[0].Price
}

// Crossed reports whether the snapshot has liquidity on both sides.
// Pricing prefers the book only when this holds; otherwise the ticker
// is used as the fallback price source.
func (d *DepthSnapshot) Crossed() bool {
	return d != nil && len(d.Bids) > 0 && len(d.Asks) > 0
}

// Balance is one asset's account balance.
type Balance struct {
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// TradeFee is a symbol's maker/taker commission rate (e.g. 0.001 = 10 bps).
type TradeFee struct {
	Maker decimal.Decimal
	Taker decimal.Decimal
}

// ————————————————————————————————————————————————————————————————————————
// Paths, instructions, and results
// ————————————————————————————————————————————————————————————————————————

// Hop is one conversion step within a trade path: trade Symbol on Side to
// convert From into To.
type Hop struct {
	From   string
	To     string
	Symbol string
	Side   Side
}

// PathResult is one candidate arbitrage path found by the analyzer.
// Path lists assets in visit order starting with the start asset.
// A path that ends where it started is a cycle; a non-returning ("forward")
// path converts the holdings into a different asset at a profit.
type PathResult struct {
	Path          []string
	Hops          []Hop
	StartAmount   decimal.Decimal
	FinalAmount   decimal.Decimal
	ProfitPercent decimal.Decimal
}

// Returning reports whether the path ends at its start asset.
func (p *PathResult) Returning() bool {
	return len(p.Path) > 1 && p.Path[0] == p.Path[len(p.Path)-1]
}

// PathAnalysis is the risk profile computed for one candidate path.
// The scalar metrics are heuristic scores, not exchange quantities, so
// they are plain floats.
type PathAnalysis struct {
	RiskScore       float64
	Volatility      float64
	ExpectedProfit  decimal.Decimal
	SharpeRatio     float64
	MaxDrawdown     float64
	ExecProbability float64
	Correlation     float64
	Investment      decimal.Decimal
}

// TradeInstruction is an executable order emitted by the allocator: trade
// Amount of the start asset along Path.
type TradeInstruction struct {
	ID                     string
	StartAsset             string
	Path                   []string
	Hops                   []Hop
	Amount                 decimal.Decimal
	PredictedProfitPercent decimal.Decimal
	Regime                 string // allocation strategy label, e.g. "hydra_3_heads"
	CreatedAt              time.Time
}

// ExecutionResult is the outcome of executing one instruction with real
// fills. Success means the final amount exceeded the initial amount after
// commissions.
type ExecutionResult struct {
	InstructionID          string
	Path                   []string
	Success                bool
	InitialAmount          decimal.Decimal
	FinalAmount            decimal.Decimal
	ProfitLoss             decimal.Decimal
	TotalCommission        decimal.Decimal
	ExecutionTime          time.Duration
	PredictedProfitPercent decimal.Decimal
	Regime                 string
	Error                  string
}

// ————————————————————————————————————————————————————————————————————————
// REST payloads
// ————————————————————————————————————————————————————————————————————————
// Prices and quantities arrive as JSON strings to preserve decimal
// precision; they are parsed into decimals at the client boundary.

// ServerTimeResponse is returned by GET /api/v3/time.
type ServerTimeResponse struct {
	ServerTime int64 `json:"serverTime"`
}

// SystemStatusResponse is returned by GET /sapi/v1/system/status.
// Status 0 means normal, 1 means maintenance.
type SystemStatusResponse struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
}

// ExchangeFilter is one entry of a symbol's filter list. Only LOT_SIZE
// and NOTIONAL fields are consumed; the rest pass through untouched.
type ExchangeFilter struct {
	FilterType  string `json:"filterType"`
	MinQty      string `json:"minQty"`
	MaxQty      string `json:"maxQty"`
	StepSize    string `json:"stepSize"`
	MinNotional string `json:"minNotional"`
}

// ExchangeSymbol is one symbol entry of the exchange-info response.
type ExchangeSymbol struct {
	Symbol     string           `json:"symbol"`
	Status     string           `json:"status"`
	BaseAsset  string           `json:"baseAsset"`
	QuoteAsset string           `json:"quoteAsset"`
	Filters    []ExchangeFilter `json:"filters"`
}

// ExchangeInfoResponse is returned by GET /api/v3/exchangeInfo.
type ExchangeInfoResponse struct {
	ServerTime int64            `json:"serverTime"`
	Symbols    []ExchangeSymbol `json:"symbols"`
}

// AccountBalance is one balance entry of the account response.
type AccountBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// AccountResponse is returned by GET /api/v3/account (signed).
type AccountResponse struct {
	CanTrade bool             `json:"canTrade"`
	Balances []AccountBalance `json:"balances"`
}

// TradeFeeEntry is one symbol's commission rates from GET /sapi/v1/asset/tradeFee.
type TradeFeeEntry struct {
	Symbol          string `json:"symbol"`
	MakerCommission string `json:"makerCommission"`
	TakerCommission string `json:"takerCommission"`
}

// TickerPriceEntry is one entry of GET /api/v3/ticker/price.
type TickerPriceEntry struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// OrderFill is one fill of an executed order.
type OrderFill struct {
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
}

// OrderResponse is returned by POST /api/v3/order and GET /api/v3/order.
type OrderResponse struct {
	Symbol              string      `json:"symbol"`
	OrderID             int64       `json:"orderId"`
	ClientOrderID       string      `json:"clientOrderId"`
	Status              string      `json:"status"`
	ExecutedQty         string      `json:"executedQty"`
	CummulativeQuoteQty string      `json:"cummulativeQuoteQty"`
	Side                string      `json:"side"`
	Type                string      `json:"type"`
	Fills               []OrderFill `json:"fills"`
}

// AccountTrade is one fill entry from GET /api/v3/myTrades.
type AccountTrade struct {
	Symbol          string `json:"symbol"`
	ID              int64  `json:"id"`
	OrderID         int64  `json:"orderId"`
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	QuoteQty        string `json:"quoteQty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	Time            int64  `json:"time"`
	IsBuyer         bool   `json:"isBuyer"`
}

// APIError is the error body the exchange returns on rejected requests.
type APIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// ListenKeyResponse is returned by POST /api/v3/userDataStream.
type ListenKeyResponse struct {
	ListenKey string `json:"listenKey"`
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket events
// ————————————————————————————————————————————————————————————————————————

// WSTicker is one symbol's entry in the all-market ticker stream
// (!ticker@arr). The stream delivers either a JSON array of these or a
// single object.
type WSTicker struct {
	Symbol       string `json:"s"`
	BidPrice     string `json:"b"`
	AskPrice     string `json:"a"`
	LastQuoteQty string `json:"Q"`
}

// WSDepthUpdate is a partial book depth message (<symbol>@depth5@1000ms).
// Levels are [price, qty] string pairs. Combined streams tag the symbol in
// "s"; raw partial-depth frames omit it, so the feed fills Symbol from the
// subscription it was read on.
type WSDepthUpdate struct {
	EventType string     `json:"e"`
	Symbol    string     `json:"s"`
	Bids      [][]string `json:"b"`
	Asks      [][]string `json:"a"`
	// Raw partial depth frames use long field names.
	BidsAlt [][]string `json:"bids"`
	AsksAlt [][]string `json:"asks"`
}

// BidLevels returns whichever bid field the frame populated.
func (d *WSDepthUpdate) BidLevels() [][]string {
	if len(d.Bids) > 0 {
		return d.Bids
	}
	return d.BidsAlt
}

// AskLevels returns whichever ask field the frame populated.
func (d *WSDepthUpdate) AskLevels() [][]string {
	if len(d.Asks) > 0 {
		return d.Asks
	}
	return d.AsksAlt
}

// WSUserEvent is a frame from the user-data stream. Only the event type
// and balance deltas are consumed; order updates are fetched via REST.
type WSUserEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Balances  []struct {
		Asset  string `json:"a"`
		Free   string `json:"f"`
		Locked string `json:"l"`
	} `json:"B"`
}
