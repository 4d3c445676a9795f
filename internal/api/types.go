package api

import "time"

// Stats is the bot state snapshot served by /api/stats.
type Stats struct {
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`

	// Cycle counters
	Cycles            int64  `json:"cycles"`
	LastCycleDuration string `json:"last_cycle_duration"`
	LastCyclePaths    int    `json:"last_cycle_paths"`

	// Market view
	GraphAssets        int `json:"graph_assets"`
	GraphSymbols       int `json:"graph_symbols"`
	TickerSymbols      int `json:"ticker_symbols"`
	ActiveDepthStreams int `json:"active_depth_streams"`
	UsedWeight         int `json:"used_weight"`

	MarketVolatility float64 `json:"market_volatility"`
	MarketVolume     string  `json:"market_volume"`

	// Trading
	OpenPositions int     `json:"open_positions"`
	DailyPnL      string  `json:"daily_pnl"`
	Trades        int64   `json:"trades"`
	Wins          int64   `json:"wins"`
	SuccessRate   float64 `json:"success_rate"`
	TotalProfit   string  `json:"total_profit"`
	AvgProfit     string  `json:"avg_profit"`
	Regime        string  `json:"regime"`

	RecentTrades []TradeRow `json:"recent_trades"`
}

// TradeRow is one historical trade in the stats snapshot.
type TradeRow struct {
	Timestamp  string `json:"timestamp"`
	Path       string `json:"path"`
	Success    bool   `json:"success"`
	ProfitLoss string `json:"profit_loss"`
	Regime     string `json:"regime"`
}

// StatsProvider supplies the current snapshot. The engine implements it.
type StatsProvider interface {
	Stats() Stats
}
