package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the prometheus instruments exported on /metrics. All
// metrics live in a private registry so tests can run in parallel
// without collisions.
type Metrics struct {
	registry *prometheus.Registry

	Cycles             prometheus.Counter
	CycleDuration      prometheus.Histogram
	PathsFound         prometheus.Gauge
	Executions         *prometheus.CounterVec
	ProfitTotal        prometheus.Gauge
	UsedWeight         prometheus.Gauge
	DepthSubscriptions prometheus.Gauge
	OpenPositions      prometheus.Gauge
	GraphSymbols       prometheus.Gauge
	MarketVolatility   prometheus.Gauge
	MarketVolume       prometheus.Gauge
}

// NewMetrics creates and registers the bot's metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Cycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "hydra_cycles_total",
			Help: "Analysis cycles completed.",
		}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hydra_cycle_duration_seconds",
			Help:    "Duration of one analysis cycle.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		PathsFound: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hydra_paths_found",
			Help: "Profitable paths found in the last cycle.",
		}),
		Executions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hydra_executions_total",
			Help: "Executed instructions by outcome.",
		}, []string{"outcome"}),
		ProfitTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hydra_profit_total",
			Help: "Cumulative realized profit across all trades.",
		}),
		UsedWeight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hydra_api_used_weight",
			Help: "Request weight consumed in the current window.",
		}),
		DepthSubscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hydra_depth_subscriptions",
			Help: "Active partial depth stream subscriptions.",
		}),
		OpenPositions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hydra_open_positions",
			Help: "Currently open positions.",
		}),
		GraphSymbols: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hydra_graph_symbols",
			Help: "TRADING symbols in the current pair graph.",
		}),
		MarketVolatility: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hydra_market_volatility_pct",
			Help: "Average relative spread across graph symbols, in percent.",
		}),
		MarketVolume: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hydra_market_volume_quote",
			Help: "Summed 24h quote volume across graph symbols.",
		}),
	}
}

// RecordExecution counts one finished execution by outcome.
func (m *Metrics) RecordExecution(success bool) {
	outcome := "loss"
	if success {
		outcome = "win"
	}
	m.Executions.WithLabelValues(outcome).Inc()
}
