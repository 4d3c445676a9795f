// Hydra — an autonomous multi-hop arbitrage bot for Binance spot
// markets.
//
// Architecture:
//
//	main.go              — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go     — orchestrator: streams → cycles → allocation → execution
//	analyzer/paths.go    — breadth-first search over the pair graph for profitable conversion chains
//	analyzer/pricing.go  — taker pricing of single hops from tickers, books, and fees
//	risk/manager.go      — path analysis, hydra capital allocation, sizing regimes, hard gates
//	executor/executor.go — multi-hop order placement with real-fill accounting
//	market/graph.go      — undirected asset/pair graph built from exchange info
//	market/state.go      — local mirror of live tickers and depth books
//	exchange/client.go   — REST client with endpoint failover, clock sync, and weight budgeting
//	exchange/ws.go       — ticker/depth/user WebSocket feeds with auto-reconnect
//	store/store.go       — sqlite trade history (survives restarts, feeds kelly sizing)
//	api/server.go        — observer endpoints: /healthz, /api/stats, /metrics
//
// How it makes money:
//
//	The bot watches every spot ticker and searches the pair graph for
//	multi-hop conversion chains whose product of taker prices, net of
//	fees, returns more than it started with. Capital is split across
//	the best few paths per start asset ("heads"), and forward paths
//	that end in a stronger asset are preferred so holdings migrate
//	toward better markets over time.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"hydra/internal/api"
	"hydra/internal/config"
	"hydra/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("HYDRA_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	metrics := api.NewMetrics()

	eng, err := engine.New(*cfg, metrics, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	var observer *api.Server
	if cfg.Observer.Enabled {
		observer = api.NewServer(cfg.Observer, eng, metrics, logger)
		go func() {
			if err := observer.Start(); err != nil {
				logger.Error("observer server failed", "error", err)
			}
		}()
		logger.Info("observer started", "url", fmt.Sprintf("http://localhost:%d", cfg.Observer.Port))
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	logger.Info("hydra started",
		"max_path_depth", cfg.Trading.MaxPathDepth,
		"profit_threshold", cfg.Trading.ProfitThreshold,
		"sizing_regime", cfg.Risk.SizingRegime,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if observer != nil {
		if err := observer.Stop(); err != nil {
			logger.Error("failed to stop observer", "error", err)
		}
	}

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
