// Package config defines all configuration for the arbitrage bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// tunables overridable via HYDRA_* environment variables. API credentials
// come from the environment only (BINANCE_API_KEY, BINANCE_API_SECRET),
// with a .env file loaded when present.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure. It is passed by value to constructors; nothing reads it from
// a package global.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Trading  TradingConfig  `mapstructure:"trading"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Store    StoreConfig    `mapstructure:"store"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Observer ObserverConfig `mapstructure:"observer"`
}

// APIConfig holds exchange credentials and request tuning. Key and Secret
// are never read from YAML.
type APIConfig struct {
	Key          string        `mapstructure:"-"`
	Secret       string        `mapstructure:"-"`
	RecvWindowMs int64         `mapstructure:"recv_window_ms"`
	Timeout      time.Duration `mapstructure:"timeout"`
	WeightLimit  int           `mapstructure:"weight_limit"`
	WeightWindow time.Duration `mapstructure:"weight_window"`
}

// TradingConfig tunes the path search and the analysis cycle.
//
//   - MaxPathDepth: maximum number of hops explored per path.
//   - ProfitThreshold: baseline profit fraction a path must beat (e.g.
//     0.001 = 0.1%); dynamic parameters scale it with market volatility.
//   - MinNotional: minimum trade value in quote terms; hops below it are
//     infeasible.
//   - CycleEvery: run an analysis cycle every N ticker stream messages.
//   - GraphRebuildTicks: rebuild the pair graph after this many heartbeat
//     seconds.
//   - DepthSettle: wait after subscribing new depth streams before
//     executing, so books have a frame of data.
type TradingConfig struct {
	MaxPathDepth      int           `mapstructure:"max_path_depth"`
	ProfitThreshold   float64       `mapstructure:"profit_threshold"`
	MinNotional       float64       `mapstructure:"min_notional"`
	MaxPathsExplored  int           `mapstructure:"max_paths_explored"`
	CycleEvery        int           `mapstructure:"cycle_every"`
	GraphRebuildTicks int           `mapstructure:"graph_rebuild_ticks"`
	DepthSettle       time.Duration `mapstructure:"depth_settle"`
	TopVolumeSymbols  int           `mapstructure:"top_volume_symbols"`
}

// RiskConfig sets the baseline risk limits. Dynamic parameters scale the
// percentage limits with observed market volatility.
type RiskConfig struct {
	MaxPortfolioRisk       float64 `mapstructure:"max_portfolio_risk"`
	MaxDailyLoss           float64 `mapstructure:"max_daily_loss"`
	StopLossPct            float64 `mapstructure:"stop_loss_pct"`
	TakeProfitPct          float64 `mapstructure:"take_profit_pct"`
	RiskFreeRate           float64 `mapstructure:"risk_free_rate"`
	MinSharpe              float64 `mapstructure:"min_sharpe"`
	MaxCorrelation         float64 `mapstructure:"max_correlation"`
	MaxConcurrentPositions int     `mapstructure:"max_concurrent_positions"`
	MinPositionSize        float64 `mapstructure:"min_position_size"`
	SizingRegime           string  `mapstructure:"sizing_regime"` // kelly, volatility, fixed
}

// StoreConfig sets where trade history is persisted (sqlite).
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ObserverConfig controls the metrics/stats HTTP server.
type ObserverConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load reads config from a YAML file with env var overrides. A missing
// file is fine; defaults cover every tunable. Credentials are required
// and come from BINANCE_API_KEY / BINANCE_API_SECRET, optionally via a
// .env file in the working directory.
func Load(path string) (*Config, error) {
	// Best effort; absence of a .env file is not an error.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("HYDRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.API.Key = os.Getenv("BINANCE_API_KEY")
	cfg.API.Secret = os.Getenv("BINANCE_API_SECRET")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.recv_window_ms", 5000)
	v.SetDefault("api.timeout", 10*time.Second)
	v.SetDefault("api.weight_limit", 6000)
	v.SetDefault("api.weight_window", time.Minute)

	v.SetDefault("trading.max_path_depth", 4)
	v.SetDefault("trading.profit_threshold", 0.001)
	v.SetDefault("trading.min_notional", 10.0)
	v.SetDefault("trading.max_paths_explored", 100000)
	v.SetDefault("trading.cycle_every", 10)
	v.SetDefault("trading.graph_rebuild_ticks", 21600)
	v.SetDefault("trading.depth_settle", 2*time.Second)
	v.SetDefault("trading.top_volume_symbols", 20)

	v.SetDefault("risk.max_portfolio_risk", 0.05)
	v.SetDefault("risk.max_daily_loss", 0.02)
	v.SetDefault("risk.stop_loss_pct", 0.01)
	v.SetDefault("risk.take_profit_pct", 0.02)
	v.SetDefault("risk.risk_free_rate", 0.02)
	v.SetDefault("risk.min_sharpe", 0.5)
	v.SetDefault("risk.max_correlation", 0.7)
	v.SetDefault("risk.max_concurrent_positions", 5)
	v.SetDefault("risk.min_position_size", 10.0)
	v.SetDefault("risk.sizing_regime", "kelly")

	v.SetDefault("store.path", "hydra_memory.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("observer.enabled", true)
	v.SetDefault("observer.port", 5000)
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.API.Key == "" {
		return fmt.Errorf("BINANCE_API_KEY is required")
	}
	if c.API.Secret == "" {
		return fmt.Errorf("BINANCE_API_SECRET is required")
	}
	if c.Trading.MaxPathDepth < 2 {
		return fmt.Errorf("trading.max_path_depth must be >= 2")
	}
	if c.Trading.CycleEvery <= 0 {
		return fmt.Errorf("trading.cycle_every must be > 0")
	}
	if c.Trading.MinNotional <= 0 {
		return fmt.Errorf("trading.min_notional must be > 0")
	}
	if c.Risk.MaxPortfolioRisk <= 0 || c.Risk.MaxPortfolioRisk > 1 {
		return fmt.Errorf("risk.max_portfolio_risk must be in (0, 1]")
	}
	if c.Risk.MaxDailyLoss <= 0 || c.Risk.MaxDailyLoss > 1 {
		return fmt.Errorf("risk.max_daily_loss must be in (0, 1]")
	}
	if c.Risk.MaxConcurrentPositions <= 0 {
		return fmt.Errorf("risk.max_concurrent_positions must be > 0")
	}
	switch c.Risk.SizingRegime {
	case "kelly", "volatility", "fixed":
	default:
		return fmt.Errorf("risk.sizing_regime must be one of: kelly, volatility, fixed")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	return nil
}
