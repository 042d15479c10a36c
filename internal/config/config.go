package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"papertrade/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the paper-trading engine.
type Config struct {
	Storage Storage       `yaml:"storage"`
	Server  Server        `yaml:"server"`
	Alpaca  Alpaca        `yaml:"alpaca"`
	Logging Logging       `yaml:"logging"`
	Trading TradingConfig `yaml:"trading"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API,
// used for quotes, average daily volume and the trading calendar.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	BaseURL         string `yaml:"base_url"`
	DataURL         string `yaml:"data_url"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Enabled reports whether credentials are present.
func (a Alpaca) Enabled() bool {
	return a.APIKey != "" && a.APISecret != ""
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TradingConfig defines account, risk and execution parameters.
type TradingConfig struct {
	// StartingEquity is the cash a new account is created with.
	StartingEquity float64 `yaml:"starting_equity"`
	// ContractMultiplier scales price × quantity to notional. 100 reproduces
	// option-contract sizing; use 1 for shares.
	ContractMultiplier float64 `yaml:"contract_multiplier"`
	// MaxRiskPerTrade is a hard per-order cost ceiling in dollars.
	MaxRiskPerTrade float64 `yaml:"max_risk_per_trade"`
	// MaxPositions is the ceiling on concurrently open positions.
	MaxPositions int `yaml:"max_positions"`
	// MaxSingleSymbolPct caps exposure to one symbol/underlying as a
	// percentage (0-100) of equity.
	MaxSingleSymbolPct float64 `yaml:"max_single_symbol_pct"`

	PDT      PDTConfig      `yaml:"pdt"`
	Slippage SlippageConfig `yaml:"slippage"`
	Calendar CalendarConfig `yaml:"calendar"`
}

// PDTConfig configures the rolling day-trade limiter.
type PDTConfig struct {
	MaxDayTrades int `yaml:"max_day_trades"`
	WindowDays   int `yaml:"window_days"`
}

// SlippageConfig configures simulated execution.
type SlippageConfig struct {
	Pessimistic          bool    `yaml:"pessimistic"`
	Bps                  int     `yaml:"bps"`
	MinTick              float64 `yaml:"min_tick"`
	LargeOrderQty        int64   `yaml:"large_order_qty"`
	LargeOrderMultiplier float64 `yaml:"large_order_multiplier"`
	ImpactFactor         float64 `yaml:"impact_factor"`
}

// CalendarConfig extends the built-in holiday list.
type CalendarConfig struct {
	ExtraHolidays     []string `yaml:"extra_holidays"`
	SyncFromAlpaca    bool     `yaml:"sync_from_alpaca"`
	SyncLookaheadDays int      `yaml:"sync_lookahead_days"`
}

// ---------------------------------------------------------------------------
// Defaults and validation
// ---------------------------------------------------------------------------

// Default returns the configuration used when a field is absent from the
// YAML file.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/papertrade.db",
		},
		Server: Server{
			Host:     "127.0.0.1",
			Port:     8080,
			GRPCPort: 9090,
		},
		Alpaca: Alpaca{
			BaseURL:         "https://paper-api.alpaca.markets",
			RateLimitPerMin: 200,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Trading: TradingConfig{
			StartingEquity:     100000,
			ContractMultiplier: domain.DefaultContractMultiplier,
			MaxRiskPerTrade:    1000,
			MaxPositions:       5,
			MaxSingleSymbolPct: 50,
			PDT: PDTConfig{
				MaxDayTrades: 3,
				WindowDays:   5,
			},
			Slippage: SlippageConfig{
				Pessimistic:          true,
				Bps:                  10,
				MinTick:              0.01,
				LargeOrderQty:        10,
				LargeOrderMultiplier: 2,
				ImpactFactor:         10,
			},
			Calendar: CalendarConfig{
				SyncLookaheadDays: 365,
			},
		},
	}
}

// Validate rejects configurations the engine cannot run with. Errors wrap
// domain.ErrInvalidConfig.
func (c *Config) Validate() error {
	t := c.Trading
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(t.StartingEquity > 0, "trading.starting_equity must be positive, got %v", t.StartingEquity)
	check(t.ContractMultiplier > 0, "trading.contract_multiplier must be positive, got %v", t.ContractMultiplier)
	check(t.MaxRiskPerTrade > 0, "trading.max_risk_per_trade must be positive, got %v", t.MaxRiskPerTrade)
	check(t.MaxPositions > 0, "trading.max_positions must be positive, got %d", t.MaxPositions)
	check(t.MaxSingleSymbolPct > 0 && t.MaxSingleSymbolPct <= 100,
		"trading.max_single_symbol_pct must be in (0, 100], got %v", t.MaxSingleSymbolPct)
	check(t.PDT.MaxDayTrades >= 0, "trading.pdt.max_day_trades must not be negative, got %d", t.PDT.MaxDayTrades)
	check(t.PDT.WindowDays > 0, "trading.pdt.window_days must be positive, got %d", t.PDT.WindowDays)
	check(t.Slippage.Bps >= 0, "trading.slippage.bps must not be negative, got %d", t.Slippage.Bps)
	check(t.Slippage.MinTick > 0, "trading.slippage.min_tick must be positive, got %v", t.Slippage.MinTick)
	check(t.Slippage.LargeOrderMultiplier >= 1,
		"trading.slippage.large_order_multiplier must be >= 1, got %v", t.Slippage.LargeOrderMultiplier)
	check(t.Slippage.ImpactFactor >= 0, "trading.slippage.impact_factor must not be negative, got %v", t.Slippage.ImpactFactor)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path over Default(),
// applies environment variable overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("STARTING_EQUITY"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: STARTING_EQUITY %q: %v", domain.ErrInvalidConfig, v, err)
		}
		cfg.Trading.StartingEquity = f
	}

	if v := os.Getenv("HTTP_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: HTTP_PORT %q: %v", domain.ErrInvalidConfig, v, err)
		}
		cfg.Server.Port = p
	}

	// Standard Alpaca env vars take precedence.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	return nil
}
