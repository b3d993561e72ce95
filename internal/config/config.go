// Package config provides configuration management for the trading engine.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Trading mode constants.
const (
	ModePaper    = "paper"
	ModeLive     = "live"
	ModeBacktest = "backtest"
)

// Defaults applied by normalize when fields are unset.
const (
	defaultCheckIntervalPaper = 30 * time.Second
	defaultCheckIntervalLive  = 60 * time.Second
	defaultPriceTTL           = 60 * time.Second
	defaultInstrumentTTL      = 30 * time.Minute
	defaultCooldownMinutes    = 10
	defaultTopN               = 3
	defaultMinAgreement       = 0.4
	defaultMinConfidence      = 0.35
	defaultRiskPerTradePct    = 0.01
	defaultRiskPerTradeLive   = 0.005
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Capital     CapitalConfig     `yaml:"capital"`
	Universe    UniverseConfig    `yaml:"universe"`
	Signals     SignalConfig      `yaml:"signals"`
	Risk        RiskConfig        `yaml:"risk"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Cache       CacheConfig       `yaml:"cache"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	State       StateConfig       `yaml:"state"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	FNO         FNOConfig         `yaml:"fno"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live | backtest
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines broker API settings.
type BrokerConfig struct {
	APIKey      string `yaml:"api_key"`
	AccessToken string `yaml:"access_token"`
	APIEndpoint string `yaml:"api_endpoint"`
}

// CapitalConfig defines cash and position sizing limits.
type CapitalConfig struct {
	InitialCapital  float64 `yaml:"initial_capital"`
	MaxPositions    int     `yaml:"max_positions"`
	MinPositionSize float64 `yaml:"min_position_size"` // fraction of cash
	MidPositionSize float64 `yaml:"mid_position_size"` // fraction of cash
	MaxPositionSize float64 `yaml:"max_position_size"` // fraction of cash
}

// UniverseConfig defines the instruments scanned every iteration.
type UniverseConfig struct {
	Symbols     []string `yaml:"symbols"`
	RegimeIndex string   `yaml:"regime_index"` // reference index for regime detection
	BatchSize   int      `yaml:"batch_size"`
}

// SignalConfig defines aggregation thresholds.
type SignalConfig struct {
	MinAgreement  float64 `yaml:"min_agreement"`
	MinConfidence float64 `yaml:"min_confidence"`
	TopN          int     `yaml:"top_n"`
}

// RiskConfig defines risk management parameters.
type RiskConfig struct {
	RiskPerTradePct       float64 `yaml:"risk_per_trade_pct"`
	ATRStopMultiplier     float64 `yaml:"atr_stop_multiplier"`
	ATRTargetMultiplier   float64 `yaml:"atr_target_multiplier"`
	TrailingActivationMul float64 `yaml:"trailing_activation_multiplier"`
	TrailingStopMul       float64 `yaml:"trailing_stop_multiplier"`
	CooldownMinutes       int     `yaml:"cooldown_minutes"`
	StopLossCooldownMin   int     `yaml:"stop_loss_cooldown_minutes"`
	ExitScoreThreshold    float64 `yaml:"exit_score_threshold"`
	MaxStrategyShare      float64 `yaml:"max_strategy_share"` // per-strategy concentration cap
}

// RateLimitConfig defines broker request throttling.
type RateLimitConfig struct {
	PerSecond int `yaml:"per_second"`
	PerMinute int `yaml:"per_minute"`
	Burst     int `yaml:"burst"` // per 100ms
}

// CacheConfig defines TTLs for the price and instrument caches.
type CacheConfig struct {
	PriceTTL      time.Duration `yaml:"price_ttl"`
	InstrumentTTL time.Duration `yaml:"instrument_ttl"`
}

// ScheduleConfig defines the iteration cadence and market-hours override.
type ScheduleConfig struct {
	CheckInterval     time.Duration `yaml:"check_interval"`
	BypassMarketHours bool          `yaml:"bypass_market_hours"`
	MaxIterations     int           `yaml:"max_iterations"`
}

// StateConfig defines persistence locations.
type StateConfig struct {
	Root        string `yaml:"root"`         // state/ directory
	ArchiveRoot string `yaml:"archive_root"` // trade_archives/ directory
	BackupRoot  string `yaml:"backup_root"`  // trade_archives_backup/ directory
}

// DashboardConfig defines the telemetry sink and local status server.
type DashboardConfig struct {
	BaseURL               string        `yaml:"base_url"`
	Enabled               bool          `yaml:"enabled"`
	SendTimeout           time.Duration `yaml:"send_timeout"`
	CircuitBreakerTimeout time.Duration `yaml:"circuit_breaker_timeout"`
	ServerPort            int           `yaml:"server_port"`
}

// FNOConfig defines futures & options behavior.
type FNOConfig struct {
	Enabled           bool `yaml:"enabled"`
	MaxChainContracts int  `yaml:"max_chain_contracts"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables so secrets can stay out of the file
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// normalize fills unset fields with mode-appropriate defaults.
func (c *Config) normalize() {
	if c.Schedule.CheckInterval == 0 {
		if c.IsLive() {
			c.Schedule.CheckInterval = defaultCheckIntervalLive
		} else {
			c.Schedule.CheckInterval = defaultCheckIntervalPaper
		}
	}
	if c.Schedule.MaxIterations == 0 {
		c.Schedule.MaxIterations = 10000
	}
	if c.Cache.PriceTTL == 0 {
		c.Cache.PriceTTL = defaultPriceTTL
	}
	if c.Cache.InstrumentTTL == 0 {
		c.Cache.InstrumentTTL = defaultInstrumentTTL
	}
	if c.RateLimit.PerSecond == 0 {
		c.RateLimit.PerSecond = 3
	}
	if c.RateLimit.PerMinute == 0 {
		c.RateLimit.PerMinute = 1000
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 5
	}
	if c.Signals.MinAgreement == 0 {
		c.Signals.MinAgreement = defaultMinAgreement
	}
	if c.Signals.MinConfidence == 0 {
		c.Signals.MinConfidence = defaultMinConfidence
	}
	if c.Signals.TopN == 0 {
		c.Signals.TopN = defaultTopN
	}
	if c.Risk.RiskPerTradePct == 0 {
		if c.IsLive() {
			c.Risk.RiskPerTradePct = defaultRiskPerTradeLive
		} else {
			c.Risk.RiskPerTradePct = defaultRiskPerTradePct
		}
	}
	if c.Risk.ATRStopMultiplier == 0 {
		c.Risk.ATRStopMultiplier = 1.5
	}
	if c.Risk.ATRTargetMultiplier == 0 {
		c.Risk.ATRTargetMultiplier = 2.2
	}
	if c.Risk.TrailingActivationMul == 0 {
		c.Risk.TrailingActivationMul = 1.0
	}
	if c.Risk.TrailingStopMul == 0 {
		c.Risk.TrailingStopMul = 1.2
	}
	if c.Risk.CooldownMinutes == 0 {
		c.Risk.CooldownMinutes = defaultCooldownMinutes
	}
	if c.Risk.StopLossCooldownMin == 0 {
		c.Risk.StopLossCooldownMin = 2 * c.Risk.CooldownMinutes
	}
	if c.Risk.ExitScoreThreshold == 0 {
		c.Risk.ExitScoreThreshold = 0.6
	}
	if c.Risk.MaxStrategyShare == 0 {
		c.Risk.MaxStrategyShare = 0.6
	}
	if c.Capital.MaxPositions == 0 {
		c.Capital.MaxPositions = 5
	}
	if c.Capital.MinPositionSize == 0 {
		c.Capital.MinPositionSize = 0.10
	}
	if c.Capital.MidPositionSize == 0 {
		c.Capital.MidPositionSize = 0.15
	}
	if c.Capital.MaxPositionSize == 0 {
		c.Capital.MaxPositionSize = 0.20
	}
	if c.Universe.BatchSize == 0 {
		c.Universe.BatchSize = 10
	}
	if c.Universe.RegimeIndex == "" {
		c.Universe.RegimeIndex = "NIFTY"
	}
	if c.Dashboard.SendTimeout == 0 {
		c.Dashboard.SendTimeout = 10 * time.Second
	}
	if c.Dashboard.CircuitBreakerTimeout == 0 {
		c.Dashboard.CircuitBreakerTimeout = 60 * time.Second
	}
	if c.State.Root == "" {
		c.State.Root = "state"
	}
	if c.State.ArchiveRoot == "" {
		c.State.ArchiveRoot = "trade_archives"
	}
	if c.State.BackupRoot == "" {
		c.State.BackupRoot = "trade_archives_backup"
	}
	if c.FNO.MaxChainContracts == 0 {
		c.FNO.MaxChainContracts = 150
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	switch c.Environment.Mode {
	case ModePaper, ModeLive, ModeBacktest:
	default:
		return fmt.Errorf("environment.mode must be 'paper', 'live' or 'backtest'")
	}

	if c.IsLive() {
		if c.Broker.APIKey == "" {
			return fmt.Errorf("broker.api_key is required in live mode")
		}
		if c.Broker.AccessToken == "" {
			return fmt.Errorf("broker.access_token is required in live mode")
		}
	}

	if c.Capital.InitialCapital < 1_000 || c.Capital.InitialCapital > 100_000_000 {
		return fmt.Errorf("capital.initial_capital must be within [1000, 100000000], got %.2f",
			c.Capital.InitialCapital)
	}
	if c.Capital.MaxPositions <= 0 {
		return fmt.Errorf("capital.max_positions must be > 0")
	}
	if c.Capital.MinPositionSize <= 0 || c.Capital.MinPositionSize > 1 {
		return fmt.Errorf("capital.min_position_size must be in (0,1]")
	}
	if c.Capital.MaxPositionSize <= 0 || c.Capital.MaxPositionSize > 1 {
		return fmt.Errorf("capital.max_position_size must be in (0,1]")
	}
	if c.Capital.MinPositionSize > c.Capital.MidPositionSize ||
		c.Capital.MidPositionSize > c.Capital.MaxPositionSize {
		return fmt.Errorf("capital position sizes must satisfy min <= mid <= max")
	}

	if len(c.Universe.Symbols) == 0 {
		return fmt.Errorf("universe.symbols must not be empty")
	}
	for _, s := range c.Universe.Symbols {
		if s != strings.ToUpper(s) || strings.TrimSpace(s) == "" {
			return fmt.Errorf("universe symbol %q must be non-empty uppercase", s)
		}
	}

	if c.Signals.MinAgreement <= 0 || c.Signals.MinAgreement > 1 {
		return fmt.Errorf("signals.min_agreement must be in (0,1]")
	}
	if c.Signals.MinConfidence <= 0 || c.Signals.MinConfidence > 1 {
		return fmt.Errorf("signals.min_confidence must be in (0,1]")
	}
	if c.Signals.TopN <= 0 {
		return fmt.Errorf("signals.top_n must be > 0")
	}

	if c.Risk.RiskPerTradePct <= 0 || c.Risk.RiskPerTradePct > 0.05 {
		return fmt.Errorf("risk.risk_per_trade_pct must be in (0, 0.05]")
	}
	if c.Risk.ATRStopMultiplier <= 0 || c.Risk.ATRTargetMultiplier <= 0 {
		return fmt.Errorf("risk ATR multipliers must be > 0")
	}
	if c.Risk.StopLossCooldownMin < 2*c.Risk.CooldownMinutes {
		return fmt.Errorf("risk.stop_loss_cooldown_minutes (%d) must be >= 2x cooldown_minutes (%d)",
			c.Risk.StopLossCooldownMin, c.Risk.CooldownMinutes)
	}
	if c.Risk.MaxStrategyShare <= 0 || c.Risk.MaxStrategyShare > 1 {
		return fmt.Errorf("risk.max_strategy_share must be in (0,1]")
	}

	if c.RateLimit.PerSecond <= 0 || c.RateLimit.PerMinute <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit values must all be > 0")
	}

	if c.Schedule.CheckInterval < time.Second {
		return fmt.Errorf("schedule.check_interval must be >= 1s")
	}

	return nil
}

// IsPaperTrading returns true if the engine is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == ModePaper
}

// IsLive returns true if the engine places real broker orders.
func (c *Config) IsLive() bool {
	return c.Environment.Mode == ModeLive
}
