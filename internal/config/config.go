// Package config handles configuration loading for the backtest engine.
// It layers a YAML config file under environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the complete engine configuration, covering every
// option named in spec.md §6 ("Configuration").
type Config struct {
	InitialCapital       float64  `mapstructure:"initial_capital"         yaml:"initial_capital"         json:"initial_capital"`
	Tickers              []string `mapstructure:"tickers"                 yaml:"tickers"                 json:"tickers"`
	StartDate            string   `mapstructure:"start_date"              yaml:"start_date"              json:"start_date"`
	EndDate              string   `mapstructure:"end_date"                yaml:"end_date"                json:"end_date"`
	DataDir              string   `mapstructure:"data_dir"                yaml:"data_dir"                json:"data_dir"`
	Timezone             string   `mapstructure:"timezone"                yaml:"timezone"                json:"timezone"`
	MarginRequirement    float64  `mapstructure:"margin_requirement"      yaml:"margin_requirement"      json:"margin_requirement"`
	CommissionPerTrade   float64  `mapstructure:"commission_per_trade"    yaml:"commission_per_trade"    json:"commission_per_trade"`
	SlippageBps          float64  `mapstructure:"slippage_bps"            yaml:"slippage_bps"            json:"slippage_bps"`
	SpreadBps            float64  `mapstructure:"spread_bps"              yaml:"spread_bps"              json:"spread_bps"`
	TradingWindowStart   string   `mapstructure:"trading_window_start"    yaml:"trading_window_start"    json:"trading_window_start"`
	TradingWindowEnd     string   `mapstructure:"trading_window_end"      yaml:"trading_window_end"      json:"trading_window_end"`
	OpeningRangeMinutes  int      `mapstructure:"opening_range_minutes"   yaml:"opening_range_minutes"   json:"opening_range_minutes"`
	RiskPerTradePct      float64  `mapstructure:"risk_per_trade_pct"      yaml:"risk_per_trade_pct"      json:"risk_per_trade_pct"`
	TimeInvalidationBars int      `mapstructure:"time_invalidation_bars"  yaml:"time_invalidation_bars"  json:"time_invalidation_bars"`
	TimeInvalidationMFER float64  `mapstructure:"time_invalidation_mfe_r" yaml:"time_invalidation_mfe_r" json:"time_invalidation_mfe_r"`
	SnapshotDir          string   `mapstructure:"snapshot_dir"            yaml:"snapshot_dir"            json:"snapshot_dir"`
	Seed                 int64    `mapstructure:"seed"                    yaml:"seed"                    json:"seed"`

	Logging LoggingConfig `mapstructure:"logging" yaml:"logging" json:"logging"`
}

// LoggingConfig holds diagnostic-stream settings. They are loaded and saved
// with the rest of the config; the Observer does not read them and always
// writes plain-text invariant lines.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"  json:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format" json:"format"` // "text" or "json"
}

// DefaultConfig returns a Config populated with the same defaults Load()
// applies to an empty config file, for tests and library callers that skip
// file/env loading entirely.
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.engine/config.yaml (home directory)
//  3. /etc/engine/config.yaml (system)
//
// Environment variables override config file values.
// Format: ENGINE_<KEY>, e.g., ENGINE_INITIAL_CAPITAL
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".engine"))
	v.AddConfigPath("/etc/engine")

	v.SetEnvPrefix("ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found — that's fine, use defaults + env vars + flags.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets sensible defaults for every optional field named in
// spec.md §6.
func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")
	v.SetDefault("timezone", "America/New_York")
	v.SetDefault("margin_requirement", 0.5)
	v.SetDefault("commission_per_trade", 0.0)
	v.SetDefault("slippage_bps", 0.0)
	v.SetDefault("spread_bps", 0.0)
	v.SetDefault("trading_window_start", "09:30")
	v.SetDefault("trading_window_end", "10:30")
	v.SetDefault("opening_range_minutes", 15)
	v.SetDefault("risk_per_trade_pct", 0.0025)
	v.SetDefault("time_invalidation_bars", 5)
	v.SetDefault("time_invalidation_mfe_r", 0.5)
	v.SetDefault("seed", int64(42))

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks that every required option is present and internally
// consistent. A non-nil return is a ConfigurationError (spec §7) and must
// cause the CLI to exit 2 before the engine loop starts.
func (c *Config) Validate() error {
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial_capital must be > 0, got %v", c.InitialCapital)
	}
	if len(c.Tickers) == 0 {
		return fmt.Errorf("tickers must be a non-empty list")
	}
	if c.StartDate == "" || c.EndDate == "" {
		return fmt.Errorf("start_date and end_date are required")
	}
	start, err := time.Parse("2006-01-02", c.StartDate)
	if err != nil {
		return fmt.Errorf("invalid start_date %q: %w", c.StartDate, err)
	}
	end, err := time.Parse("2006-01-02", c.EndDate)
	if err != nil {
		return fmt.Errorf("invalid end_date %q: %w", c.EndDate, err)
	}
	if end.Before(start) {
		return fmt.Errorf("end_date %q is before start_date %q", c.EndDate, c.StartDate)
	}
	if c.MarginRequirement < 0 || c.MarginRequirement > 1 {
		return fmt.Errorf("margin_requirement must be within [0,1], got %v", c.MarginRequirement)
	}
	if c.CommissionPerTrade < 0 {
		return fmt.Errorf("commission_per_trade must be >= 0")
	}
	if c.SlippageBps < 0 || c.SpreadBps < 0 {
		return fmt.Errorf("slippage_bps and spread_bps must be >= 0")
	}
	if _, err := time.Parse("15:04", c.TradingWindowStart); err != nil {
		return fmt.Errorf("invalid trading_window_start %q: %w", c.TradingWindowStart, err)
	}
	if _, err := time.Parse("15:04", c.TradingWindowEnd); err != nil {
		return fmt.Errorf("invalid trading_window_end %q: %w", c.TradingWindowEnd, err)
	}
	if c.OpeningRangeMinutes <= 0 {
		return fmt.Errorf("opening_range_minutes must be > 0")
	}
	if c.TimeInvalidationBars <= 0 {
		return fmt.Errorf("time_invalidation_bars must be > 0")
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
		}
	}
	return nil
}

// SaveToFile writes the current configuration to a YAML file.
// If path is empty, it writes to ./config/config.yaml.
func SaveToFile(cfg *Config, path string) error {
	if path == "" {
		path = filepath.Join(".", "config", "config.yaml")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory %s: %w", dir, err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// ConfigFilePath returns the path to the active config file (if any).
// Returns empty string if no config file was found.
func ConfigFilePath() string {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".engine"))
	v.AddConfigPath("/etc/engine")

	if err := v.ReadInConfig(); err != nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
