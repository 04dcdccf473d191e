package config

import (
	"os"
	"path/filepath"
	"testing"
)

// ── DefaultConfig / Load defaults ──

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DataDir != "./data" {
		t.Errorf("DataDir: got %q, want %q", cfg.DataDir, "./data")
	}
	if cfg.Timezone != "America/New_York" {
		t.Errorf("Timezone: got %q, want %q", cfg.Timezone, "America/New_York")
	}
	if cfg.MarginRequirement != 0.5 {
		t.Errorf("MarginRequirement: got %v, want 0.5", cfg.MarginRequirement)
	}
	if cfg.TradingWindowStart != "09:30" {
		t.Errorf("TradingWindowStart: got %q, want %q", cfg.TradingWindowStart, "09:30")
	}
	if cfg.TradingWindowEnd != "10:30" {
		t.Errorf("TradingWindowEnd: got %q, want %q", cfg.TradingWindowEnd, "10:30")
	}
	if cfg.OpeningRangeMinutes != 15 {
		t.Errorf("OpeningRangeMinutes: got %d, want 15", cfg.OpeningRangeMinutes)
	}
	if cfg.RiskPerTradePct != 0.0025 {
		t.Errorf("RiskPerTradePct: got %v, want 0.0025", cfg.RiskPerTradePct)
	}
	if cfg.TimeInvalidationBars != 5 {
		t.Errorf("TimeInvalidationBars: got %d, want 5", cfg.TimeInvalidationBars)
	}
	if cfg.TimeInvalidationMFER != 0.5 {
		t.Errorf("TimeInvalidationMFER: got %v, want 0.5", cfg.TimeInvalidationMFER)
	}
	if cfg.Seed != 42 {
		t.Errorf("Seed: got %d, want 42", cfg.Seed)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "info")
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format: got %q, want %q", cfg.Logging.Format, "text")
	}
}

func TestLoadReturnsDefaultsWithoutConfigFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	defer os.Chdir(wd)
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.MarginRequirement != 0.5 {
		t.Errorf("MarginRequirement: got %v, want 0.5", cfg.MarginRequirement)
	}
	if cfg.Seed != 42 {
		t.Errorf("Seed: got %d, want 42", cfg.Seed)
	}
}

// ── LoadFromFile ──

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "test_config.yaml")
	content := []byte(`
initial_capital: 50000
tickers:
  - SPY
  - QQQ
start_date: "2024-01-01"
end_date: "2024-06-30"
slippage_bps: 2.5
spread_bps: 1.0
commission_per_trade: 0.5
seed: 7
logging:
  level: "debug"
  format: "json"
`)
	if err := os.WriteFile(cfgPath, content, 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := LoadFromFile(cfgPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}
	if cfg.InitialCapital != 50000 {
		t.Errorf("InitialCapital: got %v, want 50000", cfg.InitialCapital)
	}
	if len(cfg.Tickers) != 2 || cfg.Tickers[0] != "SPY" || cfg.Tickers[1] != "QQQ" {
		t.Errorf("Tickers: got %v", cfg.Tickers)
	}
	if cfg.StartDate != "2024-01-01" {
		t.Errorf("StartDate: got %q", cfg.StartDate)
	}
	if cfg.SlippageBps != 2.5 {
		t.Errorf("SlippageBps: got %v, want 2.5", cfg.SlippageBps)
	}
	if cfg.Seed != 7 {
		t.Errorf("Seed: got %d, want 7", cfg.Seed)
	}
	// Unset fields should still carry defaults.
	if cfg.TradingWindowStart != "09:30" {
		t.Errorf("TradingWindowStart default not applied: got %q", cfg.TradingWindowStart)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoadFromFileNotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("LoadFromFile() with nonexistent path should return error")
	}
}

// ── Validate ──

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := DefaultConfig()
		cfg.InitialCapital = 100000
		cfg.Tickers = []string{"SPY"}
		cfg.StartDate = "2024-01-01"
		cfg.EndDate = "2024-12-31"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"zero initial capital", func(c *Config) { c.InitialCapital = 0 }, true},
		{"no tickers", func(c *Config) { c.Tickers = nil }, true},
		{"missing start date", func(c *Config) { c.StartDate = "" }, true},
		{"bad start date format", func(c *Config) { c.StartDate = "01/01/2024" }, true},
		{"end before start", func(c *Config) { c.EndDate = "2023-01-01" }, true},
		{"margin out of range", func(c *Config) { c.MarginRequirement = 1.5 }, true},
		{"negative commission", func(c *Config) { c.CommissionPerTrade = -1 }, true},
		{"negative slippage", func(c *Config) { c.SlippageBps = -1 }, true},
		{"bad trading window", func(c *Config) { c.TradingWindowStart = "9:30am" }, true},
		{"zero opening range", func(c *Config) { c.OpeningRangeMinutes = 0 }, true},
		{"zero time invalidation bars", func(c *Config) { c.TimeInvalidationBars = 0 }, true},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus_Mons" }, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("Validate() expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

// ── SaveToFile ──

func TestSaveAndReloadRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialCapital = 75000
	cfg.Tickers = []string{"IWM"}
	cfg.StartDate = "2024-03-01"
	cfg.EndDate = "2024-03-31"

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config", "config.yaml")
	if err := SaveToFile(cfg, path); err != nil {
		t.Fatalf("SaveToFile() error: %v", err)
	}

	reloaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}
	if reloaded.InitialCapital != 75000 {
		t.Errorf("InitialCapital: got %v, want 75000", reloaded.InitialCapital)
	}
	if len(reloaded.Tickers) != 1 || reloaded.Tickers[0] != "IWM" {
		t.Errorf("Tickers: got %v", reloaded.Tickers)
	}
}

// ── homeDir ──

func TestHomeDirReturnsNonEmpty(t *testing.T) {
	h := homeDir()
	if h == "" {
		t.Error("homeDir() should not return empty string")
	}
}
