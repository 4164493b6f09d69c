package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/chain"
	"github.com/eddiefleurent/scranton_backtester/internal/simulator"
)

func TestLoad(t *testing.T) {
	configPath := filepath.Join("..", "..", "config.yaml.example")
	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Expected config to load successfully from example file, got error: %v", err)
	}
	if len(cfg.Run.Tickers) == 0 {
		t.Error("Example config should list tickers")
	}
}

func TestLoad_InvalidPath(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Error("Expected error when loading nonexistent config file, got nil")
	}
}

const minimalYAML = `
data:
  dir: ./data
strategy:
  option_type: put
  total_exposure: 700000
  dte: 20
  sl: 2
  target_delta: 0.35
run:
  tickers: [RELIANCE]
`

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Environment.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.Environment.LogLevel)
	}
	if cfg.Strategy.Mode != ModeSell || cfg.IsBuyMode() {
		t.Errorf("Mode = %q, want sell", cfg.Strategy.Mode)
	}
	if cfg.Strategy.ReentryType != "asap" {
		t.Errorf("ReentryType = %q, want asap", cfg.Strategy.ReentryType)
	}
	if cfg.Strategy.LookbackPeriod != 252 || cfg.Strategy.DefaultVolatility != 0.3 {
		t.Errorf("volatility defaults not applied: %+v", cfg.Strategy)
	}
	if cfg.RiskFreeRate() != 0.07 {
		t.Errorf("RiskFreeRate = %v, want 0.07", cfg.RiskFreeRate())
	}
	if cfg.Run.WindowMonths != 66 {
		t.Errorf("WindowMonths = %d, want 66", cfg.Run.WindowMonths)
	}
	if cfg.Workers() != runtime.NumCPU() {
		t.Errorf("Workers = %d, want %d", cfg.Workers(), runtime.NumCPU())
	}
	if got := cfg.EquityTicker("RELIANCE"); got != "RELIANCE.EQ-NSE" {
		t.Errorf("EquityTicker = %q", got)
	}
	if s := cfg.BreakerSettings(); s.MinRequests != 5 || s.Timeout != 30*time.Second {
		t.Errorf("BreakerSettings = %+v", s)
	}
}

func TestParse_ExplicitZeroRiskFreeRate(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + "environment:\n  log_level: debug\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.RiskFreeRate() != 0.07 {
		t.Fatalf("unset rate should default, got %v", cfg.RiskFreeRate())
	}

	withRate := strings.Replace(minimalYAML, "  target_delta: 0.35\n", "  target_delta: 0.35\n  risk_free_rate: 0\n", 1)
	cfg, err = Parse([]byte(withRate))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.RiskFreeRate() != 0 {
		t.Errorf("explicit zero rate should be kept, got %v", cfg.RiskFreeRate())
	}
}

func TestParse_ExpandsEnvironment(t *testing.T) {
	t.Setenv("BACKTEST_DATA_DIR", "/srv/eod")
	raw := strings.Replace(minimalYAML, "./data", "${BACKTEST_DATA_DIR}", 1)

	cfg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Data.Dir != "/srv/eod" {
		t.Errorf("Data.Dir = %q, want /srv/eod", cfg.Data.Dir)
	}
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte(minimalYAML + "\nbroker:\n  api_key: x\n"))
	if err == nil {
		t.Fatal("Expected unknown top-level field to be rejected")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"bad log level", func(c *Config) { c.Environment.LogLevel = "loud" }, "environment.log_level"},
		{"missing data dir", func(c *Config) { c.Data.Dir = "" }, "data.dir"},
		{"pattern without verb", func(c *Config) { c.Data.EquityPattern = "equity.csv" }, "data.equity_pattern"},
		{"bad breaker timeout", func(c *Config) { c.Data.Breaker.Timeout = "soon" }, "data.breaker.timeout"},
		{"bad option type", func(c *Config) { c.Strategy.OptionType = "straddle" }, "strategy.option_type"},
		{"bad mode", func(c *Config) { c.Strategy.Mode = "hold" }, "strategy.mode"},
		{"zero exposure", func(c *Config) { c.Strategy.TotalExposure = 0 }, "strategy.total_exposure"},
		{"negative dte", func(c *Config) { c.Strategy.DTE = -1 }, "strategy.dte"},
		{"zero sl", func(c *Config) { c.Strategy.SL = 0 }, "strategy.sl"},
		{"delta too large", func(c *Config) { c.Strategy.TargetDelta = 1 }, "strategy.target_delta"},
		{"negative reentries", func(c *Config) { c.Strategy.MaxReentries = -1 }, "strategy.max_reentries"},
		{"bad reentry type", func(c *Config) { c.Strategy.ReentryType = "later" }, "strategy.reentry_type"},
		{"short lookback", func(c *Config) { c.Strategy.LookbackPeriod = 1 }, "strategy.lookback_period"},
		{"no tickers", func(c *Config) { c.Run.Tickers = nil }, "run.tickers"},
		{"blank ticker", func(c *Config) { c.Run.Tickers = []string{"TCS", " "} }, "run.tickers[1]"},
		{"duplicate ticker", func(c *Config) { c.Run.Tickers = []string{"TCS", "TCS"} }, "twice"},
		{"bad start date", func(c *Config) { c.Run.StartDate = "2019/01/01" }, "run.start_date"},
		{"inverted window", func(c *Config) {
			c.Run.StartDate = "2020-01-01"
			c.Run.EndDate = "2019-01-01"
		}, "run.end_date"},
		{"negative workers", func(c *Config) { c.Run.Workers = -2 }, "run.workers"},
		{"dashboard without storage", func(c *Config) {
			c.Dashboard.Enabled = true
			c.Storage.Path = ""
		}, "dashboard.enabled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(minimalYAML))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_SyntheticNeedsNoDir(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatal(err)
	}
	cfg.Data.Dir = ""
	cfg.Data.Synthetic = true
	if err := cfg.Validate(); err != nil {
		t.Errorf("Synthetic data should not require data.dir: %v", err)
	}
}

func TestSimulatorConfig(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatal(err)
	}
	cfg.Strategy.ReentryType = "cost"
	cfg.Strategy.MaxReentries = 2

	start := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, cfg.Run.WindowMonths, 0)
	sc := cfg.SimulatorConfig("TCS", start, end)

	if sc.Ticker != "TCS.EQ-NSE" || sc.Right != chain.RightPut || sc.ReentryType != simulator.ReentryCost {
		t.Errorf("unexpected simulator config: %+v", sc)
	}
	if sc.StopLoss != 2 || sc.TargetDelta != 0.35 || sc.MaxReentries != 2 || sc.DTE != 20 {
		t.Errorf("strategy fields not carried: %+v", sc)
	}
	if err := sc.Validate(); err != nil {
		t.Errorf("simulator config should validate: %v", err)
	}
}

func TestLoad_FromTempFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err != nil {
		t.Errorf("Load: %v", err)
	}
}

func TestParse_OverridesApplyBeforeValidation(t *testing.T) {
	noDir := strings.Replace(minimalYAML, "  dir: ./data\n", "", 1)
	if _, err := Parse([]byte(noDir)); err == nil {
		t.Fatal("Expected missing data.dir to fail without override")
	}

	cfg, err := Parse([]byte(noDir), func(c *Config) { c.Data.Synthetic = true })
	if err != nil {
		t.Fatalf("Override should satisfy validation: %v", err)
	}
	if !cfg.Data.Synthetic {
		t.Error("Override not applied")
	}
}
