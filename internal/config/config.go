// Package config provides configuration management for the backtester.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/calendar"
	"github.com/eddiefleurent/scranton_backtester/internal/chain"
	"github.com/eddiefleurent/scranton_backtester/internal/data"
	"github.com/eddiefleurent/scranton_backtester/internal/pricing"
	"github.com/eddiefleurent/scranton_backtester/internal/simulator"
	"github.com/eddiefleurent/scranton_backtester/internal/volatility"
	"github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v3"
)

// Defaults applied by normalize when a field is unset.
const (
	// defaultWindowMonths is the simulated span when run.end_date is unset
	defaultWindowMonths = 66
	defaultTickerSuffix = ".EQ-NSE"
	defaultListen       = ":8080"
	defaultOutputDir    = "Tradebooks"
	defaultBreakerMin   = 5
	defaultBreakerRatio = 0.6
	defaultBreakerWait  = "30s"
)

// Trade direction of the reported PNL.
const (
	ModeSell = "sell"
	ModeBuy  = "buy"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Data        DataConfig        `yaml:"data"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Run         RunConfig         `yaml:"run"`
	Output      OutputConfig      `yaml:"output"`
	Storage     StorageConfig     `yaml:"storage"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// DataConfig defines where the EOD tables come from.
type DataConfig struct {
	Dir            string `yaml:"dir"`
	EquityPattern  string `yaml:"equity_pattern"`  // %s is the ticker
	OptionsPattern string `yaml:"options_pattern"` // %s is the ticker
	// TickerSuffix turns a file ticker into the equity table ticker
	TickerSuffix string `yaml:"ticker_suffix"`
	// Synthetic generates seeded random data instead of reading files
	Synthetic bool          `yaml:"synthetic"`
	Breaker   BreakerConfig `yaml:"breaker"`
}

// BreakerConfig defines the data source circuit breaker.
type BreakerConfig struct {
	MinRequests  uint32  `yaml:"min_requests"`
	FailureRatio float64 `yaml:"failure_ratio"`
	Timeout      string  `yaml:"timeout"`
}

// StrategyConfig defines the option strategy parameters.
type StrategyConfig struct {
	OptionType    string  `yaml:"option_type"` // call | put
	Mode          string  `yaml:"mode"`        // sell | buy
	TotalExposure float64 `yaml:"total_exposure"`
	DTE           int     `yaml:"dte"`
	SL            float64 `yaml:"sl"`
	TargetDelta   float64 `yaml:"target_delta"`
	MaxReentries  int     `yaml:"max_reentries"`
	ReentryType   string  `yaml:"reentry_type"` // cost | asap
	// LookbackPeriod is the realized volatility window in daily returns
	LookbackPeriod    int      `yaml:"lookback_period"`
	DefaultVolatility float64  `yaml:"default_volatility"`
	RiskFreeRate      *float64 `yaml:"risk_free_rate"`
}

// RunConfig defines which underlyings are simulated and over which window.
type RunConfig struct {
	Tickers      []string `yaml:"tickers"`
	StartDate    string   `yaml:"start_date"` // YYYY-MM-DD, defaults to the first equity date
	EndDate      string   `yaml:"end_date"`   // YYYY-MM-DD, defaults to start + window_months
	WindowMonths int      `yaml:"window_months"`
	Workers      int      `yaml:"workers"` // 0 uses every CPU
}

// OutputConfig defines the report files.
type OutputConfig struct {
	Dir       string `yaml:"dir"`
	Tradebook bool   `yaml:"tradebook"`
	Monthly   bool   `yaml:"monthly"`
	Summary   bool   `yaml:"summary"`
}

// StorageConfig defines the run database. An empty path disables persistence.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// DashboardConfig defines the results API.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	AuthToken string `yaml:"auth_token"`
}

// Override adjusts a decoded configuration before it is validated, e.g. from
// command-line flags.
type Override func(*Config)

// Load reads and parses the configuration file from the specified path.
func Load(configPath string, overrides ...Override) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	raw, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(raw, overrides...)
}

// Parse decodes YAML after expanding environment variables, applies overrides
// and validates the result.
func Parse(raw []byte, overrides ...Override) (*Config, error) {
	expanded := os.ExpandEnv(string(raw))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	for _, o := range overrides {
		o(&config)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
// Unset optional fields are filled with their defaults first.
func (c *Config) Validate() error {
	c.normalize()

	if _, err := logrus.ParseLevel(c.Environment.LogLevel); err != nil {
		return fmt.Errorf("environment.log_level invalid: %w", err)
	}

	// Data validation
	if !c.Data.Synthetic && c.Data.Dir == "" {
		return fmt.Errorf("data.dir is required unless data.synthetic is set")
	}
	for field, pattern := range map[string]string{
		"data.equity_pattern":  c.Data.EquityPattern,
		"data.options_pattern": c.Data.OptionsPattern,
	} {
		if strings.Count(pattern, "%s") != 1 {
			return fmt.Errorf("%s must contain exactly one %%s", field)
		}
	}
	if c.Data.Breaker.FailureRatio <= 0 || c.Data.Breaker.FailureRatio > 1 {
		return fmt.Errorf("data.breaker.failure_ratio must be in (0,1]")
	}
	if _, err := time.ParseDuration(c.Data.Breaker.Timeout); err != nil {
		return fmt.Errorf("data.breaker.timeout invalid: %w", err)
	}

	// Strategy validation
	if _, err := chain.ParseRight(c.Strategy.OptionType); err != nil {
		return fmt.Errorf("strategy.option_type must be 'call' or 'put'")
	}
	if c.Strategy.Mode != ModeSell && c.Strategy.Mode != ModeBuy {
		return fmt.Errorf("strategy.mode must be 'sell' or 'buy'")
	}
	if c.Strategy.TotalExposure <= 0 {
		return fmt.Errorf("strategy.total_exposure must be > 0")
	}
	if c.Strategy.DTE < 0 {
		return fmt.Errorf("strategy.dte must be >= 0")
	}
	if c.Strategy.SL <= 0 {
		return fmt.Errorf("strategy.sl must be > 0")
	}
	if c.Strategy.TargetDelta <= 0 || c.Strategy.TargetDelta >= 1 {
		return fmt.Errorf("strategy.target_delta must be in (0,1)")
	}
	if c.Strategy.MaxReentries < 0 {
		return fmt.Errorf("strategy.max_reentries must be >= 0")
	}
	if _, err := simulator.ParseReentryType(c.Strategy.ReentryType); err != nil {
		return fmt.Errorf("strategy.reentry_type must be 'cost' or 'asap'")
	}
	if c.Strategy.LookbackPeriod < 2 {
		return fmt.Errorf("strategy.lookback_period must be >= 2")
	}
	if c.Strategy.DefaultVolatility <= 0 {
		return fmt.Errorf("strategy.default_volatility must be > 0")
	}

	// Run validation
	if len(c.Run.Tickers) == 0 {
		return fmt.Errorf("run.tickers must list at least one ticker")
	}
	seen := make(map[string]bool, len(c.Run.Tickers))
	for i, t := range c.Run.Tickers {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("run.tickers[%d] is empty", i)
		}
		if seen[t] {
			return fmt.Errorf("run.tickers contains %s twice", t)
		}
		seen[t] = true
	}
	start, err := c.StartDate()
	if err != nil {
		return fmt.Errorf("run.start_date invalid: %w", err)
	}
	end, err := c.EndDate()
	if err != nil {
		return fmt.Errorf("run.end_date invalid: %w", err)
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return fmt.Errorf("run.end_date (%s) must not be before run.start_date (%s)",
			c.Run.EndDate, c.Run.StartDate)
	}
	if c.Run.WindowMonths <= 0 {
		return fmt.Errorf("run.window_months must be > 0")
	}
	if c.Run.Workers < 0 {
		return fmt.Errorf("run.workers must be >= 0")
	}

	// Dashboard validation
	if c.Dashboard.Enabled && c.Storage.Path == "" {
		return fmt.Errorf("dashboard.enabled requires storage.path")
	}

	return nil
}

// normalize sets default values for unset optional fields.
func (c *Config) normalize() {
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Data.EquityPattern == "" {
		c.Data.EquityPattern = data.DefaultEquityPattern
	}
	if c.Data.OptionsPattern == "" {
		c.Data.OptionsPattern = data.DefaultOptionsPattern
	}
	if c.Data.TickerSuffix == "" {
		c.Data.TickerSuffix = defaultTickerSuffix
	}
	if c.Data.Breaker.MinRequests == 0 {
		c.Data.Breaker.MinRequests = defaultBreakerMin
	}
	if c.Data.Breaker.FailureRatio == 0 {
		c.Data.Breaker.FailureRatio = defaultBreakerRatio
	}
	if c.Data.Breaker.Timeout == "" {
		c.Data.Breaker.Timeout = defaultBreakerWait
	}
	c.Strategy.OptionType = strings.ToLower(strings.TrimSpace(c.Strategy.OptionType))
	c.Strategy.ReentryType = strings.ToLower(strings.TrimSpace(c.Strategy.ReentryType))
	c.Strategy.Mode = strings.ToLower(strings.TrimSpace(c.Strategy.Mode))
	if c.Strategy.Mode == "" {
		c.Strategy.Mode = ModeSell
	}
	if c.Strategy.ReentryType == "" {
		c.Strategy.ReentryType = string(simulator.ReentryASAP)
	}
	if c.Strategy.LookbackPeriod == 0 {
		c.Strategy.LookbackPeriod = volatility.DefaultLookback
	}
	if c.Strategy.DefaultVolatility == 0 {
		c.Strategy.DefaultVolatility = volatility.DefaultVolatility
	}
	if c.Run.WindowMonths == 0 {
		c.Run.WindowMonths = defaultWindowMonths
	}
	if c.Output.Dir == "" {
		c.Output.Dir = defaultOutputDir
	}
	if c.Dashboard.Listen == "" {
		c.Dashboard.Listen = defaultListen
	}
}

// StartDate returns run.start_date, or the zero time when unset.
func (c *Config) StartDate() (time.Time, error) {
	return optionalDate(c.Run.StartDate)
}

// EndDate returns run.end_date, or the zero time when unset.
func (c *Config) EndDate() (time.Time, error) {
	return optionalDate(c.Run.EndDate)
}

func optionalDate(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	return calendar.ParseDate(strings.TrimSpace(s))
}

// RiskFreeRate returns strategy.risk_free_rate or the model default.
func (c *Config) RiskFreeRate() float64 {
	if c.Strategy.RiskFreeRate == nil {
		return pricing.DefaultRiskFreeRate
	}
	return *c.Strategy.RiskFreeRate
}

// Workers returns the worker pool size.
func (c *Config) Workers() int {
	if c.Run.Workers <= 0 {
		return runtime.NumCPU()
	}
	return c.Run.Workers
}

// IsBuyMode reports whether PNL is reported from the buyer's side.
func (c *Config) IsBuyMode() bool {
	return c.Strategy.Mode == ModeBuy
}

// EquityTicker maps a file ticker to the ticker used inside the equity table.
func (c *Config) EquityTicker(ticker string) string {
	return ticker + c.Data.TickerSuffix
}

// BreakerSettings returns the data source circuit breaker settings.
func (c *Config) BreakerSettings() data.BreakerSettings {
	s := data.DefaultBreakerSettings
	s.MinRequests = c.Data.Breaker.MinRequests
	s.FailureRatio = c.Data.Breaker.FailureRatio
	if d, err := time.ParseDuration(c.Data.Breaker.Timeout); err == nil {
		s.Timeout = d
	}
	return s
}

// SimulatorConfig builds the run parameters for one underlying. The window is
// resolved by the caller because its defaults depend on the loaded data.
func (c *Config) SimulatorConfig(ticker string, start, end time.Time) simulator.Config {
	right, _ := chain.ParseRight(c.Strategy.OptionType)
	reentry, _ := simulator.ParseReentryType(c.Strategy.ReentryType)
	return simulator.Config{
		Ticker:            c.EquityTicker(ticker),
		Right:             right,
		TotalExposure:     c.Strategy.TotalExposure,
		DTE:               c.Strategy.DTE,
		StopLoss:          c.Strategy.SL,
		TargetDelta:       c.Strategy.TargetDelta,
		MaxReentries:      c.Strategy.MaxReentries,
		ReentryType:       reentry,
		StartDate:         start,
		EndDate:           end,
		Lookback:          c.Strategy.LookbackPeriod,
		DefaultVolatility: c.Strategy.DefaultVolatility,
		RiskFreeRate:      c.RiskFreeRate(),
	}
}
