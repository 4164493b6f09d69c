// Package simulator runs the day-by-day lifecycle of a single-leg option position
// for one underlying: entry at a target delta, stop-loss exits, bounded re-entries
// and forced closure at the monthly expiry.
package simulator

import (
	"fmt"
	"strings"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/chain"
	"github.com/eddiefleurent/scranton_backtester/internal/pricing"
	"github.com/eddiefleurent/scranton_backtester/internal/volatility"
)

// ReentryType selects how a stopped position is reopened.
type ReentryType string

const (
	// ReentryCost reopens the same strike once its close is back at or below the
	// cycle's first entry premium.
	ReentryCost ReentryType = "cost"
	// ReentryASAP reopens immediately at the target delta, possibly at a new strike.
	ReentryASAP ReentryType = "asap"
)

// ParseReentryType parses "cost" or "asap".
func ParseReentryType(s string) (ReentryType, error) {
	switch ReentryType(strings.ToLower(strings.TrimSpace(s))) {
	case ReentryCost:
		return ReentryCost, nil
	case ReentryASAP:
		return ReentryASAP, nil
	default:
		return "", fmt.Errorf("unknown re-entry type %q", s)
	}
}

// Config holds the parameters of one simulation run.
type Config struct {
	// Ticker identifies the underlying's rows in the equity table and labels records.
	Ticker        string
	Right         chain.Right
	TotalExposure float64
	// DTE is the days-to-expiry threshold at or below which a position is opened.
	DTE int
	// StopLoss is the fraction above the entry premium that triggers an exit.
	StopLoss float64
	// TargetDelta is absolute; it is negated for puts.
	TargetDelta  float64
	MaxReentries int
	ReentryType  ReentryType
	// StartDate and EndDate bound the simulation, both inclusive.
	StartDate time.Time
	EndDate   time.Time

	Lookback          int
	DefaultVolatility float64
	RiskFreeRate      float64
}

// DefaultConfig returns a config with the model defaults filled in.
func DefaultConfig() Config {
	return Config{
		Right:             chain.RightCall,
		StopLoss:          1,
		TargetDelta:       0.25,
		ReentryType:       ReentryASAP,
		Lookback:          volatility.DefaultLookback,
		DefaultVolatility: volatility.DefaultVolatility,
		RiskFreeRate:      pricing.DefaultRiskFreeRate,
	}
}

// Validate checks the run parameters.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Ticker) == "" {
		return fmt.Errorf("ticker is required")
	}
	if !c.Right.Valid() {
		return fmt.Errorf("option right must be 'call' or 'put'")
	}
	if c.TotalExposure <= 0 {
		return fmt.Errorf("total_exposure must be > 0")
	}
	if c.DTE < 0 {
		return fmt.Errorf("dte must be >= 0")
	}
	if c.StopLoss <= 0 {
		return fmt.Errorf("sl must be > 0")
	}
	if c.TargetDelta <= 0 || c.TargetDelta >= 1 {
		return fmt.Errorf("target_delta must be in (0,1)")
	}
	if c.MaxReentries < 0 {
		return fmt.Errorf("max_reentries must be >= 0")
	}
	if c.ReentryType != ReentryCost && c.ReentryType != ReentryASAP {
		return fmt.Errorf("reentry_type must be 'cost' or 'asap'")
	}
	if c.StartDate.IsZero() || c.EndDate.IsZero() {
		return fmt.Errorf("start_date and end_date are required")
	}
	if c.EndDate.Before(c.StartDate) {
		return fmt.Errorf("end_date (%s) must not be before start_date (%s)",
			c.EndDate.Format("2006-01-02"), c.StartDate.Format("2006-01-02"))
	}
	if c.Lookback < 2 {
		return fmt.Errorf("lookback_period must be >= 2")
	}
	if c.DefaultVolatility <= 0 {
		return fmt.Errorf("default_volatility must be > 0")
	}
	return nil
}

// signedTarget returns the target delta with the put sign convention applied.
func (c Config) signedTarget() float64 {
	if c.Right == chain.RightPut {
		return -c.TargetDelta
	}
	return c.TargetDelta
}
