package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/chain"
)

// StopReason explains why a trade record was finalized.
type StopReason string

const (
	// ReasonOvernightSL is an exit at the open after a gap through the stop level
	ReasonOvernightSL StopReason = "Overnight SL Hit"
	// ReasonIntradaySL is an exit at the stop level after the high touched it
	ReasonIntradaySL StopReason = "Intraday SL Hit"
	// ReasonNoSL is a close at expiry
	ReasonNoSL StopReason = "No SL Hit"
)

// Valid returns true if the StopReason is one of the defined constants
func (r StopReason) Valid() bool {
	switch r {
	case ReasonOvernightSL, ReasonIntradaySL, ReasonNoSL:
		return true
	default:
		return false
	}
}

// Position is the live exposure of one underlying. It is a value type: every
// transition returns a new Position instead of mutating a shared one.
type Position struct {
	Ticker         string      `json:"ticker"`
	Right          chain.Right `json:"right"`
	OpenDate       time.Time   `json:"open_date"`
	SpotPrice      float64     `json:"spot_price"`
	Strike         float64     `json:"strike"`
	InitialPremium float64     `json:"initial_premium"`
	// EntryPremium is the premium cost re-entries compare against.
	EntryPremium float64 `json:"entry_premium"`
	// LotSize is fixed at the first entry of a cycle.
	LotSize      float64 `json:"lot_size"`
	Reentry      bool    `json:"reentry"`
	ReentryCount int     `json:"reentry_count"`
}

// NewPosition opens a cycle. Lot size is total exposure divided by the entry spot.
func NewPosition(ticker string, right chain.Right, date time.Time, spot, strike, premium, totalExposure float64) Position {
	return Position{
		Ticker:         ticker,
		Right:          right,
		OpenDate:       date,
		SpotPrice:      spot,
		Strike:         strike,
		InitialPremium: premium,
		EntryPremium:   premium,
		LotSize:        totalExposure / spot,
	}
}

// StopLevel is the premium at which the stop-loss fires.
func (p Position) StopLevel(sl float64) float64 {
	return (1 + sl) * p.InitialPremium
}

// PnL of a short option exited at exit: profit when the premium falls.
func (p Position) PnL(exit float64) float64 {
	return (p.InitialPremium - exit) * p.LotSize
}

// Close snapshots the position as a finalized trade record.
func (p Position) Close(date time.Time, exit float64, reason StopReason) TradeRecord {
	return TradeRecord{
		Ticker:         p.Ticker,
		Right:          p.Right,
		OpenDate:       p.OpenDate,
		SpotPrice:      p.SpotPrice,
		Strike:         p.Strike,
		InitialPremium: p.InitialPremium,
		FinalPremium:   exit,
		CloseDate:      date,
		PnL:            p.PnL(exit),
		LotSize:        p.LotSize,
		StopReason:     reason,
		Reentry:        p.Reentry,
		ReentryCount:   p.ReentryCount,
	}
}

// Reenter reopens the position after a stop-loss. Spot, lot size and the cost
// reference premium carry over; the counter increments.
func (p Position) Reenter(date time.Time, strike, premium float64) Position {
	next := p
	next.OpenDate = date
	next.Strike = strike
	next.InitialPremium = premium
	next.Reentry = true
	next.ReentryCount = p.ReentryCount + 1
	return next
}

// TradeRecord is an immutable snapshot of a position at a stop-loss exit or an
// expiry close.
type TradeRecord struct {
	Ticker         string      `json:"ticker"`
	Right          chain.Right `json:"right"`
	OpenDate       time.Time   `json:"open_date"`
	SpotPrice      float64     `json:"spot_price"`
	Strike         float64     `json:"strike"`
	InitialPremium float64     `json:"initial_premium"`
	FinalPremium   float64     `json:"final_premium"`
	CloseDate      time.Time   `json:"close_date"`
	PnL            float64     `json:"pnl"`
	LotSize        float64     `json:"lot_size"`
	StopReason     StopReason  `json:"stop_reason"`
	Reentry        bool        `json:"reentry"`
	ReentryCount   int         `json:"reentry_count"`
}

// IsStopLoss reports whether the record was finalized by a stop-loss.
func (r TradeRecord) IsStopLoss() bool {
	return r.StopReason == ReasonOvernightSL || r.StopReason == ReasonIntradaySL
}

// Validate checks the record's internal consistency.
func (r TradeRecord) Validate() error {
	if strings.TrimSpace(r.Ticker) == "" {
		return fmt.Errorf("trade record: ticker is required")
	}
	if !r.StopReason.Valid() {
		return fmt.Errorf("trade record %s: invalid stop reason %q", r.Ticker, r.StopReason)
	}
	if r.OpenDate.IsZero() || r.CloseDate.IsZero() {
		return fmt.Errorf("trade record %s: open and close dates must be set", r.Ticker)
	}
	if r.CloseDate.Before(r.OpenDate) {
		return fmt.Errorf("trade record %s: close date (%v) before open date (%v)",
			r.Ticker, r.CloseDate, r.OpenDate)
	}
	if r.LotSize <= 0 {
		return fmt.Errorf("trade record %s: lot size must be > 0 (current: %.4f)", r.Ticker, r.LotSize)
	}
	if r.ReentryCount < 0 {
		return fmt.Errorf("trade record %s: re-entry count cannot be negative", r.Ticker)
	}
	if r.Reentry != (r.ReentryCount > 0) {
		return fmt.Errorf("trade record %s: re-entry flag (%v) inconsistent with count %d",
			r.Ticker, r.Reentry, r.ReentryCount)
	}
	return nil
}
