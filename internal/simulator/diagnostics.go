package simulator

import (
	"errors"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/chain"
	"github.com/eddiefleurent/scranton_backtester/internal/models"
)

// SkipReason classifies why a date was skipped.
type SkipReason string

const (
	SkipMissingSpot         SkipReason = "missing_spot"         // no positive equity close for the ticker
	SkipNoQuotes            SkipReason = "no_quotes"            // options table has no rows for the date
	SkipMalformedIdentifier SkipReason = "malformed_identifier" // a row's identifier has no strike digits
	SkipNoContracts         SkipReason = "no_contracts"         // no row of the configured right
	SkipDegenerateModel     SkipReason = "degenerate_model"     // every candidate delta is NaN
	SkipQuoteNotFound       SkipReason = "quote_not_found"      // the held or stopped strike has no row
	SkipOther               SkipReason = "other"                // anything else, e.g. an invalid transition
)

var (
	errMissingSpot = errors.New("no equity close for date")
	errNoQuotes    = errors.New("no option quotes for date")
)

// Skip records one date that could not be processed.
type Skip struct {
	Date   time.Time  `json:"date"`
	Reason SkipReason `json:"reason"`
	Err    string     `json:"error"`
}

// Diagnostics summarizes how a run went, date by date.
type Diagnostics struct {
	// QuotedDates counts the distinct dates of the options table.
	QuotedDates    int                `json:"quoted_dates"`
	DatesProcessed int                `json:"dates_processed"`
	DatesSkipped   int                `json:"dates_skipped"`
	SkipsByReason  map[SkipReason]int `json:"skips_by_reason"`
	Skips          []Skip             `json:"skips"`
	// FinalPhase is the slot phase after the last date; open means the window
	// ended with a live position that produced no closing record.
	FinalPhase models.Phase `json:"final_phase"`
}

func newDiagnostics() Diagnostics {
	return Diagnostics{
		SkipsByReason: make(map[SkipReason]int),
		FinalPhase:    models.PhaseFlat,
	}
}

func (d *Diagnostics) recordSkip(date time.Time, err error) {
	reason := classify(err)
	d.DatesSkipped++
	d.SkipsByReason[reason]++
	d.Skips = append(d.Skips, Skip{Date: date, Reason: reason, Err: err.Error()})
}

func classify(err error) SkipReason {
	switch {
	case errors.Is(err, errMissingSpot):
		return SkipMissingSpot
	case errors.Is(err, errNoQuotes):
		return SkipNoQuotes
	case errors.Is(err, chain.ErrMalformedIdentifier):
		return SkipMalformedIdentifier
	case errors.Is(err, chain.ErrNoContracts):
		return SkipNoContracts
	case errors.Is(err, chain.ErrDegenerateModel):
		return SkipDegenerateModel
	case errors.Is(err, chain.ErrQuoteNotFound):
		return SkipQuoteNotFound
	default:
		return SkipOther
	}
}
