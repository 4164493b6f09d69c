package chain

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/calendar"
	"github.com/eddiefleurent/scranton_backtester/internal/pricing"
)

var (
	// ErrQuoteNotFound is returned when no row matches a strike and right.
	ErrQuoteNotFound = errors.New("quote not found")
	// ErrNoContracts is returned when a date has no rows of the requested right.
	ErrNoContracts = errors.New("no contracts for right")
	// ErrDegenerateModel is returned when every candidate delta is undefined.
	ErrDegenerateModel = errors.New("delta undefined for every contract")
)

// Field names one OHLC column of a quote.
type Field string

const (
	FieldOpen  Field = "Open"
	FieldHigh  Field = "High"
	FieldLow   Field = "Low"
	FieldClose Field = "Close"
)

// Quote is one daily OHLC row of an option contract.
type Quote struct {
	Date       time.Time `json:"date"`
	ContractID string    `json:"contract_id"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
}

// Value returns the requested OHLC field.
func (q Quote) Value(f Field) (float64, error) {
	switch f {
	case FieldOpen:
		return q.Open, nil
	case FieldHigh:
		return q.High, nil
	case FieldLow:
		return q.Low, nil
	case FieldClose:
		return q.Close, nil
	default:
		return 0, fmt.Errorf("unknown quote field %q", f)
	}
}

// Row is a quote with its decoded contract attached.
type Row struct {
	Quote
	Contract
}

// Day holds the quotes of a single date with contracts decoded, in input order.
type Day struct {
	Date time.Time
	Rows []Row
}

// NewDay decodes every identifier of the date's quotes. A single undecodable
// identifier fails the whole date.
func NewDay(date time.Time, quotes []Quote) (*Day, error) {
	rows := make([]Row, 0, len(quotes))
	for _, q := range quotes {
		c, err := ParseContractID(q.ContractID)
		if err != nil {
			return nil, err
		}
		rows = append(rows, Row{Quote: q, Contract: c})
	}
	return &Day{Date: date, Rows: rows}, nil
}

// Price returns field f of the first row matching strike and right exactly.
// Rows of unknown right never match, even for an unknown-right lookup.
func (d *Day) Price(strike float64, right Right, f Field) (float64, error) {
	for _, row := range d.Rows {
		if row.Right.Valid() && row.Strike == strike && row.Right == right {
			return row.Value(f)
		}
	}
	return 0, fmt.Errorf("%w: %s %.2f %s on %s", ErrQuoteNotFound, right, strike, f, d.Date.Format(calendar.DateLayout))
}

// Selection is the contract picked by SelectByDelta.
type Selection struct {
	Row
	Delta float64
}

// SelectByDelta computes the delta of every row of the given right and returns the
// row whose delta is closest to target. The first minimal row wins. Rows with an
// undefined delta are ignored. The sign of target is used as given, so put targets
// must already be negative.
func (d *Day) SelectByDelta(spot, tte, vol, rate, target float64, right Right) (Selection, error) {
	best := -1
	bestDiff := math.Inf(1)
	var bestDelta float64
	candidates := 0

	for i, row := range d.Rows {
		if row.Right != right {
			continue
		}
		candidates++
		delta := pricing.Delta(right.IsCall(), spot, row.Strike, tte, rate, vol)
		diff := math.Abs(delta - target)
		if math.IsNaN(diff) {
			continue
		}
		if diff < bestDiff {
			best, bestDiff, bestDelta = i, diff, delta
		}
	}

	if candidates == 0 {
		return Selection{}, fmt.Errorf("%w: %s on %s", ErrNoContracts, right, d.Date.Format(calendar.DateLayout))
	}
	if best < 0 {
		return Selection{}, fmt.Errorf("%w: %d %s rows on %s", ErrDegenerateModel, candidates, right, d.Date.Format(calendar.DateLayout))
	}
	return Selection{Row: d.Rows[best], Delta: bestDelta}, nil
}

// Book indexes an options table by date, keeping each date's rows in input order.
type Book struct {
	byDate map[time.Time][]Quote
}

// NewBook groups quotes by calendar date.
func NewBook(quotes []Quote) *Book {
	b := &Book{byDate: make(map[time.Time][]Quote)}
	for _, q := range quotes {
		d := calendar.Truncate(q.Date)
		b.byDate[d] = append(b.byDate[d], q)
	}
	return b
}

// Quotes returns the rows for a date; nil when there are none.
func (b *Book) Quotes(date time.Time) []Quote {
	return b.byDate[calendar.Truncate(date)]
}

// Has reports whether any row exists for date.
func (b *Book) Has(date time.Time) bool {
	return len(b.Quotes(date)) > 0
}

// Len returns the number of quoted dates.
func (b *Book) Len() int {
	return len(b.byDate)
}
