package simulator

import (
	"fmt"
	"sort"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/calendar"
	"github.com/eddiefleurent/scranton_backtester/internal/chain"
	"github.com/eddiefleurent/scranton_backtester/internal/models"
	"github.com/eddiefleurent/scranton_backtester/internal/volatility"
)

// EquityBar is one daily close of an underlying.
type EquityBar struct {
	Ticker string    `json:"ticker"`
	Date   time.Time `json:"date"`
	Close  float64   `json:"close"`
}

// Result is the output of one run.
type Result struct {
	Ticker      string               `json:"ticker"`
	Trades      []models.TradeRecord `json:"trades"`
	Diagnostics Diagnostics          `json:"diagnostics"`
}

// Simulator steps one underlying through its date range. It holds no mutable
// state, so a single instance may be reused and runs are deterministic.
type Simulator struct {
	cfg Config
}

// New validates cfg and returns a simulator.
func New(cfg Config) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid simulator config: %w", err)
	}
	return &Simulator{cfg: cfg}, nil
}

// Run validates cfg and simulates it over the given tables.
func Run(cfg Config, equity []EquityBar, quotes []chain.Quote) (*Result, error) {
	sim, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return sim.Run(equity, quotes), nil
}

type spotVol struct {
	spot float64
	vol  float64
}

// Run walks every equity date in [StartDate, EndDate] in ascending order. A date
// that fails for any reason is recorded in the diagnostics and skipped; empty
// input yields an empty result.
func (s *Simulator) Run(equity []EquityBar, quotes []chain.Quote) *Result {
	res := &Result{
		Ticker:      s.cfg.Ticker,
		Trades:      []models.TradeRecord{},
		Diagnostics: newDiagnostics(),
	}

	dates, series := s.prepareEquity(equity)
	book := chain.NewBook(quotes)
	res.Diagnostics.QuotedDates = book.Len()
	start, end := calendar.Truncate(s.cfg.StartDate), calendar.Truncate(s.cfg.EndDate)

	st := Flat()
	for _, date := range dates {
		if date.Before(start) {
			continue
		}
		if date.After(end) {
			break
		}

		m, err := s.market(date, series, book)
		if err != nil {
			res.Diagnostics.recordSkip(date, err)
			continue
		}

		out, err := s.Step(st, m)
		st = out.Next
		if err != nil {
			res.Diagnostics.recordSkip(date, err)
			continue
		}
		res.Trades = append(res.Trades, out.Records...)
		res.Diagnostics.DatesProcessed++
	}

	res.Diagnostics.FinalPhase = st.Phase
	return res
}

// prepareEquity returns every distinct equity date in ascending order plus the
// spot and volatility of the configured ticker keyed by date. Volatility is
// computed over the ticker's own closes in date order.
func (s *Simulator) prepareEquity(equity []EquityBar) ([]time.Time, map[time.Time]spotVol) {
	rows := make([]EquityBar, len(equity))
	copy(rows, equity)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })

	seen := make(map[time.Time]struct{})
	var dates []time.Time
	var own []EquityBar
	for _, r := range rows {
		d := calendar.Truncate(r.Date)
		if _, ok := seen[d]; !ok {
			seen[d] = struct{}{}
			dates = append(dates, d)
		}
		if r.Ticker == s.cfg.Ticker {
			own = append(own, r)
		}
	}

	closes := make([]float64, len(own))
	for i, r := range own {
		closes[i] = r.Close
	}
	vols := volatility.Series(closes, s.cfg.Lookback, s.cfg.DefaultVolatility)

	series := make(map[time.Time]spotVol, len(own))
	for i, r := range own {
		d := calendar.Truncate(r.Date)
		if _, dup := series[d]; dup {
			continue
		}
		series[d] = spotVol{spot: r.Close, vol: vols[i]}
	}
	return dates, series
}

func (s *Simulator) market(date time.Time, series map[time.Time]spotVol, book *chain.Book) (Market, error) {
	sv, ok := series[date]
	if !ok || !(sv.spot > 0) {
		return Market{}, fmt.Errorf("%w: %s %s", errMissingSpot, s.cfg.Ticker, date.Format(calendar.DateLayout))
	}

	quotes := book.Quotes(date)
	if len(quotes) == 0 {
		return Market{}, fmt.Errorf("%w: %s", errNoQuotes, date.Format(calendar.DateLayout))
	}
	day, err := chain.NewDay(date, quotes)
	if err != nil {
		return Market{}, err
	}

	return Market{
		Date:          date,
		Spot:          sv.spot,
		Vol:           sv.vol,
		TTM:           calendar.TimeToMaturity(date),
		DTE:           calendar.DaysToExpiry(date),
		Day:           day,
		NextDayQuoted: book.Has(date.AddDate(0, 0, 1)),
	}, nil
}
