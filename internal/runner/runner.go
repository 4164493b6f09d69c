// Package runner dispatches one simulation per underlying across a bounded
// worker pool and gathers the tradebooks in ticker order.
package runner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/calendar"
	"github.com/eddiefleurent/scranton_backtester/internal/config"
	"github.com/eddiefleurent/scranton_backtester/internal/data"
	"github.com/eddiefleurent/scranton_backtester/internal/models"
	"github.com/eddiefleurent/scranton_backtester/internal/simulator"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// TickerResult is the outcome of one underlying. A failed ticker carries an
// empty tradebook and the error that stopped it.
type TickerResult struct {
	Ticker string            `json:"ticker"`
	Start  time.Time         `json:"start"`
	End    time.Time         `json:"end"`
	Result *simulator.Result `json:"result"`
	Err    string            `json:"error,omitempty"`
	err    error
}

// Failure returns the error that stopped this ticker, if any.
func (t TickerResult) Failure() error {
	return t.err
}

// Batch is one backtest over a set of underlyings.
type Batch struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Results    []TickerResult `json:"results"`
}

// Trades concatenates every tradebook in ticker order.
func (b *Batch) Trades() []models.TradeRecord {
	trades := []models.TradeRecord{}
	for _, r := range b.Results {
		trades = append(trades, r.Result.Trades...)
	}
	return trades
}

// Tickers lists the underlyings of the batch in order.
func (b *Batch) Tickers() []string {
	out := make([]string, len(b.Results))
	for i, r := range b.Results {
		out[i] = r.Ticker
	}
	return out
}

// Failed lists the tickers that produced no result.
func (b *Batch) Failed() []string {
	var out []string
	for _, r := range b.Results {
		if r.err != nil {
			out = append(out, r.Ticker)
		}
	}
	return out
}

// Runner runs the configured strategy over several underlyings.
type Runner struct {
	cfg    *config.Config
	source data.Source
	logger *logrus.Logger
	newID  func() string
}

// New returns a runner reading datasets from source.
func New(cfg *config.Config, source data.Source, logger *logrus.Logger) *Runner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Runner{
		cfg:    cfg,
		source: source,
		logger: logger,
		newID:  func() string { return uuid.New().String() },
	}
}

// Run simulates every ticker with at most cfg.Workers() in flight. Each worker
// owns its dataset; nothing is shared between tickers. Per-ticker failures are
// logged and reported in the batch; only cancellation or an unusable window
// fails the whole run.
func (r *Runner) Run(ctx context.Context, tickers []string) (*Batch, error) {
	start, err := r.cfg.StartDate()
	if err != nil {
		return nil, fmt.Errorf("run.start_date: %w", err)
	}
	end, err := r.cfg.EndDate()
	if err != nil {
		return nil, fmt.Errorf("run.end_date: %w", err)
	}

	batch := &Batch{
		RunID:     r.newID(),
		StartedAt: time.Now().UTC(),
		Results:   make([]TickerResult, len(tickers)),
	}
	log := r.logger.WithField("run_id", batch.RunID)
	log.WithFields(logrus.Fields{
		"tickers": len(tickers),
		"workers": r.cfg.Workers(),
	}).Info("Starting backtest")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers())
	for i, ticker := range tickers {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			batch.Results[i] = r.runTicker(gctx, log, ticker, start, end)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("backtest %s interrupted: %w", batch.RunID, err)
	}

	batch.FinishedAt = time.Now().UTC()
	log.WithFields(logrus.Fields{
		"trades":   len(batch.Trades()),
		"failed":   len(batch.Failed()),
		"duration": batch.FinishedAt.Sub(batch.StartedAt).Round(time.Millisecond),
	}).Info("Backtest finished")
	return batch, nil
}

func (r *Runner) runTicker(ctx context.Context, log *logrus.Entry, ticker string, start, end time.Time) TickerResult {
	log = log.WithField("ticker", ticker)
	out := TickerResult{
		Ticker: ticker,
		Result: &simulator.Result{Ticker: r.cfg.EquityTicker(ticker), Trades: []models.TradeRecord{}},
	}
	fail := func(err error) TickerResult {
		log.WithError(err).Error("Ticker failed, reporting empty tradebook")
		out.err = err
		out.Err = err.Error()
		return out
	}

	ds, err := r.source.Load(ctx, ticker)
	if err != nil {
		return fail(fmt.Errorf("loading %s: %w", ticker, err))
	}

	out.Start, out.End = r.window(ds.Equity, r.cfg.EquityTicker(ticker), start, end)
	if out.Start.IsZero() {
		return fail(fmt.Errorf("%s: no equity rows for %s", ticker, r.cfg.EquityTicker(ticker)))
	}

	res, err := simulator.Run(r.cfg.SimulatorConfig(ticker, out.Start, out.End), ds.Equity, ds.Quotes)
	if err != nil {
		return fail(err)
	}
	out.Result = res

	d := res.Diagnostics
	entry := log.WithFields(logrus.Fields{
		"from":      out.Start.Format(calendar.DateLayout),
		"to":        out.End.Format(calendar.DateLayout),
		"trades":    len(res.Trades),
		"quoted":    d.QuotedDates,
		"processed": d.DatesProcessed,
		"skipped":   d.DatesSkipped,
	})
	if d.DatesSkipped > 0 {
		entry = entry.WithField("skips", formatSkips(d.SkipsByReason))
	}
	entry.Info("Ticker simulated")
	if d.FinalPhase != models.PhaseFlat {
		log.WithField("phase", d.FinalPhase).Warnf("Window ended with a live position: %s", d.FinalPhase.Describe())
	}
	return out
}

// window resolves the simulated range. An unset start is the first equity date
// of the ticker and an unset end is start plus run.window_months.
func (r *Runner) window(equity []simulator.EquityBar, equityTicker string, start, end time.Time) (time.Time, time.Time) {
	if start.IsZero() {
		for _, bar := range equity {
			if bar.Ticker != equityTicker {
				continue
			}
			if d := calendar.Truncate(bar.Date); start.IsZero() || d.Before(start) {
				start = d
			}
		}
		if start.IsZero() {
			return time.Time{}, time.Time{}
		}
	}
	if end.IsZero() {
		end = start.AddDate(0, r.cfg.Run.WindowMonths, 0)
	}
	return start, end
}

func formatSkips(byReason map[simulator.SkipReason]int) string {
	reasons := make([]string, 0, len(byReason))
	for reason := range byReason {
		reasons = append(reasons, string(reason))
	}
	sort.Strings(reasons)
	out := ""
	for i, reason := range reasons {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s=%d", reason, byReason[simulator.SkipReason(reason)])
	}
	return out
}
