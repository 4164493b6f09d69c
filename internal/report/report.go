// Package report aggregates tradebooks into PNL statistics and writes the
// tradebook, monthly and summary files.
package report

import (
	"sort"

	"github.com/eddiefleurent/scranton_backtester/internal/models"
	"github.com/shopspring/decimal"
)

const (
	yearLayout  = "2006"
	monthLayout = "2006-01"
)

// PeriodPnL is the PNL booked in one year or month, keyed by trade open date.
type PeriodPnL struct {
	Period string  `json:"period"`
	PnL    float64 `json:"pnl"`
}

// TickerPnL is the PNL of one underlying.
type TickerPnL struct {
	Ticker string  `json:"ticker"`
	Trades int     `json:"trades"`
	PnL    float64 `json:"pnl"`
}

// Summary holds the aggregate statistics of a batch.
type Summary struct {
	Mode          string      `json:"mode"`
	TotalTrades   int         `json:"total_trades"`
	WinningTrades int         `json:"winning_trades"`
	LosingTrades  int         `json:"losing_trades"`
	StopLossHits  int         `json:"stop_loss_hits"`
	Reentries     int         `json:"reentries"`
	WinRate       float64     `json:"win_rate"`
	TotalPnL      float64     `json:"total_pnl"`
	TickerPnL     []TickerPnL `json:"ticker_pnl"`
	Yearly        []PeriodPnL `json:"yearly"`
	Monthly       []PeriodPnL `json:"monthly"`
	// MaxDrawdown is the deepest fall of cumulative monthly PNL below its
	// running peak; zero or negative.
	MaxDrawdown      float64   `json:"max_drawdown"`
	AvgYearlyReturn  float64   `json:"avg_yearly_return"`
	AvgMonthlyReturn float64   `json:"avg_monthly_return"`
	MaxProfitMonth   PeriodPnL `json:"max_profit_month"`
	MaxLossMonth     PeriodPnL `json:"max_loss_month"`
	PositiveMonths   int       `json:"positive_months"`
	NegativeMonths   int       `json:"negative_months"`
}

// Signed returns the trades as reported in mode: buy flips the sign of every
// PNL, sell keeps it.
func Signed(trades []models.TradeRecord, buy bool) []models.TradeRecord {
	out := make([]models.TradeRecord, len(trades))
	copy(out, trades)
	if buy {
		for i := range out {
			out[i].PnL = -out[i].PnL
		}
	}
	return out
}

// Summarize aggregates trades whose PNL is already signed for the mode.
func Summarize(trades []models.TradeRecord, mode string) *Summary {
	s := &Summary{
		Mode:      mode,
		TickerPnL: []TickerPnL{},
		Yearly:    []PeriodPnL{},
		Monthly:   []PeriodPnL{},
	}

	total := decimal.Zero
	byTicker := newBuckets()
	byYear := newBuckets()
	byMonth := newBuckets()
	tradesByTicker := make(map[string]int)

	for _, t := range trades {
		pnl := decimal.NewFromFloat(t.PnL)
		total = total.Add(pnl)
		byTicker.add(t.Ticker, pnl)
		byYear.add(t.OpenDate.Format(yearLayout), pnl)
		byMonth.add(t.OpenDate.Format(monthLayout), pnl)
		tradesByTicker[t.Ticker]++

		s.TotalTrades++
		switch {
		case t.PnL > 0:
			s.WinningTrades++
		case t.PnL < 0:
			s.LosingTrades++
		}
		if t.IsStopLoss() {
			s.StopLossHits++
		}
		if t.Reentry {
			s.Reentries++
		}
	}
	s.TotalPnL = total.InexactFloat64()
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades) * 100
	}

	for _, p := range byTicker.sorted() {
		s.TickerPnL = append(s.TickerPnL, TickerPnL{Ticker: p.Period, Trades: tradesByTicker[p.Period], PnL: p.PnL})
	}
	s.Yearly = byYear.sorted()
	s.Monthly = byMonth.sorted()
	s.AvgYearlyReturn = byYear.mean()
	s.AvgMonthlyReturn = byMonth.mean()
	s.MaxDrawdown = maxDrawdown(byMonth)

	for i, m := range s.Monthly {
		if i == 0 || m.PnL > s.MaxProfitMonth.PnL {
			s.MaxProfitMonth = m
		}
		if i == 0 || m.PnL < s.MaxLossMonth.PnL {
			s.MaxLossMonth = m
		}
		switch {
		case m.PnL > 0:
			s.PositiveMonths++
		case m.PnL < 0:
			s.NegativeMonths++
		}
	}
	return s
}

// maxDrawdown walks cumulative PNL in period order. The running peak starts at
// the first cumulative value, not at zero.
func maxDrawdown(b *buckets) float64 {
	cum := decimal.Zero
	var peak, worst decimal.Decimal
	for i, key := range b.keys() {
		cum = cum.Add(b.sums[key])
		if i == 0 || cum.GreaterThan(peak) {
			peak = cum
		}
		if dd := cum.Sub(peak); dd.LessThan(worst) {
			worst = dd
		}
	}
	return worst.InexactFloat64()
}

type buckets struct {
	sums map[string]decimal.Decimal
}

func newBuckets() *buckets {
	return &buckets{sums: make(map[string]decimal.Decimal)}
}

func (b *buckets) add(key string, v decimal.Decimal) {
	b.sums[key] = b.sums[key].Add(v)
}

func (b *buckets) keys() []string {
	keys := make([]string, 0, len(b.sums))
	for k := range b.sums {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (b *buckets) sorted() []PeriodPnL {
	out := make([]PeriodPnL, 0, len(b.sums))
	for _, k := range b.keys() {
		out = append(out, PeriodPnL{Period: k, PnL: b.sums[k].InexactFloat64()})
	}
	return out
}

func (b *buckets) mean() float64 {
	if len(b.sums) == 0 {
		return 0
	}
	sum := decimal.Zero
	for _, v := range b.sums {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(b.sums)))).InexactFloat64()
}
