// Package mock generates deterministic synthetic equity and options tables in
// the EOD file layout, for tests and demo runs without market data.
package mock

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/calendar"
	"github.com/eddiefleurent/scranton_backtester/internal/chain"
	"github.com/eddiefleurent/scranton_backtester/internal/data"
	"github.com/eddiefleurent/scranton_backtester/internal/pricing"
	"github.com/eddiefleurent/scranton_backtester/internal/simulator"
	"github.com/eddiefleurent/scranton_backtester/internal/util"
)

const tradingDaysPerYear = 252.0

// MarketConfig describes the synthetic market of one underlying.
type MarketConfig struct {
	Ticker       string  // file ticker, e.g. RELIANCE
	TickerSuffix string  // appended for the equity table, e.g. .EQ-NSE
	Start        time.Time
	End          time.Time
	Spot         float64 // first close
	Volatility   float64 // annualized, drives both the path and option prices
	Drift        float64 // annualized
	StrikeStep   float64 // whole units; identifiers carry integer strikes
	Strikes      int     // strikes on each side of the money
	Tick         float64
	RiskFreeRate float64
	Seed         uint64
}

// DefaultMarketConfig returns a two-year market around a 1000 spot.
func DefaultMarketConfig(ticker string) MarketConfig {
	start := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	return MarketConfig{
		Ticker:       ticker,
		TickerSuffix: ".EQ-NSE",
		Start:        start,
		End:          start.AddDate(2, 0, 0),
		Spot:         1000,
		Volatility:   0.25,
		Drift:        0.08,
		StrikeStep:   20,
		Strikes:      8,
		Tick:         0.05,
		RiskFreeRate: pricing.DefaultRiskFreeRate,
		Seed:         seedFor(ticker),
	}
}

// seedFor derives a stable seed from the ticker so each underlying gets its own path.
func seedFor(ticker string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(ticker); i++ {
		h ^= uint64(ticker[i])
		h *= 1099511628211
	}
	return h
}

// Validate checks the market parameters.
func (c MarketConfig) Validate() error {
	if strings.TrimSpace(c.Ticker) == "" {
		return fmt.Errorf("ticker is required")
	}
	if c.End.Before(c.Start) {
		return fmt.Errorf("end (%s) before start (%s)", c.End.Format(calendar.DateLayout), c.Start.Format(calendar.DateLayout))
	}
	if c.Spot <= 0 || c.Volatility <= 0 {
		return fmt.Errorf("spot and volatility must be > 0")
	}
	if c.StrikeStep < 1 || c.StrikeStep != math.Trunc(c.StrikeStep) {
		return fmt.Errorf("strike step must be a whole number >= 1, got %v", c.StrikeStep)
	}
	if c.Strikes < 1 {
		return fmt.Errorf("strikes must be >= 1")
	}
	if c.Tick <= 0 {
		return fmt.Errorf("tick must be > 0")
	}
	return nil
}

// DataProvider produces a seeded random-walk market.
type DataProvider struct {
	cfg MarketConfig
	rng *rand.Rand
}

// NewDataProvider returns a provider for cfg.
func NewDataProvider(cfg MarketConfig) (*DataProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid market config: %w", err)
	}
	return &DataProvider{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}, nil
}

// EquityTicker is the ticker written to the equity table.
func (p *DataProvider) EquityTicker() string {
	return p.cfg.Ticker + p.cfg.TickerSuffix
}

type session struct {
	date                   time.Time
	open, high, low, close float64
}

// Generate builds the equity and options tables. Every weekday between Start
// and End is a trading day. Each expiry cycle lists a fixed strike grid centred
// on the spot at the cycle's first session, so held strikes stay quoted until
// expiry.
func (p *DataProvider) Generate() *data.Dataset {
	sessions := p.walk()
	ds := &data.Dataset{
		Ticker: p.cfg.Ticker,
		Equity: make([]simulator.EquityBar, 0, len(sessions)),
	}

	centres := make(map[time.Time]float64)
	for _, s := range sessions {
		ds.Equity = append(ds.Equity, simulator.EquityBar{
			Ticker: p.EquityTicker(),
			Date:   s.date,
			Close:  util.RoundToTick(s.close, p.cfg.Tick),
		})

		expiry := calendar.Expiry(s.date)
		centre, ok := centres[expiry]
		if !ok {
			centre = math.Round(s.close/p.cfg.StrikeStep) * p.cfg.StrikeStep
			centres[expiry] = centre
		}
		ds.Quotes = append(ds.Quotes, p.chainFor(s, expiry, centre)...)
	}
	return ds
}

// walk draws a geometric Brownian path with an overnight gap and an intraday range.
func (p *DataProvider) walk() []session {
	sigma := p.cfg.Volatility / math.Sqrt(tradingDaysPerYear)
	mu := (p.cfg.Drift - p.cfg.Volatility*p.cfg.Volatility/2) / tradingDaysPerYear

	var out []session
	prev := p.cfg.Spot
	for d := calendar.Truncate(p.cfg.Start); !d.After(p.cfg.End); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		open := prev * math.Exp(0.25*sigma*p.rng.NormFloat64())
		closePx := prev * math.Exp(mu+sigma*p.rng.NormFloat64())
		hi := math.Max(open, closePx) * (1 + 0.5*sigma*math.Abs(p.rng.NormFloat64()))
		lo := math.Min(open, closePx) * (1 - 0.5*sigma*math.Abs(p.rng.NormFloat64()))
		out = append(out, session{date: d, open: open, high: hi, low: lo, close: closePx})
		prev = closePx
	}
	return out
}

// ContractID formats an identifier such as RELIANCE-27JUN19-1400CE.
func ContractID(ticker string, expiry time.Time, strike float64, right chain.Right) string {
	code := "PE"
	if right.IsCall() {
		code = "CE"
	}
	return fmt.Sprintf("%s-%s-%d%s", ticker, strings.ToUpper(expiry.Format("02Jan06")), int64(strike), code)
}

func (p *DataProvider) chainFor(s session, expiry time.Time, centre float64) []chain.Quote {
	tte := float64(calendar.DaysBetween(s.date, expiry)) / 365
	quotes := make([]chain.Quote, 0, 2*(2*p.cfg.Strikes+1))

	for i := -p.cfg.Strikes; i <= p.cfg.Strikes; i++ {
		strike := centre + float64(i)*p.cfg.StrikeStep
		if strike <= 0 {
			continue
		}
		for _, right := range []chain.Right{chain.RightCall, chain.RightPut} {
			price := func(spot float64, round func(x, tick float64) float64) float64 {
				v := pricing.Price(right.IsCall(), spot, strike, tte, p.cfg.RiskFreeRate, p.cfg.Volatility)
				return math.Max(p.cfg.Tick, round(v, p.cfg.Tick))
			}
			// premiums rise with spot for calls and fall for puts
			hiSpot, loSpot := s.high, s.low
			if !right.IsCall() {
				hiSpot, loSpot = s.low, s.high
			}
			quotes = append(quotes, chain.Quote{
				Date:       s.date,
				ContractID: ContractID(p.cfg.Ticker, expiry, strike, right),
				Open:       price(s.open, util.RoundToTick),
				High:       price(hiSpot, util.CeilToTick),
				Low:        price(loSpot, util.FloorToTick),
				Close:      price(s.close, util.RoundToTick),
			})
		}
	}
	return quotes
}
