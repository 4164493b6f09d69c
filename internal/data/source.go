package data

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/chain"
	"github.com/eddiefleurent/scranton_backtester/internal/simulator"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// ErrTickerNotFound is returned when a source has no data for a ticker.
var ErrTickerNotFound = errors.New("ticker not found")

// Dataset is the pair of tables one simulation run consumes.
type Dataset struct {
	Ticker string
	Equity []simulator.EquityBar
	Quotes []chain.Quote
}

// Empty reports whether either table has no rows.
func (d *Dataset) Empty() bool {
	return d == nil || len(d.Equity) == 0 || len(d.Quotes) == 0
}

// Source supplies datasets by ticker.
type Source interface {
	Load(ctx context.Context, ticker string) (*Dataset, error)
}

// Default file name patterns; %s is the ticker.
const (
	DefaultEquityPattern  = "%s_EQ_EOD.csv"
	DefaultOptionsPattern = "%s_Opt_EOD.csv"
)

// FileSource reads <Dir>/<pattern> CSV files.
type FileSource struct {
	Dir            string
	EquityPattern  string
	OptionsPattern string
}

// NewFileSource returns a FileSource with the default file name patterns.
func NewFileSource(dir string) *FileSource {
	return &FileSource{
		Dir:            dir,
		EquityPattern:  DefaultEquityPattern,
		OptionsPattern: DefaultOptionsPattern,
	}
}

// Paths returns the equity and options file paths for ticker.
func (s *FileSource) Paths(ticker string) (string, string) {
	eq := s.EquityPattern
	if eq == "" {
		eq = DefaultEquityPattern
	}
	opt := s.OptionsPattern
	if opt == "" {
		opt = DefaultOptionsPattern
	}
	return filepath.Join(s.Dir, fmt.Sprintf(eq, ticker)), filepath.Join(s.Dir, fmt.Sprintf(opt, ticker))
}

// Load reads both files of ticker.
func (s *FileSource) Load(ctx context.Context, ticker string) (*Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	eqPath, optPath := s.Paths(ticker)

	equity, err := readFile(eqPath, LoadEquityCSV)
	if err != nil {
		return nil, fmt.Errorf("loading equity for %s: %w", ticker, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	quotes, err := readFile(optPath, LoadOptionsCSV)
	if err != nil {
		return nil, fmt.Errorf("loading options for %s: %w", ticker, err)
	}
	return &Dataset{Ticker: ticker, Equity: equity, Quotes: quotes}, nil
}

// Save writes ds under the source's patterns, creating Dir if needed.
func (s *FileSource) Save(ds *Dataset) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	eqPath, optPath := s.Paths(ds.Ticker)

	eq, err := os.Create(eqPath)
	if err != nil {
		return err
	}
	if err := WriteEquityCSV(eq, ds.Equity); err != nil {
		_ = eq.Close()
		return fmt.Errorf("writing %s: %w", eqPath, err)
	}
	if err := eq.Close(); err != nil {
		return err
	}

	opt, err := os.Create(optPath)
	if err != nil {
		return err
	}
	if err := WriteOptionsCSV(opt, ds.Quotes); err != nil {
		_ = opt.Close()
		return fmt.Errorf("writing %s: %w", optPath, err)
	}
	return opt.Close()
}

func readFile[T any](path string, load func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return zero, fmt.Errorf("%w: %s", ErrTickerNotFound, path)
		}
		return zero, err
	}
	defer func() { _ = f.Close() }()
	return load(f)
}

// MemorySource serves datasets held in memory.
type MemorySource struct {
	mu   sync.RWMutex
	sets map[string]*Dataset
}

// NewMemorySource returns a source serving the given datasets by ticker.
func NewMemorySource(sets ...*Dataset) *MemorySource {
	m := &MemorySource{sets: make(map[string]*Dataset, len(sets))}
	for _, ds := range sets {
		m.Put(ds)
	}
	return m
}

// Put adds or replaces a dataset.
func (m *MemorySource) Put(ds *Dataset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets[ds.Ticker] = ds
}

// Load returns the stored dataset for ticker.
func (m *MemorySource) Load(ctx context.Context, ticker string) (*Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ds, ok := m.sets[ticker]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTickerNotFound, ticker)
	}
	return ds, nil
}

// BreakerSettings configures GuardedSource.
type BreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// DefaultBreakerSettings trips after five loads when most of them failed.
var DefaultBreakerSettings = BreakerSettings{
	MaxRequests:  1,
	Interval:     0,
	Timeout:      30 * time.Second,
	MinRequests:  5,
	FailureRatio: 0.6,
}

// GuardedSource wraps a Source with a circuit breaker so a broken data
// directory fails the remaining tickers fast.
type GuardedSource struct {
	source  Source
	breaker *gobreaker.CircuitBreaker
}

// NewGuardedSource wraps source using settings.
func NewGuardedSource(source Source, settings BreakerSettings, logger *logrus.Logger) *GuardedSource {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	gbSettings := gobreaker.Settings{
		Name:        "DataSourceCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		// Cancellation says nothing about the health of the source.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	}
	return &GuardedSource{
		source:  source,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// Load calls the wrapped source unless the breaker is open.
func (g *GuardedSource) Load(ctx context.Context, ticker string) (*Dataset, error) {
	res, err := g.breaker.Execute(func() (interface{}, error) {
		return g.source.Load(ctx, ticker)
	})
	if err != nil {
		return nil, err
	}
	ds, ok := res.(*Dataset)
	if !ok {
		return nil, errors.New("circuit breaker: type assertion failed")
	}
	return ds, nil
}

// State returns the breaker state.
func (g *GuardedSource) State() gobreaker.State {
	return g.breaker.State()
}
