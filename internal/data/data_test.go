package data

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/chain"
	"github.com/eddiefleurent/scranton_backtester/internal/simulator"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const equityCSV = `Ticker,Date,EQ_Close
RELIANCE.EQ-NSE,2019-06-03,1330.5
RELIANCE.EQ-NSE,2019-06-04,1342.25
`

const optionsCSV = `Date,Ticker,Open,High,Low,Close,Volume
2019-06-03,RELIANCE-27JUN19-1400CE,10.5,12,9.8,11.2,1500
2019-06-03,RELIANCE-27JUN19-1300PE,8,8.5,7.1,7.4,900
`

func TestLoadEquityCSV(t *testing.T) {
	bars, err := LoadEquityCSV(strings.NewReader(equityCSV))
	require.NoError(t, err)
	require.Len(t, bars, 2)

	assert.Equal(t, "RELIANCE.EQ-NSE", bars[0].Ticker)
	assert.Equal(t, time.Date(2019, 6, 3, 0, 0, 0, 0, time.UTC), bars[0].Date)
	assert.Equal(t, 1342.25, bars[1].Close)
}

func TestLoadOptionsCSV(t *testing.T) {
	quotes, err := LoadOptionsCSV(strings.NewReader(optionsCSV))
	require.NoError(t, err)
	require.Len(t, quotes, 2)

	assert.Equal(t, chain.Quote{
		Date:       time.Date(2019, 6, 3, 0, 0, 0, 0, time.UTC),
		ContractID: "RELIANCE-27JUN19-1400CE",
		Open:       10.5,
		High:       12,
		Low:        9.8,
		Close:      11.2,
	}, quotes[0])
}

func TestLoadCSV_Errors(t *testing.T) {
	tests := []struct {
		name    string
		load    func(string) error
		input   string
		wantErr string
	}{
		{
			name:    "empty equity file",
			load:    func(s string) error { _, err := LoadEquityCSV(strings.NewReader(s)); return err },
			input:   "",
			wantErr: "no header",
		},
		{
			name:    "missing close column",
			load:    func(s string) error { _, err := LoadEquityCSV(strings.NewReader(s)); return err },
			input:   "Ticker,Date\nX,2019-06-03\n",
			wantErr: "EQ_Close",
		},
		{
			name:    "bad date",
			load:    func(s string) error { _, err := LoadEquityCSV(strings.NewReader(s)); return err },
			input:   "Ticker,Date,EQ_Close\nX,03/06/2019,10\n",
			wantErr: "line 2",
		},
		{
			name:    "bad price",
			load:    func(s string) error { _, err := LoadOptionsCSV(strings.NewReader(s)); return err },
			input:   "Date,Ticker,Open,High,Low,Close\n2019-06-03,X-1CE,1,1,1,1\n2019-06-04,X-1CE,1,n/a,1,1\n",
			wantErr: "line 3",
		},
		{
			name:    "short row",
			load:    func(s string) error { _, err := LoadOptionsCSV(strings.NewReader(s)); return err },
			input:   "Date,Ticker,Open,High,Low,Close\n2019-06-03,X-1CE,1\n",
			wantErr: "expected 6 fields",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.load(tt.input)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := LoadEquityCSV(strings.NewReader("Ticker,Date\n"))
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestFileSource_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	src := NewFileSource(dir)
	ds := &Dataset{
		Ticker: "TCS",
		Equity: []simulator.EquityBar{
			{Ticker: "TCS.EQ-NSE", Date: time.Date(2019, 6, 3, 0, 0, 0, 0, time.UTC), Close: 2210.4},
		},
		Quotes: []chain.Quote{
			{Date: time.Date(2019, 6, 3, 0, 0, 0, 0, time.UTC), ContractID: "TCS-27JUN19-2300CE", Open: 20, High: 22.5, Low: 18, Close: 21.05},
		},
	}

	require.NoError(t, src.Save(ds))
	assert.FileExists(t, filepath.Join(dir, "TCS_EQ_EOD.csv"))
	assert.FileExists(t, filepath.Join(dir, "TCS_Opt_EOD.csv"))

	got, err := src.Load(context.Background(), "TCS")
	require.NoError(t, err)
	assert.Equal(t, ds, got)
	assert.False(t, got.Empty())
}

func TestFileSource_Errors(t *testing.T) {
	dir := t.TempDir()
	src := NewFileSource(dir)

	_, err := src.Load(context.Background(), "INFY")
	assert.ErrorIs(t, err, ErrTickerNotFound)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "INFY_EQ_EOD.csv"), []byte(equityCSV), 0o644))
	_, err = src.Load(context.Background(), "INFY")
	assert.ErrorIs(t, err, ErrTickerNotFound)
	assert.Contains(t, err.Error(), "loading options")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Load(ctx, "INFY")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemorySource(t *testing.T) {
	src := NewMemorySource(&Dataset{Ticker: "SBIN"})

	ds, err := src.Load(context.Background(), "SBIN")
	require.NoError(t, err)
	assert.True(t, ds.Empty())

	_, err = src.Load(context.Background(), "ITC")
	assert.ErrorIs(t, err, ErrTickerNotFound)
}

type countingSource struct {
	calls atomic.Int32
	err   error
}

func (c *countingSource) Load(_ context.Context, ticker string) (*Dataset, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return &Dataset{Ticker: ticker}, nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func TestGuardedSource_TripsAfterFailures(t *testing.T) {
	inner := &countingSource{err: errors.New("disk gone")}
	g := NewGuardedSource(inner, BreakerSettings{
		MaxRequests:  1,
		Timeout:      time.Minute,
		MinRequests:  3,
		FailureRatio: 0.6,
	}, quietLogger())

	for i := 0; i < 3; i++ {
		_, err := g.Load(context.Background(), "X")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, g.State())

	_, err := g.Load(context.Background(), "X")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(3), inner.calls.Load(), "open breaker must not reach the source")
}

func TestGuardedSource_RecoversAfterTimeout(t *testing.T) {
	inner := &countingSource{err: errors.New("disk gone")}
	g := NewGuardedSource(inner, BreakerSettings{
		MaxRequests:  1,
		Timeout:      10 * time.Millisecond,
		MinRequests:  2,
		FailureRatio: 0.5,
	}, quietLogger())

	for i := 0; i < 2; i++ {
		_, _ = g.Load(context.Background(), "X")
	}
	require.Equal(t, gobreaker.StateOpen, g.State())

	inner.err = nil
	require.Eventually(t, func() bool {
		return g.State() == gobreaker.StateHalfOpen
	}, time.Second, time.Millisecond)

	ds, err := g.Load(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, "X", ds.Ticker)
	assert.Equal(t, gobreaker.StateClosed, g.State())
}

func TestGuardedSource_CancellationDoesNotTrip(t *testing.T) {
	inner := &countingSource{err: context.Canceled}
	g := NewGuardedSource(inner, BreakerSettings{MaxRequests: 1, Timeout: time.Minute, MinRequests: 1, FailureRatio: 0.1}, quietLogger())

	for i := 0; i < 5; i++ {
		_, err := g.Load(context.Background(), "X")
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, g.State())
}
