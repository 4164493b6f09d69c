package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/config"
	"github.com/eddiefleurent/scranton_backtester/internal/report"
	"github.com/eddiefleurent/scranton_backtester/internal/runner"
	"github.com/eddiefleurent/scranton_backtester/internal/simulator"
	"github.com/eddiefleurent/scranton_backtester/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func writeConfig(t *testing.T, dir, extra string) string {
	t.Helper()
	yaml := `
data:
  dir: ` + filepath.Join(dir, "data") + `
strategy:
  option_type: call
  mode: sell
  total_exposure: 700000
  dte: 20
  sl: 1
  target_delta: 0.25
run:
  tickers: [RELIANCE, TCS]
  start_date: "2019-01-01"
  end_date: "2019-06-30"
  workers: 2
output:
  dir: ` + filepath.Join(dir, "out") + `
  tradebook: true
  monthly: true
  summary: true
` + extra
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, options{configPath: "config.yaml"}, opts)

	opts, err = parseFlags([]string{"-config", "bt.yaml", "-env", "prod.env", "-synthetic", "-generate", "-serve"})
	require.NoError(t, err)
	assert.Equal(t, options{configPath: "bt.yaml", envFile: "prod.env", synthetic: true, generate: true, serve: true}, opts)

	_, err = parseFlags([]string{"-unknown"})
	assert.Error(t, err)
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("BACKTEST_TEST_TOKEN=from-env-file\n"), 0o600))
	t.Setenv("BACKTEST_TEST_TOKEN", "")
	require.NoError(t, os.Unsetenv("BACKTEST_TEST_TOKEN"))

	require.NoError(t, loadEnv(path))
	assert.Equal(t, "from-env-file", os.Getenv("BACKTEST_TEST_TOKEN"))

	err := loadEnv(filepath.Join(dir, "nope.env"))
	assert.ErrorContains(t, err, "failed to load env file")
}

func TestLoadEnv_MissingDefaultIsIgnored(t *testing.T) {
	t.Chdir(t.TempDir())
	assert.NoError(t, loadEnv(""))
}

func TestRun_SyntheticEndToEnd(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "backtests.db")
	cfgPath := writeConfig(t, dir, "storage:\n  path: "+dbPath+"\n")

	var out bytes.Buffer
	err := run(context.Background(), options{configPath: cfgPath, synthetic: true}, &out, quietLogger())
	require.NoError(t, err)
	assert.NotEmpty(t, out.String())

	tradebook, monthly, summaryFile := report.FileNames("call", "sell", 1, 20, 0.25)
	for _, name := range []string{tradebook, monthly, summaryFile} {
		assert.FileExists(t, filepath.Join(dir, "out", name))
	}

	f, err := os.Open(filepath.Join(dir, "out", tradebook))
	require.NoError(t, err)
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, f.Close())
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, "ticker", rows[0][0])
	tradeCount := len(rows) - 1

	raw, err := os.ReadFile(filepath.Join(dir, "out", summaryFile))
	require.NoError(t, err)
	var summary report.Summary
	require.NoError(t, json.Unmarshal(raw, &summary))
	assert.Equal(t, tradeCount, summary.TotalTrades)

	store, err := storage.NewStorage(dbPath)
	require.NoError(t, err)
	defer store.Close()

	runs, err := store.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, []string{"RELIANCE", "TCS"}, runs[0].Tickers)
	assert.Empty(t, runs[0].Failed)
	assert.Equal(t, "sell", runs[0].Mode)
	assert.Equal(t, tradeCount, runs[0].TradeCount)

	trades, err := store.GetTrades(runs[0].ID)
	require.NoError(t, err)
	assert.Len(t, trades, tradeCount)
}

func TestRun_MissingDataFilesYieldEmptyTradebook(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")

	err := run(context.Background(), options{configPath: cfgPath}, io.Discard, quietLogger())
	require.NoError(t, err, "missing ticker files are logged per ticker, not fatal")

	tradebook, _, _ := report.FileNames("call", "sell", 1, 20, 0.25)
	raw, err := os.ReadFile(filepath.Join(dir, "out", tradebook))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(raw), "\n"), "only the header row is written")
}

func TestRun_GenerateThenReadFiles(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")
	logger := quietLogger()

	require.NoError(t, run(context.Background(), options{configPath: cfgPath, generate: true}, io.Discard, logger))
	for _, ticker := range []string{"RELIANCE", "TCS"} {
		assert.FileExists(t, filepath.Join(dir, "data", ticker+"_EQ_EOD.csv"))
		assert.FileExists(t, filepath.Join(dir, "data", ticker+"_Opt_EOD.csv"))
	}
	tradebook, _, _ := report.FileNames("call", "sell", 1, 20, 0.25)
	assert.NoFileExists(t, filepath.Join(dir, "out", tradebook), "-generate does not run the backtest")

	// reading the written files must match running on the generated data directly
	require.NoError(t, run(context.Background(), options{configPath: cfgPath}, io.Discard, logger))
	fromFiles, err := os.ReadFile(filepath.Join(dir, "out", tradebook))
	require.NoError(t, err)

	require.NoError(t, run(context.Background(), options{configPath: cfgPath, synthetic: true}, io.Discard, logger))
	fromMemory, err := os.ReadFile(filepath.Join(dir, "out", tradebook))
	require.NoError(t, err)
	assert.Equal(t, string(fromMemory), string(fromFiles))
}

func TestRun_ServeWithoutStorage(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")

	err := run(context.Background(), options{configPath: cfgPath, synthetic: true, serve: true}, io.Discard, quietLogger())
	assert.ErrorContains(t, err, "storage.path")
}

func TestRun_BadConfig(t *testing.T) {
	err := run(context.Background(), options{configPath: filepath.Join(t.TempDir(), "none.yaml")}, io.Discard, quietLogger())
	assert.ErrorContains(t, err, "failed to load config")
}

func TestRunRecord(t *testing.T) {
	cfg, err := config.Parse([]byte(`
data:
  synthetic: true
strategy:
  option_type: put
  mode: buy
  total_exposure: 500000
  dte: 15
  sl: 1.5
  target_delta: 0.3
  max_reentries: 2
  reentry_type: cost
run:
  tickers: [INFY, TCS]
`))
	require.NoError(t, err)

	started := time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)
	batch := &runner.Batch{
		RunID:      "run-1",
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		Results: []runner.TickerResult{
			{Ticker: "INFY", Result: &simulator.Result{}},
			{Ticker: "TCS", Result: &simulator.Result{}, Err: "ticker not found"},
		},
	}

	rec := runRecord(cfg, batch)
	assert.Equal(t, "run-1", rec.ID)
	assert.Equal(t, started, rec.StartedAt)
	assert.Equal(t, []string{"INFY", "TCS"}, rec.Tickers)
	assert.Equal(t, "put", rec.OptionType)
	assert.Equal(t, "buy", rec.Mode)
	assert.Equal(t, 15, rec.DTE)
	assert.Equal(t, 1.5, rec.StopLoss)
	assert.Equal(t, 0.3, rec.TargetDelta)
	assert.Equal(t, 2, rec.MaxReentries)
	assert.Equal(t, "cost", rec.ReentryType)
}
