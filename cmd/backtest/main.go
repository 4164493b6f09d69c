package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/config"
	"github.com/eddiefleurent/scranton_backtester/internal/dashboard"
	"github.com/eddiefleurent/scranton_backtester/internal/data"
	"github.com/eddiefleurent/scranton_backtester/internal/mock"
	"github.com/eddiefleurent/scranton_backtester/internal/models"
	"github.com/eddiefleurent/scranton_backtester/internal/report"
	"github.com/eddiefleurent/scranton_backtester/internal/retry"
	"github.com/eddiefleurent/scranton_backtester/internal/runner"
	"github.com/eddiefleurent/scranton_backtester/internal/storage"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type options struct {
	configPath string
	envFile    string
	synthetic  bool
	generate   bool
	serve      bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("backtest", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.envFile, "env", "", "Path to a .env file loaded before the config (default: ./.env if present)")
	fs.BoolVar(&opts.synthetic, "synthetic", false, "Run on generated market data instead of the data directory")
	fs.BoolVar(&opts.generate, "generate", false, "Write synthetic market data for the configured tickers into data.dir and exit")
	fs.BoolVar(&opts.serve, "serve", false, "Serve stored runs on the dashboard after the backtest")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout, logger); err != nil {
		logger.WithError(err).Fatal("Backtest failed")
	}
}

func run(ctx context.Context, opts options, out io.Writer, logger *logrus.Logger) error {
	if err := loadEnv(opts.envFile); err != nil {
		return err
	}

	var overrides []config.Override
	if opts.synthetic {
		overrides = append(overrides, func(c *config.Config) { c.Data.Synthetic = true })
	}
	cfg, err := config.Load(opts.configPath, overrides...)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if level, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	if opts.generate {
		return generate(cfg, logger)
	}

	source, err := buildSource(cfg, logger)
	if err != nil {
		return err
	}

	batch, err := runner.New(cfg, source, logger).Run(ctx, cfg.Run.Tickers)
	if err != nil {
		return err
	}

	trades := report.Signed(batch.Trades(), cfg.IsBuyMode())
	summary := report.Summarize(trades, cfg.Strategy.Mode)
	report.Print(out, summary)

	if err := writeOutputs(cfg, trades, summary, logger); err != nil {
		return err
	}

	if cfg.Storage.Path == "" {
		if opts.serve {
			return errors.New("-serve needs storage.path to be set")
		}
		return nil
	}

	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close storage")
		}
	}()

	// stored trades keep the seller's sign; readers apply the run's mode
	if err := retry.NewClient(store, logger).SaveRunWithRetry(ctx, runRecord(cfg, batch), batch.Trades()); err != nil {
		return err
	}

	if opts.serve || cfg.Dashboard.Enabled {
		return serve(ctx, cfg, store, logger)
	}
	return nil
}

// loadEnv loads path, or ./.env when path is empty and the file exists.
func loadEnv(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func buildSource(cfg *config.Config, logger *logrus.Logger) (data.Source, error) {
	if cfg.Data.Synthetic {
		sets, err := syntheticMarket(cfg)
		if err != nil {
			return nil, err
		}
		logger.WithField("tickers", len(sets)).Info("Using synthetic market data")
		return data.NewMemorySource(sets...), nil
	}

	files := &data.FileSource{
		Dir:            cfg.Data.Dir,
		EquityPattern:  cfg.Data.EquityPattern,
		OptionsPattern: cfg.Data.OptionsPattern,
	}
	return data.NewGuardedSource(files, cfg.BreakerSettings(), logger), nil
}

// syntheticMarket generates one seeded dataset per configured ticker, spanning
// the run window when it is set.
func syntheticMarket(cfg *config.Config) ([]*data.Dataset, error) {
	start, err := cfg.StartDate()
	if err != nil {
		return nil, err
	}
	end, err := cfg.EndDate()
	if err != nil {
		return nil, err
	}

	sets := make([]*data.Dataset, 0, len(cfg.Run.Tickers))
	for _, ticker := range cfg.Run.Tickers {
		mc := mock.DefaultMarketConfig(ticker)
		mc.TickerSuffix = cfg.Data.TickerSuffix
		mc.RiskFreeRate = cfg.RiskFreeRate()
		if !start.IsZero() {
			mc.Start = start
		}
		if !end.IsZero() {
			mc.End = end
		} else if !start.IsZero() {
			mc.End = start.AddDate(0, cfg.Run.WindowMonths, 0)
		}
		p, err := mock.NewDataProvider(mc)
		if err != nil {
			return nil, fmt.Errorf("synthetic market for %s: %w", ticker, err)
		}
		sets = append(sets, p.Generate())
	}
	return sets, nil
}

// generate writes the synthetic market into data.dir using the configured file
// patterns, so a later run without -synthetic reads it back.
func generate(cfg *config.Config, logger *logrus.Logger) error {
	if cfg.Data.Dir == "" {
		return errors.New("-generate needs data.dir to be set")
	}
	sets, err := syntheticMarket(cfg)
	if err != nil {
		return err
	}
	files := &data.FileSource{
		Dir:            cfg.Data.Dir,
		EquityPattern:  cfg.Data.EquityPattern,
		OptionsPattern: cfg.Data.OptionsPattern,
	}
	for _, ds := range sets {
		if err := files.Save(ds); err != nil {
			return fmt.Errorf("writing %s: %w", ds.Ticker, err)
		}
		eq, opt := files.Paths(ds.Ticker)
		logger.WithFields(logrus.Fields{
			"ticker":  ds.Ticker,
			"equity":  eq,
			"options": opt,
			"quotes":  len(ds.Quotes),
		}).Info("Wrote synthetic market")
	}
	return nil
}

func writeOutputs(cfg *config.Config, trades []models.TradeRecord, summary *report.Summary, logger *logrus.Logger) error {
	tradebook, monthly, summaryFile := report.FileNames(
		cfg.Strategy.OptionType, cfg.Strategy.Mode, cfg.Strategy.SL, cfg.Strategy.DTE, cfg.Strategy.TargetDelta)

	writes := []struct {
		enabled bool
		name    string
		write   func(string) error
	}{
		{cfg.Output.Tradebook, tradebook, func(p string) error { return report.WriteTradebookCSV(p, trades) }},
		{cfg.Output.Monthly, monthly, func(p string) error { return report.WriteMonthlyCSV(p, summary.Monthly) }},
		{cfg.Output.Summary, summaryFile, func(p string) error { return report.WriteSummaryJSON(p, summary) }},
	}
	for _, w := range writes {
		if !w.enabled {
			continue
		}
		path := filepath.Join(cfg.Output.Dir, w.name)
		if err := w.write(path); err != nil {
			return err
		}
		logger.WithField("path", path).Info("Wrote report")
	}
	return nil
}

func runRecord(cfg *config.Config, batch *runner.Batch) storage.Run {
	return storage.Run{
		ID:           batch.RunID,
		StartedAt:    batch.StartedAt,
		FinishedAt:   batch.FinishedAt,
		Tickers:      batch.Tickers(),
		Failed:       batch.Failed(),
		OptionType:   cfg.Strategy.OptionType,
		Mode:         cfg.Strategy.Mode,
		DTE:          cfg.Strategy.DTE,
		StopLoss:     cfg.Strategy.SL,
		TargetDelta:  cfg.Strategy.TargetDelta,
		MaxReentries: cfg.Strategy.MaxReentries,
		ReentryType:  cfg.Strategy.ReentryType,
	}
}

func serve(ctx context.Context, cfg *config.Config, store storage.Interface, logger *logrus.Logger) error {
	srv := dashboard.NewServer(dashboard.Config{
		Listen:    cfg.Dashboard.Listen,
		AuthToken: cfg.Dashboard.AuthToken,
	}, store, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("Shutdown signal received, stopping dashboard...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
