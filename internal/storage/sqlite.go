package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/chain"
	"github.com/eddiefleurent/scranton_backtester/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const tradeBatchSize = 500

type runRow struct {
	ID           string    `gorm:"primaryKey"`
	StartedAt    time.Time `gorm:"index"`
	FinishedAt   time.Time
	Tickers      string
	Failed       string
	OptionType   string
	Mode         string
	DTE          int
	StopLoss     float64
	TargetDelta  float64
	MaxReentries int
	ReentryType  string
	TradeCount   int
	CreatedAt    time.Time
}

func (runRow) TableName() string { return "runs" }

type tradeRow struct {
	ID             uint   `gorm:"primaryKey"`
	RunID          string `gorm:"index:idx_run_seq"`
	Seq            int    `gorm:"index:idx_run_seq"`
	Ticker         string `gorm:"index"`
	OptionRight    string
	OpenDate       time.Time
	SpotPrice      float64
	Strike         float64
	InitialPremium float64
	FinalPremium   float64
	CloseDate      time.Time
	PnL            float64
	LotSize        float64
	StopReason     string
	Reentry        bool
	ReentryCount   int
}

func (tradeRow) TableName() string { return "trade_records" }

// SQLiteStorage persists runs and their trade records in SQLite through GORM.
type SQLiteStorage struct {
	db *gorm.DB
}

// NewSQLiteStorage opens or creates the database at dbPath and migrates the
// schema. ":memory:" opens a private in-memory database.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dbPath == ":memory:" {
		// each pooled connection would otherwise see its own empty database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&runRow{}, &tradeRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// SaveRun implements Interface.
func (s *SQLiteStorage) SaveRun(run Run, trades []models.TradeRecord) error {
	run.TradeCount = len(trades)
	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&runRow{}).Where("id = ?", run.ID).Count(&existing).Error; err != nil {
			return fmt.Errorf("failed to check run %s: %w", run.ID, err)
		}
		if existing > 0 {
			return fmt.Errorf("%w: %s", ErrDuplicateRun, run.ID)
		}

		row := toRunRow(run)
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to save run %s: %w", run.ID, err)
		}

		if len(trades) == 0 {
			return nil
		}
		rows := make([]tradeRow, len(trades))
		for i, t := range trades {
			rows[i] = toTradeRow(run.ID, i, t)
		}
		if err := tx.CreateInBatches(rows, tradeBatchSize).Error; err != nil {
			return fmt.Errorf("failed to save trades of run %s: %w", run.ID, err)
		}
		return nil
	})
}

// ListRuns implements Interface.
func (s *SQLiteStorage) ListRuns() ([]Run, error) {
	var rows []runRow
	if err := s.db.Order("started_at DESC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	runs := make([]Run, len(rows))
	for i, r := range rows {
		runs[i] = r.toRun()
	}
	return runs, nil
}

// GetRun implements Interface.
func (s *SQLiteStorage) GetRun(id string) (*Run, error) {
	var row runRow
	err := s.db.Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	run := row.toRun()
	return &run, nil
}

// GetTrades implements Interface.
func (s *SQLiteStorage) GetTrades(runID string) ([]models.TradeRecord, error) {
	if _, err := s.GetRun(runID); err != nil {
		return nil, err
	}

	var rows []tradeRow
	if err := s.db.Where("run_id = ?", runID).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get trades of run %s: %w", runID, err)
	}
	trades := make([]models.TradeRecord, len(rows))
	for i, r := range rows {
		trades[i] = r.toTrade()
	}
	return trades, nil
}

// Close implements Interface.
func (s *SQLiteStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func joinList(v []string) string {
	return strings.Join(v, ",")
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func toRunRow(r Run) runRow {
	return runRow{
		ID:           r.ID,
		StartedAt:    r.StartedAt.UTC(),
		FinishedAt:   r.FinishedAt.UTC(),
		Tickers:      joinList(r.Tickers),
		Failed:       joinList(r.Failed),
		OptionType:   r.OptionType,
		Mode:         r.Mode,
		DTE:          r.DTE,
		StopLoss:     r.StopLoss,
		TargetDelta:  r.TargetDelta,
		MaxReentries: r.MaxReentries,
		ReentryType:  r.ReentryType,
		TradeCount:   r.TradeCount,
	}
}

func (r runRow) toRun() Run {
	return Run{
		ID:           r.ID,
		StartedAt:    r.StartedAt.UTC(),
		FinishedAt:   r.FinishedAt.UTC(),
		Tickers:      splitList(r.Tickers),
		Failed:       splitList(r.Failed),
		OptionType:   r.OptionType,
		Mode:         r.Mode,
		DTE:          r.DTE,
		StopLoss:     r.StopLoss,
		TargetDelta:  r.TargetDelta,
		MaxReentries: r.MaxReentries,
		ReentryType:  r.ReentryType,
		TradeCount:   r.TradeCount,
	}
}

func toTradeRow(runID string, seq int, t models.TradeRecord) tradeRow {
	return tradeRow{
		RunID:          runID,
		Seq:            seq,
		Ticker:         t.Ticker,
		OptionRight:    string(t.Right),
		OpenDate:       t.OpenDate.UTC(),
		SpotPrice:      t.SpotPrice,
		Strike:         t.Strike,
		InitialPremium: t.InitialPremium,
		FinalPremium:   t.FinalPremium,
		CloseDate:      t.CloseDate.UTC(),
		PnL:            t.PnL,
		LotSize:        t.LotSize,
		StopReason:     string(t.StopReason),
		Reentry:        t.Reentry,
		ReentryCount:   t.ReentryCount,
	}
}

func (r tradeRow) toTrade() models.TradeRecord {
	return models.TradeRecord{
		Ticker:         r.Ticker,
		Right:          chain.Right(r.OptionRight),
		OpenDate:       r.OpenDate.UTC(),
		SpotPrice:      r.SpotPrice,
		Strike:         r.Strike,
		InitialPremium: r.InitialPremium,
		FinalPremium:   r.FinalPremium,
		CloseDate:      r.CloseDate.UTC(),
		PnL:            r.PnL,
		LotSize:        r.LotSize,
		StopReason:     models.StopReason(r.StopReason),
		Reentry:        r.Reentry,
		ReentryCount:   r.ReentryCount,
	}
}
