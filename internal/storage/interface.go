package storage

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/models"
)

// Run describes one persisted backtest: when it ran, over what, and with
// which strategy parameters.
type Run struct {
	ID           string    `json:"id"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Tickers      []string  `json:"tickers"`
	Failed       []string  `json:"failed,omitempty"`
	OptionType   string    `json:"option_type"`
	Mode         string    `json:"mode"`
	DTE          int       `json:"dte"`
	StopLoss     float64   `json:"sl"`
	TargetDelta  float64   `json:"target_delta"`
	MaxReentries int       `json:"max_reentries"`
	ReentryType  string    `json:"reentry_type"`
	TradeCount   int       `json:"trade_count"`
}

// Interface defines the contract for backtest result persistence.
//
// Implementations must be safe for concurrent use. Trades are returned in the
// order they were saved.
type Interface interface {
	// SaveRun stores a run and its trades atomically. TradeCount is set from
	// len(trades). Saving an existing ID returns ErrDuplicateRun.
	SaveRun(run Run, trades []models.TradeRecord) error
	// ListRuns returns every run, newest first.
	ListRuns() ([]Run, error)
	GetRun(id string) (*Run, error)
	GetTrades(runID string) ([]models.TradeRecord, error)
	Close() error
}

// NewStorage opens the backend matching path: a .json file uses JSONStorage,
// anything else is a SQLite database.
func NewStorage(path string) (Interface, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return NewJSONStorage(path)
	}
	return NewSQLiteStorage(path)
}

// Ensure implementations satisfy Interface
var (
	_ Interface = (*JSONStorage)(nil)
	_ Interface = (*SQLiteStorage)(nil)
	_ Interface = (*MockStorage)(nil)
)
