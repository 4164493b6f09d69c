package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/models"
)

// JSONStorage keeps every run in a single JSON document, rewritten on each save.
type JSONStorage struct {
	mu       sync.RWMutex
	filepath string
	data     *jsonData
}

type jsonData struct {
	Runs        []Run                           `json:"runs"`
	Trades      map[string][]models.TradeRecord `json:"trades"`
	LastUpdated time.Time                       `json:"last_updated"`
}

// NewJSONStorage opens path, loading it when it exists.
func NewJSONStorage(path string) (*JSONStorage, error) {
	s := &JSONStorage{
		filepath: path,
		data:     &jsonData{Trades: make(map[string][]models.TradeRecord)},
	}

	if _, err := os.Stat(path); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("checking storage file: %w", err)
	}

	return s, nil
}

func (s *JSONStorage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}

	var data jsonData
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}
	if data.Trades == nil {
		data.Trades = make(map[string][]models.TradeRecord)
	}
	s.data = &data
	return nil
}

// save writes the document to a temp file and renames it into place. Callers
// hold the write lock.
func (s *JSONStorage) save() error {
	s.data.LastUpdated = time.Now().UTC()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.filepath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating storage directory: %w", err)
		}
	}

	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, raw, 0o644); err != nil {
		return err
	}

	return os.Rename(tmpFile, s.filepath)
}

// SaveRun implements Interface.
func (s *JSONStorage) SaveRun(run Run, trades []models.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.data.Runs {
		if r.ID == run.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateRun, run.ID)
		}
	}

	run.TradeCount = len(trades)
	stored := make([]models.TradeRecord, len(trades))
	copy(stored, trades)

	prevRuns := s.data.Runs
	s.data.Runs = append(append([]Run(nil), prevRuns...), run)
	s.data.Trades[run.ID] = stored
	if err := s.save(); err != nil {
		s.data.Runs = prevRuns
		delete(s.data.Trades, run.ID)
		return fmt.Errorf("saving run %s: %w", run.ID, err)
	}
	return nil
}

// ListRuns implements Interface.
func (s *JSONStorage) ListRuns() ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]Run, len(s.data.Runs))
	copy(runs, s.data.Runs)
	sortNewestFirst(runs)
	return runs, nil
}

// GetRun implements Interface.
func (s *JSONStorage) GetRun(id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.data.Runs {
		if r.ID == id {
			run := r
			return &run, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
}

// GetTrades implements Interface.
func (s *JSONStorage) GetTrades(runID string) ([]models.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trades, ok := s.data.Trades[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	out := make([]models.TradeRecord, len(trades))
	copy(out, trades)
	return out, nil
}

// Close implements Interface. Every save is already on disk.
func (s *JSONStorage) Close() error {
	return nil
}

func sortNewestFirst(runs []Run) {
	sort.SliceStable(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		}
		return runs[i].ID < runs[j].ID
	})
}
