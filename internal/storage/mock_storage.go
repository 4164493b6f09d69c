package storage

import (
	"fmt"
	"sync"

	"github.com/eddiefleurent/scranton_backtester/internal/models"
)

// MockStorage implements Interface in memory for testing
type MockStorage struct {
	mu            sync.Mutex
	saveErrors    []error
	runs          []Run
	trades        map[string][]models.TradeRecord
	saveCallCount int
	closed        bool
}

// NewMockStorage creates a new mock storage for testing
func NewMockStorage() *MockStorage {
	return &MockStorage{
		trades: make(map[string][]models.TradeRecord),
	}
}

// FailSaves makes the next len(errs) SaveRun calls return errs in order.
func (m *MockStorage) FailSaves(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErrors = append(m.saveErrors, errs...)
}

// SaveCallCount returns how many times SaveRun was called.
func (m *MockStorage) SaveCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCallCount
}

// Closed reports whether Close was called.
func (m *MockStorage) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockStorage) SaveRun(run Run, trades []models.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saveCallCount++
	if len(m.saveErrors) > 0 {
		err := m.saveErrors[0]
		m.saveErrors = m.saveErrors[1:]
		if err != nil {
			return err
		}
	}

	if _, ok := m.trades[run.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRun, run.ID)
	}
	run.TradeCount = len(trades)
	m.runs = append(m.runs, run)
	m.trades[run.ID] = append([]models.TradeRecord{}, trades...)
	return nil
}

func (m *MockStorage) ListRuns() ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	runs := append([]Run{}, m.runs...)
	sortNewestFirst(runs)
	return runs, nil
}

func (m *MockStorage) GetRun(id string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.runs {
		if r.ID == id {
			run := r
			return &run, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
}

func (m *MockStorage) GetTrades(runID string) ([]models.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	trades, ok := m.trades[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return append([]models.TradeRecord{}, trades...), nil
}

func (m *MockStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
