package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestJSONStorage_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runs.json")

	storage, err := NewJSONStorage(path)
	if err != nil {
		t.Fatalf("NewJSONStorage failed: %v", err)
	}
	if err := storage.SaveRun(testRun("run-1", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)), testTrades()); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("Expected temp file to be renamed away, stat err = %v", err)
	}

	reopened, err := NewJSONStorage(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	run, err := reopened.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun after reopen failed: %v", err)
	}
	if run.TradeCount != 2 {
		t.Errorf("Expected trade count 2, got %d", run.TradeCount)
	}
	trades, err := reopened.GetTrades("run-1")
	if err != nil || len(trades) != 2 {
		t.Fatalf("Expected 2 trades after reopen, got %d (%v)", len(trades), err)
	}
}

func TestJSONStorage_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewJSONStorage(path); err == nil {
		t.Error("Expected error for corrupt storage file")
	}
}

func TestSQLiteStorage_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backtests.db")

	storage, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatalf("NewSQLiteStorage failed: %v", err)
	}
	if err := storage.SaveRun(testRun("run-1", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)), testTrades()); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	if err := storage.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	trades, err := reopened.GetTrades("run-1")
	if err != nil || len(trades) != 2 {
		t.Fatalf("Expected 2 trades after reopen, got %d (%v)", len(trades), err)
	}
	if trades[1].ReentryCount != 1 || !trades[1].Reentry {
		t.Errorf("Re-entry fields not persisted: %+v", trades[1])
	}
}

func TestNewStorage_SelectsBackend(t *testing.T) {
	dir := t.TempDir()

	js, err := NewStorage(filepath.Join(dir, "runs.JSON"))
	if err != nil {
		t.Fatalf("NewStorage(json) failed: %v", err)
	}
	if _, ok := js.(*JSONStorage); !ok {
		t.Errorf("Expected *JSONStorage, got %T", js)
	}

	db, err := NewStorage(filepath.Join(dir, "backtests.db"))
	if err != nil {
		t.Fatalf("NewStorage(db) failed: %v", err)
	}
	defer func() { _ = db.Close() }()
	if _, ok := db.(*SQLiteStorage); !ok {
		t.Errorf("Expected *SQLiteStorage, got %T", db)
	}
}
