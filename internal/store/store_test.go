package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// newTestStore creates a new Store in a temporary directory.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})

	return s
}

func TestNewStore_CreatesDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	// Verify the database file doesn't exist yet
	if _, err := os.Stat(dbPath); !os.IsNotExist(err) {
		t.Fatal("database file should not exist before creating store")
	}

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("database file should exist after creating store")
	}
	if s.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", s.Path(), dbPath)
	}
}

func TestNewStore_RunsMigrations(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"runs", "idx_runs_started_at"} {
		var got string
		err := s.DB().QueryRow(
			"SELECT name FROM sqlite_master WHERE name=?",
			name,
		).Scan(&got)
		if err != nil {
			t.Errorf("%q should exist after migrations: %v", name, err)
		}
	}
}

func TestNewStore_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := s.Runs().Create(&Run{ID: "r1", Source: "0", Status: "running"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	s.Close()

	s, err = New(dbPath)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer s.Close()

	if _, err := s.Runs().Get("r1"); err != nil {
		t.Errorf("Get() after reopen error = %v", err)
	}
}

func TestStore_Close(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("close should not return error: %v", err)
	}

	// After closing, DB operations should fail
	if _, err := s.DB().Exec("SELECT 1"); err == nil {
		t.Error("DB operations should fail after close")
	}
}

func TestRunRepository_CreateAndGet(t *testing.T) {
	repo := newTestStore(t).Runs()

	run := &Run{ID: "run-1", Source: "rtsp://camera/stream", Status: "running"}
	if err := repo.Create(run); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if run.StartedAt.IsZero() {
		t.Error("StartedAt should be set after create")
	}

	got, err := repo.Get("run-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Source != run.Source || got.Status != "running" {
		t.Errorf("Get() = %+v", got)
	}
	if got.StoppedAt != nil {
		t.Errorf("StoppedAt = %v, want nil for a running run", got.StoppedAt)
	}
}

func TestRunRepository_CreateDuplicate(t *testing.T) {
	repo := newTestStore(t).Runs()

	if err := repo.Create(&Run{ID: "dup", Source: "0", Status: "running"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Create(&Run{ID: "dup", Source: "1", Status: "running"}); err == nil {
		t.Error("expected error for duplicate id")
	}
}

func TestRunRepository_InvalidStatus(t *testing.T) {
	repo := newTestStore(t).Runs()

	if err := repo.Create(&Run{ID: "bad", Source: "0", Status: "paused"}); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestRunRepository_Finish(t *testing.T) {
	repo := newTestStore(t).Runs()

	run := &Run{ID: "run-1", Source: "0", Status: "running"}
	if err := repo.Create(run); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	run.Status = "stopped"
	run.Outcome = "failed"
	run.Processed = 123
	run.ReadFailures = 100
	run.LastError = "source closed"
	if err := repo.Finish(run); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	got, err := repo.Get("run-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != "stopped" || got.Outcome != "failed" {
		t.Errorf("status/outcome = %s/%s, want stopped/failed", got.Status, got.Outcome)
	}
	if got.Processed != 123 || got.ReadFailures != 100 {
		t.Errorf("counters = %d/%d, want 123/100", got.Processed, got.ReadFailures)
	}
	if got.LastError != "source closed" {
		t.Errorf("LastError = %q", got.LastError)
	}
	if got.StoppedAt == nil {
		t.Error("StoppedAt should be set after finish")
	}
}

func TestRunRepository_FinishUnknown(t *testing.T) {
	repo := newTestStore(t).Runs()

	err := repo.Finish(&Run{ID: "missing", Status: "stopped"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Finish() error = %v, want ErrNotFound", err)
	}
}

func TestRunRepository_GetNotFound(t *testing.T) {
	repo := newTestStore(t).Runs()

	if _, err := repo.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestRunRepository_List(t *testing.T) {
	repo := newTestStore(t).Runs()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		run := &Run{ID: id, Source: "0", Status: "running", StartedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := repo.Create(run); err != nil {
			t.Fatalf("Create(%s) error = %v", id, err)
		}
	}

	tests := []struct {
		name  string
		limit int
		want  []string
	}{
		{name: "all", limit: 0, want: []string{"c", "b", "a"}},
		{name: "limited", limit: 2, want: []string{"c", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := repo.List(tt.limit)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(runs) != len(tt.want) {
				t.Fatalf("List() returned %d runs, want %d", len(runs), len(tt.want))
			}
			for i, id := range tt.want {
				if runs[i].ID != id {
					t.Errorf("runs[%d] = %s, want %s", i, runs[i].ID, id)
				}
			}
		})
	}
}

func TestRunRepository_Delete(t *testing.T) {
	repo := newTestStore(t).Runs()

	if err := repo.Create(&Run{ID: "gone", Source: "0", Status: "stopped"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Delete("gone"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.Get("gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if err := repo.Delete("gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}
