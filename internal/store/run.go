package store

import (
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// Run is the persisted record of one capture loop.
type Run struct {
	ID           string     `json:"id"`
	Source       string     `json:"source"`
	Status       string     `json:"status"`
	Outcome      string     `json:"outcome,omitempty"`
	Processed    uint64     `json:"processed"`
	ReadFailures uint64     `json:"read_failures"`
	LastError    string     `json:"last_error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	StoppedAt    *time.Time `json:"stopped_at,omitempty"`
}

// RunRepository provides CRUD operations for runs.
type RunRepository struct {
	db *sql.DB
}

// Runs returns the run repository for this store.
func (s *Store) Runs() *RunRepository {
	return &RunRepository{db: s.db}
}

// Create inserts a new run. StartedAt defaults to now.
func (r *RunRepository) Create(run *Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	_, err := r.db.Exec(
		`INSERT INTO runs (id, source, status, started_at)
		 VALUES (?, ?, ?, ?)`,
		run.ID, run.Source, run.Status, run.StartedAt,
	)
	return err
}

// Finish records the final state of a run.
func (r *RunRepository) Finish(run *Run) error {
	if run.StoppedAt == nil {
		now := time.Now().UTC()
		run.StoppedAt = &now
	}

	result, err := r.db.Exec(
		`UPDATE runs
		 SET status = ?, outcome = ?, processed = ?, read_failures = ?, last_error = ?, stopped_at = ?
		 WHERE id = ?`,
		run.Status, run.Outcome, int64(run.Processed), int64(run.ReadFailures), run.LastError, *run.StoppedAt, run.ID,
	)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get retrieves a run by its ID.
func (r *RunRepository) Get(id string) (*Run, error) {
	row := r.db.QueryRow(
		`SELECT id, source, status, outcome, processed, read_failures, last_error, started_at, stopped_at
		 FROM runs WHERE id = ?`,
		id,
	)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return run, nil
}

// List returns the most recent runs, newest first. A limit of zero or less
// returns every run.
func (r *RunRepository) List(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.Query(
		`SELECT id, source, status, outcome, processed, read_failures, last_error, started_at, stopped_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}

// Delete removes a run record.
func (r *RunRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	run := &Run{}
	var processed, failures int64
	var stoppedAt sql.NullTime

	err := s.Scan(&run.ID, &run.Source, &run.Status, &run.Outcome,
		&processed, &failures, &run.LastError, &run.StartedAt, &stoppedAt)
	if err != nil {
		return nil, err
	}

	run.Processed = uint64(processed)
	run.ReadFailures = uint64(failures)
	if stoppedAt.Valid {
		t := stoppedAt.Time
		run.StoppedAt = &t
	}
	return run, nil
}
