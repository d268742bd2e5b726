package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Runs table - one row per capture loop
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			status TEXT NOT NULL CHECK(status IN ('opening', 'running', 'cancelling', 'failed', 'stopped')),
			outcome TEXT NOT NULL DEFAULT '',
			processed INTEGER NOT NULL DEFAULT 0,
			read_failures INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			started_at DATETIME NOT NULL,
			stopped_at DATETIME
		)`,

		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
