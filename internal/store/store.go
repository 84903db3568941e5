// Package store persists per-model cache policies and stats snapshots in
// sqlite.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate store %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS cache_policies (
  model_name TEXT PRIMARY KEY,
  strategy TEXT,
  skip_interval INTEGER,
  warmup_steps INTEGER,
  noise_scale REAL,
  enable_stats INTEGER,
  debug INTEGER,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS stats_snapshots (
  run_id TEXT NOT NULL,
  taken_at INTEGER NOT NULL,
  model_id TEXT NOT NULL,
  strategy TEXT NOT NULL,
  enabled INTEGER NOT NULL DEFAULT 0,
  step INTEGER NOT NULL DEFAULT 0,
  calls INTEGER NOT NULL DEFAULT 0,
  hits INTEGER NOT NULL DEFAULT 0,
  total_compute_ns INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (run_id, taken_at, model_id)
);

CREATE INDEX IF NOT EXISTS stats_snapshots_model ON stats_snapshots(model_id, taken_at);
`)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
