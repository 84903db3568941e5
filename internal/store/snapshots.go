package store

import (
	"context"
	"fmt"
	"time"

	"github.com/mcules/stepcache/internal/engine"
)

// SnapshotRecord is one model's counters at one point of a run.
type SnapshotRecord struct {
	RunID            string        `json:"run_id"`
	TakenAt          time.Time     `json:"taken_at"`
	ModelID          string        `json:"model_id"`
	Strategy         string        `json:"strategy"`
	Enabled          bool          `json:"enabled"`
	Step             int           `json:"step"`
	Calls            int64         `json:"calls"`
	Hits             int64         `json:"hits"`
	TotalComputeTime time.Duration `json:"total_compute_time"`
}

// SaveSnapshot stores snaps under runID in one transaction.
func (s *Store) SaveSnapshot(ctx context.Context, runID string, takenAt time.Time, snaps []engine.Snapshot) error {
	if s.db == nil || len(snaps) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO stats_snapshots(run_id, taken_at, model_id, strategy, enabled, step, calls, hits, total_compute_ns)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id, taken_at, model_id) DO NOTHING;
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	at := takenAt.UnixMilli()
	for _, snap := range snaps {
		if _, err := stmt.ExecContext(ctx, runID, at, snap.ModelID, snap.Strategy.String(), boolToInt(snap.Enabled),
			snap.Step, snap.Calls, snap.Hits, int64(snap.TotalComputeTime)); err != nil {
			return fmt.Errorf("save snapshot of %s: %w", snap.ModelID, err)
		}
	}
	return tx.Commit()
}

// ListSnapshots returns the recorded history of modelID, newest first. An
// empty modelID lists every model. limit <= 0 means no limit.
func (s *Store) ListSnapshots(ctx context.Context, modelID string, limit int) ([]SnapshotRecord, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, taken_at, model_id, strategy, enabled, step, calls, hits, total_compute_ns
FROM stats_snapshots
WHERE ?='' OR model_id=?
ORDER BY taken_at DESC, model_id ASC
LIMIT ?;
`, modelID, modelID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SnapshotRecord
	for rows.Next() {
		var (
			r       SnapshotRecord
			at      int64
			enabled int
			ns      int64
		)
		if err := rows.Scan(&r.RunID, &at, &r.ModelID, &r.Strategy, &enabled, &r.Step, &r.Calls, &r.Hits, &ns); err != nil {
			return nil, err
		}
		r.TakenAt = time.UnixMilli(at)
		r.Enabled = enabled != 0
		r.TotalComputeTime = time.Duration(ns)
		out = append(out, r)
	}
	return out, rows.Err()
}
