// Package sweeper periodically reclaims orphaned cache entries and records
// stats snapshots.
package sweeper

import (
	"context"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"github.com/mcules/stepcache/internal/engine"
)

// Source is the registry side of a sweep.
type Source interface {
	Sweep() int
	Snapshots() []engine.Snapshot
}

type SnapshotSaver interface {
	SaveSnapshot(ctx context.Context, runID string, takenAt time.Time, snaps []engine.Snapshot) error
}

type Sweeper struct {
	Source Source
	// Snapshots is optional; without it a tick only reclaims.
	Snapshots SnapshotSaver

	Interval time.Duration
	// RunID tags every snapshot written by this process. Generated on
	// first use when empty.
	RunID string
	Clock func() time.Time
}

func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one sweep and, with a saver configured, one snapshot.
func (s *Sweeper) Tick(ctx context.Context) {
	if n := s.Source.Sweep(); n > 0 {
		log.WithField("reclaimed", n).Info("sweeper: orphaned cache entries dropped")
	}
	if s.Snapshots == nil {
		return
	}

	snaps := s.Source.Snapshots()
	if len(snaps) == 0 {
		return
	}
	if s.RunID == "" {
		s.RunID = uuid.NewString()
	}
	now := time.Now
	if s.Clock != nil {
		now = s.Clock
	}
	if err := s.Snapshots.SaveSnapshot(ctx, s.RunID, now(), snaps); err != nil {
		log.WithError(err).WithField("run", s.RunID).Warn("sweeper: save snapshot")
	}
}
