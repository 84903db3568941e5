package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcules/stepcache/internal/engine"
)

type sourceDouble struct {
	mu     sync.Mutex
	sweeps int
	snaps  []engine.Snapshot
}

func (s *sourceDouble) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweeps++
	return 1
}

func (s *sourceDouble) Snapshots() []engine.Snapshot { return s.snaps }

func (s *sourceDouble) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweeps
}

type saverDouble struct {
	runs  []string
	times []time.Time
	err   error
}

func (s *saverDouble) SaveSnapshot(_ context.Context, runID string, at time.Time, _ []engine.Snapshot) error {
	s.runs = append(s.runs, runID)
	s.times = append(s.times, at)
	return s.err
}

func TestTickSavesUnderOneRun(t *testing.T) {
	src := &sourceDouble{snaps: []engine.Snapshot{{ModelID: "unet_1"}}}
	saver := &saverDouble{}
	at := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	s := &Sweeper{Source: src, Snapshots: saver, Clock: func() time.Time { return at }}

	s.Tick(context.Background())
	s.Tick(context.Background())

	assert.Equal(t, 2, src.count())
	require.Len(t, saver.runs, 2)
	assert.Equal(t, saver.runs[0], saver.runs[1])
	_, err := uuid.Parse(saver.runs[0])
	assert.NoError(t, err)
	assert.Equal(t, at, saver.times[0])
}

func TestTickWithoutSnapshots(t *testing.T) {
	saver := &saverDouble{}
	s := &Sweeper{Source: &sourceDouble{}, Snapshots: saver, RunID: "fixed"}
	s.Tick(context.Background())
	assert.Empty(t, saver.runs)

	s = &Sweeper{Source: &sourceDouble{snaps: []engine.Snapshot{{}}}}
	s.Tick(context.Background())
}

func TestTickSurvivesSaveError(t *testing.T) {
	saver := &saverDouble{err: errors.New("disk full")}
	s := &Sweeper{Source: &sourceDouble{snaps: []engine.Snapshot{{}}}, Snapshots: saver, RunID: "r"}
	s.Tick(context.Background())
	s.Tick(context.Background())
	assert.Equal(t, []string{"r", "r"}, saver.runs)
}

func TestRunStopsOnCancel(t *testing.T) {
	src := &sourceDouble{}
	s := &Sweeper{Source: src, Interval: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return src.count() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
