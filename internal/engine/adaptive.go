package engine

import (
	"time"

	"github.com/mcules/stepcache/internal/config"
	"github.com/mcules/stepcache/internal/metrics"
)

// Tuning constants for the Adaptive strategy.
const (
	adaptiveWindow = 8

	// driftBudget is the largest relative change between a reused output and
	// the next real one that still counts as a clean reuse.
	driftBudget = 0.05

	// timeBudget flags a correction whose compute took longer than this
	// multiple of the recent mean.
	timeBudget = 2.0

	// minTimingSamples is how many durations are needed before timeBudget
	// is enforced.
	minTimingSamples = 3

	// promoteAfter clean reuses move the interval one step toward more reuse.
	promoteAfter = 4

	// demoteAfter consecutive violated corrections move it one step back.
	demoteAfter = 2
)

// adaptive runs the Fixed predicate over an interval it tunes inside
// [1, skip_interval]. It starts conservative, at skip_interval.
type adaptive struct {
	limit int
	every int

	durations  *metrics.Window
	drift      *metrics.Window
	clean      int
	violations int
}

func newAdaptive(s config.Settings) policy {
	return &adaptive{
		limit:     s.SkipInterval,
		every:     s.SkipInterval,
		durations: metrics.NewWindow(adaptiveWindow),
		drift:     metrics.NewWindow(adaptiveWindow),
	}
}

func (a *adaptive) skip(n int) bool  { return periodic(n, a.every) }
func (a *adaptive) interval(int) int { return a.every }
func (a *adaptive) bounded() bool    { return true }

func (a *adaptive) observe(c correction) {
	ms := float64(c.duration) / float64(time.Millisecond)
	if c.hits == 0 {
		a.durations.Add(ms)
		return
	}

	violated := c.hasDrift && c.drift > driftBudget
	if a.durations.Len() >= minTimingSamples && ms > timeBudget*a.durations.Mean() {
		violated = true
	}
	a.durations.Add(ms)
	if c.hasDrift {
		a.drift.Add(c.drift)
	}

	if violated {
		a.clean = 0
		a.violations++
		if a.violations >= demoteAfter {
			a.every = min(a.limit, a.every+1)
			a.violations = 0
		}
		return
	}

	a.violations = 0
	a.clean += c.hits
	if a.clean >= promoteAfter {
		a.every = max(1, a.every-1)
		a.clean = 0
	}
}

// meanDrift is the recent average drift, 0 when nothing was measured.
func (a *adaptive) meanDrift() float64 { return a.drift.Mean() }
