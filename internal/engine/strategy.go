package engine

import (
	"time"

	"github.com/mcules/stepcache/internal/config"
)

// policy is the per-state skip predicate for the ACTIVE phase. n is the
// post-warmup step index.
type policy interface {
	skip(n int) bool
	interval(n int) int
	// bounded reports whether runs of consecutive skips are capped by
	// max_skip_run.
	bounded() bool
	observe(c correction)
}

// correction describes a real computation performed on an active step.
type correction struct {
	// hits is the number of skips served since the previous real computation.
	hits     int
	duration time.Duration
	drift    float64
	hasDrift bool
}

var policies = map[config.Strategy]func(config.Settings) policy{
	config.Fixed:    newFixed,
	config.Dynamic:  newDynamic,
	config.Adaptive: newAdaptive,
}

func newPolicy(s config.Settings) policy {
	mk, ok := policies[s.Strategy]
	if !ok {
		// Settings are validated before a State is built.
		panic("engine: no policy for strategy " + s.Strategy.String())
	}
	return mk(s)
}

// periodic is the shared skip predicate: reuse on the last step of every
// period of length every.
func periodic(n, every int) bool {
	return n%every == every-1
}

type fixed struct {
	every int
}

func newFixed(s config.Settings) policy { return &fixed{every: s.SkipInterval} }

func (f *fixed) skip(n int) bool    { return periodic(n, f.every) }
func (f *fixed) interval(int) int   { return f.every }
func (f *fixed) bounded() bool      { return false }
func (f *fixed) observe(correction) {}

// dynamic shrinks its period by one every window active steps, bottoming
// out at 1.
type dynamic struct {
	base   int
	window int
}

func newDynamic(s config.Settings) policy {
	return &dynamic{base: s.SkipInterval, window: s.DecayWindow}
}

func (d *dynamic) interval(n int) int {
	return max(1, d.base-n/d.window)
}

func (d *dynamic) skip(n int) bool    { return periodic(n, d.interval(n)) }
func (d *dynamic) bounded() bool      { return true }
func (d *dynamic) observe(correction) {}
