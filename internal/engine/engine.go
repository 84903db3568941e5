package engine

import (
	"sync"
	"time"

	"github.com/apex/log"

	"github.com/mcules/stepcache/internal/config"
	"github.com/mcules/stepcache/internal/metrics"
)

// Decision is the outcome of one DecideAndRun call.
type Decision int

const (
	// DecisionBypass: caching disabled, the real computation ran untracked.
	DecisionBypass Decision = iota
	// DecisionWarmup: still inside warmup, the real computation ran.
	DecisionWarmup
	// DecisionCompute: the strategy chose a real computation.
	DecisionCompute
	// DecisionForced: the strategy wanted a skip but max_skip_run forced a
	// real computation.
	DecisionForced
	// DecisionSkip: the cached output was reused with noise.
	DecisionSkip
)

func (d Decision) String() string {
	switch d {
	case DecisionBypass:
		return "bypass"
	case DecisionWarmup:
		return "warmup"
	case DecisionCompute:
		return "compute"
	case DecisionForced:
		return "forced"
	case DecisionSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// State is the per-model cache record: settings, counters and the last real
// result. All methods are safe for concurrent use; calls against one State
// serialize, calls against different States never contend.
//
// run serializes DecideAndRun and owns the cached output. mu guards what
// Snapshot reads and is never held while the model computes, so a forward may
// read its own stats. Fields under mu that the step also uses (step and the
// policy) are written with both locks held.
type State[T any] struct {
	run sync.Mutex
	mu  sync.Mutex

	id       string
	settings config.Settings
	ops      Ops[T]
	dist     Distancer[T]
	clock    func() time.Time
	logger   log.Interface

	// run
	cached  T
	primed  bool
	skipRun int

	// mu
	enabled     bool
	step        int
	policy      policy
	calls       int64
	hits        int64
	computeTime time.Duration
	ewma        metrics.EWMA
	createdAt   time.Time
	lastUsedAt  time.Time
}

type StateOption func(*stateOptions)

type stateOptions struct {
	clock  func() time.Time
	logger log.Interface
}

// WithClock replaces time.Now for timing and timestamps.
func WithClock(clock func() time.Time) StateOption {
	return func(o *stateOptions) { o.clock = clock }
}

func WithLogger(l log.Interface) StateOption {
	return func(o *stateOptions) { o.logger = l }
}

// NewState builds an enabled State. settings must already be validated.
func NewState[T any](id string, settings config.Settings, ops Ops[T], opts ...StateOption) *State[T] {
	o := stateOptions{clock: time.Now, logger: log.Log}
	for _, fn := range opts {
		fn(&o)
	}

	s := &State[T]{
		id:       id,
		settings: settings,
		ops:      ops,
		policy:   newPolicy(settings),
		clock:    o.clock,
		logger:   o.logger.WithField("model", id),
		enabled:  true,
		ewma:     metrics.NewEWMA(0.2),
	}
	if d, ok := ops.(Distancer[T]); ok {
		s.dist = d
	}
	s.createdAt = s.clock()
	s.lastUsedAt = s.createdAt
	return s
}

func (s *State[T]) ID() string { return s.id }

func (s *State[T]) Settings() config.Settings { return s.settings }

func (s *State[T]) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Disable stops caching. Counters are retained.
func (s *State[T]) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = false
}

// ResetStats zeroes the observational counters only.
func (s *State[T]) ResetStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = 0
	s.hits = 0
	s.computeTime = 0
	s.ewma.Reset()
}

// DecideAndRun resolves one inference step: it either reuses the cached
// output with noise or invokes compute. compute is only invoked on the
// calling goroutine and within this call.
//
// Every enabled call advances the step, failed ones included. A failed
// compute leaves the cached output as it was.
func (s *State[T]) DecideAndRun(compute func() (T, error)) (T, error) {
	s.run.Lock()
	defer s.run.Unlock()

	s.mu.Lock()
	s.calls++
	enabled := s.enabled
	step := s.step
	if enabled {
		s.step++
	}
	s.mu.Unlock()

	if !enabled {
		out, _, err := s.timed(compute)
		s.trace(DecisionBypass, step, err)
		return out, err
	}

	decision := s.decide(step)

	if decision == DecisionSkip {
		if !s.primed {
			var zero T
			err := &InvalidStateError{ModelID: s.id, Step: step}
			s.logger.WithError(err).Error("skip selected without cached output")
			return zero, err
		}
		s.skipRun++
		s.mu.Lock()
		s.hits++
		s.lastUsedAt = s.clock()
		s.mu.Unlock()
		out := s.ops.Perturb(s.cached, s.settings.NoiseScale)
		s.trace(decision, step, nil)
		return out, nil
	}

	out, elapsed, err := s.timed(compute)
	if err != nil {
		s.trace(decision, step, err)
		return out, err
	}

	var c *correction
	if decision != DecisionWarmup {
		c = &correction{hits: s.skipRun, duration: elapsed}
		if s.dist != nil && s.primed && s.skipRun > 0 {
			c.drift = s.dist.Distance(s.cached, out)
			c.hasDrift = true
		}
	}

	s.mu.Lock()
	if c != nil {
		s.policy.observe(*c)
	}
	s.lastUsedAt = s.clock()
	s.mu.Unlock()

	s.skipRun = 0
	s.cached = s.ops.Clone(out)
	s.primed = true
	s.trace(decision, step, nil)
	return out, nil
}

// decide evaluates the skip predicate for step without mutating state.
// Callers hold run.
func (s *State[T]) decide(step int) Decision {
	// Step 0 always computes: nothing is cached before it.
	if step < max(1, s.settings.WarmupSteps) {
		return DecisionWarmup
	}
	n := step - s.settings.WarmupSteps
	if !s.policy.skip(n) {
		return DecisionCompute
	}
	if s.policy.bounded() && s.skipRun >= s.settings.MaxSkipRun {
		return DecisionForced
	}
	return DecisionSkip
}

// timed runs compute without holding mu. Failed runs count toward the
// compute total since they are real computations; only successful ones feed
// the EWMA.
func (s *State[T]) timed(compute func() (T, error)) (T, time.Duration, error) {
	start := s.clock()
	out, err := compute()
	elapsed := s.clock().Sub(start)
	if s.settings.EnableStats {
		s.mu.Lock()
		s.computeTime += elapsed
		if err == nil {
			s.ewma.Observe(elapsed)
		}
		s.mu.Unlock()
	}
	return out, elapsed, err
}

func (s *State[T]) trace(d Decision, step int, err error) {
	if !s.settings.Debug {
		return
	}
	s.mu.Lock()
	calls, hits := s.calls, s.hits
	s.mu.Unlock()

	ctx := s.logger.WithFields(log.Fields{
		"step":     step,
		"decision": d.String(),
		"calls":    calls,
		"hits":     hits,
	})
	if err != nil {
		ctx.WithError(err).Warn("cache decision")
		return
	}
	ctx.Info("cache decision")
}

// Snapshot is a consistent copy of a State's observable fields.
type Snapshot struct {
	ModelID           string
	Strategy          config.Strategy
	SkipInterval      int
	WarmupSteps       int
	NoiseScale        float64
	Enabled           bool
	Step              int
	Calls             int64
	Hits              int64
	TotalComputeTime  time.Duration
	ComputeEWMA       time.Duration
	EffectiveInterval int
	MeanDrift         float64
	CreatedAt         time.Time
	LastUsedAt        time.Time
}

func (s *State[T]) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ModelID:           s.id,
		Strategy:          s.settings.Strategy,
		SkipInterval:      s.settings.SkipInterval,
		WarmupSteps:       s.settings.WarmupSteps,
		NoiseScale:        s.settings.NoiseScale,
		Enabled:           s.enabled,
		Step:              s.step,
		Calls:             s.calls,
		Hits:              s.hits,
		TotalComputeTime:  s.computeTime,
		ComputeEWMA:       s.ewma.Duration(),
		EffectiveInterval: s.policy.interval(max(0, s.step-s.settings.WarmupSteps)),
		CreatedAt:         s.createdAt,
		LastUsedAt:        s.lastUsedAt,
	}
	if a, ok := s.policy.(*adaptive); ok {
		snap.MeanDrift = a.meanDrift()
	}
	return snap
}
