package registry

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"
	"weak"

	"github.com/apex/log"

	"github.com/mcules/stepcache/internal/activity"
	"github.com/mcules/stepcache/internal/config"
	"github.com/mcules/stepcache/internal/engine"
	"github.com/mcules/stepcache/internal/stats"
)

// PolicySource supplies stored per-model overrides, keyed by model name.
// They sit between the global defaults and the options passed to
// EnableCache.
type PolicySource interface {
	CachePolicy(ctx context.Context, modelName string) (config.Options, bool, error)
}

type Options struct {
	Global   config.Global
	Policies PolicySource
	Activity *activity.Log
	Clock    func() time.Time
	Logger   log.Interface
}

// Registry owns one cache state per tracked model. Model-set mutations are
// serialized by a single lock; per-step work only touches the model's own
// state.
type Registry[T any] struct {
	mu      sync.Mutex
	global  config.Global
	entries map[string]*entry[T]

	ops      engine.Ops[T]
	policies PolicySource
	activity *activity.Log
	clock    func() time.Time
	logger   log.Interface
}

type entry[T any] struct {
	state   *engine.State[T]
	hook    weak.Pointer[Hook[T]]
	cleanup runtime.Cleanup
}

// New creates a registry. A zero Options.Global means config.Defaults().
func New[T any](ops engine.Ops[T], opts Options) *Registry[T] {
	r := &Registry[T]{
		global:   opts.Global,
		entries:  map[string]*entry[T]{},
		ops:      ops,
		policies: opts.Policies,
		activity: opts.Activity,
		clock:    opts.Clock,
		logger:   opts.Logger,
	}
	if r.global == (config.Global{}) {
		r.global = config.Defaults()
	}
	if r.activity == nil {
		r.activity = activity.New(300)
	}
	if r.clock == nil {
		r.clock = time.Now
	}
	if r.logger == nil {
		r.logger = log.Log
	}
	return r
}

// ModelID derives the registry key of m from its name and hook handle.
func ModelID[T any](m Model[T]) (string, *Hook[T], error) {
	h := m.ComputeHook()
	if h == nil {
		return "", nil, &UnsupportedModelError{Model: m.Name()}
	}
	return fmt.Sprintf("%s_%d", m.Name(), h.Handle()), h, nil
}

// EnableCache starts caching m's computation. Options overlay, lowest first:
// global defaults, the stored policy for m.Name(), opts.
func (r *Registry[T]) EnableCache(m Model[T], opts ...config.Option) error {
	id, hook, err := ModelID(m)
	if err != nil {
		return err
	}

	stored := config.Options{}
	if r.policies != nil {
		p, ok, err := r.policies.CachePolicy(context.Background(), m.Name())
		if err != nil {
			return fmt.Errorf("load cache policy for %s: %w", m.Name(), err)
		}
		if ok {
			stored = p
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	settings, err := r.global.Resolve(stored, config.NewOptions(opts...))
	if err != nil {
		return err
	}

	prev := r.entries[id]
	if prev != nil && prev.state.Enabled() {
		return &DuplicateCacheError{ModelID: id}
	}

	state := engine.NewState(id, settings, r.ops,
		engine.WithClock(r.clock),
		engine.WithLogger(r.logger),
	)
	if !hook.install(state) {
		// Intercepted outside this registry.
		return &DuplicateCacheError{ModelID: id}
	}

	e := &entry[T]{
		state: state,
		hook:  weak.Make(hook),
	}
	if prev != nil {
		e.cleanup = prev.cleanup
	} else {
		e.cleanup = runtime.AddCleanup(hook, r.reclaim, id)
	}
	r.entries[id] = e

	r.logger.WithFields(log.Fields{
		"model":         id,
		"strategy":      settings.Strategy.String(),
		"skip_interval": settings.SkipInterval,
		"warmup_steps":  settings.WarmupSteps,
		"noise_scale":   settings.NoiseScale,
	}).Info("cache enabled")
	r.activity.Add(activity.Event{At: r.clock(), Type: activity.EventEnable, Model: id, Note: settings.Strategy.String()})
	return nil
}

// DisableCache restores m's original computation. Counters are kept so the
// summary stays queryable. Unknown or already disabled models are a no-op.
func (r *Registry[T]) DisableCache(m Model[T]) {
	id, hook, err := ModelID(m)
	if err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entries[id]
	if e == nil || !e.state.Enabled() {
		return
	}
	hook.restore(e.state)
	e.state.Disable()

	r.logger.WithField("model", id).Info("cache disabled")
	r.activity.Add(activity.Event{At: r.clock(), Type: activity.EventDisable, Model: id})
}

// Summary renders m's counters as text.
func (r *Registry[T]) Summary(m Model[T]) string {
	id, _, err := ModelID(m)
	if err != nil {
		return err.Error()
	}
	if s, ok := r.SummaryByID(id); ok {
		return s
	}
	return fmt.Sprintf("No cache state for %s\n", id)
}

func (r *Registry[T]) SummaryByID(id string) (string, bool) {
	snap, ok := r.SnapshotByID(id)
	if !ok {
		return "", false
	}
	return stats.FormatModel(snap), true
}

func (r *Registry[T]) Snapshot(m Model[T]) (engine.Snapshot, bool) {
	id, _, err := ModelID(m)
	if err != nil {
		return engine.Snapshot{}, false
	}
	return r.SnapshotByID(id)
}

func (r *Registry[T]) SnapshotByID(id string) (engine.Snapshot, bool) {
	r.mu.Lock()
	e := r.entries[id]
	r.mu.Unlock()

	if e == nil {
		return engine.Snapshot{}, false
	}
	return e.state.Snapshot(), true
}

// Snapshots returns a snapshot of every tracked model, ordered by id.
func (r *Registry[T]) Snapshots() []engine.Snapshot {
	states := r.states()
	out := make([]engine.Snapshot, 0, len(states))
	for _, s := range states {
		out = append(out, s.Snapshot())
	}
	stats.SortByID(out)
	return out
}

// states copies the tracked states so callers can use them without r.mu.
func (r *Registry[T]) states() []*engine.State[T] {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*engine.State[T], 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.state)
	}
	return out
}

func (r *Registry[T]) GetGlobalStats() stats.Global {
	return stats.Aggregate(r.Snapshots())
}

// DetailedSummary renders the aggregate block and every model block.
func (r *Registry[T]) DetailedSummary() string {
	snaps := r.Snapshots()
	return stats.FormatGlobal(stats.Aggregate(snaps), snaps)
}

// ResetCacheStats zeroes calls, hits and compute time of every tracked
// model. Steps, strategies and enablement are untouched.
func (r *Registry[T]) ResetCacheStats() {
	states := r.states()
	for _, s := range states {
		s.ResetStats()
	}
	r.logger.WithField("models", len(states)).Info("cache stats reset")
	r.activity.Add(activity.Event{At: r.clock(), Type: activity.EventReset})
}

// SetGlobalConfig merges patch into the global config. Unknown keys and
// invalid values are rejected and nothing is applied. Models already enabled
// keep their settings.
func (r *Registry[T]) SetGlobalConfig(patch map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next, err := r.global.Apply(patch)
	if err != nil {
		return err
	}
	r.global = next

	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	r.logger.WithField("keys", keys).Info("global config updated")
	r.activity.Add(activity.Event{At: r.clock(), Type: activity.EventConfig, Note: fmt.Sprint(keys)})
	return nil
}

func (r *Registry[T]) GlobalConfig() config.Global {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.global
}

func (r *Registry[T]) Activity() *activity.Log { return r.activity }

// Len is the number of tracked models, enabled or not.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep drops entries whose model has been garbage collected and returns
// how many were dropped.
func (r *Registry[T]) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int
	for id, e := range r.entries {
		if e.hook.Value() == nil {
			r.dropLocked(id)
			n++
		}
	}
	return n
}

// reclaim runs from the runtime cleanup once a model's hook is unreachable.
func (r *Registry[T]) reclaim(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e := r.entries[id]; e != nil && e.hook.Value() == nil {
		r.dropLocked(id)
	}
}

func (r *Registry[T]) dropLocked(id string) {
	delete(r.entries, id)
	r.logger.WithField("model", id).Info("orphaned cache state reclaimed")
	r.activity.Add(activity.Event{At: r.clock(), Type: activity.EventReclaim, Model: id})
}

// Close restores every intercepted hook and forgets all models.
func (r *Registry[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, e := range r.entries {
		if h := e.hook.Value(); h != nil {
			h.restore(e.state)
		}
		e.state.Disable()
		e.cleanup.Stop()
		delete(r.entries, id)
	}
}
