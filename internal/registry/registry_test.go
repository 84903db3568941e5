package registry_test

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcules/stepcache/internal/activity"
	"github.com/mcules/stepcache/internal/config"
	"github.com/mcules/stepcache/internal/noise"
	"github.com/mcules/stepcache/internal/registry"
	"github.com/mcules/stepcache/internal/sim"
)

func newRegistry(opts registry.Options) *registry.Registry[[]float32] {
	return registry.New[[]float32](noise.NewSeededFloat32(1), opts)
}

func denoise(t *testing.T, m *sim.Model, steps int) {
	t.Helper()
	_, err := m.Denoise(context.Background(), steps)
	require.NoError(t, err)
}

func TestEnableRoutesThroughEngine(t *testing.T) {
	r := newRegistry(registry.Options{})
	m := sim.New("unet", 8)

	require.NoError(t, r.EnableCache(m, config.WithWarmupSteps(3), config.WithSkipInterval(2)))
	assert.True(t, m.ComputeHook().Intercepted())

	denoise(t, m, 20)
	assert.Equal(t, int64(12), m.Computes())

	snap, ok := r.Snapshot(m)
	require.True(t, ok)
	assert.Equal(t, int64(20), snap.Calls)
	assert.Equal(t, int64(8), snap.Hits)
}

func TestModelID(t *testing.T) {
	a, b := sim.New("unet", 1), sim.New("unet", 1)

	idA, _, err := registry.ModelID[[]float32](a)
	require.NoError(t, err)
	idB, _, err := registry.ModelID[[]float32](b)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(idA, "unet_"))
	assert.NotEqual(t, idA, idB, "distinct instances never share an id")
}

func TestDuplicateEnable(t *testing.T) {
	r := newRegistry(registry.Options{})
	m := sim.New("unet", 4)

	require.NoError(t, r.EnableCache(m, config.WithStrategy(config.Dynamic)))
	denoise(t, m, 5)

	err := r.EnableCache(m, config.WithStrategy(config.Adaptive))
	require.ErrorIs(t, err, registry.ErrDuplicateCache)
	var de *registry.DuplicateCacheError
	require.ErrorAs(t, err, &de)

	snap, _ := r.Snapshot(m)
	assert.Equal(t, de.ModelID, snap.ModelID)
	assert.Equal(t, config.Dynamic, snap.Strategy)
	assert.Equal(t, int64(5), snap.Calls)
}

func TestDisableThenEnableStartsFresh(t *testing.T) {
	r := newRegistry(registry.Options{})
	m := sim.New("unet", 4)

	require.NoError(t, r.EnableCache(m))
	denoise(t, m, 10)
	r.DisableCache(m)
	assert.False(t, m.ComputeHook().Intercepted())

	// Counters survive the disable.
	snap, ok := r.Snapshot(m)
	require.True(t, ok)
	assert.False(t, snap.Enabled)
	assert.Equal(t, int64(10), snap.Calls)
	assert.Contains(t, r.Summary(m), "Calls: 10")

	// Direct calls no longer touch the state.
	before := m.Computes()
	denoise(t, m, 4)
	assert.Equal(t, before+4, m.Computes())
	snap, _ = r.Snapshot(m)
	assert.Equal(t, int64(10), snap.Calls)

	require.NoError(t, r.EnableCache(m, config.WithStrategy(config.Adaptive), config.WithSkipInterval(3)))
	snap, _ = r.Snapshot(m)
	assert.True(t, snap.Enabled)
	assert.Zero(t, snap.Calls)
	assert.Zero(t, snap.Hits)
	assert.Zero(t, snap.Step)
	assert.Equal(t, config.Adaptive, snap.Strategy)
	assert.Equal(t, 3, snap.SkipInterval)
}

func TestDisableUnknownIsNoop(t *testing.T) {
	r := newRegistry(registry.Options{})
	m := sim.New("vae", 2)

	r.DisableCache(m)
	r.DisableCache(m)
	assert.Zero(t, r.Len())
	assert.Contains(t, r.Summary(m), "No cache state")
}

type hooklessModel struct{}

func (hooklessModel) Name() string                           { return "clip" }
func (hooklessModel) ComputeHook() *registry.Hook[[]float32] { return nil }

func TestUnsupportedModel(t *testing.T) {
	r := newRegistry(registry.Options{})

	err := r.EnableCache(hooklessModel{})
	require.ErrorIs(t, err, registry.ErrUnsupportedModel)
	assert.Zero(t, r.Len())

	r.DisableCache(hooklessModel{})
}

func TestInvalidOptionsRegisterNothing(t *testing.T) {
	r := newRegistry(registry.Options{})
	m := sim.New("unet", 2)

	err := r.EnableCache(m, config.WithSkipInterval(0))
	require.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Zero(t, r.Len())
	assert.False(t, m.ComputeHook().Intercepted())
}

func TestHookInterceptedElsewhere(t *testing.T) {
	a, b := newRegistry(registry.Options{}), newRegistry(registry.Options{})
	m := sim.New("unet", 2)

	require.NoError(t, a.EnableCache(m))
	require.ErrorIs(t, b.EnableCache(m), registry.ErrDuplicateCache)

	// b must not be able to tear down a's interceptor.
	b.DisableCache(m)
	assert.True(t, m.ComputeHook().Intercepted())
}

type policyDouble struct {
	opts map[string]config.Options
	err  error
}

func (p *policyDouble) CachePolicy(_ context.Context, name string) (config.Options, bool, error) {
	if p.err != nil {
		return config.Options{}, false, p.err
	}
	o, ok := p.opts[name]
	return o, ok, nil
}

func TestStoredPolicySitsBetweenGlobalAndCall(t *testing.T) {
	policies := &policyDouble{opts: map[string]config.Options{
		"unet": config.NewOptions(config.WithStrategy(config.Dynamic), config.WithSkipInterval(5)),
	}}
	r := newRegistry(registry.Options{Policies: policies})

	m := sim.New("unet", 2)
	require.NoError(t, r.EnableCache(m, config.WithSkipInterval(3)))
	snap, _ := r.Snapshot(m)
	assert.Equal(t, config.Dynamic, snap.Strategy)
	assert.Equal(t, 3, snap.SkipInterval)

	other := sim.New("vae", 2)
	require.NoError(t, r.EnableCache(other))
	snap, _ = r.Snapshot(other)
	assert.Equal(t, config.Fixed, snap.Strategy)
}

func TestPolicyErrorSurfaces(t *testing.T) {
	boom := errors.New("db locked")
	r := newRegistry(registry.Options{Policies: &policyDouble{err: boom}})

	err := r.EnableCache(sim.New("unet", 2))
	require.ErrorIs(t, err, boom)
	assert.Zero(t, r.Len())
}

func TestGlobalStatsTwoModels(t *testing.T) {
	r := newRegistry(registry.Options{})
	m1, m2 := sim.New("unet", 4), sim.New("unet", 4)

	require.NoError(t, r.EnableCache(m1, config.WithWarmupSteps(6), config.WithSkipInterval(2)))
	require.NoError(t, r.EnableCache(m2, config.WithWarmupSteps(4), config.WithSkipInterval(2)))
	denoise(t, m1, 30)
	denoise(t, m2, 20)

	g := r.GetGlobalStats()
	assert.Equal(t, int64(50), g.TotalCalls)
	assert.Equal(t, int64(20), g.TotalCacheHits)
	assert.InDelta(t, 40.0, g.GlobalHitRate, 1e-9)
	assert.Equal(t, 2, g.ActiveModels)
	require.Len(t, g.ModelDetails, 2)

	var sumCalls, sumHits int64
	for _, d := range g.ModelDetails {
		sumCalls += d.Calls
		sumHits += d.Hits
	}
	assert.Equal(t, g.TotalCalls, sumCalls)
	assert.Equal(t, g.TotalCacheHits, sumHits)

	out := r.DetailedSummary()
	assert.Contains(t, out, "Total calls: 50")
	assert.Contains(t, out, "Active models: 2")
}

func TestResetCacheStats(t *testing.T) {
	r := newRegistry(registry.Options{})
	m1, m2 := sim.New("unet", 4), sim.New("vae", 4)

	require.NoError(t, r.EnableCache(m1, config.WithStrategy(config.Adaptive)))
	require.NoError(t, r.EnableCache(m2))
	denoise(t, m1, 12)
	denoise(t, m2, 12)
	r.DisableCache(m2)

	r.ResetCacheStats()
	for _, snap := range r.Snapshots() {
		assert.Zero(t, snap.Calls)
		assert.Zero(t, snap.Hits)
		assert.Zero(t, snap.TotalComputeTime)
		assert.Equal(t, 12, snap.Step)
	}

	s1, _ := r.Snapshot(m1)
	assert.Equal(t, config.Adaptive, s1.Strategy)
	assert.True(t, s1.Enabled)
	s2, _ := r.Snapshot(m2)
	assert.False(t, s2.Enabled)

	assert.Equal(t, activity.EventReset, r.Activity().List()[0].Type)
}

func TestSetGlobalConfig(t *testing.T) {
	r := newRegistry(registry.Options{})
	early := sim.New("unet", 2)
	require.NoError(t, r.EnableCache(early))

	require.NoError(t, r.SetGlobalConfig(map[string]any{"default_strategy": "dynamic", "default_skip_interval": 4}))
	assert.Equal(t, config.Dynamic, r.GlobalConfig().DefaultStrategy)

	late := sim.New("unet", 2)
	require.NoError(t, r.EnableCache(late))
	snap, _ := r.Snapshot(late)
	assert.Equal(t, config.Dynamic, snap.Strategy)
	assert.Equal(t, 4, snap.SkipInterval)

	snap, _ = r.Snapshot(early)
	assert.Equal(t, config.Fixed, snap.Strategy)

	err := r.SetGlobalConfig(map[string]any{"default_skip_interval": 9, "bogus": 1})
	require.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Equal(t, 4, r.GlobalConfig().DefaultSkipInterval)
}

func TestOrphanedEntriesAreReclaimed(t *testing.T) {
	log := activity.New(10)
	r := newRegistry(registry.Options{Activity: log})
	keep := sim.New("vae", 2)
	require.NoError(t, r.EnableCache(keep))

	func() {
		m := sim.New("unet", 2)
		require.NoError(t, r.EnableCache(m))
		denoise(t, m, 3)
	}()
	require.Equal(t, 2, r.Len())

	assert.Eventually(t, func() bool {
		runtime.GC()
		r.Sweep()
		return r.Len() == 1
	}, 5*time.Second, 10*time.Millisecond)

	_, ok := r.Snapshot(keep)
	assert.True(t, ok)
	assert.Equal(t, activity.EventReclaim, log.List()[0].Type)
	runtime.KeepAlive(keep)
}

func TestClose(t *testing.T) {
	r := newRegistry(registry.Options{})
	m := sim.New("unet", 2)
	require.NoError(t, r.EnableCache(m))

	r.Close()
	assert.False(t, m.ComputeHook().Intercepted())
	assert.Zero(t, r.Len())

	// A closed registry can be reused.
	require.NoError(t, r.EnableCache(m))
}

func TestConcurrentModels(t *testing.T) {
	r := newRegistry(registry.Options{})
	const workers = 8

	models := make([]*sim.Model, workers)
	for i := range models {
		models[i] = sim.New(fmt.Sprintf("unet%d", i), 16)
	}

	var wg sync.WaitGroup
	for _, m := range models {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.EnableCache(m, config.WithWarmupSteps(3), config.WithSkipInterval(2)))
			for range 5 {
				_, err := m.Denoise(context.Background(), 20)
				assert.NoError(t, err)
			}
		}()
	}
	// Global operations race against the hot paths.
	for range 20 {
		_ = r.GetGlobalStats()
		_ = r.DetailedSummary()
	}
	wg.Wait()

	g := r.GetGlobalStats()
	assert.Equal(t, int64(workers*100), g.TotalCalls)
	assert.Equal(t, workers, g.ActiveModels)
	for _, d := range g.ModelDetails {
		// One continuous step sequence of 100 calls per model.
		assert.Equal(t, int64(48), d.Hits)
	}
}

func TestConcurrentCallsSameModel(t *testing.T) {
	r := newRegistry(registry.Options{})
	m := sim.New("unet", 16)
	require.NoError(t, r.EnableCache(m, config.WithWarmupSteps(2), config.WithSkipInterval(3)))

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 30 {
				_, err := m.ComputeHook().Call(context.Background(), registry.Input[[]float32]{Latent: m.Latent()})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	snap, _ := r.Snapshot(m)
	assert.Equal(t, int64(300), snap.Calls)
	assert.Equal(t, int64(298/3), snap.Hits)
	assert.Equal(t, snap.Calls-snap.Hits, m.Computes())
}

// closureModel exposes a hook built by the test, so the forward can close
// over the registry it is registered with.
type closureModel struct {
	name string
	hook *registry.Hook[[]float32]
}

func (m *closureModel) Name() string                           { return m.name }
func (m *closureModel) ComputeHook() *registry.Hook[[]float32] { return m.hook }

func callWithin(t *testing.T, m registry.Model[[]float32], d time.Duration) {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		_, err := m.ComputeHook().Call(context.Background(), registry.Input[[]float32]{Latent: []float32{0}})
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(d):
		t.Fatalf("call on %s did not return within %s", m.Name(), d)
	}
}

func TestForwardReadsOwnStats(t *testing.T) {
	r := newRegistry(registry.Options{})
	m := &closureModel{name: "unet"}
	var summary string
	m.hook = registry.NewHook(func(context.Context, registry.Input[[]float32]) ([]float32, error) {
		summary = r.Summary(m)
		_ = r.GetGlobalStats()
		_ = r.DetailedSummary()
		return []float32{1}, nil
	})
	require.NoError(t, r.EnableCache(m))

	callWithin(t, m, 2*time.Second)
	assert.Contains(t, summary, "Cache statistics for unet_")
	assert.Contains(t, summary, "Calls: 1")
}

func TestSlowComputeDoesNotStallOtherModels(t *testing.T) {
	r := newRegistry(registry.Options{})

	entered := make(chan struct{})
	release := make(chan struct{})
	slow := &closureModel{name: "unet"}
	slow.hook = registry.NewHook(func(context.Context, registry.Input[[]float32]) ([]float32, error) {
		close(entered)
		<-release
		return []float32{1}, nil
	})
	require.NoError(t, r.EnableCache(slow))

	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		_, _ = slow.hook.Call(context.Background(), registry.Input[[]float32]{Latent: []float32{0}})
	}()
	<-entered

	// slow is mid-compute while the registry resets and enables another model.
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.ResetCacheStats()
		_ = r.GetGlobalStats()
		assert.NoError(t, r.EnableCache(sim.New("vae", 2)))
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("registry operations waited on another model's compute")
	}

	close(release)
	<-slowDone
	assert.Equal(t, 2, r.Len())
}
