package stepcache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcules/stepcache"
)

// doubler is a minimal host model: every step doubles the latent.
type doubler struct {
	hook  *stepcache.Hook
	calls int
}

func newDoubler() *doubler {
	d := &doubler{}
	d.hook = stepcache.NewHook(func(_ context.Context, in stepcache.Input) ([]float32, error) {
		d.calls++
		out := make([]float32, len(in.Latent))
		for i, v := range in.Latent {
			out[i] = 2 * v
		}
		return out, nil
	})
	return d
}

func (d *doubler) Name() string                 { return "doubler" }
func (d *doubler) ComputeHook() *stepcache.Hook { return d.hook }

func (d *doubler) run(t *testing.T, steps int) {
	t.Helper()
	for i := 0; i < steps; i++ {
		_, err := d.hook.Call(context.Background(), stepcache.Input{Latent: []float32{1, 2}})
		require.NoError(t, err)
	}
}

func TestPackageLevelLifecycle(t *testing.T) {
	t.Cleanup(stepcache.Teardown)
	d := newDoubler()

	require.NoError(t, stepcache.Enable(d, stepcache.WithStrategy(stepcache.Fixed), stepcache.WithNoiseScale(0)))
	require.ErrorIs(t, stepcache.EnableCache(d), stepcache.ErrDuplicateCache)

	d.run(t, 20)
	assert.Equal(t, 12, d.calls)

	g := stepcache.GetGlobalStats()
	assert.Equal(t, int64(20), g.TotalCalls)
	assert.Equal(t, int64(8), g.TotalCacheHits)
	assert.InDelta(t, 40.0, g.GlobalHitRate, 1e-9)
	assert.Contains(t, stepcache.Stats(d), "Hit rate: 40.0%")
	assert.Equal(t, stepcache.Summary(d), stepcache.Stats(d))

	stepcache.ResetCacheStats()
	assert.Zero(t, stepcache.GetGlobalStats().TotalCalls)

	stepcache.Disable(d)
	stepcache.DisableCache(d)
	d.run(t, 3)
	assert.Equal(t, 15, d.calls)
	assert.Zero(t, stepcache.GetGlobalStats().ActiveModels)
}

func TestGlobalConfigAndMapOptions(t *testing.T) {
	t.Cleanup(stepcache.Teardown)

	require.NoError(t, stepcache.SetGlobalConfig(map[string]any{"default_warmup_steps": 0, "global_debug": false}))
	require.ErrorIs(t, stepcache.SetGlobalConfig(map[string]any{"warp": 9}), stepcache.ErrInvalidConfig)

	d := newDoubler()
	require.NoError(t, stepcache.EnableCacheMap(d, map[string]any{"strategy": "dynamic", "skip_interval": 2}))
	d.run(t, 4)
	assert.Equal(t, int64(2), stepcache.GetGlobalStats().TotalCacheHits)

	other := newDoubler()
	err := stepcache.EnableCacheMap(other, map[string]any{"skip_intervall": 2})
	require.ErrorIs(t, err, stepcache.ErrInvalidConfig)

	assert.Contains(t, stepcache.DetailedSummary(), "Strategy: dynamic")
}

func TestTeardownRestoresHooks(t *testing.T) {
	d := newDoubler()
	require.NoError(t, stepcache.EnableCache(d))
	require.True(t, d.hook.Intercepted())

	stepcache.Teardown()
	assert.False(t, d.hook.Intercepted())
	assert.Zero(t, stepcache.Default().Len())
	stepcache.Teardown()
}

func TestInitDefault(t *testing.T) {
	stepcache.Teardown()
	t.Cleanup(stepcache.Teardown)

	r := stepcache.NewRegistry(stepcache.RegistryOptions{})
	assert.True(t, stepcache.InitDefault(r))
	assert.Same(t, r, stepcache.Default())
	assert.False(t, stepcache.InitDefault(stepcache.NewRegistry(stepcache.RegistryOptions{})))
}

type bare struct{}

func (bare) Name() string                 { return "bare" }
func (bare) ComputeHook() *stepcache.Hook { return nil }

func TestUnsupportedModel(t *testing.T) {
	t.Cleanup(stepcache.Teardown)
	require.ErrorIs(t, stepcache.EnableCache(bare{}), stepcache.ErrUnsupportedModel)
}
