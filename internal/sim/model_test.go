package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDenoiseConverges(t *testing.T) {
	m := New("unet", 6, WithRate(0.5))

	out, err := m.Denoise(context.Background(), 30)
	require.NoError(t, err)
	require.Len(t, out, 6)
	for i, v := range out {
		assert.InDelta(t, m.target[i], v, 1e-4)
	}
	assert.Equal(t, int64(30), m.Computes())
}

func TestDelayUsesSleep(t *testing.T) {
	var slept time.Duration
	m := New("unet", 2,
		WithDelay(5*time.Millisecond),
		WithSleep(func(_ context.Context, d time.Duration) error {
			slept += d
			return nil
		}),
	)
	_, err := m.Denoise(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Millisecond, slept)
}

func TestFailWith(t *testing.T) {
	m := New("unet", 2)
	boom := errors.New("out of memory")

	m.FailWith(boom)
	_, err := m.Denoise(context.Background(), 3)
	require.ErrorIs(t, err, boom)

	m.FailWith(nil)
	_, err = m.Denoise(context.Background(), 3)
	require.NoError(t, err)
}

func TestDenoiseHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New("unet", 2).Denoise(ctx, 3)
	assert.ErrorIs(t, err, context.Canceled)
}
