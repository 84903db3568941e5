// Package sim provides a synthetic denoising model for demos and tests.
// Each step pulls the latent toward a fixed target, which makes reused
// outputs close to, but not exactly, the real ones.
package sim

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/mcules/stepcache/internal/registry"
)

type Model struct {
	name  string
	hook  *registry.Hook[[]float32]
	delay time.Duration
	sleep func(context.Context, time.Duration) error

	target []float32
	rate   float32

	// Computes counts real forward invocations, bypassing the cache.
	computes atomic.Int64
	fail     atomic.Pointer[error]
}

type Option func(*Model)

// WithDelay makes every real computation take d.
func WithDelay(d time.Duration) Option {
	return func(m *Model) { m.delay = d }
}

// WithSleep replaces the function used to wait out the delay.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(m *Model) { m.sleep = fn }
}

// WithRate sets how far each step moves toward the target, in (0, 1].
func WithRate(r float32) Option {
	return func(m *Model) { m.rate = r }
}

func New(name string, size int, opts ...Option) *Model {
	m := &Model{
		name:  name,
		sleep: sleepCtx,
		rate:  0.1,
	}
	for _, fn := range opts {
		fn(m)
	}
	m.target = make([]float32, size)
	for i := range m.target {
		m.target[i] = float32(math.Sin(float64(i) + 1))
	}
	m.hook = registry.NewHook(m.forward)
	return m
}

func (m *Model) Name() string { return m.name }

func (m *Model) ComputeHook() *registry.Hook[[]float32] { return m.hook }

func (m *Model) Computes() int64 { return m.computes.Load() }

// FailWith makes subsequent real computations return err. nil clears it.
func (m *Model) FailWith(err error) {
	if err == nil {
		m.fail.Store(nil)
		return
	}
	m.fail.Store(&err)
}

func (m *Model) forward(ctx context.Context, in registry.Input[[]float32]) ([]float32, error) {
	m.computes.Add(1)
	if p := m.fail.Load(); p != nil {
		return nil, *p
	}
	if m.delay > 0 {
		if err := m.sleep(ctx, m.delay); err != nil {
			return nil, err
		}
	}
	if len(in.Latent) != len(m.target) {
		return nil, fmt.Errorf("sim %s: latent has %d elements, want %d", m.name, len(in.Latent), len(m.target))
	}

	out := make([]float32, len(in.Latent))
	for i, x := range in.Latent {
		out[i] = x + m.rate*(m.target[i]-x)
	}
	return out, nil
}

// Latent returns a fresh starting latent of the model's size.
func (m *Model) Latent() []float32 {
	out := make([]float32, len(m.target))
	for i := range out {
		out[i] = float32(math.Cos(float64(i)))
	}
	return out
}

// Denoise runs steps iterations through the model's hook, feeding each
// output into the next step.
func (m *Model) Denoise(ctx context.Context, steps int) ([]float32, error) {
	x := m.Latent()
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return x, err
		}
		next, err := m.hook.Call(ctx, registry.Input[[]float32]{
			Latent:   x,
			Timestep: 1 - float64(i)/float64(steps),
		})
		if err != nil {
			return x, fmt.Errorf("step %d: %w", i, err)
		}
		x = next
	}
	return x, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
