package registry

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/mcules/stepcache/internal/engine"
)

// Input carries the arguments of one inference step.
type Input[T any] struct {
	Latent   T
	Timestep float64
	Options  map[string]any
}

// Forward is a model's per-step computation.
type Forward[T any] func(ctx context.Context, in Input[T]) (T, error)

// Model is anything whose per-step computation can be cached.
type Model[T any] interface {
	Name() string
	// ComputeHook returns the model's computation entry point, or nil when
	// the model has none.
	ComputeHook() *Hook[T]
}

var hookSeq atomic.Uint64

// Hook is the computation entry point a model exposes. The model calls
// Call on every step; the registry installs and removes an Interceptor on
// it. Each Hook carries a process-unique handle that identifies its model.
type Hook[T any] struct {
	handle uint64

	mu          sync.RWMutex
	forward     Forward[T]
	interceptor *Interceptor[T]
}

func NewHook[T any](forward Forward[T]) *Hook[T] {
	return &Hook[T]{
		handle:  hookSeq.Add(1),
		forward: forward,
	}
}

func (h *Hook[T]) Handle() uint64 { return h.handle }

// Call runs one step, through the interceptor when one is installed.
func (h *Hook[T]) Call(ctx context.Context, in Input[T]) (T, error) {
	h.mu.RLock()
	ic, f := h.interceptor, h.forward
	h.mu.RUnlock()

	if ic != nil {
		return ic.Forward(ctx, in)
	}
	return f(ctx, in)
}

func (h *Hook[T]) Intercepted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.interceptor != nil
}

func (h *Hook[T]) install(state *engine.State[T]) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.interceptor != nil {
		return false
	}
	h.interceptor = &Interceptor[T]{original: h.forward, state: state}
	return true
}

// restore removes the interceptor if it still serves state. The registry
// identifies interceptors by state so that it never holds a reference that
// leads back to the model.
func (h *Hook[T]) restore(state *engine.State[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.interceptor != nil && h.interceptor.state == state {
		h.interceptor = nil
	}
}

// Interceptor wraps a model's original Forward and routes every call
// through the decision engine.
type Interceptor[T any] struct {
	original Forward[T]
	state    *engine.State[T]
}

func (ic *Interceptor[T]) Forward(ctx context.Context, in Input[T]) (T, error) {
	return ic.state.DecideAndRun(func() (T, error) {
		return ic.original(ctx, in)
	})
}
