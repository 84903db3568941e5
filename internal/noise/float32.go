// Package noise provides the default tensor operations for dense float32
// activations: cloning, Gaussian perturbation and relative drift.
package noise

import (
	"math"
	"math/rand/v2"
	"slices"
	"sync"
)

// Float32 implements engine.Ops and engine.Distancer for []float32. A single
// value may be shared by many cache states.
type Float32 struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewFloat32 draws from the global source.
func NewFloat32() *Float32 { return &Float32{} }

// NewSeededFloat32 draws from a private deterministic source.
func NewSeededFloat32(seed uint64) *Float32 {
	return &Float32{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (f *Float32) Clone(v []float32) []float32 {
	return slices.Clone(v)
}

// Perturb returns v + N(0, 1)*scale elementwise. v is not modified.
func (f *Float32) Perturb(v []float32, scale float64) []float32 {
	out := slices.Clone(v)
	if scale == 0 {
		return out
	}

	if f.rng == nil {
		for i := range out {
			out[i] += float32(rand.NormFloat64() * scale)
		}
		return out
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range out {
		out[i] += float32(f.rng.NormFloat64() * scale)
	}
	return out
}

// Distance is the relative L2 change ||next-prev|| / ||prev||. Shape
// mismatches count as total drift.
func (f *Float32) Distance(prev, next []float32) float64 {
	if len(prev) != len(next) {
		return 1
	}
	var diff, base float64
	for i := range prev {
		d := float64(next[i]) - float64(prev[i])
		diff += d * d
		base += float64(prev[i]) * float64(prev[i])
	}
	if base == 0 {
		if diff == 0 {
			return 0
		}
		return 1
	}
	return math.Sqrt(diff) / math.Sqrt(base)
}
