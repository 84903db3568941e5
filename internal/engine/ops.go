package engine

// Ops is the tensor contract the engine needs from the host. Both methods
// must return values that share no mutable memory with their input.
type Ops[T any] interface {
	Clone(v T) T
	// Perturb returns a copy of v with noise of the given scale added.
	Perturb(v T, scale float64) T
}

// Distancer is optionally implemented by Ops. The Adaptive strategy uses it
// to measure how far a fresh result drifted from the one that was reused.
type Distancer[T any] interface {
	Distance(prev, next T) float64
}
