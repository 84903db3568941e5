package metrics

import "time"

// EWMA tracks an exponentially weighted moving average of durations in
// milliseconds. It is not safe for concurrent use; owners guard it.
type EWMA struct {
	alpha float64
	ms    float64
	n     uint64
}

// NewEWMA creates an average with smoothing factor alpha.
// Typical alpha: 0.1..0.3 (higher reacts faster).
func NewEWMA(alpha float64) EWMA {
	if alpha <= 0 || alpha >= 1 {
		alpha = 0.2
	}
	return EWMA{alpha: alpha}
}

func (e *EWMA) Observe(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	if ms < 0 {
		ms = 0
	}

	if e.n == 0 {
		e.ms = ms
	} else {
		e.ms = (e.alpha * ms) + ((1.0 - e.alpha) * e.ms)
	}
	e.n++
}

// Millis returns the current average in milliseconds, 0 before the first
// observation.
func (e EWMA) Millis() float64 { return e.ms }

func (e EWMA) Duration() time.Duration {
	return time.Duration(e.ms * float64(time.Millisecond))
}

func (e EWMA) Count() uint64 { return e.n }

func (e *EWMA) Reset() {
	e.ms = 0
	e.n = 0
}
