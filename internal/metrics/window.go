package metrics

// Window is a fixed-size rolling window of samples. It is not safe for
// concurrent use.
type Window struct {
	buf  []float64
	next int
	full bool
}

func NewWindow(size int) *Window {
	if size <= 0 {
		size = 8
	}
	return &Window{buf: make([]float64, size)}
}

func (w *Window) Add(v float64) {
	w.buf[w.next] = v
	w.next++
	if w.next >= len(w.buf) {
		w.next = 0
		w.full = true
	}
}

func (w *Window) Len() int {
	if w.full {
		return len(w.buf)
	}
	return w.next
}

func (w *Window) Cap() int { return len(w.buf) }

// Mean returns the average of the retained samples, 0 when empty.
func (w *Window) Mean() float64 {
	n := w.Len()
	if n == 0 {
		return 0
	}
	var sum float64
	for _, v := range w.buf[:n] {
		sum += v
	}
	return sum / float64(n)
}

// Values returns the retained samples, oldest first.
func (w *Window) Values() []float64 {
	if !w.full {
		return append([]float64(nil), w.buf[:w.next]...)
	}
	out := make([]float64, 0, len(w.buf))
	out = append(out, w.buf[w.next:]...)
	out = append(out, w.buf[:w.next]...)
	return out
}

func (w *Window) Reset() {
	w.next = 0
	w.full = false
}
