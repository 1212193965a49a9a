package audio

import "fmt"

// Window is a bounded sliding buffer of the most recent audio samples. Each
// append is followed by a FIFO truncation to the configured maximum, so the
// buffer always holds at most maxSamples of the newest audio. It is owned by
// exactly one processing unit and is not safe for concurrent use.
type Window struct {
	samples    []float32
	maxSamples int
}

// NewWindow creates a sliding window holding at most maxSamples samples.
func NewWindow(maxSamples int) (*Window, error) {
	if maxSamples <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d samples", maxSamples)
	}
	return &Window{
		samples:    make([]float32, 0, maxSamples),
		maxSamples: maxSamples,
	}, nil
}

// Append adds samples to the window and drops the oldest samples once the
// bound is exceeded.
func (w *Window) Append(samples []float32) {
	w.samples = append(w.samples, samples...)
	if excess := len(w.samples) - w.maxSamples; excess > 0 {
		copy(w.samples, w.samples[excess:])
		w.samples = w.samples[:w.maxSamples]
	}
}

// Samples returns a copy of the current window contents, oldest first.
func (w *Window) Samples() []float32 {
	out := make([]float32, len(w.samples))
	copy(out, w.samples)
	return out
}

// Len returns the number of samples currently held.
func (w *Window) Len() int {
	return len(w.samples)
}

// Reset empties the window without releasing its capacity.
func (w *Window) Reset() {
	w.samples = w.samples[:0]
}
