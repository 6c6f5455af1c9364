package utils

// Signal is a coalescing wake-up for a single waiting goroutine. Raising a
// signal that is already pending is a no-op, so any number of raisers collapse
// into one wake-up, and Raise never blocks. This makes it safe to call from
// transport notification callbacks.
type Signal struct {
	ch chan struct{}
}

func NewSignal() Signal {
	return Signal{ch: make(chan struct{}, 1)}
}

// Raise marks the signal pending, waking the current or next waiter
func (s Signal) Raise() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Wait returns the channel a waiter selects on. Receiving from it consumes
// the pending state.
func (s Signal) Wait() <-chan struct{} {
	return s.ch
}
