// Package oneshot provides the latch used for notifications that must be
// delivered at most once per engine instance.
package oneshot

import "sync/atomic"

// Latch flips from false to true exactly once and never resets.
// The zero value is ready to use.
type Latch struct {
	fired atomic.Bool
}

// Fire sets the latch and runs fn if this call performed the transition.
// It reports whether fn was run. A nil fn still sets the latch.
func (l *Latch) Fire(fn func()) bool {
	if !l.fired.CompareAndSwap(false, true) {
		return false
	}
	if fn != nil {
		fn()
	}
	return true
}

// Fired reports whether the latch has been set.
func (l *Latch) Fired() bool {
	return l.fired.Load()
}
