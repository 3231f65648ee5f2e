// Package pool provides reusable time.Timer instances for the hot paths
// that arm a timer per request (active serial round trips, shutdown waits).
package pool

import (
	"sync"
	"time"
)

var timers sync.Pool

// GetTimer returns a timer armed with duration d, reusing a pooled timer
// when one is available. Release it with PutTimer.
func GetTimer(d time.Duration) *time.Timer {
	v := timers.Get()
	if v == nil {
		return time.NewTimer(d)
	}

	t := v.(*time.Timer)
	if t.Reset(d) {
		// The timer was still active; drain any pending tick.
		drain(t)
	}

	return t
}

// PutTimer stops t and returns it to the pool.
// The timer must not be touched after this call.
func PutTimer(t *time.Timer) {
	if !t.Stop() {
		drain(t)
	}
	timers.Put(t)
}

func drain(t *time.Timer) {
	select {
	case <-t.C:
	default:
	}
}
