// Package util holds small concurrency helpers shared by the client runtime.
package util

import (
	"sync"
	"time"
)

// Debouncer fires once after a quiet period that is restarted by every Reset.
// It starts disarmed: nothing fires until the first Reset. It's thread-safe.
//
// Example usage:
//
//	stall := NewDebouncer(200 * time.Millisecond)
//	defer stall.Stop()
//
//	for {
//	    select {
//	    case frame := <-frames:
//	        play(frame)
//	        stall.Reset() // every frame pushes the deadline out
//	    case <-stall.C():
//	        rebuffer() // no frame for 200ms
//	    }
//	}
type Debouncer struct {
	duration time.Duration
	timer    *time.Timer
	mu       sync.Mutex
	armed    bool
	stopped  bool
}

// NewDebouncer creates a disarmed debouncer with the given quiet period.
func NewDebouncer(duration time.Duration) *Debouncer {
	t := time.NewTimer(duration)
	t.Stop()
	return &Debouncer{
		duration: duration,
		timer:    t,
	}
}

// Reset arms the debouncer and restarts its quiet period.
// After Stop it is a no-op.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.stopTimer()
	d.timer.Reset(d.duration)
	d.armed = true
}

// Disarm cancels a pending fire without stopping the debouncer for good.
func (d *Debouncer) Disarm() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopTimer()
	d.armed = false
}

// Armed reports whether Reset was called since the last Disarm or Stop.
func (d *Debouncer) Armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.armed && !d.stopped
}

// C returns the channel the debouncer fires on.
func (d *Debouncer) C() <-chan time.Time {
	return d.timer.C
}

// Stop stops the debouncer and prevents further resets.
// It's safe to call Stop multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.stopped {
		d.stopTimer()
		d.armed = false
		d.stopped = true
	}
}

// stopTimer stops the timer and drains a fire that already happened.
func (d *Debouncer) stopTimer() {
	if !d.timer.Stop() {
		select {
		case <-d.timer.C:
		default:
		}
	}
}
