package sync

import (
	stdsync "sync"
	"time"
)

// Scheduler runs deferred work. Each Schedule replaces whatever was
// pending, so only the last call in a burst fires.
type Scheduler interface {
	Schedule(delay time.Duration, fn func())
	CancelPending()
}

// Debouncer is the timer backed Scheduler
type Debouncer struct {
	mu    stdsync.Mutex
	timer *time.Timer
	gen   uint64
}

// NewDebouncer creates an idle debouncer
func NewDebouncer() *Debouncer {
	return &Debouncer{}
}

// Schedule cancels any pending call and runs fn after delay
func (d *Debouncer) Schedule(delay time.Duration, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen

	d.timer = time.AfterFunc(delay, func() {
		d.mu.Lock()
		// A timer that fired while being replaced must not run
		if gen != d.gen {
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.mu.Unlock()

		fn()
	})
}

// CancelPending drops the pending call, if any
func (d *Debouncer) CancelPending() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}
