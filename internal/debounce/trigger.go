// Package debounce provides a single-flight debounced trigger.
package debounce

import (
	"sync"
	"time"
)

// Trigger coalesces bursts of Kick calls into one fn invocation after the
// delay. It owns at most one pending timer; cancel-and-reschedule happens
// atomically under the lock, so two racing kicks can never both fire.
type Trigger struct {
	mu      sync.Mutex
	timer   *time.Timer
	delay   time.Duration
	fn      func()
	stopped bool
}

// NewTrigger creates a trigger invoking fn delay after the last Kick.
func NewTrigger(delay time.Duration, fn func()) *Trigger {
	if delay < 0 {
		delay = 0
	}
	return &Trigger{delay: delay, fn: fn}
}

// Kick schedules fn, replacing any pending schedule.
func (t *Trigger) Kick() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.delay, t.fire)
}

func (t *Trigger) fire() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	t.mu.Unlock()
	t.fn()
}

// Flush runs fn immediately, cancelling any pending schedule.
func (t *Trigger) Flush() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()
	t.fn()
}

// Stop cancels any pending schedule and ignores further kicks.
func (t *Trigger) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
