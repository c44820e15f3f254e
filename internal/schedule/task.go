// Package schedule provides cancellable periodic tasks.
package schedule

import (
	"sync"
	"time"
)

// Task runs a function periodically until cancelled.
//
// After Cancel returns no new run starts. A run that already began is allowed
// to finish; callers that must discard its effects guard their own state.
type Task struct {
	mu        sync.Mutex
	cancelled bool
	stop      chan struct{}
	done      chan struct{}
}

type options struct {
	immediate bool
}

// Option configures a Task.
type Option func(*options)

// Immediately runs fn once right away, before the first interval elapses.
func Immediately() Option {
	return func(o *options) { o.immediate = true }
}

// Every starts a task that calls fn every interval. Runs never overlap: a
// tick that fires while fn is still running is dropped.
func Every(interval time.Duration, fn func(), opts ...Option) *Task {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if interval <= 0 {
		interval = time.Second
	}

	t := &Task{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	go t.loop(interval, fn, o.immediate)
	return t
}

func (t *Task) loop(interval time.Duration, fn func(), immediate bool) {
	defer close(t.done)

	if immediate && !t.run(fn) {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !t.run(fn) {
				return
			}
		case <-t.stop:
			return
		}
	}
}

// run calls fn unless the task was cancelled. It reports whether the loop
// should keep going.
func (t *Task) run(fn func()) bool {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return false
	}
	t.mu.Unlock()

	fn()
	return true
}

// Cancel stops the task. It is safe to call more than once and from inside fn.
func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return
	}
	t.cancelled = true
	close(t.stop)
}

// Cancelled reports whether Cancel was called.
func (t *Task) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Done is closed once the task goroutine has exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}
