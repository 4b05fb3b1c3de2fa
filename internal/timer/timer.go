package timer

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Task is a fire-once callback that can be cancelled until it runs.
type Task struct {
	timer *clock.Timer

	mu        sync.Mutex
	fired     bool
	cancelled bool

	done     chan struct{}
	doneOnce sync.Once
}

// Schedule runs fn after d on clk.
func Schedule(clk clock.Clock, d time.Duration, fn func()) *Task {
	task := &Task{done: make(chan struct{})}
	task.mu.Lock()
	defer task.mu.Unlock()

	task.timer = clk.AfterFunc(d, func() {
		task.mu.Lock()
		if task.cancelled {
			task.mu.Unlock()
			return
		}
		task.fired = true
		task.mu.Unlock()

		if fn != nil {
			fn()
		}
		task.finish()
	})
	return task
}

// Cancel stops the task. It reports whether the callback was prevented;
// cancelling a task that already fired or was cancelled is a no-op.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired || t.cancelled {
		return false
	}
	t.cancelled = true
	t.timer.Stop()
	t.finish()
	return true
}

// Done is closed once the callback has returned or the task was cancelled.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Fired reports whether the callback ran.
func (t *Task) Fired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}

func (t *Task) finish() {
	t.doneOnce.Do(func() { close(t.done) })
}

// Wait blocks for d on clk. It returns false if ctx ended first.
func Wait(ctx context.Context, clk clock.Clock, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	task := Schedule(clk, d, nil)
	select {
	case <-task.Done():
		return task.Fired()
	case <-ctx.Done():
		task.Cancel()
		return task.Fired()
	}
}
