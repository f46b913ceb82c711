package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/filecoin-project/go-clock"
)

// Task is a handle to a render scheduled after the debounce window
type Task struct {
	gen     uint64
	timer   *clock.Timer
	stopped atomic.Bool
}

func scheduleTask(c clock.Clock, gen uint64, window time.Duration, fire func(gen uint64)) *Task {
	t := &Task{gen: gen}
	t.timer = c.AfterFunc(window, func() {
		if !t.stopped.Load() {
			fire(gen)
		}
	})
	return t
}

// Stop cancels the task. It reports whether the task was still pending.
func (t *Task) Stop() bool {
	if t == nil || t.stopped.Swap(true) {
		return false
	}
	return t.timer.Stop()
}

// Generation is the update counter value the task was scheduled for
func (t *Task) Generation() uint64 {
	if t == nil {
		return 0
	}
	return t.gen
}
