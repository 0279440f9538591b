// Package schedule provides cancellable one-shot and recurring tasks.
//
// Every timer in the service is owned by exactly one component and is
// stopped when that component is torn down. A callback that is already
// running when Stop is called may finish; no new callback starts once Stop
// has returned.
package schedule

import (
	"sync"
	"time"
)

type Task struct {
	mu      sync.Mutex
	stopped bool
	timer   *time.Timer
	done    chan struct{}
}

// After runs fn once after d.
func After(d time.Duration, fn func()) *Task {
	t := newTask()
	t.arm(d, fn)
	return t
}

func newTask() *Task { return &Task{done: make(chan struct{})} }

// arm starts the one-shot timer unless t was stopped first.
func (t *Task) arm(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.timer = time.AfterFunc(d, func() {
		if !t.markFired() {
			return
		}
		fn()
	})
}

// Every runs fn every d until stopped. The first run happens after d.
func Every(d time.Duration, fn func()) *Task {
	t := newTask()
	ticker := time.NewTicker(d)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-t.done:
				return
			case <-ticker.C:
				if t.Stopped() {
					return
				}
				fn()
			}
		}
	}()
	return t
}

// markFired flips a one-shot task to stopped and reports whether it was
// still live.
func (t *Task) markFired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	close(t.done)
	return true
}

// Stop cancels the task. It is safe to call more than once and from
// inside the task's own callback.
func (t *Task) Stop() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
	close(t.done)
}

func (t *Task) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Group owns a set of tasks and stops them together.
type Group struct {
	mu     sync.Mutex
	tasks  map[*Task]struct{}
	closed bool
}

func NewGroup() *Group {
	return &Group{tasks: make(map[*Task]struct{})}
}

// After is After with t owned by g. The task is registered before its
// timer is armed, so the callback always finds it.
func (g *Group) After(d time.Duration, fn func()) *Task {
	t := g.track(newTask())
	t.arm(d, func() {
		g.forget(t)
		fn()
	})
	return t
}

func (g *Group) Every(d time.Duration, fn func()) *Task {
	return g.track(Every(d, fn))
}

func (g *Group) track(t *Task) *Task {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		t.Stop()
		return t
	}
	g.tasks[t] = struct{}{}
	return t
}

func (g *Group) forget(t *Task) {
	g.mu.Lock()
	delete(g.tasks, t)
	g.mu.Unlock()
}

// Len returns the number of live tasks.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for t := range g.tasks {
		if !t.Stopped() {
			n++
		}
	}
	return n
}

// StopAll stops every task and refuses new ones.
func (g *Group) StopAll() {
	g.mu.Lock()
	tasks := g.tasks
	g.tasks = make(map[*Task]struct{})
	g.closed = true
	g.mu.Unlock()
	for t := range tasks {
		t.Stop()
	}
}
