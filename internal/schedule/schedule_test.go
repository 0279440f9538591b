package schedule

import (
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestAfterFiresOnce(t *testing.T) {
	var n atomic.Int32
	task := After(5*time.Millisecond, func() { n.Add(1) })
	waitFor(t, func() bool { return n.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	if n.Load() != 1 {
		t.Fatalf("expected one call, got %d", n.Load())
	}
	if !task.Stopped() {
		t.Fatal("fired one-shot task should report stopped")
	}
}

func TestAfterStoppedNeverFires(t *testing.T) {
	var n atomic.Int32
	task := After(20*time.Millisecond, func() { n.Add(1) })
	task.Stop()
	task.Stop()
	time.Sleep(50 * time.Millisecond)
	if n.Load() != 0 {
		t.Fatalf("stopped task fired %d times", n.Load())
	}
}

func TestEveryRepeatsUntilStopped(t *testing.T) {
	var n atomic.Int32
	task := Every(2*time.Millisecond, func() { n.Add(1) })
	waitFor(t, func() bool { return n.Load() >= 3 })
	task.Stop()
	time.Sleep(10 * time.Millisecond)
	after := n.Load()
	time.Sleep(20 * time.Millisecond)
	if n.Load() != after {
		t.Fatalf("task kept running after stop: %d -> %d", after, n.Load())
	}
}

func TestEveryStopFromCallback(t *testing.T) {
	var n atomic.Int32
	var task *Task
	ready := make(chan struct{})
	task = Every(2*time.Millisecond, func() {
		<-ready
		if n.Add(1) == 2 {
			task.Stop()
		}
	})
	close(ready)
	waitFor(t, func() bool { return task.Stopped() })
	time.Sleep(20 * time.Millisecond)
	if n.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", n.Load())
	}
}

func TestGroupStopAll(t *testing.T) {
	var n atomic.Int32
	g := NewGroup()
	g.After(30*time.Millisecond, func() { n.Add(1) })
	g.Every(30*time.Millisecond, func() { n.Add(1) })
	if g.Len() != 2 {
		t.Fatalf("expected 2 live tasks, got %d", g.Len())
	}
	g.StopAll()
	late := g.After(time.Millisecond, func() { n.Add(1) })
	time.Sleep(60 * time.Millisecond)
	if n.Load() != 0 {
		t.Fatalf("tasks fired after StopAll: %d", n.Load())
	}
	if !late.Stopped() {
		t.Fatal("task added to a closed group should be stopped")
	}
}

func TestGroupForgetsFiredTasks(t *testing.T) {
	var n atomic.Int32
	g := NewGroup()
	for i := 0; i < 100; i++ {
		g.After(0, func() { n.Add(1) })
	}
	waitFor(t, func() bool { return n.Load() == 100 })
	waitFor(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return len(g.tasks) == 0
	})
}
