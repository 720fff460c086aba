package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is a periodic background job with its own cancellation.
type Task struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
	cancel   context.CancelFunc
	once     sync.Once
	done     chan struct{}
}

// Every starts fn every interval until the returned task or the supervisor is
// stopped. A failing run is logged and the loop continues. After Stop the
// returned task is already stopped and fn never runs.
func (s *Supervisor) Every(ctx context.Context, name string, interval time.Duration, fn func(ctx context.Context) error) *Task {
	tctx, cancel := context.WithCancel(ctx)
	t := &Task{name: name, interval: interval, fn: fn, cancel: cancel, done: make(chan struct{})}

	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	if s.closed.Load() {
		cancel()
		close(t.done)
		slog.Debug("Task not started, supervisor stopped", "task", name)
		return t
	}
	s.tasks = append(s.tasks, t)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t.run(tctx)
	}()
	return t
}

func (t *Task) run(ctx context.Context) {
	defer close(t.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.fn(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("Periodic task failed", "task", t.name, "error", err)
			}
		}
	}
}

// Stop cancels the task and waits for its goroutine.
func (t *Task) Stop() {
	t.once.Do(t.cancel)
	<-t.done
}

// Name returns the task name.
func (t *Task) Name() string { return t.name }
