package worker

import (
	"context"
	"time"

	"github.com/loykin/graphbench/internal/bench"
)

// Simulate returns an executor that sleeps for d instead of calling a backend.
func Simulate(d time.Duration) Executor[bench.PreparedQuery] {
	return ExecutorFunc[bench.PreparedQuery](func(ctx context.Context, _ bench.PreparedQuery) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// Describe is the Config.Describe for prepared queries.
func Describe(q bench.PreparedQuery) bench.PreparedQuery { return q }
