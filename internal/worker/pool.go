// Package worker runs scheduled messages against a backend with a fixed number
// of concurrent workers.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/graphbench/internal/bench"
	"github.com/loykin/graphbench/internal/collector"
	"github.com/loykin/graphbench/internal/metrics"
	"github.com/loykin/graphbench/internal/scheduler"
)

// DefaultTimeout bounds a single workload call.
const DefaultTimeout = 60 * time.Second

// Executor runs one payload against the backend.
type Executor[P any] interface {
	Execute(ctx context.Context, payload P) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc[P any] func(ctx context.Context, payload P) error

func (f ExecutorFunc[P]) Execute(ctx context.Context, payload P) error { return f(ctx, payload) }

// Config configures a Pool.
type Config[P any] struct {
	Vendor  bench.Vendor
	Workers int
	Timeout time.Duration
	// Describe names a payload for labels and reports.
	Describe func(P) bench.PreparedQuery
	// Collector, when set, receives every call duration.
	Collector *collector.MetricsCollector
	// Metrics receives histograms and counters. Nil means metrics.For(Vendor).
	Metrics *metrics.VendorMetrics
}

// Pool is a set of workers sharing one input channel. Any worker may claim the
// next message; there is no fairness or ordering across workers.
type Pool[P any] struct {
	cfg     Config[P]
	exec    Executor[P]
	metrics *metrics.VendorMetrics
}

func New[P any](cfg Config[P], exec Executor[P]) *Pool[P] {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Describe == nil {
		cfg.Describe = func(P) bench.PreparedQuery { return bench.PreparedQuery{Name: "unknown", Class: bench.Read} }
	}
	vm := cfg.Metrics
	if vm == nil {
		vm = metrics.For(cfg.Vendor)
	}
	return &Pool[P]{cfg: cfg, exec: exec, metrics: vm}
}

// Run starts the workers and blocks until in is closed and drained, or ctx is
// cancelled. Calls already in flight are never cancelled by ctx; they run to
// their own timeout.
func (p *Pool[P]) Run(ctx context.Context, in <-chan scheduler.Message[P]) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		id := strconv.Itoa(i)
		g.Go(func() error { return p.work(gctx, id, in) })
	}
	return g.Wait()
}

func (p *Pool[P]) work(ctx context.Context, id string, in <-chan scheduler.Message[P]) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-in:
			if !ok {
				slog.Debug("Worker finished", "vendor", p.cfg.Vendor, "worker", id)
				return nil
			}
			p.process(ctx, id, msg)
		}
	}
}

func (p *Pool[P]) process(ctx context.Context, id string, msg scheduler.Message[P]) {
	offset := scheduler.ComputeOffsetMs(msg, time.Now())
	p.metrics.SetDeadlineOffset(offset)
	if offset > 0 {
		t := time.NewTimer(time.Duration(offset) * time.Millisecond)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	q := p.cfg.Describe(msg.Payload)
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.Timeout)
	start := time.Now()
	err := p.exec.Execute(callCtx, msg.Payload)
	elapsed := time.Since(start)
	if err == nil && callCtx.Err() != nil {
		err = callCtx.Err()
	}
	cancel()
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %v", bench.ErrTimeout, p.cfg.Timeout, err)
	}

	if err != nil {
		p.metrics.ObserveError(elapsed)
		p.metrics.IncOperationError(id, bench.ErrorType(err), q.Name)
		slog.Warn("Operation failed", "vendor", p.cfg.Vendor, "worker", id, "query", q.Name, "cypher", q.Text, "error", err)
	} else {
		p.metrics.ObserveSuccess(elapsed)
		p.metrics.IncOperation(id, q.Name)
	}
	if c := p.cfg.Collector; c != nil {
		detail := q.Context
		if err != nil {
			detail = fmt.Sprintf("%s error=%v", q.Context, err)
		}
		c.Record(elapsed, q.Name, q.Class, q.Text, detail)
	}
}
