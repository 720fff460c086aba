package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/loykin/graphbench/internal/bench"
)

// External is a FalkorDB server managed outside the harness.
type External struct {
	addr    string
	graph   string
	timeout time.Duration

	mu     sync.Mutex
	client *RedisClient
}

// NewExternal returns a backend for an already running server at addr.
// queryTimeout bounds each workload query; zero means DefaultQueryTimeout.
func NewExternal(addr, graph string, queryTimeout time.Duration) *External {
	return &External{addr: addr, graph: graph, timeout: queryTimeout}
}

func (e *External) Vendor() bench.Vendor { return bench.Falkor }

// Start connects and waits for PING.
func (e *External) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.client != nil {
		e.mu.Unlock()
		return fmt.Errorf("external backend already started")
	}
	e.client = NewRedisClient(e.addr, e.graph, e.timeout)
	client := e.client
	e.mu.Unlock()
	return WaitReady(ctx, client, 10, 500*time.Millisecond)
}

func (e *External) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}

// RestoreDB is not possible on a server the harness does not own.
func (e *External) RestoreDB(bench.Dataset) error {
	return fmt.Errorf("%w: restore on external endpoint %s", ErrUnsupported, e.addr)
}

func (e *External) Client() *RedisClient {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client
}

func (e *External) GraphSize(ctx context.Context) (int64, int64, error) {
	client := e.Client()
	if client == nil {
		return 0, 0, fmt.Errorf("%w: backend not started", bench.ErrBackend)
	}
	return graphSize(ctx, client)
}

func (e *External) PID() int { return 0 }
