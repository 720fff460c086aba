package backend

import (
	"context"

	"github.com/loykin/graphbench/internal/bench"
)

// Executor runs prepared queries against a backend client.
type Executor struct {
	client *RedisClient
}

// NewExecutor returns an executor bound to client.
func NewExecutor(client *RedisClient) *Executor { return &Executor{client: client} }

// Execute runs q, read-only when it is a read query.
func (e *Executor) Execute(ctx context.Context, q bench.PreparedQuery) error {
	_, err := e.client.Query(ctx, q.Text, q.Class == bench.Read)
	return err
}
