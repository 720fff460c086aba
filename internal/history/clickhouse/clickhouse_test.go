package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/graphbench/internal/history"
)

// setupClickHouseContainer starts a ClickHouse container for testing
func setupClickHouseContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	container, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start ClickHouse container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}
	return container, host + ":" + port.Port()
}

func TestClickHouseSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()
	container, addr := setupClickHouseContainer(ctx, t)
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	}()

	sink, err := New(addr, "run_history")
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() { _ = sink.Close() }()
	if err := sink.EnsureTable(ctx); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}

	for _, typ := range []history.EventType{history.EventRunStart, history.EventRunFinished} {
		e := history.Event{
			Type:       typ,
			OccurredAt: time.Now().UTC(),
			Record:     history.RunRecord{RunID: "ch-run", Vendor: "memgraph", Dataset: "small", Successful: 10, P99Ms: 3},
		}
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Failed to send %s: %v", typ, err)
		}
	}

	var n uint64
	if err := sink.conn.QueryRow(ctx, "SELECT count() FROM run_history WHERE run_id = 'ch-run'").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows, got %d", n)
	}
}

func TestClickHouseSink_ConnectionFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping network test in short mode")
	}
	if _, err := New("127.0.0.1:1", "run_history"); err == nil {
		t.Fatal("expected connection error")
	}
}
