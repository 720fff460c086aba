package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/graphbench/internal/history"
)

// Sink sends run events to ClickHouse using the native client.
type Sink struct {
	conn  driver.Conn
	table string
}

// Schema is the table layout the sink inserts into.
const Schema = `CREATE TABLE IF NOT EXISTS %s (
	type String,
	occurred_at DateTime64(6),
	run_id String,
	vendor LowCardinality(String),
	dataset LowCardinality(String),
	queries UInt64,
	parallel UInt64,
	mps UInt64,
	elapsed_ms UInt64,
	successful UInt64,
	errors UInt64,
	actual_mps Float64,
	p50_ms Float64,
	p95_ms Float64,
	p99_ms Float64,
	restarts Int64,
	platform String
) ENGINE = MergeTree()
ORDER BY (vendor, occurred_at)`

func New(addr, table string) (*Sink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: "default",
			Password: "",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	return &Sink{conn: conn, table: table}, nil
}

// EnsureTable creates the table when missing.
func (s *Sink) EnsureTable(ctx context.Context) error {
	return s.conn.Exec(ctx, fmt.Sprintf(Schema, s.table))
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	r := e.Record
	query := fmt.Sprintf(`INSERT INTO %s (type, occurred_at, run_id, vendor, dataset, queries, parallel, mps, elapsed_ms, successful, errors, actual_mps, p50_ms, p95_ms, p99_ms, restarts, platform) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)

	err := s.conn.Exec(ctx, query,
		string(e.Type),
		e.OccurredAt,
		r.RunID,
		r.Vendor,
		r.Dataset,
		r.Queries,
		r.Parallel,
		r.MPS,
		r.ElapsedMs,
		r.Successful,
		r.Errors,
		r.ActualMPS,
		r.P50Ms,
		r.P95Ms,
		r.P99Ms,
		r.Restarts,
		r.Platform,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}
