package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/graphbench/internal/history"
)

// Sink writes run events to a SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}

	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// :memory: databases are per connection
	db.SetMaxOpenConns(1)

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS run_history(
		occurred_at TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
		event TEXT NOT NULL,
		run_id TEXT NOT NULL,
		vendor TEXT NOT NULL,
		dataset TEXT NOT NULL,
		queries INTEGER NOT NULL,
		parallel INTEGER NOT NULL,
		mps INTEGER NOT NULL,
		elapsed_ms INTEGER NOT NULL,
		successful INTEGER NOT NULL,
		errors INTEGER NOT NULL,
		actual_mps REAL NOT NULL,
		p50_ms REAL NOT NULL,
		p95_ms REAL NOT NULL,
		p99_ms REAL NOT NULL,
		restarts INTEGER NOT NULL,
		platform TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	r := e.Record
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_history(occurred_at, event, run_id, vendor, dataset, queries, parallel, mps,
			elapsed_ms, successful, errors, actual_mps, p50_ms, p95_ms, p99_ms, restarts, platform)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		e.OccurredAt.UTC(), string(e.Type), r.RunID, r.Vendor, r.Dataset, r.Queries, r.Parallel, r.MPS,
		r.ElapsedMs, r.Successful, r.Errors, r.ActualMPS, r.P50Ms, r.P95Ms, r.P99Ms, r.Restarts, r.Platform)
	return err
}

// Count returns the number of stored events of a run.
func (s *Sink) Count(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM run_history WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
