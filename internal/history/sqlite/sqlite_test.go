package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/graphbench/internal/history"
)

func testEvent(typ history.EventType, runID string) history.Event {
	return history.Event{
		Type:       typ,
		OccurredAt: time.Now().UTC(),
		Record: history.RunRecord{
			RunID:      runID,
			Vendor:     "falkordb",
			Dataset:    "small",
			Queries:    1000,
			Parallel:   8,
			MPS:        500,
			StartedAt:  time.Now().Add(-time.Minute).UTC(),
			FinishedAt: time.Now().UTC(),
			ElapsedMs:  2000,
			Successful: 990,
			Errors:     10,
			ActualMPS:  495,
			P50Ms:      1.5,
			P95Ms:      4,
			P99Ms:      8,
			Platform:   "intel",
		},
	}
}

func TestSQLiteSink_File(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	sink, err := New("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	if err := sink.Send(ctx, testEvent(history.EventRunStart, "run-1")); err != nil {
		t.Fatalf("Failed to send start event: %v", err)
	}
	if err := sink.Send(ctx, testEvent(history.EventRunFinished, "run-1")); err != nil {
		t.Fatalf("Failed to send finish event: %v", err)
	}
	n, err := sink.Count(ctx, "run-1")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows, got %d", n)
	}
}

func TestSQLiteSink_InMemory(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create in-memory sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	if err := sink.Send(ctx, testEvent(history.EventRunFinished, "run-2")); err != nil {
		t.Fatalf("Failed to send event: %v", err)
	}
	n, err := sink.Count(ctx, "run-2")
	if err != nil || n != 1 {
		t.Fatalf("expected 1 row, got %d (%v)", n, err)
	}
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
