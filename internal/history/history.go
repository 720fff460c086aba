// Package history exports finished benchmark runs to analytics stores.
package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/go-multierror"
)

// EventType defines the kind of run event.
type EventType string

const (
	EventRunStart    EventType = "run_start"
	EventRunFinished EventType = "run_finished"
)

// RunRecord is the row stored per run.
type RunRecord struct {
	RunID       string    `json:"run_id"`
	Vendor      string    `json:"vendor"`
	Dataset     string    `json:"dataset"`
	QueriesFile string    `json:"queries_file"`
	Queries     uint64    `json:"queries"`
	Parallel    uint64    `json:"parallel"`
	MPS         uint64    `json:"mps"`
	SimulateMs  uint64    `json:"simulate_ms"`
	Endpoint    string    `json:"endpoint"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	ElapsedMs   uint64    `json:"elapsed_ms"`
	Successful  uint64    `json:"successful"`
	Errors      uint64    `json:"errors"`
	ActualMPS   float64   `json:"actual_mps"`
	P50Ms       float64   `json:"p50_ms"`
	P95Ms       float64   `json:"p95_ms"`
	P99Ms       float64   `json:"p99_ms"`
	Restarts    int64     `json:"restarts"`
	Platform    string    `json:"platform"`
}

// Event is a run event exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     RunRecord `json:"record"`
}

// Sink is a destination for run events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Fanout sends every event to all sinks and reports every failure.
type Fanout []Sink

func (f Fanout) Send(ctx context.Context, e Event) error {
	var result *multierror.Error
	for _, s := range f {
		if err := s.Send(ctx, e); err != nil {
			result = multierror.Append(result, fmt.Errorf("%T: %w", s, err))
		}
	}
	return result.ErrorOrNil()
}

// Close closes the sinks that hold resources.
func (f Fanout) Close() error {
	var errs []error
	for _, s := range f {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
