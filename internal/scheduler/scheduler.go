package scheduler

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/loykin/graphbench/internal/bench"
)

// Lead is the head start given to workers before the first deadline.
const Lead = 200 * time.Millisecond

// OffsetMs returns the deadline offset of item i at rate messages per second.
func OffsetMs(i uint64, rate int) uint64 {
	intervalNs := uint64(1_000_000_000) / uint64(rate)
	return i * intervalNs / 1_000_000
}

// Schedule stamps every item with its deadline and sends it to out in order.
// Sends are back-to-back; a full channel blocks the producer, which is the only
// backpressure. out is closed when Schedule returns. If ctx is cancelled while
// sending, the remaining items are dropped and ctx.Err() is returned.
func Schedule[P any](ctx context.Context, rate int, out chan<- Message[P], items iter.Seq[P]) (int, error) {
	defer close(out)
	if rate <= 0 {
		return 0, fmt.Errorf("%w: %d", bench.ErrInvalidRate, rate)
	}
	start := time.Now().Add(Lead)
	var sent uint64
	for p := range items {
		msg := Message[P]{StartTime: start, OffsetMs: OffsetMs(sent, rate), Payload: p}
		select {
		case out <- msg:
			sent++
		case <-ctx.Done():
			slog.Error("Scheduler stopped, receiver gone", "sent", sent, "error", ctx.Err())
			return int(sent), ctx.Err()
		}
	}
	slog.Info("Scheduler finished", "sent", sent, "rate", rate)
	return int(sent), nil
}
