package telemetry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/graphbench/internal/bench"
)

func entry(id, query, total, wait, exec, report string) Entry {
	return Entry{ID: id, Values: map[string]interface{}{
		FieldQuery:  query,
		FieldTotal:  total,
		FieldWait:   wait,
		FieldExec:   exec,
		FieldReport: report,
		FieldWrite:  "0",
	}}
}

func TestParseRecordConvertsSecondsToMicros(t *testing.T) {
	r, err := ParseRecord(entry("1-0", "MATCH (n) RETURN n", "0.003", "0.001", "0.0015", "0.0005").Values)
	require.NoError(t, err)
	assert.InDelta(t, 3000, r.Total, 1e-6)
	assert.InDelta(t, 1000, r.Wait, 1e-6)
	assert.InDelta(t, 1500, r.Exec, 1e-6)
	assert.InDelta(t, 500, r.Report, 1e-6)
	assert.False(t, r.Write)

	_, err = ParseRecord(map[string]interface{}{FieldQuery: "q", FieldTotal: "x"})
	assert.True(t, errors.Is(err, bench.ErrParse))
}

type fakeReader struct {
	mu      sync.Mutex
	batches [][]Entry
	errs    []error
	lastIDs []string
	calls   atomic.Int32
}

func (f *fakeReader) Read(ctx context.Context, lastID string, block time.Duration) ([]Entry, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastIDs = append(f.lastIDs, lastID)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		f.mu.Unlock()
		return nil, err
	}
	if len(f.batches) > 0 {
		b := f.batches[0]
		f.batches = f.batches[1:]
		f.mu.Unlock()
		return b, nil
	}
	f.mu.Unlock()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Millisecond):
	}
	return nil, nil
}

func TestCollectorAveragesByName(t *testing.T) {
	reader := &fakeReader{
		errs: []error{errors.New("connection refused")},
		batches: [][]Entry{{
			entry("1-0", "MATCH  (n)\n RETURN n", "0.002", "0.001", "0.001", "0"),
			entry("2-0", "MATCH (n) RETURN n", "0.004", "0.003", "0.001", "0"),
			{ID: "3-0", Values: map[string]interface{}{"garbage": "1"}},
			entry("4-0", "CREATE (n)", "0.001", "0", "0.001", "0"),
		}},
	}
	c := New(Config{
		Reader:        reader,
		Names:         map[string]string{"MATCH (n) RETURN n": "all_nodes"},
		FlushInterval: 10 * time.Millisecond,
		ErrorBackoff:  5 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return len(c.Queries()) == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	snap := c.Snapshot()
	avg := snap["all_nodes"]
	assert.Equal(t, uint64(2), avg.Count)
	assert.InDelta(t, 2000, avg.Wait, 1e-6)
	assert.InDelta(t, 1000, avg.Exec, 1e-6)
	assert.InDelta(t, 3000, avg.Total, 1e-6)
	assert.Contains(t, snap, "CREATE (n)")

	reader.mu.Lock()
	defer reader.mu.Unlock()
	assert.Equal(t, "$", reader.lastIDs[0])
	assert.Contains(t, reader.lastIDs, "4-0")
}

func TestSumsAreNeverReset(t *testing.T) {
	c := New(Config{Reader: &fakeReader{}})
	c.Add(Record{Query: "q", Wait: 10})
	c.Flush()
	c.Add(Record{Query: "q", Wait: 30, Write: true})
	c.Flush()
	avg := c.Snapshot()["q"]
	assert.Equal(t, uint64(2), avg.Count)
	assert.Equal(t, uint64(1), avg.Writes)
	assert.InDelta(t, 20, avg.Wait, 1e-9)
}

func TestRedisReaderReadsStream(t *testing.T) {
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer func() { _ = rdb.Close() }()

	_, err := rdb.XAdd(&redis.XAddArgs{
		Stream: DefaultStream,
		ID:     "1-1",
		Values: map[string]interface{}{FieldQuery: "RETURN 1", FieldTotal: "0.5", FieldWait: "0.1", FieldExec: "0.3", FieldReport: "0.1"},
	}).Result()
	require.NoError(t, err)

	r := NewRedisReader(rdb, "")
	entries, err := r.Read(context.Background(), "0", 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "1-1", entries[0].ID)

	rec, err := ParseRecord(entries[0].Values)
	require.NoError(t, err)
	assert.InDelta(t, 300000, rec.Exec, 1e-3)

	entries, err = r.Read(context.Background(), "1-1", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
