package collector

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/graphbench/internal/bench"
)

var testBuckets = []float64{0.001, 0.002, 0.005}

func TestRecordUpdatesThreeCategories(t *testing.T) {
	c := New(RunInfo{Vendor: bench.Falkor}, testBuckets)
	c.Record(time.Millisecond, "q_read", bench.Read, "MATCH (n) RETURN n", "id=1")
	c.Record(time.Millisecond, "q_write", bench.Write, "CREATE (n)", "id=2")

	assert.Equal(t, uint64(2), c.Total(All))
	assert.Equal(t, uint64(1), c.Total(Read))
	assert.Equal(t, uint64(1), c.Total(Write))
	assert.Equal(t, uint64(1), c.Total("q_read"))
	assert.Equal(t, uint64(1), c.Total("q_write"))
}

func TestRecordCountsCategoryNamedOperationOnce(t *testing.T) {
	c := New(RunInfo{Vendor: bench.Falkor}, testBuckets)
	c.Record(time.Millisecond, Read, bench.Read, "MATCH (n) RETURN n", "")
	c.Record(time.Millisecond, All, bench.Write, "CREATE (n)", "")

	assert.Equal(t, uint64(2), c.Total(All))
	assert.Equal(t, uint64(1), c.Total(Read))
	assert.Equal(t, uint64(1), c.Total(Write))
	assert.Equal(t, 2.0, c.Histogram(All).Count)
	assert.Equal(t, 1.0, c.Histogram(Read).Count)
}

func TestWorstCallReplacedOnlyByStrictlyLarger(t *testing.T) {
	c := New(RunInfo{}, testBuckets)
	c.Record(3*time.Millisecond, "q", bench.Read, "first", "")
	c.Record(3*time.Millisecond, "q", bench.Read, "equal", "")
	c.Record(time.Millisecond, "q", bench.Read, "smaller", "")

	w, ok := c.Worst("q")
	require.True(t, ok)
	assert.Equal(t, "first", w.Query)

	c.Record(4*time.Millisecond, "q", bench.Read, "larger", "ctx")
	w, _ = c.Worst(All)
	assert.Equal(t, "larger", w.Query)
	assert.Equal(t, "ctx", w.Context)
}

func TestPercentileUsesBucketBounds(t *testing.T) {
	c := New(RunInfo{}, testBuckets)
	for i := 0; i < 10; i++ {
		c.Record(500*time.Microsecond, "q", bench.Read, "", "")
	}
	for i := 0; i < 5; i++ {
		c.Record(1500*time.Microsecond, "q", bench.Read, "", "")
	}
	for i := 0; i < 5; i++ {
		c.Record(4*time.Millisecond, "q", bench.Read, "", "")
	}

	assert.Equal(t, time.Millisecond, c.Percentile("q", 0.5))
	assert.Equal(t, 5*time.Millisecond, c.Percentile("q", 0.99))
	assert.Equal(t, time.Duration(0), c.Percentile("missing", 0.5))
}

func TestReportPinsAndSortsByP99(t *testing.T) {
	c := New(RunInfo{}, testBuckets)
	c.Record(500*time.Microsecond, "fast", bench.Read, "", "")
	c.Record(4*time.Millisecond, "slow", bench.Write, "", "")
	c.Record(1500*time.Microsecond, "medium", bench.Read, "", "")

	rows := c.Report()
	var ops []string
	for _, r := range rows {
		ops = append(ops, r.Operation)
	}
	assert.Equal(t, []string{All, Read, Write, "slow", "medium", "fast"}, ops)
	assert.Equal(t, uint64(3), rows[0].TotalCalls)
	assert.Equal(t, 4*time.Millisecond, rows[0].WorstDuration)
}

func TestConcurrentRecord(t *testing.T) {
	c := New(RunInfo{}, testBuckets)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c.Record(time.Millisecond, "q", bench.Read, "", "")
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(800), c.Total(All))
	assert.Equal(t, 800.0, c.Histogram("q").Count)
}

type fakeSink struct {
	p50, p95, p99 time.Duration
	perQuery      map[string]map[int]time.Duration
}

func (f *fakeSink) SetLatencyPercentiles(p50, p95, p99 time.Duration) {
	f.p50, f.p95, f.p99 = p50, p95, p99
}

func (f *fakeSink) SetQueryPercentile(q string, pct int, d time.Duration) {
	if f.perQuery == nil {
		f.perQuery = map[string]map[int]time.Duration{}
	}
	if f.perQuery[q] == nil {
		f.perQuery[q] = map[int]time.Duration{}
	}
	f.perQuery[q][pct] = d
}

func TestPublish(t *testing.T) {
	c := New(RunInfo{}, testBuckets)
	c.Record(1500*time.Microsecond, "q", bench.Read, "", "")
	sink := &fakeSink{}
	c.Publish(sink)

	assert.Equal(t, 2*time.Millisecond, sink.p50)
	assert.Equal(t, 2*time.Millisecond, sink.p99)
	require.Contains(t, sink.perQuery, "q")
	assert.Len(t, sink.perQuery["q"], len(Percentiles))
	assert.NotContains(t, sink.perQuery, All)
}

func TestMarkdown(t *testing.T) {
	c := New(RunInfo{Vendor: bench.Falkor, Nodes: 10, Relationships: 20, Queries: 1, MPS: 5}, testBuckets)
	c.Record(1500*time.Microsecond, "q", bench.Read, "MATCH (n) RETURN n", "id=7")

	md := c.Markdown()
	assert.Contains(t, md, "vendor: falkordb")
	assert.Contains(t, md, "| q | 1 | 2.000ms |")
	assert.Contains(t, md, "MATCH (n) RETURN n")
	assert.Contains(t, md, "context: `id=7`")
}
