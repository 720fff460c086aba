package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/graphbench/internal/aggregate"
	"github.com/loykin/graphbench/internal/backend"
	"github.com/loykin/graphbench/internal/bench"
	"github.com/loykin/graphbench/internal/detector"
	"github.com/loykin/graphbench/internal/history"
	"github.com/loykin/graphbench/internal/metrics"
)

type memSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memSink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func writeQueries(t *testing.T, n int) string {
	t.Helper()
	var b strings.Builder
	for i := 0; i < n; i++ {
		name, class := "single_vertex_read", bench.Read
		if i%4 == 0 {
			name, class = "single_edge_write", bench.Write
		}
		q := bench.PreparedQuery{Name: name, Class: class, Text: fmt.Sprintf("MATCH (n:User {id: %d}) RETURN n", i)}
		line, err := json.Marshal(q)
		require.NoError(t, err)
		b.Write(line)
		b.WriteByte('\n')
	}
	p := filepath.Join(t.TempDir(), "queries.jsonl")
	require.NoError(t, os.WriteFile(p, []byte(b.String()), 0o644))
	return p
}

func simulated(t *testing.T, v bench.Vendor, results string, n int) Options {
	ds, err := bench.ParseSize("small")
	require.NoError(t, err)
	return Options{
		Vendor:      v,
		Dataset:     ds,
		QueriesFile: writeQueries(t, n),
		Parallel:    4,
		MPS:         2000,
		SimulateMs:  1,
		ResultsDir:  results,
		Timeout:     time.Second,
	}
}

func TestSimulatedRunWritesArtifacts(t *testing.T) {
	results := t.TempDir()
	sink := &memSink{}
	opts := simulated(t, bench.Falkor, results, 20)
	opts.History = sink
	opts.Detector = detector.Static{Pid: os.Getpid()}
	opts.ProcessMetrics = metrics.ProcessMetricsConfig{Enabled: true, Interval: time.Hour}

	r, err := New(opts)
	require.NoError(t, err)
	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(20), res.Successful)
	assert.Equal(t, uint64(0), res.Errors)
	assert.Equal(t, filepath.Join(results, "falkordb"), res.Dir)
	assert.Equal(t, PhaseDone, r.Status().Phase)
	assert.Equal(t, 20, r.Status().Scheduled)
	assert.Equal(t, uint64(20), r.Status().Completed)
	assert.Equal(t, map[bench.Vendor]int32{bench.Falkor: int32(os.Getpid())}, r.pids())

	a, err := aggregate.LoadVendor(results, bench.Falkor)
	require.NoError(t, err)
	assert.Equal(t, "small", a.Meta.Dataset)
	assert.Equal(t, uint64(20), a.Meta.QueriesCount)
	require.NotNil(t, a.Meta.SimulateMs)
	assert.Equal(t, uint64(1), *a.Meta.SimulateMs)
	assert.Nil(t, a.Meta.Endpoint)
	assert.Contains(t, a.MetricsText, "falkordb_response_time_success_histogram")
	assert.Contains(t, a.MetricsText, "falkordb_latency_p99_us")
	assert.Contains(t, a.MetricsText, "single_vertex_read")

	report, err := os.ReadFile(filepath.Join(res.Dir, ReportFile))
	require.NoError(t, err)
	assert.Contains(t, string(report), "single_edge_write")

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.events, 2)
	assert.Equal(t, history.EventRunStart, sink.events[0].Type)
	assert.Equal(t, history.EventRunFinished, sink.events[1].Type)
	assert.Equal(t, r.RunID(), sink.events[1].Record.RunID)
	assert.Equal(t, uint64(20), sink.events[1].Record.Successful)
}

func TestRunsFeedAggregator(t *testing.T) {
	results := t.TempDir()
	for _, v := range []bench.Vendor{bench.Falkor, bench.Memgraph} {
		r, err := New(simulated(t, v, results, 8))
		require.NoError(t, err)
		_, err = r.Run(context.Background())
		require.NoError(t, err)
	}
	out := t.TempDir()
	files, err := aggregate.AggregateResults(results, out)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join(out, "memgraph_vs_falkordb.json"), files[0])
}

func TestRepeatedRunsDoNotAccumulate(t *testing.T) {
	for i := 0; i < 2; i++ {
		results := t.TempDir()
		r, err := New(simulated(t, bench.Falkor, results, 10))
		require.NoError(t, err)
		res, err := r.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(10), res.Successful, "run %d", i+1)

		a, err := aggregate.LoadVendor(results, bench.Falkor)
		require.NoError(t, err)
		run, err := aggregate.BuildRun(a)
		require.NoError(t, err)
		if run.Result.SuccessfulRequests != 10 {
			t.Fatalf("run %d: successful requests = %d, want 10", i+1, run.Result.SuccessfulRequests)
		}
		var ops uint64
		for _, n := range run.Result.Operations.ByQuery {
			ops += n
		}
		assert.Equal(t, uint64(10), ops, "run %d", i+1)
	}
}

func TestEndpointErrorsAreCounted(t *testing.T) {
	mr := miniredis.RunT(t)
	ds, _ := bench.ParseSize("small")
	r, err := New(Options{
		Vendor:      bench.Falkor,
		Dataset:     ds,
		QueriesFile: writeQueries(t, 5),
		Parallel:    2,
		MPS:         1000,
		Endpoint:    mr.Addr(),
		ResultsDir:  t.TempDir(),
		Falkor:      backend.DefaultFalkorConfig(),
	})
	require.NoError(t, err)
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	// miniredis does not know GRAPH.QUERY
	assert.Equal(t, uint64(5), res.Errors)
	assert.Equal(t, uint64(0), res.Successful)
	require.NotNil(t, res.Meta.Endpoint)
	assert.Equal(t, mr.Addr(), *res.Meta.Endpoint)
	assert.Equal(t, ds.Vertices, r.Collector().Info().Nodes)
}

func TestNewValidation(t *testing.T) {
	ds, _ := bench.ParseSize("small")
	base := Options{Vendor: bench.Falkor, Dataset: ds, QueriesFile: "q.jsonl", Parallel: 1, MPS: 10}

	o := base
	o.MPS = 0
	_, err := New(o)
	assert.True(t, errors.Is(err, bench.ErrInvalidRate))

	o = base
	o.Vendor = bench.Neo4j
	_, err = New(o)
	assert.True(t, errors.Is(err, backend.ErrUnsupported))

	o.SimulateMs = 2
	r, err := New(o)
	require.NoError(t, err)
	assert.Equal(t, 2, r.opts.Capacity)
	assert.NotEmpty(t, r.RunID())

	o = base
	o.QueriesFile = ""
	_, err = New(o)
	assert.Error(t, err)
}

func TestMissingQueriesFile(t *testing.T) {
	opts := simulated(t, bench.Falkor, t.TempDir(), 1)
	opts.QueriesFile = filepath.Join(t.TempDir(), "missing.jsonl")
	r, err := New(opts)
	require.NoError(t, err)
	_, err = r.Run(context.Background())
	assert.True(t, errors.Is(err, bench.ErrIO))
}

func TestCancelledRunFails(t *testing.T) {
	opts := simulated(t, bench.Falkor, t.TempDir(), 500)
	opts.Capacity = 1
	opts.MPS = 10
	r, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	_, err = r.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, PhaseFailed, r.Status().Phase)
}
