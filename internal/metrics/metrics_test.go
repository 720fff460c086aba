package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/graphbench/internal/bench"
)

func TestRegisterIdempotentAndVendorMetricsExported(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg, bench.Falkor); err != nil {
		t.Fatalf("first register: %v", err)
	}
	// idempotent: calling again should be no-op
	if err := Register(reg, bench.Falkor); err != nil {
		t.Fatalf("second register: %v", err)
	}

	vm := For(bench.Falkor)
	vm.SetDeadlineOffset(-12)
	vm.ObserveSuccess(3 * time.Millisecond)
	vm.ObserveError(70 * time.Millisecond)
	vm.IncRestart()
	vm.SetRequests(2, 5)
	vm.SetGraphSize(10, 20)
	vm.SetProcessUsage(12.5, 2048)
	vm.SetTelemetry("q1", 10, 20, 30)
	IncOperation(bench.Falkor, "0", "q1")
	IncOperationError(bench.Falkor, "0", bench.TypeTimeout, "q1")
	SetSystemUsage(40, 1024)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"falkordb_msg_deadline_offset":                false,
		"falkordb_deadline_lateness_ms":               false,
		"falkordb_response_time_success_histogram":    false,
		"falkordb_response_time_error_histogram":      false,
		"falkordb_restart_counter":                    false,
		"falkordb_running_requests":                   false,
		"falkordb_waiting_requests":                   false,
		"falkordb_nodes":                              false,
		"falkordb_relationships":                      false,
		"falkor_cpu_usage":                            false,
		"falkor_memory_usage":                         false,
		"falkordb_query_wait_time_us":                 false,
		"operations_total":                            false,
		"operations_error_total":                      false,
		"cpu_usage":                                   false,
		"mem_usage":                                   false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
		if strings.HasPrefix(n, "neo4j_") {
			t.Fatalf("unexpected vendor metric %s registered", n)
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
}

func gatherNames(t *testing.T, g prometheus.Gatherer) map[string]*dto.MetricFamily {
	t.Helper()
	mfs, err := g.Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out
}

func TestRegisterOnEveryRegistry(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	require.NoError(t, Register(reg1, bench.Falkor))
	require.NoError(t, Register(reg2, bench.Falkor))

	for i, g := range []prometheus.Gatherer{reg1, reg2} {
		names := gatherNames(t, g)
		for _, want := range []string{"falkordb_response_time_success_histogram", "falkordb_msg_deadline_offset", "cpu_usage"} {
			if _, ok := names[want]; !ok {
				t.Fatalf("registry %d: missing %s", i+1, want)
			}
		}
	}
}

func TestRunSetsAreIndependent(t *testing.T) {
	first := NewVendorMetrics(bench.Falkor)
	for i := 0; i < 10; i++ {
		first.ObserveSuccess(time.Millisecond)
		first.IncOperation("0", "q")
	}
	second := NewVendorMetrics(bench.Falkor)
	assert.Equal(t, 0.0, second.SuccessSnapshot().Count)
	assert.Equal(t, 0.0, second.Operations())

	reg := prometheus.NewRegistry()
	require.NoError(t, first.Register(reg))
	require.NoError(t, second.Register(reg))
	for i := 0; i < 3; i++ {
		second.ObserveSuccess(time.Millisecond)
		second.IncOperation("0", "q")
	}

	names := gatherNames(t, reg)
	hist := names["falkordb_response_time_success_histogram"]
	require.NotNil(t, hist)
	assert.Equal(t, uint64(3), hist.GetMetric()[0].GetHistogram().GetSampleCount())
	ops := names["operations_total"]
	require.NotNil(t, ops)
	assert.Equal(t, 3.0, ops.GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 10.0, first.Operations())
}

func TestDeadlineOffsetRecordsLateness(t *testing.T) {
	vm := NewVendorMetrics(bench.Memgraph)
	vm.SetDeadlineOffset(30)
	vm.SetDeadlineOffset(-700)

	assert.Equal(t, -700.0, testutil.ToFloat64(vm.deadlineOffset))
	late := vm.LatenessSnapshot()
	assert.Equal(t, 2.0, late.Count)
	assert.Equal(t, 700.0, late.Sum)
}

func TestSnapshotsAndErrorSums(t *testing.T) {
	vm := For(bench.Neo4j)
	vm.ObserveSuccess(time.Millisecond)
	vm.ObserveSuccess(2 * time.Millisecond)
	vm.ObserveError(time.Second)

	assert.Equal(t, 2.0, vm.SuccessSnapshot().Count)
	assert.Equal(t, 1.0, vm.ErrorSnapshot().Count)

	IncOperationError(bench.Neo4j, "1", bench.TypeError, "a")
	IncOperationError(bench.Neo4j, "2", bench.TypeTimeout, "b")
	IncOperationError(bench.Memgraph, "1", bench.TypeError, "a")
	IncOperation(bench.Neo4j, "1", "a")
	assert.Equal(t, 2.0, OperationErrors(bench.Neo4j))
	assert.Equal(t, 1.0, Operations(bench.Neo4j))
}

func TestQueryPercentileLabels(t *testing.T) {
	vm := NewVendorMetrics(bench.Falkor)
	vm.SetQueryPercentile("single_vertex_read", 99, 1500*time.Microsecond)
	assert.Equal(t, 1500.0, testutil.ToFloat64(vm.queryPct.WithLabelValues("single_vertex_read", "99")))

	vm.SetLatencyPercentiles(time.Millisecond, 2*time.Millisecond, 3*time.Millisecond)
	assert.Equal(t, 3000.0, testutil.ToFloat64(vm.p99))
}

func TestWriteTextfileAndHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "example_total", Help: "x"})
	reg.MustRegister(c)
	c.Add(3)

	path := filepath.Join(t.TempDir(), "metrics.prom")
	require.NoError(t, WriteTextfile(path, reg))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "example_total 3")

	srv := httptest.NewServer(Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body)
}
