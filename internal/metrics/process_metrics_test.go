package metrics

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/loykin/graphbench/internal/bench"
)

func TestProcessCollectorSamplesOwnProcess(t *testing.T) {
	c := NewProcessCollector(ProcessMetricsConfig{Enabled: true, Interval: 10 * time.Millisecond})
	pid := int32(os.Getpid())

	c.Collect(map[bench.Vendor]int32{bench.Memgraph: pid, bench.Neo4j: 0})

	last := c.Last()
	pm, ok := last[bench.Memgraph]
	if !ok {
		t.Fatalf("expected a sample for memgraph, got %+v", last)
	}
	assert.Equal(t, pid, pm.PID)
	assert.Greater(t, pm.MemoryKiB, uint64(0))
	assert.Greater(t, testutil.ToFloat64(For(bench.Memgraph).memory), 0.0)
	_, ok = last[bench.Neo4j]
	assert.False(t, ok, "pid 0 must be skipped")
}

func TestProcessCollectorReportsToRunSet(t *testing.T) {
	c := NewProcessCollector(ProcessMetricsConfig{Enabled: true})
	vm := NewVendorMetrics(bench.Falkor)
	c.ReportTo(vm)

	c.Collect(map[bench.Vendor]int32{bench.Falkor: int32(os.Getpid())})
	assert.Greater(t, testutil.ToFloat64(vm.memory), 0.0)
}

func TestProcessCollectorStartStop(t *testing.T) {
	c := NewProcessCollector(ProcessMetricsConfig{Enabled: true, Interval: 5 * time.Millisecond})
	calls := make(chan struct{}, 100)
	c.Start(context.Background(), func() map[bench.Vendor]int32 {
		calls <- struct{}{}
		return nil
	})
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("collector never ticked")
	}
	c.Stop()
	c.Stop() // second stop is a no-op
}

func TestProcessCollectorDisabled(t *testing.T) {
	c := NewProcessCollector(ProcessMetricsConfig{})
	c.Start(context.Background(), func() map[bench.Vendor]int32 {
		t.Fatal("disabled collector must not poll")
		return nil
	})
	c.Stop()
}
