package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/loykin/graphbench/internal/bench"
	"github.com/loykin/graphbench/internal/histogram"
)

// LatencyBuckets are the response time buckets in seconds, 0.5ms up to ~65s so
// the 60s workload timeout still lands inside the range.
var LatencyBuckets = prometheus.ExponentialBuckets(0.0005, 2, 18)

// LatenessBuckets are the deadline lateness buckets in milliseconds.
var LatenessBuckets = []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

// VendorMetrics holds every collector whose name is prefixed by a vendor id,
// plus the operation counters labelled with it. Recording never requires
// registration; registration only controls export.
type VendorMetrics struct {
	vendor bench.Vendor

	ops      *prometheus.CounterVec
	opErrors *prometheus.CounterVec

	deadlineOffset prometheus.Gauge
	lateness       prometheus.Histogram
	success        prometheus.Histogram
	failure        prometheus.Histogram
	p50, p95, p99  prometheus.Gauge
	queryPct       *prometheus.GaugeVec

	restarts      prometheus.Counter
	running       prometheus.Gauge
	waiting       prometheus.Gauge
	nodes         prometheus.Gauge
	relationships prometheus.Gauge
	graphMemoryMB prometheus.Gauge
	cpu           prometheus.Gauge
	memory        prometheus.Gauge

	waitUs   *prometheus.GaugeVec
	execUs   *prometheus.GaugeVec
	reportUs *prometheus.GaugeVec
}

var (
	vendorsMu sync.Mutex
	vendorSet = map[bench.Vendor]*VendorMetrics{}
)

// For returns the process-wide metric set of vendor v, creating it on first
// use. Its operation counters are shared by every vendor.
func For(v bench.Vendor) *VendorMetrics {
	vendorsMu.Lock()
	defer vendorsMu.Unlock()
	if vm, ok := vendorSet[v]; ok {
		return vm
	}
	vm := newVendorMetrics(v, operations, operationErrors)
	vendorSet[v] = vm
	return vm
}

// NewVendorMetrics returns an empty metric set for a single run of vendor v.
// Nothing it records is visible through For.
func NewVendorMetrics(v bench.Vendor) *VendorMetrics {
	return newVendorMetrics(v, newOperationsVec(), newOperationErrorsVec())
}

func newVendorMetrics(v bench.Vendor, ops, opErrors *prometheus.CounterVec) *VendorMetrics {
	p := v.MetricPrefix()
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}
	telemetry := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: p + name, Help: help}, []string{"query"})
	}
	return &VendorMetrics{
		vendor:         v,
		ops:            ops,
		opErrors:       opErrors,
		deadlineOffset: gauge(p+"_msg_deadline_offset", "Signed distance in ms to the message deadline, positive when early."),
		lateness: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    p + "_deadline_lateness_ms",
			Help:    "How late messages were picked up relative to their deadline.",
			Buckets: LatenessBuckets,
		}),
		success: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    p + "_response_time_success_histogram",
			Help:    "Response time of successful operations in seconds.",
			Buckets: LatencyBuckets,
		}),
		failure: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    p + "_response_time_error_histogram",
			Help:    "Response time of failed operations in seconds.",
			Buckets: LatencyBuckets,
		}),
		p50: gauge(p+"_latency_p50_us", "Live p50 latency in microseconds."),
		p95: gauge(p+"_latency_p95_us", "Live p95 latency in microseconds."),
		p99: gauge(p+"_latency_p99_us", "Live p99 latency in microseconds."),
		queryPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: p + "_query_latency_pct_us",
			Help: "Per query latency percentiles in microseconds.",
		}, []string{"query", "pct"}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: p + "_restart_counter",
			Help: "Number of backend server restarts.",
		}),
		running:       gauge(p+"_running_requests", "Queries currently executing on the backend."),
		waiting:       gauge(p+"_waiting_requests", "Queries currently queued on the backend."),
		nodes:         gauge(p+"_nodes", "Number of nodes in the graph."),
		relationships: gauge(p+"_relationships", "Number of relationships in the graph."),
		graphMemoryMB: gauge(p+"_graph_memory_usage_mb", "Graph memory usage reported by the backend in MB."),
		cpu:           gauge(v.ProcessPrefix()+"_cpu_usage", "Backend process CPU usage in percent."),
		memory:        gauge(v.ProcessPrefix()+"_memory_usage", "Backend process resident memory in KiB."),
		waitUs:        telemetry("_query_wait_time_us", "Average queue wait time per query in microseconds."),
		execUs:        telemetry("_query_exec_time_us", "Average execution time per query in microseconds."),
		reportUs:      telemetry("_query_report_time_us", "Average report time per query in microseconds."),
	}
}

// Register exports the set and the process-wide collectors through r. A set
// of the same vendor registered earlier on r is replaced.
func (m *VendorMetrics) Register(r prometheus.Registerer) error {
	return register(r, append(processCollectors(), m.collectors()...)...)
}

func (m *VendorMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ops, m.opErrors,
		m.deadlineOffset, m.lateness, m.success, m.failure,
		m.p50, m.p95, m.p99, m.queryPct,
		m.restarts, m.running, m.waiting, m.nodes, m.relationships, m.graphMemoryMB,
		m.cpu, m.memory, m.waitUs, m.execUs, m.reportUs,
	}
}

// Vendor returns the vendor of this set.
func (m *VendorMetrics) Vendor() bench.Vendor { return m.vendor }

// SetDeadlineOffset publishes the signed offset and records lateness for late
// messages.
func (m *VendorMetrics) SetDeadlineOffset(ms int64) {
	m.deadlineOffset.Set(float64(ms))
	if ms < 0 {
		m.lateness.Observe(float64(-ms))
	} else {
		m.lateness.Observe(0)
	}
}

func (m *VendorMetrics) IncOperation(spawnID, name string) {
	m.ops.WithLabelValues(m.vendor.String(), spawnID, bench.TypeOK, name).Inc()
}

func (m *VendorMetrics) IncOperationError(spawnID, typ, name string) {
	m.opErrors.WithLabelValues(m.vendor.String(), spawnID, typ, name).Inc()
}

// Operations sums operations_total of this vendor.
func (m *VendorMetrics) Operations() float64 { return sumVec(m.ops, "vendor", m.vendor.String()) }

// OperationErrors sums operations_error_total of this vendor.
func (m *VendorMetrics) OperationErrors() float64 {
	return sumVec(m.opErrors, "vendor", m.vendor.String())
}

func (m *VendorMetrics) ObserveSuccess(d time.Duration) { m.success.Observe(d.Seconds()) }
func (m *VendorMetrics) ObserveError(d time.Duration)   { m.failure.Observe(d.Seconds()) }

// SuccessSnapshot returns the current success histogram.
func (m *VendorMetrics) SuccessSnapshot() histogram.Data { return snapshot(m.success) }

// ErrorSnapshot returns the current error histogram.
func (m *VendorMetrics) ErrorSnapshot() histogram.Data { return snapshot(m.failure) }

// LatenessSnapshot returns the current lateness histogram.
func (m *VendorMetrics) LatenessSnapshot() histogram.Data { return snapshot(m.lateness) }

func (m *VendorMetrics) SetLatencyPercentiles(p50, p95, p99 time.Duration) {
	m.p50.Set(float64(p50.Microseconds()))
	m.p95.Set(float64(p95.Microseconds()))
	m.p99.Set(float64(p99.Microseconds()))
}

// SetQueryPercentile publishes one percentile (e.g. 50 for P50) of a query.
func (m *VendorMetrics) SetQueryPercentile(query string, pct int, d time.Duration) {
	m.queryPct.WithLabelValues(query, strconv.Itoa(pct)).Set(float64(d.Microseconds()))
}

func (m *VendorMetrics) IncRestart() { m.restarts.Inc() }

func (m *VendorMetrics) SetRequests(running, waiting int64) {
	m.running.Set(float64(running))
	m.waiting.Set(float64(waiting))
}

func (m *VendorMetrics) SetGraphSize(nodes, relationships int64) {
	m.nodes.Set(float64(nodes))
	m.relationships.Set(float64(relationships))
}

func (m *VendorMetrics) SetGraphMemoryMB(mb float64) { m.graphMemoryMB.Set(mb) }

// SetProcessUsage publishes backend process cpu percent and resident KiB.
func (m *VendorMetrics) SetProcessUsage(cpuPercent float64, rssKiB uint64) {
	m.cpu.Set(cpuPercent)
	m.memory.Set(float64(rssKiB))
}

// SetTelemetry publishes average wait/exec/report microseconds of a query.
func (m *VendorMetrics) SetTelemetry(query string, waitUs, execUs, reportUs float64) {
	m.waitUs.WithLabelValues(query).Set(waitUs)
	m.execUs.WithLabelValues(query).Set(execUs)
	m.reportUs.WithLabelValues(query).Set(reportUs)
}

func snapshot(h prometheus.Histogram) histogram.Data {
	var pb dto.Metric
	if err := h.Write(&pb); err != nil {
		return histogram.Data{}
	}
	return histogram.FromMetric(&pb)
}

func sumVec(c prometheus.Collector, label, value string) float64 {
	ch := make(chan prometheus.Metric, 64)
	go func() {
		c.Collect(ch)
		close(ch)
	}()
	var total float64
	for m := range ch {
		var pb dto.Metric
		if err := m.Write(&pb); err != nil {
			continue
		}
		for _, lp := range pb.GetLabel() {
			if lp.GetName() == label && lp.GetValue() == value {
				total += pb.GetCounter().GetValue()
			}
		}
	}
	return total
}
