// Package collector aggregates per-call latencies of a run in process and
// renders percentile reports from them.
package collector

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/loykin/graphbench/internal/bench"
	"github.com/loykin/graphbench/internal/histogram"
)

// Fixed categories present in every collector.
const (
	All   = "all"
	Read  = string(bench.Read)
	Write = string(bench.Write)
)

// Percentiles published per query, as in the single workload report.
var Percentiles = []int{10, 20, 30, 40, 50, 60, 70, 80, 90, 95, 99}

// WorstCall is the slowest sample seen for a category.
type WorstCall struct {
	Duration time.Duration
	Query    string
	Context  string
}

// Row is one line of the report.
type Row struct {
	Operation        string        `json:"operation"`
	TotalCalls       uint64        `json:"total_calls"`
	P50              time.Duration `json:"p50"`
	P95              time.Duration `json:"p95"`
	P99              time.Duration `json:"p99"`
	WorstDuration    time.Duration `json:"worst_duration"`
	WorstCallText    string        `json:"worst_call_text"`
	WorstCallContext string        `json:"worst_call_context"`
}

// RunInfo is printed in the report header.
type RunInfo struct {
	Vendor        bench.Vendor
	Nodes         uint64
	Relationships uint64
	Queries       int
	MPS           int
}

// PercentileSink receives live percentiles, typically the vendor gauges.
type PercentileSink interface {
	SetLatencyPercentiles(p50, p95, p99 time.Duration)
	SetQueryPercentile(query string, pct int, d time.Duration)
}

// MetricsCollector is safe for concurrent use by many workers.
type MetricsCollector struct {
	info    RunInfo
	buckets []float64

	mu     sync.Mutex
	hist   map[string]prometheus.Histogram
	worst  map[string]WorstCall
	totals map[string]uint64
}

// New returns a collector using buckets (seconds) for every category.
func New(info RunInfo, buckets []float64) *MetricsCollector {
	if len(buckets) == 0 {
		buckets = prometheus.ExponentialBuckets(0.0005, 2, 18)
	}
	c := &MetricsCollector{
		info:    info,
		buckets: buckets,
		hist:    make(map[string]prometheus.Histogram),
		worst:   make(map[string]WorstCall),
		totals:  make(map[string]uint64),
	}
	for _, cat := range []string{All, Read, Write} {
		c.category(cat)
	}
	return c
}

// Info returns the run description given to New.
func (c *MetricsCollector) Info() RunInfo { return c.info }

// category returns the histogram of cat, creating it. Callers hold mu.
func (c *MetricsCollector) category(cat string) prometheus.Histogram {
	h, ok := c.hist[cat]
	if !ok {
		h = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "latency", Buckets: c.buckets})
		c.hist[cat] = h
	}
	return h
}

// Record adds one sample to "all", to its class and to its operation name.
func (c *MetricsCollector) Record(d time.Duration, name string, class bench.QueryClass, query, context string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cats := []string{All}
	for _, cat := range []string{string(class), name} {
		if !slices.Contains(cats, cat) {
			cats = append(cats, cat)
		}
	}
	for _, cat := range cats {
		c.category(cat).Observe(d.Seconds())
		c.totals[cat]++
		if w, ok := c.worst[cat]; !ok || d > w.Duration {
			c.worst[cat] = WorstCall{Duration: d, Query: query, Context: context}
		}
	}
}

// Histogram returns a snapshot of the histogram of category.
func (c *MetricsCollector) Histogram(category string) histogram.Data {
	c.mu.Lock()
	h, ok := c.hist[category]
	total := c.totals[category]
	c.mu.Unlock()
	if !ok {
		return histogram.Data{}
	}
	var pb dto.Metric
	if err := h.Write(&pb); err != nil {
		return histogram.Data{}
	}
	d := histogram.FromMetric(&pb)
	d.Count = float64(total)
	return d
}

// Percentile returns the p-quantile of category at bucket granularity.
func (c *MetricsCollector) Percentile(category string, p float64) time.Duration {
	return seconds(c.Histogram(category).Quantile(p))
}

// Total returns the number of samples recorded for category.
func (c *MetricsCollector) Total(category string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totals[category]
}

// Worst returns the worst call of category.
func (c *MetricsCollector) Worst(category string) (WorstCall, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.worst[category]
	return w, ok
}

func (c *MetricsCollector) categories() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.hist))
	for k := range c.hist {
		out = append(out, k)
	}
	return out
}

// Report returns one row per category sorted by p99 descending, with all,
// read and write pinned first in that order.
func (c *MetricsCollector) Report() []Row {
	var pinned, rest []Row
	for _, cat := range c.categories() {
		h := c.Histogram(cat)
		w, _ := c.Worst(cat)
		row := Row{
			Operation:        cat,
			TotalCalls:       uint64(h.Count),
			P50:              seconds(h.Quantile(0.50)),
			P95:              seconds(h.Quantile(0.95)),
			P99:              seconds(h.Quantile(0.99)),
			WorstDuration:    w.Duration,
			WorstCallText:    w.Query,
			WorstCallContext: w.Context,
		}
		switch cat {
		case All, Read, Write:
			pinned = append(pinned, row)
		default:
			rest = append(rest, row)
		}
	}
	rank := map[string]int{All: 0, Read: 1, Write: 2}
	sort.Slice(pinned, func(i, j int) bool { return rank[pinned[i].Operation] < rank[pinned[j].Operation] })
	sort.SliceStable(rest, func(i, j int) bool {
		if rest[i].P99 != rest[j].P99 {
			return rest[i].P99 > rest[j].P99
		}
		return rest[i].Operation < rest[j].Operation
	})
	return append(pinned, rest...)
}

// Publish pushes the "all" percentiles and per query P10..P99 into sink.
func (c *MetricsCollector) Publish(sink PercentileSink) {
	sink.SetLatencyPercentiles(c.Percentile(All, 0.50), c.Percentile(All, 0.95), c.Percentile(All, 0.99))
	for _, cat := range c.categories() {
		switch cat {
		case All, Read, Write:
			continue
		}
		h := c.Histogram(cat)
		for _, p := range Percentiles {
			sink.SetQueryPercentile(cat, p, seconds(h.Quantile(float64(p)/100)))
		}
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
