// Package aggregate turns per-vendor run artifacts into the comparison
// summaries consumed by the dashboards.
package aggregate

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/loykin/graphbench/internal/bench"
	"github.com/loykin/graphbench/internal/histogram"
)

// Artifact file names inside <results>/<vendor>/.
const (
	MetaFile    = "meta.json"
	MetricsFile = "metrics.prom"
)

// histogramPercentiles is the order of histogram_for_type entries.
var histogramPercentiles = []int{10, 20, 30, 40, 50, 60, 70, 80, 90, 95, 99}

// ErrMissingArtifact is returned when a vendor directory lacks a file.
var ErrMissingArtifact = errors.New("missing run artifact")

// RunMeta is the meta.json written at the end of a run.
type RunMeta struct {
	Vendor              string  `json:"vendor"`
	Dataset             string  `json:"dataset"`
	QueriesFile         string  `json:"queries_file"`
	QueriesCount        uint64  `json:"queries_count"`
	Parallel            uint64  `json:"parallel"`
	MPS                 uint64  `json:"mps"`
	SimulateMs          *uint64 `json:"simulate_ms,omitempty"`
	Endpoint            *string `json:"endpoint,omitempty"`
	StartedAtEpochSecs  uint64  `json:"started_at_epoch_secs"`
	FinishedAtEpochSecs uint64  `json:"finished_at_epoch_secs"`
	ElapsedMs           uint64  `json:"elapsed_ms"`
}

// VendorArtifacts are the files of one vendor run, read once.
type VendorArtifacts struct {
	Vendor      bench.Vendor
	Meta        RunMeta
	MetricsText string
}

type Latency struct {
	P50 string `json:"p50"`
	P95 string `json:"p95"`
	P99 string `json:"p99"`
}

type LatencyHistogram struct {
	BucketsMs        []uint64 `json:"buckets-ms"`
	CumulativeCounts []uint64 `json:"cumulative-counts"`
	Count            uint64   `json:"count"`
}

type Operations struct {
	ByQuery map[string]uint64 `json:"by-query"`
	BySpawn map[string]uint64 `json:"by-spawn"`
}

type SpawnStats struct {
	Min         uint64  `json:"min"`
	Max         uint64  `json:"max"`
	P50         uint64  `json:"p50"`
	P95         uint64  `json:"p95"`
	MaxMinRatio float64 `json:"max-min-ratio"`
	CV          float64 `json:"cv"`
}

type Result struct {
	DeadlineOffset          string               `json:"deadline-offset"`
	ActualMessagesPerSecond float64              `json:"actual-messages-per-second"`
	Latency                 Latency              `json:"latency"`
	AvgLatencyMs            float64              `json:"avg-latency-ms"`
	LatencyHistogram        LatencyHistogram     `json:"latency-histogram"`
	ElapsedMs               uint64               `json:"elapsed-ms"`
	CPUUsage                float64              `json:"cpu-usage"`
	RAMUsage                string               `json:"ram-usage"`
	BaseDatasetBytes        *uint64              `json:"base-dataset-bytes,omitempty"`
	Errors                  uint64               `json:"errors"`
	SuccessfulRequests      uint64               `json:"successful-requests"`
	Operations              Operations           `json:"operations"`
	SpawnStats              SpawnStats           `json:"spawn-stats"`
	HistogramForType        map[string][]float64 `json:"histogram_for_type,omitempty"`
}

type Run struct {
	Vendor                  string  `json:"vendor"`
	ReadWriteRatio          float64 `json:"read-write-ratio"`
	Clients                 uint64  `json:"clients"`
	Platform                string  `json:"platform"`
	TargetMessagesPerSecond uint64  `json:"target-messages-per-second"`
	Edges                   uint64  `json:"edges"`
	Relationships           uint64  `json:"relationships"`
	Result                  Result  `json:"result"`
}

// Summary is one comparison file. The unrealstic key keeps the spelling the
// dashboards expect.
type Summary struct {
	Runs       []Run             `json:"runs"`
	Unrealstic []json.RawMessage `json:"unrealstic"`
	Platforms  []json.RawMessage `json:"platforms"`
}

// LoadVendor reads meta.json and metrics.prom of vendor under resultsDir.
func LoadVendor(resultsDir string, v bench.Vendor) (VendorArtifacts, error) {
	dir := filepath.Join(resultsDir, v.String())
	metaPath := filepath.Join(dir, MetaFile)
	metricsPath := filepath.Join(dir, MetricsFile)

	raw, err := os.ReadFile(metaPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return VendorArtifacts{}, fmt.Errorf("%w: %s", ErrMissingArtifact, metaPath)
		}
		return VendorArtifacts{}, fmt.Errorf("%w: read %s: %v", bench.ErrIO, metaPath, err)
	}
	var meta RunMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return VendorArtifacts{}, fmt.Errorf("%w: %s: %v", bench.ErrParse, metaPath, err)
	}
	text, err := os.ReadFile(metricsPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return VendorArtifacts{}, fmt.Errorf("%w: %s", ErrMissingArtifact, metricsPath)
		}
		return VendorArtifacts{}, fmt.Errorf("%w: read %s: %v", bench.ErrIO, metricsPath, err)
	}
	return VendorArtifacts{Vendor: v, Meta: meta, MetricsText: string(text)}, nil
}

// BuildRun derives the summary entry of one vendor.
func BuildRun(a VendorArtifacts) (Run, error) {
	ds, err := bench.ParseSize(a.Meta.Dataset)
	if err != nil {
		return Run{}, err
	}
	idx := ParseMetrics(a.MetricsText)
	prefix := a.Vendor.MetricPrefix()
	success := idx.Histogram(prefix + "_response_time_success_histogram")
	failure := idx.Histogram(prefix + "_response_time_error_histogram")

	p50, p95, p99, ok := livePercentiles(idx, a.Vendor)
	if !ok {
		p50 = quantileSeconds(success, 0.50, a.Vendor)
		p95 = quantileSeconds(success, 0.95, a.Vendor)
		p99 = quantileSeconds(success, 0.99, a.Vendor)
	}

	var mps float64
	if elapsed := float64(a.Meta.ElapsedMs) / 1000; elapsed > 0 {
		mps = math.Max(success.Count/elapsed, 0)
	}

	hist := LatencyHistogram{Count: roundU64(success.Count)}
	for _, b := range success.Buckets {
		hist.BucketsMs = append(hist.BucketsMs, roundU64(b.Bound*1000))
		hist.CumulativeCounts = append(hist.CumulativeCounts, roundU64(b.Cumulative))
	}

	cpu, ram := cpuMem(idx, a.Vendor)
	ops := operationsBreakdown(idx, a.Vendor)

	return Run{
		Vendor:                  a.Vendor.String(),
		ReadWriteRatio:          0,
		Clients:                 a.Meta.Parallel,
		Platform:                Platform(),
		TargetMessagesPerSecond: a.Meta.MPS,
		// The dashboards label vertices as edges and edges as relationships.
		Edges:         ds.Vertices,
		Relationships: ds.Edges,
		Result: Result{
			DeadlineOffset:          "0ms",
			ActualMessagesPerSecond: mps,
			Latency: Latency{
				P50: FormatDuration(p50 * 1000),
				P95: FormatDuration(p95 * 1000),
				P99: FormatDuration(p99 * 1000),
			},
			AvgLatencyMs:       success.Mean() * 1000,
			LatencyHistogram:   hist,
			ElapsedMs:          a.Meta.ElapsedMs,
			CPUUsage:           cpu,
			RAMUsage:           ram,
			BaseDatasetBytes:   baseDatasetBytes(idx, a.Vendor, ds),
			Errors:             roundU64(failure.Count),
			SuccessfulRequests: roundU64(success.Count),
			Operations:         ops,
			SpawnStats:         spawnStats(ops.BySpawn),
			HistogramForType:   queryPercentilesMs(idx, a.Vendor),
		},
	}, nil
}

// livePercentiles reads the in-process percentile gauges in seconds. Any
// missing or zero gauge disqualifies the set.
func livePercentiles(idx *MetricsIndex, v bench.Vendor) (p50, p95, p99 float64, ok bool) {
	p := v.MetricPrefix()
	vals := make([]float64, 3)
	for i, name := range []string{p + "_latency_p50_us", p + "_latency_p95_us", p + "_latency_p99_us"} {
		us, found := idx.Value(name)
		if !found || us <= 0 {
			return 0, 0, 0, false
		}
		vals[i] = us / 1e6
	}
	return vals[0], vals[1], vals[2], true
}

func quantileSeconds(d histogram.Data, q float64, v bench.Vendor) float64 {
	val, inRange := d.Percentile(q)
	if !inRange {
		slog.Debug("Percentile beyond histogram range, using last bucket bound", "vendor", v, "quantile", q, "bound", val)
	}
	return val
}

func cpuMem(idx *MetricsIndex, v bench.Vendor) (float64, string) {
	pp := v.ProcessPrefix()
	cpu := idx.ValueOr(pp+"_cpu_usage", 0)
	rssKiB := idx.ValueOr(pp+"_memory_usage", 0)

	switch v {
	case bench.Falkor:
		if mb := idx.ValueOr("falkordb_graph_memory_usage_mb", 0); mb > 0 {
			return cpu, FormatMemMiB(mb)
		}
	case bench.Memgraph:
		for _, name := range []string{
			"memgraph_storage_memory_tracked_bytes",
			"memgraph_storage_memory_res_bytes",
			"memgraph_storage_peak_memory_res_bytes",
		} {
			if b, ok := idx.Value(name); ok {
				if b > 0 {
					return cpu, FormatMemBytes(b)
				}
				break
			}
		}
	}
	return cpu, FormatMemKiB(rssKiB)
}

// baseDatasetBytes estimates storage of the loaded dataset where a vendor
// exports or documents it.
func baseDatasetBytes(idx *MetricsIndex, v bench.Vendor, ds bench.Dataset) *uint64 {
	positive := func(name string) *uint64 {
		if b, ok := idx.Value(name); ok && b > 0 {
			n := roundU64(b)
			return &n
		}
		return nil
	}
	switch v {
	case bench.Memgraph:
		if b := positive("memgraph_storage_base_dataset_bytes"); b != nil {
			return b
		}
		// StorageRAMUsage = vertices*212B + edges*162B
		n := ds.Vertices*212 + ds.Edges*162
		if n == 0 {
			return nil
		}
		return &n
	case bench.Neo4j:
		if b := positive("neo4j_store_size_bytes"); b != nil {
			return b
		}
		return positive("neo4j_base_dataset_estimate_bytes")
	}
	return nil
}

func operationsBreakdown(idx *MetricsIndex, v bench.Vendor) Operations {
	ops := Operations{ByQuery: map[string]uint64{}, BySpawn: map[string]uint64{}}
	for _, s := range idx.Samples("operations_total") {
		if vendor, ok := s.Labels["vendor"]; ok && vendor != v.String() {
			continue
		}
		name := labelOr(s.Labels, "name", "unknown")
		spawn := labelOr(s.Labels, "spawn_id", "unknown")
		n := roundU64(s.Value)
		ops.ByQuery[name] += n
		ops.BySpawn[spawn] += n
	}
	return ops
}

func labelOr(labels map[string]string, key, def string) string {
	if v, ok := labels[key]; ok {
		return v
	}
	return def
}

func spawnStats(bySpawn map[string]uint64) SpawnStats {
	if len(bySpawn) == 0 {
		return SpawnStats{}
	}
	values := make([]uint64, 0, len(bySpawn))
	var total uint64
	for _, n := range bySpawn {
		values = append(values, n)
		total += n
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	st := SpawnStats{
		Min: values[0],
		Max: values[len(values)-1],
		P50: quantileU64(values, 0.50),
		P95: quantileU64(values, 0.95),
	}
	if st.Min > 0 {
		st.MaxMinRatio = float64(st.Max) / float64(st.Min)
	}
	mean := float64(total) / float64(len(values))
	if len(values) > 1 && mean > 0 {
		var sq float64
		for _, n := range values {
			d := float64(n) - mean
			sq += d * d
		}
		st.CV = math.Sqrt(sq/float64(len(values))) / mean
	}
	return st
}

func quantileU64(sorted []uint64, q float64) uint64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	i := int(math.Round(float64(len(sorted)-1) * q))
	return sorted[min(i, len(sorted)-1)]
}

// queryPercentilesMs reads <vendor>_query_latency_pct_us{query,pct} into
// P10..P99 milliseconds per query. Queries with only zeros are dropped.
func queryPercentilesMs(idx *MetricsIndex, v bench.Vendor) map[string][]float64 {
	byQuery := map[string]map[string]float64{}
	for _, s := range idx.Samples(v.MetricPrefix() + "_query_latency_pct_us") {
		q, ok1 := s.Labels["query"]
		pct, ok2 := s.Labels["pct"]
		if !ok1 || !ok2 {
			continue
		}
		if byQuery[q] == nil {
			byQuery[q] = map[string]float64{}
		}
		byQuery[q][pct] = s.Value
	}
	out := map[string][]float64{}
	for q, pcts := range byQuery {
		arr := make([]float64, len(histogramPercentiles))
		nonZero := false
		for i, p := range histogramPercentiles {
			arr[i] = pcts[strconv.Itoa(p)] / 1000
			nonZero = nonZero || arr[i] > 0
		}
		if nonZero {
			out[q] = arr
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func roundU64(f float64) uint64 {
	if math.IsNaN(f) || f <= 0 {
		return 0
	}
	return uint64(math.Round(f))
}

// MakeSummary builds a summary over the given vendors, in order.
func MakeSummary(vendors ...VendorArtifacts) (Summary, error) {
	s := Summary{Runs: []Run{}, Unrealstic: []json.RawMessage{}, Platforms: []json.RawMessage{}}
	for _, a := range vendors {
		run, err := BuildRun(a)
		if err != nil {
			return Summary{}, fmt.Errorf("build %s run: %w", a.Vendor, err)
		}
		s.Runs = append(s.Runs, run)
	}
	return s, nil
}

// WriteSummary writes s as indented JSON.
func WriteSummary(path string, s Summary) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode summary: %v", bench.ErrOther, err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", bench.ErrIO, path, err)
	}
	return nil
}

// SummaryFile names the comparison of v against the falkordb baseline.
func SummaryFile(v bench.Vendor) string { return v.String() + "_vs_falkordb.json" }

// AggregateResults writes one comparison per optional vendor found in
// resultsDir. The falkordb run is required; it returns the files written.
func AggregateResults(resultsDir, outDir string) ([]string, error) {
	if st, err := os.Stat(resultsDir); err != nil || !st.IsDir() {
		return nil, fmt.Errorf("%w: results dir %s does not exist", bench.ErrIO, resultsDir)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", bench.ErrIO, outDir, err)
	}
	baseline, err := LoadVendor(resultsDir, bench.Falkor)
	if err != nil {
		return nil, fmt.Errorf("baseline vendor: %w", err)
	}

	var written []string
	for _, v := range []bench.Vendor{bench.Neo4j, bench.Memgraph} {
		other, err := LoadVendor(resultsDir, v)
		if err != nil {
			slog.Info("Skipping vendor without results", "vendor", v, "error", err)
			continue
		}
		summary, err := MakeSummary(baseline, other)
		if err != nil {
			return written, err
		}
		path := filepath.Join(outDir, SummaryFile(v))
		if err := WriteSummary(path, summary); err != nil {
			return written, err
		}
		slog.Info("Wrote comparison summary", "path", path)
		written = append(written, path)
	}
	return written, nil
}
