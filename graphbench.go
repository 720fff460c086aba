// Package graphbench is the public facade for embedding benchmark runs.
package graphbench

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/graphbench/internal/aggregate"
	"github.com/loykin/graphbench/internal/bench"
	cfg "github.com/loykin/graphbench/internal/config"
	"github.com/loykin/graphbench/internal/history"
	"github.com/loykin/graphbench/internal/history/factory"
	"github.com/loykin/graphbench/internal/metrics"
	"github.com/loykin/graphbench/internal/runner"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Vendor = bench.Vendor

type Dataset = bench.Dataset

type PreparedQuery = bench.PreparedQuery

type Options = runner.Options

type Result = runner.Result

type Summary = aggregate.Summary

type FileConfig = cfg.FileConfig

type HistorySink = history.Sink

const (
	Falkor   = bench.Falkor
	Neo4j    = bench.Neo4j
	Memgraph = bench.Memgraph
)

// Run executes one benchmark run and writes its artifacts.
func Run(ctx context.Context, opts Options) (Result, error) {
	r, err := runner.New(opts)
	if err != nil {
		return Result{}, err
	}
	return r.Run(ctx)
}

// Aggregate writes <vendor>_vs_falkordb.json for every vendor found next to
// the falkordb baseline and returns the written paths.
func Aggregate(resultsDir, outDir string) ([]string, error) {
	return aggregate.AggregateResults(resultsDir, outDir)
}

// LoadConfig loads a TOML config with GRAPHBENCH_* overrides.
func LoadConfig(path string) (*FileConfig, error) { return cfg.Load(path) }

// ParseVendor and ParseDataset validate user input.
func ParseVendor(s string) (Vendor, error)   { return bench.ParseVendor(s) }
func ParseDataset(s string) (Dataset, error) { return bench.ParseSize(s) }

// NewHistorySinks opens a fan-out sink for the given DSNs.
func NewHistorySinks(dsns []string) (history.Fanout, error) { return factory.NewFanout(dsns) }

// RegisterMetrics registers the benchmark collectors with r.
func RegisterMetrics(r prometheus.Registerer, vendors ...Vendor) error {
	return metrics.Register(r, vendors...)
}

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler { return metrics.Handler() }
