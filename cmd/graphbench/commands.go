package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-redis/redis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/graphbench/internal/aggregate"
	"github.com/loykin/graphbench/internal/backend"
	"github.com/loykin/graphbench/internal/bench"
	"github.com/loykin/graphbench/internal/collector"
	"github.com/loykin/graphbench/internal/config"
	"github.com/loykin/graphbench/internal/detector"
	"github.com/loykin/graphbench/internal/history/factory"
	"github.com/loykin/graphbench/internal/logger"
	"github.com/loykin/graphbench/internal/metrics"
	"github.com/loykin/graphbench/internal/runner"
	"github.com/loykin/graphbench/internal/server"
	"github.com/loykin/graphbench/internal/telemetry"
)

type command struct {
	global *GlobalFlags
}

// runFlagKeys maps run flags to config keys; set flags override the file.
var runFlagKeys = map[string]string{
	"vendor":       "run.vendor",
	"dataset":      "run.dataset",
	"queries-file": "run.queries_file",
	"parallel":     "run.parallel",
	"mps":          "run.mps",
	"simulate-ms":  "run.simulate_ms",
	"endpoint":     "run.endpoint",
	"results-dir":  "run.results_dir",
	"capacity":     "run.capacity",
	"timeout":      "run.timeout",
	"restore":      "run.restore",
	"listen":       "metrics.listen",
}

// loadConfig reads --config and applies the flags of cmd that map to keys.
func (c command) loadConfig(cmd *cobra.Command, keys map[string]string) (*config.FileConfig, error) {
	v := config.New()
	if cmd != nil {
		for flag, key := range keys {
			if f := cmd.Flags().Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}
	fc, err := config.LoadWith(v, c.global.ConfigPath)
	if err != nil {
		return nil, err
	}
	if c.global.LogLevel != "" {
		fc.Log.Level = c.global.LogLevel
	}
	return fc, nil
}

// setupLogging installs the default logger; the closer releases a log file.
func setupLogging(fc *config.FileConfig) (io.Closer, error) {
	_, closer, err := logger.Setup(fc.Logger())
	return closer, err
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func falkorConfig(fc *config.FileConfig) (backend.FalkorConfig, error) {
	cfg := fc.Falkor()
	if len(fc.Env) > 0 || len(fc.EnvFiles) > 0 {
		env, err := fc.GlobalEnv()
		if err != nil {
			return cfg, err
		}
		cfg.Env = env
	}
	return cfg, nil
}

// Run executes one benchmark run.
func (c command) Run(cmd *cobra.Command, f RunFlags) error {
	fc, err := c.loadConfig(cmd, runFlagKeys)
	if err != nil {
		return err
	}
	closer, err := setupLogging(fc)
	if err != nil {
		return err
	}
	defer closeQuietly(closer)

	falkor, err := falkorConfig(fc)
	if err != nil {
		return err
	}
	opts := runner.Options{
		Vendor:         fc.Vendor(),
		Dataset:        fc.Dataset(),
		QueriesFile:    fc.Run.QueriesFile,
		Parallel:       fc.Run.Parallel,
		MPS:            fc.Run.MPS,
		SimulateMs:     fc.Run.SimulateMs,
		Endpoint:       fc.Run.Endpoint,
		ResultsDir:     fc.Run.ResultsDir,
		Capacity:       fc.Run.Capacity,
		Timeout:        fc.Run.Timeout,
		Restore:        fc.Run.Restore,
		Falkor:         falkor,
		Telemetry:      fc.Telemetry.Enabled,
		Stream:         fc.Telemetry.Stream,
		FlushInterval:  fc.Telemetry.FlushInterval,
		ProcessMetrics: fc.ProcessMetrics(),
		Detector:       detector.New(f.PID, f.PIDFile, f.PIDMatch),
		Listen:         fc.Metrics.Listen,
	}
	if fc.History.Enabled && len(fc.History.DSNs) > 0 {
		sinks, err := factory.NewFanout(fc.History.DSNs)
		if err != nil {
			return fmt.Errorf("history sinks: %w", err)
		}
		defer closeQuietly(sinks)
		opts.History = sinks
	}

	r, err := runner.New(opts)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	res, err := r.Run(ctx)
	if err != nil {
		return err
	}
	printRows(res.Rows)
	fmt.Printf("run %s: %d ok, %d failed, results in %s\n", res.RunID, res.Successful, res.Errors, res.Dir)
	return nil
}

// Aggregate writes the comparison summaries.
func (c command) Aggregate(f AggregateFlags) error {
	fc, err := c.loadConfig(nil, nil)
	if err != nil {
		return err
	}
	closer, err := setupLogging(fc)
	if err != nil {
		return err
	}
	defer closeQuietly(closer)

	out := f.OutDir
	if out == "" {
		out = f.ResultsDir
	}
	files, err := aggregate.AggregateResults(f.ResultsDir, out)
	if err != nil {
		return err
	}
	for _, p := range files {
		fmt.Println(p)
	}
	return nil
}

// Supervise keeps FalkorDB running until interrupted.
func (c command) Supervise(f SuperviseFlags) error {
	fc, err := c.loadConfig(nil, nil)
	if err != nil {
		return err
	}
	closer, err := setupLogging(fc)
	if err != nil {
		return err
	}
	defer closeQuietly(closer)
	if err := metrics.Register(prometheus.DefaultRegisterer, bench.Falkor); err != nil {
		return err
	}

	cfg, err := falkorConfig(fc)
	if err != nil {
		return err
	}
	fb := backend.NewFalkor(cfg)
	if f.Dataset != "" {
		ds, err := bench.ParseSize(f.Dataset)
		if err != nil {
			return err
		}
		if err := fb.RestoreDB(ds); err != nil {
			return err
		}
	}

	ctx, cancel := signalContext()
	defer cancel()
	if err := fb.Start(ctx); err != nil {
		return err
	}
	pc := metrics.NewProcessCollector(fc.ProcessMetrics())
	pc.Start(ctx, func() map[bench.Vendor]int32 {
		return map[bench.Vendor]int32{bench.Falkor: int32(fb.PID())}
	})

	listen := f.Listen
	if listen == "" {
		listen = fc.Metrics.Listen
	}
	if listen != "" {
		srv := server.NewServer(listen, server.NewRouter(superviseSource{fb: fb, since: time.Now()}, nil, ""))
		defer func() { _ = srv.Shutdown() }()
	}

	<-ctx.Done()
	slog.Info("Stopping FalkorDB", "restarts", fb.Restarts())
	pc.Stop()
	return fb.Stop()
}

// superviseSource reports a supervised backend without a workload.
type superviseSource struct {
	fb    *backend.Falkor
	since time.Time
}

func (s superviseSource) Status() server.Status {
	return server.Status{
		Vendor:     bench.Falkor.String(),
		Phase:      "supervising",
		StartedAt:  s.since,
		BackendPID: s.fb.PID(),
		Restarts:   int(s.fb.Restarts()),
	}
}

func (s superviseSource) Collector() *collector.MetricsCollector { return nil }

// Telemetry follows the stream and prints the averages on exit.
func (c command) Telemetry(f TelemetryFlags) error {
	fc, err := c.loadConfig(nil, nil)
	if err != nil {
		return err
	}
	closer, err := setupLogging(fc)
	if err != nil {
		return err
	}
	defer closeQuietly(closer)

	addr := f.Addr
	if addr == "" {
		addr = fc.Backend.Addr
	}
	stream := f.Stream
	if stream == "" {
		stream = fc.Telemetry.Stream
	}
	var names map[string]string
	if f.QueriesFile != "" {
		qs, err := bench.LoadQueries(f.QueriesFile)
		if err != nil {
			return err
		}
		names = bench.QueryNames(qs)
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr, DialTimeout: backend.AdminTimeout})
	defer func() { _ = rdb.Close() }()
	tc := telemetry.New(telemetry.Config{
		Reader:        telemetry.NewRedisReader(rdb, stream),
		Names:         names,
		Metrics:       metrics.For(bench.Falkor),
		FlushInterval: fc.Telemetry.FlushInterval,
	})

	ctx, cancel := signalContext()
	defer cancel()
	if f.Duration > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, f.Duration)
		defer tcancel()
	}
	slog.Info("Following telemetry", "addr", addr, "stream", stream)
	if err := tc.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	printJSON(tc.Snapshot())
	return nil
}

// Report prints one vendor's run as summary JSON or as its markdown report.
func (c command) Report(f ReportFlags) error {
	v, err := bench.ParseVendor(f.Vendor)
	if err != nil {
		return err
	}
	if f.Markdown {
		b, err := os.ReadFile(filepath.Join(f.ResultsDir, v.String(), runner.ReportFile))
		if err != nil {
			return fmt.Errorf("%w: %v", bench.ErrIO, err)
		}
		fmt.Print(string(b))
		return nil
	}
	a, err := aggregate.LoadVendor(f.ResultsDir, v)
	if err != nil {
		return err
	}
	run, err := aggregate.BuildRun(a)
	if err != nil {
		return err
	}
	printJSON(run)
	return nil
}
