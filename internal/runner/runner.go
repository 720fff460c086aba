// Package runner drives one benchmark run end to end and writes its
// artifacts under <results>/<vendor>/.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/graphbench/internal/aggregate"
	"github.com/loykin/graphbench/internal/backend"
	"github.com/loykin/graphbench/internal/bench"
	"github.com/loykin/graphbench/internal/collector"
	"github.com/loykin/graphbench/internal/detector"
	"github.com/loykin/graphbench/internal/history"
	"github.com/loykin/graphbench/internal/metrics"
	"github.com/loykin/graphbench/internal/scheduler"
	"github.com/loykin/graphbench/internal/server"
	"github.com/loykin/graphbench/internal/telemetry"
	"github.com/loykin/graphbench/internal/worker"
)

// Artifact file names inside the vendor results directory.
const (
	ReportFile = "report.md"
)

// Run phases reported by Status.
const (
	PhaseIdle      = "idle"
	PhaseStarting  = "starting"
	PhaseRunning   = "running"
	PhaseFinishing = "finishing"
	PhaseDone      = "done"
	PhaseFailed    = "failed"
)

// Options describe one run.
type Options struct {
	Vendor      bench.Vendor
	Dataset     bench.Dataset
	QueriesFile string
	Parallel    int
	MPS         int
	// SimulateMs > 0 replaces backend calls with a sleep of that many ms.
	SimulateMs int
	// Endpoint, when set, is an already running server; nothing is spawned.
	Endpoint   string
	ResultsDir string
	// Capacity bounds the scheduler to worker channel. 0 means 2*Parallel.
	Capacity int
	Timeout  time.Duration
	// Restore copies the dataset snapshot into the data dir before spawning.
	Restore bool
	Falkor  backend.FalkorConfig

	Telemetry      bool
	Stream         string
	FlushInterval  time.Duration
	ProcessMetrics metrics.ProcessMetricsConfig
	// Detector finds the backend pid when it is not spawned here, so its cpu
	// and memory are still sampled.
	Detector detector.Detector

	// Listen, when set, serves /metrics, /status and /report during the run.
	Listen string
	// History receives run start and finish events. It is not closed by the runner.
	History history.Sink
	// Registry exports the run's metrics. Nil means a fresh registry per run.
	// A registry reused across runs exports the latest run's set.
	Registry *prometheus.Registry
}

// Result summarises a finished run.
type Result struct {
	RunID      string
	Dir        string
	Meta       aggregate.RunMeta
	Record     history.RunRecord
	Rows       []collector.Row
	Successful uint64
	Errors     uint64
}

// Runner executes Options once. It is a server.Source while running.
type Runner struct {
	opts  Options
	runID string

	mu        sync.RWMutex
	phase     string
	startedAt time.Time
	queries   int
	mc        *collector.MetricsCollector
	vm        *metrics.VendorMetrics
	be        backend.Vendor

	scheduled atomic.Int64
}

var _ server.Source = (*Runner)(nil)

// New validates opts and returns a Runner with a fresh run id.
func New(opts Options) (*Runner, error) {
	if opts.Parallel <= 0 {
		return nil, fmt.Errorf("%w: parallel must be positive", bench.ErrOther)
	}
	if opts.MPS <= 0 {
		return nil, fmt.Errorf("%w: %d", bench.ErrInvalidRate, opts.MPS)
	}
	if opts.QueriesFile == "" {
		return nil, fmt.Errorf("%w: queries file required", bench.ErrOther)
	}
	if opts.SimulateMs <= 0 && opts.Vendor != bench.Falkor {
		return nil, fmt.Errorf("%w: %s runs need simulate_ms", backend.ErrUnsupported, opts.Vendor)
	}
	if opts.Capacity <= 0 {
		opts.Capacity = 2 * opts.Parallel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = worker.DefaultTimeout
	}
	if opts.ResultsDir == "" {
		opts.ResultsDir = "results"
	}
	return &Runner{opts: opts, runID: uuid.NewString(), phase: PhaseIdle}, nil
}

// RunID returns the id stored in history records.
func (r *Runner) RunID() string { return r.runID }

// Dir is the vendor results directory.
func (r *Runner) Dir() string { return filepath.Join(r.opts.ResultsDir, r.opts.Vendor.String()) }

func (r *Runner) registry() *prometheus.Registry {
	if r.opts.Registry != nil {
		return r.opts.Registry
	}
	return prometheus.NewRegistry()
}

func (r *Runner) setPhase(p string) {
	r.mu.Lock()
	r.phase = p
	r.mu.Unlock()
	slog.Debug("Run phase", "run_id", r.runID, "phase", p)
}

// Status implements server.Source.
func (r *Runner) Status() server.Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := server.Status{
		RunID:     r.runID,
		Vendor:    r.opts.Vendor.String(),
		Dataset:   string(r.opts.Dataset.Size),
		Phase:     r.phase,
		Queries:   r.queries,
		Scheduled: int(r.scheduled.Load()),
		StartedAt: r.startedAt,
	}
	if r.mc != nil {
		st.Completed = r.mc.Total(collector.All)
	}
	if r.be != nil {
		st.BackendPID = r.be.PID()
	}
	if f, ok := r.be.(*backend.Falkor); ok {
		st.Restarts = int(f.Restarts())
	}
	return st
}

func (r *Runner) vendorMetrics() *metrics.VendorMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.vm
}

// Collector implements server.Source.
func (r *Runner) Collector() *collector.MetricsCollector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mc
}

// Run executes the workload and writes meta.json, metrics.prom and report.md.
func (r *Runner) Run(ctx context.Context) (res Result, err error) {
	o := r.opts
	vm := metrics.NewVendorMetrics(o.Vendor)
	gatherer := r.registry()
	if err := vm.Register(gatherer); err != nil {
		return res, fmt.Errorf("register metrics: %w", err)
	}
	r.mu.Lock()
	r.vm = vm
	r.mu.Unlock()

	queries, err := bench.LoadQueries(o.QueriesFile)
	if err != nil {
		return res, err
	}
	r.mu.Lock()
	r.queries = len(queries)
	r.startedAt = time.Now()
	r.mu.Unlock()
	r.setPhase(PhaseStarting)
	defer func() {
		if err != nil {
			r.setPhase(PhaseFailed)
		}
	}()

	if o.Listen != "" {
		srv := server.NewServer(o.Listen, server.NewRouter(r, gatherer, ""))
		defer func() {
			if serr := srv.Shutdown(); serr != nil {
				slog.Warn("HTTP server shutdown failed", "error", serr)
			}
		}()
	}

	exec, nodes, rels, err := r.prepareBackend(ctx)
	if err != nil {
		return res, err
	}
	defer func() {
		if r.be == nil {
			return
		}
		if serr := r.be.Stop(); serr != nil {
			slog.Warn("Backend stop failed", "vendor", o.Vendor, "error", serr)
			err = multierror.Append(err, serr).ErrorOrNil()
		}
	}()

	mc := collector.New(collector.RunInfo{
		Vendor:        o.Vendor,
		Nodes:         nodes,
		Relationships: rels,
		Queries:       len(queries),
		MPS:           o.MPS,
	}, nil)
	r.mu.Lock()
	r.mc = mc
	r.mu.Unlock()

	pc := metrics.NewProcessCollector(o.ProcessMetrics)
	pc.ReportTo(vm)
	pc.Start(ctx, r.pids)
	defer pc.Stop()

	stopTelemetry := r.startTelemetry(ctx, queries)
	defer stopTelemetry()

	started := time.Now()
	r.record(ctx, history.EventRunStart, history.RunRecord{StartedAt: started})

	r.setPhase(PhaseRunning)
	slog.Info("Run started", "run_id", r.runID, "vendor", o.Vendor, "dataset", o.Dataset.Size,
		"queries", len(queries), "parallel", o.Parallel, "mps", o.MPS, "simulate_ms", o.SimulateMs)

	ch := make(chan scheduler.Message[bench.PreparedQuery], o.Capacity)
	pool := worker.New(worker.Config[bench.PreparedQuery]{
		Vendor:    o.Vendor,
		Workers:   o.Parallel,
		Timeout:   o.Timeout,
		Describe:  worker.Describe,
		Collector: mc,
		Metrics:   vm,
	}, exec)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := scheduler.Schedule(gctx, o.MPS, ch, r.count(slices.Values(queries)))
		slog.Debug("Scheduling done", "sent", n)
		return err
	})
	g.Go(func() error { return pool.Run(gctx, ch) })
	if err := g.Wait(); err != nil {
		return res, fmt.Errorf("run %s: %w", r.runID, err)
	}
	finished := time.Now()
	r.setPhase(PhaseFinishing)

	stopTelemetry()
	if o.ProcessMetrics.Enabled {
		pc.Collect(r.pids())
	}
	mc.Publish(vm)

	total := mc.Total(collector.All)
	failed := uint64(vm.OperationErrors())
	res = Result{
		RunID:      r.runID,
		Dir:        r.Dir(),
		Meta:       r.meta(len(queries), started, finished),
		Rows:       mc.Report(),
		Successful: total - min(failed, total),
		Errors:     failed,
	}
	res.Record = r.runRecord(res, mc, started, finished)

	if err := r.writeArtifacts(res, mc, gatherer); err != nil {
		return res, err
	}
	r.record(ctx, history.EventRunFinished, res.Record)

	r.setPhase(PhaseDone)
	slog.Info("Run finished", "run_id", r.runID, "vendor", o.Vendor, "successful", res.Successful,
		"errors", res.Errors, "elapsed", finished.Sub(started), "dir", res.Dir)
	return res, nil
}

// count wraps items so Status reports scheduling progress.
func (r *Runner) count(items iter.Seq[bench.PreparedQuery]) iter.Seq[bench.PreparedQuery] {
	return func(yield func(bench.PreparedQuery) bool) {
		for q := range items {
			if !yield(q) {
				return
			}
			r.scheduled.Add(1)
		}
	}
}

// prepareBackend picks the executor. Simulated runs use no backend; otherwise
// FalkorDB is spawned, or reached at Endpoint.
func (r *Runner) prepareBackend(ctx context.Context) (worker.Executor[bench.PreparedQuery], uint64, uint64, error) {
	o := r.opts
	if o.SimulateMs > 0 {
		return worker.Simulate(time.Duration(o.SimulateMs) * time.Millisecond), o.Dataset.Vertices, o.Dataset.Edges, nil
	}

	var be backend.Vendor
	if o.Endpoint != "" {
		be = backend.NewExternal(o.Endpoint, o.Falkor.Graph, o.Timeout)
	} else {
		fc := o.Falkor
		fc.QueryTimeout = o.Timeout
		f := backend.NewFalkor(fc)
		f.SetMetrics(r.vendorMetrics())
		be = f
	}
	if o.Restore {
		if err := be.RestoreDB(o.Dataset); err != nil {
			return nil, 0, 0, err
		}
	}
	if err := be.Start(ctx); err != nil {
		_ = be.Stop()
		return nil, 0, 0, err
	}
	r.mu.Lock()
	r.be = be
	r.mu.Unlock()

	nodes, rels := o.Dataset.Vertices, o.Dataset.Edges
	sctx, cancel := context.WithTimeout(ctx, backend.AdminTimeout)
	n, e, err := be.GraphSize(sctx)
	cancel()
	if err != nil {
		slog.Warn("Graph size unavailable, using dataset sizes", "error", err)
	} else {
		nodes, rels = uint64(n), uint64(e)
	}
	return backend.NewExecutor(be.Client()), nodes, rels, nil
}

func (r *Runner) pids() map[bench.Vendor]int32 {
	var pid int
	r.mu.RLock()
	if r.be != nil {
		pid = r.be.PID()
	}
	r.mu.RUnlock()
	if pid <= 0 && r.opts.Detector != nil {
		ctx, cancel := context.WithTimeout(context.Background(), backend.AdminTimeout)
		p, err := r.opts.Detector.PID(ctx)
		cancel()
		if err != nil {
			slog.Debug("Backend pid not detected", "detector", r.opts.Detector.Describe(), "error", err)
		}
		pid = p
	}
	if pid <= 0 {
		return nil
	}
	return map[bench.Vendor]int32{r.opts.Vendor: int32(pid)}
}

// startTelemetry runs the stream collector on its own connection. The returned
// function stops it and may be called more than once.
func (r *Runner) startTelemetry(ctx context.Context, queries []bench.PreparedQuery) func() {
	o := r.opts
	if !o.Telemetry || o.SimulateMs > 0 || o.Vendor != bench.Falkor {
		return func() {}
	}
	addr := o.Endpoint
	if addr == "" {
		addr = o.Falkor.Addr
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DialTimeout: backend.AdminTimeout})
	tc := telemetry.New(telemetry.Config{
		Reader:        telemetry.NewRedisReader(rdb, o.Stream),
		Names:         bench.QueryNames(queries),
		Metrics:       r.vendorMetrics(),
		FlushInterval: o.FlushInterval,
	})
	tctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := tc.Run(tctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("Telemetry collector stopped", "error", err)
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
			_ = rdb.Close()
		})
	}
}

func (r *Runner) meta(queries int, started, finished time.Time) aggregate.RunMeta {
	o := r.opts
	m := aggregate.RunMeta{
		Vendor:              o.Vendor.String(),
		Dataset:             string(o.Dataset.Size),
		QueriesFile:         o.QueriesFile,
		QueriesCount:        uint64(queries),
		Parallel:            uint64(o.Parallel),
		MPS:                 uint64(o.MPS),
		StartedAtEpochSecs:  uint64(started.Unix()),
		FinishedAtEpochSecs: uint64(finished.Unix()),
		ElapsedMs:           uint64(finished.Sub(started).Milliseconds()),
	}
	if o.SimulateMs > 0 {
		s := uint64(o.SimulateMs)
		m.SimulateMs = &s
	}
	if o.Endpoint != "" {
		e := o.Endpoint
		m.Endpoint = &e
	}
	return m
}

func (r *Runner) runRecord(res Result, mc *collector.MetricsCollector, started, finished time.Time) history.RunRecord {
	m := res.Meta
	rec := history.RunRecord{
		RunID:       r.runID,
		Vendor:      m.Vendor,
		Dataset:     m.Dataset,
		QueriesFile: m.QueriesFile,
		Queries:     m.QueriesCount,
		Parallel:    m.Parallel,
		MPS:         m.MPS,
		StartedAt:   started.UTC(),
		FinishedAt:  finished.UTC(),
		ElapsedMs:   m.ElapsedMs,
		Successful:  res.Successful,
		Errors:      res.Errors,
		P50Ms:       ms(mc.Percentile(collector.All, 0.50)),
		P95Ms:       ms(mc.Percentile(collector.All, 0.95)),
		P99Ms:       ms(mc.Percentile(collector.All, 0.99)),
		Platform:    aggregate.Platform(),
	}
	if m.SimulateMs != nil {
		rec.SimulateMs = *m.SimulateMs
	}
	if m.Endpoint != nil {
		rec.Endpoint = *m.Endpoint
	}
	if secs := finished.Sub(started).Seconds(); secs > 0 {
		rec.ActualMPS = float64(res.Successful) / secs
	}
	if f, ok := r.be.(*backend.Falkor); ok {
		rec.Restarts = f.Restarts()
	}
	return rec
}

func (r *Runner) writeArtifacts(res Result, mc *collector.MetricsCollector, g prometheus.Gatherer) error {
	if err := os.MkdirAll(res.Dir, 0o750); err != nil {
		return fmt.Errorf("%w: %v", bench.ErrIO, err)
	}
	b, err := json.MarshalIndent(res.Meta, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode meta: %v", bench.ErrOther, err)
	}
	if err := os.WriteFile(filepath.Join(res.Dir, aggregate.MetaFile), b, 0o644); err != nil {
		return fmt.Errorf("%w: %v", bench.ErrIO, err)
	}
	if err := metrics.WriteTextfile(filepath.Join(res.Dir, aggregate.MetricsFile), g); err != nil {
		return fmt.Errorf("%w: write metrics: %v", bench.ErrIO, err)
	}
	if err := os.WriteFile(filepath.Join(res.Dir, ReportFile), []byte(mc.Markdown()), 0o644); err != nil {
		return fmt.Errorf("%w: %v", bench.ErrIO, err)
	}
	return nil
}

// record sends a history event. Export failures never fail the run.
func (r *Runner) record(ctx context.Context, typ history.EventType, rec history.RunRecord) {
	if r.opts.History == nil {
		return
	}
	if rec.RunID == "" {
		rec.RunID = r.runID
		rec.Vendor = r.opts.Vendor.String()
		rec.Dataset = string(r.opts.Dataset.Size)
		rec.QueriesFile = r.opts.QueriesFile
		rec.Parallel = uint64(r.opts.Parallel)
		rec.MPS = uint64(r.opts.MPS)
		rec.Platform = aggregate.Platform()
	}
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backend.AdminTimeout)
	defer cancel()
	e := history.Event{Type: typ, OccurredAt: time.Now().UTC(), Record: rec}
	if err := r.opts.History.Send(hctx, e); err != nil {
		slog.Warn("History export failed", "run_id", r.runID, "event", typ, "error", err)
	}
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
