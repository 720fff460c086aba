package backend

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/hashicorp/go-multierror"

	"github.com/loykin/graphbench/internal/bench"
	"github.com/loykin/graphbench/internal/logger"
	"github.com/loykin/graphbench/internal/metrics"
	"github.com/loykin/graphbench/internal/process"
	"github.com/loykin/graphbench/internal/supervisor"
)

// FalkorConfig configures a supervised redis-server with the FalkorDB module.
type FalkorConfig struct {
	Command          string
	ModulePath       string
	DataDir          string
	LogFile          string
	CacheSize        int
	MaxQueuedQueries int
	Addr             string
	Graph            string
	BackupDir        string
	// Env is the child environment, KEY=VALUE entries.
	Env []string

	// QueryTimeout bounds a single workload query on the socket.
	QueryTimeout time.Duration

	Grace            time.Duration
	RestartBackoff   time.Duration
	WaitErrorBackoff time.Duration
	ReportInterval   time.Duration

	ReadyAttempts uint
	ReadyDelay    time.Duration

	Log logger.Config
}

// DefaultFalkorConfig returns the settings used by the benchmark runs.
func DefaultFalkorConfig() FalkorConfig {
	return FalkorConfig{
		Command:          "redis-server",
		DataDir:          "./redis-data",
		LogFile:          "falkordb.log",
		CacheSize:        40,
		MaxQueuedQueries: 400,
		Addr:             "127.0.0.1:6379",
		Graph:            "falkor",
		QueryTimeout:     DefaultQueryTimeout,
		Grace:            5 * time.Second,
		RestartBackoff:   supervisor.DefaultRestartBackoff,
		WaitErrorBackoff: supervisor.DefaultWaitErrorBackoff,
		ReportInterval:   5 * time.Second,
		ReadyAttempts:    10,
		ReadyDelay:       500 * time.Millisecond,
	}
}

// ModuleFile resolves the module path: the configured path, then
// FALKOR_PATH, then falkordb.so in the working directory.
func (c FalkorConfig) ModuleFile() string {
	if c.ModulePath != "" {
		return c.ModulePath
	}
	if p := os.Getenv("FALKOR_PATH"); p != "" {
		return p
	}
	wd, err := os.Getwd()
	if err != nil {
		return "falkordb.so"
	}
	return filepath.Join(wd, "falkordb.so")
}

// Args returns the redis-server argument vector.
func (c FalkorConfig) Args() []string {
	return []string{
		"--dir", c.DataDir,
		"--logfile", c.LogFile,
		"--protected-mode", "no",
		"--loadmodule", c.ModuleFile(),
		"CACHE_SIZE", strconv.Itoa(c.CacheSize),
		"MAX_QUEUED_QUERIES", strconv.Itoa(c.MaxQueuedQueries),
	}
}

// Falkor is a supervised FalkorDB server plus its metric reporters.
type Falkor struct {
	cfg     FalkorConfig
	metrics *metrics.VendorMetrics

	mu      sync.Mutex
	sup     *supervisor.Supervisor
	client  *RedisClient
	stopped bool
}

// NewFalkor returns an unstarted Falkor backend.
func NewFalkor(cfg FalkorConfig) *Falkor {
	return &Falkor{cfg: cfg, metrics: metrics.For(bench.Falkor)}
}

// SetMetrics directs the restart counter and reporters to vm. Call it before
// Start.
func (f *Falkor) SetMetrics(vm *metrics.VendorMetrics) {
	f.mu.Lock()
	f.metrics = vm
	f.mu.Unlock()
}

func (f *Falkor) Vendor() bench.Vendor { return bench.Falkor }

// Config returns the effective configuration.
func (f *Falkor) Config() FalkorConfig { return f.cfg }

// Start spawns redis-server, waits for PING and starts the reporters.
func (f *Falkor) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.sup != nil || f.stopped {
		f.mu.Unlock()
		return fmt.Errorf("falkor backend already started")
	}
	if err := os.MkdirAll(f.cfg.DataDir, 0o750); err != nil {
		f.mu.Unlock()
		return fmt.Errorf("%w: %v", bench.ErrIO, err)
	}
	sup := supervisor.New(supervisor.Config{
		Spec: process.Spec{
			Name: "falkordb",
			Path: f.cfg.Command,
			Args: f.cfg.Args(),
			Env:  f.cfg.Env,
			Log:  f.cfg.Log,
		},
		Grace:            f.cfg.Grace,
		RestartBackoff:   f.cfg.RestartBackoff,
		WaitErrorBackoff: f.cfg.WaitErrorBackoff,
		OnRestart:        f.metrics.IncRestart,
	})
	f.sup = sup
	f.client = NewRedisClient(f.cfg.Addr, f.cfg.Graph, f.cfg.QueryTimeout)
	f.mu.Unlock()

	if err := sup.Start(ctx); err != nil {
		return err
	}
	if err := WaitReady(ctx, f.client, f.cfg.ReadyAttempts, f.cfg.ReadyDelay); err != nil {
		return multierror.Append(err, f.Stop()).ErrorOrNil()
	}
	slog.Info("FalkorDB ready", "addr", f.cfg.Addr, "pid", sup.PID())

	sup.Every(ctx, "falkor-requests", f.cfg.ReportInterval, f.reportRequests)
	sup.Every(ctx, "falkor-graph-size", f.cfg.ReportInterval, f.reportGraphSize)
	return nil
}

func (f *Falkor) reportRequests(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, AdminTimeout)
	defer cancel()
	running, waiting, err := f.client.Info(cctx)
	if err != nil {
		return err
	}
	f.metrics.SetRequests(running, waiting)
	return nil
}

func (f *Falkor) reportGraphSize(ctx context.Context) error {
	nodes, rels, err := f.GraphSize(ctx)
	if err != nil {
		return err
	}
	f.metrics.SetGraphSize(nodes, rels)

	cctx, cancel := context.WithTimeout(ctx, AdminTimeout)
	defer cancel()
	if mb, err := f.client.MemoryUsageMB(cctx); err == nil {
		f.metrics.SetGraphMemoryMB(mb)
	} else {
		slog.Debug("Graph memory usage unavailable", "error", err)
	}
	return nil
}

// GraphSize counts nodes and relationships of the graph.
func (f *Falkor) GraphSize(ctx context.Context) (int64, int64, error) {
	client := f.Client()
	if client == nil {
		return 0, 0, fmt.Errorf("%w: backend not started", bench.ErrBackend)
	}
	return graphSize(ctx, client)
}

func graphSize(ctx context.Context, client *RedisClient) (int64, int64, error) {
	cctx, cancel := context.WithTimeout(ctx, AdminTimeout)
	defer cancel()
	nodes, err := client.Count(cctx, NodeCountQuery)
	if err != nil {
		return 0, 0, err
	}
	rels, err := client.Count(cctx, RelationshipCountQuery)
	if err != nil {
		return 0, 0, err
	}
	return nodes, rels, nil
}

// RestoreDB copies the dataset dump.rdb into the data directory.
func (f *Falkor) RestoreDB(ds bench.Dataset) error {
	if f.cfg.BackupDir == "" {
		return fmt.Errorf("%w: no backup dir configured", bench.ErrIO)
	}
	src := filepath.Join(ds.BackupPath(f.cfg.BackupDir, bench.Falkor), "dump.rdb")
	dst := filepath.Join(f.cfg.DataDir, "dump.rdb")
	slog.Info("Restoring database", "from", src, "to", dst)
	return copyFile(src, dst)
}

// Client returns the query client; nil before Start.
func (f *Falkor) Client() *RedisClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.client
}

// PID returns the pid of the running redis-server.
func (f *Falkor) PID() int {
	f.mu.Lock()
	sup := f.sup
	f.mu.Unlock()
	if sup == nil {
		return 0
	}
	return sup.PID()
}

// Restarts returns how many times the server was restarted.
func (f *Falkor) Restarts() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sup == nil {
		return 0
	}
	return f.sup.Restarts()
}

// Stop stops the reporters and the server and closes the client.
func (f *Falkor) Stop() error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.stopped = true
	sup, client := f.sup, f.client
	f.mu.Unlock()

	var result *multierror.Error
	if sup != nil {
		if err := sup.Stop(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if client != nil {
		if err := client.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// WaitReady pings client until it answers, attempts times delay apart.
func WaitReady(ctx context.Context, client *RedisClient, attempts uint, delay time.Duration) error {
	if attempts == 0 {
		attempts = 10
	}
	err := retry.Do(
		func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cctx, cancel := context.WithTimeout(ctx, AdminTimeout)
			defer cancel()
			return client.Ping(cctx)
		},
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return ctx.Err() == nil }),
		retry.OnRetry(func(n uint, err error) {
			slog.Debug("Backend not ready", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("%w: backend not ready after %d attempts: %v", bench.ErrBackend, attempts, err)
	}
	return nil
}
