// Package telemetry follows the server telemetry stream and publishes
// running per-query averages of wait, execution and report time.
package telemetry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loykin/graphbench/internal/bench"
	"github.com/loykin/graphbench/internal/metrics"
)

// Defaults of the collector loop.
const (
	DefaultBlock         = time.Second
	DefaultFlushInterval = 5 * time.Second
	DefaultErrorBackoff  = time.Second
)

// Averages are the running means of one query, in microseconds.
type Averages struct {
	Count  uint64
	Writes uint64
	Total  float64
	Wait   float64
	Exec   float64
	Report float64
}

type sums struct {
	count, writes             uint64
	total, wait, exec, report float64
}

func (s *sums) averages() Averages {
	if s.count == 0 {
		return Averages{}
	}
	n := float64(s.count)
	return Averages{
		Count:  s.count,
		Writes: s.writes,
		Total:  s.total / n,
		Wait:   s.wait / n,
		Exec:   s.exec / n,
		Report: s.report / n,
	}
}

// Config configures a Collector.
type Config struct {
	Reader StreamReader
	// Names maps normalized query text to a query name.
	Names         map[string]string
	Metrics       *metrics.VendorMetrics
	Block         time.Duration
	FlushInterval time.Duration
	ErrorBackoff  time.Duration
}

// Collector accumulates telemetry per query. Sums are never reset.
type Collector struct {
	cfg Config

	mu    sync.Mutex
	stats map[string]*sums
}

// New returns a collector; Metrics defaults to the falkordb set.
func New(cfg Config) *Collector {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.For(bench.Falkor)
	}
	if cfg.Block <= 0 {
		cfg.Block = DefaultBlock
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = DefaultErrorBackoff
	}
	return &Collector{cfg: cfg, stats: map[string]*sums{}}
}

// Run reads the stream from "$" until ctx is cancelled. Read errors are
// logged and retried after a pause. It flushes once more before returning.
func (c *Collector) Run(ctx context.Context) error {
	lastID := "$"
	lastFlush := time.Now()
	defer c.Flush()
	for {
		if ctx.Err() != nil {
			return nil
		}
		entries, err := c.cfg.Reader.Read(ctx, lastID, c.cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("Telemetry read failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.cfg.ErrorBackoff):
			}
			continue
		}
		for _, e := range entries {
			lastID = e.ID
			rec, err := ParseRecord(e.Values)
			if err != nil {
				slog.Debug("Skipping telemetry entry", "id", e.ID, "error", err)
				continue
			}
			c.Add(rec)
		}
		if time.Since(lastFlush) >= c.cfg.FlushInterval {
			c.Flush()
			lastFlush = time.Now()
		}
	}
}

// Add accumulates one record under its query name.
func (c *Collector) Add(r Record) {
	name := c.name(r.Query)
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.stats[name]
	if !ok {
		s = &sums{}
		c.stats[name] = s
	}
	s.count++
	if r.Write {
		s.writes++
	}
	s.total += r.Total
	s.wait += r.Wait
	s.exec += r.Exec
	s.report += r.Report
}

func (c *Collector) name(query string) string {
	norm := bench.NormalizeQuery(query)
	if n, ok := c.cfg.Names[norm]; ok {
		return n
	}
	return norm
}

// Flush publishes the current averages of every query.
func (c *Collector) Flush() {
	for name, avg := range c.Snapshot() {
		c.cfg.Metrics.SetTelemetry(name, avg.Wait, avg.Exec, avg.Report)
	}
}

// Snapshot returns the current averages by query name.
func (c *Collector) Snapshot() map[string]Averages {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Averages, len(c.stats))
	for k, s := range c.stats {
		out[k] = s.averages()
	}
	return out
}

// Queries returns the query names seen so far, sorted.
func (c *Collector) Queries() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.stats))
	for k := range c.stats {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
