package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/graphbench/internal/bench"
)

// ProcessMetrics holds CPU and memory metrics for a single backend process
type ProcessMetrics struct {
	PID        int32     `json:"pid"`
	Vendor     string    `json:"vendor"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryKiB  uint64    `json:"memory_kib"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// ProcessMetricsConfig holds configuration for process metrics collection
type ProcessMetricsConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// ProcessCollector samples backend process and host usage on an interval and
// publishes it through the vendor gauges.
type ProcessCollector struct {
	enabled  bool
	interval time.Duration

	mu    sync.RWMutex
	procs map[int32]*process.Process
	last  map[bench.Vendor]ProcessMetrics
	sinks map[bench.Vendor]*VendorMetrics

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewProcessCollector creates a new process metrics collector
func NewProcessCollector(config ProcessMetricsConfig) *ProcessCollector {
	interval := config.Interval
	if interval == 0 {
		interval = 5 * time.Second // default
	}
	return &ProcessCollector{
		enabled:  config.Enabled,
		interval: interval,
		procs:    make(map[int32]*process.Process),
		last:     make(map[bench.Vendor]ProcessMetrics),
		sinks:    make(map[bench.Vendor]*VendorMetrics),
		stopCh:   make(chan struct{}),
	}
}

// ReportTo publishes samples of vm's vendor to vm instead of the shared set.
func (c *ProcessCollector) ReportTo(vm *VendorMetrics) {
	c.mu.Lock()
	c.sinks[vm.Vendor()] = vm
	c.mu.Unlock()
}

func (c *ProcessCollector) sink(v bench.Vendor) *VendorMetrics {
	c.mu.RLock()
	vm, ok := c.sinks[v]
	c.mu.RUnlock()
	if ok {
		return vm
	}
	return For(v)
}

// Start begins the periodic collection. getPIDs is called on every tick so
// restarted backends are picked up with their new pid.
func (c *ProcessCollector) Start(ctx context.Context, getPIDs func() map[bench.Vendor]int32) {
	if !c.enabled {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.Collect(getPIDs())
			}
		}
	}()
}

// Stop stops the metrics collection
func (c *ProcessCollector) Stop() {
	if !c.enabled {
		return
	}
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}

// Collect takes one sample of every given process plus the host.
func (c *ProcessCollector) Collect(pids map[bench.Vendor]int32) {
	now := time.Now()
	for v, pid := range pids {
		if pid <= 0 {
			continue
		}
		pm, err := c.sample(v, pid, now)
		if err != nil {
			slog.Debug("Failed to collect metrics for process", "vendor", v, "pid", pid, "error", err)
			continue
		}
		c.sink(v).SetProcessUsage(pm.CPUPercent, pm.MemoryKiB)
		c.mu.Lock()
		c.last[v] = pm
		c.mu.Unlock()
	}

	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			slog.Debug("Failed to read host memory", "error", err)
		} else {
			SetSystemUsage(pcts[0], vm.Used/1024)
		}
	} else if err != nil {
		slog.Debug("Failed to read host cpu", "error", err)
	}
}

// Last returns the most recent sample per vendor.
func (c *ProcessCollector) Last() map[bench.Vendor]ProcessMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[bench.Vendor]ProcessMetrics, len(c.last))
	for k, v := range c.last {
		out[k] = v
	}
	return out
}

func (c *ProcessCollector) sample(v bench.Vendor, pid int32, ts time.Time) (ProcessMetrics, error) {
	proc, err := c.handle(pid)
	if err != nil {
		return ProcessMetrics{}, fmt.Errorf("failed to create process handle: %w", err)
	}

	// CPUPercent is relative to the previous call on the same handle.
	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		slog.Debug("Failed to get CPU percent", "vendor", v, "pid", pid, "error", err)
		cpuPercent = 0
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		c.forget(pid)
		return ProcessMetrics{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	numThreads, err := proc.NumThreads()
	if err != nil {
		numThreads = 0
	}
	return ProcessMetrics{
		PID:        pid,
		Vendor:     v.String(),
		CPUPercent: cpuPercent,
		MemoryKiB:  memInfo.RSS / 1024,
		NumThreads: numThreads,
		Timestamp:  ts,
	}, nil
}

func (c *ProcessCollector) handle(pid int32) (*process.Process, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.procs[pid]; ok {
		return p, nil
	}
	p, err := process.NewProcess(pid)
	if err != nil {
		return nil, err
	}
	c.procs[pid] = p
	return p, nil
}

func (c *ProcessCollector) forget(pid int32) {
	c.mu.Lock()
	delete(c.procs, pid)
	c.mu.Unlock()
}
