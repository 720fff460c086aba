// Package detector resolves the pid of a backend the harness did not spawn,
// so its cpu and memory can still be sampled.
package detector

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/graphbench/internal/bench"
)

// Detector finds the pid of a running process. It is called on every sample
// so restarted backends are picked up. A zero pid with a nil error means the
// process is not running.
type Detector interface {
	PID(ctx context.Context) (int, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// Static returns a fixed pid while it is alive.
type Static struct{ Pid int }

func (d Static) PID(ctx context.Context) (int, error) {
	if d.Pid <= 0 {
		return 0, nil
	}
	ok, err := gopsproc.PidExistsWithContext(ctx, int32(d.Pid))
	if err != nil || !ok {
		return 0, err
	}
	return d.Pid, nil
}

func (d Static) Describe() string { return fmt.Sprintf("pid:%d", d.Pid) }

// PIDFile reads the pid from the first line of a file, as written by
// redis-server, neo4j and memgraph.
type PIDFile struct{ Path string }

func (d PIDFile) PID(ctx context.Context) (int, error) {
	data, err := os.ReadFile(d.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", bench.ErrIO, err)
	}
	first, _, _ := strings.Cut(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return 0, fmt.Errorf("%w: invalid pid in %s: %v", bench.ErrParse, d.Path, err)
	}
	return Static{Pid: pid}.PID(ctx)
}

func (d PIDFile) Describe() string { return "pidfile:" + d.Path }

// Command matches a substring of the command line of running processes and
// returns the oldest match, skipping the harness itself.
type Command struct{ Match string }

func (d Command) PID(ctx context.Context) (int, error) {
	if strings.TrimSpace(d.Match) == "" {
		return 0, nil
	}
	procs, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		return 0, err
	}
	self := int32(os.Getpid())
	var (
		best    int32
		created int64
	)
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || !strings.Contains(cmdline, d.Match) {
			continue
		}
		ct, err := p.CreateTimeWithContext(ctx)
		if err != nil {
			continue
		}
		if best == 0 || ct < created {
			best, created = p.Pid, ct
		}
	}
	return int(best), nil
}

func (d Command) Describe() string { return "cmd:" + d.Match }

// New picks a detector from the first non-empty of pid, pidFile and match.
// It returns nil when none is set.
func New(pid int, pidFile, match string) Detector {
	switch {
	case pid > 0:
		return Static{Pid: pid}
	case pidFile != "":
		return PIDFile{Path: pidFile}
	case match != "":
		return Command{Match: match}
	}
	return nil
}
