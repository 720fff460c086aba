package process

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/loykin/graphbench/internal/bench"
)

// ErrWait is returned by Wait when the exit status could not be collected.
var ErrWait = errors.New("wait for process failed")

// pollInterval is used when the exit has to be detected by probing.
var pollInterval = 100 * time.Millisecond

// Process is one spawned instance of a Spec. It is not restarted; a
// supervisor replaces the whole Process on respawn.
type Process struct {
	spec      Spec
	mu        sync.Mutex
	cmd       *exec.Cmd
	status    Status
	waited    bool
	outCloser io.WriteCloser
	errCloser io.WriteCloser
}

func New(spec Spec) *Process { return &Process{spec: spec} }

// Spec returns the spec the process was created with.
func (r *Process) Spec() Spec { return r.spec }

// configureCmd builds the command with workdir, environment, output and
// process group attributes.
func (r *Process) configureCmd() (*exec.Cmd, error) {
	spec := r.spec
	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(spec.Env) > 0 {
		cmd.Env = spec.Env
	}
	configureSysProcAttr(cmd, spec)

	if spec.Log.File.Dir != "" {
		if err := os.MkdirAll(spec.Log.File.Dir, 0o750); err != nil {
			return nil, err
		}
	}
	outW, errW, err := spec.Log.ProcessWriters(spec.Name)
	if err != nil {
		return nil, err
	}
	r.outCloser, r.errCloser = outW, errW
	if outW != nil {
		cmd.Stdout = outW
	}
	if errW != nil {
		cmd.Stderr = errW
	}
	return cmd, nil
}

// Start spawns the process. Failures wrap bench.ErrSpawn.
func (r *Process) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd != nil {
		return fmt.Errorf("%w: %s already started", bench.ErrSpawn, r.spec.Name)
	}
	cmd, err := r.configureCmd()
	if err != nil {
		r.closeWritersLocked()
		return fmt.Errorf("%w: %s: %v", bench.ErrSpawn, r.spec.Name, err)
	}
	if err := cmd.Start(); err != nil {
		r.closeWritersLocked()
		return fmt.Errorf("%w: %s: %v", bench.ErrSpawn, r.spec.Name, err)
	}
	r.cmd = cmd
	r.status = Status{Name: r.spec.Name, Running: true, PID: cmd.Process.Pid, StartedAt: time.Now()}
	return nil
}

// Wait blocks until the process exits. It must have a single caller at a
// time. When the exit status cannot be collected ErrWait is returned and a
// later call falls back to probing the pid until it disappears.
func (r *Process) Wait() error {
	r.mu.Lock()
	cmd := r.cmd
	waited := r.waited
	r.waited = true
	r.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return fmt.Errorf("%w: not started", ErrWait)
	}

	if !waited {
		err := cmd.Wait()
		if cmd.ProcessState == nil {
			return fmt.Errorf("%w: %v", ErrWait, err)
		}
		r.markExited(err)
		return err
	}

	pid := cmd.Process.Pid
	for Alive(pid) {
		time.Sleep(pollInterval)
	}
	r.markExited(nil)
	return nil
}

// Signal sends sig to the process group of the child.
func (r *Process) Signal(sig syscall.Signal) error {
	pid := r.PID()
	if pid <= 0 {
		return nil
	}
	return killProcess(-pid, sig)
}

// PID returns the pid of the child, 0 before Start.
func (r *Process) PID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status.PID
}

// Snapshot returns a copy of the current status.
func (r *Process) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Process) markExited(err error) {
	r.mu.Lock()
	r.status.Running = false
	r.status.StoppedAt = time.Now()
	r.status.ExitErr = err
	r.closeWritersLocked()
	r.mu.Unlock()
}

func (r *Process) closeWritersLocked() {
	if r.outCloser != nil {
		_ = r.outCloser.Close()
		r.outCloser = nil
	}
	if r.errCloser != nil {
		_ = r.errCloser.Close()
		r.errCloser = nil
	}
}

// Alive reports whether pid exists and is not a zombie.
func Alive(pid int) bool {
	if pid <= 0 || !processExists(pid) {
		return false
	}
	if runtime.GOOS == "linux" && isZombieLinux(pid) {
		return false
	}
	return true
}

// isZombieLinux returns true if /proc/<pid>/status reports a zombie state (Z) on Linux.
func isZombieLinux(pid int) bool {
	path := "/proc/" + strconv.Itoa(pid) + "/status"
	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}
