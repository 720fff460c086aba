// Package supervisor keeps one external process alive: it spawns it, restarts
// it when it exits unexpectedly and terminates it gracefully on Stop.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/loykin/graphbench/internal/metrics"
	"github.com/loykin/graphbench/internal/process"
)

// Defaults used when Config leaves a duration unset.
const (
	DefaultGrace            = 5 * time.Second
	DefaultRestartBackoff   = time.Second
	DefaultWaitErrorBackoff = 5 * time.Second
)

// ErrStopped is returned by Start after Stop.
var ErrStopped = errors.New("supervisor stopped")

// Config configures a Supervisor.
type Config struct {
	Spec             process.Spec
	Grace            time.Duration
	RestartBackoff   time.Duration
	WaitErrorBackoff time.Duration
	// OnRestart is called once per unexpected exit, before the respawn.
	OnRestart func()
	// OnSpawn is called with the pid of every spawned child.
	OnSpawn func(pid int)
}

// Supervisor owns the child process and every goroutine it starts. Stop must
// be called; a finalizer only warns when it was not.
type Supervisor struct {
	cfg Config

	mu    sync.Mutex
	child *process.Process
	state State

	started   atomic.Bool
	closed    atomic.Bool
	shutting  atomic.Bool
	restarts  atomic.Int64
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	tasks     []*Task
	tasksMu   sync.Mutex
	stopErrMu sync.Mutex
	stopErr   error

	// wait collects the child exit; replaced in tests.
	wait func(*process.Process) error
}

// New creates a supervisor; nothing runs until Start.
func New(cfg Config) *Supervisor {
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.RestartBackoff <= 0 {
		cfg.RestartBackoff = DefaultRestartBackoff
	}
	if cfg.WaitErrorBackoff <= 0 {
		cfg.WaitErrorBackoff = DefaultWaitErrorBackoff
	}
	s := &Supervisor{cfg: cfg, stopCh: make(chan struct{}), wait: (*process.Process).Wait}
	runtime.SetFinalizer(s, func(s *Supervisor) {
		if s.started.Load() && !s.closed.Load() {
			slog.Warn("Supervisor garbage collected without Stop", "name", s.cfg.Spec.Name)
		}
	})
	return s
}

// Name returns the supervised process name.
func (s *Supervisor) Name() string { return s.cfg.Spec.Name }

// Start spawns the child and starts the monitor. A spawn failure is returned
// and nothing is left running.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.shutting.Load() {
		return ErrStopped
	}
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("supervisor %s already started", s.Name())
	}
	s.setState(StateSpawning)
	child, err := s.spawn()
	if err != nil {
		s.setState(StateTerminated)
		s.closed.Store(true)
		return err
	}
	s.setState(StateRunning)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.monitor(ctx, child)
	}()
	return nil
}

func (s *Supervisor) spawn() (*process.Process, error) {
	child := process.New(s.cfg.Spec)
	if err := child.Start(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.child = child
	s.mu.Unlock()
	slog.Info("Process spawned", "name", s.Name(), "pid", child.PID())
	if s.cfg.OnSpawn != nil {
		s.cfg.OnSpawn(child.PID())
	}
	return child, nil
}

// monitor races child exit against shutdown. It is the only goroutine that
// replaces the child handle after Start.
func (s *Supervisor) monitor(ctx context.Context, child *process.Process) {
	for {
		exitCh := make(chan error, 1)
		s.wg.Add(1)
		go func(p *process.Process) {
			defer s.wg.Done()
			exitCh <- s.wait(p)
		}(child)

		select {
		case <-s.stopCh:
			s.terminate(child, exitCh)
			return
		case <-ctx.Done():
			s.shutting.Store(true)
			s.terminate(child, exitCh)
			return
		case err := <-exitCh:
			if errors.Is(err, process.ErrWait) {
				slog.Error("Failed waiting for process", "name", s.Name(), "pid", child.PID(), "error", err)
				if !s.sleep(ctx, s.cfg.WaitErrorBackoff) {
					s.terminate(child, nil)
					return
				}
				continue
			}
			if s.shutting.Load() {
				s.setState(StateTerminated)
				return
			}
			slog.Warn("Process exited unexpectedly", "name", s.Name(), "pid", child.PID(), "error", err)
			s.setState(StateRestarting)
			s.restarts.Add(1)
			metrics.IncRestart(s.Name())
			if s.cfg.OnRestart != nil {
				s.cfg.OnRestart()
			}
			next, ok := s.respawn(ctx)
			if !ok {
				return
			}
			child = next
		}
	}
}

// respawn backs off and spawns again until it succeeds or shutdown begins.
func (s *Supervisor) respawn(ctx context.Context) (*process.Process, bool) {
	for {
		if !s.sleep(ctx, s.cfg.RestartBackoff) {
			s.setState(StateTerminating)
			s.setState(StateTerminated)
			return nil, false
		}
		s.setState(StateSpawning)
		child, err := s.spawn()
		if err == nil {
			s.setState(StateRunning)
			return child, true
		}
		slog.Error("Respawn failed", "name", s.Name(), "error", err)
		s.setState(StateRestarting)
	}
}

// sleep waits d unless shutdown starts first; it reports whether to go on.
func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return !s.shutting.Load()
	case <-s.stopCh:
		return false
	case <-ctx.Done():
		s.shutting.Store(true)
		return false
	}
}

// terminate sends SIGTERM, waits for the grace period and then SIGKILLs.
// exitCh delivers the result of the pending Wait; nil means poll the pid.
func (s *Supervisor) terminate(child *process.Process, exitCh <-chan error) {
	s.setState(StateTerminating)
	pid := child.PID()
	if err := child.Signal(syscall.SIGTERM); err != nil && process.Alive(pid) {
		s.addStopErr(fmt.Errorf("sigterm %s: %w", s.Name(), err))
	}
	if exitCh == nil {
		ch := make(chan error, 1)
		go func() {
			for process.Alive(pid) {
				time.Sleep(50 * time.Millisecond)
			}
			ch <- nil
		}()
		exitCh = ch
	}
	t := time.NewTimer(s.cfg.Grace)
	defer t.Stop()
	select {
	case <-exitCh:
		slog.Info("Process terminated", "name", s.Name(), "pid", pid)
	case <-t.C:
		slog.Warn("Grace period elapsed, killing process", "name", s.Name(), "pid", pid, "grace", s.cfg.Grace)
		if err := child.Signal(syscall.SIGKILL); err != nil && process.Alive(pid) {
			s.addStopErr(fmt.Errorf("sigkill %s: %w", s.Name(), err))
		}
		<-exitCh
	}
	s.setState(StateTerminated)
}

// Stop prevents further respawns, terminates the child and joins every
// goroutine owned by the supervisor, reporters included. It is idempotent.
func (s *Supervisor) Stop() error {
	s.stopOnce.Do(func() {
		s.shutting.Store(true)
		s.tasksMu.Lock()
		s.closed.Store(true)
		tasks := s.tasks
		s.tasksMu.Unlock()
		close(s.stopCh)

		var result *multierror.Error
		for _, t := range tasks {
			t.Stop()
		}
		s.wg.Wait()
		if s.State() == StateIdle {
			s.setState(StateTerminating)
			s.setState(StateTerminated)
		}
		s.stopErrMu.Lock()
		if s.stopErr != nil {
			result = multierror.Append(result, s.stopErr)
		}
		s.stopErr = result.ErrorOrNil()
		s.stopErrMu.Unlock()
	})
	s.stopErrMu.Lock()
	defer s.stopErrMu.Unlock()
	return s.stopErr
}

// Close is Stop, for use with defer and io.Closer.
func (s *Supervisor) Close() error { return s.Stop() }

func (s *Supervisor) addStopErr(err error) {
	s.stopErrMu.Lock()
	s.stopErr = multierror.Append(s.stopErr, err)
	s.stopErrMu.Unlock()
}

// PID returns the pid of the current child.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.child == nil {
		return 0
	}
	return s.child.PID()
}

// Status returns the status of the current child.
func (s *Supervisor) Status() process.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.child == nil {
		return process.Status{Name: s.Name()}
	}
	return s.child.Snapshot()
}

// Restarts returns how many unexpected exits were handled.
func (s *Supervisor) Restarts() int64 { return s.restarts.Load() }

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(to State) {
	s.mu.Lock()
	from := s.state
	if from == to {
		s.mu.Unlock()
		return
	}
	if !canTransition(from, to) {
		s.mu.Unlock()
		slog.Debug("Ignoring invalid state transition", "name", s.Name(), "from", from, "to", to)
		return
	}
	s.state = to
	s.mu.Unlock()

	name := s.Name()
	metrics.RecordStateTransition(name, from.String(), to.String())
	metrics.SetCurrentState(name, from.String(), false)
	metrics.SetCurrentState(name, to.String(), true)
}
