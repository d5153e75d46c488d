package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/psantana5/taskmon/internal/sink"
	"github.com/psantana5/taskmon/pkg/logging"
)

// DefaultStartTimeout bounds how long Acquire waits for the first snapshot
const DefaultStartTimeout = 5 * time.Second

// Option configures a ProcessSupervisor
type Option func(*ProcessSupervisor)

// WithLogger sets the supervisor logger
func WithLogger(log *logging.Logger) Option {
	return func(s *ProcessSupervisor) {
		if log != nil {
			s.log = log
		}
	}
}

// WithStartTimeout bounds the wait for the child's first snapshot.
// Zero skips the wait.
func WithStartTimeout(d time.Duration) Option {
	return func(s *ProcessSupervisor) {
		s.startTimeout = d
	}
}

// ProcessSupervisor runs the sampler as a separate OS process. The only
// state shared with it is the sink file.
type ProcessSupervisor struct {
	params       Params
	launcher     Launcher
	sink         sink.Sink
	startTimeout time.Duration
	log          *logging.Logger

	mu        sync.Mutex
	state     State
	cmd       *exec.Cmd
	done      chan struct{}
	waitErr   error
	startedAt time.Time
}

// NewProcessSupervisor creates a supervisor sampling into the sink named by params
func NewProcessSupervisor(params Params, launcher Launcher, opts ...Option) (*ProcessSupervisor, error) {
	if params.Interval <= 0 {
		return nil, fmt.Errorf("sampling interval must be positive, got %s", params.Interval)
	}

	out, err := sink.Open(params.SinkDriver, params.SinkPath)
	if err != nil {
		return nil, err
	}

	s := &ProcessSupervisor{
		params:       params,
		launcher:     launcher,
		sink:         out,
		startTimeout: DefaultStartTimeout,
		log:          logging.Nop(),
		state:        StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *ProcessSupervisor) Sink() sink.Sink { return s.sink }

func (s *ProcessSupervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pid returns the sampler child pid, or 0 when none is running
func (s *ProcessSupervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Acquire resets the sink and spawns the sampler. On error nothing is left
// running and the state stays idle.
func (s *ProcessSupervisor) Acquire(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ValidateTransition(s.state, StateRunning); err != nil {
		return err
	}

	if err := s.spawn(ctx); err != nil {
		s.log.Error("failed to start monitoring, task runs unmonitored", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}

	s.state = StateRunning
	s.log.Info("monitoring started", map[string]interface{}{
		"pid":      s.cmd.Process.Pid,
		"sink":     s.params.SinkDriver,
		"interval": s.params.Interval.String(),
	})
	return nil
}

func (s *ProcessSupervisor) spawn(ctx context.Context) error {
	if err := s.sink.Reset(); err != nil {
		return fmt.Errorf("failed to reset sink: %w", err)
	}
	// The child opens the file itself; bolt would deadlock on our lock
	if err := s.sink.Close(); err != nil {
		return fmt.Errorf("failed to close sink: %w", err)
	}

	cmd, err := s.launcher.Command(s.params)
	if err != nil {
		return err
	}

	ready := newReadyWriter(ReadyLine)
	cmd.Stdout = ready
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	cmd.SysProcAttr = sysProcAttr()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start sampler: %w", err)
	}

	// Single reaper; Release waits on done instead of calling Wait again
	done := make(chan struct{})
	go func() {
		s.waitErr = cmd.Wait()
		close(done)
	}()

	if s.startTimeout > 0 {
		timer := time.NewTimer(s.startTimeout)
		defer timer.Stop()

		select {
		case <-ready.C:
		case <-done:
			return fmt.Errorf("sampler exited before its first reading: %v", s.waitErr)
		case <-timer.C:
			s.log.Warn("sampler not ready yet, continuing", map[string]interface{}{
				"pid":     cmd.Process.Pid,
				"timeout": s.startTimeout.String(),
			})
		case <-ctx.Done():
			_ = killProcess(cmd)
			<-done
			return ctx.Err()
		}
	}

	s.cmd = cmd
	s.done = done
	s.startedAt = time.Now()
	return nil
}

// Release kills the sampler's process group and waits until it is reaped
func (s *ProcessSupervisor) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStopped {
		return nil
	}
	if err := ValidateTransition(s.state, StateStopped); err != nil {
		return err
	}
	s.state = StateStopped

	if s.cmd == nil {
		return nil
	}

	pid := s.cmd.Process.Pid
	killErr := killProcess(s.cmd)
	<-s.done

	fields := map[string]interface{}{
		"pid":      pid,
		"duration": time.Since(s.startedAt).String(),
	}
	if reason := exitReason(s.waitErr); reason != "" {
		fields["exit"] = reason
	}
	s.log.Info("monitoring finished", fields)

	if killErr != nil {
		return fmt.Errorf("failed to stop sampler %d: %w", pid, killErr)
	}
	return nil
}

// exitReason describes how the child ended. A kill is the expected outcome.
func exitReason(err error) string {
	if err == nil {
		return "exited"
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.String()
	}
	return err.Error()
}

// readyWriter consumes the child's stdout and fires C on the ready line
type readyWriter struct {
	C chan struct{}

	want []byte
	mu   sync.Mutex
	buf  []byte
	once sync.Once
}

func newReadyWriter(line string) *readyWriter {
	return &readyWriter{C: make(chan struct{}), want: []byte(line)}
}

func (w *readyWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		if bytes.Equal(bytes.TrimSpace(w.buf[:i]), w.want) {
			w.once.Do(func() { close(w.C) })
		}
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}
