package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/psantana5/taskmon/internal/sink"
)

// Supervisor owns the background sampler of one invocation.
//
// Acquire starts sampling into Sink. Release stops it and blocks until the
// sampler is gone, so no snapshot is appended after Release returns.
// Release is safe to call any number of times, with or without Acquire.
type Supervisor interface {
	Acquire(ctx context.Context) error
	Release() error
	Sink() sink.Sink
	State() State
}

// New picks the supervisor variant once, at construction. A disabled monitor
// never spawns anything and always reads back an empty log.
func New(enabled bool, params Params, launcher Launcher, opts ...Option) (Supervisor, error) {
	if !enabled {
		return NewNoopSupervisor(), nil
	}
	return NewProcessSupervisor(params, launcher, opts...)
}

// Watch runs fn between Acquire and Release. Release runs on every exit path,
// panics included, and its error is joined into fn's.
//
// A failed Acquire does not stop fn: the supervisor reports it and the task
// runs unmonitored.
func Watch(ctx context.Context, sup Supervisor, fn func(ctx context.Context) error) (err error) {
	_ = sup.Acquire(ctx)

	defer func() {
		if rerr := sup.Release(); rerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to release monitor: %w", rerr))
		}
	}()

	return fn(ctx)
}

// NoopSupervisor is the disabled monitor
type NoopSupervisor struct {
	mu    sync.Mutex
	state State
}

// NewNoopSupervisor creates a supervisor that never samples
func NewNoopSupervisor() *NoopSupervisor {
	return &NoopSupervisor{state: StateIdle}
}

func (n *NoopSupervisor) Acquire(ctx context.Context) error {
	return n.move(StateRunning)
}

func (n *NoopSupervisor) Release() error {
	n.mu.Lock()
	stopped := n.state == StateStopped
	n.mu.Unlock()
	if stopped {
		return nil
	}
	return n.move(StateStopped)
}

func (n *NoopSupervisor) Sink() sink.Sink { return sink.Discard{} }

func (n *NoopSupervisor) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *NoopSupervisor) move(to State) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := ValidateTransition(n.state, to); err != nil {
		return err
	}
	n.state = to
	return nil
}
