package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnknownTask   = errors.New("unknown task")
	ErrDuplicateTask = errors.New("task already registered")
)

// Spec names a task and carries what its factory needs to build it
type Spec struct {
	Name    string            `json:"name"`
	Command []string          `json:"command,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Options json.RawMessage   `json:"options,omitempty"`
}

// WithEnv returns a copy of s with extra environment entries. Entries
// already in the spec win.
func (s Spec) WithEnv(extra map[string]string) Spec {
	env := make(map[string]string, len(s.Env)+len(extra))
	for k, v := range extra {
		env[k] = v
	}
	for k, v := range s.Env {
		env[k] = v
	}
	s.Env = env
	return s
}

// Factory builds a task from its spec
type Factory func(spec Spec) (Task, error)

// Registry maps task names to factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry with the built-in tasks
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.factories["exec"] = newExecTask
	r.factories["echo"] = func(Spec) (Task, error) { return Func(echo), nil }
	return r
}

// Register adds a factory under name
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, name)
	}
	r.factories[name] = f
	return nil
}

// Resolve builds the task named by spec
func (r *Registry) Resolve(spec Spec) (Task, error) {
	r.mu.RLock()
	f, ok := r.factories[spec.Name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, spec.Name)
	}
	t, err := f(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to build task %s: %w", spec.Name, err)
	}
	return t, nil
}

// Names lists registered tasks, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// echo returns its input document
func echo(_ context.Context, in Input) (any, error) {
	var out any
	if err := json.Unmarshal(in.Payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}
