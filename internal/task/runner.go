package task

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/psantana5/taskmon/internal/observe"
	"github.com/psantana5/taskmon/pkg/logging"
)

// KindTaskExecution is the only failure kind a runner produces
const KindTaskExecution = "TaskExecutionError"

// Failure describes why a task did not produce output
type Failure struct {
	Kind    string `json:"errorKind"`
	Type    string `json:"errorType"`
	Message string `json:"errorMessage"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Type, f.Message)
}

// Result is either Output or Failure, never both
type Result struct {
	Output   any
	Failure  *Failure
	Duration time.Duration
}

// OK reports whether the task succeeded
func (r Result) OK() bool { return r.Failure == nil }

// Runner executes tasks and turns every failure into a Failure value.
// Run never returns an error and never panics.
type Runner struct {
	log *logging.Logger
}

// NewRunner creates a runner
func NewRunner(log *logging.Logger) *Runner {
	if log == nil {
		log = logging.Nop()
	}
	return &Runner{log: log}
}

// Run executes t against in
func (r *Runner) Run(ctx context.Context, t Task, in Input) (res Result) {
	timing := observe.NewTiming()

	defer func() {
		if p := recover(); p != nil {
			res = Result{Failure: &Failure{
				Kind:    KindTaskExecution,
				Type:    "panic",
				Message: fmt.Sprint(p),
			}}
		}
		timing.Complete()
		res.Duration = timing.Duration()

		if res.Failure != nil {
			r.log.Error("task failed", map[string]interface{}{
				"task_id":     in.ID.String(),
				"error_type":  res.Failure.Type,
				"error":       res.Failure.Message,
				"duration_ms": res.Duration.Milliseconds(),
			})
		}
	}()

	out, err := t.Execute(ctx, in)
	if err != nil {
		return Result{Failure: newFailure(err)}
	}
	return Result{Output: out}
}

func newFailure(err error) *Failure {
	msg := err.Error()
	if m, ok := err.(interface{ ErrorMessage() string }); ok {
		msg = m.ErrorMessage()
	}
	return &Failure{
		Kind:    KindTaskExecution,
		Type:    ErrorType(err),
		Message: msg,
	}
}

// ErrorType names an error for structured reporting. An ErrorType method
// anywhere in the chain wins; otherwise the first concrete type that is
// not a standard wrapper.
func ErrorType(err error) string {
	var typed interface{ ErrorType() string }
	if errors.As(err, &typed) {
		return typed.ErrorType()
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "DeadlineExceeded"
	case errors.Is(err, context.Canceled):
		return "Canceled"
	}

	for e := err; e != nil; e = errors.Unwrap(e) {
		t := reflect.TypeOf(e)
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		switch t.Name() {
		case "", "errorString", "wrapError", "wrapErrors", "joinError":
			continue
		default:
			return t.Name()
		}
	}
	return "Error"
}
