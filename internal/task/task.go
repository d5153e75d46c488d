package task

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ID identifies a task. Inputs carry it as a JSON string or integer;
// both forms keep their literal text.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("task id must be a string or a number: %w", err)
	}
	if _, err := n.Int64(); err != nil {
		return fmt.Errorf("task id must be an integer, got %s", n)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Input is what a task runs against. Payload is the complete input
// document, id included, and is never modified.
type Input struct {
	ID      ID
	Payload json.RawMessage
}

// ErrMissingID is returned when an input document has no id
var ErrMissingID = errors.New("task input has no id")

func (in *Input) UnmarshalJSON(b []byte) error {
	var head struct {
		ID *ID `json:"id"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return fmt.Errorf("failed to decode task input: %w", err)
	}
	if head.ID == nil || *head.ID == "" {
		return ErrMissingID
	}
	in.ID = *head.ID
	in.Payload = append(json.RawMessage(nil), b...)
	return nil
}

func (in Input) MarshalJSON() ([]byte, error) {
	if len(in.Payload) > 0 {
		return in.Payload, nil
	}
	return json.Marshal(map[string]string{"id": string(in.ID)})
}

// Task is the unit of work. Its output must be JSON-serializable.
type Task interface {
	Execute(ctx context.Context, in Input) (any, error)
}

// Func adapts a plain function to Task
type Func func(ctx context.Context, in Input) (any, error)

func (f Func) Execute(ctx context.Context, in Input) (any, error) {
	return f(ctx, in)
}

// Error is a task failure with an explicit type name, reported as
// errorType in responses.
type Error struct {
	Type    string
	Message string
}

// Errorf builds a typed task error
func Errorf(typ, format string, args ...interface{}) *Error {
	return &Error{Type: typ, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string     { return e.Type + ": " + e.Message }
func (e *Error) ErrorType() string { return e.Type }

// ErrorMessage is the message without the type prefix
func (e *Error) ErrorMessage() string { return e.Message }
