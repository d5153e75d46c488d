package task

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
)

const defaultStderrTail = 2048

// ExecTask runs a command with the JSON input on stdin and reads its JSON
// output from stdout.
//
// A failing command may print {"errorType": ..., "errorMessage": ...} on
// stdout to report a typed failure.
type ExecTask struct {
	Command    []string
	Env        map[string]string
	Dir        string
	StderrTail int
}

type execOptions struct {
	Dir        string `json:"dir"`
	StderrTail int    `json:"stderr_tail"`
}

func newExecTask(spec Spec) (Task, error) {
	if len(spec.Command) == 0 {
		return nil, errors.New("exec task needs a command")
	}

	var opts execOptions
	if len(spec.Options) > 0 {
		if err := json.Unmarshal(spec.Options, &opts); err != nil {
			return nil, fmt.Errorf("invalid exec options: %w", err)
		}
	}

	return &ExecTask{
		Command:    spec.Command,
		Env:        spec.Env,
		Dir:        opts.Dir,
		StderrTail: opts.StderrTail,
	}, nil
}

type errorReport struct {
	ErrorType    string `json:"errorType"`
	ErrorMessage string `json:"errorMessage"`
}

func (e *ExecTask) Execute(ctx context.Context, in Input) (any, error) {
	stdin, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to encode input: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.Command[0], e.Command[1:]...)
	cmd.Dir = e.Dir
	cmd.Env = append(os.Environ(), envList(e.Env)...)
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var report errorReport
		if json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &report) == nil && report.ErrorType != "" {
			return nil, &Error{Type: report.ErrorType, Message: report.ErrorMessage}
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &Error{
				Type:    "ExitError",
				Message: fmt.Sprintf("%s: %s", exitErr, e.tail(stderr.String())),
			}
		}
		return nil, fmt.Errorf("failed to run %s: %w", e.Command[0], err)
	}

	body := bytes.TrimSpace(stdout.Bytes())
	if len(body) == 0 {
		return nil, nil
	}

	var out any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &Error{Type: "OutputError", Message: fmt.Sprintf("stdout is not JSON: %v", err)}
	}
	return out, nil
}

func (e *ExecTask) tail(s string) string {
	n := e.StderrTail
	if n <= 0 {
		n = defaultStderrTail
	}
	s = strings.TrimSpace(s)
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return s
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
