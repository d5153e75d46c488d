package report

import (
	"fmt"
	"time"

	"github.com/psantana5/taskmon/pkg/logging"
)

// Result is immutable invocation-level truth. Set once, never change.
// Metrics and the summary line are both projections of it.
type Result struct {
	// Identity
	RequestID string `json:"request_id"`
	TaskID    string `json:"task_id"`

	// Timing
	StartTime       time.Time     `json:"start_time"`
	EndTime         time.Time     `json:"end_time"`
	Duration        time.Duration `json:"duration"`
	TaskDuration    time.Duration `json:"task_duration"`
	PublishDuration time.Duration `json:"publish_duration,omitempty"`
	ReleaseDuration time.Duration `json:"release_duration,omitempty"`

	// Outcome
	StatusCode   int    `json:"status_code"`
	ErrorType    string `json:"error_type,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Key          string `json:"key,omitempty"`

	// Monitoring
	Monitored bool `json:"monitored"`
	Snapshots int  `json:"snapshots"`
}

// NewResult creates a result spanning start to end
func NewResult(requestID, taskID string, statusCode int, start, end time.Time) *Result {
	return &Result{
		RequestID:  requestID,
		TaskID:     taskID,
		StatusCode: statusCode,
		StartTime:  start,
		EndTime:    end,
		Duration:   end.Sub(start),
	}
}

// Succeeded reports a 2xx status
func (r *Result) Succeeded() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Status is the metric label for the outcome
func (r *Result) Status() string {
	if r.Succeeded() {
		return "success"
	}
	return "failure"
}

// LogSummary emits the one-line summary ops grep for
func (r *Result) LogSummary(log *logging.Logger) {
	outcome := "ok"
	if !r.Succeeded() {
		outcome = "error=" + r.ErrorType
	}

	log.Info(fmt.Sprintf("INVOCATION %s | task=%s | status=%d | %s | runtime=%.3fs | snapshots=%d | monitored=%t",
		r.RequestID,
		r.TaskID,
		r.StatusCode,
		outcome,
		r.Duration.Seconds(),
		r.Snapshots,
		r.Monitored,
	))
}
