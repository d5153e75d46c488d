package pipeline

import (
	"encoding/json"
	"net/http"

	"github.com/psantana5/taskmon/internal/sampler"
	"github.com/psantana5/taskmon/internal/task"
)

// Response is the invocation envelope returned to the caller
type Response struct {
	StatusCode   int    `json:"statusCode"`
	Body         string `json:"body"`
	Filename     string `json:"filename,omitempty"`
	ErrorType    string `json:"errorType,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// OK reports a successful invocation
func (r *Response) OK() bool {
	return r.StatusCode == http.StatusOK
}

// Readings decodes the monitoring log carried in a success body
func (r *Response) Readings() ([]sampler.Snapshot, error) {
	var snaps []sampler.Snapshot
	if err := json.Unmarshal([]byte(r.Body), &snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}

type failureBody struct {
	ErrorKind    string             `json:"errorKind"`
	ErrorType    string             `json:"errorType"`
	ErrorMessage string             `json:"errorMessage"`
	Readings     []sampler.Snapshot `json:"readings,omitempty"`
}

func successResponse(key string, snaps []sampler.Snapshot) (*Response, error) {
	body, err := json.Marshal(snaps)
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: http.StatusOK,
		Body:       string(body),
		Filename:   key,
	}, nil
}

func failureResponse(f *task.Failure, snaps []sampler.Snapshot) (*Response, error) {
	body, err := json.Marshal(failureBody{
		ErrorKind:    f.Kind,
		ErrorType:    f.Type,
		ErrorMessage: f.Message,
		Readings:     snaps,
	})
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode:   http.StatusInternalServerError,
		Body:         string(body),
		ErrorType:    f.Type,
		ErrorMessage: f.Message,
	}, nil
}
