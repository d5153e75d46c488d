package handler

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/psantana5/taskmon/internal/bootstrap"
	"github.com/psantana5/taskmon/internal/task"
)

// Event is the invocation payload. Every field except DebugCommand is
// base64; all but Cert wrap a JSON document.
type Event struct {
	Range        string  `json:"range"`
	Script       string  `json:"script"`
	Headers      string  `json:"headers"`
	Cert         string  `json:"cert"`
	S3AccessKey  string  `json:"S3_ACCESS_KEY"`
	S3SecretKey  string  `json:"S3_SECRET_KEY"`
	DebugCommand *string `json:"debug_command,omitempty"`
}

// Request is an Event after decoding
type Request struct {
	Input       task.Input
	Spec        task.Spec
	Headers     []bootstrap.Header
	Cert        []byte
	S3AccessKey string
	S3SecretKey string
}

// Decode unpacks every field. Any malformed field fails the whole event.
func (e Event) Decode() (*Request, error) {
	req := &Request{}

	if err := decodeJSON("range", e.Range, &req.Input); err != nil {
		return nil, err
	}
	if err := decodeJSON("script", e.Script, &req.Spec); err != nil {
		return nil, err
	}
	if req.Spec.Name == "" {
		return nil, fmt.Errorf("field script: task name is required")
	}
	if e.Headers != "" {
		if err := decodeJSON("headers", e.Headers, &req.Headers); err != nil {
			return nil, err
		}
	}
	if err := decodeJSON("S3_ACCESS_KEY", e.S3AccessKey, &req.S3AccessKey); err != nil {
		return nil, err
	}
	if err := decodeJSON("S3_SECRET_KEY", e.S3SecretKey, &req.S3SecretKey); err != nil {
		return nil, err
	}

	cert, err := base64.StdEncoding.DecodeString(e.Cert)
	if err != nil {
		return nil, fmt.Errorf("field cert: %w", err)
	}
	req.Cert = cert

	return req, nil
}

func decodeJSON(field, value string, v interface{}) error {
	if value == "" {
		return fmt.Errorf("field %s is required", field)
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return fmt.Errorf("field %s: %w", field, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("field %s: %w", field, err)
	}
	return nil
}

// Encode builds an Event from its decoded parts
func Encode(req Request) (Event, error) {
	var ev Event
	var err error

	if ev.Range, err = encodeJSON(req.Input); err != nil {
		return Event{}, fmt.Errorf("field range: %w", err)
	}
	if ev.Script, err = encodeJSON(req.Spec); err != nil {
		return Event{}, fmt.Errorf("field script: %w", err)
	}
	headers := req.Headers
	if headers == nil {
		headers = []bootstrap.Header{}
	}
	if ev.Headers, err = encodeJSON(headers); err != nil {
		return Event{}, fmt.Errorf("field headers: %w", err)
	}
	if ev.S3AccessKey, err = encodeJSON(req.S3AccessKey); err != nil {
		return Event{}, err
	}
	if ev.S3SecretKey, err = encodeJSON(req.S3SecretKey); err != nil {
		return Event{}, err
	}
	ev.Cert = base64.StdEncoding.EncodeToString(req.Cert)
	return ev, nil
}

func encodeJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
