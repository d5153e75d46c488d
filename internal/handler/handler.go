package handler

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/psantana5/taskmon/internal/bootstrap"
	"github.com/psantana5/taskmon/internal/pipeline"
	"github.com/psantana5/taskmon/internal/report"
	"github.com/psantana5/taskmon/internal/task"
	"github.com/psantana5/taskmon/pkg/logging"
	"github.com/psantana5/taskmon/pkg/tracing"
)

// Runner is the part of the pipeline the handler drives
type Runner interface {
	Run(ctx context.Context, t task.Task, in task.Input) (*pipeline.Response, error)
}

// Config is the invocation environment the handler prepares
type Config struct {
	CertPath         string
	HeaderDir        string
	ReturnAfterDebug bool
}

// Handler turns events into pipeline runs
type Handler struct {
	cfg      Config
	fs       afero.Fs
	registry *task.Registry
	runner   Runner
	metrics  *report.Metrics
	tracer   *tracing.Provider
	log      *logging.Logger
}

// Option configures a Handler
type Option func(*Handler)

// WithFs replaces the filesystem used for credentials and headers
func WithFs(fs afero.Fs) Option {
	return func(h *Handler) { h.fs = fs }
}

// WithMetrics counts header declaration failures on m
func WithMetrics(m *report.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithTracer flushes spans after each invocation
func WithTracer(t *tracing.Provider) Option {
	return func(h *Handler) { h.tracer = t }
}

// WithLogger sets the handler logger
func WithLogger(log *logging.Logger) Option {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// New creates a handler resolving tasks from registry
func New(cfg Config, registry *task.Registry, runner Runner, opts ...Option) *Handler {
	h := &Handler{
		cfg:      cfg,
		fs:       afero.NewOsFs(),
		registry: registry,
		runner:   runner,
		log:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle processes one event. Malformed events and environment setup
// failures are errors; task failures are 500 responses.
func (h *Handler) Handle(ctx context.Context, ev Event) (*pipeline.Response, error) {
	requestID := requestIDFrom(ctx)
	ctx = pipeline.WithRequestID(ctx, requestID)
	log := h.log.WithField("request_id", requestID)

	if h.tracer != nil {
		defer func() {
			if err := h.tracer.ForceFlush(context.WithoutCancel(ctx)); err != nil {
				log.Warn("failed to flush spans", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	if ev.DebugCommand != nil {
		// Diagnostic commands are never executed
		log.Warn("debug_command received, not executed", map[string]interface{}{
			"debug_command": *ev.DebugCommand,
		})
		if h.cfg.ReturnAfterDebug {
			return &pipeline.Response{
				StatusCode:   http.StatusForbidden,
				Body:         `{"errorType":"DebugCommandDisabled"}`,
				ErrorType:    "DebugCommandDisabled",
				ErrorMessage: "diagnostic commands are disabled",
			}, nil
		}
	}

	req, err := ev.Decode()
	if err != nil {
		log.Error("failed to decode event", map[string]interface{}{"error": err.Error()})
		return nil, err
	}
	log.Info("event received", map[string]interface{}{
		"task_id": req.Input.ID.String(),
		"task":    req.Spec.Name,
		"headers": len(req.Headers),
	})

	env := bootstrap.New(h.fs, h.cfg.CertPath, h.cfg.HeaderDir, nil, log)
	prepared, err := env.Prepare(ctx, bootstrap.Request{
		Cert:        req.Cert,
		Headers:     req.Headers,
		S3AccessKey: req.S3AccessKey,
		S3SecretKey: req.S3SecretKey,
	})
	if err != nil {
		return nil, err
	}
	if h.metrics != nil && len(prepared.Failed) > 0 {
		h.metrics.AddDeclarationFailures(len(prepared.Failed))
	}

	t, err := h.registry.Resolve(req.Spec.WithEnv(prepared.TaskEnv))
	if err != nil {
		return nil, err
	}

	return h.runner.Run(ctx, t, req.Input)
}

func requestIDFrom(ctx context.Context) string {
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		return lc.AwsRequestID
	}
	if id := pipeline.RequestID(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}
