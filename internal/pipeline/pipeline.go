package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/psantana5/taskmon/internal/monitor"
	"github.com/psantana5/taskmon/internal/observe"
	"github.com/psantana5/taskmon/internal/publish"
	"github.com/psantana5/taskmon/internal/report"
	"github.com/psantana5/taskmon/internal/sampler"
	"github.com/psantana5/taskmon/internal/task"
	"github.com/psantana5/taskmon/pkg/logging"
	"github.com/psantana5/taskmon/pkg/tracing"
)

// Publisher stores a successful task output
type Publisher interface {
	Publish(ctx context.Context, output any, id task.ID) (string, error)
}

// SupervisorFactory builds the supervisor for one task. Whether monitoring
// is enabled is decided when the factory is built, not per call.
type SupervisorFactory func(id task.ID) (monitor.Supervisor, error)

// MonitorFactory returns a factory for the given monitoring mode. Params
// other than the task id are shared by every invocation.
func MonitorFactory(enabled bool, base monitor.Params, launcher monitor.Launcher, opts ...monitor.Option) SupervisorFactory {
	if !enabled {
		return func(task.ID) (monitor.Supervisor, error) {
			return monitor.NewNoopSupervisor(), nil
		}
	}
	return func(id task.ID) (monitor.Supervisor, error) {
		p := base
		p.TaskID = id.String()
		return monitor.NewProcessSupervisor(p, launcher, opts...)
	}
}

// Pipeline runs one task per invocation under a monitor and publishes
// its output
type Pipeline struct {
	runner        *task.Runner
	publisher     Publisher
	newSupervisor SupervisorFactory

	metrics  *report.Metrics
	failures *report.FailureLog
	tracer   *tracing.Provider
	log      *logging.Logger

	includeMetricsOnFailure bool
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLogger sets the pipeline logger
func WithLogger(log *logging.Logger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

// WithMetrics records every invocation on m
func WithMetrics(m *report.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithFailureLog keeps failed invocations in f
func WithFailureLog(f *report.FailureLog) Option {
	return func(p *Pipeline) { p.failures = f }
}

// WithTracer sets the span provider
func WithTracer(t *tracing.Provider) Option {
	return func(p *Pipeline) {
		if t != nil {
			p.tracer = t
		}
	}
}

// WithMetricsOnFailure attaches partial readings to failure responses
func WithMetricsOnFailure(include bool) Option {
	return func(p *Pipeline) { p.includeMetricsOnFailure = include }
}

// New creates a pipeline
func New(publisher Publisher, newSupervisor SupervisorFactory, opts ...Option) *Pipeline {
	p := &Pipeline{
		publisher:     publisher,
		newSupervisor: newSupervisor,
		tracer:        tracing.Noop(),
		log:           logging.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.runner = task.NewRunner(p.log)
	return p
}

type requestIDKey struct{}

// WithRequestID tags ctx with the invocation request id
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request id carried by ctx
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Run executes t against in.
//
// A failing task yields a 500 response, not an error. Errors are reserved
// for publish failures, which the caller's runtime should surface.
func (p *Pipeline) Run(ctx context.Context, t task.Task, in task.Input) (*Response, error) {
	timing := observe.NewTiming()
	requestID := RequestID(ctx)
	log := p.log.WithFields(map[string]interface{}{
		"request_id": requestID,
		"task_id":    in.ID.String(),
	})

	ctx, span := p.tracer.StartSpan(ctx, tracing.SpanInvocation,
		attribute.String("task.id", in.ID.String()),
		attribute.String("request.id", requestID))
	defer span.End()

	sup, err := p.newSupervisor(in.ID)
	if err != nil {
		log.Error("failed to build monitor, task runs unmonitored", map[string]interface{}{"error": err.Error()})
		sup = monitor.NewNoopSupervisor()
	}
	guarded := &tracedSupervisor{Supervisor: sup, tracer: p.tracer, ctx: ctx}

	var (
		result     task.Result
		key        string
		publishDur time.Duration
	)

	err = monitor.Watch(ctx, guarded, func(ctx context.Context) error {
		tctx, tspan := p.tracer.StartSpan(ctx, tracing.SpanTaskExecute)
		result = p.runner.Run(tctx, t, in)
		if !result.OK() {
			tracing.SetError(tctx, result.Failure)
		}
		tspan.End()

		if !result.OK() {
			return nil
		}

		pctx, pspan := p.tracer.StartSpan(ctx, tracing.SpanResultPublish)
		defer pspan.End()

		var perr error
		publishDur = observe.Track(func() {
			key, perr = p.publisher.Publish(pctx, result.Output, in.ID)
		})
		if perr != nil {
			tracing.SetError(pctx, perr)
		}
		return perr
	})

	if guarded.acquireErr != nil && p.metrics != nil {
		p.metrics.IncrUnmonitored()
	}

	var pubErr *publish.PublishError
	if errors.As(err, &pubErr) {
		tracing.SetError(ctx, err)
		p.closeSink(sup, log)
		return nil, err
	}
	if err != nil {
		// Release failed: the sampler may still be alive, but the task outcome stands
		log.Error("monitor release failed", map[string]interface{}{"error": err.Error()})
	}

	// A sampler that never started leaves nothing of this task in the sink
	snaps := []sampler.Snapshot{}
	if guarded.acquireErr == nil && (result.OK() || p.includeMetricsOnFailure) {
		snaps = p.readLog(sup, log)
	}
	p.closeSink(sup, log)

	var resp *Response
	if result.OK() {
		resp, err = successResponse(key, snaps)
	} else {
		resp, err = failureResponse(result.Failure, snaps)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}

	timing.Complete()
	p.record(requestID, in.ID, resp, result, timing, publishDur, guarded, len(snaps), log)
	return resp, nil
}

// readLog reads the monitoring log. A broken log never fails the invocation.
func (p *Pipeline) readLog(sup monitor.Supervisor, log *logging.Logger) []sampler.Snapshot {
	snaps, err := sup.Sink().ReadAll()
	if err != nil {
		log.Error("MONITORING ERROR: error while getting monitoring results", map[string]interface{}{
			"error": err.Error(),
		})
		return []sampler.Snapshot{}
	}
	if snaps == nil {
		snaps = []sampler.Snapshot{}
	}
	return snaps
}

func (p *Pipeline) closeSink(sup monitor.Supervisor, log *logging.Logger) {
	if err := sup.Sink().Close(); err != nil {
		log.Warn("failed to close sink", map[string]interface{}{"error": err.Error()})
	}
}

func (p *Pipeline) record(requestID string, id task.ID, resp *Response, result task.Result,
	timing *observe.Timing, publishDur time.Duration, sup *tracedSupervisor, snapshots int, log *logging.Logger) {

	r := report.NewResult(requestID, id.String(), resp.StatusCode, timing.StartedAt, timing.CompletedAt)
	r.ErrorType = resp.ErrorType
	r.ErrorMessage = resp.ErrorMessage
	r.Key = resp.Filename
	r.TaskDuration = result.Duration
	r.PublishDuration = publishDur
	r.ReleaseDuration = sup.releaseDur
	r.Monitored = sup.acquireErr == nil && sup.State() == monitor.StateStopped && !isNoop(sup.Supervisor)
	r.Snapshots = snapshots

	if p.metrics != nil {
		p.metrics.RecordResult(r)
	}
	if p.failures != nil {
		p.failures.Record(r)
	}
	r.LogSummary(log)
}

func isNoop(s monitor.Supervisor) bool {
	_, ok := s.(*monitor.NoopSupervisor)
	return ok
}

// tracedSupervisor records acquire errors and times the release
type tracedSupervisor struct {
	monitor.Supervisor
	tracer *tracing.Provider
	ctx    context.Context

	acquireErr error
	releaseDur time.Duration
}

func (s *tracedSupervisor) Acquire(ctx context.Context) error {
	s.acquireErr = s.Supervisor.Acquire(ctx)
	if s.acquireErr == nil {
		tracing.AddEvent(ctx, "monitoring started")
	}
	return s.acquireErr
}

func (s *tracedSupervisor) Release() error {
	_, span := s.tracer.StartSpan(s.ctx, tracing.SpanMonitorRelease)
	defer span.End()

	var err error
	s.releaseDur = observe.Track(func() {
		err = s.Supervisor.Release()
	})
	return err
}
