package cmd

import (
	"context"
	"fmt"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/spf13/afero"

	"github.com/psantana5/taskmon/internal/config"
	"github.com/psantana5/taskmon/internal/handler"
	"github.com/psantana5/taskmon/internal/monitor"
	"github.com/psantana5/taskmon/internal/pipeline"
	"github.com/psantana5/taskmon/internal/publish"
	"github.com/psantana5/taskmon/internal/report"
	"github.com/psantana5/taskmon/internal/storage"
	"github.com/psantana5/taskmon/internal/task"
	"github.com/psantana5/taskmon/pkg/logging"
	"github.com/psantana5/taskmon/pkg/tracing"
)

// failureLogSize bounds the failures kept for /failures
const failureLogSize = 100

// app is everything one process needs to serve invocations
type app struct {
	cfg      *config.Config
	log      *logging.Logger
	metrics  *report.Metrics
	failures *report.FailureLog
	tracer   *tracing.Provider
	handler  *handler.Handler
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogJSON).WithField("component", "taskmon")

	tracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "taskmon",
		ServiceVersion: Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	}, log)
	if err != nil {
		return nil, err
	}

	store, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	codec, err := publish.CodecFor(cfg.Codec)
	if err != nil {
		return nil, err
	}
	publisher := publish.New(store,
		publish.WithCodec(codec),
		publish.WithKeyFormat(cfg.KeyPrefix, cfg.KeySuffix),
		publish.WithLogger(log))

	params := monitor.DefaultParams("")
	params.SinkDriver = cfg.SinkDriver
	params.SinkPath = cfg.SinkPath
	params.Interval = cfg.TickInterval
	params.NetDevPath = cfg.NetDevPath
	factory := pipeline.MonitorFactory(cfg.MonitoringEnabled, params, monitor.SelfLauncher{},
		monitor.WithLogger(log),
		monitor.WithStartTimeout(cfg.StartTimeout))

	a := &app{
		cfg:      cfg,
		log:      log,
		metrics:  report.NewMetrics(),
		failures: report.NewFailureLog(failureLogSize),
		tracer:   tracer,
	}

	pipe := pipeline.New(publisher, factory,
		pipeline.WithLogger(log),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithFailureLog(a.failures),
		pipeline.WithTracer(tracer),
		pipeline.WithMetricsOnFailure(cfg.IncludeMetricsOnFailure))

	a.handler = handler.New(handler.Config{
		CertPath:         cfg.CertPath,
		HeaderDir:        cfg.HeaderDir,
		ReturnAfterDebug: cfg.ReturnAfterDebug,
	}, task.NewRegistry(), pipe,
		handler.WithMetrics(a.metrics),
		handler.WithTracer(tracer),
		handler.WithLogger(log))

	log.Info("taskmon ready", map[string]interface{}{
		"version":    Version,
		"monitor":    cfg.MonitoringEnabled,
		"sink":       cfg.SinkDriver,
		"codec":      codec.Name(),
		"local_only": cfg.OutputDir != "",
	})
	return a, nil
}

func newStore(ctx context.Context, cfg *config.Config) (storage.Uploader, error) {
	if cfg.OutputDir != "" {
		return storage.NewFSStore(afero.NewOsFs(), cfg.OutputDir), nil
	}
	s3, err := storage.NewS3Store(ctx, storage.S3Config{
		Bucket:          cfg.Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3KeyID,
		SecretAccessKey: cfg.S3Secret,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up result storage: %w", err)
	}
	return s3, nil
}

// Handle runs one invocation and pushes metrics when a Pushgateway is set
func (a *app) Handle(ctx context.Context, ev handler.Event) (*pipeline.Response, error) {
	resp, err := a.handler.Handle(ctx, ev)

	if a.cfg.PushgatewayURL != "" {
		if perr := a.metrics.Push(a.cfg.PushgatewayURL, instanceName(ctx)); perr != nil {
			a.log.Warn("metrics push failed", map[string]interface{}{"error": perr.Error()})
		}
	}
	return resp, err
}

func (a *app) close(ctx context.Context) {
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.log.Warn("failed to shut down tracer", map[string]interface{}{"error": err.Error()})
	}
	_ = a.log.Sync()
}

func instanceName(ctx context.Context) string {
	if lambdacontext.FunctionName != "" {
		return lambdacontext.FunctionName
	}
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		return lc.InvokedFunctionArn
	}
	return ""
}
