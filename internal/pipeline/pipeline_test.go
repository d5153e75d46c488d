package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/taskmon/internal/monitor"
	"github.com/psantana5/taskmon/internal/publish"
	"github.com/psantana5/taskmon/internal/report"
	"github.com/psantana5/taskmon/internal/sampler"
	"github.com/psantana5/taskmon/internal/sink"
	"github.com/psantana5/taskmon/internal/storage"
	"github.com/psantana5/taskmon/internal/task"
)

const helperEnv = "TASKMON_PIPELINE_HELPER"

func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		fs := pflag.NewFlagSet(monitor.SampleCommand, pflag.ContinueOnError)
		var p monitor.Params
		monitor.BindFlags(fs, &p)
		if err := fs.Parse(os.Args[1:]); err != nil {
			os.Exit(2)
		}
		if err := monitor.RunSampler(context.Background(), p, os.Stdout, nil); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

type helperLauncher struct{}

func (helperLauncher) Command(p monitor.Params) (*exec.Cmd, error) {
	cmd := exec.Command(os.Args[0], p.Args()...)
	cmd.Env = append(os.Environ(), helperEnv+"=1")
	return cmd, nil
}

type countingPublisher struct {
	calls int
	err   error
	inner Publisher
}

func (c *countingPublisher) Publish(ctx context.Context, output any, id task.ID) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return c.inner.Publish(ctx, output, id)
}

func newPublisher(fs afero.Fs) *countingPublisher {
	return &countingPublisher{inner: publish.New(storage.NewFSStore(fs, "/out"))}
}

func input(t *testing.T, doc string) task.Input {
	t.Helper()
	var in task.Input
	require.NoError(t, json.Unmarshal([]byte(doc), &in))
	return in
}

var disabled = MonitorFactory(false, monitor.Params{}, nil)

func TestSuccessWithMonitoringDisabled(t *testing.T) {
	fs := afero.NewMemMapFs()
	pub := newPublisher(fs)
	p := New(pub, disabled)

	resp, err := p.Run(context.Background(), task.Func(func(context.Context, task.Input) (any, error) {
		return map[string]int{"count": 7}, nil
	}), input(t, `{"id": 42}`))
	require.NoError(t, err)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "[]", resp.Body)
	assert.Regexp(t, regexp.MustCompile(`^output/partial_42_\d+\.pickle$`), resp.Filename)
	assert.Empty(t, resp.ErrorType)
	assert.Equal(t, 1, pub.calls)

	stored, err := afero.ReadFile(fs, "/out/"+resp.Filename)
	require.NoError(t, err)
	decoded, err := publish.DecodeProto(stored)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"count": float64(7)}, decoded)
}

func TestTaskFailureIsA500(t *testing.T) {
	tests := []struct {
		name     string
		task     task.Task
		wantType string
		wantMsg  string
	}{
		{
			name: "typed error",
			task: task.Func(func(context.Context, task.Input) (any, error) {
				return nil, task.Errorf("ValueError", "bad range")
			}),
			wantType: "ValueError",
			wantMsg:  "bad range",
		},
		{
			name: "panic",
			task: task.Func(func(context.Context, task.Input) (any, error) {
				panic("nil histogram")
			}),
			wantType: "panic",
			wantMsg:  "nil histogram",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := newPublisher(afero.NewMemMapFs())
			failures := report.NewFailureLog(10)
			p := New(pub, disabled, WithFailureLog(failures), WithMetrics(report.NewMetrics()))

			resp, err := p.Run(context.Background(), tt.task, input(t, `{"id": 7}`))
			require.NoError(t, err)

			assert.Equal(t, 500, resp.StatusCode)
			assert.Equal(t, tt.wantType, resp.ErrorType)
			assert.Equal(t, tt.wantMsg, resp.ErrorMessage)
			assert.Empty(t, resp.Filename)
			assert.Zero(t, pub.calls)
			assert.JSONEq(t, `{"errorKind": "TaskExecutionError", "errorType": "`+tt.wantType+`", "errorMessage": "`+tt.wantMsg+`"}`, resp.Body)
			assert.Equal(t, 1, failures.Count())
		})
	}
}

// fakeSupervisor is a monitor whose sink and release can be scripted
type fakeSupervisor struct {
	monitor.NoopSupervisor
	sink       sink.Sink
	acquireErr error
	releaseErr error
	released   int
}

func (f *fakeSupervisor) Acquire(ctx context.Context) error {
	if f.acquireErr != nil {
		return f.acquireErr
	}
	return f.NoopSupervisor.Acquire(ctx)
}

func (f *fakeSupervisor) Release() error {
	f.released++
	_ = f.NoopSupervisor.Release()
	return f.releaseErr
}

func (f *fakeSupervisor) Sink() sink.Sink { return f.sink }

func factoryFor(sup monitor.Supervisor) SupervisorFactory {
	return func(task.ID) (monitor.Supervisor, error) { return sup, nil }
}

type brokenSink struct{ sink.Discard }

func (brokenSink) ReadAll() ([]sampler.Snapshot, error) {
	return nil, errors.New("database disk image is malformed")
}

type staticSink struct {
	sink.Discard
	snaps []sampler.Snapshot
}

func (s staticSink) ReadAll() ([]sampler.Snapshot, error) { return s.snaps, nil }

func okTask() task.Task {
	return task.Func(func(context.Context, task.Input) (any, error) { return "ok", nil })
}

func TestPublishFailureIsReturnedAfterRelease(t *testing.T) {
	errUpload := errors.New("bucket not found")
	pub := &countingPublisher{err: &publish.PublishError{Op: "upload", Key: "k", Err: errUpload}}
	sup := &fakeSupervisor{sink: sink.Discard{}}

	resp, err := New(pub, factoryFor(sup)).Run(context.Background(), okTask(), input(t, `{"id": 1}`))

	assert.Nil(t, resp)
	assert.ErrorIs(t, err, errUpload)
	var pubErr *publish.PublishError
	assert.ErrorAs(t, err, &pubErr)
	assert.Equal(t, 1, sup.released)
}

func TestSinkReadFailureYieldsEmptyLog(t *testing.T) {
	sup := &fakeSupervisor{sink: brokenSink{}}
	resp, err := New(newPublisher(afero.NewMemMapFs()), factoryFor(sup)).
		Run(context.Background(), okTask(), input(t, `{"id": 1}`))
	require.NoError(t, err)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "[]", resp.Body)
	assert.NotEmpty(t, resp.Filename)
}

func TestReleaseFailureKeepsOutcome(t *testing.T) {
	sup := &fakeSupervisor{sink: sink.Discard{}, releaseErr: errors.New("operation not permitted")}
	resp, err := New(newPublisher(afero.NewMemMapFs()), factoryFor(sup)).
		Run(context.Background(), okTask(), input(t, `{"id": 1}`))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 1, sup.released)
}

func TestAcquireFailureRunsUnmonitored(t *testing.T) {
	stale := staticSink{snaps: []sampler.Snapshot{{TaskID: 99}}}
	sup := &fakeSupervisor{sink: stale, acquireErr: errors.New("fork failed")}
	metrics := report.NewMetrics()

	resp, err := New(newPublisher(afero.NewMemMapFs()), factoryFor(sup), WithMetrics(metrics)).
		Run(context.Background(), okTask(), input(t, `{"id": 1}`))
	require.NoError(t, err)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "[]", resp.Body)
	assert.Equal(t, 1, sup.released)

	out, err := metrics.Export()
	require.NoError(t, err)
	assert.Contains(t, out, "taskmon_unmonitored_invocations_total 1")
}

func TestFactoryErrorFallsBackToNoop(t *testing.T) {
	factory := func(task.ID) (monitor.Supervisor, error) { return nil, errors.New("bad sink path") }
	resp, err := New(newPublisher(afero.NewMemMapFs()), factory).
		Run(context.Background(), okTask(), input(t, `{"id": 1}`))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestMetricsOnFailure(t *testing.T) {
	snaps := []sampler.Snapshot{{TaskID: sampler.HashTaskID("7"), Timestamp: time.Unix(0, 0).UTC()}}
	failing := task.Func(func(context.Context, task.Input) (any, error) {
		return nil, task.Errorf("ValueError", "bad range")
	})

	t.Run("discarded by default", func(t *testing.T) {
		sup := &fakeSupervisor{sink: staticSink{snaps: snaps}}
		resp, err := New(newPublisher(afero.NewMemMapFs()), factoryFor(sup)).
			Run(context.Background(), failing, input(t, `{"id": 7}`))
		require.NoError(t, err)
		assert.NotContains(t, resp.Body, "readings")
	})

	t.Run("attached when enabled", func(t *testing.T) {
		sup := &fakeSupervisor{sink: staticSink{snaps: snaps}}
		resp, err := New(newPublisher(afero.NewMemMapFs()), factoryFor(sup), WithMetricsOnFailure(true)).
			Run(context.Background(), failing, input(t, `{"id": 7}`))
		require.NoError(t, err)

		var body failureBody
		require.NoError(t, json.Unmarshal([]byte(resp.Body), &body))
		require.Len(t, body.Readings, 1)
		assert.Equal(t, sampler.HashTaskID("7"), body.Readings[0].TaskID)
	})
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-9")
	assert.Equal(t, "req-9", RequestID(ctx))
	assert.Empty(t, RequestID(context.Background()))
}

func TestMonitoredRunCollectsSnapshots(t *testing.T) {
	dir := t.TempDir()
	netDev := filepath.Join(dir, "dev")
	require.NoError(t, os.WriteFile(netDev, []byte(`Inter-|   Receive                                                |  Transmit
 face |bytes    packets errs drop fifo frame compressed multicast|bytes    packets errs drop fifo colls carrier compressed
  eth0:    1000      10    0    0    0     0          0         0     2000      20    0    0    0     0       0          0
`), 0o644))

	tick := 40 * time.Millisecond
	params := monitor.Params{
		SinkDriver: sink.DriverSQLite,
		SinkPath:   filepath.Join(dir, "readings.db"),
		Interval:   tick,
		NetDevPath: netDev,
	}
	pub := newPublisher(afero.NewMemMapFs())
	p := New(pub, MonitorFactory(true, params, helperLauncher{}))

	resp, err := p.Run(context.Background(), task.Func(func(context.Context, task.Input) (any, error) {
		time.Sleep(3*tick + tick/2)
		return map[string]int{"count": 7}, nil
	}), input(t, `{"id": 7}`))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	snaps, err := resp.Readings()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(snaps), 3)
	for _, s := range snaps {
		assert.Equal(t, sampler.HashTaskID("7"), s.TaskID)
		assert.Equal(t, uint64(1000), s.Network[sampler.NetBytesRx]["eth0"])
	}
	assert.Equal(t, 1, pub.calls)
}
