package monitor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/taskmon/internal/sampler"
	"github.com/psantana5/taskmon/internal/sink"
)

// The test binary doubles as the sampler child when this is set
const helperEnv = "TASKMON_MONITOR_HELPER"

func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "sample":
		os.Exit(runHelper())
	case "exit":
		os.Exit(3)
	}
	os.Exit(m.Run())
}

func runHelper() int {
	fs := pflag.NewFlagSet(SampleCommand, pflag.ContinueOnError)
	var p Params
	BindFlags(fs, &p)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return 2
	}
	if err := RunSampler(context.Background(), p, os.Stdout, nil); err != nil {
		return 1
	}
	return 0
}

type helperLauncher struct {
	mode string
}

func (l helperLauncher) Command(p Params) (*exec.Cmd, error) {
	cmd := exec.Command(os.Args[0], p.Args()...)
	cmd.Env = append(os.Environ(), helperEnv+"="+l.mode)
	return cmd, nil
}

const netDev = `Inter-|   Receive                                                |  Transmit
 face |bytes    packets errs drop fifo frame compressed multicast|bytes    packets errs drop fifo colls carrier compressed
    lo:   12345      67    0    0    0     0          0         0    12345      67    0    0    0     0       0          0
`

const tick = 40 * time.Millisecond

func testParams(t *testing.T, driver, taskID string) Params {
	t.Helper()
	dir := t.TempDir()
	netDevPath := filepath.Join(dir, "dev")
	require.NoError(t, os.WriteFile(netDevPath, []byte(netDev), 0o644))

	return Params{
		TaskID:     taskID,
		SinkDriver: driver,
		SinkPath:   filepath.Join(dir, "readings."+driver),
		Interval:   tick,
		NetDevPath: netDevPath,
		HostStats:  false,
	}
}

func TestProcessSupervisorCollectsTaggedSnapshots(t *testing.T) {
	for _, driver := range []string{sink.DriverSQLite, sink.DriverBolt} {
		t.Run(driver, func(t *testing.T) {
			sup, err := NewProcessSupervisor(testParams(t, driver, "7"), helperLauncher{mode: "sample"})
			require.NoError(t, err)

			require.NoError(t, sup.Acquire(context.Background()))
			assert.Equal(t, StateRunning, sup.State())
			assert.NotZero(t, sup.Pid())

			time.Sleep(4 * tick)
			require.NoError(t, sup.Release())
			assert.Equal(t, StateStopped, sup.State())

			snaps, err := sup.Sink().ReadAll()
			require.NoError(t, err)
			require.GreaterOrEqual(t, len(snaps), 3)
			for _, snap := range snaps {
				assert.Equal(t, sampler.HashTaskID("7"), snap.TaskID)
				assert.Equal(t, uint64(12345), snap.Network[sampler.NetBytesRx]["lo"])
			}
			require.NoError(t, sup.Sink().Close())
		})
	}
}

func TestNoSnapshotsAfterRelease(t *testing.T) {
	sup, err := NewProcessSupervisor(testParams(t, sink.DriverSQLite, "7"), helperLauncher{mode: "sample"})
	require.NoError(t, err)
	defer sup.Sink().Close()

	require.NoError(t, sup.Acquire(context.Background()))
	time.Sleep(2 * tick)
	require.NoError(t, sup.Release())

	before, err := sup.Sink().ReadAll()
	require.NoError(t, err)

	time.Sleep(3 * tick)

	after, err := sup.Sink().ReadAll()
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))
}

func TestAcquireResetsPreviousReadings(t *testing.T) {
	params := testParams(t, sink.DriverSQLite, "7")

	stale, err := sink.Open(params.SinkDriver, params.SinkPath)
	require.NoError(t, err)
	require.NoError(t, stale.Reset())
	for i := 0; i < 10; i++ {
		require.NoError(t, stale.Append(sampler.Snapshot{TaskID: 99, Timestamp: time.Now()}))
	}
	require.NoError(t, stale.Close())

	sup, err := NewProcessSupervisor(params, helperLauncher{mode: "sample"})
	require.NoError(t, err)
	defer sup.Sink().Close()

	require.NoError(t, sup.Acquire(context.Background()))
	require.NoError(t, sup.Release())

	snaps, err := sup.Sink().ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, snaps)
	for _, snap := range snaps {
		assert.Equal(t, sampler.HashTaskID("7"), snap.TaskID)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	sup, err := NewProcessSupervisor(testParams(t, sink.DriverSQLite, "1"), helperLauncher{mode: "sample"})
	require.NoError(t, err)
	defer sup.Sink().Close()

	require.NoError(t, sup.Acquire(context.Background()))
	require.NoError(t, sup.Release())
	require.NoError(t, sup.Release())
	assert.Equal(t, StateStopped, sup.State())
	assert.Error(t, sup.Acquire(context.Background()))
}

func TestReleaseWithoutAcquire(t *testing.T) {
	sup, err := NewProcessSupervisor(testParams(t, sink.DriverSQLite, "1"), helperLauncher{mode: "sample"})
	require.NoError(t, err)

	require.NoError(t, sup.Release())
	assert.Equal(t, StateStopped, sup.State())
}

func TestAcquireFailures(t *testing.T) {
	tests := []struct {
		name     string
		launcher Launcher
	}{
		{"missing executable", SelfLauncher{Path: "/nonexistent/taskmon"}},
		{"child exits before first reading", helperLauncher{mode: "exit"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sup, err := NewProcessSupervisor(testParams(t, sink.DriverSQLite, "1"), tt.launcher)
			require.NoError(t, err)

			assert.Error(t, sup.Acquire(context.Background()))
			assert.Equal(t, StateIdle, sup.State())
			assert.Zero(t, sup.Pid())
			assert.NoError(t, sup.Release())
		})
	}
}

func TestNewRejectsBadParams(t *testing.T) {
	p := testParams(t, sink.DriverSQLite, "1")
	p.Interval = 0
	_, err := NewProcessSupervisor(p, helperLauncher{})
	assert.Error(t, err)

	p = testParams(t, "redis", "1")
	_, err = NewProcessSupervisor(p, helperLauncher{})
	assert.ErrorIs(t, err, sink.ErrUnknownDriver)
}

func TestNewPicksVariant(t *testing.T) {
	sup, err := New(false, Params{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &NoopSupervisor{}, sup)

	sup, err = New(true, testParams(t, sink.DriverSQLite, "1"), helperLauncher{mode: "sample"})
	require.NoError(t, err)
	assert.IsType(t, &ProcessSupervisor{}, sup)
}

func TestNoopSupervisor(t *testing.T) {
	sup := NewNoopSupervisor()

	require.NoError(t, sup.Acquire(context.Background()))
	assert.Equal(t, StateRunning, sup.State())
	require.NoError(t, sup.Release())
	require.NoError(t, sup.Release())

	snaps, err := sup.Sink().ReadAll()
	require.NoError(t, err)
	assert.NotNil(t, snaps)
	assert.Empty(t, snaps)
}

func TestParamsRoundTripThroughFlags(t *testing.T) {
	want := testParams(t, sink.DriverBolt, "task-42")
	want.HostStats = true

	var got Params
	fs := pflag.NewFlagSet(SampleCommand, pflag.ContinueOnError)
	BindFlags(fs, &got)
	require.NoError(t, fs.Parse(want.Args()))

	assert.Equal(t, want, got)
}

func TestSelfLauncherUsesSampleCommand(t *testing.T) {
	cmd, err := SelfLauncher{Path: "/usr/local/bin/taskmon"}.Command(DefaultParams("42"))
	require.NoError(t, err)

	assert.Equal(t, "/usr/local/bin/taskmon", cmd.Path)
	require.Greater(t, len(cmd.Args), 1)
	assert.Equal(t, SampleCommand, cmd.Args[1])
	assert.Contains(t, cmd.Args, "--task-id=42")
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		valid    bool
	}{
		{StateIdle, StateRunning, true},
		{StateIdle, StateStopped, true},
		{StateRunning, StateStopped, true},
		{StateRunning, StateIdle, false},
		{StateStopped, StateRunning, false},
		{StateStopped, StateIdle, false},
		{State(99), StateRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

// recordingSupervisor tracks guard calls
type recordingSupervisor struct {
	NoopSupervisor
	acquireErr error
	releaseErr error
	calls      []string
}

func (r *recordingSupervisor) Acquire(ctx context.Context) error {
	r.calls = append(r.calls, "acquire")
	return r.acquireErr
}

func (r *recordingSupervisor) Release() error {
	r.calls = append(r.calls, "release")
	return r.releaseErr
}

func TestWatchReleasesOnEveryPath(t *testing.T) {
	errTask := errors.New("task failed")

	t.Run("success", func(t *testing.T) {
		sup := &recordingSupervisor{}
		err := Watch(context.Background(), sup, func(ctx context.Context) error {
			sup.calls = append(sup.calls, "run")
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, []string{"acquire", "run", "release"}, sup.calls)
	})

	t.Run("error", func(t *testing.T) {
		sup := &recordingSupervisor{}
		err := Watch(context.Background(), sup, func(ctx context.Context) error { return errTask })
		assert.ErrorIs(t, err, errTask)
		assert.Equal(t, []string{"acquire", "release"}, sup.calls)
	})

	t.Run("panic", func(t *testing.T) {
		sup := &recordingSupervisor{}
		assert.Panics(t, func() {
			_ = Watch(context.Background(), sup, func(ctx context.Context) error { panic("boom") })
		})
		assert.Equal(t, []string{"acquire", "release"}, sup.calls)
	})

	t.Run("acquire fails", func(t *testing.T) {
		sup := &recordingSupervisor{acquireErr: errors.New("spawn failed")}
		ran := false
		err := Watch(context.Background(), sup, func(ctx context.Context) error {
			ran = true
			return nil
		})
		assert.NoError(t, err)
		assert.True(t, ran)
		assert.Equal(t, []string{"acquire", "release"}, sup.calls)
	})

	t.Run("release fails", func(t *testing.T) {
		errRelease := errors.New("kill failed")
		sup := &recordingSupervisor{releaseErr: errRelease}
		err := Watch(context.Background(), sup, func(ctx context.Context) error { return errTask })
		assert.ErrorIs(t, err, errTask)
		assert.ErrorIs(t, err, errRelease)
	})
}

type countingSampler struct {
	mu sync.Mutex
	n  int
}

func (c *countingSampler) Sample(ctx context.Context) sampler.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return sampler.Snapshot{TaskID: uint64(c.n), Timestamp: time.Now()}
}

func TestLoopAppendsUntilCanceled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loop.db")
	out := sink.NewSQLiteSink(path)
	defer out.Close()
	require.NoError(t, out.Reset())

	ctx, cancel := context.WithCancel(context.Background())
	readyCalls := 0
	done := make(chan error, 1)
	go func() {
		done <- Loop(ctx, &countingSampler{}, out, 10*time.Millisecond, func() { readyCalls++ })
	}()

	time.Sleep(55 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	snaps, err := out.ReadAll()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(snaps), 3)
	assert.Equal(t, 1, readyCalls)
	for i, snap := range snaps {
		assert.Equal(t, uint64(i+1), snap.TaskID)
	}
}

func TestReadyWriterSplitsLines(t *testing.T) {
	w := newReadyWriter(ReadyLine)

	_, _ = w.Write([]byte("noise\ntaskmon-sampler"))
	select {
	case <-w.C:
		t.Fatal("ready fired on a partial line")
	default:
	}

	_, _ = w.Write([]byte("-ready\n"))
	select {
	case <-w.C:
	default:
		t.Fatal("ready did not fire")
	}

	_, _ = w.Write([]byte(ReadyLine + "\n"))
}
