package monitor

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/pflag"

	"github.com/psantana5/taskmon/internal/sampler"
	"github.com/psantana5/taskmon/internal/sink"
)

// SampleCommand is the hidden subcommand the sampler child runs
const SampleCommand = "sample"

// Params is everything the sampler child needs. It crosses the process
// boundary as command-line flags.
type Params struct {
	TaskID     string
	SinkDriver string
	SinkPath   string
	Interval   time.Duration
	NetDevPath string
	HostStats  bool
}

// DefaultParams returns params for the default sqlite sink
func DefaultParams(taskID string) Params {
	return Params{
		TaskID:     taskID,
		SinkDriver: sink.DriverSQLite,
		SinkPath:   "/tmp/readings.db",
		Interval:   time.Second,
		NetDevPath: sampler.DefaultNetDevPath,
		HostStats:  true,
	}
}

// BindFlags registers the sampler flags on fs, writing into p
func BindFlags(fs *pflag.FlagSet, p *Params) {
	fs.StringVar(&p.TaskID, "task-id", p.TaskID, "task identifier tagged on every snapshot")
	fs.StringVar(&p.SinkDriver, "sink-driver", p.SinkDriver, "sink driver (sqlite, bolt)")
	fs.StringVar(&p.SinkPath, "sink-path", p.SinkPath, "sink file path")
	fs.DurationVar(&p.Interval, "interval", p.Interval, "sampling interval")
	fs.StringVar(&p.NetDevPath, "net-dev-path", p.NetDevPath, "interface counters file")
	fs.BoolVar(&p.HostStats, "host-stats", p.HostStats, "collect cpu, load and memory")
}

// Args renders p as the flags BindFlags parses
func (p Params) Args() []string {
	return []string{
		"--task-id=" + p.TaskID,
		"--sink-driver=" + p.SinkDriver,
		"--sink-path=" + p.SinkPath,
		"--interval=" + p.Interval.String(),
		"--net-dev-path=" + p.NetDevPath,
		fmt.Sprintf("--host-stats=%t", p.HostStats),
	}
}

// Launcher builds the command that runs the sampler child
type Launcher interface {
	Command(p Params) (*exec.Cmd, error)
}

// SelfLauncher re-executes the running binary with the sample subcommand
type SelfLauncher struct {
	// Path overrides the executable, mostly for tests
	Path string
}

func (l SelfLauncher) Command(p Params) (*exec.Cmd, error) {
	exe := l.Path
	if exe == "" {
		var err error
		exe, err = os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate executable: %w", err)
		}
	}
	return exec.Command(exe, append([]string{SampleCommand}, p.Args()...)...), nil
}
