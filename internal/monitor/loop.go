package monitor

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/psantana5/taskmon/internal/sampler"
	"github.com/psantana5/taskmon/internal/sink"
	"github.com/psantana5/taskmon/pkg/logging"
)

// ReadyLine is written by the sampler child once its first snapshot is durable
const ReadyLine = "taskmon-sampler-ready"

// Loop samples and appends once per interval until ctx is done.
// ready is called once, right after the first successful append.
func Loop(ctx context.Context, s sampler.Sampler, out sink.Sink, interval time.Duration, ready func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := out.Append(s.Sample(ctx)); err != nil {
			return fmt.Errorf("failed to append snapshot: %w", err)
		}
		if ready != nil {
			ready()
			ready = nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunSampler is the body of the sampler child. It runs until killed or ctx
// is done. The sink was reset by the parent and is only appended to here.
func RunSampler(ctx context.Context, p Params, stdout io.Writer, log *logging.Logger) error {
	if log == nil {
		log = logging.Nop()
	}

	out, err := sink.Open(p.SinkDriver, p.SinkPath)
	if err != nil {
		return err
	}
	defer out.Close()

	opts := []sampler.Option{sampler.WithNetDevPath(p.NetDevPath)}
	if !p.HostStats {
		opts = append(opts, sampler.WithoutHostStats())
	}
	s := sampler.NewHostSampler(sampler.HashTaskID(p.TaskID), opts...)

	log.Debug("sampler loop starting", map[string]interface{}{
		"task_id":  p.TaskID,
		"sink":     p.SinkDriver,
		"interval": p.Interval.String(),
	})

	return Loop(ctx, s, out, p.Interval, func() {
		fmt.Fprintln(stdout, ReadyLine)
	})
}
