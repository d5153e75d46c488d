package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/psantana5/taskmon/internal/monitor"
	"github.com/psantana5/taskmon/pkg/logging"
)

var sampleParams = monitor.DefaultParams("")

// sampleCmd is the sampler child. The supervisor re-executes this binary
// with it; it is not meant to be run by hand.
var sampleCmd = &cobra.Command{
	Use:    monitor.SampleCommand,
	Short:  "Run the resource sampler loop",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// stdout carries the readiness line, so logs go to stderr
		log := logging.NewWriterLogger(os.Stderr, logging.ParseLevel(os.Getenv("TASKMON_LOG_LEVEL")), true).
			WithField("component", "sampler")
		return monitor.RunSampler(ctx, sampleParams, cmd.OutOrStdout(), log)
	},
}

func init() {
	rootCmd.AddCommand(sampleCmd)
	monitor.BindFlags(sampleCmd.Flags(), &sampleParams)
}
