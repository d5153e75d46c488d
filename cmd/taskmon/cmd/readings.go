package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/taskmon/internal/sampler"
	"github.com/psantana5/taskmon/internal/sink"
)

var (
	readingsDriver string
	readingsPath   string
	readingsTask   string
)

var readingsCmd = &cobra.Command{
	Use:   "readings",
	Short: "Show the snapshots in a monitoring log",
	Long: `Reads every snapshot from a sink file left by a previous invocation.
Defaults come from the configuration; --task filters by task id.`,
	RunE: runReadings,
}

func init() {
	rootCmd.AddCommand(readingsCmd)
	readingsCmd.Flags().StringVar(&readingsDriver, "sink-driver", "", "sink driver (sqlite, bolt)")
	readingsCmd.Flags().StringVar(&readingsPath, "sink-path", "", "sink file path")
	readingsCmd.Flags().StringVar(&readingsTask, "task", "", "only snapshots tagged with this task id")
}

func runReadings(cmd *cobra.Command, args []string) error {
	driver, path := readingsDriver, readingsPath
	if driver == "" || path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if driver == "" {
			driver = cfg.SinkDriver
		}
		if path == "" {
			path = cfg.SinkPath
		}
	}

	s, err := sink.Open(driver, path)
	if err != nil {
		return err
	}
	defer s.Close()

	snaps, err := s.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if readingsTask != "" {
		snaps = filterByTask(snaps, sampler.HashTaskID(readingsTask))
	}

	if ok, err := printStructured(os.Stdout, snaps); ok {
		return err
	}
	return printReadingsTable(os.Stdout, snaps)
}

func filterByTask(snaps []sampler.Snapshot, tag uint64) []sampler.Snapshot {
	out := []sampler.Snapshot{}
	for _, s := range snaps {
		if s.TaskID == tag {
			out = append(out, s)
		}
	}
	return out
}

func printReadingsTable(w io.Writer, snaps []sampler.Snapshot) error {
	if len(snaps) == 0 {
		fmt.Fprintln(w, "No snapshots recorded")
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("Time", "Task", "Interface", "RX Bytes", "TX Bytes", "CPU %")

	for _, s := range snaps {
		cpu := "-"
		if v, ok := s.Host[sampler.HostCPUPercent]; ok {
			cpu = strconv.FormatFloat(v, 'f', 1, 64)
		}
		ifaces := s.Interfaces()
		if len(ifaces) == 0 {
			ifaces = []string{"-"}
		}
		for _, iface := range ifaces {
			table.Append(
				s.Timestamp.Format(time.RFC3339Nano),
				strconv.FormatUint(s.TaskID, 16),
				iface,
				counter(s, sampler.NetBytesRx, iface),
				counter(s, sampler.NetBytesTx, iface),
				cpu,
			)
		}
	}
	return table.Render()
}

func counter(s sampler.Snapshot, metric, iface string) string {
	v, ok := s.Network[metric][iface]
	if !ok {
		return "-"
	}
	return strconv.FormatUint(v, 10)
}
