package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/taskmon/internal/handler"
	"github.com/psantana5/taskmon/internal/pipeline"
)

var invokeEvent string

var invokeCmd = &cobra.Command{
	Use:   "invoke",
	Short: "Run one event locally",
	Long: `Reads an event (as produced by "taskmon event") and runs it through the
same handler the Lambda runtime uses. The response is printed on stdout.`,
	RunE: runInvoke,
}

func init() {
	rootCmd.AddCommand(invokeCmd)
	invokeCmd.Flags().StringVarP(&invokeEvent, "event", "e", "-", "event file, - for stdin")
}

func runInvoke(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	in, err := openInput(invokeEvent)
	if err != nil {
		return fmt.Errorf("failed to open event: %w", err)
	}
	var ev handler.Event
	err = json.NewDecoder(in).Decode(&ev)
	in.Close()
	if err != nil {
		return fmt.Errorf("failed to decode event: %w", err)
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	resp, err := a.Handle(ctx, ev)
	if err != nil {
		return err
	}

	if ok, err := printStructured(os.Stdout, resp); ok {
		return err
	}
	return printResponseTable(resp)
}

func printResponseTable(resp *pipeline.Response) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Status", "Filename", "Error Type", "Error Message", "Snapshots")

	snapshots := "-"
	if resp.OK() {
		snaps, err := resp.Readings()
		if err != nil {
			return fmt.Errorf("failed to decode readings: %w", err)
		}
		snapshots = strconv.Itoa(len(snaps))
	}

	table.Append(
		strconv.Itoa(resp.StatusCode),
		orDash(resp.Filename),
		orDash(resp.ErrorType),
		orDash(resp.ErrorMessage),
		snapshots,
	)
	return table.Render()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
