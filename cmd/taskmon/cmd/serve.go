package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"

	"github.com/psantana5/taskmon/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve invocations",
	Long: `Without --http, serve registers with the Lambda runtime API and handles
invocations until the sandbox is torn down. With --http, the same handler is
exposed on a local HTTP server together with /metrics, /failures and /health.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "http", "", "listen address for local HTTP mode, e.g. :9000")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	if serveAddr == "" {
		// lambda.Start never returns; spans are flushed per invocation
		lambda.StartWithOptions(a.Handle, lambda.WithEnableSIGTERM(func() {
			a.close(context.Background())
		}))
		return nil
	}

	srv := server.New(a, a.metrics, a.failures, a.log).HTTPServer(serveAddr)
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("listening", map[string]interface{}{"addr": serveAddr, "invoke": server.InvocationPath})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err = srv.Shutdown(shutdownCtx)
	}
	a.close(context.Background())

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
