package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/psantana5/taskmon/internal/bootstrap"
	"github.com/psantana5/taskmon/internal/handler"
)

var (
	eventRange     string
	eventScript    string
	eventHeaders   []string
	eventCert      string
	eventAccessKey string
	eventSecretKey string
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Build an invocation event",
	Long: `Packs a task input, a task spec, headers and credentials into the base64
event the handler expects, and prints it as JSON.

Headers are given as name=path; the file content is shipped under name.`,
	Example: `  taskmon event --range range.json --script script.json \
    --header analysis.h=./analysis.h --cert /tmp/krb5cc_1000 > event.json`,
	RunE: runEvent,
}

func init() {
	rootCmd.AddCommand(eventCmd)

	eventCmd.Flags().StringVar(&eventRange, "range", "", "task input JSON file (must carry an id)")
	eventCmd.Flags().StringVar(&eventScript, "script", "", "task spec JSON file")
	eventCmd.Flags().StringArrayVar(&eventHeaders, "header", nil, "header as name=path (repeatable)")
	eventCmd.Flags().StringVar(&eventCert, "cert", "", "credential file shipped to the sandbox")
	eventCmd.Flags().StringVar(&eventAccessKey, "s3-access-key", os.Getenv(bootstrap.EnvS3AccessKey), "S3 access key handed to the task")
	eventCmd.Flags().StringVar(&eventSecretKey, "s3-secret-key", os.Getenv(bootstrap.EnvS3SecretKey), "S3 secret key handed to the task")
	eventCmd.MarkFlagRequired("range")
	eventCmd.MarkFlagRequired("script")
}

func runEvent(cmd *cobra.Command, args []string) error {
	req, err := buildRequest(eventRange, eventScript, eventHeaders, eventCert, eventAccessKey, eventSecretKey)
	if err != nil {
		return err
	}

	ev, err := handler.Encode(*req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(ev)
}

func buildRequest(rangePath, scriptPath string, headers []string, certPath, accessKey, secretKey string) (*handler.Request, error) {
	req := &handler.Request{S3AccessKey: accessKey, S3SecretKey: secretKey}

	if err := readJSONFile(rangePath, &req.Input); err != nil {
		return nil, fmt.Errorf("range: %w", err)
	}
	if err := readJSONFile(scriptPath, &req.Spec); err != nil {
		return nil, fmt.Errorf("script: %w", err)
	}

	for _, h := range headers {
		name, path, ok := strings.Cut(h, "=")
		if !ok {
			path = h
			name = filepath.Base(h)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("header %s: %w", name, err)
		}
		req.Headers = append(req.Headers, bootstrap.Header{Name: name, Content: string(content)})
	}

	if certPath != "" {
		cert, err := os.ReadFile(certPath)
		if err != nil {
			return nil, fmt.Errorf("cert: %w", err)
		}
		req.Cert = cert
	}
	return req, nil
}

func readJSONFile(path string, v interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
