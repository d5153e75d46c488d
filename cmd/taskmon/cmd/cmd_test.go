package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/taskmon/internal/handler"
	"github.com/psantana5/taskmon/internal/sampler"
	"github.com/psantana5/taskmon/internal/task"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBuildRequestRoundTripsThroughEvent(t *testing.T) {
	dir := t.TempDir()
	rangePath := writeFile(t, dir, "range.json", `{"id": 42, "start": 0}`)
	scriptPath := writeFile(t, dir, "script.json", `{"name": "exec", "command": ["analysis"]}`)
	headerPath := writeFile(t, dir, "analysis.h", "#pragma once\n")
	certPath := writeFile(t, dir, "cc", "krb5")

	req, err := buildRequest(rangePath, scriptPath, []string{"inc/analysis.h=" + headerPath, headerPath}, certPath, "AKIA", "secret")
	require.NoError(t, err)

	ev, err := handler.Encode(*req)
	require.NoError(t, err)
	got, err := ev.Decode()
	require.NoError(t, err)

	assert.Equal(t, task.ID("42"), got.Input.ID)
	assert.Equal(t, "exec", got.Spec.Name)
	require.Len(t, got.Headers, 2)
	assert.Equal(t, "inc/analysis.h", got.Headers[0].Name)
	assert.Equal(t, "analysis.h", got.Headers[1].Name)
	assert.Equal(t, "#pragma once\n", got.Headers[1].Content)
	assert.Equal(t, []byte("krb5"), got.Cert)
	assert.Equal(t, "AKIA", got.S3AccessKey)
}

func TestBuildRequestErrors(t *testing.T) {
	dir := t.TempDir()
	rangePath := writeFile(t, dir, "range.json", `{"id": 1}`)
	scriptPath := writeFile(t, dir, "script.json", `{"name": "echo"}`)

	_, err := buildRequest(filepath.Join(dir, "missing.json"), scriptPath, nil, "", "", "")
	assert.Error(t, err)

	_, err = buildRequest(writeFile(t, dir, "noid.json", `{"start": 1}`), scriptPath, nil, "", "", "")
	assert.ErrorIs(t, err, task.ErrMissingID)

	_, err = buildRequest(rangePath, scriptPath, []string{"x.h=" + filepath.Join(dir, "nope.h")}, "", "", "")
	assert.Error(t, err)
}

func TestReadingsOutput(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	snaps := []sampler.Snapshot{
		{
			Timestamp: ts,
			TaskID:    sampler.HashTaskID("7"),
			Network: map[string]map[string]uint64{
				sampler.NetBytesRx: {"eth0": 1000},
				sampler.NetBytesTx: {"eth0": 2000},
			},
			Host: map[string]float64{sampler.HostCPUPercent: 12.5},
		},
		{Timestamp: ts.Add(time.Second), TaskID: sampler.HashTaskID("8")},
	}

	filtered := filterByTask(snaps, sampler.HashTaskID("7"))
	require.Len(t, filtered, 1)
	assert.Empty(t, filterByTask(snaps, sampler.HashTaskID("9")))

	var buf bytes.Buffer
	require.NoError(t, printReadingsTable(&buf, filtered))
	out := buf.String()
	assert.Contains(t, out, "eth0")
	assert.Contains(t, out, "1000")
	assert.Contains(t, out, "2000")
	assert.Contains(t, out, "12.5")

	buf.Reset()
	require.NoError(t, printReadingsTable(&buf, nil))
	assert.Contains(t, buf.String(), "No snapshots recorded")
}

func TestPrintStructured(t *testing.T) {
	defer func(prev string) { outputFormat = prev }(outputFormat)

	tests := []struct {
		format  string
		handled bool
		want    string
		wantErr bool
	}{
		{"json", true, `"status": "ok"`, false},
		{"yaml", true, "status: ok", false},
		{"table", false, "", false},
		{"xml", true, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			outputFormat = tt.format
			var buf bytes.Buffer
			ok, err := printStructured(&buf, map[string]string{"status": "ok"})
			assert.Equal(t, tt.handled, ok)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}

func TestSampleCommandIsRegistered(t *testing.T) {
	c, _, err := rootCmd.Find([]string{"sample"})
	require.NoError(t, err)
	assert.True(t, c.Hidden)
	assert.NotNil(t, c.Flags().Lookup("task-id"))
	assert.NotNil(t, c.Flags().Lookup("sink-driver"))
}
