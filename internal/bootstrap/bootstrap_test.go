package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareWritesCertAndHeaders(t *testing.T) {
	fs := afero.NewMemMapFs()
	env := New(fs, "/tmp/certs", "/tmp", nil, nil)

	prepared, err := env.Prepare(context.Background(), Request{
		Cert: []byte("krb5 ticket"),
		Headers: []Header{
			{Name: "analysis.h", Content: "#pragma once\n"},
			{Name: "lib/helpers.h", Content: "int f();\n"},
		},
		S3AccessKey: "AKIA",
		S3SecretKey: "secret",
	})
	require.NoError(t, err)

	cert, err := afero.ReadFile(fs, "/tmp/certs")
	require.NoError(t, err)
	assert.Equal(t, "krb5 ticket", string(cert))

	header, err := afero.ReadFile(fs, "/tmp/lib/helpers.h")
	require.NoError(t, err)
	assert.Equal(t, "int f();\n", string(header))

	assert.Equal(t, []string{"analysis.h", "lib/helpers.h"}, prepared.Declared)
	assert.Empty(t, prepared.Failed)
	assert.Equal(t, map[string]string{
		EnvCertPath:    "/tmp/certs",
		EnvS3AccessKey: "AKIA",
		EnvS3SecretKey: "secret",
		EnvIncludePath: "/tmp:/tmp/lib",
	}, prepared.TaskEnv)
}

type failingDeclarer struct {
	fail map[string]bool
	seen []string
}

func (f *failingDeclarer) Declare(_ context.Context, path string) error {
	f.seen = append(f.seen, path)
	if f.fail[path] {
		return errors.New("syntax error")
	}
	return nil
}

func TestDeclarationFailuresDoNotAbort(t *testing.T) {
	declarer := &failingDeclarer{fail: map[string]bool{"/hdr/bad.h": true}}
	env := New(afero.NewMemMapFs(), "/certs/cc", "/hdr", declarer, nil)

	prepared, err := env.Prepare(context.Background(), Request{
		Headers: []Header{{Name: "bad.h", Content: "x"}, {Name: "good.h", Content: "y"}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"/hdr/bad.h", "/hdr/good.h"}, declarer.seen)
	assert.Equal(t, []string{"good.h"}, prepared.Declared)
	require.Len(t, prepared.Failed, 1)
	assert.Equal(t, "bad.h", prepared.Failed[0].Header)

	var derr *DeclarationError
	assert.ErrorAs(t, prepared.Failed[0], &derr)
	_, hasInclude := prepared.TaskEnv[EnvIncludePath]
	assert.False(t, hasInclude)
}

func TestEmptyHeaderIsNotDeclared(t *testing.T) {
	env := New(afero.NewMemMapFs(), "/tmp/certs", "/tmp", nil, nil)

	prepared, err := env.Prepare(context.Background(), Request{
		Headers: []Header{{Name: "empty.h", Content: ""}},
	})
	require.NoError(t, err)
	require.Len(t, prepared.Failed, 1)
	assert.ErrorIs(t, prepared.Failed[0], errEmptyHeader)
}

func TestPrepareRejectsEscapingHeaderNames(t *testing.T) {
	for _, name := range []string{"", "../etc/passwd", "/etc/passwd", "a/../../b.h"} {
		t.Run(name, func(t *testing.T) {
			env := New(afero.NewMemMapFs(), "/tmp/certs", "/tmp/headers", nil, nil)
			_, err := env.Prepare(context.Background(), Request{
				Headers: []Header{{Name: name, Content: "x"}},
			})
			assert.Error(t, err)
		})
	}
}

func TestPrepareFailsOnReadOnlyFilesystem(t *testing.T) {
	env := New(afero.NewReadOnlyFs(afero.NewMemMapFs()), "/tmp/certs", "/tmp", nil, nil)
	_, err := env.Prepare(context.Background(), Request{Cert: []byte("x")})
	assert.Error(t, err)
}

func TestHeaderWireFormat(t *testing.T) {
	var headers []Header
	require.NoError(t, json.Unmarshal([]byte(`[["a.h", "int a;"], ["b.h", ""]]`), &headers))
	assert.Equal(t, []Header{{"a.h", "int a;"}, {"b.h", ""}}, headers)

	b, err := json.Marshal(headers[0])
	require.NoError(t, err)
	assert.JSONEq(t, `["a.h", "int a;"]`, string(b))

	assert.Error(t, json.Unmarshal([]byte(`[["only-name"]]`), &headers))
	assert.Error(t, json.Unmarshal([]byte(`[{"name": "a.h"}]`), &headers))
}
