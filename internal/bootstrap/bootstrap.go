package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/psantana5/taskmon/pkg/logging"
)

// Environment variables handed to exec tasks
const (
	EnvIncludePath = "TASKMON_INCLUDE_PATH"
	EnvCertPath    = "KRB5CCNAME"
	EnvS3AccessKey = "S3_ACCESS_KEY"
	EnvS3SecretKey = "S3_SECRET_KEY"
)

// Header is one analysis header shipped with the request.
// On the wire it is a [name, content] pair.
type Header struct {
	Name    string
	Content string
}

func (h *Header) UnmarshalJSON(b []byte) error {
	var pair []string
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("header must be a [name, content] pair: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("header must be a [name, content] pair, got %d elements", len(pair))
	}
	h.Name, h.Content = pair[0], pair[1]
	return nil
}

func (h Header) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string{h.Name, h.Content})
}

// DeclarationError is a header that was written but could not be declared.
// It never fails the invocation.
type DeclarationError struct {
	Header string
	Err    error
}

func (e *DeclarationError) Error() string {
	return fmt.Sprintf("could not declare header %s: %v", e.Header, e.Err)
}

func (e *DeclarationError) Unwrap() error { return e.Err }

// Request carries the per-invocation material
type Request struct {
	Cert        []byte
	Headers     []Header
	S3AccessKey string
	S3SecretKey string
}

// Prepared is the outcome of Prepare
type Prepared struct {
	TaskEnv  map[string]string
	Declared []string
	Failed   []*DeclarationError
}

// Environment writes credentials and headers into the invocation sandbox
type Environment struct {
	fs        afero.Fs
	certPath  string
	headerDir string
	declarer  Declarer
	log       *logging.Logger
}

// New creates an environment writing the credential file to certPath and
// headers under headerDir
func New(fs afero.Fs, certPath, headerDir string, declarer Declarer, log *logging.Logger) *Environment {
	if log == nil {
		log = logging.Nop()
	}
	if declarer == nil {
		declarer = NewIncludeDeclarer(fs)
	}
	return &Environment{
		fs:        fs,
		certPath:  certPath,
		headerDir: headerDir,
		declarer:  declarer,
		log:       log,
	}
}

// Prepare writes the certificate, then writes and declares every header.
// Write failures abort; declaration failures are logged and reported.
func (e *Environment) Prepare(ctx context.Context, req Request) (*Prepared, error) {
	if err := e.writeCert(req.Cert); err != nil {
		return nil, err
	}

	out := &Prepared{}
	for _, h := range req.Headers {
		path, err := e.writeHeader(h)
		if err != nil {
			return nil, err
		}

		e.log.Info("declaring header", map[string]interface{}{"header": h.Name})
		if err := e.declarer.Declare(ctx, path); err != nil {
			derr := &DeclarationError{Header: h.Name, Err: err}
			e.log.Error(derr.Error())
			out.Failed = append(out.Failed, derr)
			continue
		}
		out.Declared = append(out.Declared, h.Name)
	}

	out.TaskEnv = map[string]string{
		EnvCertPath:    e.certPath,
		EnvS3AccessKey: req.S3AccessKey,
		EnvS3SecretKey: req.S3SecretKey,
	}
	if inc, ok := e.declarer.(interface{ IncludePath() string }); ok {
		if p := inc.IncludePath(); p != "" {
			out.TaskEnv[EnvIncludePath] = p
		}
	}
	return out, nil
}

func (e *Environment) writeCert(cert []byte) error {
	if err := e.fs.MkdirAll(filepath.Dir(e.certPath), 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(e.certPath), err)
	}
	if err := afero.WriteFile(e.fs, e.certPath, cert, 0o600); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	return nil
}

func (e *Environment) writeHeader(h Header) (string, error) {
	if err := validHeaderName(h.Name); err != nil {
		return "", err
	}

	path := filepath.Join(e.headerDir, h.Name)
	if err := e.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := afero.WriteFile(e.fs, path, []byte(h.Content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write header %s: %w", h.Name, err)
	}
	return path, nil
}

// validHeaderName keeps header files inside the header directory
func validHeaderName(name string) error {
	clean := filepath.Clean(name)
	if name == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("invalid header name %q", name)
	}
	return nil
}
