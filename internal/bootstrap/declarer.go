package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

var errEmptyHeader = errors.New("header is empty")

// Declarer makes a written header visible to the analysis runtime
type Declarer interface {
	Declare(ctx context.Context, path string) error
}

// IncludeDeclarer checks each header and collects the directories that
// exec tasks receive as TASKMON_INCLUDE_PATH.
type IncludeDeclarer struct {
	fs afero.Fs

	mu   sync.Mutex
	dirs []string
}

// NewIncludeDeclarer creates a declarer reading from fs
func NewIncludeDeclarer(fs afero.Fs) *IncludeDeclarer {
	return &IncludeDeclarer{fs: fs}
}

func (d *IncludeDeclarer) Declare(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	info, err := d.fs.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	if info.Size() == 0 {
		return errEmptyHeader
	}

	dir := filepath.Dir(path)
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, known := range d.dirs {
		if known == dir {
			return nil
		}
	}
	d.dirs = append(d.dirs, dir)
	return nil
}

// IncludePath joins the declared directories in declaration order
func (d *IncludeDeclarer) IncludePath() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return strings.Join(d.dirs, string(filepath.ListSeparator))
}
