package sink

import (
	"errors"
	"fmt"

	"github.com/psantana5/taskmon/internal/sampler"
)

// Drivers
const (
	DriverSQLite  = "sqlite"
	DriverBolt    = "bolt"
	DriverDiscard = "discard"
)

// ErrUnknownDriver is returned by Open for unsupported drivers
var ErrUnknownDriver = errors.New("unknown sink driver")

// Sink is the durable, append-only monitoring log of one invocation.
//
// It is addressed by path, never by a live handle: the sampler process
// appends, gets killed, and the invocation reads the log afterwards.
// Reset is called once before sampling starts, ReadAll once after it stopped.
type Sink interface {
	// Reset truncates the log, creating it if needed
	Reset() error
	// Append durably adds one snapshot
	Append(s sampler.Snapshot) error
	// ReadAll returns every snapshot in append order
	ReadAll() ([]sampler.Snapshot, error)
	// Close releases the handle. The log itself stays on disk.
	Close() error
}

// Open returns a sink for driver at path. The underlying store is opened
// lazily, so calling Open never takes a lock.
func Open(driver, path string) (Sink, error) {
	switch driver {
	case DriverSQLite:
		return NewSQLiteSink(path), nil
	case DriverBolt:
		return NewBoltSink(path), nil
	case DriverDiscard:
		return Discard{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// Discard is the sink of the disabled monitor: it accepts nothing and is
// always empty.
type Discard struct{}

func (Discard) Reset() error                         { return nil }
func (Discard) Append(sampler.Snapshot) error        { return nil }
func (Discard) ReadAll() ([]sampler.Snapshot, error) { return []sampler.Snapshot{}, nil }
func (Discard) Close() error                         { return nil }
