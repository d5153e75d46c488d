package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/psantana5/taskmon/internal/storage"
	"github.com/psantana5/taskmon/internal/task"
	"github.com/psantana5/taskmon/pkg/logging"
)

// Key defaults
const (
	DefaultKeyPrefix = "output/partial"
	DefaultKeySuffix = ".pickle"
)

// PublishError is returned when a result could not be stored
type PublishError struct {
	Op  string // "encode" or "upload"
	Key string
	Err error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Publisher encodes task outputs and uploads them under unique keys
type Publisher struct {
	store  storage.Uploader
	codec  Codec
	prefix string
	suffix string
	now    func() time.Time
	log    *logging.Logger
}

// Option configures a Publisher
type Option func(*Publisher)

// WithCodec sets the output encoding
func WithCodec(c Codec) Option {
	return func(p *Publisher) { p.codec = c }
}

// WithKeyFormat sets the key prefix and suffix
func WithKeyFormat(prefix, suffix string) Option {
	return func(p *Publisher) {
		if prefix != "" {
			p.prefix = prefix
		}
		p.suffix = suffix
	}
}

// WithClock overrides the key timestamp source
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}

// WithLogger sets the publisher logger
func WithLogger(log *logging.Logger) Option {
	return func(p *Publisher) {
		if log != nil {
			p.log = log
		}
	}
}

// New creates a publisher writing to store
func New(store storage.Uploader, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		codec:  ProtoCodec{},
		prefix: DefaultKeyPrefix,
		suffix: DefaultKeySuffix,
		now:    time.Now,
		log:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Key builds <prefix>_<id>_<unix millis><suffix>. Two calls for the same id
// in different milliseconds never collide; same-millisecond calls may.
func (p *Publisher) Key(id task.ID) string {
	return fmt.Sprintf("%s_%s_%d%s", p.prefix, id, p.now().UnixMilli(), p.suffix)
}

// Publish encodes output and stores it once, without retrying
func (p *Publisher) Publish(ctx context.Context, output any, id task.ID) (string, error) {
	key := p.Key(id)

	body, err := p.codec.Encode(output)
	if err != nil {
		return "", &PublishError{Op: "encode", Key: key, Err: err}
	}

	if err := p.store.Put(ctx, key, body); err != nil {
		return "", &PublishError{Op: "upload", Key: key, Err: err}
	}

	p.log.Info("result published", map[string]interface{}{
		"task_id": id.String(),
		"key":     key,
		"codec":   p.codec.Name(),
		"bytes":   len(body),
	})
	return key, nil
}
