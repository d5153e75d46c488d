package storage

import (
	"context"
	"errors"
)

// ErrInvalidKey is returned for keys that are empty or escape the store root
var ErrInvalidKey = errors.New("invalid object key")

// Uploader stores one object under key. Implementations do not retry.
type Uploader interface {
	Put(ctx context.Context, key string, body []byte) error
}
