// Package blob stores raw file content under opaque keys. The API layer
// never hands these keys to clients; they only exist to connect database
// records to their bytes.
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when no content exists for a key.
var ErrNotFound = errors.New("blob not found")

// Store reads and writes content blobs.
type Store interface {
	Save(ctx context.Context, key string, data []byte) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, key string) error
}
