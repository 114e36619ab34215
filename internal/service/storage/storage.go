// Package storage defines the object storage contract used for recorded audio.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no object exists at the path.
var ErrNotFound = errors.New("object not found")

// ObjectStore stores opaque objects by path. Put overwrites existing objects.
type ObjectStore interface {
	Put(ctx context.Context, path string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	PublicURL(path string) string
}
