// Package blob defines the storage-type-agnostic object store used for
// image bytes.
//
// Keys follow a two-namespace convention: uploaded originals live under
// "original/" and canonical derivatives under "processed/". Backends must
// preserve byte-exact round-trips.
package blob

import (
	"context"
	"errors"
	"time"
)

// Namespaces for blob keys.
const (
	NamespaceOriginal  = "original"
	NamespaceProcessed = "processed"
)

// Sentinel errors shared by blob store implementations.
var (
	// ErrBlobNotFound is returned by Get when the key does not exist.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrUnavailable is returned on transient backend failures.
	ErrUnavailable = errors.New("blob store unavailable")
)

// Store is a pluggable object store for image bytes.
type Store interface {
	// Put stores data under namespace/key and returns the stored key.
	// Put is idempotent by key and the returned key is stable.
	Put(ctx context.Context, namespace, key string, data []byte, contentType string) (string, error)

	// Get returns the bytes stored under key, or ErrBlobNotFound /
	// ErrUnavailable.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the blob. Missing keys are a silent no-op.
	Delete(ctx context.Context, key string) error

	// SignedURL mints a time-bounded read URL for the key. Local backends
	// may return a plain URL served by the static file handler.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}
