// Package blobstore abstracts the byte storage snapshots are written to.
//
// Backends exist for memory, the local filesystem, MinIO and AWS S3.
// Keys are forward-slash separated paths.
package blobstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("blobstore: blob not found")

// BlobStore stores immutable blobs under string keys. A Put to an existing
// key replaces the blob atomically.
//
// Implementations must be safe for concurrent use.
type BlobStore interface {
	// Put writes the blob read from r under key.
	Put(ctx context.Context, key string, r io.Reader) error

	// Get opens the blob stored under key. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the blob under key. Deleting a missing key returns
	// ErrNotFound.
	Delete(ctx context.Context, key string) error

	// Exists reports whether a blob is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns the keys under the given prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}
