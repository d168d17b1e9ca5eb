// Package driven defines the driven ports of the merge pipeline: the narrow
// interfaces behind which external collaborators (blob store, relational
// datastore, lock service, task queue) are consumed.
package driven

import (
	"context"
	"errors"
)

// Sentinel errors returned by ArchiveStore implementations. Callers classify
// on these rather than on implementation-specific error types.
var (
	// ErrNotFound means the path does not exist. Most read paths treat this
	// as absence, not failure.
	ErrNotFound = errors.New("archive: not found")
	// ErrRateLimited means the store throttled the request. Distinguished
	// from generic I/O errors so callers can choose a longer backoff.
	ErrRateLimited = errors.New("archive: rate limited")
)

// ArchiveStore is the content-addressed blob store port. Paths are opaque to
// the store; the archive adapter's path builder keeps them deterministic so a
// repository's entire footprint can be enumerated and deleted by prefix.
type ArchiveStore interface {
	Write(ctx context.Context, path string, data []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	// DeleteMany removes all given paths, ignoring ones that never existed.
	DeleteMany(ctx context.Context, paths []string) error
	ListPrefix(ctx context.Context, prefix string) ([]string, error)
}
