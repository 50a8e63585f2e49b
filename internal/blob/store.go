package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"convertd/internal/config"
)

var (
	// ErrNotFound indicates no blob exists at the ref.
	ErrNotFound = errors.New("blob not found")
	// ErrExists indicates a write to a ref that already holds bytes.
	ErrExists = errors.New("blob already exists")
)

// Info describes a stored blob.
type Info struct {
	Size    int64
	ModTime time.Time
}

// Store is the blob staging contract shared by every backend.
type Store interface {
	// Put writes r to ref. Size may be -1 when unknown. Writing to an occupied
	// ref returns ErrExists and leaves the stored bytes untouched.
	Put(ctx context.Context, ref Ref, r io.Reader, size int64) error
	// Open streams the blob at ref or returns ErrNotFound.
	Open(ctx context.Context, ref Ref) (io.ReadCloser, error)
	// Stat describes the blob at ref or returns ErrNotFound.
	Stat(ctx context.Context, ref Ref) (Info, error)
	// Delete removes the blob. Missing blobs are not an error.
	Delete(ctx context.Context, ref Ref) error
	// Backend names the implementation for logs and diagnostics.
	Backend() string
}

// New builds the configured backend.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Storage.Backend {
	case config.StorageFS:
		return NewFSStore(cfg.Paths.BlobDir)
	case config.StorageMinIO:
		return NewMinIOStore(ctx, cfg.Storage.MinIO)
	default:
		return nil, fmt.Errorf("blob backend: unsupported value %q", cfg.Storage.Backend)
	}
}

// Exists reports whether ref currently holds a blob.
func Exists(ctx context.Context, store Store, ref Ref) (bool, error) {
	_, err := store.Stat(ctx, ref)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
