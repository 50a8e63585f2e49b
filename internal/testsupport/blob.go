package testsupport

import (
	"testing"

	"convertd/internal/blob"
	"convertd/internal/config"
)

// NewBlobStore returns a filesystem blob store rooted at cfg.Paths.BlobDir.
func NewBlobStore(t testing.TB, cfg *config.Config) *blob.FSStore {
	t.Helper()

	store, err := blob.NewFSStore(cfg.Paths.BlobDir)
	if err != nil {
		t.Fatalf("blob.NewFSStore: %v", err)
	}
	return store
}
