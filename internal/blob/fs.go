package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const tempDirName = ".incoming"

// FSStore keeps blobs under Root/<container>/<key>.
type FSStore struct {
	root string
}

// NewFSStore prepares root for blob storage.
func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		return nil, errors.New("fs blob store: root directory is required")
	}
	if err := os.MkdirAll(filepath.Join(root, tempDirName), 0o755); err != nil {
		return nil, fmt.Errorf("fs blob store: create root: %w", err)
	}
	return &FSStore{root: root}, nil
}

// Root returns the storage directory.
func (s *FSStore) Root() string {
	return s.root
}

// Backend implements Store.
func (s *FSStore) Backend() string {
	return "fs"
}

func (s *FSStore) path(ref Ref) (string, error) {
	if err := ref.Validate(); err != nil {
		return "", err
	}
	return filepath.Join(s.root, ref.Container, ref.Key), nil
}

// Put writes to a temp file, syncs it, then hard-links it into place. The link
// fails if the target exists, which is what keeps refs write-once.
func (s *FSStore) Put(ctx context.Context, ref Ref, r io.Reader, size int64) error {
	target, err := s.path(ref)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create container dir: %w", err)
	}
	if _, err := os.Lstat(target); err == nil {
		return fmt.Errorf("put %s: %w", ref, ErrExists)
	}

	tmp, err := os.CreateTemp(filepath.Join(s.root, tempDirName), "put-*")
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	written, copyErr := io.Copy(tmp, contextReader{ctx: ctx, r: r})
	if copyErr == nil {
		copyErr = tmp.Sync()
	}
	if closeErr := tmp.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		return fmt.Errorf("write blob %s: %w", ref, copyErr)
	}
	if size >= 0 && written != size {
		return fmt.Errorf("write blob %s: short write (%d of %d bytes)", ref, written, size)
	}

	if err := os.Link(tmpPath, target); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("put %s: %w", ref, ErrExists)
		}
		return fmt.Errorf("commit blob %s: %w", ref, err)
	}
	return nil
}

// Open implements Store.
func (s *FSStore) Open(_ context.Context, ref Ref) (io.ReadCloser, error) {
	target, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("open %s: %w", ref, ErrNotFound)
		}
		return nil, fmt.Errorf("open blob %s: %w", ref, err)
	}
	return file, nil
}

// Stat implements Store.
func (s *FSStore) Stat(_ context.Context, ref Ref) (Info, error) {
	target, err := s.path(ref)
	if err != nil {
		return Info{}, err
	}
	info, err := os.Stat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Info{}, fmt.Errorf("stat %s: %w", ref, ErrNotFound)
		}
		return Info{}, fmt.Errorf("stat blob %s: %w", ref, err)
	}
	return Info{Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Delete implements Store.
func (s *FSStore) Delete(_ context.Context, ref Ref) error {
	target, err := s.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob %s: %w", ref, err)
	}
	return nil
}

// FreeBytes reports space available to unprivileged writers at path.
func FreeBytes(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
