package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// WorkspacePrefix starts the name of every workspace directory.
const WorkspacePrefix = "ws-"

// Workspace is the scratch directory of one attempt. Handles registered with
// Track are passed to Contract.Cleanup.
type Workspace struct {
	dir string

	mu      sync.Mutex
	handles []string
}

func newWorkspace(workDir, tool string) (*Workspace, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	dir, err := os.MkdirTemp(workDir, WorkspacePrefix+tool+"-")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{dir: dir}, nil
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// Path joins name onto the workspace directory.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, filepath.Base(name))
}

// Create opens a tracked file inside the workspace.
func (w *Workspace) Create(name string) (*os.File, error) {
	path := w.Path(name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	w.Track(path)
	return file, nil
}

// Track records a handle for Cleanup.
func (w *Workspace) Track(handle string) {
	w.mu.Lock()
	w.handles = append(w.handles, handle)
	w.mu.Unlock()
}

// Handles returns a copy of the tracked handles.
func (w *Workspace) Handles() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.handles...)
}

// Contains reports whether path lies inside the workspace.
func (w *Workspace) Contains(path string) bool {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *Workspace) remove() error {
	return os.RemoveAll(w.dir)
}
