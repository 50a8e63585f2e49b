package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"

	"convertd/internal/logging"
)

// RunOptions configures Run.
type RunOptions struct {
	WorkDir string
	Logger  *slog.Logger
}

// Run invokes p.Process inside a fresh workspace. On success the caller reads
// the output and must then call release. On failure release has already run
// and the returned func is a no-op. Either way Cleanup is called exactly once,
// including when Process panics.
func Run(ctx context.Context, p Contract, src io.Reader, params Params, opts RunOptions) (Output, func(), error) {
	desc := p.Descriptor()
	logger := logging.NewComponentLogger(opts.Logger, "plugin").With(logging.String(logging.FieldTool, desc.Name))

	ws, err := newWorkspace(opts.WorkDir, desc.Name)
	if err != nil {
		return Output{}, func() {}, err
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			cleanup(p, ws, logger)
		})
	}

	out, err := process(ctx, p, ws, src, params)
	if err == nil {
		err = checkOutput(ws, out)
	}
	if err != nil {
		release()
		return Output{}, func() {}, err
	}
	return out, release, nil
}

func process(ctx context.Context, p Contract, ws *Workspace, src io.Reader, params Params) (out Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Tool: p.Descriptor().Name, Value: r, Stack: debug.Stack()}
		}
	}()
	return p.Process(ctx, ws, src, params)
}

func checkOutput(ws *Workspace, out Output) error {
	if out.Path == "" {
		return errors.New("tool returned no output path")
	}
	if !ws.Contains(out.Path) {
		return fmt.Errorf("tool output %s is outside its workspace", out.Path)
	}
	info, err := os.Stat(out.Path)
	if err != nil {
		return fmt.Errorf("stat tool output: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("tool output %s is not a regular file", out.Path)
	}
	return nil
}

func cleanup(p Contract, ws *Workspace, logger *slog.Logger) {
	func() {
		defer func() {
			if r := recover(); r != nil {
				logging.WarnWithContext(logger, "tool cleanup panicked", "plugin_cleanup_failed",
					logging.Any("panic", r),
					logging.String(logging.FieldImpact, "temporary files may remain until workspace removal"),
				)
			}
		}()
		p.Cleanup(ws.Handles())
	}()
	if err := ws.remove(); err != nil {
		logging.WarnWithContext(logger, "workspace removal failed", "workspace_cleanup_failed",
			logging.String("workspace", ws.Dir()),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale workspace left for the reaper"),
			logging.String(logging.FieldErrorHint, "check permissions on the work directory"),
		)
	}
}
