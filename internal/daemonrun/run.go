// Package daemonrun owns process-level startup for the convertd daemon and
// worker: signal handling, logging, tracing, and construction of the store,
// blob backend, and tool registry.
package daemonrun

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"convertd/internal/blob"
	"convertd/internal/config"
	"convertd/internal/daemon"
	"convertd/internal/execution"
	"convertd/internal/logging"
	"convertd/internal/observability"
	"convertd/internal/plugin"
	"convertd/internal/plugin/gpxtool"
	"convertd/internal/preflight"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// TraceOutput receives spans when tracing is enabled. Defaults to stdout.
	TraceOutput io.Writer
}

type runtime struct {
	logger        *slog.Logger
	logPath       string
	store         *execution.Store
	blobs         blob.Store
	registry      *plugin.Registry
	stopTracing   func(context.Context) error
	removePIDFile func()
}

// Run starts the convertd daemon and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := setup(signalCtx, cfg, opts, "convertd")
	if err != nil {
		return err
	}
	defer rt.close()

	for _, failed := range preflight.Failed(preflight.RunAll(signalCtx, cfg)) {
		logging.WarnWithContext(rt.logger, "preflight check failed", "preflight_failed",
			logging.String("check", failed.Name),
			logging.String("detail", failed.Detail),
			logging.String(logging.FieldErrorHint, "run convertd preflight for the full report"),
		)
	}

	d, err := daemon.New(cfg, rt.store, rt.blobs, rt.registry, rt.logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(rt.logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check api.bind and that no other daemon uses this data_dir"),
		)
		return err
	}
	defer d.Stop()

	<-signalCtx.Done()
	rt.logger.Info("convertd daemon shutting down")
	return nil
}

// RunWorker starts the execution-side HTTP worker and blocks until SIGINT
// or SIGTERM.
func RunWorker(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := setup(signalCtx, cfg, opts, "convertd-worker")
	if err != nil {
		return err
	}
	defer rt.close()

	w, err := daemon.NewWorker(cfg, rt.store, rt.blobs, rt.registry, rt.logger)
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}
	if err := w.Start(signalCtx); err != nil {
		logging.ErrorWithContext(rt.logger, "worker start failed", "worker_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check worker.bind"),
		)
		return err
	}
	defer w.Stop()

	<-signalCtx.Done()
	rt.logger.Info("convertd worker shutting down")
	return nil
}

// OpenComponents builds the store, blob backend, and registry for cfg. The
// caller closes the store.
func OpenComponents(ctx context.Context, cfg *config.Config) (*execution.Store, blob.Store, *plugin.Registry, error) {
	if cfg == nil {
		return nil, nil, nil, fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, nil, nil, fmt.Errorf("ensure directories: %w", err)
	}
	registry, err := plugin.Build(cfg, gpxtool.Plugins()...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build tool registry: %w", err)
	}
	blobs, err := blob.New(ctx, cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open blob store: %w", err)
	}
	store, err := execution.Open(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open execution store: %w", err)
	}
	return store, blobs, registry, nil
}

func setup(ctx context.Context, cfg *config.Config, opts Options, name string) (*runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("%s-%s.log", name, runID))
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		Outputs:     []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, name+".log", logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update %s.log link: %v\n", name, err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, cfg.Paths.LogDir, name+"-*.log", logPath)

	traceOut := opts.TraceOutput
	if traceOut == nil {
		traceOut = os.Stdout
	}
	stopTracing, err := observability.InitTracing(ctx, cfg.Tracing, traceOut)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	pidPath := filepath.Join(cfg.Paths.DataDir, name+".pid")
	if err := writePIDFile(pidPath); err != nil {
		_ = stopTracing(context.Background())
		return nil, fmt.Errorf("write pid file: %w", err)
	}

	store, blobs, registry, err := OpenComponents(ctx, cfg)
	if err != nil {
		logger.Error("startup failed", logging.Error(err))
		_ = os.Remove(pidPath)
		_ = stopTracing(context.Background())
		return nil, err
	}

	logger.Info("runtime snapshot",
		logging.String(logging.FieldEventType, "runtime_snapshot"),
		logging.String("config", cfg.Summary()),
		logging.String("blob_backend", blobs.Backend()),
		logging.Int("tools", registry.Len()),
		logging.Bool("tracing", cfg.Tracing.Enabled),
	)

	return &runtime{
		logger:        logger,
		logPath:       logPath,
		store:         store,
		blobs:         blobs,
		registry:      registry,
		stopTracing:   stopTracing,
		removePIDFile: func() { _ = os.Remove(pidPath) },
	}, nil
}

func (rt *runtime) close() {
	if err := rt.store.Close(); err != nil {
		rt.logger.Warn("close execution store", logging.Error(err))
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.stopTracing(shutdownCtx); err != nil {
		rt.logger.Warn("flush traces", logging.Error(err))
	}
	rt.removePIDFile()
}

func ensureCurrentLogPointer(logDir, name, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, name)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
