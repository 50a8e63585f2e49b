package daemon

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"convertd/internal/blob"
	"convertd/internal/config"
	"convertd/internal/dispatch"
	"convertd/internal/execution"
	"convertd/internal/httpx"
	"convertd/internal/logging"
	"convertd/internal/plugin"
)

// Worker is the execution side of a remote deployment: the worker HTTP
// endpoint in front of a local pool. Several workers may share one store.
type Worker struct {
	cfg      *config.Config
	logger   *slog.Logger
	pool     *dispatch.Pool
	listener *httpx.Listener

	running atomic.Bool
	cancel  context.CancelFunc
}

// NewWorker builds a Worker listening on cfg.Worker.Bind.
func NewWorker(cfg *config.Config, store *execution.Store, blobs blob.Store, registry *plugin.Registry, logger *slog.Logger) (*Worker, error) {
	if cfg == nil || store == nil || blobs == nil || registry == nil {
		return nil, errors.New("worker requires config, store, blob store, and registry")
	}
	logger = logging.NewComponentLogger(logger, "worker")
	exec, err := dispatch.NewExecutor(dispatch.ExecutorOptions{
		Store:     store,
		Blobs:     blobs,
		Registry:  registry,
		WorkDir:   cfg.Paths.WorkDir,
		Heartbeat: cfg.HeartbeatInterval(),
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	pool := dispatch.NewPool(exec, cfg.Worker.Concurrency, cfg.Dispatch.QueueSize, logger)
	handler := dispatch.NewWorkerHandler(store, pool, cfg.Worker.Token, logger)
	return &Worker{
		cfg:      cfg,
		logger:   logger,
		pool:     pool,
		listener: httpx.NewListener("worker-api", cfg.Worker.Bind, httpx.NewServer(handler, 0), logger),
	}, nil
}

// Start launches the pool and the HTTP endpoint.
func (w *Worker) Start(ctx context.Context) error {
	if w.running.Load() {
		return errors.New("worker already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.pool.Start(runCtx)
	if err := w.listener.Start(); err != nil {
		cancel()
		w.pool.Stop()
		return err
	}
	w.cancel = cancel
	w.running.Store(true)
	w.logger.Info("convertd worker started",
		logging.String(logging.FieldEventType, "worker_started"),
		logging.String("address", w.listener.Addr()),
		logging.Int("concurrency", w.cfg.Worker.Concurrency),
	)
	return nil
}

// Addr returns the bound worker address.
func (w *Worker) Addr() string {
	return w.listener.Addr()
}

// Stop closes the endpoint and cancels in-flight executions.
func (w *Worker) Stop() {
	if !w.running.Load() {
		return
	}
	w.listener.Stop()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.pool.Stop()
	w.running.Store(false)
	w.logger.Info("convertd worker stopped", logging.String(logging.FieldEventType, "worker_stopped"))
}
