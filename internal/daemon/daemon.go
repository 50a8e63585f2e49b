package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/gofrs/flock"

	"convertd/internal/api"
	"convertd/internal/blob"
	"convertd/internal/config"
	"convertd/internal/dispatch"
	"convertd/internal/execution"
	"convertd/internal/gateway"
	"convertd/internal/httpx"
	"convertd/internal/logging"
	"convertd/internal/plugin"
	"convertd/internal/reaper"
	"convertd/internal/status"
)

// Daemon coordinates the API, dispatcher, worker pool, and reaper and
// enforces single-instance execution per data directory.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *execution.Store
	blobs    blob.Store
	registry *plugin.Registry

	pool       *dispatch.Pool
	dispatcher *dispatch.Dispatcher
	reaper     *reaper.Reaper
	api        *httpx.Listener

	lockPath string
	lock     *flock.Flock

	running    atomic.Bool
	cancel     context.CancelFunc
	reaperDone chan struct{}
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	APIAddress   string
	WorkerMode   string
	BlobBackend  string
	DatabasePath string
	LockFilePath string
	Tools        int
	Counts       map[execution.Status]int
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *execution.Store, blobs blob.Store, registry *plugin.Registry, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || blobs == nil || registry == nil {
		return nil, errors.New("daemon requires config, store, blob store, and registry")
	}
	logger = logging.NewComponentLogger(logger, "daemon")

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

	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		blobs:    blobs,
		registry: registry,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}

	var transport dispatch.Transport
	switch cfg.Worker.Mode {
	case config.WorkerRemote:
		transport, err = dispatch.NewHTTPTransport(cfg.Worker.Endpoint, cfg.Worker.Token, cfg.TriggerTimeout())
		if err != nil {
			return nil, fmt.Errorf("worker transport: %w", err)
		}
	default:
		d.pool = dispatch.NewPool(exec, cfg.Worker.Concurrency, cfg.Dispatch.QueueSize, logger)
		transport = d.pool
	}

	d.dispatcher, err = dispatch.NewDispatcher(dispatch.OptionsFromConfig(cfg, transport, store, logger))
	if err != nil {
		return nil, err
	}

	d.reaper, err = reaper.New(reaper.OptionsFromConfig(cfg, store, blobs, d.dispatcher, logger))
	if err != nil {
		return nil, err
	}

	gw, err := gateway.New(gateway.Options{
		Registry:       registry,
		Store:          store,
		Blobs:          blobs,
		Trigger:        d.dispatcher,
		Inline:         exec,
		MaxUploadBytes: cfg.API.MaxUploadBytes,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	handler, err := api.NewHandler(api.Options{
		Gateway:  gw,
		Status:   status.New(store, blobs, logger),
		Registry: registry,
		Store:    store,
		Token:    cfg.API.Token,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	d.api = httpx.NewListener("api-server", cfg.API.Bind, httpx.NewServer(handler, 0), logger)
	return d, nil
}

// Start acquires the daemon lock and launches every service.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another convertd daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if d.pool != nil {
		d.pool.Start(runCtx)
	}
	d.dispatcher.Start(runCtx)
	if err := d.api.Start(); err != nil {
		cancel()
		d.dispatcher.Stop()
		if d.pool != nil {
			d.pool.Stop()
		}
		_ = d.lock.Unlock()
		return fmt.Errorf("start api server: %w", err)
	}

	d.cancel = cancel
	d.reaperDone = make(chan struct{})
	go func() {
		defer close(d.reaperDone)
		d.reaper.Run(runCtx, d.cfg.SweepInterval())
	}()

	d.running.Store(true)
	d.logger.Info("convertd daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.Addr()),
		logging.String("worker_mode", d.cfg.Worker.Mode),
		logging.String("blob_backend", d.blobs.Backend()),
		logging.Int("tools", d.registry.Len()),
	)
	return nil
}

// Stop stops accepting requests, winds down background work, and releases
// the daemon lock. Executions interrupted mid-run keep their lease and are
// recovered by the next sweep after it lapses.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.api.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.dispatcher.Stop()
	if d.pool != nil {
		d.pool.Stop()
	}
	if d.reaperDone != nil {
		<-d.reaperDone
		d.reaperDone = nil
	}
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_unlock_failed", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("convertd daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// APIAddr returns the bound API address, or "" when stopped.
func (d *Daemon) APIAddr() string {
	return d.api.Addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	st := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		APIAddress:   d.api.Addr(),
		WorkerMode:   d.cfg.Worker.Mode,
		BlobBackend:  d.blobs.Backend(),
		DatabasePath: d.cfg.DatabasePath(),
		LockFilePath: d.lockPath,
		Tools:        d.registry.Len(),
	}
	if counts, err := d.store.Stats(ctx); err == nil {
		st.Counts = counts
	}
	return st
}
