package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"

	"convertd/internal/blob"
	"convertd/internal/config"
	"convertd/internal/dispatch"
	"convertd/internal/execution"
	"convertd/internal/logging"
	"convertd/internal/observability"
	"convertd/internal/services"
)

const defaultBatchSize = 500

// Options wires a Reaper.
type Options struct {
	Store           *execution.Store
	Blobs           blob.Store
	Trigger         dispatch.Triggerer
	WorkDir         string
	LockPath        string
	Window          time.Duration
	WorkspaceMaxAge time.Duration
	BatchSize       int
	Logger          *slog.Logger
}

// OptionsFromConfig fills the config-derived fields of Options.
func OptionsFromConfig(cfg *config.Config, store *execution.Store, blobs blob.Store, trigger dispatch.Triggerer, logger *slog.Logger) Options {
	return Options{
		Store:           store,
		Blobs:           blobs,
		Trigger:         trigger,
		WorkDir:         cfg.Paths.WorkDir,
		LockPath:        cfg.ReaperLockPath(),
		Window:          cfg.RetentionWindow(),
		WorkspaceMaxAge: cfg.WorkspaceMaxAge(),
		Logger:          logger,
	}
}

// Result summarises one sweep.
type Result struct {
	// Skipped is set when another process held the sweep lock.
	Skipped           bool
	Retriggered       int
	Expired           int
	Reaped            int
	BlobErrors        int
	WorkspacesRemoved int
}

// Reaper runs sweeps.
type Reaper struct {
	store     *execution.Store
	blobs     blob.Store
	trigger   dispatch.Triggerer
	workDir   string
	lock      *flock.Flock
	window    time.Duration
	wsMaxAge  time.Duration
	batchSize int
	logger    *slog.Logger
}

// New validates opts.
func New(opts Options) (*Reaper, error) {
	if opts.Store == nil || opts.Blobs == nil || opts.Trigger == nil {
		return nil, errors.New("reaper requires store, blob store, and trigger")
	}
	if opts.LockPath == "" {
		return nil, errors.New("reaper requires a lock path")
	}
	if opts.Window <= 0 {
		return nil, errors.New("reaper retention window must be positive")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	return &Reaper{
		store:     opts.Store,
		blobs:     opts.Blobs,
		trigger:   opts.Trigger,
		workDir:   opts.WorkDir,
		lock:      flock.New(opts.LockPath),
		window:    opts.Window,
		wsMaxAge:  opts.WorkspaceMaxAge,
		batchSize: opts.BatchSize,
		logger:    logging.NewComponentLogger(opts.Logger, "reaper"),
	}, nil
}

// Sweep runs one pass. It returns Skipped when another process holds the lock.
func (r *Reaper) Sweep(ctx context.Context) (res Result, err error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanSweep)
	defer func() { observability.EndSpan(span, err) }()

	locked, err := r.lock.TryLock()
	if err != nil {
		return Result{}, fmt.Errorf("acquire reaper lock: %w", err)
	}
	if !locked {
		r.logger.Debug("sweep skipped; lock held elsewhere", logging.String("lock", r.lock.Path()))
		return Result{Skipped: true}, nil
	}
	defer func() {
		if unlockErr := r.lock.Unlock(); unlockErr != nil {
			logging.WarnWithContext(r.logger, "failed to release reaper lock", "reaper_unlock_failed", logging.Error(unlockErr))
		}
	}()

	if err := r.expireLeases(ctx, &res); err != nil {
		return res, err
	}
	if err := r.reapRetained(ctx, &res); err != nil {
		return res, err
	}
	ws := CleanStaleWorkspaces(ctx, r.workDir, r.wsMaxAge, time.Now(), r.logger)
	res.WorkspacesRemoved = len(ws.Removed)

	if res.Retriggered+res.Expired+res.Reaped+res.WorkspacesRemoved > 0 {
		r.logger.Info("sweep finished",
			logging.String(logging.FieldEventType, "sweep_finished"),
			logging.Int("retriggered", res.Retriggered),
			logging.Int("expired", res.Expired),
			logging.Int("reaped", res.Reaped),
			logging.Int("workspaces_removed", res.WorkspacesRemoved),
		)
	}
	return res, nil
}

func (r *Reaper) expireLeases(ctx context.Context, res *Result) error {
	expired, err := r.store.Expired(ctx)
	if err != nil {
		return fmt.Errorf("list expired executions: %w", err)
	}
	for _, rec := range expired {
		attrs := logging.ExecutionAttrs(rec.ID, rec.ToolName, rec.AttemptCount)
		if rec.AttemptsRemaining() {
			if err := r.trigger.Trigger(ctx, dispatch.RequestFor(rec)); err != nil {
				logging.WarnWithContext(r.logger, "re-dispatch failed", "redispatch_failed",
					append(attrs, logging.Error(err), logging.String(logging.FieldImpact, "next sweep retries"))...)
				continue
			}
			res.Retriggered++
			r.logger.Info("execution re-dispatched",
				logging.Args(append(attrs,
					logging.String(logging.FieldEventType, "execution_redispatched"),
					logging.String("status", string(rec.Status)),
				)...)...)
			continue
		}

		message := fmt.Sprintf("execution timed out after %d attempts", rec.AttemptCount)
		err := r.store.ForceExpire(ctx, rec.ID, rec.AttemptCount, string(services.KindTimeout), message)
		if errors.Is(err, execution.ErrNotClaimed) {
			continue
		}
		if err != nil {
			return fmt.Errorf("expire %s: %w", rec.ID, err)
		}
		res.Expired++
		r.logger.Info("execution timed out",
			logging.Args(append(attrs,
				logging.String(logging.FieldEventType, "execution_timed_out"),
				logging.String(logging.FieldErrorKind, string(services.KindTimeout)),
			)...)...)
	}
	return nil
}

func (r *Reaper) reapRetained(ctx context.Context, res *Result) error {
	candidates, cutoff, err := r.store.ReapCandidates(ctx, r.window, r.batchSize)
	if err != nil {
		return fmt.Errorf("list reap candidates: %w", err)
	}
	for _, rec := range candidates {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		deleted, err := r.store.DeleteIfReapable(ctx, rec.ID, cutoff)
		if err != nil {
			return err
		}
		if !deleted {
			continue
		}
		res.Reaped++
		for _, raw := range []string{rec.InputRef, rec.OutputRef} {
			if raw == "" {
				continue
			}
			ref, err := blob.ParseRef(raw)
			if err == nil {
				err = r.blobs.Delete(ctx, ref)
			}
			if err != nil {
				res.BlobErrors++
				logging.WarnWithContext(r.logger, "blob removal failed", "reap_blob_failed",
					logging.String(logging.FieldExecutionID, rec.ID),
					logging.String("blob_ref", raw),
					logging.Error(err),
					logging.String(logging.FieldImpact, "orphan blob remains in storage"),
				)
			}
		}
	}
	return nil
}

// Run sweeps immediately and then every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			logging.ErrorWithContext(r.logger, "sweep failed", "sweep_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the execution database and blob storage"),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
