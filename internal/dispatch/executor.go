package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"convertd/internal/blob"
	"convertd/internal/execution"
	"convertd/internal/logging"
	"convertd/internal/observability"
	"convertd/internal/plugin"
	"convertd/internal/services"
)

// Outcome reports what an Execute call did.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	// OutcomeDuplicate means the claim was refused: another attempt holds a
	// live lease, the record is terminal, or attempts are exhausted.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeAbandoned means the attempt lost ownership before its terminal
	// write: the record was deleted, re-claimed after a lapsed lease, or the
	// worker is shutting down.
	OutcomeAbandoned Outcome = "abandoned"
)

// User-facing failure messages. Raw error text only reaches error_message
// through a tool's own ExecutionError.
const (
	msgStorage     = "a storage error interrupted the conversion"
	msgTimeout     = "the conversion exceeded its time limit"
	msgInternal    = "the conversion failed unexpectedly"
	msgUnavailable = "the requested tool is not available on this worker"
)

const finishTimeout = 30 * time.Second

// fallbackRuntimeLeases sizes the runtime budget of tools registered without
// one, in multiples of the record's lease.
const fallbackRuntimeLeases = 3

var (
	errLeaseLost       = errors.New("execution lease lost")
	errRuntimeExceeded = errors.New("execution runtime budget exceeded")
)

// ExecutorOptions wires an Executor.
type ExecutorOptions struct {
	Store     *execution.Store
	Blobs     blob.Store
	Registry  *plugin.Registry
	WorkDir   string
	Heartbeat time.Duration
	Logger    *slog.Logger
}

// Executor is the execution side of the trigger protocol.
type Executor struct {
	store     *execution.Store
	blobs     blob.Store
	registry  *plugin.Registry
	workDir   string
	heartbeat time.Duration
	logger    *slog.Logger
}

// NewExecutor validates opts and builds an Executor.
func NewExecutor(opts ExecutorOptions) (*Executor, error) {
	if opts.Store == nil || opts.Blobs == nil || opts.Registry == nil {
		return nil, errors.New("executor requires store, blob store, and registry")
	}
	if opts.WorkDir == "" {
		return nil, errors.New("executor requires a work directory")
	}
	return &Executor{
		store:     opts.Store,
		blobs:     opts.Blobs,
		registry:  opts.Registry,
		workDir:   opts.WorkDir,
		heartbeat: opts.Heartbeat,
		logger:    logging.NewComponentLogger(opts.Logger, "executor"),
	}, nil
}

// Execute claims the execution and, if the claim succeeds, runs it to exactly
// one terminal transition. A refused claim is a successful no-op.
func (e *Executor) Execute(ctx context.Context, req TriggerRequest) (outcome Outcome, err error) {
	ctx = services.WithExecutionID(ctx, req.ExecutionID)
	ctx = services.WithTool(ctx, req.ToolName)
	ctx, span := observability.StartSpan(ctx, observability.SpanExecute, observability.ExecutionAttrs(req.ExecutionID, req.ToolName)...)
	defer func() {
		span.SetAttributes(observability.AttrOutcome.String(string(outcome)))
		observability.EndSpan(span, err)
	}()
	logger := logging.WithContext(ctx, e.logger)

	var claimed *execution.Record
	defer func() {
		if r := recover(); r != nil {
			outcome, err = e.recoverPanic(ctx, claimed, req.ToolName, r, logger)
		}
	}()

	rec, err := e.store.Claim(ctx, req.ExecutionID)
	switch {
	case errors.Is(err, execution.ErrNotClaimed):
		logger.Info("trigger ignored; execution not claimable",
			logging.String(logging.FieldEventType, "claim_refused"),
			logging.String("status", string(rec.Status)),
			logging.Int("attempt_count", rec.AttemptCount),
		)
		return OutcomeDuplicate, nil
	case errors.Is(err, execution.ErrNotFound):
		return "", services.Wrap(services.ErrNotFound, "executor", "claim", "execution not found", err)
	case err != nil:
		return "", services.Wrap(services.ErrStorage, "executor", "claim", "record store unavailable", err)
	}

	claimed = rec
	attempt := rec.AttemptCount
	span.SetAttributes(observability.AttrAttempt.Int(attempt))
	logger = logger.With(logging.Int(logging.FieldAttempt, attempt))
	logger.Info("execution claimed",
		logging.String(logging.FieldEventType, "execution_claimed"),
		logging.Int("max_attempts", rec.MaxAttempts),
		logging.Duration("lease", rec.Lease),
	)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	// The heartbeat observes runCtx, so renewals stop once the budget is spent
	// even when the tool ignores cancellation; the reaper takes it from there.
	budget := e.runtimeBudget(rec)
	if budget > 0 {
		var stopBudget context.CancelFunc
		runCtx, stopBudget = context.WithTimeoutCause(runCtx, budget, errRuntimeExceeded)
		defer stopBudget()
	}
	stopHeartbeat := e.startHeartbeat(runCtx, cancel, rec, attempt, logger)
	started := time.Now()
	outputRef, runErr := e.run(runCtx, rec, logger)
	stopHeartbeat()

	finishCtx, finishCancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer finishCancel()

	if cause := context.Cause(runCtx); cause != nil && (errors.Is(cause, errLeaseLost) || ctx.Err() != nil) {
		logging.WarnWithContext(logger, "execution abandoned before completion", "execution_abandoned",
			logging.Any("cause", cause),
			logging.String(logging.FieldImpact, "the reaper re-dispatches the execution once its lease lapses"),
		)
		return OutcomeAbandoned, nil
	}
	if runErr != nil && errors.Is(context.Cause(runCtx), errRuntimeExceeded) {
		runErr = services.Wrap(services.ErrTimeout, "executor", "run",
			fmt.Sprintf("exceeded runtime budget of %s: %v", budget, runErr), nil)
	}
	if runErr != nil {
		return e.fail(finishCtx, rec, attempt, runErr, logger)
	}
	return e.complete(finishCtx, rec, attempt, outputRef, time.Since(started), logger)
}

// runtimeBudget is the wall-clock cap of one attempt.
func (e *Executor) runtimeBudget(rec *execution.Record) time.Duration {
	if _, desc, err := e.registry.Lookup(rec.ToolName); err == nil && desc.MaxRuntime > 0 {
		return desc.MaxRuntime
	}
	return fallbackRuntimeLeases * rec.Lease
}

// recoverPanic turns a panic outside the tool run into a terminal failure of
// the claimed record. Before a claim there is nothing to fail.
func (e *Executor) recoverPanic(ctx context.Context, rec *execution.Record, tool string, value any, logger *slog.Logger) (Outcome, error) {
	panicErr := &plugin.PanicError{Tool: tool, Value: value, Stack: debug.Stack()}
	if rec == nil {
		logging.ErrorWithContext(logger, "executor panicked before claiming", "executor_panic",
			logging.Error(panicErr),
			logging.String("stack", string(panicErr.Stack)),
		)
		return "", panicErr
	}
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	return e.fail(finishCtx, rec, rec.AttemptCount, panicErr, logger)
}

func (e *Executor) run(ctx context.Context, rec *execution.Record, logger *slog.Logger) (ref string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &plugin.PanicError{Tool: rec.ToolName, Value: r, Stack: debug.Stack()}
		}
	}()

	p, desc, err := e.registry.Lookup(rec.ToolName)
	if err != nil {
		return "", err
	}
	inRef, err := blob.ParseRef(rec.InputRef)
	if err != nil {
		return "", services.Wrap(services.ErrStorage, "executor", "parse input ref", rec.InputRef, err)
	}
	src, err := e.blobs.Open(ctx, inRef)
	if err != nil {
		return "", services.Wrap(services.ErrStorage, "executor", "open input", inRef.String(), err)
	}
	defer src.Close()

	out, release, err := plugin.Run(ctx, p, src, plugin.Params(rec.Parameters), plugin.RunOptions{WorkDir: e.workDir, Logger: logger})
	if err != nil {
		return "", err
	}
	defer release()

	outRef := blob.OutputRef(desc.Category, rec.ID, desc.OutputExtension)
	if err := e.storeOutput(ctx, outRef, out.Path, logger); err != nil {
		return "", err
	}
	return outRef.String(), nil
}

func (e *Executor) storeOutput(ctx context.Context, ref blob.Ref, path string, logger *slog.Logger) error {
	file, err := os.Open(path)
	if err != nil {
		return services.Wrap(services.ErrStorage, "executor", "open output", path, err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return services.Wrap(services.ErrStorage, "executor", "stat output", path, err)
	}

	err = e.blobs.Put(ctx, ref, file, info.Size())
	switch {
	case errors.Is(err, blob.ErrExists):
		// Left by an earlier attempt that crashed between Put and Complete.
		logger.Info("output blob already staged; reusing it",
			logging.String(logging.FieldEventType, "output_reused"),
			logging.String("output_ref", ref.String()),
		)
		return nil
	case err != nil:
		return services.Wrap(services.ErrStorage, "executor", "stage output", ref.String(), err)
	}
	return nil
}

func (e *Executor) complete(ctx context.Context, rec *execution.Record, attempt int, outputRef string, elapsed time.Duration, logger *slog.Logger) (Outcome, error) {
	err := e.store.Complete(ctx, rec.ID, attempt, outputRef)
	if errors.Is(err, execution.ErrNotClaimed) {
		e.handleLostCompletion(ctx, rec, outputRef, logger)
		return OutcomeAbandoned, nil
	}
	if err != nil {
		return "", services.Wrap(services.ErrStorage, "executor", "complete", "record store unavailable", err)
	}
	logger.Info("execution completed",
		logging.String(logging.FieldEventType, "execution_completed"),
		logging.String("output_ref", outputRef),
		logging.Duration("elapsed", elapsed),
	)
	return OutcomeCompleted, nil
}

// handleLostCompletion removes the output when the record was deleted while
// the attempt ran. A record re-claimed by a later attempt keeps the blob,
// which that attempt will reuse.
func (e *Executor) handleLostCompletion(ctx context.Context, rec *execution.Record, outputRef string, logger *slog.Logger) {
	if _, err := e.store.Get(ctx, rec.ID); !errors.Is(err, execution.ErrNotFound) {
		logging.WarnWithContext(logger, "completion rejected; attempt no longer owns the execution", "completion_rejected",
			logging.String("output_ref", outputRef),
			logging.String(logging.FieldImpact, "result left for the attempt that now owns the record"),
		)
		return
	}
	ref, err := blob.ParseRef(outputRef)
	if err == nil {
		err = e.blobs.Delete(ctx, ref)
	}
	if err != nil {
		logging.WarnWithContext(logger, "orphan output cleanup failed", "orphan_cleanup_failed",
			logging.String("output_ref", outputRef),
			logging.Error(err),
			logging.String(logging.FieldImpact, "output blob remains without a record"),
		)
		return
	}
	logger.Info("execution deleted while running; output discarded",
		logging.String(logging.FieldEventType, "orphan_output_removed"),
		logging.String("output_ref", outputRef),
	)
}

func (e *Executor) fail(ctx context.Context, rec *execution.Record, attempt int, runErr error, logger *slog.Logger) (Outcome, error) {
	kind, message := failureFor(runErr)
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "execution_failed"),
		logging.String(logging.FieldErrorKind, string(kind)),
		logging.String("error_message", message),
		logging.Error(runErr),
	}
	var panicErr *plugin.PanicError
	if errors.As(runErr, &panicErr) {
		attrs = append(attrs, logging.String("stack", string(panicErr.Stack)))
	}
	logging.ErrorWithContext(logger, "execution failed", "execution_failed", attrs...)

	err := e.store.Fail(ctx, rec.ID, attempt, string(kind), message)
	if errors.Is(err, execution.ErrNotClaimed) {
		return OutcomeAbandoned, nil
	}
	if err != nil {
		return "", services.Wrap(services.ErrStorage, "executor", "fail", "record store unavailable", err)
	}
	return OutcomeFailed, nil
}

// failureFor maps a run error onto the persisted kind and user-safe message.
func failureFor(err error) (services.Kind, string) {
	var execErr *plugin.ExecutionError
	var validErr *plugin.ValidationError
	var notFound *plugin.NotFoundError
	switch {
	case errors.As(err, &execErr):
		return services.KindExecution, execErr.Message
	case errors.As(err, &validErr):
		return services.KindValidation, validErr.Message
	case errors.As(err, &notFound):
		return services.KindInternal, msgUnavailable
	}
	switch kind := services.Classify(err); kind {
	case services.KindStorage:
		return kind, msgStorage
	case services.KindTimeout:
		return kind, msgTimeout
	default:
		return services.KindInternal, msgInternal
	}
}

func (e *Executor) startHeartbeat(ctx context.Context, cancel context.CancelCauseFunc, rec *execution.Record, attempt int, logger *slog.Logger) func() {
	interval := e.heartbeat
	if rec.Lease > 0 && (interval <= 0 || interval >= rec.Lease) {
		interval = rec.Lease / 2
	}
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := e.store.ExtendLease(ctx, rec.ID, attempt)
				if errors.Is(err, execution.ErrNotClaimed) {
					cancel(errLeaseLost)
					return
				}
				if err != nil {
					logging.WarnWithContext(logger, "lease extension failed", "lease_extend_failed",
						logging.Error(err),
						logging.String(logging.FieldImpact, "the execution may be re-dispatched if the lease lapses"),
					)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

// String helps log lines and CLI output.
func (o Outcome) String() string {
	if o == "" {
		return "error"
	}
	return string(o)
}
