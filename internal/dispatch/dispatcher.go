package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"convertd/internal/config"
	"convertd/internal/execution"
	"convertd/internal/logging"
	"convertd/internal/observability"
	"convertd/internal/services"
)

// MsgUnreachable is stored when trigger delivery exhausts its retries.
const MsgUnreachable = "could not reach a worker"

const msgRejected = "the worker rejected the execution"

// Options configures a Dispatcher.
type Options struct {
	Transport      Transport
	Store          *execution.Store
	Senders        int
	QueueSize      int
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	SendTimeout    time.Duration
	Logger         *slog.Logger
}

// OptionsFromConfig fills Options from cfg.Dispatch.
func OptionsFromConfig(cfg *config.Config, transport Transport, store *execution.Store, logger *slog.Logger) Options {
	initial, maxBackoff := cfg.TriggerBackoff()
	return Options{
		Transport:      transport,
		Store:          store,
		Senders:        cfg.Dispatch.Senders,
		QueueSize:      cfg.Dispatch.QueueSize,
		Attempts:       cfg.Dispatch.TriggerAttempts,
		InitialBackoff: initial,
		MaxBackoff:     maxBackoff,
		SendTimeout:    cfg.TriggerTimeout(),
		Logger:         logger,
	}
}

// Dispatcher is the trigger side. Trigger enqueues; a pool of senders
// delivers with retries.
type Dispatcher struct {
	transport      Transport
	store          *execution.Store
	senders        int
	attempts       int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	sendTimeout    time.Duration
	logger         *slog.Logger

	queue chan TriggerRequest

	mu       sync.Mutex
	inflight map[string]struct{}
	running  bool
	ctx      context.Context
	quit     chan struct{}
	wg       sync.WaitGroup
}

// NewDispatcher validates opts.
func NewDispatcher(opts Options) (*Dispatcher, error) {
	if opts.Transport == nil || opts.Store == nil {
		return nil, errors.New("dispatcher requires a transport and a record store")
	}
	if opts.Senders <= 0 {
		opts.Senders = 1
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 100 * time.Millisecond
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	return &Dispatcher{
		transport:      opts.Transport,
		store:          opts.Store,
		senders:        opts.Senders,
		attempts:       opts.Attempts,
		initialBackoff: opts.InitialBackoff,
		maxBackoff:     opts.MaxBackoff,
		sendTimeout:    opts.SendTimeout,
		logger:         logging.NewComponentLogger(opts.Logger, "dispatcher"),
		queue:          make(chan TriggerRequest, opts.QueueSize),
		inflight:       make(map[string]struct{}),
	}, nil
}

// Start launches the sender pool. Deliveries observe ctx.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.ctx = ctx
	d.quit = make(chan struct{})
	for i := 0; i < d.senders; i++ {
		d.wg.Add(1)
		go d.sender()
	}
}

// Stop lets the senders drain the queue, then waits for them. Cancel the
// Start context first to abandon queued deliveries instead.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.quit)
	d.mu.Unlock()
	d.wg.Wait()
}

// Trigger enqueues req for delivery. A trigger already queued or being
// delivered for the same execution is collapsed into the existing one.
// Trigger blocks only while the queue is full.
func (d *Dispatcher) Trigger(ctx context.Context, req TriggerRequest) error {
	if err := req.Validate(); err != nil {
		return services.Wrap(services.ErrValidation, "dispatcher", "trigger", "invalid trigger", err)
	}
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return services.Wrap(services.ErrTransientDispatch, "dispatcher", "trigger", "dispatcher is not running", nil)
	}
	if _, busy := d.inflight[req.ExecutionID]; busy {
		d.mu.Unlock()
		return nil
	}
	d.inflight[req.ExecutionID] = struct{}{}
	quit := d.quit
	d.mu.Unlock()

	select {
	case d.queue <- req:
		return nil
	case <-ctx.Done():
		d.release(req.ExecutionID)
		return ctx.Err()
	case <-quit:
		d.release(req.ExecutionID)
		return services.Wrap(services.ErrTransientDispatch, "dispatcher", "trigger", "dispatcher is stopping", nil)
	}
}

func (d *Dispatcher) release(id string) {
	d.mu.Lock()
	delete(d.inflight, id)
	d.mu.Unlock()
}

func (d *Dispatcher) sender() {
	defer d.wg.Done()
	for {
		select {
		case req := <-d.queue:
			d.handle(req)
		case <-d.quit:
			for {
				select {
				case req := <-d.queue:
					d.handle(req)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) handle(req TriggerRequest) {
	defer d.release(req.ExecutionID)
	_ = d.Deliver(d.ctx, req)
}

// Deliver sends req synchronously, retrying transient failures with
// exponential backoff up to the attempt ceiling. Exhaustion or a permanent
// rejection fails the record, except when every worker was merely busy: then
// the record stays pending for the reaper. Cancellation of ctx leaves the
// record alone.
func (d *Dispatcher) Deliver(ctx context.Context, req TriggerRequest) (err error) {
	ctx = services.WithExecutionID(ctx, req.ExecutionID)
	ctx, span := observability.StartSpan(ctx, observability.SpanTrigger, observability.ExecutionAttrs(req.ExecutionID, req.ToolName)...)
	defer func() { observability.EndSpan(span, err) }()
	logger := d.logger.With(logging.Args(logging.ExecutionAttrs(req.ExecutionID, req.ToolName, 0)...)...)

	var lastErr error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		if attempt > 1 {
			wait := d.backoff(attempt - 1)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		lastErr = d.send(ctx, req)
		if lastErr == nil {
			logger.Info("trigger delivered",
				logging.String(logging.FieldEventType, "trigger_delivered"),
				logging.Int("send_attempt", attempt),
			)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !services.Retryable(lastErr) {
			break
		}
		logger.Debug("trigger send failed; retrying",
			logging.Int("send_attempt", attempt),
			logging.Error(lastErr),
		)
	}

	if errors.Is(lastErr, ErrBusy) {
		logging.WarnWithContext(logger, "trigger deferred; workers at capacity", "trigger_deferred",
			logging.Int("send_attempts", d.attempts),
			logging.Error(lastErr),
			logging.String(logging.FieldImpact, "the reaper re-dispatches the execution once its lease lapses"),
		)
		return lastErr
	}

	message := MsgUnreachable
	kind := services.KindTransientDispatch
	if !services.Retryable(lastErr) {
		message = msgRejected
		kind = services.KindInternal
	}
	logging.ErrorWithContext(logger, "trigger delivery failed", "trigger_failed",
		logging.String(logging.FieldErrorKind, string(kind)),
		logging.Int("send_attempts", d.attempts),
		logging.Error(lastErr),
		logging.String(logging.FieldErrorHint, "check worker.endpoint and that the worker is running"),
	)

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	if failErr := d.store.FailPending(finishCtx, req.ExecutionID, string(kind), message); failErr != nil && !errors.Is(failErr, execution.ErrNotClaimed) {
		logging.ErrorWithContext(logger, "could not record trigger failure", "trigger_fail_persist",
			logging.Error(failErr),
		)
	}
	return lastErr
}

func (d *Dispatcher) send(ctx context.Context, req TriggerRequest) error {
	if d.sendTimeout <= 0 {
		return d.transport.Send(ctx, req)
	}
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	return d.transport.Send(sendCtx, req)
}

// backoff returns the wait before retry n (1-based): initial doubled n-1
// times, capped at maxBackoff.
func (d *Dispatcher) backoff(n int) time.Duration {
	wait := d.initialBackoff
	for i := 1; i < n; i++ {
		wait *= 2
		if wait >= d.maxBackoff {
			return d.maxBackoff
		}
	}
	return wait
}
