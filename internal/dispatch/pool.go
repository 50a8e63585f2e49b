package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"convertd/internal/logging"
	"convertd/internal/services"
)

// Pool runs executions on a fixed number of goroutines. It serves as the
// in-process Transport and as the backend of WorkerHandler.
type Pool struct {
	exec    *Executor
	jobs    chan TriggerRequest
	workers int
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool builds a pool with the given concurrency and backlog.
func NewPool(exec *Executor, workers, backlog int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if backlog < 0 {
		backlog = 0
	}
	return &Pool{
		exec:    exec,
		jobs:    make(chan TriggerRequest, backlog),
		workers: workers,
		logger:  logging.NewComponentLogger(logger, "worker-pool"),
	}
}

// Start launches the workers. Executions observe ctx for shutdown.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.loop(ctx)
	}
}

// Stop cancels in-flight executions and waits for workers to exit. Queued
// triggers are dropped; their records stay pending for the reaper.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()
	p.wg.Wait()
}

// Submit queues req without blocking. A full backlog is a transient failure
// wrapping ErrBusy.
func (p *Pool) Submit(req TriggerRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return services.Wrap(services.ErrTransientDispatch, "worker-pool", "submit", "worker pool is not running", nil)
	}
	select {
	case p.jobs <- req:
		return nil
	default:
		return services.Wrap(services.ErrTransientDispatch, "worker-pool", "submit", "worker pool saturated", ErrBusy)
	}
}

// Send implements Transport.
func (p *Pool) Send(_ context.Context, req TriggerRequest) error {
	return p.Submit(req)
}

func (p *Pool) loop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-p.jobs:
			p.execute(ctx, req)
		}
	}
}

func (p *Pool) execute(ctx context.Context, req TriggerRequest) {
	outcome, err := p.exec.Execute(ctx, req)
	if err != nil {
		attrs := append(logging.ExecutionAttrs(req.ExecutionID, req.ToolName, 0), logging.Error(err))
		if errors.Is(err, services.ErrNotFound) {
			p.logger.Info("trigger for unknown execution dropped", logging.Args(attrs...)...)
			return
		}
		logging.ErrorWithContext(p.logger, "execution error", "execution_error", attrs...)
		return
	}
	p.logger.Debug("execution finished",
		logging.String(logging.FieldExecutionID, req.ExecutionID),
		logging.String("outcome", outcome.String()),
	)
}
