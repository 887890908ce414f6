// Package worker resolves pending stage results off the review queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/skillcheck/internal/adapters/mq/queue"
	"github.com/okian/skillcheck/internal/domain/assessment"
	"github.com/okian/skillcheck/internal/domain/grading"
	"github.com/okian/skillcheck/internal/domain/model"
	"github.com/okian/skillcheck/pkg/logger"
	"github.com/okian/skillcheck/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 2 // multiplier for runtime.NumCPU()
	defaultMaxAttempts      = 5
	defaultBackoff          = 500 * time.Millisecond
	defaultMaxBackoff       = 30 * time.Second
	metricsUpdateInterval   = 5 * time.Second
	poolShutdownTimeout     = 30 * time.Second
)

// Task is what workers read off the queue.
type Task = queue.Task

// Resolver applies review verdicts to sessions.
type Resolver interface {
	ResolvePending(ctx context.Context, sessionID string, kind model.StageKind, score float64, metadata map[string]string) (model.StageResult, error)
	Reaggregate(ctx context.Context, sessionID string) (model.CompositeResult, error)
}

// Queue defines how workers receive, retry and acknowledge tasks.
type Queue interface {
	Enqueue(ctx context.Context, t Task) bool
	Dequeue(ctx context.Context) <-chan Task
	Ack(ctx context.Context, t Task)
}

// Worker processes review tasks.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown gracefully stops the worker.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker over a Queue.
type InMemoryWorker struct {
	queue    Queue
	reviewer Reviewer
	resolver Resolver
	name     string

	maxAttempts int
	backoff     time.Duration
	maxBackoff  time.Duration
	reaggregate bool

	busy      *atomic.Int64
	processed *atomic.Int64

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, reviewer Reviewer, resolver Resolver, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:       q,
		reviewer:    reviewer,
		resolver:    resolver,
		name:        "review-worker",
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
		maxBackoff:  defaultMaxBackoff,
		busy:        new(atomic.Int64),
		processed:   new(atomic.Int64),
		shutdown:    make(chan struct{}),
		done:        make(chan struct{}),
		logger:      logger.Get(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	tasks := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case t, ok := <-tasks:
			if !ok {
				return
			}
			w.busy.Add(1)
			if err := w.processTask(ctx, t); err != nil {
				w.logger.Error(ctx, "review task failed",
					logger.String("session_id", t.SessionID),
					logger.String("stage", t.Stage.String()),
					logger.Int("attempt", t.Attempt),
					logger.Error(err),
				)
			}
			w.busy.Add(-1)
			w.processed.Add(1)
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// processTask reviews one task. The task is acknowledged before any retry is
// re-enqueued so the retry is not collapsed into the original.
func (w *InMemoryWorker) processTask(ctx context.Context, t Task) error { //nolint:gocritic // hugeParam: Task is passed by value for channel semantics
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	res, err := w.reviewer.Review(ctx, t)
	switch {
	case errors.Is(err, ErrManualReviewRequired):
		w.queue.Ack(ctx, t)
		metrics.RecordErrorByComponent("review_worker", "manual_required")
		w.logger.Info(ctx, "pending result left for manual review",
			logger.String("session_id", t.SessionID),
			logger.String("stage", t.Stage.String()),
		)
		return nil
	case err != nil:
		w.queue.Ack(ctx, t)
		metrics.RecordWorkerError()
		if errors.Is(err, grading.ErrGraderUnavailable) {
			return w.retry(ctx, t, err)
		}
		metrics.RecordErrorByComponent("review_worker", "review_error")
		return fmt.Errorf("review %s/%s: %w", t.SessionID, t.Stage, err)
	}

	defer w.queue.Ack(ctx, t)
	if _, err := w.resolver.ResolvePending(ctx, t.SessionID, t.Stage, res.Score, res.Metadata); err != nil {
		if errors.Is(err, assessment.ErrNotPending) {
			w.logger.Debug(ctx, "stage already resolved",
				logger.String("session_id", t.SessionID),
				logger.String("stage", t.Stage.String()),
			)
			return nil
		}
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("review_worker", "resolve_error")
		return fmt.Errorf("resolve %s/%s: %w", t.SessionID, t.Stage, err)
	}

	if !w.reaggregate {
		return nil
	}
	if _, err := w.resolver.Reaggregate(ctx, t.SessionID); err != nil {
		if errors.Is(err, assessment.ErrSessionNotFinalized) {
			// Finalization will aggregate the resolved score.
			return nil
		}
		metrics.RecordErrorByComponent("review_worker", "reaggregate_error")
		return fmt.Errorf("reaggregate %s: %w", t.SessionID, err)
	}
	return nil
}

func (w *InMemoryWorker) retry(ctx context.Context, t Task, cause error) error { //nolint:gocritic // hugeParam: Task is passed by value for channel semantics
	t.Attempt++
	if t.Attempt >= w.maxAttempts {
		metrics.RecordErrorByComponent("review_worker", "attempts_exhausted")
		return fmt.Errorf("giving up after %d attempts: %w", t.Attempt, cause)
	}

	timer := time.NewTimer(w.delay(t.Attempt))
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return fmt.Errorf("retry abandoned: %w", ctx.Err())
	case <-w.shutdown:
		return fmt.Errorf("retry abandoned: %w", cause)
	}

	t.EnqueuedAt = time.Time{}
	if !w.queue.Enqueue(ctx, t) {
		return fmt.Errorf("re-enqueue rejected: %w", cause)
	}
	metrics.RecordWorkerRetry()
	w.logger.Warn(ctx, "review retry scheduled",
		logger.String("session_id", t.SessionID),
		logger.String("stage", t.Stage.String()),
		logger.Int("attempt", t.Attempt),
		logger.Error(cause),
	)
	return nil
}

func (w *InMemoryWorker) delay(attempt int) time.Duration {
	d := w.backoff
	for i := 1; i < attempt && d < w.maxBackoff; i++ {
		d *= 2
	}
	if d > w.maxBackoff {
		d = w.maxBackoff
	}
	return d
}

// Pool manages multiple workers.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue

	busy      *atomic.Int64
	processed *atomic.Int64

	shutdown     chan struct{}
	shutdownOnce sync.Once

	logger logger.Logger
}

// NewPool creates a new worker pool. opts are applied to every worker.
func NewPool(workerCount int, q Queue, reviewer Reviewer, resolver Resolver, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	pool := &Pool{
		workers:   make([]*InMemoryWorker, workerCount),
		queue:     q,
		busy:      new(atomic.Int64),
		processed: new(atomic.Int64),
		shutdown:  make(chan struct{}),
		logger:    logger.Get().Named("worker-pool"),
	}

	for i := 0; i < workerCount; i++ {
		w := NewInMemoryWorker(q, reviewer, resolver,
			append([]Option{WithName("review-worker-" + strconv.Itoa(i))}, opts...)...,
		)
		w.busy = pool.busy
		w.processed = pool.processed
		pool.workers[i] = w
	}

	metrics.UpdateWorkerCount(workerCount)
	metrics.UpdateWorkerActiveCount(0)
	metrics.UpdateWorkerIdleCount(workerCount)
	return pool
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	go p.startMetricsUpdater(ctx)
}

func (p *Pool) startMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case <-ticker.C:
			p.updateMetrics()
		}
	}
}

func (p *Pool) updateMetrics() {
	busy := int(p.busy.Load())
	metrics.UpdateWorkerActiveCount(busy)
	metrics.UpdateWorkerIdleCount(len(p.workers) - busy)
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Busy returns how many workers are processing a task right now.
func (p *Pool) Busy() int { return int(p.busy.Load()) }

// Processed returns how many tasks the pool has handled.
func (p *Pool) Processed() int64 { return p.processed.Load() }

// Shutdown closes the queue, then waits for every worker to stop.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}
	p.shutdownOnce.Do(func() { close(p.shutdown) })

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut bool
	for i, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			timedOut = true
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	p.updateMetrics()
	if timedOut {
		return fmt.Errorf("worker pool: %w", context.DeadlineExceeded)
	}
	return nil
}
