// Package queue carries pending stage results to the review workers.
//
// A task stays "in flight" from Enqueue until Ack; enqueueing the same
// session stage again meanwhile is accepted without adding a duplicate.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/skillcheck/internal/domain/dedupe"
	"github.com/okian/skillcheck/internal/domain/model"
	"github.com/okian/skillcheck/pkg/metrics"
)

// defaultQueueCapacity is the default review backlog.
const defaultQueueCapacity = 1000

// Task is the payload flowing through the queue.
type Task = model.ReviewTask

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a task. Returns false if the task was not accepted.
	Enqueue(ctx context.Context, t Task) bool
	// Dequeue returns a channel receiving tasks; it closes when the queue closes.
	Dequeue(ctx context.Context) <-chan Task
	// Ack releases a task's in-flight key once it has been handled.
	Ack(ctx context.Context, t Task)
	// Len returns the current number of queued tasks.
	Len(ctx context.Context) int
	// Close stops accepting tasks and closes the dequeue channel once drained.
	Close() error
	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// Key identifies a task's session stage.
func Key(t Task) string { //nolint:gocritic // hugeParam: Task is passed by value for channel semantics
	return t.SessionID + "/" + t.Stage.String()
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	tasks    chan Task
	capacity int
	inflight dedupe.Deduper

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	if q.inflight == nil {
		q.inflight = dedupe.NewInMemoryDeduper()
	}
	q.tasks = make(chan Task, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0.0)
	return q
}

// Enqueue implements Queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, t Task) bool { //nolint:gocritic // hugeParam: Task is passed by value for channel semantics
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("review_queue", "closed")
		return false
	}
	key := Key(t)
	if q.inflight.SeenAndRecord(ctx, key) {
		metrics.RecordErrorByComponent("review_queue", "duplicate")
		return true
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}

	select {
	case q.tasks <- t:
		metrics.RecordQueueEnqueue()
		q.updateGauges()
		return true
	case <-ctx.Done():
		q.inflight.Unrecord(ctx, key)
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("review_queue", "context_cancelled")
		return false
	default:
		q.inflight.Unrecord(ctx, key)
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("review_queue", "queue_full")
		return false
	}
}

// Dequeue implements Queue.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Task {
	out := make(chan Task)
	go func() {
		defer close(out)
		for t := range q.tasks {
			select {
			case out <- t:
				metrics.RecordQueueDequeue()
				metrics.RecordQueueProcessingLatency(float64(time.Since(t.EnqueuedAt).Milliseconds()))
				q.updateGauges()
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Ack implements Queue.
func (q *InMemoryQueue) Ack(ctx context.Context, t Task) { //nolint:gocritic // hugeParam: Task is passed by value for channel semantics
	q.inflight.Unrecord(ctx, Key(t))
}

// Len implements Queue.
func (q *InMemoryQueue) Len(_ context.Context) int {
	return q.updateGauges()
}

// InFlight returns how many tasks are queued or being processed.
func (q *InMemoryQueue) InFlight() int {
	return int(q.inflight.Size())
}

func (q *InMemoryQueue) updateGauges() int {
	size := len(q.tasks)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
	return size
}

// Close implements Queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.tasks)
	q.closed = true
	return nil
}

// IsClosed implements Queue.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
