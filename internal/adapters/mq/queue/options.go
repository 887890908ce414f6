package queue

import "github.com/okian/skillcheck/internal/domain/dedupe"

// Option applies a configuration option to the InMemoryQueue.
type Option func(*InMemoryQueue)

// WithCapacity sets the maximum number of queued review tasks.
func WithCapacity(capacity int) Option {
	return func(q *InMemoryQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}

// WithDeduper replaces the in-flight key tracker.
func WithDeduper(d dedupe.Deduper) Option {
	return func(q *InMemoryQueue) {
		if d != nil {
			q.inflight = d
		}
	}
}
