package worker

import (
	"time"

	"github.com/okian/skillcheck/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithMaxAttempts bounds how often a retryable review failure is retried.
func WithMaxAttempts(n int) Option {
	return func(w *InMemoryWorker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the base delay between attempts; it doubles per attempt.
func WithRetryBackoff(base, maxDelay time.Duration) Option {
	return func(w *InMemoryWorker) {
		if base > 0 {
			w.backoff = base
		}
		if maxDelay >= base && maxDelay > 0 {
			w.maxBackoff = maxDelay
		}
	}
}

// WithReaggregate makes a resolved review recompute the composite of an
// already finalized session. Off by default.
func WithReaggregate(enabled bool) Option {
	return func(w *InMemoryWorker) {
		w.reaggregate = enabled
	}
}
