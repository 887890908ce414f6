package assessment

import (
	"time"

	"github.com/okian/skillcheck/internal/domain/aggregate"
	"github.com/okian/skillcheck/internal/domain/clock"
	"github.com/okian/skillcheck/internal/domain/model"
	"github.com/okian/skillcheck/pkg/logger"
)

// Default coordinator configuration constants.
const (
	defaultTypingDuration      = 300 * time.Second
	defaultLetterDuration      = 300 * time.Second
	defaultSpreadsheetDuration = 30 * time.Minute
	defaultForcedGradeTimeout  = 30 * time.Second
)

// Option applies a configuration option to the Coordinator.
type Option func(*Coordinator)

// WithStageDuration sets the time limit of one stage.
func WithStageDuration(kind model.StageKind, d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 && kind.Index() >= 0 {
			c.durations[kind] = d
		}
	}
}

// WithForcedGradeTimeout bounds grading of a submission forced by clock expiry.
func WithForcedGradeTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.forcedTimeout = d
		}
	}
}

// WithClockFactory replaces the stage clock constructor.
func WithClockFactory(f clock.Factory) Option {
	return func(c *Coordinator) {
		if f != nil {
			c.clocks = f
		}
	}
}

// WithAggregator replaces the result aggregator.
func WithAggregator(a *aggregate.Aggregator) Option {
	return func(c *Coordinator) {
		if a != nil {
			c.aggregator = a
		}
	}
}

// WithReviewQueue installs the sink for pending stage results.
func WithReviewQueue(q ReviewQueue) Option {
	return func(c *Coordinator) {
		c.reviews = q
	}
}

// WithNow overrides the time source.
func WithNow(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(gen func() string) Option {
	return func(c *Coordinator) {
		if gen != nil {
			c.newID = gen
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}
