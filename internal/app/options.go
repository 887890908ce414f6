package service

import (
	"fmt"
	"time"

	"github.com/okian/skillcheck/internal/adapters/oracle"
	"github.com/okian/skillcheck/internal/config"
	"github.com/okian/skillcheck/internal/domain/aggregate"
	"github.com/okian/skillcheck/internal/domain/clock"
	"github.com/okian/skillcheck/internal/domain/grading"
	"github.com/okian/skillcheck/internal/domain/model"
	"github.com/okian/skillcheck/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStorePath persists sessions in a bbolt file at path.
// An empty path keeps sessions in memory.
func WithStorePath(path string) Option {
	return func(s *Service) {
		s.storePath = path
	}
}

// WithStageDurations sets the stage time limits. Non-positive values keep the default.
func WithStageDurations(typing, letter, spreadsheet time.Duration) Option {
	return func(s *Service) {
		for kind, d := range map[model.StageKind]time.Duration{
			model.StageTyping:      typing,
			model.StageLetter:      letter,
			model.StageSpreadsheet: spreadsheet,
		} {
			if d > 0 {
				s.durations[kind] = d
			}
		}
	}
}

// WithForcedGradeTimeout bounds grading of expired stages.
func WithForcedGradeTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.forcedTimeout = d
		}
	}
}

// WithCaps sets the composite contribution caps.
func WithCaps(caps aggregate.Caps) Option {
	return func(s *Service) {
		if caps != nil {
			s.caps = caps
		}
	}
}

// WithTypingScale sets the typing maximum score and target speed.
func WithTypingScale(maxScore, targetWPM float64) Option {
	return func(s *Service) {
		s.typingOpts = append(s.typingOpts,
			grading.WithTypingMaxScore(maxScore),
			grading.WithTargetWPM(targetWPM),
		)
	}
}

// WithLetterMaxScore sets the letter stage maximum.
func WithLetterMaxScore(maxScore float64) Option {
	return func(s *Service) {
		s.letterOpts = append(s.letterOpts, grading.WithLetterMaxScore(maxScore))
	}
}

// WithSpreadsheetMaxScore sets the spreadsheet stage maximum.
func WithSpreadsheetMaxScore(maxScore float64) Option {
	return func(s *Service) {
		s.sheetOpts = append(s.sheetOpts, grading.WithSpreadsheetMaxScore(maxScore))
	}
}

// WithOracle sets the letter-grading oracle.
func WithOracle(o grading.Oracle) Option {
	return func(s *Service) {
		if o != nil {
			s.oracle = o
		}
	}
}

// WithChecker sets an automated spreadsheet checker.
func WithChecker(c grading.Checker) Option {
	return func(s *Service) {
		if c != nil {
			s.sheetOpts = append(s.sheetOpts, grading.WithChecker(c))
		}
	}
}

// WithReviewQueueSize bounds the review backlog.
func WithReviewQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithReviewWorkerCount sets the number of review workers.
func WithReviewWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithReaggregateOnReview makes resolved reviews recompute finalized
// composites. Off by default; Reaggregate stays available on demand.
func WithReaggregateOnReview(enabled bool) Option {
	return func(s *Service) {
		s.reaggregate = enabled
	}
}

// WithReviewRetryBackoff sets the review worker retry delays.
func WithReviewRetryBackoff(base, maxDelay time.Duration) Option {
	return func(s *Service) {
		s.retryBase, s.retryMax = base, maxDelay
	}
}

// WithSnapshotInterval sets how often population statistics are republished.
func WithSnapshotInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.snapshotInterval = d
		}
	}
}

// WithClockFactory replaces the stage clock source.
func WithClockFactory(f clock.Factory) Option {
	return func(s *Service) {
		if f != nil {
			s.clocks = f
		}
	}
}

// ConfigOptions maps a loaded Config onto service options. It builds the
// Azure OpenAI oracle when an endpoint is configured and the simulated one
// otherwise.
func ConfigOptions(cfg *config.Config) ([]Option, error) {
	typing, letter, sheet := cfg.StageDurations()
	opts := []Option{
		WithStorePath(cfg.StorePath),
		WithStageDurations(typing, letter, sheet),
		WithForcedGradeTimeout(cfg.ForcedGradeTimeout()),
		WithCaps(aggregate.Caps{
			model.StageTyping:      cfg.TypingCap,
			model.StageLetter:      cfg.LetterCap,
			model.StageSpreadsheet: cfg.SpreadsheetCap,
		}),
		WithTypingScale(cfg.TypingMaxScore, cfg.TypingTargetWPM),
		WithLetterMaxScore(cfg.LetterMaxScore),
		WithSpreadsheetMaxScore(cfg.SpreadsheetMaxScore),
		WithReviewQueueSize(cfg.ReviewQueueSize),
		WithReviewWorkerCount(cfg.ReviewWorkerCount),
		WithReaggregateOnReview(cfg.ReaggregateOnReview),
		WithSnapshotInterval(cfg.SnapshotInterval()),
	}

	if cfg.OracleEndpoint == "" {
		opts = append(opts, WithOracle(oracle.NewSimulatedOracle(
			oracle.WithLatencyRange(
				time.Duration(cfg.OracleLatencyMinMS)*time.Millisecond,
				time.Duration(cfg.OracleLatencyMaxMS)*time.Millisecond,
			),
		)))
		return opts, nil
	}

	client, err := oracle.NewAzureChatClient(cfg.OracleEndpoint, cfg.OracleAPIKey, cfg.OracleDeployment)
	if err != nil {
		return nil, fmt.Errorf("build letter oracle: %w", err)
	}
	return append(opts, WithOracle(oracle.NewAzureOracle(client,
		oracle.WithRequestTimeout(cfg.OracleTimeout()),
	))), nil
}
