// Package config defines service configuration structures and loading hooks.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects the log encoding: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// Stage time limits.
	TypingDurationSeconds      int `koanf:"typing_duration_seconds"`
	LetterDurationSeconds      int `koanf:"letter_duration_seconds"`
	SpreadsheetDurationSeconds int `koanf:"spreadsheet_duration_seconds"`
	// ForcedGradeTimeoutSeconds bounds grading after a stage clock expires.
	ForcedGradeTimeoutSeconds int `koanf:"forced_grade_timeout_seconds"`

	// Composite contribution caps per stage.
	TypingCap      float64 `koanf:"typing_cap"`
	LetterCap      float64 `koanf:"letter_cap"`
	SpreadsheetCap float64 `koanf:"spreadsheet_cap"`

	// Grader scales.
	TypingMaxScore      float64 `koanf:"typing_max_score"`
	TypingTargetWPM     float64 `koanf:"typing_target_wpm"`
	LetterMaxScore      float64 `koanf:"letter_max_score"`
	SpreadsheetMaxScore float64 `koanf:"spreadsheet_max_score"`

	// StorePath is the bbolt file for sessions; empty keeps them in memory.
	StorePath string `koanf:"store_path"`

	// Azure OpenAI letter oracle. Without an endpoint a simulated oracle is used.
	OracleEndpoint       string `koanf:"oracle_endpoint"`
	OracleAPIKey         string `koanf:"oracle_api_key"`
	OracleDeployment     string `koanf:"oracle_deployment"`
	OracleTimeoutSeconds int    `koanf:"oracle_timeout_seconds"`
	// OracleLatencyMinMS and OracleLatencyMaxMS bound the simulated oracle latency.
	OracleLatencyMinMS int `koanf:"oracle_latency_min_ms"`
	OracleLatencyMaxMS int `koanf:"oracle_latency_max_ms"`

	// Deferred review pipeline.
	ReviewQueueSize     int  `koanf:"review_queue_size"`
	ReviewWorkerCount   int  `koanf:"review_worker_count"`
	ReaggregateOnReview bool `koanf:"reaggregate_on_review"`

	// MaxLeaderboardLimit caps GET /admin/leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`
	// SnapshotIntervalMS is how often population statistics are republished.
	SnapshotIntervalMS int `koanf:"snapshot_interval_ms"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:                   "info",
		LogFormat:                  "text",
		Addr:                       ":9080",
		TypingDurationSeconds:      300,
		LetterDurationSeconds:      300,
		SpreadsheetDurationSeconds: 1800,
		ForcedGradeTimeoutSeconds:  30,
		TypingCap:                  20,
		LetterCap:                  10,
		SpreadsheetCap:             20,
		TypingMaxScore:             50,
		TypingTargetWPM:            60,
		LetterMaxScore:             10,
		SpreadsheetMaxScore:        20,
		OracleTimeoutSeconds:       60,
		OracleLatencyMinMS:         80,
		OracleLatencyMaxMS:         150,
		ReviewQueueSize:            1000,
		ReviewWorkerCount:          4,
		ReaggregateOnReview:        false,
		MaxLeaderboardLimit:        100,
		SnapshotIntervalMS:         1000,
	}
}

// Validate reports the first invalid setting, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	positiveInts := []struct {
		key string
		val int
	}{
		{"typing_duration_seconds", c.TypingDurationSeconds},
		{"letter_duration_seconds", c.LetterDurationSeconds},
		{"spreadsheet_duration_seconds", c.SpreadsheetDurationSeconds},
		{"forced_grade_timeout_seconds", c.ForcedGradeTimeoutSeconds},
		{"oracle_timeout_seconds", c.OracleTimeoutSeconds},
		{"review_queue_size", c.ReviewQueueSize},
		{"max_leaderboard_limit", c.MaxLeaderboardLimit},
		{"snapshot_interval_ms", c.SnapshotIntervalMS},
	}
	for _, p := range positiveInts {
		if p.val <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, p.key, p.val)
		}
	}
	positiveFloats := []struct {
		key string
		val float64
	}{
		{"typing_cap", c.TypingCap},
		{"letter_cap", c.LetterCap},
		{"spreadsheet_cap", c.SpreadsheetCap},
		{"typing_max_score", c.TypingMaxScore},
		{"typing_target_wpm", c.TypingTargetWPM},
		{"letter_max_score", c.LetterMaxScore},
		{"spreadsheet_max_score", c.SpreadsheetMaxScore},
	}
	for _, p := range positiveFloats {
		if !(p.val > 0) {
			return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidConfig, p.key, p.val)
		}
	}
	if c.OracleLatencyMinMS < 0 || c.OracleLatencyMaxMS < c.OracleLatencyMinMS {
		return fmt.Errorf("%w: oracle latency range [%d, %d] is invalid",
			ErrInvalidConfig, c.OracleLatencyMinMS, c.OracleLatencyMaxMS)
	}
	if c.OracleEndpoint != "" && (c.OracleAPIKey == "" || c.OracleDeployment == "") {
		return fmt.Errorf("%w: oracle_endpoint requires oracle_api_key and oracle_deployment", ErrInvalidConfig)
	}
	return nil
}

// StageDurations returns the typing, letter and spreadsheet time limits.
func (c *Config) StageDurations() (typing, letter, spreadsheet time.Duration) {
	return seconds(c.TypingDurationSeconds), seconds(c.LetterDurationSeconds), seconds(c.SpreadsheetDurationSeconds)
}

// ForcedGradeTimeout returns the grading bound for expired stages.
func (c *Config) ForcedGradeTimeout() time.Duration { return seconds(c.ForcedGradeTimeoutSeconds) }

// OracleTimeout returns the per-request oracle timeout.
func (c *Config) OracleTimeout() time.Duration { return seconds(c.OracleTimeoutSeconds) }

// SnapshotInterval returns the population snapshot period.
func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.SnapshotIntervalMS) * time.Millisecond
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
