package grading

import "errors"

// Sentinel kinds for grading errors.
var (
	// ErrGraderUnavailable is retryable: the external grader failed or timed out.
	ErrGraderUnavailable = errors.New("grader unavailable")
	ErrInvalidMetrics    = errors.New("invalid typing metrics")
	ErrWrongSubmission   = errors.New("submission does not match stage")
)
