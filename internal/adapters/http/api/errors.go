package api

import (
	"errors"
	"net/http"

	"github.com/okian/skillcheck/internal/adapters/repository"
	"github.com/okian/skillcheck/internal/domain/assessment"
	"github.com/okian/skillcheck/internal/domain/grading"
	"github.com/okian/skillcheck/internal/domain/percentile"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("missing or invalid identity")
	ErrForbidden    = errors.New("forbidden")
)

// Error tags an error with the API operation that produced it.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Kind != nil:
		return e.Op + ": " + e.Kind.Error() + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Op + ": " + e.Err.Error()
	case e.Kind != nil:
		return e.Op + ": " + e.Kind.Error()
	}
	return e.Op
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// NewKind returns an error of kind for op.
func NewKind(op string, kind error) error { return &Error{Op: op, Kind: kind} }

// WrapKind returns an error of kind for op caused by err.
func WrapKind(op string, kind, err error) error { return &Error{Op: op, Kind: kind, Err: err} }

// Wrap tags err with op.
func Wrap(op string, err error) error { return &Error{Op: op, Err: err} }

type errorMapping struct {
	target    error
	status    int
	code      string
	retryable bool
}

// errorMappings is checked in order; the first match wins.
var errorMappings = []errorMapping{
	{ErrUnauthorized, http.StatusUnauthorized, "unauthorized", false},
	{ErrForbidden, http.StatusForbidden, "forbidden", false},
	{grading.ErrGraderUnavailable, http.StatusServiceUnavailable, "grader_unavailable", true},
	{assessment.ErrClosed, http.StatusServiceUnavailable, "unavailable", true},
	{assessment.ErrStageOutOfOrder, http.StatusConflict, "stage_out_of_order", false},
	{assessment.ErrStageAlreadyStarted, http.StatusConflict, "stage_already_started", false},
	{assessment.ErrStageNotInProgress, http.StatusConflict, "stage_not_in_progress", false},
	{assessment.ErrSessionExists, http.StatusConflict, "session_exists", false},
	{assessment.ErrNotPending, http.StatusConflict, "not_pending", false},
	{assessment.ErrSessionNotFinalized, http.StatusConflict, "session_not_finalized", false},
	{percentile.ErrSessionNotFinalized, http.StatusConflict, "session_not_finalized", false},
	{percentile.ErrNoPopulationData, http.StatusConflict, "no_population_data", false},
	{assessment.ErrSessionNotFound, http.StatusNotFound, "not_found", false},
	{repository.ErrNotFound, http.StatusNotFound, "not_found", false},
	{grading.ErrInvalidMetrics, http.StatusBadRequest, "invalid_metrics", false},
	{grading.ErrWrongSubmission, http.StatusBadRequest, "wrong_submission", false},
	{assessment.ErrUnknownStage, http.StatusBadRequest, "unknown_stage", false},
	{assessment.ErrInvalidScore, http.StatusBadRequest, "invalid_score", false},
	{assessment.ErrMissingCandidate, http.StatusBadRequest, "bad_request", false},
	{repository.ErrInvalidLimit, http.StatusBadRequest, "bad_request", false},
	{ErrBadRequest, http.StatusBadRequest, "bad_request", false},
}

// classify maps err onto an HTTP status and a stable error code.
func classify(err error) errorMapping {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m
		}
	}
	return errorMapping{status: http.StatusInternalServerError, code: "internal_error"}
}
