package assessment

import (
	"errors"
	"fmt"

	"github.com/okian/skillcheck/internal/domain/model"
)

// Sentinel kinds for coordinator errors.
var (
	ErrStageOutOfOrder     = errors.New("preceding stage not submitted")
	ErrStageAlreadyStarted = errors.New("stage already started")
	ErrStageNotInProgress  = errors.New("stage not in progress")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionExists       = errors.New("session already exists")
	ErrSessionNotFinalized = errors.New("session not finalized")
	ErrUnknownStage        = errors.New("unknown stage")
	ErrMissingCandidate    = errors.New("candidate id is required")
	ErrNotPending          = errors.New("stage result is not pending")
	ErrInvalidScore        = errors.New("score outside stage range")
	ErrClosed              = errors.New("coordinator closed")
)

// OpError records the coordinator operation that failed.
type OpError struct {
	Op        string
	SessionID string
	Stage     model.StageKind
	Err       error
}

func (e *OpError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s %s/%s: %v", e.Op, e.SessionID, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.SessionID, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func opErr(op, sessionID string, stage model.StageKind, err error) error {
	return &OpError{Op: op, SessionID: sessionID, Stage: stage, Err: err}
}
