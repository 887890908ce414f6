package model

import "time"

// ReviewTask asks the deferred review pipeline to replace a pending stage score.
// Payload carries what the grader needs again: "text" for letters,
// "file_ref" for spreadsheets.
type ReviewTask struct {
	SessionID  string            `json:"session_id"`
	Stage      StageKind         `json:"stage"`
	Payload    map[string]string `json:"payload,omitempty"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
	Attempt    int               `json:"attempt"`
}
