// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"strings"
	"time"
)

// StageKind identifies one of the three ordered assessment stages.
type StageKind string

// Stage kinds, in the order a candidate must attempt them.
const (
	StageTyping      StageKind = "typing"
	StageLetter      StageKind = "letter"
	StageSpreadsheet StageKind = "spreadsheet"
)

// Stages lists every stage in its required order.
var Stages = []StageKind{StageTyping, StageLetter, StageSpreadsheet} //nolint:gochecknoglobals // fixed stage order

// ParseStageKind converts a case-insensitive name into a StageKind.
func ParseStageKind(s string) (StageKind, error) {
	k := StageKind(strings.ToLower(strings.TrimSpace(s)))
	if k.Index() < 0 {
		return "", fmt.Errorf("unknown stage %q", s)
	}
	return k, nil
}

// Index returns the position of the stage in the required order, or -1.
func (k StageKind) Index() int {
	for i, s := range Stages {
		if s == k {
			return i
		}
	}
	return -1
}

// Previous returns the stage that must be submitted before k.
// ok is false for the first stage.
func (k StageKind) Previous() (prev StageKind, ok bool) {
	i := k.Index()
	if i <= 0 {
		return "", false
	}
	return Stages[i-1], true
}

func (k StageKind) String() string { return string(k) }

// StageStatus is the lifecycle position of a stage.
type StageStatus string

// Stage statuses. Transitions only move forward.
const (
	StatusNotStarted StageStatus = "not_started"
	StatusInProgress StageStatus = "in_progress"
	StatusSubmitted  StageStatus = "submitted"
)

// StageState is the state of one stage within a session.
type StageState struct {
	Status    StageStatus  `json:"status"`
	StartedAt *time.Time   `json:"started_at,omitempty"`
	Deadline  *time.Time   `json:"deadline,omitempty"`
	Result    *StageResult `json:"result,omitempty"`
}

// StageResult is the normalized outcome of grading one stage.
// A nil RawScore marks a result whose grading is still pending.
type StageResult struct {
	Stage       StageKind         `json:"stage"`
	RawScore    *float64          `json:"raw_score"`
	MaxScore    float64           `json:"max_score"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	SubmittedAt time.Time         `json:"submitted_at"`
	Forced      bool              `json:"forced,omitempty"`
}

// Pending reports whether the result still awaits a score.
func (r StageResult) Pending() bool { return r.RawScore == nil }

// Score returns the raw score, treating a pending score as zero.
func (r StageResult) Score() float64 {
	if r.RawScore == nil {
		return 0
	}
	return *r.RawScore
}

// Clone returns a deep copy.
func (r StageResult) Clone() StageResult {
	out := r
	if r.RawScore != nil {
		v := *r.RawScore
		out.RawScore = &v
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Clone returns a deep copy.
func (s StageState) Clone() StageState {
	out := s
	if s.StartedAt != nil {
		t := *s.StartedAt
		out.StartedAt = &t
	}
	if s.Deadline != nil {
		t := *s.Deadline
		out.Deadline = &t
	}
	if s.Result != nil {
		r := s.Result.Clone()
		out.Result = &r
	}
	return out
}

// Float returns a pointer to v, for building RawScore values.
func Float(v float64) *float64 { return &v }
