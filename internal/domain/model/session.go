package model

import "time"

// Role is the access role supplied by the identity collaborator.
type Role string

// Roles.
const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Candidate is the authenticated caller. The engine only reads it.
type Candidate struct {
	ID   string
	Role Role
}

// IsAdmin reports whether the candidate holds the admin role.
func (c Candidate) IsAdmin() bool { return c.Role == RoleAdmin }

// Session is one assessment attempt.
type Session struct {
	SessionID   string                   `json:"session_id"`
	CandidateID string                   `json:"candidate_id"`
	CreatedAt   time.Time                `json:"created_at"`
	Stages      map[StageKind]StageState `json:"stages"`
	Composite   *CompositeResult         `json:"composite,omitempty"`
	FinalizedAt *time.Time               `json:"finalized_at,omitempty"`
}

// NewSession returns a session with every stage NotStarted.
func NewSession(id, candidateID string, now time.Time) Session {
	stages := make(map[StageKind]StageState, len(Stages))
	for _, k := range Stages {
		stages[k] = StageState{Status: StatusNotStarted}
	}
	return Session{
		SessionID:   id,
		CandidateID: candidateID,
		CreatedAt:   now,
		Stages:      stages,
	}
}

// Stage returns the state of kind, defaulting to NotStarted.
func (s Session) Stage(kind StageKind) StageState {
	st, ok := s.Stages[kind]
	if !ok {
		return StageState{Status: StatusNotStarted}
	}
	return st
}

// Complete reports whether every stage is Submitted.
func (s Session) Complete() bool {
	for _, k := range Stages {
		if s.Stage(k).Status != StatusSubmitted {
			return false
		}
	}
	return true
}

// Finalized reports whether a composite has been computed.
func (s Session) Finalized() bool { return s.Composite != nil }

// Clone returns a deep copy safe to hand to callers.
func (s Session) Clone() Session {
	out := s
	out.Stages = make(map[StageKind]StageState, len(s.Stages))
	for k, v := range s.Stages {
		out.Stages[k] = v.Clone()
	}
	if s.Composite != nil {
		c := s.Composite.Clone()
		out.Composite = &c
	}
	if s.FinalizedAt != nil {
		t := *s.FinalizedAt
		out.FinalizedAt = &t
	}
	return out
}

// CompositeResult is the aggregated score of a finalized session.
type CompositeResult struct {
	SessionID   string                `json:"session_id"`
	TotalScore  float64               `json:"total_score"`
	StageScores map[StageKind]float64 `json:"stage_scores"`
	Pending     []StageKind           `json:"pending,omitempty"`
	ComputedAt  time.Time             `json:"computed_at"`
	Revision    int                   `json:"revision"`
}

// Clone returns a deep copy.
func (c CompositeResult) Clone() CompositeResult {
	out := c
	out.StageScores = make(map[StageKind]float64, len(c.StageScores))
	for k, v := range c.StageScores {
		out.StageScores[k] = v
	}
	if c.Pending != nil {
		out.Pending = append([]StageKind(nil), c.Pending...)
	}
	return out
}

// PercentileRecord is derived on read; it is never stored.
type PercentileRecord struct {
	SessionID  string  `json:"session_id"`
	TotalScore float64 `json:"total_score"`
	Percentile int     `json:"percentile"`
	Below      int     `json:"below"`
	Population int     `json:"population"`
}
