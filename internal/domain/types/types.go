// Package types contains shapes shared by the service and the HTTP API.
package types

import "github.com/okian/skillcheck/internal/domain/model"

// Entry is one leaderboard row. Tied scores share a rank.
type Entry struct {
	Rank       int     `json:"rank"`
	SessionID  string  `json:"session_id"`
	TotalScore float64 `json:"total_score"`
}

// ReviewOutcome is the result of resolving a pending stage by hand.
// Composite is set when the session was finalized and re-aggregated.
type ReviewOutcome struct {
	Result    model.StageResult      `json:"result"`
	Composite *model.CompositeResult `json:"composite,omitempty"`
}

// Reaggregated reports whether the review produced a new composite revision.
func (o ReviewOutcome) Reaggregated() bool { return o.Composite != nil }
