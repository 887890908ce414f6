// Package repository provides session persistence and the population index
// used for percentile ranking.
package repository

import (
	"context"

	"github.com/okian/skillcheck/internal/domain/model"
)

// SessionStore persists assessment sessions.
type SessionStore interface {
	// Load returns the session or ErrNotFound.
	Load(ctx context.Context, sessionID string) (model.Session, error)
	// Create stores a new session or fails with ErrExists.
	Create(ctx context.Context, s model.Session) error
	// Save replaces a stored session.
	Save(ctx context.Context, s model.Session) error
	// ListFinalized returns every composite result computed so far.
	ListFinalized(ctx context.Context) ([]model.CompositeResult, error)
	// ListActive returns sessions with at least one stage in progress.
	ListActive(ctx context.Context) ([]model.Session, error)
	// Count returns the number of stored sessions.
	Count(ctx context.Context) int
}

// PopulationEntry is one ranked row of the finalized population.
type PopulationEntry struct {
	Rank      int     `json:"rank"`
	SessionID string  `json:"session_id"`
	Score     float64 `json:"score"`
}

// PopulationIndex ranks finalized composite scores.
type PopulationIndex interface {
	// Upsert records or replaces the composite score of a session.
	Upsert(ctx context.Context, sessionID string, score float64) (bool, error)
	// Score returns the indexed score of a session.
	Score(ctx context.Context, sessionID string) (float64, bool)
	// Standing returns how many other sessions score strictly below score and
	// how many other sessions are indexed, excluding sessionID itself.
	Standing(ctx context.Context, sessionID string, score float64) (below, others int)
	// Count returns the population size.
	Count(ctx context.Context) int
	// TopN returns the best n entries, ties sharing a rank.
	TopN(ctx context.Context, n int) ([]PopulationEntry, error)
}

// hasActiveStage reports whether any stage is in progress.
func hasActiveStage(s model.Session) bool {
	for _, k := range model.Stages {
		if s.Stage(k).Status == model.StatusInProgress {
			return true
		}
	}
	return false
}
