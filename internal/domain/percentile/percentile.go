// Package percentile ranks a finalized session against the other finalized
// sessions.
package percentile

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/okian/skillcheck/internal/domain/model"
	"github.com/okian/skillcheck/pkg/metrics"
)

// Loader returns a stored session.
type Loader interface {
	Load(ctx context.Context, sessionID string) (model.Session, error)
}

// Population answers order-statistic queries over finalized composites.
type Population interface {
	// Standing returns the sessions other than sessionID scoring strictly
	// below score, and the number of those other sessions, from one
	// consistent view.
	Standing(ctx context.Context, sessionID string, score float64) (below, others int)
}

// Calculator derives percentile records on read.
type Calculator struct {
	sessions   Loader
	population Population
}

// New creates a Calculator.
func New(sessions Loader, population Population) *Calculator {
	return &Calculator{sessions: sessions, population: population}
}

// Percentile returns the share of other finalized sessions whose total is
// strictly below the queried session's total, as a rounded percentage.
func (c *Calculator) Percentile(ctx context.Context, sessionID string) (model.PercentileRecord, error) {
	start := time.Now()
	defer func() {
		metrics.RecordPercentileQuery(float64(time.Since(start).Milliseconds()))
	}()

	s, err := c.sessions.Load(ctx, sessionID)
	if err != nil {
		return model.PercentileRecord{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if s.Composite == nil {
		return model.PercentileRecord{}, ErrSessionNotFinalized
	}
	total := s.Composite.TotalScore

	below, others := c.population.Standing(ctx, sessionID, total)
	if others <= 0 {
		return model.PercentileRecord{}, ErrNoPopulationData
	}

	return model.PercentileRecord{
		SessionID:  sessionID,
		TotalScore: total,
		Percentile: Compute(below, others),
		Below:      below,
		Population: others,
	}, nil
}

// Compute converts a below count over a population into a rounded
// percentage. A non-positive population yields 0.
func Compute(below, population int) int {
	if population <= 0 || below <= 0 {
		return 0
	}
	if below >= population {
		return 100
	}
	return int(math.Round(100 * float64(below) / float64(population)))
}
