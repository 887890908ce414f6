// Package aggregate reduces per-stage results into a session's composite score.
package aggregate

import (
	"fmt"
	"math"
	"time"

	"github.com/okian/skillcheck/internal/domain/model"
)

// Default stage caps: how many composite points each stage can contribute.
const (
	defaultTypingCap      = 20
	defaultLetterCap      = 10
	defaultSpreadsheetCap = 20
)

// Caps maps each stage to its maximum composite contribution.
type Caps map[model.StageKind]float64

// DefaultCaps returns the standard 20/10/20 weighting.
func DefaultCaps() Caps {
	return Caps{
		model.StageTyping:      defaultTypingCap,
		model.StageLetter:      defaultLetterCap,
		model.StageSpreadsheet: defaultSpreadsheetCap,
	}
}

// Total returns the sum of caps, the highest attainable composite.
func (c Caps) Total() float64 {
	var sum float64
	for _, k := range model.Stages {
		sum += c[k]
	}
	return sum
}

// Option applies a configuration option to the Aggregator.
type Option func(*Aggregator)

// WithCaps overrides stage caps. Non-positive entries are ignored.
func WithCaps(caps Caps) Option {
	return func(a *Aggregator) {
		for k, v := range caps {
			if v > 0 && k.Index() >= 0 {
				a.caps[k] = v
			}
		}
	}
}

// WithNow replaces the time source used for ComputedAt.
func WithNow(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// Aggregator computes composite results under a fixed weighting.
type Aggregator struct {
	caps Caps
	now  func() time.Time
}

// New creates an aggregator with the default caps unless overridden.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		caps: DefaultCaps(),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Caps returns a copy of the configured caps.
func (a *Aggregator) Caps() Caps {
	out := make(Caps, len(a.caps))
	for k, v := range a.caps {
		out[k] = v
	}
	return out
}

// Aggregate computes the composite for a session whose stages are all submitted.
// Pending stage scores contribute zero and are listed in Pending.
func (a *Aggregator) Aggregate(s model.Session) (model.CompositeResult, error) {
	out := model.CompositeResult{
		SessionID:   s.SessionID,
		StageScores: make(map[model.StageKind]float64, len(model.Stages)),
		ComputedAt:  a.now(),
	}
	var total float64
	for _, k := range model.Stages {
		st := s.Stage(k)
		if st.Status != model.StatusSubmitted || st.Result == nil {
			return model.CompositeResult{}, fmt.Errorf("%w: %s is %s", ErrIncomplete, k, st.Status)
		}
		if st.Result.Pending() {
			out.Pending = append(out.Pending, k)
		}
		c := Contribution(*st.Result, a.caps[k])
		out.StageScores[k] = c
		total += c
	}
	out.TotalScore = math.Max(0, math.Min(a.caps.Total(), total))
	return out, nil
}

// Contribution is round(raw / max * cap); pending or degenerate results contribute zero.
func Contribution(r model.StageResult, stageCap float64) float64 {
	if r.Pending() || r.MaxScore <= 0 || stageCap <= 0 {
		return 0
	}
	ratio := math.Max(0, math.Min(1, r.Score()/r.MaxScore))
	return math.Round(ratio * stageCap)
}
