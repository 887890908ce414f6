package grading

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/okian/skillcheck/internal/domain/model"
)

// Default typing scoring configuration constants.
const (
	defaultTypingMaxScore = 50
	defaultTargetWPM      = 60
	defaultWPMWeight      = 0.7
	defaultAccuracyWeight = 0.3
	maxAccuracyPercent    = 100
)

// TypingOption applies a configuration option to the TypingGrader.
type TypingOption func(*TypingGrader)

// WithTypingMaxScore sets the stage-local maximum score.
func WithTypingMaxScore(maxScore float64) TypingOption {
	return func(g *TypingGrader) {
		if maxScore > 0 {
			g.maxScore = maxScore
		}
	}
}

// WithTargetWPM sets the speed that earns the full speed component.
func WithTargetWPM(wpm float64) TypingOption {
	return func(g *TypingGrader) {
		if wpm > 0 {
			g.targetWPM = wpm
		}
	}
}

// WithBlendWeights sets the speed and accuracy weights. They are normalized to sum to one.
func WithBlendWeights(wpmWeight, accuracyWeight float64) TypingOption {
	return func(g *TypingGrader) {
		sum := wpmWeight + accuracyWeight
		if wpmWeight >= 0 && accuracyWeight >= 0 && sum > 0 {
			g.wpmWeight = wpmWeight / sum
			g.accuracyWeight = accuracyWeight / sum
		}
	}
}

// TypingGrader scores client-reported typing metrics. It never calls out.
type TypingGrader struct {
	maxScore       float64
	targetWPM      float64
	wpmWeight      float64
	accuracyWeight float64
}

// NewTypingGrader creates a typing grader with configuration options.
func NewTypingGrader(opts ...TypingOption) *TypingGrader {
	g := &TypingGrader{
		maxScore:       defaultTypingMaxScore,
		targetWPM:      defaultTargetWPM,
		wpmWeight:      defaultWPMWeight,
		accuracyWeight: defaultAccuracyWeight,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Kind implements Grader.
func (g *TypingGrader) Kind() model.StageKind { return model.StageTyping }

// Grade implements Grader.
func (g *TypingGrader) Grade(_ context.Context, sub Submission) (model.StageResult, error) {
	if !sub.Matches(model.StageTyping) {
		return model.StageResult{}, ErrWrongSubmission
	}
	m := TypingMetrics{}
	if sub.Typing != nil {
		m = *sub.Typing
	}
	if err := ValidateTyping(m); err != nil {
		return model.StageResult{}, err
	}

	raw := g.Score(m)
	return model.StageResult{
		Stage:    model.StageTyping,
		RawScore: model.Float(raw),
		MaxScore: g.maxScore,
		Metadata: map[string]string{
			"wpm":             strconv.FormatFloat(m.WPM, 'f', -1, 64),
			"accuracy":        strconv.FormatFloat(m.Accuracy, 'f', -1, 64),
			"elapsed_seconds": strconv.FormatFloat(m.ElapsedSeconds, 'f', -1, 64),
			"errors":          strconv.Itoa(m.Errors),
		},
	}, nil
}

// Score blends speed and accuracy into a stage-local score in [0, maxScore].
func (g *TypingGrader) Score(m TypingMetrics) float64 {
	speed := math.Min(m.WPM/g.targetWPM, 1)
	accuracy := m.Accuracy / maxAccuracyPercent
	return clamp(round2(g.maxScore*(g.wpmWeight*speed+g.accuracyWeight*accuracy)), g.maxScore)
}

// MaxScore returns the stage-local maximum.
func (g *TypingGrader) MaxScore() float64 { return g.maxScore }

// ValidateTyping rejects negative or non-finite metrics and accuracy above
// 100, wrapping ErrInvalidMetrics.
func ValidateTyping(m TypingMetrics) error {
	switch {
	case !validFloat(m.WPM) || m.WPM < 0:
		return fmt.Errorf("%w: wpm %v", ErrInvalidMetrics, m.WPM)
	case !validFloat(m.Accuracy) || m.Accuracy < 0 || m.Accuracy > maxAccuracyPercent:
		return fmt.Errorf("%w: accuracy %v", ErrInvalidMetrics, m.Accuracy)
	case !validFloat(m.ElapsedSeconds) || m.ElapsedSeconds < 0:
		return fmt.Errorf("%w: elapsed %v", ErrInvalidMetrics, m.ElapsedSeconds)
	case m.Errors < 0:
		return fmt.Errorf("%w: errors %d", ErrInvalidMetrics, m.Errors)
	}
	return nil
}
