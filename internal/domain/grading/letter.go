package grading

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/okian/skillcheck/internal/domain/model"
)

// defaultLetterMaxScore matches the oracle's 0..10 scale.
const defaultLetterMaxScore = 10

// LetterOption applies a configuration option to the LetterGrader.
type LetterOption func(*LetterGrader)

// WithLetterMaxScore sets the stage-local maximum score.
func WithLetterMaxScore(maxScore float64) LetterOption {
	return func(g *LetterGrader) {
		if maxScore > 0 {
			g.maxScore = maxScore
		}
	}
}

// LetterGrader delegates letter grading to a text oracle.
type LetterGrader struct {
	oracle   Oracle
	maxScore float64
}

// NewLetterGrader creates a letter grader backed by oracle.
func NewLetterGrader(oracle Oracle, opts ...LetterOption) *LetterGrader {
	g := &LetterGrader{
		oracle:   oracle,
		maxScore: defaultLetterMaxScore,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Kind implements Grader.
func (g *LetterGrader) Kind() model.StageKind { return model.StageLetter }

// Grade implements Grader. Oracle failures surface as ErrGraderUnavailable.
func (g *LetterGrader) Grade(ctx context.Context, sub Submission) (model.StageResult, error) {
	if !sub.Matches(model.StageLetter) {
		return model.StageResult{}, ErrWrongSubmission
	}
	text := ""
	if sub.Letter != nil {
		text = strings.TrimSpace(sub.Letter.Text)
	}
	words := len(strings.Fields(text))
	if text == "" {
		return g.result(0, "no letter submitted", text, words), nil
	}
	if g.oracle == nil {
		return model.StageResult{}, fmt.Errorf("%w: no oracle configured", ErrGraderUnavailable)
	}

	eval, err := g.oracle.Evaluate(ctx, text)
	if err != nil {
		return model.StageResult{}, fmt.Errorf("%w: %w", ErrGraderUnavailable, err)
	}
	if math.IsNaN(eval.Score) || math.IsInf(eval.Score, 0) {
		return model.StageResult{}, fmt.Errorf("%w: oracle returned score %v", ErrGraderUnavailable, eval.Score)
	}
	// Oracle scores use a fixed 0..10 scale; rescale when the stage max differs.
	score := clamp(eval.Score, defaultLetterMaxScore) * g.maxScore / defaultLetterMaxScore
	return g.result(round2(score), eval.Feedback, text, words), nil
}

// MaxScore returns the stage-local maximum.
func (g *LetterGrader) MaxScore() float64 { return g.maxScore }

func (g *LetterGrader) result(score float64, feedback, text string, words int) model.StageResult {
	return model.StageResult{
		Stage:    model.StageLetter,
		RawScore: model.Float(score),
		MaxScore: g.maxScore,
		Metadata: map[string]string{
			"feedback":   feedback,
			"word_count": strconv.Itoa(words),
			"text":       text,
		},
	}
}
