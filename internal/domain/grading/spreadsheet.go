package grading

import (
	"context"
	"fmt"
	"strings"

	"github.com/okian/skillcheck/internal/domain/model"
)

// defaultSpreadsheetMaxScore is the stage-local maximum for the spreadsheet stage.
const defaultSpreadsheetMaxScore = 20

// Review modes recorded in spreadsheet metadata.
const (
	ReviewPending   = "pending"
	ReviewAutomated = "automated"
	ReviewManual    = "manual"
)

// SpreadsheetOption applies a configuration option to the SpreadsheetGrader.
type SpreadsheetOption func(*SpreadsheetGrader)

// WithSpreadsheetMaxScore sets the stage-local maximum score.
func WithSpreadsheetMaxScore(maxScore float64) SpreadsheetOption {
	return func(g *SpreadsheetGrader) {
		if maxScore > 0 {
			g.maxScore = maxScore
		}
	}
}

// WithChecker installs an automated checker used for inline scoring.
func WithChecker(c Checker) SpreadsheetOption {
	return func(g *SpreadsheetGrader) {
		g.checker = c
	}
}

// SpreadsheetGrader records a stored spreadsheet reference and, when an
// automated checker can decide, its score. Otherwise the result is pending.
type SpreadsheetGrader struct {
	checker  Checker
	maxScore float64
}

// NewSpreadsheetGrader creates a spreadsheet grader with configuration options.
func NewSpreadsheetGrader(opts ...SpreadsheetOption) *SpreadsheetGrader {
	g := &SpreadsheetGrader{maxScore: defaultSpreadsheetMaxScore}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Kind implements Grader.
func (g *SpreadsheetGrader) Kind() model.StageKind { return model.StageSpreadsheet }

// Grade implements Grader.
func (g *SpreadsheetGrader) Grade(ctx context.Context, sub Submission) (model.StageResult, error) {
	if !sub.Matches(model.StageSpreadsheet) {
		return model.StageResult{}, ErrWrongSubmission
	}
	ref := ""
	if sub.Spreadsheet != nil {
		ref = strings.TrimSpace(sub.Spreadsheet.FileRef)
	}
	res := model.StageResult{
		Stage:    model.StageSpreadsheet,
		MaxScore: g.maxScore,
		Metadata: map[string]string{"file_ref": ref},
	}
	if ref == "" {
		res.RawScore = model.Float(0)
		res.Metadata["review"] = ReviewAutomated
		res.Metadata["notes"] = "no file submitted"
		return res, nil
	}
	if g.checker == nil {
		res.Metadata["review"] = ReviewPending
		return res, nil
	}

	check, err := g.checker.Check(ctx, ref)
	if err != nil {
		return model.StageResult{}, fmt.Errorf("%w: %w", ErrGraderUnavailable, err)
	}
	if check.Notes != "" {
		res.Metadata["notes"] = check.Notes
	}
	if check.NeedsReview {
		res.Metadata["review"] = ReviewPending
		return res, nil
	}
	res.RawScore = model.Float(clamp(round2(check.Score), g.maxScore))
	res.Metadata["review"] = ReviewAutomated
	return res, nil
}

// MaxScore returns the stage-local maximum.
func (g *SpreadsheetGrader) MaxScore() float64 { return g.maxScore }

// Checker returns the configured automated checker, or nil.
func (g *SpreadsheetGrader) Checker() Checker { return g.checker }
