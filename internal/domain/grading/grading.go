// Package grading turns stage submissions into normalized stage results.
package grading

import (
	"context"
	"math"

	"github.com/okian/skillcheck/internal/domain/model"
)

// Submission is the candidate's answer for one stage. Exactly one field is
// set for an explicit submission; the zero value is the empty submission
// used when a stage clock expires with nothing captured.
type Submission struct {
	Typing      *TypingMetrics   `json:"typing,omitempty"`
	Letter      *Letter          `json:"letter,omitempty"`
	Spreadsheet *SpreadsheetFile `json:"spreadsheet,omitempty"`
}

// Empty reports whether no stage payload is present.
func (s Submission) Empty() bool {
	return s.Typing == nil && s.Letter == nil && s.Spreadsheet == nil
}

// Matches reports whether the submission payload fits kind.
// The empty submission matches every stage.
func (s Submission) Matches(kind model.StageKind) bool {
	if s.Empty() {
		return true
	}
	switch kind {
	case model.StageTyping:
		return s.Typing != nil && s.Letter == nil && s.Spreadsheet == nil
	case model.StageLetter:
		return s.Letter != nil && s.Typing == nil && s.Spreadsheet == nil
	case model.StageSpreadsheet:
		return s.Spreadsheet != nil && s.Typing == nil && s.Letter == nil
	}
	return false
}

// TypingMetrics are reported by the typing client.
type TypingMetrics struct {
	WPM            float64 `json:"wpm"`
	Accuracy       float64 `json:"accuracy"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	Errors         int     `json:"errors"`
}

// Letter is the free-text letter body.
type Letter struct {
	Text string `json:"text"`
}

// SpreadsheetFile references a file already persisted by the blob store.
type SpreadsheetFile struct {
	FileRef string `json:"file_ref"`
}

// Grader grades one kind of stage.
type Grader interface {
	Kind() model.StageKind
	// MaxScore is the stage-local maximum of every result this grader produces.
	MaxScore() float64
	// Grade returns a normalized result. SubmittedAt and Forced are set by the caller.
	Grade(ctx context.Context, sub Submission) (model.StageResult, error)
}

// Evaluation is the text-grading oracle's verdict.
type Evaluation struct {
	Score    float64
	Feedback string
}

// Oracle grades free text. It may be slow or fail; callers must not assume bounded latency.
type Oracle interface {
	Evaluate(ctx context.Context, text string) (Evaluation, error)
}

// CheckResult is the outcome of an automated spreadsheet check.
// NeedsReview means the checker could not decide and a human must score it.
type CheckResult struct {
	Score       float64
	NeedsReview bool
	Notes       string
}

// Checker scores a stored spreadsheet file.
type Checker interface {
	Check(ctx context.Context, fileRef string) (CheckResult, error)
}

// clamp bounds v to [0, max].
func clamp(v, maxScore float64) float64 {
	return math.Max(0, math.Min(maxScore, v))
}

// round2 rounds to two decimal places.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func validFloat(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
