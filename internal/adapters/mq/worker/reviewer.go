package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/okian/skillcheck/internal/domain/grading"
	"github.com/okian/skillcheck/internal/domain/model"
)

// ErrManualReviewRequired means no automated path can score the task; it
// stays pending until an administrator resolves it.
var ErrManualReviewRequired = errors.New("manual review required")

// Resolution is a reviewer's verdict for a pending stage result.
type Resolution struct {
	Score    float64
	Metadata map[string]string
}

// Reviewer scores a pending stage result.
type Reviewer interface {
	Review(ctx context.Context, task Task) (Resolution, error)
}

// GradingReviewer retries the automated graders on review payloads.
type GradingReviewer struct {
	letter *grading.LetterGrader
	sheets *grading.SpreadsheetGrader
}

// NewGradingReviewer creates a reviewer. Either grader may be nil, in which
// case that stage always needs manual review.
func NewGradingReviewer(letter *grading.LetterGrader, sheets *grading.SpreadsheetGrader) *GradingReviewer {
	return &GradingReviewer{letter: letter, sheets: sheets}
}

// Review implements Reviewer.
func (r *GradingReviewer) Review(ctx context.Context, task Task) (Resolution, error) { //nolint:gocritic // hugeParam: Task is passed by value for channel semantics
	switch task.Stage {
	case model.StageLetter:
		if r.letter == nil {
			return Resolution{}, ErrManualReviewRequired
		}
		return r.resolve(r.letter.Grade(ctx, grading.Submission{
			Letter: &grading.Letter{Text: task.Payload["text"]},
		}))
	case model.StageSpreadsheet:
		ref := strings.TrimSpace(task.Payload["file_ref"])
		if r.sheets == nil || r.sheets.Checker() == nil || ref == "" {
			return Resolution{}, ErrManualReviewRequired
		}
		return r.resolve(r.sheets.Grade(ctx, grading.Submission{
			Spreadsheet: &grading.SpreadsheetFile{FileRef: ref},
		}))
	default:
		return Resolution{}, fmt.Errorf("%w: stage %q", ErrManualReviewRequired, task.Stage)
	}
}

func (r *GradingReviewer) resolve(res model.StageResult, err error) (Resolution, error) {
	if err != nil {
		return Resolution{}, err
	}
	if res.Pending() {
		return Resolution{}, ErrManualReviewRequired
	}
	meta := make(map[string]string, len(res.Metadata)+1)
	for k, v := range res.Metadata {
		meta[k] = v
	}
	meta["review"] = grading.ReviewAutomated
	return Resolution{Score: res.Score(), Metadata: meta}, nil
}
