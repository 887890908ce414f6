package simulate

import (
	"time"

	"github.com/okian/skillcheck/internal/domain/grading"
	"github.com/okian/skillcheck/internal/domain/model"
)

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL    string        // Base URL of the service
	Candidates int           // Number of candidates to simulate
	TopN       int           // Number of leaderboard entries to fetch
	Workers    int           // Number of concurrent workers
	Timeout    time.Duration // HTTP request timeout
	AdminID    string        // Identity used for admin calls
	Settle     time.Duration // Wait before verification so background reviews land
	OutputFile string        // Output file for the run report
	LogFile    string        // Log file for run output
	Verbose    bool          // Enable verbose logging
}

// Candidate is one simulated test taker and the answers they will submit.
type Candidate struct {
	CandidateID string                `json:"candidate_id"`
	SessionID   string                `json:"session_id"`
	Profile     string                `json:"profile"`
	Typing      grading.TypingMetrics `json:"typing"`
	Letter      string                `json:"letter"`
	FileRef     string                `json:"file_ref,omitempty"`
	ReviewScore float64               `json:"review_score"`
}

// Submission builds the request body for one stage.
func (c Candidate) Submission(kind model.StageKind) grading.Submission {
	switch kind {
	case model.StageTyping:
		m := c.Typing
		return grading.Submission{Typing: &m}
	case model.StageLetter:
		return grading.Submission{Letter: &grading.Letter{Text: c.Letter}}
	default:
		return grading.Submission{Spreadsheet: &grading.SpreadsheetFile{FileRef: c.FileRef}}
	}
}

// Outcome is what the service reported for one candidate.
type Outcome struct {
	Candidate  Candidate         `json:"candidate"`
	Pending    []model.StageKind `json:"pending,omitempty"`
	Reviewed   []model.StageKind `json:"reviewed,omitempty"`
	TotalScore float64           `json:"total_score"`
	Percentile int               `json:"percentile"`
	Population int               `json:"population"`
	Failed     string            `json:"failed,omitempty"`
}

// Entry is one leaderboard row as served by the admin API.
type Entry struct {
	Rank       int     `json:"rank"`
	SessionID  string  `json:"session_id"`
	TotalScore float64 `json:"total_score"`
}

// Stats holds run statistics.
type Stats struct {
	CandidatesGenerated int
	SessionsCompleted   int
	SessionsFailed      int
	StagesSubmitted     int
	StagesPending       int
	ReviewsSubmitted    int
	PercentilesChecked  int
	PercentileMismatch  int
	LeaderboardEntries  int
	StartTime           time.Time
	EndTime             time.Time
	Duration            time.Duration
}
