package simulate

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/google/uuid"

	"github.com/okian/skillcheck/internal/domain/grading"
	"github.com/okian/skillcheck/pkg/logger"
)

// Constants for random number generation.
const (
	randomFloatDivisor = 1000000
	profileDivisor     = 8
)

// Typing and letter shaping constants.
const (
	peakWPM          = 90.0
	minAccuracy      = 55.0
	accuracySpan     = 45.0
	typingSeconds    = 60.0
	maxTypingErrors  = 40
	minLetterWords   = 20
	letterWordSpan   = 260
	wordsPerSentence = 12
	reviewScoreMax   = 20.0
	noFileBelowLevel = 0.1
)

// profile is a performer band; candidates draw a skill level inside it.
type profile struct {
	name  string
	min   float64
	width float64
}

//nolint:gochecknoglobals // fixed distribution table
var profiles = [profileDivisor]profile{
	{"average", 0.30, 0.40},
	{"high", 0.70, 0.20},
	{"low", 0.01, 0.29},
	{"elite", 0.90, 0.10},
	{"very_low", 0.01, 0.09},
	{"mid_high", 0.60, 0.20},
	{"mid_low", 0.20, 0.20},
	{"wide", 0.01, 0.99},
}

//nolint:gochecknoglobals // word bank for generated letters
var letterWords = strings.Fields(`dear hiring team thank you for considering my application
I have supported customers across several product lines and enjoy resolving problems
calmly my previous role required careful written communication with partners and
colleagues I am confident my experience with spreadsheets scheduling and reporting
would help your office run smoothly I look forward to discussing the position`)

// getRandomFloat returns a random float64 between 0.0 and 1.0 using crypto/rand.
func getRandomFloat() float64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(randomFloatDivisor))
	return float64(n.Int64()) / float64(randomFloatDivisor)
}

// generateCandidates creates the configured number of candidates with unique IDs.
func generateCandidates(ctx context.Context, config *Config, stats *Stats) ([]Candidate, error) {
	logger.Get().Info(ctx, "generating candidates", logger.Int("candidates", config.Candidates))

	candidates := make([]Candidate, config.Candidates)
	for i := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled during candidate generation: %w", err)
		}
		candidates[i] = generateCandidate(i)
	}

	stats.CandidatesGenerated = len(candidates)
	logger.Get().Info(ctx, "generated candidates successfully", logger.Int("count", len(candidates)))
	return candidates, nil
}

// generateCandidate draws a profile and derives every stage answer from one skill level.
func generateCandidate(index int) Candidate {
	n, _ := rand.Int(rand.Reader, big.NewInt(profileDivisor))
	p := profiles[n.Int64()]
	level := p.min + getRandomFloat()*p.width

	c := Candidate{
		CandidateID: fmt.Sprintf("candidate-%05d-%s", index, uuid.NewString()[:8]),
		SessionID:   uuid.NewString(),
		Profile:     p.name,
		Typing:      generateTyping(level),
		Letter:      generateLetter(level),
		ReviewScore: round2(level * reviewScoreMax),
	}
	if level >= noFileBelowLevel {
		c.FileRef = "uploads/" + uuid.NewString() + ".xlsx"
	}
	return c
}

func generateTyping(level float64) grading.TypingMetrics {
	jitter := getRandomFloat()*0.1 - 0.05
	return grading.TypingMetrics{
		WPM:            round2(math.Max(0, (level+jitter)*peakWPM)),
		Accuracy:       round2(math.Min(100, minAccuracy+level*accuracySpan)),
		ElapsedSeconds: typingSeconds,
		Errors:         int(math.Round((1 - level) * maxTypingErrors)),
	}
}

func generateLetter(level float64) string {
	words := minLetterWords + int(level*letterWordSpan)
	var b strings.Builder
	for i := 0; i < words; i++ {
		if i > 0 {
			if i%wordsPerSentence == 0 {
				b.WriteString(". ")
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteString(letterWords[i%len(letterWords)])
	}
	b.WriteByte('.')
	return b.String()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
