package simulate

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
)

// verifyResults checks the service's ranking against one computed from the run.
func verifyResults(_ context.Context, config *Config, outcomes []Outcome, leaderboard []Entry, stats *Stats) error {
	log.Println("🔍 Verifying results...")

	finished := completedOutcomes(outcomes)
	if len(finished) == 0 {
		return fmt.Errorf("no completed sessions to verify")
	}

	sorted := make([]Outcome, len(finished))
	copy(sorted, finished)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TotalScore > sorted[j].TotalScore
	})

	if err := verifyLeaderboard(sorted, leaderboard); err != nil {
		log.Printf("⚠️  Leaderboard consistency warning: %v", err)
	} else {
		log.Println("✅ Leaderboard consistency verified")
	}

	mismatches, err := verifyPercentiles(finished)
	stats.PercentileMismatch = mismatches
	if err != nil {
		log.Printf("⚠️  Percentile check skipped: %v", err)
	} else if mismatches > 0 {
		return fmt.Errorf("%d of %d percentiles differ from the expected value", mismatches, len(finished))
	} else {
		log.Println("✅ Percentiles verified")
	}

	displayTopPerformers(sorted, leaderboard, config.Verbose)
	return nil
}

func completedOutcomes(outcomes []Outcome) []Outcome {
	out := make([]Outcome, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Failed == "" {
			out = append(out, o)
		}
	}
	return out
}

// verifyLeaderboard checks ordering, shared ranks for ties, and, when the
// service holds only this run's sessions, that the scores match the local order.
func verifyLeaderboard(sorted []Outcome, leaderboard []Entry) error {
	if len(leaderboard) == 0 {
		return fmt.Errorf("empty leaderboard")
	}

	for i := 1; i < len(leaderboard); i++ {
		prev, cur := leaderboard[i-1], leaderboard[i]
		if cur.TotalScore > prev.TotalScore {
			return fmt.Errorf("leaderboard not sorted: entry %d outscores entry %d", i, i-1)
		}
		if cur.TotalScore == prev.TotalScore && cur.Rank != prev.Rank {
			return fmt.Errorf("tied entries %d and %d have ranks %d and %d", i-1, i, prev.Rank, cur.Rank)
		}
	}

	known := make(map[string]struct{}, len(sorted))
	for _, o := range sorted {
		known[o.Candidate.SessionID] = struct{}{}
	}
	for _, e := range leaderboard {
		if _, ok := known[e.SessionID]; !ok {
			// Sessions from earlier runs share the board; positional checks do not apply.
			return nil
		}
	}

	for i, e := range leaderboard {
		if i >= len(sorted) {
			return fmt.Errorf("leaderboard has %d entries but only %d sessions completed", len(leaderboard), len(sorted))
		}
		if e.TotalScore != sorted[i].TotalScore {
			return fmt.Errorf("entry %d score %.3f does not match expected %.3f", i, e.TotalScore, sorted[i].TotalScore)
		}
	}
	return nil
}

// verifyPercentiles recomputes each percentile as the rounded share of the
// other completed sessions scoring strictly lower. It returns an error when
// the service population includes sessions this run did not create.
func verifyPercentiles(finished []Outcome) (int, error) {
	others := len(finished) - 1
	if others < 1 {
		return 0, fmt.Errorf("need at least two completed sessions")
	}
	for _, o := range finished {
		if o.Population != others {
			return 0, fmt.Errorf("service population %d differs from run population %d", o.Population, others)
		}
	}

	mismatches := 0
	for _, o := range finished {
		below := 0
		for _, other := range finished {
			if other.Candidate.SessionID != o.Candidate.SessionID && other.TotalScore < o.TotalScore {
				below++
			}
		}
		want := int(math.Round(PercentageMultiplier * float64(below) / float64(others)))
		if want != o.Percentile {
			mismatches++
		}
	}
	return mismatches, nil
}

// displayTopPerformers shows the top performers from the run and from the leaderboard.
func displayTopPerformers(sorted []Outcome, leaderboard []Entry, verbose bool) {
	topN := min(10, len(sorted))

	log.Printf("🏆 Top %d performers from this run:", topN)
	for i := 0; i < topN; i++ {
		o := sorted[i]
		log.Printf("   %d. %s (%s) - Score: %.3f - Percentile: %d", i+1, o.Candidate.SessionID, o.Candidate.Profile, o.TotalScore, o.Percentile)
	}

	if len(leaderboard) > 0 {
		n := min(topN, len(leaderboard))
		log.Printf("🥇 Top %d performers from leaderboard:", n)
		for i := 0; i < n; i++ {
			e := leaderboard[i]
			log.Printf("   %d. %s - Score: %.3f", e.Rank, e.SessionID, e.TotalScore)
		}
	}

	if verbose && len(sorted) > 0 {
		log.Printf(`📊 Score statistics:
   Average: %.3f
   Maximum: %.3f
   Minimum: %.3f
`, calculateAverageScore(sorted), sorted[0].TotalScore, sorted[len(sorted)-1].TotalScore)
	}
}

// calculateAverageScore calculates the average composite across outcomes.
func calculateAverageScore(outcomes []Outcome) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	sum := 0.0
	for _, o := range outcomes {
		sum += o.TotalScore
	}
	return sum / float64(len(outcomes))
}
