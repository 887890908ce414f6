package simulate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/skillcheck/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
	reportPermission    = 0600
)

// Report is the JSON document written at the end of a run.
type Report struct {
	StartedAt   time.Time `json:"started_at"`
	Duration    string    `json:"duration"`
	Outcomes    []Outcome `json:"outcomes"`
	Leaderboard []Entry   `json:"leaderboard"`
}

// Run executes a complete simulation against a running service.
func Run(ctx context.Context, config *Config) error {
	stats := &Stats{
		StartTime: time.Now(),
	}

	logger.Get().Info(ctx, "starting skillcheck simulation",
		logger.String("baseURL", config.BaseURL),
		logger.Int("candidates", config.Candidates),
		logger.Int("workers", config.Workers),
		logger.String("timeout", config.Timeout.String()),
		logger.Int("topN", config.TopN),
		logger.String("adminID", config.AdminID),
		logger.Bool("verbose", config.Verbose))

	client := newHTTPClient(config.BaseURL, config.Timeout)

	// Step 1: Check service health
	logger.Get().Info(ctx, "checking service health")
	if err := client.Health(ctx); err != nil {
		return fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Generate candidates
	candidates, err := generateCandidates(ctx, config, stats)
	if err != nil {
		return fmt.Errorf("candidate generation failed: %w", err)
	}

	// Step 3: Walk every candidate through all stages
	outcomes := runCandidates(ctx, config, client, candidates, stats)

	// Step 4: Let background reviewers finish, then review what is still pending
	logger.Get().Info(ctx, "waiting for background reviews", logger.Duration("settle", config.Settle))
	if err := sleep(ctx, config.Settle); err != nil {
		return err
	}
	reviewPending(ctx, config, client, outcomes, stats)

	// Step 5: Read final composites and percentiles
	if err := collectTotals(ctx, config, client, outcomes); err != nil {
		return fmt.Errorf("composite retrieval failed: %w", err)
	}
	if err := retrievePercentiles(ctx, config, client, outcomes, stats); err != nil {
		return fmt.Errorf("percentile retrieval failed: %w", err)
	}

	// Step 6: Get leaderboard
	leaderboard, err := getLeaderboard(ctx, config, client, stats)
	if err != nil {
		return fmt.Errorf("leaderboard retrieval failed: %w", err)
	}

	// Step 7: Verify results
	if err := verifyResults(ctx, config, outcomes, leaderboard, stats); err != nil {
		return fmt.Errorf("result verification failed: %w", err)
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)

	// Step 8: Save report
	report := Report{
		StartedAt:   stats.StartTime,
		Duration:    stats.Duration.String(),
		Outcomes:    outcomes,
		Leaderboard: leaderboard,
	}
	if err := saveReport(ctx, config, report); err != nil {
		logger.Get().Warn(ctx, "failed to save report", logger.Error(err))
	}

	displayFinalStats(stats)

	logger.Get().Info(ctx, "simulation completed successfully")
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// saveReport writes the run report as indented JSON.
func saveReport(ctx context.Context, config *Config, report Report) error {
	filename := config.OutputFile
	if filename == "" {
		filename = "simulation_" + time.Now().Format("20060102_150405") + ".json"
	}

	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(filename, data, reportPermission); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	logger.Get().Info(ctx, "report saved to file", logger.String("filename", filename))
	return nil
}

// displayFinalStats prints the final run statistics.
func displayFinalStats(stats *Stats) {
	var successRate, sessionsPerSecond float64

	if stats.CandidatesGenerated > 0 {
		successRate = float64(stats.SessionsCompleted) / float64(stats.CandidatesGenerated) * PercentageMultiplier
	}
	if stats.Duration > 0 {
		sessionsPerSecond = float64(stats.SessionsCompleted) / stats.Duration.Seconds()
	}

	logger.Get().Info(context.Background(), "final statistics",
		logger.Int("candidatesGenerated", stats.CandidatesGenerated),
		logger.Int("sessionsCompleted", stats.SessionsCompleted),
		logger.Int("sessionsFailed", stats.SessionsFailed),
		logger.Int("stagesSubmitted", stats.StagesSubmitted),
		logger.Int("stagesPending", stats.StagesPending),
		logger.Int("reviewsSubmitted", stats.ReviewsSubmitted),
		logger.Int("percentilesChecked", stats.PercentilesChecked),
		logger.Int("percentileMismatch", stats.PercentileMismatch),
		logger.Int("leaderboardEntries", stats.LeaderboardEntries),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("successRate", successRate),
		logger.Float64("sessionsPerSecond", sessionsPerSecond))
}
