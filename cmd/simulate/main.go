package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/skillcheck/internal/simulate"
)

// Default configuration constants.
const (
	defaultCandidates = 200
	defaultTopN       = 20
	defaultWorkers    = 2 // multiplier for runtime.NumCPU()
	defaultTimeout    = 30 * time.Second
	defaultRunTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:9080", "Base URL of the service")
		candidates = flag.Int("candidates", defaultCandidates, "Number of candidates to simulate")
		topN       = flag.Int("top", defaultTopN, "Number of leaderboard entries to fetch")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		adminID    = flag.String("admin", "sim-admin", "Administrator identity for reviews and the leaderboard")
		settle     = flag.Duration("settle", simulate.DefaultSettle, "Wait before manual reviews")
		outputFile = flag.String("output", "", "Output file for the run report (default: simulation_TIMESTAMP.json)")
		logFile    = flag.String("log", "", "Log file for run output (default: simulation_log_TIMESTAMP.log)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		simulate.ShowHelp()
		return
	}

	if err := simulate.SetupLogging(*logFile); err != nil {
		_, _ = os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	config := &simulate.Config{
		BaseURL:    *baseURL,
		Candidates: *candidates,
		TopN:       *topN,
		Workers:    max(1, *workers),
		Timeout:    *timeout,
		AdminID:    *adminID,
		Settle:     *settle,
		OutputFile: *outputFile,
		LogFile:    *logFile,
		Verbose:    *verbose,
	}

	if err := simulate.Run(ctx, config); err != nil {
		_, _ = os.Stderr.WriteString("Simulation failed: " + err.Error() + "\n")
		cancel()
		os.Exit(1) //nolint:gocritic // cancel called explicitly above
	}
}
