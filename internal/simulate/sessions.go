package simulate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"github.com/okian/skillcheck/internal/domain/model"
)

// runCandidates walks every candidate through all stages using a worker pool.
func runCandidates(ctx context.Context, config *Config, client *HTTPClient, candidates []Candidate, stats *Stats) []Outcome {
	log.Printf("📝 Running %d candidates with %d workers...", len(candidates), config.Workers)

	outcomes := make([]Outcome, len(candidates))
	var (
		completed int64
		failed    int64
		submitted int64
		pending   int64
	)
	var (
		reportMu   sync.Mutex
		lastReport time.Time
	)

	indexChan := make(chan int, config.Workers*WorkerChannelMultiplier)
	var wg sync.WaitGroup

	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range indexChan {
				if ctx.Err() != nil {
					return
				}
				out := runCandidate(ctx, client, candidates[index])
				outcomes[index] = out

				atomic.AddInt64(&submitted, int64(len(model.Stages)))
				atomic.AddInt64(&pending, int64(len(out.Pending)))
				if out.Failed != "" {
					atomic.AddInt64(&failed, 1)
					if config.Verbose {
						log.Printf("⚠️  Candidate %s failed: %s", out.Candidate.CandidateID, out.Failed)
					}
				} else {
					atomic.AddInt64(&completed, 1)
				}

				reportMu.Lock()
				if time.Since(lastReport) >= progressInterval {
					lastReport = time.Now()
					log.Printf("📊 Progress: %d/%d candidates (completed: %d, failed: %d)",
						atomic.LoadInt64(&completed)+atomic.LoadInt64(&failed), len(candidates),
						atomic.LoadInt64(&completed), atomic.LoadInt64(&failed))
				}
				reportMu.Unlock()
			}
		}()
	}

	go func() {
		defer close(indexChan)
		for i := range candidates {
			select {
			case <-ctx.Done():
				return
			case indexChan <- i:
			}
		}
	}()

	wg.Wait()

	stats.SessionsCompleted = int(atomic.LoadInt64(&completed))
	stats.SessionsFailed = int(atomic.LoadInt64(&failed))
	stats.StagesSubmitted = int(atomic.LoadInt64(&submitted))
	stats.StagesPending = int(atomic.LoadInt64(&pending))

	log.Printf(`✅ Candidate run completed:
   Completed: %d
   Failed: %d
   Pending stages: %d
`, stats.SessionsCompleted, stats.SessionsFailed, stats.StagesPending)
	return outcomes
}

// runCandidate creates the session and submits the three stages in order.
// The letter stage saves a draft first, as a browser would while typing.
func runCandidate(ctx context.Context, client *HTTPClient, c Candidate) Outcome {
	out := Outcome{Candidate: c}
	who := identity{id: c.CandidateID}

	if _, err := client.do(ctx, who, http.MethodPost, "/sessions", map[string]string{"session_id": c.SessionID}); err != nil {
		out.Failed = fmt.Sprintf("create session: %v", err)
		return out
	}

	base := "/sessions/" + url.PathEscape(c.SessionID) + "/stages/"
	for _, kind := range model.Stages {
		stage := base + string(kind)
		if _, err := client.do(ctx, who, http.MethodPost, stage+"/begin", nil); err != nil {
			out.Failed = fmt.Sprintf("begin %s: %v", kind, err)
			return out
		}
		sub := c.Submission(kind)
		if kind == model.StageLetter {
			if _, err := client.do(ctx, who, http.MethodPut, stage+"/draft", sub); err != nil {
				out.Failed = fmt.Sprintf("draft %s: %v", kind, err)
				return out
			}
		}
		res, err := client.do(ctx, who, http.MethodPost, stage+"/submit", sub)
		if err != nil {
			out.Failed = fmt.Sprintf("submit %s: %v", kind, err)
			return out
		}
		if res.Get("raw_score").Type == gjson.Null {
			out.Pending = append(out.Pending, kind)
		}
	}
	return out
}

// reviewPending resolves pending stages as an administrator. Stages the
// background reviewer already resolved come back as not pending and are skipped.
func reviewPending(ctx context.Context, config *Config, client *HTTPClient, outcomes []Outcome, stats *Stats) {
	admin := identity{id: config.AdminID, admin: true}
	reviewed := 0
	for i := range outcomes {
		out := &outcomes[i]
		for _, kind := range out.Pending {
			path := "/admin/sessions/" + url.PathEscape(out.Candidate.SessionID) + "/stages/" + string(kind) + "/review"
			body := map[string]any{
				"score": out.Candidate.ReviewScore,
				"notes": "simulated review",
			}
			if _, err := client.do(ctx, admin, http.MethodPost, path, body); err != nil {
				if config.Verbose {
					log.Printf("ℹ️  Review of %s/%s skipped: %v", out.Candidate.SessionID, kind, err)
				}
				continue
			}
			out.Reviewed = append(out.Reviewed, kind)
			reviewed++
		}
	}
	stats.ReviewsSubmitted = reviewed
	log.Printf("🧑‍⚖️  Submitted %d manual reviews", reviewed)
}

// collectTotals reads the final composite of every completed session.
func collectTotals(ctx context.Context, config *Config, client *HTTPClient, outcomes []Outcome) error {
	admin := identity{id: config.AdminID, admin: true}
	for i := range outcomes {
		out := &outcomes[i]
		if out.Failed != "" {
			continue
		}
		res, err := client.do(ctx, admin, http.MethodGet, "/sessions/"+url.PathEscape(out.Candidate.SessionID), nil)
		if err != nil {
			return fmt.Errorf("get session %s: %w", out.Candidate.SessionID, err)
		}
		total := res.Get("composite.total_score")
		if !total.Exists() {
			out.Failed = "session not finalized"
			continue
		}
		out.TotalScore = total.Float()
	}
	return nil
}

// retrievePercentiles asks the service for each candidate's own percentile.
func retrievePercentiles(ctx context.Context, config *Config, client *HTTPClient, outcomes []Outcome, stats *Stats) error {
	checked := 0
	for i := range outcomes {
		out := &outcomes[i]
		if out.Failed != "" {
			continue
		}
		who := identity{id: out.Candidate.CandidateID}
		res, err := client.do(ctx, who, http.MethodGet, "/sessions/"+url.PathEscape(out.Candidate.SessionID)+"/percentile", nil)
		if errors.Is(err, ErrNoPopulation) {
			continue
		}
		if err != nil {
			return fmt.Errorf("percentile %s: %w", out.Candidate.SessionID, err)
		}
		out.Percentile = int(res.Get("percentile").Int())
		out.Population = int(res.Get("population").Int())
		checked++
	}
	stats.PercentilesChecked = checked
	if config.Verbose {
		log.Printf("📈 Retrieved %d percentiles", checked)
	}
	return nil
}
