package oracle

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/okian/skillcheck/internal/domain/grading"
	"github.com/okian/skillcheck/pkg/metrics"
)

const (
	backendSimulated  = "simulated"
	defaultMinLatency = 80 * time.Millisecond
	defaultMaxLatency = 150 * time.Millisecond
	defaultRandomSeed = 42
	maxOracleScore    = 10
	wordsPerPoint     = 30
	maxLengthPoints   = 6
)

// SimulatedOption applies a configuration option to the SimulatedOracle.
type SimulatedOption func(*SimulatedOracle)

// WithLatencyRange sets the simulated latency range.
func WithLatencyRange(minLatency, maxLatency time.Duration) SimulatedOption {
	return func(s *SimulatedOracle) {
		if minLatency >= 0 && maxLatency > minLatency {
			s.minLatency = minLatency
			s.maxLatency = maxLatency
		}
	}
}

// WithFailureRate makes a fraction of calls fail with ErrSimulatedOutage.
func WithFailureRate(rate float64) SimulatedOption {
	return func(s *SimulatedOracle) {
		if rate >= 0 && rate <= 1 {
			s.failureRate = rate
		}
	}
}

// WithSeed sets the random seed used for latency and outages.
func WithSeed(seed int64) SimulatedOption {
	return func(s *SimulatedOracle) {
		s.rng = rand.New(rand.NewSource(seed)) //nolint:gosec // deterministic seed for reproducible testing
	}
}

// SimulatedOracle stands in for a remote grading model. It waits a random
// latency and scores letters with a deterministic heuristic.
type SimulatedOracle struct {
	minLatency  time.Duration
	maxLatency  time.Duration
	failureRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedOracle creates a simulated oracle with configuration options.
func NewSimulatedOracle(opts ...SimulatedOption) *SimulatedOracle {
	s := &SimulatedOracle{
		minLatency: defaultMinLatency,
		maxLatency: defaultMaxLatency,
		rng:        rand.New(rand.NewSource(defaultRandomSeed)), //nolint:gosec // deterministic seed for reproducible testing
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Evaluate implements grading.Oracle.
func (s *SimulatedOracle) Evaluate(ctx context.Context, text string) (grading.Evaluation, error) {
	start := time.Now()
	latency, fail := s.draw()

	select {
	case <-ctx.Done():
		metrics.RecordOracleCall(backendSimulated, "cancelled", float64(time.Since(start).Milliseconds()))
		return grading.Evaluation{}, fmt.Errorf("context cancelled: %w", ctx.Err())
	case <-time.After(latency):
	}
	if fail {
		metrics.RecordOracleCall(backendSimulated, "error", float64(time.Since(start).Milliseconds()))
		return grading.Evaluation{}, ErrSimulatedOutage
	}

	eval := Heuristic(text)
	metrics.RecordOracleCall(backendSimulated, "ok", float64(time.Since(start).Milliseconds()))
	return eval, nil
}

func (s *SimulatedOracle) draw() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	latency := s.minLatency
	if span := int64(s.maxLatency - s.minLatency); span > 0 {
		latency += time.Duration(s.rng.Int63n(span))
	}
	fail := s.failureRate > 0 && s.rng.Float64() < s.failureRate
	return latency, fail
}

// Heuristic scores a letter on length, a greeting and a closing.
func Heuristic(text string) grading.Evaluation {
	lower := strings.ToLower(strings.TrimSpace(text))
	words := len(strings.Fields(lower))

	score := math.Min(float64(words)/wordsPerPoint, maxLengthPoints)
	var notes []string
	if hasAnyPrefix(lower, "dear", "hello", "hi ", "to whom") {
		score += 2
	} else {
		notes = append(notes, "add a greeting")
	}
	if containsAny(lower, "sincerely", "regards", "thank") {
		score += 2
	} else {
		notes = append(notes, "add a closing")
	}
	score = math.Max(0, math.Min(maxOracleScore, math.Round(score*10)/10))

	feedback := "well structured letter"
	if words < wordsPerPoint {
		notes = append(notes, "expand the body")
	}
	if len(notes) > 0 {
		feedback = strings.Join(notes, "; ")
	}
	return grading.Evaluation{Score: score, Feedback: feedback}
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
