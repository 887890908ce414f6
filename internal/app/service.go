// Package service wires the assessment engine and implements the
// dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/okian/skillcheck/internal/adapters/mq/queue"
	"github.com/okian/skillcheck/internal/adapters/mq/worker"
	"github.com/okian/skillcheck/internal/adapters/oracle"
	"github.com/okian/skillcheck/internal/adapters/repository"
	"github.com/okian/skillcheck/internal/domain/aggregate"
	"github.com/okian/skillcheck/internal/domain/assessment"
	"github.com/okian/skillcheck/internal/domain/clock"
	"github.com/okian/skillcheck/internal/domain/grading"
	"github.com/okian/skillcheck/internal/domain/model"
	"github.com/okian/skillcheck/internal/domain/percentile"
	"github.com/okian/skillcheck/internal/domain/types"
	"github.com/okian/skillcheck/pkg/logger"
	"github.com/okian/skillcheck/pkg/metrics"
)

const (
	defaultQueueSize        = 1000
	defaultWorkerCount      = 4
	defaultSnapshotInterval = time.Second
	stopTimeout             = 10 * time.Second
)

// Service owns the assessment engine and its background workers.
type Service struct {
	mu sync.RWMutex

	// Core components
	store       repository.SessionStore
	index       *repository.TreapIndex
	coordinator *assessment.Coordinator
	percentiles *percentile.Calculator
	reviews     *queue.InMemoryQueue
	workerPool  *worker.Pool

	// Configuration
	storePath        string
	durations        map[model.StageKind]time.Duration
	forcedTimeout    time.Duration
	caps             aggregate.Caps
	typingOpts       []grading.TypingOption
	letterOpts       []grading.LetterOption
	sheetOpts        []grading.SpreadsheetOption
	oracle           grading.Oracle
	clocks           clock.Factory
	queueSize        int
	workerCount      int
	reaggregate      bool
	retryBase        time.Duration
	retryMax         time.Duration
	snapshotInterval time.Duration

	// State
	started bool
	cancel  context.CancelFunc

	logger logger.Logger
}

// New constructs a Service. Components are built by Start.
func New(opts ...Option) *Service {
	s := &Service{
		durations:        make(map[model.StageKind]time.Duration, len(model.Stages)),
		caps:             aggregate.DefaultCaps(),
		queueSize:        defaultQueueSize,
		workerCount:      defaultWorkerCount,
		snapshotInterval: defaultSnapshotInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the engine, restores persisted state and starts the review workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger.Info(ctx, "starting assessment service...")

	st, err := s.openStore()
	if err != nil {
		return err
	}

	// Background components outlive the caller's context; Stop ends them.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s.index = repository.NewTreapIndex(runCtx, repository.WithSnapshotInterval(s.snapshotInterval))
	if err := s.restorePopulation(ctx, st); err != nil {
		cancel()
		_ = s.index.Close()
		_ = closeStore(st)
		return err
	}

	if s.oracle == nil {
		s.oracle = oracle.NewSimulatedOracle()
	}
	letter := grading.NewLetterGrader(s.oracle, s.letterOpts...)
	sheets := grading.NewSpreadsheetGrader(s.sheetOpts...)
	graders := []grading.Grader{grading.NewTypingGrader(s.typingOpts...), letter, sheets}

	s.reviews = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))

	coordOpts := []assessment.Option{
		assessment.WithAggregator(aggregate.New(aggregate.WithCaps(s.caps))),
		assessment.WithReviewQueue(s.reviews),
		assessment.WithLogger(s.logger.Named("coordinator")),
	}
	for kind, d := range s.durations {
		coordOpts = append(coordOpts, assessment.WithStageDuration(kind, d))
	}
	if s.forcedTimeout > 0 {
		coordOpts = append(coordOpts, assessment.WithForcedGradeTimeout(s.forcedTimeout))
	}
	if s.clocks != nil {
		coordOpts = append(coordOpts, assessment.WithClockFactory(s.clocks))
	}
	coord, err := assessment.New(st, s.index, graders, coordOpts...)
	if err != nil {
		cancel()
		_ = s.index.Close()
		_ = closeStore(st)
		return fmt.Errorf("build coordinator: %w", err)
	}

	workerOpts := []worker.Option{worker.WithReaggregate(s.reaggregate)}
	if s.retryBase > 0 {
		workerOpts = append(workerOpts, worker.WithRetryBackoff(s.retryBase, s.retryMax))
	}
	s.workerPool = worker.NewPool(s.workerCount, s.reviews,
		worker.NewGradingReviewer(letter, sheets), coord, workerOpts...)
	s.workerPool.Start(runCtx)

	s.store = st
	s.coordinator = coord
	s.percentiles = percentile.New(st, s.index)
	s.cancel = cancel

	resumed, err := coord.Resume(ctx)
	if err != nil {
		s.logger.Error(ctx, "resuming in-progress stages failed", logger.Error(err))
	}

	s.started = true
	s.logger.Info(ctx, "assessment service started",
		logger.String("storage", s.storageKind()),
		logger.Int("workers", s.workerPool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.Int("population", s.index.Count(ctx)),
		logger.Int("resumedStages", resumed),
	)
	return nil
}

func (s *Service) openStore() (repository.SessionStore, error) {
	if s.storePath == "" {
		return repository.NewMemoryStore(), nil
	}
	b, err := repository.NewBoltStore(s.storePath)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return b, nil
}

func (s *Service) storageKind() string {
	if s.storePath == "" {
		return "memory"
	}
	return "bolt"
}

// restorePopulation re-indexes composites persisted by a previous process.
func (s *Service) restorePopulation(ctx context.Context, st repository.SessionStore) error {
	finalized, err := st.ListFinalized(ctx)
	if err != nil {
		return fmt.Errorf("list finalized sessions: %w", err)
	}
	for _, c := range finalized {
		if _, err := s.index.Upsert(ctx, c.SessionID, c.TotalScore); err != nil {
			return fmt.Errorf("index session %s: %w", c.SessionID, err)
		}
	}
	metrics.UpdatePopulationSize(s.index.Count(ctx))
	return nil
}

func closeStore(st repository.SessionStore) error {
	if closer, ok := st.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping assessment service...")

	// Clocks first so no expiry enqueues onto a closed queue.
	if err := s.coordinator.Close(); err != nil {
		s.logger.Error(ctx, "error closing coordinator", logger.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()
	if err := s.workerPool.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn(ctx, "review workers did not stop cleanly", logger.Error(err))
	}

	s.cancel()
	_ = s.index.Close()
	if err := closeStore(s.store); err != nil {
		s.logger.Error(ctx, "error closing session store", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "assessment service stopped")
}

func (s *Service) engine() (*assessment.Coordinator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.coordinator, nil
}

// CreateSession registers a new attempt for candidateID.
func (s *Service) CreateSession(ctx context.Context, candidateID, sessionID string) (model.Session, error) {
	c, err := s.engine()
	if err != nil {
		return model.Session{}, err
	}
	return c.CreateSession(ctx, candidateID, sessionID)
}

// GetSession returns a snapshot of a session.
func (s *Service) GetSession(ctx context.Context, sessionID string) (model.Session, error) {
	c, err := s.engine()
	if err != nil {
		return model.Session{}, err
	}
	return c.GetSession(ctx, sessionID)
}

// BeginStage starts a stage clock.
func (s *Service) BeginStage(ctx context.Context, sessionID string, kind model.StageKind) (model.StageState, error) {
	c, err := s.engine()
	if err != nil {
		return model.StageState{}, err
	}
	return c.BeginStage(ctx, sessionID, kind)
}

// CaptureDraft stores the latest client-side draft of a running stage.
func (s *Service) CaptureDraft(ctx context.Context, sessionID string, kind model.StageKind, sub grading.Submission) error {
	c, err := s.engine()
	if err != nil {
		return err
	}
	return c.CaptureDraft(ctx, sessionID, kind, sub)
}

// SubmitStage grades and records a stage submission.
func (s *Service) SubmitStage(ctx context.Context, sessionID string, kind model.StageKind, sub grading.Submission) (model.StageResult, error) {
	c, err := s.engine()
	if err != nil {
		return model.StageResult{}, err
	}
	return c.SubmitStage(ctx, sessionID, kind, sub)
}

// Percentile ranks a finalized session against the other finalized sessions.
func (s *Service) Percentile(ctx context.Context, sessionID string) (model.PercentileRecord, error) {
	if _, err := s.engine(); err != nil {
		return model.PercentileRecord{}, err
	}
	s.mu.RLock()
	calc := s.percentiles
	s.mu.RUnlock()
	return calc.Percentile(ctx, sessionID)
}

// ReviewStage resolves a pending stage result by hand. When re-aggregation
// on review is enabled and the session is finalized, the composite is
// recomputed and returned.
func (s *Service) ReviewStage(ctx context.Context, sessionID string, kind model.StageKind, score float64, metadata map[string]string) (types.ReviewOutcome, error) {
	c, err := s.engine()
	if err != nil {
		return types.ReviewOutcome{}, err
	}
	meta := map[string]string{"review": grading.ReviewManual}
	for k, v := range metadata {
		meta[k] = v
	}
	res, err := c.ResolvePending(ctx, sessionID, kind, score, meta)
	if err != nil {
		return types.ReviewOutcome{}, err
	}
	out := types.ReviewOutcome{Result: res}
	if !s.reaggregate {
		return out, nil
	}
	comp, err := c.Reaggregate(ctx, sessionID)
	switch {
	case errors.Is(err, assessment.ErrSessionNotFinalized):
		return out, nil
	case err != nil:
		return out, err
	}
	out.Composite = &comp
	return out, nil
}

// Reaggregate recomputes the composite of a finalized session on demand.
func (s *Service) Reaggregate(ctx context.Context, sessionID string) (model.CompositeResult, error) {
	c, err := s.engine()
	if err != nil {
		return model.CompositeResult{}, err
	}
	return c.Reaggregate(ctx, sessionID)
}

// TopN returns the best n finalized sessions.
func (s *Service) TopN(ctx context.Context, n int) ([]types.Entry, error) {
	if _, err := s.engine(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	idx := s.index
	s.mu.RUnlock()

	entries, err := idx.TopN(ctx, n)
	if err != nil {
		return nil, err
	}
	out := make([]types.Entry, len(entries))
	for i, e := range entries {
		out[i] = types.Entry{Rank: e.Rank, SessionID: e.SessionID, TotalScore: e.Score}
	}
	return out, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	goroutines := runtime.NumGoroutine()
	metrics.UpdateSystemMemoryUsage(mem.Alloc)
	metrics.UpdateSystemGoroutineCount(goroutines)

	stats := map[string]interface{}{
		"started":     s.started,
		"storage":     s.storageKind(),
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"goroutines":  goroutines,
	}
	if !s.started {
		return stats
	}

	ctx := context.Background()
	population := s.index.Count(ctx)
	clocks := s.coordinator.ActiveClocks()
	queueLen := s.reviews.Len(ctx)

	stats["sessions"] = s.store.Count(ctx)
	stats["population"] = population
	stats["activeClocks"] = clocks
	stats["reviewQueueLength"] = queueLen
	stats["reviewsInFlight"] = s.reviews.InFlight()
	stats["reviewsProcessed"] = s.workerPool.Processed()
	stats["reviewWorkersBusy"] = s.workerPool.Busy()
	if snap := s.index.Snapshot(); snap != nil {
		stats["populationMean"] = snap.Mean
	}

	metrics.UpdatePopulationSize(population)
	metrics.UpdateActiveClocks(clocks)
	metrics.UpdateQueueSize(queueLen)
	return stats
}
