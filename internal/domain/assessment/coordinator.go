// Package assessment coordinates a candidate's progress through the ordered
// assessment stages: it arms stage clocks, grades submissions, records
// results and finalizes the composite score.
package assessment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/skillcheck/internal/adapters/repository"
	"github.com/okian/skillcheck/internal/domain/aggregate"
	"github.com/okian/skillcheck/internal/domain/clock"
	"github.com/okian/skillcheck/internal/domain/grading"
	"github.com/okian/skillcheck/internal/domain/model"
	"github.com/okian/skillcheck/pkg/logger"
	"github.com/okian/skillcheck/pkg/metrics"
)

// Store persists sessions.
type Store interface {
	Load(ctx context.Context, sessionID string) (model.Session, error)
	Create(ctx context.Context, s model.Session) error
	Save(ctx context.Context, s model.Session) error
	ListActive(ctx context.Context) ([]model.Session, error)
}

// Index receives finalized composite scores.
type Index interface {
	Upsert(ctx context.Context, sessionID string, score float64) (bool, error)
}

// ReviewQueue accepts pending stage results for deferred grading.
// Enqueue returns false when the task was not accepted.
type ReviewQueue interface {
	Enqueue(ctx context.Context, task model.ReviewTask) bool
}

type stageKey struct {
	sessionID string
	stage     model.StageKind
}

// Coordinator owns the session state machine. Operations on one session are
// serialized; different sessions proceed in parallel.
type Coordinator struct {
	store      Store
	index      Index
	graders    map[model.StageKind]grading.Grader
	aggregator *aggregate.Aggregator
	clocks     clock.Factory
	reviews    ReviewQueue

	durations     map[model.StageKind]time.Duration
	forcedTimeout time.Duration
	now           func() time.Time
	newID         func() string
	logger        logger.Logger

	locks *keyedMutex

	mu       sync.Mutex
	active   map[stageKey]clock.Clock
	drafts   map[stageKey]grading.Submission
	closed   atomic.Bool
	inflight sync.WaitGroup
}

// New creates a Coordinator. Every stage needs exactly one grader.
func New(store Store, index Index, graders []grading.Grader, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		store:      store,
		index:      index,
		graders:    make(map[model.StageKind]grading.Grader, len(model.Stages)),
		aggregator: aggregate.New(),
		clocks:     clock.DefaultFactory(),
		durations: map[model.StageKind]time.Duration{
			model.StageTyping:      defaultTypingDuration,
			model.StageLetter:      defaultLetterDuration,
			model.StageSpreadsheet: defaultSpreadsheetDuration,
		},
		forcedTimeout: defaultForcedGradeTimeout,
		now:           time.Now,
		newID:         uuid.NewString,
		logger:        logger.Discard(),
		locks:         newKeyedMutex(),
		active:        make(map[stageKey]clock.Clock),
		drafts:        make(map[stageKey]grading.Submission),
	}
	if store == nil || index == nil {
		return nil, errors.New("assessment: store and index are required")
	}
	for _, g := range graders {
		if g == nil {
			continue
		}
		if _, dup := c.graders[g.Kind()]; dup {
			return nil, fmt.Errorf("assessment: duplicate grader for %s", g.Kind())
		}
		c.graders[g.Kind()] = g
	}
	for _, k := range model.Stages {
		if _, ok := c.graders[k]; !ok {
			return nil, fmt.Errorf("assessment: no grader for %s", k)
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreateSession registers a new attempt. An empty sessionID gets a generated one.
func (c *Coordinator) CreateSession(ctx context.Context, candidateID, sessionID string) (model.Session, error) {
	const op = "create_session"
	if c.closed.Load() {
		return model.Session{}, opErr(op, sessionID, "", ErrClosed)
	}
	if strings.TrimSpace(candidateID) == "" {
		return model.Session{}, opErr(op, sessionID, "", ErrMissingCandidate)
	}
	if sessionID == "" {
		sessionID = c.newID()
	}

	s := model.NewSession(sessionID, candidateID, c.now())
	if err := c.store.Create(ctx, s); err != nil {
		if errors.Is(err, repository.ErrExists) {
			err = ErrSessionExists
		}
		return model.Session{}, opErr(op, sessionID, "", err)
	}

	metrics.RecordSessionCreated()
	c.logger.Info(ctx, "session created",
		logger.String("session_id", sessionID),
		logger.String("candidate_id", candidateID),
	)
	return s, nil
}

// GetSession returns a snapshot of the session.
func (c *Coordinator) GetSession(ctx context.Context, sessionID string) (model.Session, error) {
	s, err := c.load(ctx, sessionID)
	if err != nil {
		return model.Session{}, opErr("get_session", sessionID, "", err)
	}
	return s, nil
}

// BeginStage arms the stage clock and moves the stage to InProgress.
func (c *Coordinator) BeginStage(ctx context.Context, sessionID string, kind model.StageKind) (model.StageState, error) {
	const op = "begin_stage"
	if kind.Index() < 0 {
		return model.StageState{}, opErr(op, sessionID, kind, ErrUnknownStage)
	}
	if c.closed.Load() {
		return model.StageState{}, opErr(op, sessionID, kind, ErrClosed)
	}

	unlock := c.locks.Lock(sessionID)
	defer unlock()

	s, err := c.load(ctx, sessionID)
	if err != nil {
		return model.StageState{}, opErr(op, sessionID, kind, err)
	}
	if prev, ok := kind.Previous(); ok && s.Stage(prev).Status != model.StatusSubmitted {
		return model.StageState{}, opErr(op, sessionID, kind, ErrStageOutOfOrder)
	}
	if s.Stage(kind).Status != model.StatusNotStarted {
		return model.StageState{}, opErr(op, sessionID, kind, ErrStageAlreadyStarted)
	}

	now := c.now()
	d := c.durations[kind]
	deadline := now.Add(d)
	st := model.StageState{Status: model.StatusInProgress, StartedAt: &now, Deadline: &deadline}
	s.Stages[kind] = st
	if err := c.store.Save(ctx, s); err != nil {
		return model.StageState{}, opErr(op, sessionID, kind, err)
	}
	if err := c.arm(sessionID, kind, d); err != nil {
		return model.StageState{}, opErr(op, sessionID, kind, err)
	}

	metrics.RecordStageBegun(kind.String())
	c.logger.Info(ctx, "stage begun",
		logger.String("session_id", sessionID),
		logger.String("stage", kind.String()),
		logger.Duration("limit", d),
	)
	return st.Clone(), nil
}

// CaptureDraft remembers the latest client-side draft of an in-progress
// stage. Clock expiry grades the last captured draft.
func (c *Coordinator) CaptureDraft(ctx context.Context, sessionID string, kind model.StageKind, sub grading.Submission) error {
	const op = "capture_draft"
	if kind.Index() < 0 {
		return opErr(op, sessionID, kind, ErrUnknownStage)
	}
	if !sub.Matches(kind) {
		return opErr(op, sessionID, kind, grading.ErrWrongSubmission)
	}
	if sub.Typing != nil {
		if err := grading.ValidateTyping(*sub.Typing); err != nil {
			return opErr(op, sessionID, kind, err)
		}
	}

	unlock := c.locks.Lock(sessionID)
	defer unlock()

	s, err := c.load(ctx, sessionID)
	if err != nil {
		return opErr(op, sessionID, kind, err)
	}
	if s.Stage(kind).Status != model.StatusInProgress {
		return opErr(op, sessionID, kind, ErrStageNotInProgress)
	}

	c.mu.Lock()
	c.drafts[stageKey{sessionID, kind}] = sub
	c.mu.Unlock()
	return nil
}

// SubmitStage grades an explicit submission and records it. Submitting an
// already submitted stage returns the stored result unchanged. On grader
// failure the stage stays InProgress and its clock keeps running.
func (c *Coordinator) SubmitStage(ctx context.Context, sessionID string, kind model.StageKind, sub grading.Submission) (model.StageResult, error) {
	const op = "submit_stage"
	grader, ok := c.graders[kind]
	if !ok {
		return model.StageResult{}, opErr(op, sessionID, kind, ErrUnknownStage)
	}

	unlock := c.locks.Lock(sessionID)
	s, err := c.load(ctx, sessionID)
	unlock()
	if err != nil {
		return model.StageResult{}, opErr(op, sessionID, kind, err)
	}
	st := s.Stage(kind)
	switch st.Status {
	case model.StatusSubmitted:
		return st.Result.Clone(), nil
	case model.StatusNotStarted:
		return model.StageResult{}, opErr(op, sessionID, kind, ErrStageNotInProgress)
	}
	if !sub.Matches(kind) {
		return model.StageResult{}, opErr(op, sessionID, kind, grading.ErrWrongSubmission)
	}

	// Grading may call the slow oracle, so it runs without the session lock.
	res, err := c.grade(ctx, grader, sub)
	if err != nil {
		return model.StageResult{}, opErr(op, sessionID, kind, err)
	}
	res.SubmittedAt = c.now()
	res.Forced = false

	stored, _, err := c.record(ctx, sessionID, kind, res)
	if err != nil {
		return model.StageResult{}, opErr(op, sessionID, kind, err)
	}
	return stored, nil
}

// onClockExpire force-submits the last captured draft, or the empty
// submission. A grader that still fails under the forced timeout leaves a
// pending result so the stage never stays InProgress.
func (c *Coordinator) onClockExpire(sessionID string, kind model.StageKind) {
	key := stageKey{sessionID, kind}
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return
	}
	c.inflight.Add(1)
	sub := c.drafts[key]
	c.mu.Unlock()
	defer c.inflight.Done()

	// Only grading is bounded by the forced timeout.
	ctx := context.Background()

	unlock := c.locks.Lock(sessionID)
	s, err := c.load(ctx, sessionID)
	unlock()
	if err != nil || s.Stage(kind).Status != model.StatusInProgress {
		return
	}

	grader := c.graders[kind]
	gradeCtx, cancel := context.WithTimeout(ctx, c.forcedTimeout)
	res, err := c.grade(gradeCtx, grader, sub)
	cancel()
	if err != nil {
		c.logger.Warn(ctx, "forced grading failed, recording pending result",
			logger.String("session_id", sessionID),
			logger.String("stage", kind.String()),
			logger.Error(err),
		)
		res = pendingResult(kind, grader.MaxScore(), sub, err)
	}
	res.Forced = true
	res.SubmittedAt = c.now()

	if _, _, err := c.record(ctx, sessionID, kind, res); err != nil {
		metrics.RecordErrorByComponent("coordinator", "forced_record_failed")
		c.logger.Error(ctx, "failed to record forced submission",
			logger.String("session_id", sessionID),
			logger.String("stage", kind.String()),
			logger.Error(err),
		)
	}
}

// record applies a graded result if the stage is still InProgress. The loser
// of a submit/expiry race gets the winner's stored result and applied=false.
func (c *Coordinator) record(ctx context.Context, sessionID string, kind model.StageKind, res model.StageResult) (stored model.StageResult, applied bool, err error) {
	key := stageKey{sessionID, kind}
	unlock := c.locks.Lock(sessionID)

	s, err := c.load(ctx, sessionID)
	if err != nil {
		unlock()
		return model.StageResult{}, false, err
	}
	st := s.Stage(kind)
	switch st.Status {
	case model.StatusSubmitted:
		unlock()
		return st.Result.Clone(), false, nil
	case model.StatusNotStarted:
		unlock()
		return model.StageResult{}, false, ErrStageNotInProgress
	}

	r := res.Clone()
	st.Status = model.StatusSubmitted
	st.Result = &r
	s.Stages[kind] = st

	finalized := false
	if s.Complete() && !s.Finalized() {
		comp, aggErr := c.aggregator.Aggregate(s)
		if aggErr == nil {
			computed := comp.ComputedAt
			s.Composite = &comp
			s.FinalizedAt = &computed
			finalized = true
		}
	}

	if err := c.store.Save(ctx, s); err != nil {
		unlock()
		return model.StageResult{}, false, err
	}
	c.disarm(key)
	if finalized {
		c.publish(ctx, sessionID, s.Composite.TotalScore)
	}
	unlock()

	metrics.RecordStageSubmitted(kind.String(), r.Forced)
	c.logger.Info(ctx, "stage submitted",
		logger.String("session_id", sessionID),
		logger.String("stage", kind.String()),
		logger.Bool("forced", r.Forced),
		logger.Bool("pending", r.Pending()),
	)
	if finalized {
		metrics.RecordSessionFinalized(s.Composite.TotalScore)
		c.logger.Info(ctx, "session finalized",
			logger.String("session_id", sessionID),
			logger.Float64("total_score", s.Composite.TotalScore),
		)
	}
	if r.Pending() {
		c.enqueueReview(ctx, sessionID, kind, r)
	}
	return r.Clone(), true, nil
}

// ResolvePending replaces a pending score. It does not recompute the
// composite; call Reaggregate for that.
func (c *Coordinator) ResolvePending(ctx context.Context, sessionID string, kind model.StageKind, score float64, metadata map[string]string) (model.StageResult, error) {
	const op = "resolve_pending"
	if kind.Index() < 0 {
		return model.StageResult{}, opErr(op, sessionID, kind, ErrUnknownStage)
	}

	unlock := c.locks.Lock(sessionID)
	defer unlock()

	s, err := c.load(ctx, sessionID)
	if err != nil {
		return model.StageResult{}, opErr(op, sessionID, kind, err)
	}
	st := s.Stage(kind)
	if st.Status != model.StatusSubmitted || st.Result == nil || !st.Result.Pending() {
		return model.StageResult{}, opErr(op, sessionID, kind, ErrNotPending)
	}
	if math.IsNaN(score) || score < 0 || score > st.Result.MaxScore {
		return model.StageResult{}, opErr(op, sessionID, kind, ErrInvalidScore)
	}

	r := st.Result.Clone()
	r.RawScore = model.Float(score)
	if r.Metadata == nil {
		r.Metadata = make(map[string]string, len(metadata))
	}
	for k, v := range metadata {
		r.Metadata[k] = v
	}
	source := r.Metadata["review"]
	if source == "" || source == grading.ReviewPending {
		source = grading.ReviewManual
		r.Metadata["review"] = source
	}
	st.Result = &r
	s.Stages[kind] = st
	if err := c.store.Save(ctx, s); err != nil {
		return model.StageResult{}, opErr(op, sessionID, kind, err)
	}

	metrics.RecordReviewResolved(kind.String(), source)
	c.logger.Info(ctx, "pending result resolved",
		logger.String("session_id", sessionID),
		logger.String("stage", kind.String()),
		logger.Float64("score", score),
		logger.String("source", source),
	)
	return r.Clone(), nil
}

// Reaggregate recomputes the composite of a finalized session and bumps its revision.
func (c *Coordinator) Reaggregate(ctx context.Context, sessionID string) (model.CompositeResult, error) {
	const op = "reaggregate"
	unlock := c.locks.Lock(sessionID)
	defer unlock()

	s, err := c.load(ctx, sessionID)
	if err != nil {
		return model.CompositeResult{}, opErr(op, sessionID, "", err)
	}
	if !s.Finalized() {
		return model.CompositeResult{}, opErr(op, sessionID, "", ErrSessionNotFinalized)
	}
	comp, err := c.aggregator.Aggregate(s)
	if err != nil {
		return model.CompositeResult{}, opErr(op, sessionID, "", err)
	}
	comp.Revision = s.Composite.Revision + 1
	s.Composite = &comp
	if err := c.store.Save(ctx, s); err != nil {
		return model.CompositeResult{}, opErr(op, sessionID, "", err)
	}
	c.publish(ctx, sessionID, comp.TotalScore)

	metrics.RecordReaggregation()
	c.logger.Info(ctx, "composite re-aggregated",
		logger.String("session_id", sessionID),
		logger.Int("revision", comp.Revision),
		logger.Float64("total_score", comp.TotalScore),
	)
	return comp.Clone(), nil
}

// Resume re-arms clocks for stages left InProgress by a previous process and
// force-submits those whose deadline already passed. It returns how many
// stages it handled.
func (c *Coordinator) Resume(ctx context.Context) (int, error) {
	active, err := c.store.ListActive(ctx)
	if err != nil {
		return 0, opErr("resume", "", "", err)
	}

	now := c.now()
	handled := 0
	var expired []stageKey
	for _, s := range active {
		for _, kind := range model.Stages {
			st := s.Stage(kind)
			if st.Status != model.StatusInProgress {
				continue
			}
			key := stageKey{s.SessionID, kind}
			if c.hasClock(key) {
				continue
			}
			var remaining time.Duration
			if st.Deadline != nil {
				remaining = st.Deadline.Sub(now)
			}
			if remaining <= 0 {
				expired = append(expired, key)
				continue
			}
			if err := c.arm(s.SessionID, kind, remaining); err != nil {
				c.logger.Error(ctx, "failed to re-arm stage clock",
					logger.String("session_id", s.SessionID),
					logger.String("stage", kind.String()),
					logger.Error(err),
				)
				continue
			}
			handled++
		}
	}
	for _, key := range expired {
		c.onClockExpire(key.sessionID, key.stage)
		handled++
	}

	if handled > 0 {
		c.logger.Info(ctx, "resumed in-progress stages", logger.Int("count", handled))
	}
	return handled, nil
}

// Remaining returns the time left on a stage clock, or zero when none is armed.
func (c *Coordinator) Remaining(sessionID string, kind model.StageKind) time.Duration {
	c.mu.Lock()
	clk, ok := c.active[stageKey{sessionID, kind}]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	return clk.Remaining()
}

// ActiveClocks returns the number of armed stage clocks.
func (c *Coordinator) ActiveClocks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// Close cancels every armed clock and waits for running expiry handlers.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return nil
	}
	c.closed.Store(true)
	clocks := make([]clock.Clock, 0, len(c.active))
	for _, clk := range c.active {
		clocks = append(clocks, clk)
	}
	c.active = make(map[stageKey]clock.Clock)
	c.drafts = make(map[stageKey]grading.Submission)
	c.mu.Unlock()

	for _, clk := range clocks {
		clk.Cancel()
	}
	metrics.UpdateActiveClocks(0)
	c.inflight.Wait()
	return nil
}

func (c *Coordinator) load(ctx context.Context, sessionID string) (model.Session, error) {
	s, err := c.store.Load(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Session{}, ErrSessionNotFound
	}
	return s, err
}

func (c *Coordinator) grade(ctx context.Context, g grading.Grader, sub grading.Submission) (model.StageResult, error) {
	stage := g.Kind().String()
	start := time.Now()
	res, err := g.Grade(ctx, sub)
	metrics.RecordGradingLatency(stage, float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.RecordGradingError(stage, gradingErrorType(err))
		return model.StageResult{}, err
	}
	return res, nil
}

func gradingErrorType(err error) string {
	switch {
	case errors.Is(err, grading.ErrGraderUnavailable):
		return "grader_unavailable"
	case errors.Is(err, grading.ErrInvalidMetrics):
		return "invalid_metrics"
	case errors.Is(err, grading.ErrWrongSubmission):
		return "wrong_submission"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "unknown"
}

// arm starts a clock for the stage and tracks it.
func (c *Coordinator) arm(sessionID string, kind model.StageKind, d time.Duration) error {
	key := stageKey{sessionID, kind}
	clk := c.clocks.NewClock()
	clk.OnExpire(func() { c.onClockExpire(sessionID, kind) })

	c.mu.Lock()
	if old, ok := c.active[key]; ok {
		old.Cancel()
	}
	c.active[key] = clk
	n := len(c.active)
	c.mu.Unlock()
	metrics.UpdateActiveClocks(n)

	if err := clk.Start(d); err != nil {
		c.disarm(key)
		return err
	}
	return nil
}

// disarm cancels and forgets the stage clock and its draft.
func (c *Coordinator) disarm(key stageKey) {
	c.mu.Lock()
	clk, ok := c.active[key]
	delete(c.active, key)
	delete(c.drafts, key)
	n := len(c.active)
	c.mu.Unlock()
	if ok {
		clk.Cancel()
	}
	metrics.UpdateActiveClocks(n)
}

func (c *Coordinator) hasClock(key stageKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[key]
	return ok
}

// publish pushes a composite score into the population index. Callers hold the session lock.
func (c *Coordinator) publish(ctx context.Context, sessionID string, total float64) {
	if _, err := c.index.Upsert(ctx, sessionID, total); err != nil {
		metrics.RecordErrorByComponent("coordinator", "index_upsert_failed")
		c.logger.Error(ctx, "failed to update population index",
			logger.String("session_id", sessionID),
			logger.Error(err),
		)
	}
}

func (c *Coordinator) enqueueReview(ctx context.Context, sessionID string, kind model.StageKind, r model.StageResult) {
	if c.reviews == nil {
		c.logger.Warn(ctx, "pending result awaits manual review",
			logger.String("session_id", sessionID),
			logger.String("stage", kind.String()),
		)
		return
	}
	task := model.ReviewTask{
		SessionID:  sessionID,
		Stage:      kind,
		Payload:    reviewPayload(r),
		EnqueuedAt: c.now(),
	}
	if !c.reviews.Enqueue(ctx, task) {
		metrics.RecordErrorByComponent("coordinator", "review_enqueue_failed")
		c.logger.Warn(ctx, "review queue rejected pending result",
			logger.String("session_id", sessionID),
			logger.String("stage", kind.String()),
		)
	}
}

// pendingResult is recorded when forced grading cannot produce a score.
func pendingResult(kind model.StageKind, maxScore float64, sub grading.Submission, cause error) model.StageResult {
	meta := map[string]string{
		"review": grading.ReviewPending,
		"reason": cause.Error(),
	}
	switch {
	case sub.Letter != nil:
		meta["text"] = sub.Letter.Text
	case sub.Spreadsheet != nil:
		meta["file_ref"] = sub.Spreadsheet.FileRef
	}
	return model.StageResult{Stage: kind, MaxScore: maxScore, Metadata: meta}
}

func reviewPayload(r model.StageResult) map[string]string {
	payload := make(map[string]string, 1)
	for _, k := range []string{"text", "file_ref"} {
		if v, ok := r.Metadata[k]; ok && v != "" {
			payload[k] = v
		}
	}
	return payload
}
