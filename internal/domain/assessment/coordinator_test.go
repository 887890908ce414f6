package assessment_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/skillcheck/internal/adapters/repository"
	"github.com/okian/skillcheck/internal/domain/assessment"
	"github.com/okian/skillcheck/internal/domain/clock"
	"github.com/okian/skillcheck/internal/domain/grading"
	"github.com/okian/skillcheck/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// manualTimers hands out timers that only fire when a test says so.
type manualTimers struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	fn func()
	d  time.Duration
}

func (t *manualTimer) Stop() bool { return true }

func (m *manualTimers) factory() clock.Factory {
	return clock.FactoryFunc(func() clock.Clock {
		return clock.New(clock.WithAfterFunc(func(d time.Duration, f func()) clock.Stopper {
			t := &manualTimer{fn: f, d: d}
			m.mu.Lock()
			m.timers = append(m.timers, t)
			m.mu.Unlock()
			return t
		}))
	})
}

func (m *manualTimers) last() *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timers[len(m.timers)-1]
}

// stubOracle scores letters; the text "slow" blocks until release is closed.
type stubOracle struct {
	mu      sync.Mutex
	score   float64
	err     error
	entered chan struct{}
	release chan struct{}
}

func (o *stubOracle) Evaluate(ctx context.Context, text string) (grading.Evaluation, error) {
	if text == "slow" {
		close(o.entered)
		<-o.release
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return grading.Evaluation{}, o.err
	}
	return grading.Evaluation{Score: o.score, Feedback: "ok"}, nil
}

func (o *stubOracle) fail(err error) {
	o.mu.Lock()
	o.err = err
	o.mu.Unlock()
}

type stubChecker struct{ score float64 }

func (c stubChecker) Check(ctx context.Context, fileRef string) (grading.CheckResult, error) {
	return grading.CheckResult{Score: c.score}, nil
}

// blockingChecker holds every check until its context ends.
type blockingChecker struct{}

func (blockingChecker) Check(ctx context.Context, _ string) (grading.CheckResult, error) {
	<-ctx.Done()
	return grading.CheckResult{}, ctx.Err()
}

type recordingQueue struct {
	mu    sync.Mutex
	tasks []model.ReviewTask
}

func (q *recordingQueue) Enqueue(ctx context.Context, task model.ReviewTask) bool {
	if ctx.Err() != nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return true
}

func (q *recordingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

type fixture struct {
	coord   *assessment.Coordinator
	store   *repository.MemoryStore
	index   *repository.TreapIndex
	timers  *manualTimers
	oracle  *stubOracle
	reviews *recordingQueue
}

func newFixture(withChecker bool) *fixture {
	var checker grading.Checker
	if withChecker {
		checker = stubChecker{score: 16}
	}
	return newFixtureWith(checker)
}

func newFixtureWith(checker grading.Checker, opts ...assessment.Option) *fixture {
	ctx := context.Background()
	f := &fixture{
		store:   repository.NewMemoryStore(),
		index:   repository.NewTreapIndex(ctx),
		timers:  &manualTimers{},
		oracle:  &stubOracle{score: 8, entered: make(chan struct{}), release: make(chan struct{})},
		reviews: &recordingQueue{},
	}
	var sheetOpts []grading.SpreadsheetOption
	if checker != nil {
		sheetOpts = append(sheetOpts, grading.WithChecker(checker))
	}
	coord, err := assessment.New(f.store, f.index,
		[]grading.Grader{
			grading.NewTypingGrader(),
			grading.NewLetterGrader(f.oracle),
			grading.NewSpreadsheetGrader(sheetOpts...),
		},
		append([]assessment.Option{
			assessment.WithClockFactory(f.timers.factory()),
			assessment.WithReviewQueue(f.reviews),
			assessment.WithIDGenerator(func() string { return "generated-id" }),
		}, opts...)...,
	)
	So(err, ShouldBeNil)
	f.coord = coord
	return f
}

func (f *fixture) close() {
	_ = f.coord.Close()
	_ = f.index.Close()
}

var (
	typing45 = grading.Submission{Typing: &grading.TypingMetrics{WPM: 60, Accuracy: 66.66, ElapsedSeconds: 300}}
	letter   = grading.Submission{Letter: &grading.Letter{Text: "Dear team, I would like to join."}}
	sheet    = grading.Submission{Spreadsheet: &grading.SpreadsheetFile{FileRef: "blob://sheet-1"}}
)

// complete runs every stage of a session with explicit submissions.
func (f *fixture) complete(ctx context.Context, id string) {
	for _, step := range []struct {
		kind model.StageKind
		sub  grading.Submission
	}{
		{model.StageTyping, typing45},
		{model.StageLetter, letter},
		{model.StageSpreadsheet, sheet},
	} {
		_, err := f.coord.BeginStage(ctx, id, step.kind)
		So(err, ShouldBeNil)
		_, err = f.coord.SubmitStage(ctx, id, step.kind, step.sub)
		So(err, ShouldBeNil)
	}
}

func TestCoordinatorLifecycle(t *testing.T) {
	Convey("Given a coordinator", t, func() {
		ctx := context.Background()
		f := newFixture(true)
		Reset(f.close)

		_, err := f.coord.CreateSession(ctx, "cand-1", "s1")
		So(err, ShouldBeNil)

		Convey("When creating a session without an id", func() {
			s, err := f.coord.CreateSession(ctx, "cand-2", "")

			Convey("Then an id is generated and every stage is NotStarted", func() {
				So(err, ShouldBeNil)
				So(s.SessionID, ShouldEqual, "generated-id")
				for _, k := range model.Stages {
					So(s.Stage(k).Status, ShouldEqual, model.StatusNotStarted)
				}
			})
		})

		Convey("When creating a duplicate session", func() {
			_, err := f.coord.CreateSession(ctx, "cand-1", "s1")

			Convey("Then it fails with ErrSessionExists", func() {
				So(errors.Is(err, assessment.ErrSessionExists), ShouldBeTrue)
			})
		})

		Convey("When creating a session without a candidate", func() {
			_, err := f.coord.CreateSession(ctx, " ", "")

			Convey("Then it fails with ErrMissingCandidate", func() {
				So(errors.Is(err, assessment.ErrMissingCandidate), ShouldBeTrue)
			})
		})

		Convey("When beginning the letter stage before typing is submitted", func() {
			_, err := f.coord.BeginStage(ctx, "s1", model.StageLetter)

			Convey("Then it fails with ErrStageOutOfOrder and carries the operation", func() {
				So(errors.Is(err, assessment.ErrStageOutOfOrder), ShouldBeTrue)
				var opErr *assessment.OpError
				So(errors.As(err, &opErr), ShouldBeTrue)
				So(opErr.Op, ShouldEqual, "begin_stage")
				So(opErr.Stage, ShouldEqual, model.StageLetter)
			})
		})

		Convey("When submitting a stage that was never begun", func() {
			_, err := f.coord.SubmitStage(ctx, "s1", model.StageTyping, typing45)

			Convey("Then it fails with ErrStageNotInProgress", func() {
				So(errors.Is(err, assessment.ErrStageNotInProgress), ShouldBeTrue)
			})
		})

		Convey("When touching an unknown session", func() {
			_, err := f.coord.BeginStage(ctx, "ghost", model.StageTyping)

			Convey("Then it fails with ErrSessionNotFound", func() {
				So(errors.Is(err, assessment.ErrSessionNotFound), ShouldBeTrue)
			})
		})

		Convey("When the typing stage is begun", func() {
			st, err := f.coord.BeginStage(ctx, "s1", model.StageTyping)
			So(err, ShouldBeNil)

			Convey("Then it is InProgress with a five minute clock", func() {
				So(st.Status, ShouldEqual, model.StatusInProgress)
				So(st.Deadline.Sub(*st.StartedAt), ShouldEqual, 300*time.Second)
				So(f.timers.last().d, ShouldEqual, 300*time.Second)
				So(f.coord.ActiveClocks(), ShouldEqual, 1)
				So(f.coord.Remaining("s1", model.StageTyping) > 0, ShouldBeTrue)
			})

			Convey("Then beginning it again fails with ErrStageAlreadyStarted", func() {
				_, err := f.coord.BeginStage(ctx, "s1", model.StageTyping)
				So(errors.Is(err, assessment.ErrStageAlreadyStarted), ShouldBeTrue)
			})

			Convey("Then a submission for another stage is rejected", func() {
				_, err := f.coord.SubmitStage(ctx, "s1", model.StageTyping, letter)
				So(errors.Is(err, grading.ErrWrongSubmission), ShouldBeTrue)
			})

			Convey("And it is submitted", func() {
				res, err := f.coord.SubmitStage(ctx, "s1", model.StageTyping, typing45)
				So(err, ShouldBeNil)

				Convey("Then the result is recorded and the clock is cancelled", func() {
					So(*res.RawScore, ShouldAlmostEqual, 45.0, 0.01)
					So(res.Forced, ShouldBeFalse)
					So(f.coord.ActiveClocks(), ShouldEqual, 0)
					s, _ := f.coord.GetSession(ctx, "s1")
					So(s.Stage(model.StageTyping).Status, ShouldEqual, model.StatusSubmitted)
				})

				Convey("Then submitting again is a no-op returning the stored result", func() {
					again, err := f.coord.SubmitStage(ctx, "s1", model.StageTyping,
						grading.Submission{Typing: &grading.TypingMetrics{WPM: 120, Accuracy: 100}})
					So(err, ShouldBeNil)
					So(*again.RawScore, ShouldEqual, *res.RawScore)
					So(again.SubmittedAt.Equal(res.SubmittedAt), ShouldBeTrue)
				})

				Convey("Then the expired timer no longer fires", func() {
					f.timers.last().fn()
					s, _ := f.coord.GetSession(ctx, "s1")
					So(s.Stage(model.StageTyping).Result.Forced, ShouldBeFalse)
				})

				Convey("Then beginning it again fails with ErrStageAlreadyStarted", func() {
					_, err := f.coord.BeginStage(ctx, "s1", model.StageTyping)
					So(errors.Is(err, assessment.ErrStageAlreadyStarted), ShouldBeTrue)
				})
			})
		})

		Convey("When all stages are submitted", func() {
			f.complete(ctx, "s1")

			Convey("Then the composite is 18 + 8 + 16 = 42 and indexed", func() {
				s, err := f.coord.GetSession(ctx, "s1")
				So(err, ShouldBeNil)
				So(s.Finalized(), ShouldBeTrue)
				So(s.Composite.TotalScore, ShouldEqual, 42.0)
				So(s.Composite.Revision, ShouldEqual, 0)
				So(s.FinalizedAt, ShouldNotBeNil)
				score, ok := f.index.Score(ctx, "s1")
				So(ok, ShouldBeTrue)
				So(score, ShouldEqual, 42.0)
				So(f.reviews.len(), ShouldEqual, 0)
			})
		})
	})
}

func TestCoordinatorGraderFailure(t *testing.T) {
	Convey("Given a letter stage in progress", t, func() {
		ctx := context.Background()
		f := newFixture(true)
		Reset(f.close)

		_, _ = f.coord.CreateSession(ctx, "cand", "s1")
		_, _ = f.coord.BeginStage(ctx, "s1", model.StageTyping)
		_, _ = f.coord.SubmitStage(ctx, "s1", model.StageTyping, typing45)
		_, err := f.coord.BeginStage(ctx, "s1", model.StageLetter)
		So(err, ShouldBeNil)

		Convey("When the oracle is unavailable during an explicit submission", func() {
			f.oracle.fail(errors.New("503 from upstream"))
			_, err := f.coord.SubmitStage(ctx, "s1", model.StageLetter, letter)

			Convey("Then the error is retryable and the stage stays InProgress", func() {
				So(errors.Is(err, grading.ErrGraderUnavailable), ShouldBeTrue)
				s, _ := f.coord.GetSession(ctx, "s1")
				So(s.Stage(model.StageLetter).Status, ShouldEqual, model.StatusInProgress)
				So(f.coord.ActiveClocks(), ShouldEqual, 1)
			})

			Convey("And the clock then expires with a captured draft", func() {
				So(f.coord.CaptureDraft(ctx, "s1", model.StageLetter, letter), ShouldBeNil)
				f.timers.last().fn()

				Convey("Then a pending forced result is recorded and queued for review", func() {
					s, _ := f.coord.GetSession(ctx, "s1")
					r := s.Stage(model.StageLetter).Result
					So(s.Stage(model.StageLetter).Status, ShouldEqual, model.StatusSubmitted)
					So(r.Forced, ShouldBeTrue)
					So(r.Pending(), ShouldBeTrue)
					So(r.MaxScore, ShouldEqual, 10.0)
					So(f.reviews.len(), ShouldEqual, 1)
					So(f.reviews.tasks[0].Payload["text"], ShouldEqual, letter.Letter.Text)
				})
			})
		})
	})
}

func TestCoordinatorClockExpiry(t *testing.T) {
	Convey("Given a typing stage in progress", t, func() {
		ctx := context.Background()
		f := newFixture(true)
		Reset(f.close)

		_, _ = f.coord.CreateSession(ctx, "cand", "s1")
		_, err := f.coord.BeginStage(ctx, "s1", model.StageTyping)
		So(err, ShouldBeNil)

		Convey("When the clock expires with nothing captured", func() {
			f.timers.last().fn()

			Convey("Then a forced zero-score result is recorded", func() {
				s, _ := f.coord.GetSession(ctx, "s1")
				st := s.Stage(model.StageTyping)
				So(st.Status, ShouldEqual, model.StatusSubmitted)
				So(st.Result.Forced, ShouldBeTrue)
				So(*st.Result.RawScore, ShouldEqual, 0.0)
				So(f.coord.ActiveClocks(), ShouldEqual, 0)
			})

			Convey("Then a late explicit submission returns the forced result", func() {
				res, err := f.coord.SubmitStage(ctx, "s1", model.StageTyping, typing45)
				So(err, ShouldBeNil)
				So(res.Forced, ShouldBeTrue)
				So(*res.RawScore, ShouldEqual, 0.0)
			})
		})

		Convey("When the clock expires after a draft was captured", func() {
			So(f.coord.CaptureDraft(ctx, "s1", model.StageTyping, typing45), ShouldBeNil)
			f.timers.last().fn()

			Convey("Then the draft is graded", func() {
				s, _ := f.coord.GetSession(ctx, "s1")
				So(*s.Stage(model.StageTyping).Result.RawScore, ShouldAlmostEqual, 45.0, 0.01)
				So(s.Stage(model.StageTyping).Result.Forced, ShouldBeTrue)
			})
		})

		Convey("When a typing draft carries impossible metrics", func() {
			bad := grading.Submission{Typing: &grading.TypingMetrics{WPM: 60, Accuracy: 150, ElapsedSeconds: 300}}
			err := f.coord.CaptureDraft(ctx, "s1", model.StageTyping, bad)

			Convey("Then it is rejected before it can be graded on expiry", func() {
				So(errors.Is(err, grading.ErrInvalidMetrics), ShouldBeTrue)
				f.timers.last().fn()
				s, _ := f.coord.GetSession(ctx, "s1")
				So(*s.Stage(model.StageTyping).Result.RawScore, ShouldEqual, 0.0)
			})
		})

		Convey("When a draft for another stage is captured", func() {
			err := f.coord.CaptureDraft(ctx, "s1", model.StageTyping, letter)

			Convey("Then it is rejected", func() {
				So(errors.Is(err, grading.ErrWrongSubmission), ShouldBeTrue)
			})
		})
	})
}

func TestCoordinatorForcedGradeTimeout(t *testing.T) {
	Convey("Given a spreadsheet stage whose checker outlasts the forced timeout", t, func() {
		ctx := context.Background()
		f := newFixtureWith(blockingChecker{}, assessment.WithForcedGradeTimeout(20*time.Millisecond))
		Reset(f.close)

		_, _ = f.coord.CreateSession(ctx, "cand", "s1")
		for _, step := range []struct {
			kind model.StageKind
			sub  grading.Submission
		}{
			{model.StageTyping, typing45},
			{model.StageLetter, letter},
		} {
			_, _ = f.coord.BeginStage(ctx, "s1", step.kind)
			_, err := f.coord.SubmitStage(ctx, "s1", step.kind, step.sub)
			So(err, ShouldBeNil)
		}
		_, err := f.coord.BeginStage(ctx, "s1", model.StageSpreadsheet)
		So(err, ShouldBeNil)
		So(f.coord.CaptureDraft(ctx, "s1", model.StageSpreadsheet, sheet), ShouldBeNil)

		Convey("When the clock expires", func() {
			f.timers.last().fn()

			Convey("Then the session is finalized with a pending spreadsheet", func() {
				s, _ := f.coord.GetSession(ctx, "s1")
				So(s.Finalized(), ShouldBeTrue)
				res := s.Stage(model.StageSpreadsheet).Result
				So(res.Forced, ShouldBeTrue)
				So(res.Pending(), ShouldBeTrue)
			})

			Convey("Then the composite still enters the population", func() {
				s, _ := f.coord.GetSession(ctx, "s1")
				score, ok := f.index.Score(ctx, "s1")
				So(ok, ShouldBeTrue)
				So(score, ShouldEqual, s.Composite.TotalScore)
				So(f.index.Count(ctx), ShouldEqual, 1)
			})

			Convey("Then the pending result is queued for review", func() {
				So(f.reviews.len(), ShouldEqual, 1)
				So(f.reviews.tasks[0].Payload["file_ref"], ShouldEqual, "blob://sheet-1")
			})
		})
	})
}

func TestCoordinatorSubmitExpiryRace(t *testing.T) {
	Convey("Given a letter submission blocked inside the oracle", t, func() {
		ctx := context.Background()
		f := newFixture(true)
		Reset(f.close)

		_, _ = f.coord.CreateSession(ctx, "cand", "s1")
		_, _ = f.coord.BeginStage(ctx, "s1", model.StageTyping)
		_, _ = f.coord.SubmitStage(ctx, "s1", model.StageTyping, typing45)
		_, _ = f.coord.BeginStage(ctx, "s1", model.StageLetter)
		expiry := f.timers.last()

		type outcome struct {
			res model.StageResult
			err error
		}
		done := make(chan outcome, 1)
		go func() {
			res, err := f.coord.SubmitStage(ctx, "s1", model.StageLetter,
				grading.Submission{Letter: &grading.Letter{Text: "slow"}})
			done <- outcome{res, err}
		}()
		<-f.oracle.entered

		Convey("When the clock expires before grading finishes", func() {
			expiry.fn()
			close(f.oracle.release)
			got := <-done

			Convey("Then exactly one result is recorded and both callers see it", func() {
				So(got.err, ShouldBeNil)
				s, _ := f.coord.GetSession(ctx, "s1")
				stored := s.Stage(model.StageLetter).Result
				So(stored.Forced, ShouldBeTrue)
				So(*stored.RawScore, ShouldEqual, 0.0)
				So(got.res.Forced, ShouldBeTrue)
				So(got.res.SubmittedAt.Equal(stored.SubmittedAt), ShouldBeTrue)
			})
		})
	})
}

func TestCoordinatorPendingReview(t *testing.T) {
	Convey("Given a session finalized with a pending spreadsheet", t, func() {
		ctx := context.Background()
		f := newFixture(false)
		Reset(f.close)

		_, _ = f.coord.CreateSession(ctx, "cand", "s1")
		f.complete(ctx, "s1")

		s, _ := f.coord.GetSession(ctx, "s1")
		So(s.Composite.TotalScore, ShouldEqual, 26.0)
		So(s.Composite.Pending, ShouldResemble, []model.StageKind{model.StageSpreadsheet})
		So(f.reviews.len(), ShouldEqual, 1)
		So(f.reviews.tasks[0].Payload["file_ref"], ShouldEqual, "blob://sheet-1")

		Convey("When the pending score is resolved", func() {
			res, err := f.coord.ResolvePending(ctx, "s1", model.StageSpreadsheet, 16, map[string]string{"reviewer": "ops"})
			So(err, ShouldBeNil)

			Convey("Then the stage score is replaced but the composite is unchanged", func() {
				So(*res.RawScore, ShouldEqual, 16.0)
				So(res.Metadata["review"], ShouldEqual, grading.ReviewManual)
				So(res.Metadata["reviewer"], ShouldEqual, "ops")
				s, _ := f.coord.GetSession(ctx, "s1")
				So(s.Composite.TotalScore, ShouldEqual, 26.0)
			})

			Convey("And the composite is re-aggregated", func() {
				comp, err := f.coord.Reaggregate(ctx, "s1")

				Convey("Then the total and revision are updated everywhere", func() {
					So(err, ShouldBeNil)
					So(comp.TotalScore, ShouldEqual, 42.0)
					So(comp.Revision, ShouldEqual, 1)
					So(comp.Pending, ShouldBeEmpty)
					score, _ := f.index.Score(ctx, "s1")
					So(score, ShouldEqual, 42.0)
				})
			})

			Convey("Then resolving it twice fails with ErrNotPending", func() {
				_, err := f.coord.ResolvePending(ctx, "s1", model.StageSpreadsheet, 10, nil)
				So(errors.Is(err, assessment.ErrNotPending), ShouldBeTrue)
			})
		})

		Convey("When the resolved score exceeds the stage maximum", func() {
			_, err := f.coord.ResolvePending(ctx, "s1", model.StageSpreadsheet, 25, nil)

			Convey("Then it fails with ErrInvalidScore", func() {
				So(errors.Is(err, assessment.ErrInvalidScore), ShouldBeTrue)
			})
		})

		Convey("When re-aggregating an unfinished session", func() {
			_, _ = f.coord.CreateSession(ctx, "cand", "s2")
			_, err := f.coord.Reaggregate(ctx, "s2")

			Convey("Then it fails with ErrSessionNotFinalized", func() {
				So(errors.Is(err, assessment.ErrSessionNotFinalized), ShouldBeTrue)
			})
		})
	})
}

func TestCoordinatorResume(t *testing.T) {
	Convey("Given stored sessions left in progress by a previous process", t, func() {
		ctx := context.Background()
		f := newFixture(true)
		Reset(f.close)

		now := time.Now()
		started := now.Add(-10 * time.Minute)
		past := now.Add(-5 * time.Minute)
		future := now.Add(2 * time.Minute)

		expired := model.NewSession("expired", "cand", started)
		expired.Stages[model.StageTyping] = model.StageState{Status: model.StatusInProgress, StartedAt: &started, Deadline: &past}
		live := model.NewSession("live", "cand", started)
		live.Stages[model.StageTyping] = model.StageState{Status: model.StatusInProgress, StartedAt: &started, Deadline: &future}
		So(f.store.Create(ctx, expired), ShouldBeNil)
		So(f.store.Create(ctx, live), ShouldBeNil)

		Convey("When the coordinator resumes", func() {
			n, err := f.coord.Resume(ctx)
			So(err, ShouldBeNil)

			Convey("Then the overdue stage is force-submitted and the live one re-armed", func() {
				So(n, ShouldEqual, 2)
				s, _ := f.coord.GetSession(ctx, "expired")
				So(s.Stage(model.StageTyping).Status, ShouldEqual, model.StatusSubmitted)
				So(s.Stage(model.StageTyping).Result.Forced, ShouldBeTrue)
				So(f.coord.ActiveClocks(), ShouldEqual, 1)
				So(f.timers.last().d <= 2*time.Minute, ShouldBeTrue)
			})

			Convey("Then closing cancels the re-armed clock", func() {
				So(f.coord.Close(), ShouldBeNil)
				So(f.coord.ActiveClocks(), ShouldEqual, 0)
				_, err := f.coord.BeginStage(ctx, "live", model.StageLetter)
				So(errors.Is(err, assessment.ErrClosed), ShouldBeTrue)
			})
		})
	})
}

func TestCoordinatorRealClock(t *testing.T) {
	Convey("Given a coordinator with a real 20ms typing clock", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		index := repository.NewTreapIndex(ctx)
		Reset(func() { _ = index.Close() })

		coord, err := assessment.New(store, index,
			[]grading.Grader{
				grading.NewTypingGrader(),
				grading.NewLetterGrader(&stubOracle{score: 5}),
				grading.NewSpreadsheetGrader(),
			},
			assessment.WithStageDuration(model.StageTyping, 20*time.Millisecond),
		)
		So(err, ShouldBeNil)
		Reset(func() { _ = coord.Close() })

		_, _ = coord.CreateSession(ctx, "cand", "s1")
		_, err = coord.BeginStage(ctx, "s1", model.StageTyping)
		So(err, ShouldBeNil)

		Convey("When the time limit passes", func() {
			var st model.StageState
			deadline := time.Now().Add(2 * time.Second)
			for time.Now().Before(deadline) {
				s, _ := coord.GetSession(ctx, "s1")
				st = s.Stage(model.StageTyping)
				if st.Status == model.StatusSubmitted {
					break
				}
				time.Sleep(5 * time.Millisecond)
			}

			Convey("Then the stage is force-submitted", func() {
				So(st.Status, ShouldEqual, model.StatusSubmitted)
				So(st.Result.Forced, ShouldBeTrue)
			})
		})
	})
}

func TestNewRequiresEveryGrader(t *testing.T) {
	Convey("Given graders for only two stages", t, func() {
		ctx := context.Background()
		index := repository.NewTreapIndex(ctx)
		defer func() { _ = index.Close() }()

		_, err := assessment.New(repository.NewMemoryStore(), index,
			[]grading.Grader{grading.NewTypingGrader(), grading.NewSpreadsheetGrader()})

		Convey("Then construction fails", func() {
			So(err, ShouldNotBeNil)
		})
	})
}
