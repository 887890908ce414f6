package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/skillcheck/internal/adapters/mq/queue"
	"github.com/okian/skillcheck/internal/adapters/mq/worker"
	"github.com/okian/skillcheck/internal/domain/assessment"
	"github.com/okian/skillcheck/internal/domain/grading"
	"github.com/okian/skillcheck/internal/domain/model"
	logging "github.com/okian/skillcheck/pkg/logger"
)

type stubReviewer struct {
	mu       sync.Mutex
	failures map[string]int // remaining retryable failures per session
	errs     map[string]error
	calls    int
}

func newStubReviewer() *stubReviewer {
	return &stubReviewer{failures: map[string]int{}, errs: map[string]error{}}
}

func (r *stubReviewer) Review(_ context.Context, t worker.Task) (worker.Resolution, error) { //nolint:gocritic // hugeParam
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if err, ok := r.errs[t.SessionID]; ok {
		return worker.Resolution{}, err
	}
	if r.failures[t.SessionID] > 0 {
		r.failures[t.SessionID]--
		return worker.Resolution{}, grading.ErrGraderUnavailable
	}
	return worker.Resolution{Score: 8, Metadata: map[string]string{"review": grading.ReviewAutomated}}, nil
}

func (r *stubReviewer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type stubResolver struct {
	mu           sync.Mutex
	resolved     map[string]float64
	reaggregated map[string]int
	resolveErr   error
	reaggErr     error
}

func newStubResolver() *stubResolver {
	return &stubResolver{resolved: map[string]float64{}, reaggregated: map[string]int{}}
}

func (r *stubResolver) ResolvePending(_ context.Context, sessionID string, kind model.StageKind, score float64, _ map[string]string) (model.StageResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolveErr != nil {
		return model.StageResult{}, r.resolveErr
	}
	r.resolved[sessionID] = score
	return model.StageResult{Stage: kind, RawScore: model.Float(score)}, nil
}

func (r *stubResolver) Reaggregate(_ context.Context, sessionID string) (model.CompositeResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reaggErr != nil {
		return model.CompositeResult{}, r.reaggErr
	}
	r.reaggregated[sessionID]++
	return model.CompositeResult{}, nil
}

func (r *stubResolver) score(sessionID string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.resolved[sessionID]
	return s, ok
}

func (r *stubResolver) reaggregations(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reaggregated[sessionID]
}

func letterTask(sessionID string) worker.Task {
	return worker.Task{SessionID: sessionID, Stage: model.StageLetter, Payload: map[string]string{"text": "Dear team"}}
}

// eventually polls cond for up to a second.
func eventually(cond func() bool) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a review worker on an in-memory queue", t, func() {
		_ = logging.Init()

		q := queue.NewInMemoryQueue(queue.WithCapacity(10))
		reviewer := newStubReviewer()
		resolver := newStubResolver()
		w := worker.NewInMemoryWorker(q, reviewer, resolver,
			worker.WithName("test-worker"),
			worker.WithMaxAttempts(3),
			worker.WithRetryBackoff(time.Millisecond, 5*time.Millisecond),
			worker.WithReaggregate(true),
		)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		convey.Convey("When a reviewable task arrives", func() {
			convey.So(q.Enqueue(ctx, letterTask("s1")), convey.ShouldBeTrue)

			convey.Convey("Then the score is resolved and the composite recomputed", func() {
				convey.So(eventually(func() bool { return resolver.reaggregations("s1") == 1 }), convey.ShouldBeTrue)
				score, ok := resolver.score("s1")
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(score, convey.ShouldEqual, 8.0)
				convey.So(eventually(func() bool { return q.InFlight() == 0 }), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the grader is briefly unavailable", func() {
			reviewer.failures["s2"] = 2
			convey.So(q.Enqueue(ctx, letterTask("s2")), convey.ShouldBeTrue)

			convey.Convey("Then the task is retried until it succeeds", func() {
				convey.So(eventually(func() bool { _, ok := resolver.score("s2"); return ok }), convey.ShouldBeTrue)
				convey.So(reviewer.callCount(), convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When the grader stays unavailable", func() {
			reviewer.failures["s3"] = 10
			convey.So(q.Enqueue(ctx, letterTask("s3")), convey.ShouldBeTrue)

			convey.Convey("Then it gives up after the attempt limit", func() {
				convey.So(eventually(func() bool { return reviewer.callCount() == 3 }), convey.ShouldBeTrue)
				time.Sleep(30 * time.Millisecond)
				convey.So(reviewer.callCount(), convey.ShouldEqual, 3)
				_, ok := resolver.score("s3")
				convey.So(ok, convey.ShouldBeFalse)
				convey.So(q.InFlight(), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When a task needs a human", func() {
			reviewer.errs["s4"] = worker.ErrManualReviewRequired
			convey.So(q.Enqueue(ctx, letterTask("s4")), convey.ShouldBeTrue)

			convey.Convey("Then it is acknowledged without resolving", func() {
				convey.So(eventually(func() bool { return reviewer.callCount() == 1 && q.InFlight() == 0 }), convey.ShouldBeTrue)
				_, ok := resolver.score("s4")
				convey.So(ok, convey.ShouldBeFalse)
			})
		})

		convey.Convey("When the stage was already resolved", func() {
			resolver.resolveErr = fmt.Errorf("resolve: %w", assessment.ErrNotPending)
			convey.So(q.Enqueue(ctx, letterTask("s5")), convey.ShouldBeTrue)

			convey.Convey("Then the task is dropped quietly", func() {
				convey.So(eventually(func() bool { return reviewer.callCount() == 1 && q.InFlight() == 0 }), convey.ShouldBeTrue)
				convey.So(resolver.reaggregations("s5"), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When shutting down", func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer shutdownCancel()

			convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
			convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
		})
	})
}

func TestReaggregateOption(t *testing.T) {
	convey.Convey("Given a worker built with default options", t, func() {
		_ = logging.Init()

		q := queue.NewInMemoryQueue()
		resolver := newStubResolver()
		w := worker.NewInMemoryWorker(q, newStubReviewer(), resolver)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		q.Enqueue(ctx, letterTask("s1"))

		// An automatic resolution must not rewrite a finalized composite.
		convey.So(eventually(func() bool { _, ok := resolver.score("s1"); return ok }), convey.ShouldBeTrue)
		time.Sleep(10 * time.Millisecond)
		convey.So(resolver.reaggregations("s1"), convey.ShouldEqual, 0)
	})
}

func TestWorkerPool(t *testing.T) {
	convey.Convey("Given a worker pool", t, func() {
		_ = logging.Init()

		q := queue.NewInMemoryQueue(queue.WithCapacity(100))
		resolver := newStubResolver()

		convey.Convey("When created with the default count", func() {
			pool := worker.NewPool(0, q, newStubReviewer(), resolver)
			convey.So(pool.Size(), convey.ShouldBeGreaterThan, 0)
		})

		convey.Convey("When processing many tasks concurrently", func() {
			pool := worker.NewPool(4, q, newStubReviewer(), resolver)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			pool.Start(ctx)

			for i := 0; i < 20; i++ {
				convey.So(q.Enqueue(ctx, letterTask(fmt.Sprintf("s%d", i))), convey.ShouldBeTrue)
			}

			convey.Convey("Then every task is handled once", func() {
				convey.So(eventually(func() bool { return pool.Processed() == 20 }), convey.ShouldBeTrue)
				for i := 0; i < 20; i++ {
					_, ok := resolver.score(fmt.Sprintf("s%d", i))
					convey.So(ok, convey.ShouldBeTrue)
					convey.So(resolver.reaggregations(fmt.Sprintf("s%d", i)), convey.ShouldEqual, 0)
				}
				convey.So(pool.Busy(), convey.ShouldEqual, 0)
			})

			convey.Convey("Then shutdown closes the queue", func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
				defer shutdownCancel()
				convey.So(pool.Shutdown(shutdownCtx), convey.ShouldBeNil)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
			})
		})
	})
}

type stubOracle struct{ err error }

func (o stubOracle) Evaluate(context.Context, string) (grading.Evaluation, error) {
	if o.err != nil {
		return grading.Evaluation{}, o.err
	}
	return grading.Evaluation{Score: 7, Feedback: "clear"}, nil
}

type stubChecker struct{ needsReview bool }

func (c stubChecker) Check(context.Context, string) (grading.CheckResult, error) {
	return grading.CheckResult{Score: 15, NeedsReview: c.needsReview}, nil
}

func TestGradingReviewer(t *testing.T) {
	convey.Convey("Given a grading reviewer", t, func() {
		ctx := context.Background()

		convey.Convey("When the oracle answers a letter", func() {
			r := worker.NewGradingReviewer(grading.NewLetterGrader(stubOracle{}), nil)
			res, err := r.Review(ctx, letterTask("s1"))

			convey.So(err, convey.ShouldBeNil)
			convey.So(res.Score, convey.ShouldEqual, 7.0)
			convey.So(res.Metadata["review"], convey.ShouldEqual, grading.ReviewAutomated)
			convey.So(res.Metadata["feedback"], convey.ShouldEqual, "clear")
		})

		convey.Convey("When the oracle is still down", func() {
			r := worker.NewGradingReviewer(grading.NewLetterGrader(stubOracle{err: errors.New("timeout")}), nil)
			_, err := r.Review(ctx, letterTask("s1"))

			convey.So(errors.Is(err, grading.ErrGraderUnavailable), convey.ShouldBeTrue)
		})

		convey.Convey("When a spreadsheet has no checker", func() {
			r := worker.NewGradingReviewer(nil, grading.NewSpreadsheetGrader())
			_, err := r.Review(ctx, worker.Task{SessionID: "s1", Stage: model.StageSpreadsheet, Payload: map[string]string{"file_ref": "blob://1"}})

			convey.So(errors.Is(err, worker.ErrManualReviewRequired), convey.ShouldBeTrue)
		})

		convey.Convey("When a checker can score the spreadsheet", func() {
			r := worker.NewGradingReviewer(nil, grading.NewSpreadsheetGrader(grading.WithChecker(stubChecker{})))
			res, err := r.Review(ctx, worker.Task{SessionID: "s1", Stage: model.StageSpreadsheet, Payload: map[string]string{"file_ref": "blob://1"}})

			convey.So(err, convey.ShouldBeNil)
			convey.So(res.Score, convey.ShouldEqual, 15.0)
		})

		convey.Convey("When the checker defers to a human", func() {
			r := worker.NewGradingReviewer(nil, grading.NewSpreadsheetGrader(grading.WithChecker(stubChecker{needsReview: true})))
			_, err := r.Review(ctx, worker.Task{SessionID: "s1", Stage: model.StageSpreadsheet, Payload: map[string]string{"file_ref": "blob://1"}})

			convey.So(errors.Is(err, worker.ErrManualReviewRequired), convey.ShouldBeTrue)
		})

		convey.Convey("When a typing stage is pending", func() {
			r := worker.NewGradingReviewer(nil, nil)
			_, err := r.Review(ctx, worker.Task{SessionID: "s1", Stage: model.StageTyping})

			convey.So(errors.Is(err, worker.ErrManualReviewRequired), convey.ShouldBeTrue)
		})
	})
}
