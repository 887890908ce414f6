package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/skillcheck/internal/adapters/oracle"
	service "github.com/okian/skillcheck/internal/app"
	"github.com/okian/skillcheck/internal/domain/assessment"
	"github.com/okian/skillcheck/internal/domain/grading"
	"github.com/okian/skillcheck/internal/domain/model"
	"github.com/okian/skillcheck/internal/domain/percentile"
	"github.com/okian/skillcheck/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

const letterText = "Dear hiring team,\nI would like to apply for the analyst role.\nKind regards,\nSam"

func fastOracle() service.Option {
	return service.WithOracle(oracle.NewSimulatedOracle(oracle.WithLatencyRange(0, time.Millisecond)))
}

func newService(opts ...service.Option) *service.Service {
	return service.New(append([]service.Option{fastOracle(), service.WithLogger(logger.Discard())}, opts...)...)
}

// complete runs every stage of a fresh session and returns its id.
func complete(ctx context.Context, svc *service.Service, candidate string, wpm, accuracy float64) string {
	s, err := svc.CreateSession(ctx, candidate, "")
	So(err, ShouldBeNil)
	id := s.SessionID

	_, err = svc.BeginStage(ctx, id, model.StageTyping)
	So(err, ShouldBeNil)
	_, err = svc.SubmitStage(ctx, id, model.StageTyping, grading.Submission{
		Typing: &grading.TypingMetrics{WPM: wpm, Accuracy: accuracy, ElapsedSeconds: 60},
	})
	So(err, ShouldBeNil)

	_, err = svc.BeginStage(ctx, id, model.StageLetter)
	So(err, ShouldBeNil)
	_, err = svc.SubmitStage(ctx, id, model.StageLetter, grading.Submission{Letter: &grading.Letter{Text: letterText}})
	So(err, ShouldBeNil)

	_, err = svc.BeginStage(ctx, id, model.StageSpreadsheet)
	So(err, ShouldBeNil)
	res, err := svc.SubmitStage(ctx, id, model.StageSpreadsheet, grading.Submission{
		Spreadsheet: &grading.SpreadsheetFile{FileRef: "blob://" + id},
	})
	So(err, ShouldBeNil)
	So(res.Pending(), ShouldBeTrue)
	return id
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a service that has not been started", t, func() {
		svc := newService()

		Convey("Then operations fail with ErrNotStarted", func() {
			_, err := svc.CreateSession(context.Background(), "cand-1", "")
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			So(svc.GetStats()["started"], ShouldEqual, false)
		})

		Convey("When it is started and stopped", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.GetStats()["started"], ShouldEqual, true)
			So(svc.GetStats()["storage"], ShouldEqual, "memory")

			svc.Stop()
			svc.Stop()
			So(svc.GetStats()["started"], ShouldEqual, false)
		})
	})
}

func TestService_Assessment(t *testing.T) {
	Convey("Given a started in-memory service", t, func() {
		ctx := context.Background()
		svc := newService(service.WithReviewWorkerCount(2))
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When two candidates complete every stage", func() {
			strong := complete(ctx, svc, "cand-1", 60, 100)
			weak := complete(ctx, svc, "cand-2", 30, 50)

			strongSession, err := svc.GetSession(ctx, strong)
			So(err, ShouldBeNil)
			weakSession, err := svc.GetSession(ctx, weak)
			So(err, ShouldBeNil)

			Convey("Then both are finalized with the spreadsheet pending", func() {
				So(strongSession.Composite, ShouldNotBeNil)
				So(strongSession.Composite.Pending, ShouldResemble, []model.StageKind{model.StageSpreadsheet})
				So(strongSession.Composite.TotalScore-weakSession.Composite.TotalScore, ShouldEqual, 10.0)
			})

			Convey("Then percentiles rank them against each other", func() {
				rec, err := svc.Percentile(ctx, strong)
				So(err, ShouldBeNil)
				So(rec.Percentile, ShouldEqual, 100)
				So(rec.Population, ShouldEqual, 1)

				rec, err = svc.Percentile(ctx, weak)
				So(err, ShouldBeNil)
				So(rec.Percentile, ShouldEqual, 0)
			})

			Convey("Then an administrator review keeps the composite until re-aggregated", func() {
				before := weakSession.Composite.TotalScore
				out, err := svc.ReviewStage(ctx, weak, model.StageSpreadsheet, 20, map[string]string{"reviewer": "admin-1"})
				So(err, ShouldBeNil)
				So(out.Result.Score(), ShouldEqual, 20.0)
				So(out.Result.Metadata["review"], ShouldEqual, grading.ReviewManual)
				So(out.Reaggregated(), ShouldBeFalse)

				unchanged, err := svc.GetSession(ctx, weak)
				So(err, ShouldBeNil)
				So(unchanged.Composite.TotalScore, ShouldEqual, before)
				So(unchanged.Composite.Revision, ShouldEqual, 0)
				top, err := svc.TopN(ctx, 1)
				So(err, ShouldBeNil)
				So(top[0].SessionID, ShouldEqual, strong)

				comp, err := svc.Reaggregate(ctx, weak)
				So(err, ShouldBeNil)
				So(comp.Revision, ShouldEqual, 1)
				So(comp.TotalScore, ShouldEqual, before+20)
				top, err = svc.TopN(ctx, 1)
				So(err, ShouldBeNil)
				So(top[0].SessionID, ShouldEqual, weak)

				_, err = svc.ReviewStage(ctx, weak, model.StageSpreadsheet, 5, nil)
				So(errors.Is(err, assessment.ErrNotPending), ShouldBeTrue)
			})

			Convey("Then stats reflect the population", func() {
				stats := svc.GetStats()
				So(stats["sessions"], ShouldEqual, 2)
				So(stats["population"], ShouldEqual, 2)
				So(stats["activeClocks"], ShouldEqual, 0)
			})
		})

		Convey("When only one session is finalized", func() {
			id := complete(ctx, svc, "cand-1", 60, 100)

			_, err := svc.Percentile(ctx, id)
			So(errors.Is(err, percentile.ErrNoPopulationData), ShouldBeTrue)
		})
	})
}

func TestService_ReaggregateOnReview(t *testing.T) {
	Convey("Given a service that re-aggregates on review", t, func() {
		ctx := context.Background()
		svc := newService(service.WithReaggregateOnReview(true))
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		id := complete(ctx, svc, "cand-1", 30, 50)
		s, err := svc.GetSession(ctx, id)
		So(err, ShouldBeNil)
		before := s.Composite.TotalScore

		Convey("When an administrator resolves the pending spreadsheet", func() {
			out, err := svc.ReviewStage(ctx, id, model.StageSpreadsheet, 20, nil)

			Convey("Then the new composite revision is returned", func() {
				So(err, ShouldBeNil)
				So(out.Reaggregated(), ShouldBeTrue)
				So(out.Composite.Revision, ShouldEqual, 1)
				So(out.Composite.TotalScore, ShouldEqual, before+20)
			})
		})
	})
}

func TestService_Persistence(t *testing.T) {
	Convey("Given a service backed by a bbolt file", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "sessions.db")

		first := newService(service.WithStorePath(path))
		So(first.Start(ctx), ShouldBeNil)
		done := complete(ctx, first, "cand-1", 60, 100)

		open, err := first.CreateSession(ctx, "cand-2", "open-session")
		So(err, ShouldBeNil)
		_, err = first.BeginStage(ctx, open.SessionID, model.StageTyping)
		So(err, ShouldBeNil)
		first.Stop()

		Convey("When a new service opens the same file", func() {
			second := newService(service.WithStorePath(path))
			So(second.Start(ctx), ShouldBeNil)
			defer second.Stop()

			Convey("Then finalized sessions are ranked again", func() {
				So(second.GetStats()["population"], ShouldEqual, 1)
				So(second.GetStats()["storage"], ShouldEqual, "bolt")
				s, err := second.GetSession(ctx, done)
				So(err, ShouldBeNil)
				So(s.Finalized(), ShouldBeTrue)
			})

			Convey("Then in-progress stages keep running", func() {
				So(second.GetStats()["activeClocks"], ShouldEqual, 1)
				res, err := second.SubmitStage(ctx, open.SessionID, model.StageTyping, grading.Submission{
					Typing: &grading.TypingMetrics{WPM: 60, Accuracy: 100},
				})
				So(err, ShouldBeNil)
				So(res.Score(), ShouldEqual, 50.0)
			})
		})
	})
}
