package aggregate_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/skillcheck/internal/domain/aggregate"
	"github.com/okian/skillcheck/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func submitted(kind model.StageKind, raw *float64, maxScore float64) model.StageState {
	return model.StageState{
		Status: model.StatusSubmitted,
		Result: &model.StageResult{Stage: kind, RawScore: raw, MaxScore: maxScore},
	}
}

func TestAggregate(t *testing.T) {
	Convey("Given an aggregator with default caps", t, func() {
		fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		agg := aggregate.New(aggregate.WithNow(func() time.Time { return fixed }))
		s := model.NewSession("s-1", "cand-1", fixed)

		Convey("When typing is 45/50, letter 8/10 and spreadsheet 16/20", func() {
			s.Stages[model.StageTyping] = submitted(model.StageTyping, model.Float(45), 50)
			s.Stages[model.StageLetter] = submitted(model.StageLetter, model.Float(8), 10)
			s.Stages[model.StageSpreadsheet] = submitted(model.StageSpreadsheet, model.Float(16), 20)
			res, err := agg.Aggregate(s)

			Convey("Then contributions are 18 + 8 + 16 = 42", func() {
				So(err, ShouldBeNil)
				So(res.StageScores[model.StageTyping], ShouldEqual, 18.0)
				So(res.StageScores[model.StageLetter], ShouldEqual, 8.0)
				So(res.StageScores[model.StageSpreadsheet], ShouldEqual, 16.0)
				So(res.TotalScore, ShouldEqual, 42.0)
				So(res.SessionID, ShouldEqual, "s-1")
				So(res.ComputedAt.Equal(fixed), ShouldBeTrue)
				So(res.Revision, ShouldEqual, 0)
			})
		})

		Convey("When the spreadsheet score is pending", func() {
			s.Stages[model.StageTyping] = submitted(model.StageTyping, model.Float(50), 50)
			s.Stages[model.StageLetter] = submitted(model.StageLetter, model.Float(10), 10)
			s.Stages[model.StageSpreadsheet] = submitted(model.StageSpreadsheet, nil, 20)
			res, err := agg.Aggregate(s)

			Convey("Then it contributes zero and is listed as pending", func() {
				So(err, ShouldBeNil)
				So(res.TotalScore, ShouldEqual, 30.0)
				So(res.Pending, ShouldResemble, []model.StageKind{model.StageSpreadsheet})
			})
		})

		Convey("When a stage is not yet submitted", func() {
			s.Stages[model.StageTyping] = submitted(model.StageTyping, model.Float(10), 50)
			_, err := agg.Aggregate(s)

			Convey("Then aggregation fails", func() {
				So(errors.Is(err, aggregate.ErrIncomplete), ShouldBeTrue)
			})
		})
	})

	Convey("Given custom caps", t, func() {
		agg := aggregate.New(aggregate.WithCaps(aggregate.Caps{model.StageTyping: 40, model.StageLetter: -5}))

		Convey("Then positive overrides apply and others keep defaults", func() {
			caps := agg.Caps()
			So(caps[model.StageTyping], ShouldEqual, 40.0)
			So(caps[model.StageLetter], ShouldEqual, 10.0)
			So(caps.Total(), ShouldEqual, 70.0)
		})
	})
}

func TestContribution(t *testing.T) {
	Convey("Given stage results", t, func() {
		Convey("Then contributions round to the nearest point", func() {
			So(aggregate.Contribution(model.StageResult{RawScore: model.Float(31), MaxScore: 50}, 20), ShouldEqual, 12.0)
			So(aggregate.Contribution(model.StageResult{RawScore: model.Float(7.5), MaxScore: 10}, 10), ShouldEqual, 8.0)
		})

		Convey("Then degenerate inputs contribute zero", func() {
			So(aggregate.Contribution(model.StageResult{RawScore: model.Float(5), MaxScore: 0}, 20), ShouldEqual, 0.0)
			So(aggregate.Contribution(model.StageResult{MaxScore: 20}, 20), ShouldEqual, 0.0)
		})
	})
}
