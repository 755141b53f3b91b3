package scoring_test

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"testing"

	"github.com/okian/shrinkrank/internal/domain/model"
	scoring "github.com/okian/shrinkrank/internal/domain/scoring"
	. "github.com/smartystreets/goconvey/convey"
)

func referenceBaseline() model.Baseline {
	return model.Baseline{Name: "Baseline", SizeMB: 44.70, LatencyMS: 30.00, AccuracyPct: 40.76}
}

func TestNormalizer_Score(t *testing.T) {
	Convey("Given a normalizer with the reference baseline", t, func() {
		n, err := scoring.NewNormalizer(referenceBaseline())
		So(err, ShouldBeNil)

		Convey("When scoring the archived example submission", func() {
			in := scoring.Input{ModelSizeMB: 42.91, LatencyMS: 30.58, AccuracyPct: 28.66}
			raw, err := n.ScoreRaw(in)
			So(err, ShouldBeNil)

			Convey("Then the raw sub-scores follow the normalization policy", func() {
				So(raw.Size, ShouldAlmostEqual, 1.0417, 0.0001)
				So(raw.Latency, ShouldAlmostEqual, 0.9810, 0.0001)
				So(raw.Accuracy, ShouldAlmostEqual, 0.7031, 0.0001)
				So(raw.Total, ShouldAlmostEqual, 0.888, 0.001)
			})

			Convey("And the rounded total matches the displayed 0.89", func() {
				s, err := n.Score(in)
				So(err, ShouldBeNil)
				So(s.Total, ShouldEqual, 0.89)
				So(s.Size, ShouldEqual, 1.04)
				So(s.Latency, ShouldEqual, 0.98)
				So(s.Accuracy, ShouldEqual, 0.70)
			})
		})

		Convey("When scoring a submission identical to the baseline", func() {
			s, err := n.Score(scoring.Input{ModelSizeMB: 44.70, LatencyMS: 30.00, AccuracyPct: 40.76})
			So(err, ShouldBeNil)

			Convey("Then every score is exactly 1.00", func() {
				So(s, ShouldResemble, model.Scores{Size: 1, Latency: 1, Accuracy: 1, Total: 1})
				So(n.BaselineScores(), ShouldResemble, s)
			})
		})

		Convey("When the input is invalid", func() {
			for _, in := range []scoring.Input{
				{ModelSizeMB: 0, LatencyMS: 1, AccuracyPct: 1},
				{ModelSizeMB: 1, LatencyMS: -3, AccuracyPct: 1},
				{ModelSizeMB: 1, LatencyMS: 1, AccuracyPct: 101},
				{ModelSizeMB: 1, LatencyMS: 1, AccuracyPct: math.NaN()},
			} {
				_, err := n.Score(in)
				So(errors.Is(err, scoring.ErrInvalidInput), ShouldBeTrue)
			}
		})
	})
}

func TestNormalizer_FormulaProperty(t *testing.T) {
	Convey("Given arbitrary baselines and metric triples", t, func() {
		baselines := []model.Baseline{
			referenceBaseline(),
			{SizeMB: 1, LatencyMS: 1, AccuracyPct: 1},
			{SizeMB: 512.5, LatencyMS: 3.2, AccuracyPct: 99.9},
		}
		inputs := []scoring.Input{
			{ModelSizeMB: 0.5, LatencyMS: 0.1, AccuracyPct: 0},
			{ModelSizeMB: 10, LatencyMS: 100, AccuracyPct: 55.5},
			{ModelSizeMB: 44.7, LatencyMS: 30, AccuracyPct: 100},
		}

		Convey("Then the rounded total equals the weighted formula within rounding tolerance", func() {
			for _, b := range baselines {
				n, err := scoring.NewNormalizer(b)
				So(err, ShouldBeNil)
				for _, in := range inputs {
					want := 0.3*(b.SizeMB/in.ModelSizeMB) + 0.3*(b.LatencyMS/in.LatencyMS) + 0.4*(in.AccuracyPct/b.AccuracyPct)
					s, err := n.Score(in)
					So(err, ShouldBeNil)
					So(s.Total, ShouldAlmostEqual, want, 0.005)
					So(s.Total, ShouldBeGreaterThanOrEqualTo, 0)
				}

				Convey("And the baseline always scores 1.00", func() {
					So(n.BaselineScores().Total, ShouldEqual, 1)
				})
			}
		})
	})
}

func TestNormalizer_Options(t *testing.T) {
	Convey("Given custom options", t, func() {
		Convey("When weights are valid", func() {
			n, err := scoring.NewNormalizer(referenceBaseline(), scoring.WithWeights(scoring.Weights{Size: 0.5, Latency: 0.25, Accuracy: 0.25}))
			So(err, ShouldBeNil)
			So(n.Weights().Size, ShouldEqual, 0.5)
		})

		Convey("When weights do not sum to one they are ignored", func() {
			n, err := scoring.NewNormalizer(referenceBaseline(), scoring.WithWeights(scoring.Weights{Size: 1, Latency: 1, Accuracy: 1}))
			So(err, ShouldBeNil)
			So(n.Weights(), ShouldResemble, scoring.DefaultWeights())
			So(errors.Is(scoring.Weights{Size: 1, Latency: 1, Accuracy: 1}.Validate(), scoring.ErrInvalidWeights), ShouldBeTrue)
		})

		Convey("When precision is changed", func() {
			n, err := scoring.NewNormalizer(referenceBaseline(), scoring.WithPrecision(4))
			So(err, ShouldBeNil)
			s, err := n.Score(scoring.Input{ModelSizeMB: 42.91, LatencyMS: 30.58, AccuracyPct: 28.66})
			So(err, ShouldBeNil)
			So(s.Size, ShouldEqual, 1.0417)
			So(s.Total, ShouldEqual, 0.8881)
		})

		Convey("When the baseline is not positive", func() {
			_, err := scoring.NewNormalizer(model.Baseline{SizeMB: 0, LatencyMS: 1, AccuracyPct: 1})
			So(errors.Is(err, scoring.ErrInvalidBaseline), ShouldBeTrue)
		})
	})
}

func TestRound(t *testing.T) {
	Convey("Given values on a decimal half", t, func() {
		cases := []struct {
			in     float64
			places int
			want   float64
			text   string
		}{
			{0.885, 2, 0.89, "0.89"},
			{0.884, 2, 0.88, "0.88"},
			{1.005, 2, 1.01, "1.01"},
			{2.675, 2, 2.68, "2.68"},
			{0.125, 2, 0.13, "0.13"},
			{-0.125, 2, -0.13, "-0.13"},
			{-1.005, 2, -1.01, "-1.01"},
			{0.995, 2, 1, "1.00"},
			{0.005, 2, 0.01, "0.01"},
			{12.5, 0, 13, "13"},
			{1.2, 2, 1.2, "1.20"},
			{44.7, 2, 44.7, "44.70"},
		}
		for _, c := range cases {
			Convey(fmt.Sprintf("Round(%v, %d)", c.in, c.places), func() {
				got := scoring.Round(c.in, c.places)
				So(got, ShouldEqual, c.want)
				So(strconv.FormatFloat(got, 'f', c.places, 64), ShouldEqual, c.text)
				So(scoring.Round(got, c.places), ShouldEqual, got)
			})
		}
	})
}
