package leaderboard_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/okian/shrinkrank/internal/domain/leaderboard"
	"github.com/okian/shrinkrank/internal/domain/model"
	"github.com/okian/shrinkrank/internal/domain/scoring"
	. "github.com/smartystreets/goconvey/convey"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fixture(t *testing.T) (*scoring.Normalizer, model.Row) {
	t.Helper()
	b := model.Baseline{Name: "Baseline", SizeMB: 44.70, LatencyMS: 30.00, AccuracyPct: 40.76}
	n, err := scoring.NewNormalizer(b)
	if err != nil {
		t.Fatal(err)
	}
	return n, leaderboard.BaselineRow(b, n.BaselineScores())
}

func result(t *testing.T, n *scoring.Normalizer, user string, size, latency, acc float64, date string) model.SubmissionResult {
	t.Helper()
	s, err := n.Score(scoring.Input{ModelSizeMB: size, LatencyMS: latency, AccuracyPct: acc})
	if err != nil {
		t.Fatal(err)
	}
	return model.SubmissionResult{
		Username: user, ModelSizeMB: size, LatencyMS: latency, AccuracyPct: acc,
		TotalScore: s.Total, SubmissionDate: date, Scores: s,
	}
}

func TestMerge(t *testing.T) {
	Convey("Given a board holding only the baseline", t, func() {
		n, base := fixture(t)
		board := leaderboard.Board{Rows: []model.Row{base}}
		leaderboard.Rank(board.Rows)

		Convey("When a weaker submission is merged", func() {
			r := result(t, n, "alice", 42.91, 30.58, 28.66, "2025-05-01 10:00:00")
			next, err := leaderboard.Merge(board, r, base, now)
			So(err, ShouldBeNil)

			Convey("Then it is ranked below the baseline and archived", func() {
				So(next.Rows, ShouldHaveLength, 2)
				So(next.Rows[0].IsBaseline(), ShouldBeTrue)
				So(next.Rows[1].Username, ShouldEqual, "alice")
				So(next.Rows[1].Rank, ShouldEqual, 2)
				So(next.Rows[1].Scores.Total, ShouldEqual, 0.89)
				So(next.Archive, ShouldHaveLength, 1)
				So(next.LastUpdated, ShouldEqual, now)
			})

			Convey("And the input board is untouched", func() {
				So(board.Rows, ShouldHaveLength, 1)
				So(board.Archive, ShouldBeEmpty)
			})
		})

		Convey("When a submission identical to the baseline is merged", func() {
			r := result(t, n, "twin", 44.70, 30.00, 40.76, "2025-05-01 10:00:00")
			next, err := leaderboard.Merge(board, r, base, now)
			So(err, ShouldBeNil)

			Convey("Then it ties at 1.00 and is placed after the baseline", func() {
				So(next.Rows[0].IsBaseline(), ShouldBeTrue)
				So(next.Rows[1].Username, ShouldEqual, "twin")
				So(next.Rows[1].Scores.Total, ShouldEqual, next.Rows[0].Scores.Total)
			})
		})

		Convey("When a submission uses the baseline name", func() {
			r := result(t, n, "baseline", 10, 10, 50, "2025-05-01 10:00:00")
			_, err := leaderboard.Merge(board, r, base, now)
			So(errors.Is(err, model.ErrInvalidResult), ShouldBeTrue)
		})

		Convey("When the board lost its baseline row", func() {
			r := result(t, n, "bob", 10, 10, 50, "2025-05-01 10:00:00")
			next, err := leaderboard.Merge(leaderboard.Board{}, r, base, now)
			So(err, ShouldBeNil)

			Convey("Then the baseline is restored", func() {
				_, ok := leaderboard.Find(next.Rows, "Baseline")
				So(ok, ShouldBeTrue)
				So(next.Rows, ShouldHaveLength, 2)
			})
		})
	})
}

func TestMerge_Properties(t *testing.T) {
	Convey("Given a sequence of submissions", t, func() {
		n, base := fixture(t)
		board := leaderboard.Board{Rows: []model.Row{base}}

		Convey("When N distinct users are merged one after another", func() {
			const users = 25
			var err error
			for i := 0; i < users; i++ {
				r := result(t, n, fmt.Sprintf("user-%02d", i), 10+float64(i*3), 5+float64(i%7), float64(20+i), fmt.Sprintf("2025-05-%02d 10:00:00", i+1))
				board, err = leaderboard.Merge(board, r, base, now)
				So(err, ShouldBeNil)
				So(leaderboard.Sorted(board.Rows), ShouldBeTrue)
			}

			Convey("Then no submission is lost", func() {
				So(board.Rows, ShouldHaveLength, users+1)
				So(board.Archive, ShouldHaveLength, users)
			})
		})

		Convey("When the same result is merged twice", func() {
			r := result(t, n, "carol", 20, 12, 39, "2025-05-02 09:00:00")
			once, err := leaderboard.Merge(board, r, base, now)
			So(err, ShouldBeNil)
			twice, err := leaderboard.Merge(once, r, base, now)
			So(err, ShouldBeNil)

			Convey("Then the main table is unchanged and the archive grows", func() {
				So(twice.Rows, ShouldResemble, once.Rows)
				So(twice.Archive, ShouldHaveLength, len(once.Archive)+1)
			})
		})

		Convey("When a user resubmits", func() {
			first := result(t, n, "dave", 20, 12, 39, "2025-05-02 09:00:00")
			second := result(t, n, "dave", 60, 40, 30, "2025-05-03 09:00:00")
			b1, err := leaderboard.Merge(board, first, base, now)
			So(err, ShouldBeNil)
			b2, err := leaderboard.Merge(b1, second, base, now)
			So(err, ShouldBeNil)

			Convey("Then the latest result replaces the row, even when it is worse", func() {
				row, ok := leaderboard.Find(b2.Rows, "dave")
				So(ok, ShouldBeTrue)
				So(row.SubmissionDate, ShouldEqual, "2025-05-03 09:00:00")
				So(b2.Rows, ShouldHaveLength, 2)
				So(leaderboard.History(b2.Archive, "dave"), ShouldHaveLength, 2)
			})
		})
	})
}

func TestRank_TieBreak(t *testing.T) {
	Convey("Given rows with equal totals", t, func() {
		s := model.Scores{Total: 1.5}
		rows := []model.Row{
			{Username: "late", Scores: s, SubmissionDate: "2025-03-01 00:00:00"},
			{Username: "unknown", Scores: s, SubmissionDate: "someday"},
			{Username: "early", Scores: s, SubmissionDate: "2025-01-01 00:00:00"},
			{Username: "top", Scores: model.Scores{Total: 2}, SubmissionDate: "2025-04-01 00:00:00"},
		}

		Convey("When ranked", func() {
			leaderboard.Rank(rows)

			Convey("Then earlier dates win ties and unparseable dates go last", func() {
				names := []string{rows[0].Username, rows[1].Username, rows[2].Username, rows[3].Username}
				So(names, ShouldResemble, []string{"top", "early", "late", "unknown"})
				So(leaderboard.Sorted(rows), ShouldBeTrue)
			})
		})
	})
}

func TestTopN(t *testing.T) {
	rows := []model.Row{{Rank: 1}, {Rank: 2}, {Rank: 3}}
	if got := leaderboard.TopN(rows, 2); len(got) != 2 {
		t.Errorf("expected 2 rows, got %d", len(got))
	}
	if got := leaderboard.TopN(rows, 10); len(got) != 3 {
		t.Errorf("expected 3 rows, got %d", len(got))
	}
}
