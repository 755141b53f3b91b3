// Package leaderboard holds the in-memory form of the leaderboard document
// and the pure merge that computes its next state from a new result.
package leaderboard

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/okian/shrinkrank/internal/domain/model"
)

// Board is the ranked main table plus the append-only archive.
type Board struct {
	Rows        []model.Row
	Archive     []model.ArchiveEntry
	LastUpdated time.Time
}

// Clone returns a deep copy of b.
func (b Board) Clone() Board {
	return Board{
		Rows:        append([]model.Row(nil), b.Rows...),
		Archive:     append([]model.ArchiveEntry(nil), b.Archive...),
		LastUpdated: b.LastUpdated,
	}
}

// BaselineRow builds the immutable reference row.
func BaselineRow(b model.Baseline, scores model.Scores) model.Row {
	return model.Row{
		Username:       b.Name,
		ModelSizeMB:    b.SizeMB,
		LatencyMS:      b.LatencyMS,
		AccuracyPct:    b.AccuracyPct,
		Scores:         scores,
		SubmissionDate: model.NotApplicable,
	}
}

// Merge returns the board that results from recording r. The input board is
// not modified.
//
// The main table keeps one row per username: an existing row is replaced in
// place, otherwise a new row is appended, and the table is then re-ranked.
// The archive always grows by exactly one entry.
func Merge(b Board, r model.SubmissionResult, baseline model.Row, now time.Time) (Board, error) {
	if strings.EqualFold(strings.TrimSpace(r.Username), baseline.Username) {
		return Board{}, fmt.Errorf("%w: username %q is reserved for the baseline", model.ErrInvalidResult, r.Username)
	}
	if r.SubmissionDate == model.NotApplicable {
		return Board{}, fmt.Errorf("%w: submission date %q is reserved for the baseline", model.ErrInvalidResult, r.SubmissionDate)
	}

	next := b.Clone()
	if _, _, ok := lo.FindIndexOf(next.Rows, func(row model.Row) bool { return row.IsBaseline() }); !ok {
		next.Rows = append([]model.Row{baseline}, next.Rows...)
	}

	row := model.RowFromResult(r)
	if _, idx, ok := lo.FindIndexOf(next.Rows, func(existing model.Row) bool {
		return !existing.IsBaseline() && existing.Username == r.Username
	}); ok {
		next.Rows[idx] = row
	} else {
		next.Rows = append(next.Rows, row)
	}

	Rank(next.Rows)
	next.Archive = append(next.Archive, model.ArchiveFromResult(r))
	next.LastUpdated = now.UTC()
	return next, nil
}

// Rank sorts rows by total score descending and assigns positional ranks.
//
// Ties keep the baseline first, then the earliest submission date, then the
// existing order. Dates that cannot be parsed sort after parseable ones.
func Rank(rows []model.Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		return ranksBefore(rows[i], rows[j])
	})
	for i := range rows {
		rows[i].Rank = i + 1
	}
}

func ranksBefore(a, b model.Row) bool {
	if a.Scores.Total != b.Scores.Total {
		return a.Scores.Total > b.Scores.Total
	}
	if a.IsBaseline() != b.IsBaseline() {
		return a.IsBaseline()
	}
	ta, okA := model.ParseDate(a.SubmissionDate)
	tb, okB := model.ParseDate(b.SubmissionDate)
	if okA != okB {
		return okA
	}
	return okA && ta.Before(tb)
}

// Sorted reports whether rows are non-increasing in total score with
// positional ranks.
func Sorted(rows []model.Row) bool {
	for i := range rows {
		if rows[i].Rank != i+1 {
			return false
		}
		if i > 0 && rows[i-1].Scores.Total < rows[i].Scores.Total {
			return false
		}
	}
	return true
}

// Find returns the main-table row of username.
func Find(rows []model.Row, username string) (model.Row, bool) {
	return lo.Find(rows, func(row model.Row) bool { return row.Username == username })
}

// TopN returns at most n leading rows.
func TopN(rows []model.Row, n int) []model.Row {
	if n < 0 || n > len(rows) {
		n = len(rows)
	}
	return append([]model.Row(nil), rows[:n]...)
}

// History returns the archive entries of username in insertion order.
func History(archive []model.ArchiveEntry, username string) []model.ArchiveEntry {
	return lo.Filter(archive, func(e model.ArchiveEntry, _ int) bool { return e.Username == username })
}
