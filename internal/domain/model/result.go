// Package model contains domain models passed between layers.
package model

import "time"

// NotApplicable is the submission date shown for the baseline row.
const NotApplicable = "N/A"

// DateLayout is the layout used for submission dates and the last-updated stamp.
const DateLayout = "2006-01-02 15:04:05"

// Baseline is the reference model every submission is normalized against.
type Baseline struct {
	Name        string
	SizeMB      float64
	LatencyMS   float64
	AccuracyPct float64
}

// Scores holds the three normalized sub-scores and their weighted total.
type Scores struct {
	Size     float64 `json:"size_score"`
	Latency  float64 `json:"latency_score"`
	Accuracy float64 `json:"accuracy_score"`
	Total    float64 `json:"total_score"`
}

// SubmissionResult is one evaluation outcome.
type SubmissionResult struct {
	Username       string  `json:"username" validate:"required,max=64,singleline,excludesall=0x7C<>"`
	ModelSizeMB    float64 `json:"model_size" validate:"finite,gt=0"`
	LatencyMS      float64 `json:"latency" validate:"finite,gt=0"`
	AccuracyPct    float64 `json:"accuracy" validate:"finite,gte=0,lte=100"`
	TotalScore     float64 `json:"total_score" validate:"finite,gte=0"`
	SubmissionDate string  `json:"submission_date" validate:"required,ne=N/A"`
	Notes          string  `json:"notes,omitempty" validate:"max=512,singleline"`
	Scores         Scores  `json:"-"`
}

// Key identifies a result for idempotency checks.
func (r SubmissionResult) Key() string {
	return r.Username + "|" + r.SubmissionDate
}

// Row is one line of the ranked main table.
type Row struct {
	Rank           int
	Username       string
	ModelSizeMB    float64
	LatencyMS      float64
	AccuracyPct    float64
	Scores         Scores
	SubmissionDate string
}

// IsBaseline reports whether the row is the immutable reference row.
func (r Row) IsBaseline() bool {
	return r.SubmissionDate == NotApplicable
}

// ArchiveEntry is one line of the append-only submission history.
type ArchiveEntry struct {
	Username       string
	ModelSizeMB    float64
	LatencyMS      float64
	AccuracyPct    float64
	TotalScore     float64
	SubmissionDate string
	Notes          string
}

// RowFromResult converts a scored result into a main-table row. Rank is
// assigned later when the table is re-sorted.
func RowFromResult(r SubmissionResult) Row {
	return Row{
		Username:       r.Username,
		ModelSizeMB:    r.ModelSizeMB,
		LatencyMS:      r.LatencyMS,
		AccuracyPct:    r.AccuracyPct,
		Scores:         r.Scores,
		SubmissionDate: r.SubmissionDate,
	}
}

// ArchiveFromResult converts a result into a history entry. The entry keeps
// the total as submitted; the ranking row holds the recomputed one.
func ArchiveFromResult(r SubmissionResult) ArchiveEntry {
	return ArchiveEntry{
		Username:       r.Username,
		ModelSizeMB:    r.ModelSizeMB,
		LatencyMS:      r.LatencyMS,
		AccuracyPct:    r.AccuracyPct,
		TotalScore:     r.TotalScore,
		SubmissionDate: r.SubmissionDate,
		Notes:          r.Notes,
	}
}

// ParseDate parses a submission date in any of the layouts the leaderboard
// has historically accepted. ok is false for "N/A" and unknown layouts.
func ParseDate(s string) (t time.Time, ok bool) {
	for _, layout := range []string{DateLayout, DateLayout + " UTC", time.RFC3339, time.RFC3339Nano, "2006-01-02"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}

// FormatDate renders t in the leaderboard's date layout (UTC).
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}
