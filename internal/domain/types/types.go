// Package types contains the read-side shapes served over HTTP.
package types

import (
	"time"

	"github.com/okian/shrinkrank/internal/domain/model"
)

// Entry is one ranked leaderboard row.
type Entry struct {
	Rank           int     `json:"rank"`
	Username       string  `json:"username"`
	ModelSizeMB    float64 `json:"model_size"`
	SizeScore      float64 `json:"size_score"`
	LatencyMS      float64 `json:"latency"`
	LatencyScore   float64 `json:"latency_score"`
	AccuracyPct    float64 `json:"accuracy"`
	AccuracyScore  float64 `json:"accuracy_score"`
	TotalScore     float64 `json:"total_score"`
	SubmissionDate string  `json:"submission_date"`
	Baseline       bool    `json:"baseline,omitempty"`
}

// HistoryEntry is one archived submission.
type HistoryEntry struct {
	Username       string  `json:"username"`
	ModelSizeMB    float64 `json:"model_size"`
	LatencyMS      float64 `json:"latency"`
	AccuracyPct    float64 `json:"accuracy"`
	TotalScore     float64 `json:"total_score"`
	SubmissionDate string  `json:"submission_date"`
	Notes          string  `json:"notes,omitempty"`
}

// Stats summarizes the serving process.
type Stats struct {
	Rows          int    `json:"rows"`
	Archive       int    `json:"archive"`
	LastUpdated   string `json:"last_updated,omitempty"`
	QueueLength   int    `json:"queue_length"`
	QueueCapacity int    `json:"queue_capacity"`
	Processed     int64  `json:"processed"`
	Failed        int64  `json:"failed"`
	DedupeSize    int64  `json:"dedupe_size"`
}

// EntryFromRow converts a main-table row.
func EntryFromRow(r model.Row) Entry {
	return Entry{
		Rank:           r.Rank,
		Username:       r.Username,
		ModelSizeMB:    r.ModelSizeMB,
		SizeScore:      r.Scores.Size,
		LatencyMS:      r.LatencyMS,
		LatencyScore:   r.Scores.Latency,
		AccuracyPct:    r.AccuracyPct,
		AccuracyScore:  r.Scores.Accuracy,
		TotalScore:     r.Scores.Total,
		SubmissionDate: r.SubmissionDate,
		Baseline:       r.IsBaseline(),
	}
}

// HistoryFromArchive converts an archive entry.
func HistoryFromArchive(a model.ArchiveEntry) HistoryEntry {
	return HistoryEntry(a)
}

// FormatStamp renders a last-updated time, or "" for the zero time.
func FormatStamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return model.FormatDate(t) + " UTC"
}
