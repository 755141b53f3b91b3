package model

import "errors"

// Failure kinds shared by the evaluator and the leaderboard updater.
// Adapters wrap these so callers can branch with errors.Is.
var (
	ErrArtifact      = errors.New("artifact error")
	ErrDataset       = errors.New("dataset error")
	ErrMetric        = errors.New("metric error")
	ErrParse         = errors.New("parse error")
	ErrIO            = errors.New("io error")
	ErrInvalidResult = errors.New("invalid result")
)

// Kind names the failure kind of err for logs and metric labels, or
// "other" when err wraps none of the sentinels above.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrArtifact):
		return "artifact"
	case errors.Is(err, ErrDataset):
		return "dataset"
	case errors.Is(err, ErrMetric):
		return "metric"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrIO):
		return "io"
	case errors.Is(err, ErrInvalidResult):
		return "invalid"
	default:
		return "other"
	}
}
