package inference

import "errors"

// Sentinel kinds for runtime errors. Both are reported alongside
// model.ErrMetric.
var (
	ErrNotReady        = errors.New("runtime did not become ready")
	ErrRuntimeExited   = errors.New("runtime exited")
	ErrBadSamplePath   = errors.New("sample path cannot be sent to runtime")
	ErrEmptyPrediction = errors.New("runtime returned an empty label")
)
