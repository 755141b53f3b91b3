package evaluator

import (
	"time"

	"github.com/okian/shrinkrank/pkg/logger"
)

// Option applies a configuration option to the Evaluator.
type Option func(*Evaluator)

// WithLatencySamples limits latency timing to the first n samples. Zero
// times every sample.
func WithLatencySamples(n int) Option {
	return func(e *Evaluator) {
		if n >= 0 {
			e.latencySamples = n
		}
	}
}

// WithWarmupRuns sets the number of untimed predictions made before timing.
func WithWarmupRuns(n int) Option {
	return func(e *Evaluator) {
		if n >= 0 {
			e.warmupRuns = n
		}
	}
}

// WithModelExtensions sets the artifact extensions searched for.
func WithModelExtensions(exts []string) Option {
	return func(e *Evaluator) {
		if len(exts) > 0 {
			e.modelExtensions = exts
		}
	}
}

// WithClock overrides the time source used for latency measurement.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}
