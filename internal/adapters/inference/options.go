package inference

import (
	"time"

	"github.com/okian/shrinkrank/pkg/logger"
)

const (
	defaultReadyTimeout = 2 * time.Minute
	defaultStopTimeout  = 5 * time.Second
	stderrTailBytes     = 4096
)

type settings struct {
	readyTimeout time.Duration
	stopTimeout  time.Duration
	logger       logger.Logger
}

func defaultSettings() settings {
	return settings{
		readyTimeout: defaultReadyTimeout,
		stopTimeout:  defaultStopTimeout,
	}
}

// Option configures a runtime.
type Option func(*settings)

// WithReadyTimeout bounds how long loading may take.
func WithReadyTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.readyTimeout = d
		}
	}
}

// WithStopTimeout bounds how long Close waits for the runtime to exit.
func WithStopTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}
