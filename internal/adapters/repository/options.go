package repository

import (
	"time"

	"github.com/okian/shrinkrank/pkg/logger"
)

// Option applies a configuration option to the FileStore.
type Option func(*FileStore)

// WithLockRetryInterval sets how often a busy lock is polled.
func WithLockRetryInterval(interval time.Duration) Option {
	return func(s *FileStore) {
		if interval > 0 {
			s.retryInterval = interval
		}
	}
}

// WithLockPath overrides the advisory lock file location.
func WithLockPath(path string) Option {
	return func(s *FileStore) {
		if path != "" {
			s.lockPath = path
		}
	}
}

// WithLogger sets a custom logger for the store.
func WithLogger(l logger.Logger) Option {
	return func(s *FileStore) {
		if l != nil {
			s.logger = l
		}
	}
}
