package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/moby/sys/atomicwriter"

	"github.com/okian/shrinkrank/internal/adapters/markdown"
	"github.com/okian/shrinkrank/internal/domain/leaderboard"
	"github.com/okian/shrinkrank/internal/domain/model"
	"github.com/okian/shrinkrank/pkg/logger"
	"github.com/okian/shrinkrank/pkg/metrics"
)

const (
	defaultRetryInterval = 100 * time.Millisecond
	defaultFileMode      = 0o644
)

// FileStore keeps the board in a Markdown file. Writers take an advisory
// lock on a sibling ".lock" file for the whole read-merge-write cycle and
// replace the document with a rename, so readers never see partial writes.
type FileStore struct {
	path          string
	lockPath      string
	codec         *markdown.Codec
	retryInterval time.Duration
	logger        logger.Logger
}

// NewFileStore creates a store for the document at path.
func NewFileStore(path string, codec *markdown.Codec, opts ...Option) *FileStore {
	s := &FileStore{
		path:          path,
		lockPath:      path + ".lock",
		codec:         codec,
		retryInterval: defaultRetryInterval,
		logger:        logger.Get().Named("store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the document path.
func (s *FileStore) Path() string { return s.path }

// Load reads and decodes the document without taking the lock. The rename
// based writes make a lock-free read consistent.
func (s *FileStore) Load(ctx context.Context) (leaderboard.Board, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreQueryLatency(msSince(start)) }()

	doc, _, err := s.read()
	if err != nil {
		return leaderboard.Board{}, err
	}
	return doc.Board, nil
}

// Update implements Store.
func (s *FileStore) Update(ctx context.Context, fn Mutation) (leaderboard.Board, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return leaderboard.Board{}, err
	}
	defer unlock()

	start := time.Now()
	doc, mode, err := s.read()
	if err != nil {
		return leaderboard.Board{}, err
	}

	next, err := fn(doc.Board.Clone())
	if err != nil {
		return leaderboard.Board{}, err
	}

	out, err := s.codec.Encode(doc, next)
	if err != nil {
		return leaderboard.Board{}, err
	}
	if err := atomicwriter.WriteFile(s.path, out, mode); err != nil {
		metrics.RecordLeaderboardError()
		return leaderboard.Board{}, fmt.Errorf("%w: replace %s: %w", model.ErrIO, s.path, err)
	}

	metrics.RecordStoreUpdateLatency(msSince(start))
	metrics.UpdateLeaderboardSize(len(next.Rows), len(next.Archive))
	s.logger.Debug(ctx, "leaderboard document replaced",
		logger.String("path", s.path),
		logger.Int("rows", len(next.Rows)),
		logger.Int("archive", len(next.Archive)),
	)
	return next, nil
}

// Create writes a fresh document holding only the baseline row. It fails
// with ErrExists rather than overwrite an existing leaderboard.
func (s *FileStore) Create(ctx context.Context, baseline model.Row, now time.Time) error {
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := os.Stat(s.path); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, s.path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: stat %s: %w", model.ErrIO, s.path, err)
	}

	out, err := s.codec.Template(baseline, now)
	if err != nil {
		return err
	}
	if err := atomicwriter.WriteFile(s.path, out, defaultFileMode); err != nil {
		return fmt.Errorf("%w: create %s: %w", model.ErrIO, s.path, err)
	}
	s.logger.Info(ctx, "leaderboard document created", logger.String("path", s.path))
	return nil
}

func (s *FileStore) read() (*markdown.Document, fs.FileMode, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: stat %s: %w", model.ErrIO, s.path, err)
	}
	src, err := os.ReadFile(s.path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read %s: %w", model.ErrIO, s.path, err)
	}
	doc, err := s.codec.Decode(src)
	if err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return doc, info.Mode().Perm(), nil
}

// lock blocks until the advisory lock is held or ctx is done.
func (s *FileStore) lock(ctx context.Context) (func(), error) {
	start := time.Now()
	fl := flock.New(s.lockPath)
	ok, err := fl.TryLockContext(ctx, s.retryInterval)
	metrics.RecordLockWait(msSince(start))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrLocked, ctxErr)
		}
		return nil, fmt.Errorf("%w: lock %s: %w", model.ErrIO, s.lockPath, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, s.lockPath)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			s.logger.Warn(context.Background(), "failed to release leaderboard lock",
				logger.String("lock", s.lockPath), logger.Error(err))
		}
	}, nil
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
