// Package service runs the long-lived leaderboard writer behind the HTTP API:
// results are validated, deduplicated, queued and merged by a single worker.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	eventqueue "github.com/okian/shrinkrank/internal/adapters/mq/queue"
	workerpool "github.com/okian/shrinkrank/internal/adapters/mq/worker"
	"github.com/okian/shrinkrank/internal/adapters/repository"
	"github.com/okian/shrinkrank/internal/app/updater"
	"github.com/okian/shrinkrank/internal/domain/dedupe"
	"github.com/okian/shrinkrank/internal/domain/leaderboard"
	"github.com/okian/shrinkrank/internal/domain/model"
	"github.com/okian/shrinkrank/internal/domain/types"
	"github.com/okian/shrinkrank/pkg/logger"
	"github.com/okian/shrinkrank/pkg/metrics"
)

// Ack is the outcome of a submission.
type Ack struct {
	ID        string
	Duplicate bool
}

// Service implements the API dependencies for serve mode.
type Service struct {
	mu sync.RWMutex

	// Core components
	store   repository.Store
	updater *updater.Updater
	deduper dedupe.Deduper
	queue   *eventqueue.InMemoryQueue
	worker  *workerpool.Worker

	// Configuration
	queueSize  int
	dedupeSize int
	newID      func() string

	// State
	started bool

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithQueueSize sets the capacity of the result queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize bounds the number of remembered submissions. Zero keeps
// every key.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size >= 0 {
			s.dedupeSize = size
		}
	}
}

// WithIDGenerator overrides how job ids are minted.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service writing through up into store.
func New(store repository.Store, up *updater.Updater, opts ...Option) *Service {
	s := &Service{
		store:      store,
		updater:    up,
		queueSize:  1024,
		dedupeSize: 10000,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	return s
}

// Start creates the queue and starts the single writer. The worker outlives
// cancellation of ctx so that Stop can drain it.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.worker = workerpool.New(s.queue, workerpool.ProcessorFunc(s.process),
		workerpool.WithName("writer"))
	s.worker.Start(context.WithoutCancel(ctx))

	if board, err := s.store.Load(ctx); err == nil {
		metrics.UpdateLeaderboardSize(len(board.Rows), len(board.Archive))
	} else {
		s.logger.Warn(ctx, "leaderboard not readable at startup", logger.Error(err))
	}

	s.started = true
	s.logger.Info(ctx, "leaderboard service started",
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
	)
	return nil
}

// Stop closes intake and waits for queued results to be merged, or until
// ctx expires.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping leaderboard service...", logger.Int("pending", s.queue.Len(ctx)))

	_ = s.queue.Close()
	err := s.worker.Shutdown(ctx)
	s.started = false
	s.logger.Info(ctx, "leaderboard service stopped",
		logger.Any("processed", s.worker.Processed()),
		logger.Any("failed", s.worker.Failed()),
	)
	return err
}

// Submit validates r and queues it for merging. A result already seen under
// the same username and submission date is acknowledged as a duplicate.
func (s *Service) Submit(ctx context.Context, r model.SubmissionResult) (Ack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return Ack{}, ErrNotStarted
	}

	prepared, err := s.updater.Prepare(ctx, r)
	if err != nil {
		return Ack{}, err
	}

	key := prepared.Key()
	if s.deduper.SeenAndRecord(ctx, key) {
		metrics.RecordResultDuplicate()
		s.logger.Debug(ctx, "duplicate result, skipping", logger.String("key", key))
		return Ack{Duplicate: true}, nil
	}

	job := eventqueue.Job{ID: s.newID(), Result: prepared, Enqueued: time.Now()}
	if !s.queue.Enqueue(ctx, job) {
		s.deduper.Unrecord(ctx, key)
		return Ack{}, fmt.Errorf("%w: %d results pending", ErrQueueFull, s.queue.Len(ctx))
	}

	metrics.RecordResultSubmitted()
	s.logger.Debug(ctx, "result queued",
		logger.String("job_id", job.ID),
		logger.String("username", prepared.Username),
	)
	return Ack{ID: job.ID}, nil
}

// process merges one queued result. A failed merge forgets the result so it
// can be submitted again.
func (s *Service) process(ctx context.Context, j eventqueue.Job) error { //nolint:gocritic // hugeParam: jobs travel by value
	if _, err := s.updater.Merge(ctx, j.Result); err != nil {
		s.deduper.Unrecord(ctx, j.Result.Key())
		return err
	}
	return nil
}

// TopN returns the first n ranked rows.
func (s *Service) TopN(ctx context.Context, n int) ([]types.Entry, error) {
	board, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	rows := leaderboard.TopN(board.Rows, n)
	entries := make([]types.Entry, len(rows))
	for i, row := range rows {
		entries[i] = types.EntryFromRow(row)
	}
	return entries, nil
}

// Rank returns the main-table row of username.
func (s *Service) Rank(ctx context.Context, username string) (types.Entry, error) {
	board, err := s.store.Load(ctx)
	if err != nil {
		return types.Entry{}, err
	}
	row, ok := leaderboard.Find(board.Rows, username)
	if !ok {
		return types.Entry{}, fmt.Errorf("%w: username %q", ErrNotFound, username)
	}
	return types.EntryFromRow(row), nil
}

// History returns every archived submission of username, oldest first.
func (s *Service) History(ctx context.Context, username string) ([]types.HistoryEntry, error) {
	board, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	archived := leaderboard.History(board.Archive, username)
	if len(archived) == 0 {
		return nil, fmt.Errorf("%w: username %q", ErrNotFound, username)
	}
	entries := make([]types.HistoryEntry, len(archived))
	for i, a := range archived {
		entries[i] = types.HistoryFromArchive(a)
	}
	return entries, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) (types.Stats, error) {
	board, err := s.store.Load(ctx)
	if err != nil {
		return types.Stats{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := types.Stats{
		Rows:        len(board.Rows),
		Archive:     len(board.Archive),
		LastUpdated: types.FormatStamp(board.LastUpdated),
	}
	if s.started {
		stats.QueueLength = s.queue.Len(ctx)
		stats.QueueCapacity = s.queue.Cap()
		stats.Processed = s.worker.Processed()
		stats.Failed = s.worker.Failed()
		stats.DedupeSize = s.deduper.Size()
	}
	return stats, nil
}
