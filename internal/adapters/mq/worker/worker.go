// Package worker drains the result queue into the leaderboard. There is
// exactly one worker so document writes are serialized in-process.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/shrinkrank/internal/adapters/mq/queue"
	"github.com/okian/shrinkrank/pkg/logger"
	"github.com/okian/shrinkrank/pkg/metrics"
)

// Processor merges one job.
type Processor interface {
	Process(ctx context.Context, j queue.Job) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, j queue.Job) error

// Process implements Processor.
func (f ProcessorFunc) Process(ctx context.Context, j queue.Job) error { return f(ctx, j) }

// Queue defines how the worker receives jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
}

// Worker processes jobs one at a time.
type Worker struct {
	queue     Queue
	processor Processor
	name      string

	processed atomic.Int64
	failed    atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}

	logger logger.Logger
}

// New creates a worker with configuration options.
func New(q Queue, p Processor, opts ...Option) *Worker {
	w := &Worker{
		queue:     q,
		processor: p,
		name:      "worker",
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Get().Named(w.name)
	}
	return w
}

// Start runs the worker loop in the background. Later calls are no-ops.
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() { go w.run(ctx) })
}

// run processes jobs until the queue channel is closed and drained, ctx is
// cancelled, or the worker is stopped.
func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case j, ok := <-jobs:
			if !ok {
				return
			}
			w.handle(ctx, j)
		}
	}
}

func (w *Worker) handle(ctx context.Context, j queue.Job) { //nolint:gocritic // hugeParam: jobs travel by value
	start := time.Now()
	metrics.RecordQueueDequeue()
	err := w.processor.Process(ctx, j)
	metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)

	if err != nil {
		w.failed.Add(1)
		metrics.RecordWorkerError()
		w.logger.Error(ctx, "job failed",
			logger.String("job_id", j.ID),
			logger.String("username", j.Result.Username),
			logger.Error(err),
		)
		return
	}
	w.processed.Add(1)
	w.logger.Debug(ctx, "job merged",
		logger.String("job_id", j.ID),
		logger.Duration("queued_for", start.Sub(j.Enqueued)),
	)
}

// Shutdown waits for the worker to drain a closed queue. When ctx expires
// first the worker is stopped after its current job.
func (w *Worker) Shutdown(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.stopOnce.Do(func() { close(w.stop) })
		<-w.done
		w.logger.Warn(ctx, "shutdown timed out, queued jobs dropped")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Processed returns the number of jobs merged successfully.
func (w *Worker) Processed() int64 { return w.processed.Load() }

// Failed returns the number of jobs that failed.
func (w *Worker) Failed() int64 { return w.failed.Load() }
