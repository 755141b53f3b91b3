package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/shrinkrank/internal/domain/model"
)

func job(id string) Job {
	return Job{ID: id, Result: model.SubmissionResult{Username: id, SubmissionDate: "2025-05-01 10:00:00"}}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
	if !q.Enqueue(ctx, job("a")) {
		t.Fatal("expected enqueue to succeed")
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	select {
	case got := <-q.Dequeue(ctx):
		if got.ID != "a" {
			t.Errorf("expected job a, got %s", got.ID)
		}
		if got.Enqueued.IsZero() {
			t.Error("expected enqueue time to be stamped")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for job")
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if !q.Enqueue(ctx, job("a")) || !q.Enqueue(ctx, job("b")) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.Enqueue(ctx, job("c")) {
		t.Error("expected enqueue to fail when full")
	}
	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
	if q.Cap() != 2 {
		t.Errorf("expected capacity 2, got %d", q.Cap())
	}
}

func TestInMemoryQueue_FIFO(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(100))
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		if !q.Enqueue(ctx, job(fmt.Sprintf("j%02d", i))) {
			t.Fatalf("enqueue %d failed", i)
		}
	}
	_ = q.Close()

	i := 0
	for got := range q.Dequeue(ctx) {
		if want := fmt.Sprintf("j%02d", i); got.ID != want {
			t.Fatalf("position %d: got %s, want %s", i, got.ID, want)
		}
		i++
	}
	if i != 50 {
		t.Errorf("expected 50 jobs drained after close, got %d", i)
	}
}

func TestInMemoryQueue_ConcurrentProducers(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(1000))
	ctx := context.Background()

	var wg sync.WaitGroup
	for p := 0; p < 10; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if !q.Enqueue(ctx, job(fmt.Sprintf("%d-%d", p, i))) {
					t.Errorf("enqueue %d-%d failed", p, i)
				}
			}
		}(p)
	}
	wg.Wait()

	if l := q.Len(ctx); l != 1000 {
		t.Errorf("expected 1000 queued jobs, got %d", l)
	}
}

func TestInMemoryQueue_Close(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()

	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed")
	}
	if q.Enqueue(ctx, job("late")) {
		t.Error("expected enqueue to fail after closing")
	}
	if _, ok := <-q.Dequeue(ctx); ok {
		t.Error("expected dequeue channel to be closed")
	}
}

func TestInMemoryQueue_CancelledContext(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A full queue with a cancelled context must not block.
	_ = q.Enqueue(context.Background(), job("a"))
	if q.Enqueue(ctx, job("b")) {
		t.Error("expected enqueue to fail")
	}
}
