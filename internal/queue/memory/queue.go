// Package memory provides an in-process job runner for local development.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/sitemap-bot/internal/crawler"
)

var (
	_ crawler.JobRunner = (*Queue)(nil)
	_ crawler.JobSource = (*Queue)(nil)
)

// ErrQueueFull is returned by Submit when no buffer slot is free.
var ErrQueueFull = errors.New("queue full")

// ErrQueueClosed is returned once Close has been called.
var ErrQueueClosed = errors.New("queue closed")

// Queue is a bounded in-memory job queue with context-aware operations.
type Queue struct {
	ch      chan crawler.CrawlJob
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan crawler.CrawlJob, capacity),
	}
}

// Submit enqueues job without blocking. The job ID is the acknowledgment.
func (q *Queue) Submit(ctx context.Context, job crawler.CrawlJob) (string, error) {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return "", ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("submit canceled: %w", ctx.Err())
	case q.ch <- job:
		return job.ID, nil
	default:
		return "", ErrQueueFull
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (crawler.CrawlJob, error) {
	select {
	case <-ctx.Done():
		return crawler.CrawlJob{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job, ok := <-q.ch:
		if !ok {
			return crawler.CrawlJob{}, ErrQueueClosed
		}
		return job, nil
	}
}

// Receive hands jobs to handle until ctx is done or the queue is closed.
// Handler errors are not retried; an in-process job is dropped on failure.
func (q *Queue) Receive(ctx context.Context, handle crawler.JobHandler) error {
	for {
		job, err := q.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				return nil
			}
			return err
		}
		_ = handle(ctx, job)
	}
}

// Len reports the number of buffered jobs.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown. Buffered jobs are still delivered.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
