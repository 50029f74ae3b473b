// Package memory provides the in-process batch queue used by
// single-binary deployments.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
)

// Queue is a bounded in-memory queue with context-aware operations.
// After Close, Enqueue fails immediately while Dequeue drains whatever
// is still buffered before reporting the queue closed.
type Queue struct {
	ch        chan extraction.QueueItem
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch:   make(chan extraction.QueueItem, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes a batch into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, item extraction.QueueItem) error {
	select {
	case <-q.done:
		return extraction.ErrQueueClosed
	default:
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return extraction.ErrQueueClosed
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next batch, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (extraction.QueueItem, error) {
	select {
	case <-ctx.Done():
		return extraction.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item := <-q.ch:
		return item, nil
	case <-q.done:
		select {
		case item := <-q.ch:
			return item, nil
		default:
			return extraction.QueueItem{}, extraction.ErrQueueClosed
		}
	}
}

// Len reports how many batches are currently buffered.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close marks the queue closed for shutdown. Safe to call repeatedly.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}
