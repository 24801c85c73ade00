// Package memory provides the in-process queue of pending aggregation runs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/rule-aggregator/internal/ingest"
)

// ErrClosed is returned once the queue has been shut down.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan ingest.QueueItem
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan ingest.QueueItem, capacity),
	}
}

// Enqueue pushes a pending run onto the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, item ingest.QueueItem) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next pending run, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (ingest.QueueItem, error) {
	select {
	case <-ctx.Done():
		return ingest.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return ingest.QueueItem{}, ErrClosed
		}
		return item, nil
	}
}

// Len reports the number of runs waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown. Runs still buffered are
// drained by Dequeue before ErrClosed is reported.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
