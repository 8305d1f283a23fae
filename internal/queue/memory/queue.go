// Package memory provides the bounded in-process queue between the HTTP
// handlers and the worker pool.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/visitor-telemetry/internal/beacon"
)

// Queue errors.
var (
	ErrQueueFull   = errors.New("queue full")
	ErrQueueClosed = errors.New("queue closed")
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch       chan beacon.QueueItem
	done     chan struct{}
	doneOnce sync.Once
	closeMu  sync.RWMutex
	closed   bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch:   make(chan beacon.QueueItem, capacity),
		done: make(chan struct{}),
	}
}

// TryEnqueue adds item without blocking.
func (q *Queue) TryEnqueue(item beacon.QueueItem) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- item:
		return nil
	default:
		return ErrQueueFull
	}
}

// Enqueue waits for room, the context to end, or the queue to close.
func (q *Queue) Enqueue(ctx context.Context, item beacon.QueueItem) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return ErrQueueClosed
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next item. After Close it keeps returning buffered items
// and then ErrQueueClosed.
func (q *Queue) Dequeue(ctx context.Context) (beacon.QueueItem, error) {
	select {
	case <-ctx.Done():
		return beacon.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return beacon.QueueItem{}, ErrQueueClosed
		}
		return item, nil
	}
}

// Len returns the number of buffered items.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops new items from being accepted. It is safe to call repeatedly.
func (q *Queue) Close() {
	// Wake blocked Enqueue calls so they release the read lock.
	q.doneOnce.Do(func() { close(q.done) })

	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
