// Package memory provides the in-process task queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/infra-api/internal/inventory"
)

// ErrClosed is returned once the queue has been shut down.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with context-aware operations. The item
// channel is never closed; shutdown is signaled through done so blocked
// producers are released immediately.
type Queue struct {
	ch        chan inventory.QueueItem
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch:   make(chan inventory.QueueItem, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes an item into the queue or returns if the context ends or the
// queue closes while waiting for room.
func (q *Queue) Enqueue(ctx context.Context, item inventory.QueueItem) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return ErrClosed
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next item, respecting context cancellation. After Close it
// keeps returning buffered items until the queue is empty, then ErrClosed.
func (q *Queue) Dequeue(ctx context.Context) (inventory.QueueItem, error) {
	select {
	case <-ctx.Done():
		return inventory.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item := <-q.ch:
		return item, nil
	case <-q.done:
		select {
		case item := <-q.ch:
			return item, nil
		default:
			return inventory.QueueItem{}, ErrClosed
		}
	}
}

// Drain removes and returns every item currently buffered without blocking.
func (q *Queue) Drain() []inventory.QueueItem {
	var items []inventory.QueueItem
	for {
		select {
		case item := <-q.ch:
			items = append(items, item)
		default:
			return items
		}
	}
}

// Len reports the number of items waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops the queue. It is safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
