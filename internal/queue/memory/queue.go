// Package memory provides the in-process id queue between listing and detail workers.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/threadcrawler/internal/crawler"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained,
// and by Enqueue after Close.
var ErrClosed = errors.New("queue closed")

// Queue is an unbounded FIFO with context-aware operations.
// Enqueue never blocks. Close is a broadcast: every pending and future Dequeue
// observes it once the items enqueued before the close have been handed out.
type Queue struct {
	mu      sync.Mutex
	items   []crawler.QueueItem
	head    int
	closed  bool
	changed chan struct{}
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{
		changed: make(chan struct{}),
	}
}

// Enqueue appends an item. It fails only when the queue is closed or ctx is done.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, item)
	q.broadcastLocked()
	return nil
}

// Dequeue pops the oldest item, waiting while the queue is empty and open.
// A done ctx wins over queued items.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	for {
		if err := ctx.Err(); err != nil {
			return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		q.mu.Lock()
		if q.head < len(q.items) {
			item := q.items[q.head]
			q.items[q.head] = crawler.QueueItem{}
			q.head++
			if q.head == len(q.items) {
				q.items = q.items[:0]
				q.head = 0
			}
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			return crawler.QueueItem{}, ErrClosed
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-wait:
		}
	}
}

// Len reports the number of items waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Close marks the queue finished and wakes every waiter. Closing twice is safe.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcastLocked()
}

func (q *Queue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
