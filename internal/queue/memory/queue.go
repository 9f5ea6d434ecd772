// Package memory provides an in-process work queue.
package memory

import (
	"context"
	"sync"
)

// compactThreshold is the number of consumed slots after which the backing
// slice is compacted.
const compactThreshold = 1024

// Queue is an unbounded FIFO of URLs guarded by a mutex. The empty check and
// the take happen under one lock, so concurrent TryDequeue calls never return
// the same item.
type Queue struct {
	mu    sync.Mutex
	items []string
	head  int
}

// New builds a queue pre-populated with items, in order.
func New(items ...string) *Queue {
	return &Queue{items: append([]string(nil), items...)}
}

// Enqueue appends item to the tail. It is safe to call while workers drain
// the queue.
func (q *Queue) Enqueue(_ context.Context, item string) error {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	return nil
}

// TryDequeue pops the head without blocking.
func (q *Queue) TryDequeue(_ context.Context) (string, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head >= len(q.items) {
		return "", false, nil
	}
	item := q.items[q.head]
	q.items[q.head] = ""
	q.head++
	q.compact()
	return item, true, nil
}

// Len returns the number of pending items.
func (q *Queue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head, nil
}

// compact must be called with mu held.
func (q *Queue) compact() {
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
		return
	}
	if q.head < compactThreshold || q.head*2 < len(q.items) {
		return
	}
	n := copy(q.items, q.items[q.head:])
	q.items = q.items[:n]
	q.head = 0
}
