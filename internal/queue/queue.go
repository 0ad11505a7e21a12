// Package queue provides the bounded multi-producer, single-consumer buffer
// that holds entries between enqueue and flush.
package queue

import (
	"sync"
	"sync/atomic"

	blerrors "github.com/blocklog/blocklog/internal/errors"
)

// DefaultCapacity is the number of pending items accepted before Enqueue rejects.
const DefaultCapacity = 50_000

// Queue is a capacity-capped FIFO safe for concurrent producers.
// A single consumer removes items with Drain and may hand a failed batch
// back with Requeue.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	dropped  atomic.Int64
}

// New creates a queue holding at most capacity items.
// A non-positive capacity selects DefaultCapacity.
func New[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue[T]{capacity: capacity}
}

// Enqueue appends item, or returns ErrQueueFull without blocking when the
// queue is at capacity.
func (q *Queue[T]) Enqueue(item T) error {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		q.mu.Unlock()
		q.dropped.Add(1)
		return blerrors.ErrQueueFull
	}
	q.items = append(q.items, item)
	q.mu.Unlock()
	return nil
}

// Drain removes and returns every item present when it was called, in
// enqueue order. It returns nil when the queue is empty.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = nil
	return out
}

// Requeue puts items back at the head of the queue, ahead of anything
// enqueued since they were drained. Capacity is not enforced so a failed
// batch is never lost.
func (q *Queue[T]) Requeue(items []T) {
	if len(items) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	merged := make([]T, 0, len(items)+len(q.items))
	merged = append(merged, items...)
	merged = append(merged, q.items...)
	q.items = merged
}

// Len returns the number of pending items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Capacity returns the configured limit.
func (q *Queue[T]) Capacity() int {
	return q.capacity
}

// Dropped returns how many items Enqueue has rejected.
func (q *Queue[T]) Dropped() int64 {
	return q.dropped.Load()
}
