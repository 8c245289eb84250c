// Package queue implements WorkQueue: a bounded, replaceable, closeable
// queue of pending jobs shared between the scheduler and the worker pool.
// Deliberately hand-rolled on a mutex and condition variable rather than a
// channel, so that `set` can atomically replace the pending contents.
package queue

import (
	"sync"

	"github.com/gittest/gittest/internal/model"
)

// Queue is a multi-producer/multi-consumer queue of JobKeys with two
// control operations beyond push/pull: Set atomically replaces the pending
// contents; Close causes Pull to return done=true once drained.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []model.JobKey
	closed bool
}

// New returns an empty, open Queue.
func New() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Set atomically replaces the pending contents with items, preserving
// items' order, and wakes any workers blocked in Pull.
func (q *Queue) Set(items []model.JobKey) {
	q.mu.Lock()
	q.items = append([]model.JobKey(nil), items...)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Close marks the queue closed. Pull returns done=true once the queue is
// both closed and drained.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Pull blocks until an item is available, the queue is closed and drained,
// or Set supplies new work. done is true only in the closed-and-drained
// case, in which case the JobKey is zero and must be ignored.
func (q *Queue) Pull() (model.JobKey, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return model.JobKey{}, true
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, false
}
