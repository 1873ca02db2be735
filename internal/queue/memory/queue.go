// Package memory provides the bounded in-memory fetch task queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/newsletter-archiver/internal/archive"
)

// ErrClosed is returned by Dequeue once a closed queue is drained, and by
// Enqueue after Close.
var ErrClosed = archive.ErrQueueClosed

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan archive.FetchTask
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan archive.FetchTask, capacity),
	}
}

// Enqueue pushes a task into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, task archive.FetchTask) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- task:
		return nil
	}
}

// Dequeue pops the next task, respecting context cancellation. Buffered
// tasks are still handed out after Close.
func (q *Queue) Dequeue(ctx context.Context) (archive.FetchTask, error) {
	select {
	case <-ctx.Done():
		return archive.FetchTask{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case task, ok := <-q.ch:
		if !ok {
			return archive.FetchTask{}, ErrClosed
		}
		return task, nil
	}
}

// Close closes the underlying channel; workers drain what is buffered.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
