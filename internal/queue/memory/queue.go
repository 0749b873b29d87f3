// Package memory provides the in-process queue backend: a bounded channel.
package memory

import (
	"context"
	"sync"

	"github.com/aliskhannn/thumbnailer/internal/model"
	"github.com/aliskhannn/thumbnailer/internal/queue"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 100

// Queue is a bounded FIFO channel shared by producers and workers.
// Push blocks while the channel is full.
type Queue struct {
	buf chan model.Job

	// closing wakes blocked producers; sealed is closed once no push can be in flight.
	closing chan struct{}
	sealed  chan struct{}

	mu        sync.RWMutex
	closeOnce sync.Once
}

// New creates a queue holding at most capacity pending jobs.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Queue{
		buf:     make(chan model.Job, capacity),
		closing: make(chan struct{}),
		sealed:  make(chan struct{}),
	}
}

// Push enqueues job, waiting for free capacity.
// It returns queue.ErrClosed if the queue is closed before the job is accepted.
func (q *Queue) Push(ctx context.Context, job model.Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	select {
	case <-q.closing:
		return queue.ErrClosed
	default:
	}

	select {
	case q.buf <- job:
		return nil
	case <-q.closing:
		return queue.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop returns the next job. Pending jobs are still delivered after Close;
// once they are gone Pop returns queue.ErrClosed.
func (q *Queue) Pop(ctx context.Context) (model.Job, error) {
	select {
	case job := <-q.buf:
		return job, nil
	case <-q.sealed:
		select {
		case job := <-q.buf:
			return job, nil
		default:
			return model.Job{}, queue.ErrClosed
		}
	case <-ctx.Done():
		return model.Job{}, ctx.Err()
	}
}

// Len reports the number of pending jobs.
func (q *Queue) Len() int {
	return len(q.buf)
}

// Close stops accepting pushes and lets workers drain what is left.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		close(q.closing)

		// Wait for pushes that won the race against close to finish.
		q.mu.Lock()
		close(q.sealed)
		q.mu.Unlock()
	})

	return nil
}

var _ queue.Queue = (*Queue)(nil)
