// Package queue defines the hand-off between upload handlers and thumbnail workers.
//
// Every backend delivers jobs FIFO per producer with at-least-once semantics.
// There is no acknowledgment: a job popped by a worker that dies before finishing is lost.
package queue

import (
	"context"
	"errors"

	"github.com/aliskhannn/thumbnailer/internal/model"
)

var (
	// ErrClosed is returned by Push after Close, and by Pop once the queue is closed and drained.
	// It signals "no more work", not a failure.
	ErrClosed = errors.New("queue closed")

	// ErrInvalidPayload is returned by Pop when a message could not be decoded into a job.
	// The message is consumed; callers should log it and pop again.
	ErrInvalidPayload = errors.New("invalid job payload")
)

// Queue is implemented by the in-process channel backend and the durable backends.
type Queue interface {
	// Push enqueues a job.
	Push(ctx context.Context, job model.Job) error

	// Pop removes and returns the head job, blocking until one is available.
	// It returns ErrClosed when the queue is closed and no jobs are pending.
	Pop(ctx context.Context) (model.Job, error)

	// Close stops accepting pushes. It is safe to call more than once.
	Close() error
}
