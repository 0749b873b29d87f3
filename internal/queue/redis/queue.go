// Package redis provides the durable queue backend: a Redis list written with RPUSH
// and consumed with BLPOP, shared by every process pointing at the same key.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/aliskhannn/thumbnailer/internal/model"
	"github.com/aliskhannn/thumbnailer/internal/queue"
)

const (
	// DefaultKey is the list jobs are pushed to.
	DefaultKey = "image_jobs"
	// DefaultPollInterval bounds a single BLPOP so that Close is noticed.
	DefaultPollInterval = time.Second
)

// Options configures the list a Queue works on.
type Options struct {
	Key          string
	PollInterval time.Duration
}

// Queue is a Redis list used as a FIFO. Push never applies backpressure.
type Queue struct {
	client       goredis.UniversalClient
	key          string
	pollInterval time.Duration
	closed       atomic.Bool
}

// New creates a queue on top of an existing client. The client is not owned by the queue.
func New(client goredis.UniversalClient, opts Options) *Queue {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	// BLPOP timeouts have one-second resolution.
	if opts.PollInterval < time.Second {
		opts.PollInterval = DefaultPollInterval
	}

	return &Queue{
		client:       client,
		key:          opts.Key,
		pollInterval: opts.PollInterval,
	}
}

// Push appends the encoded job to the tail of the list.
func (q *Queue) Push(ctx context.Context, job model.Job) error {
	if q.closed.Load() {
		return queue.ErrClosed
	}

	data, err := job.Encode()
	if err != nil {
		return err
	}

	if err := q.client.RPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", q.key, err)
	}

	return nil
}

// Pop takes the head of the list, waiting for one to arrive.
// After Close it keeps returning jobs until the list is empty, then queue.ErrClosed.
func (q *Queue) Pop(ctx context.Context) (model.Job, error) {
	for {
		if q.closed.Load() {
			return q.drain(ctx)
		}

		res, err := q.client.BLPop(ctx, q.pollInterval, q.key).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return model.Job{}, fmt.Errorf("blpop %s: %w", q.key, err)
		}

		// BLPOP replies with [key, value].
		if len(res) != 2 {
			return model.Job{}, fmt.Errorf("blpop %s: unexpected reply of %d elements", q.key, len(res))
		}

		return decode(res[1])
	}
}

func (q *Queue) drain(ctx context.Context) (model.Job, error) {
	payload, err := q.client.LPop(ctx, q.key).Result()
	if errors.Is(err, goredis.Nil) {
		return model.Job{}, queue.ErrClosed
	}
	if err != nil {
		return model.Job{}, fmt.Errorf("lpop %s: %w", q.key, err)
	}

	return decode(payload)
}

func decode(payload string) (model.Job, error) {
	job, err := model.DecodeJob([]byte(payload))
	if err != nil {
		return model.Job{}, fmt.Errorf("%w: %w", queue.ErrInvalidPayload, err)
	}

	return job, nil
}

// Close stops accepting pushes. Blocked consumers notice within one poll interval.
func (q *Queue) Close() error {
	q.closed.Store(true)
	return nil
}

var _ queue.Queue = (*Queue)(nil)
