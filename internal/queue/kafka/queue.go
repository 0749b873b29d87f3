// Package kafka provides a durable queue backend on a Kafka topic.
//
// Offsets are committed as soon as a job is popped, which mirrors the
// remove-on-pop behaviour of the other backends. Messages still in the topic
// when the process stops stay there for the next consumer in the group.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/segmentio/kafka-go"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/thumbnailer/internal/config"
	"github.com/aliskhannn/thumbnailer/internal/model"
	"github.com/aliskhannn/thumbnailer/internal/queue"
)

// producer is the part of the Kafka writer the queue needs.
type producer interface {
	SendWithRetry(ctx context.Context, strategy retry.Strategy, key, value []byte) error
	Close() error
}

// consumer is the part of the Kafka reader the queue needs.
type consumer interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
	Close() error
}

// Queue wraps a Kafka producer and consumer for sending and receiving jobs.
type Queue struct {
	producer producer
	consumer consumer
	strategy retry.Strategy

	// closeCtx is canceled by Close to interrupt fetches in flight.
	closeCtx context.Context
	cancel   context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// New creates a Queue with a producer and a group consumer on cfg.Topic.
// - cfg: Kafka configuration struct
// - s: retry strategy for sends and commits
func New(cfg *config.Kafka, s retry.Strategy) *Queue {
	return newQueue(
		wbfkafka.NewProducer(cfg.Brokers, cfg.Topic),
		wbfkafka.NewConsumer(cfg.Brokers, cfg.Topic, cfg.GroupID),
		s,
	)
}

func newQueue(p producer, c consumer, s retry.Strategy) *Queue {
	ctx, cancel := context.WithCancel(context.Background())

	return &Queue{
		producer: p,
		consumer: c,
		strategy: s,
		closeCtx: ctx,
		cancel:   cancel,
	}
}

// Push serializes the job and sends it to Kafka.
// The job ID is used as the message key.
func (q *Queue) Push(ctx context.Context, job model.Job) error {
	if q.closeCtx.Err() != nil {
		return queue.ErrClosed
	}

	data, err := job.Encode()
	if err != nil {
		return err
	}

	key := []byte(strconv.FormatUint(job.ID, 10))

	if err := q.producer.SendWithRetry(ctx, q.strategy, key, data); err != nil {
		return fmt.Errorf("failed to send job %d: %w", job.ID, err)
	}

	return nil
}

// Pop fetches the next message, commits it and decodes the job.
// It returns queue.ErrClosed once Close has been called.
func (q *Queue) Pop(ctx context.Context) (model.Job, error) {
	if q.closeCtx.Err() != nil {
		return model.Job{}, queue.ErrClosed
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(q.closeCtx, cancel)
	defer stop()

	msg, err := q.consumer.Fetch(fetchCtx)
	if err != nil {
		if q.closeCtx.Err() != nil {
			return model.Job{}, queue.ErrClosed
		}
		if ctx.Err() != nil {
			return model.Job{}, ctx.Err()
		}
		return model.Job{}, fmt.Errorf("failed to fetch message: %w", err)
	}

	// Commit with retries; a failed commit means the message may be delivered again.
	if err := retry.Do(func() error {
		return q.consumer.Commit(ctx, msg)
	}, q.strategy); err != nil {
		return model.Job{}, fmt.Errorf("failed to commit offset %d: %w", msg.Offset, err)
	}

	job, err := model.DecodeJob(msg.Value)
	if err != nil {
		return model.Job{}, fmt.Errorf("%w: offset %d: %w", queue.ErrInvalidPayload, msg.Offset, err)
	}

	return job, nil
}

// Close stops pushes, interrupts pending fetches and closes both clients.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		q.cancel()
		q.closeErr = errors.Join(q.producer.Close(), q.consumer.Close())
	})

	return q.closeErr
}

var _ queue.Queue = (*Queue)(nil)
