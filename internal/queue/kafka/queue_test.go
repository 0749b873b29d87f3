package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/thumbnailer/internal/model"
	"github.com/aliskhannn/thumbnailer/internal/queue"
)

// fakeTopic connects the fake producer and consumer through a channel.
type fakeTopic struct {
	messages chan kafka.Message

	mu        sync.Mutex
	offset    int64
	committed []int64
	closed    int
}

func newFakeTopic() *fakeTopic {
	return &fakeTopic{messages: make(chan kafka.Message, 16)}
}

func (f *fakeTopic) SendWithRetry(_ context.Context, _ retry.Strategy, key, value []byte) error {
	f.mu.Lock()
	f.offset++
	msg := kafka.Message{Key: key, Value: value, Offset: f.offset}
	f.mu.Unlock()

	f.messages <- msg
	return nil
}

func (f *fakeTopic) Fetch(ctx context.Context) (kafka.Message, error) {
	select {
	case msg := <-f.messages:
		return msg, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (f *fakeTopic) Commit(_ context.Context, msg kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, msg.Offset)
	return nil
}

func (f *fakeTopic) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

var testStrategy = retry.Strategy{Attempts: 1}

func TestQueuePushPop(t *testing.T) {
	topic := newFakeTopic()
	q := newQueue(topic, topic, testStrategy)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, model.NewJob(1, "abc.png", "uploads")))
	require.NoError(t, q.Push(ctx, model.NewJob(2, "def.jpg", "uploads")))

	first, err := q.Pop(ctx)
	require.NoError(t, err)
	second, err := q.Pop(ctx)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), first.ID)
	assert.Equal(t, uint64(2), second.ID)
	assert.Equal(t, []int64{1, 2}, topic.committed)
}

func TestQueuePopInvalidPayload(t *testing.T) {
	topic := newFakeTopic()
	q := newQueue(topic, topic, testStrategy)
	topic.messages <- kafka.Message{Value: []byte("garbage"), Offset: 5}

	_, err := q.Pop(context.Background())

	assert.ErrorIs(t, err, queue.ErrInvalidPayload)
	assert.Equal(t, []int64{5}, topic.committed, "bad message must not be redelivered forever")
}

func TestQueueClose(t *testing.T) {
	t.Run("interrupts a blocked pop", func(t *testing.T) {
		topic := newFakeTopic()
		q := newQueue(topic, topic, testStrategy)

		done := make(chan error, 1)
		go func() {
			_, err := q.Pop(context.Background())
			done <- err
		}()

		time.Sleep(20 * time.Millisecond)
		require.NoError(t, q.Close())

		select {
		case err := <-done:
			assert.ErrorIs(t, err, queue.ErrClosed)
		case <-time.After(time.Second):
			t.Fatal("pop still blocked after close")
		}
	})

	t.Run("is idempotent and rejects pushes", func(t *testing.T) {
		topic := newFakeTopic()
		q := newQueue(topic, topic, testStrategy)

		require.NoError(t, q.Close())
		require.NoError(t, q.Close())

		assert.Equal(t, 2, topic.closed, "producer and consumer closed once each")
		assert.ErrorIs(t, q.Push(context.Background(), model.NewJob(1, "a.png", "uploads")), queue.ErrClosed)

		_, err := q.Pop(context.Background())
		assert.ErrorIs(t, err, queue.ErrClosed)
	})

	t.Run("caller cancellation is not reported as closed", func(t *testing.T) {
		topic := newFakeTopic()
		q := newQueue(topic, topic, testStrategy)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := q.Pop(ctx)

		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})
}
