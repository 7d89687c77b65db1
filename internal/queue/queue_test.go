package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestNewMessageEncodesInput(t *testing.T) {
	msg, err := NewMessage("file-parsing", map[string]string{"importJobId": "abc"})
	require.NoError(t, err)
	assert.Equal(t, "file-parsing", msg.Type)
	assert.JSONEq(t, `{"importJobId":"abc"}`, string(msg.Input))
	assert.NotEmpty(t, msg.ID)

	empty, err := NewMessage("cleanup-stuck-locks", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(empty.Input))
}

func TestMemoryDrainFollowsEnqueuedWork(t *testing.T) {
	ctx := context.Background()
	q := NewMemory()
	require.NoError(t, q.Enqueue(ctx, "first", nil))

	var seen []string
	handled, err := q.Drain(ctx, func(ctx context.Context, msg Message) error {
		seen = append(seen, msg.Type)
		if msg.Type == "first" {
			return q.Enqueue(ctx, "second", nil)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, handled)
	assert.Equal(t, []string{"first", "second"}, seen)
	assert.Len(t, q.Enqueued("second"), 1)
	assert.Zero(t, q.Len())
}

func TestMemoryDequeueTimesOut(t *testing.T) {
	q := NewMemory()
	_, err := q.Dequeue(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestPoolRetriesUntilMaxAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewMemory()
	require.NoError(t, q.Enqueue(ctx, "flaky", json.RawMessage(`{}`)))

	var (
		mu       sync.Mutex
		attempts []int
		done     = make(chan struct{})
	)
	handler := func(_ context.Context, msg Message) error {
		mu.Lock()
		defer mu.Unlock()
		attempts = append(attempts, msg.Attempt)
		if len(attempts) == 3 {
			close(done)
		}
		return errors.New("boom")
	}

	pool := NewPool(q, handler, PoolConfig{Workers: 1, MaxAttempts: 3, PollTimeout: 10 * time.Millisecond}, quietLogger())
	pool.Start(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not retried")
	}
	cancel()
	pool.Wait()

	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Zero(t, q.Len())
}

func TestPoolSkipsNonRetryable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewMemory()
	require.NoError(t, q.Enqueue(ctx, "fatal", nil))

	permanent := errors.New("permanent")
	calls := make(chan int, 4)
	handler := func(_ context.Context, msg Message) error {
		calls <- msg.Attempt
		return permanent
	}

	pool := NewPool(q, handler, PoolConfig{
		MaxAttempts: 5,
		PollTimeout: 10 * time.Millisecond,
		Retryable:   func(err error) bool { return !errors.Is(err, permanent) },
	}, quietLogger())
	pool.Start(ctx)

	assert.Equal(t, 1, <-calls)
	time.Sleep(50 * time.Millisecond)
	cancel()
	pool.Wait()

	assert.Empty(t, calls)
	assert.Zero(t, q.Len())
}

func TestRedisDefaultKey(t *testing.T) {
	assert.Equal(t, defaultQueueKey, NewRedis(nil, "").key)
	assert.Equal(t, "custom", NewRedis(nil, "custom").key)
}
