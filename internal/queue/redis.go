package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultQueueKey = "eventingest:tasks"

// Redis is a list-backed queue. Producers LPUSH and consumers BRPOP, giving FIFO delivery.
type Redis struct {
	client redis.UniversalClient
	key    string
}

// NewRedis builds a queue on the given list key. An empty key selects the default.
func NewRedis(client redis.UniversalClient, key string) *Redis {
	if key == "" {
		key = defaultQueueKey
	}
	return &Redis{client: client, key: key}
}

func (r *Redis) Enqueue(ctx context.Context, taskType string, input any) error {
	msg, err := NewMessage(taskType, input)
	if err != nil {
		return err
	}
	return r.push(ctx, msg)
}

func (r *Redis) Requeue(ctx context.Context, msg Message) error {
	return r.push(ctx, msg)
}

func (r *Redis) push(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", msg.ID, err)
	}
	if err := r.client.LPush(ctx, r.key, payload).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", msg.Type, err)
	}
	return nil
}

func (r *Redis) Dequeue(ctx context.Context, timeout time.Duration) (Message, error) {
	res, err := r.client.BRPop(ctx, timeout, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return Message{}, ErrEmpty
	}
	if err != nil {
		return Message{}, fmt.Errorf("dequeue: %w", err)
	}
	if len(res) < 2 {
		return Message{}, ErrEmpty
	}

	var msg Message
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}

// Len reports the queue length.
func (r *Redis) Len(ctx context.Context) (int64, error) {
	return r.client.LLen(ctx, r.key).Result()
}
