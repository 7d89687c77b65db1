package stagelock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "eventingest:stagelock:"
	defaultTTL       = 10 * time.Minute
	scanBatch        = 200
)

// releaseScript deletes the key only while it still carries our owner token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker backed by expiring Redis keys, shared by every worker
// pointing at the same instance. Each lock carries an owner token so a lease
// that expired and was taken over cannot be released by the previous holder.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	owner  string

	mu     sync.Mutex
	tokens map[uuid.UUID]string
}

// RedisOption customises a Redis locker.
type RedisOption func(*Redis)

// WithKeyPrefix overrides the key namespace.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithTTL overrides the lease duration.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// NewRedis builds a distributed locker.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: defaultKeyPrefix,
		ttl:    defaultTTL,
		owner:  uuid.NewString(),
		tokens: make(map[uuid.UUID]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) key(jobID uuid.UUID) string {
	return r.prefix + jobID.String()
}

func (r *Redis) TryAcquire(ctx context.Context, jobID uuid.UUID) (bool, error) {
	token := r.owner + ":" + uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.key(jobID), token, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire stage lock %s: %w", jobID, err)
	}
	if ok {
		r.mu.Lock()
		r.tokens[jobID] = token
		r.mu.Unlock()
	}
	return ok, nil
}

func (r *Redis) Release(ctx context.Context, jobID uuid.UUID) error {
	r.mu.Lock()
	token, ok := r.tokens[jobID]
	delete(r.tokens, jobID)
	r.mu.Unlock()
	if !ok {
		return nil
	}

	err := releaseScript.Run(ctx, r.client, []string{r.key(jobID)}, token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release stage lock %s: %w", jobID, err)
	}
	return nil
}

func (r *Redis) ClearAll(ctx context.Context) (int, error) {
	var (
		cursor  uint64
		cleared int
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", scanBatch).Result()
		if err != nil {
			return cleared, fmt.Errorf("scan stage locks: %w", err)
		}
		if len(keys) > 0 {
			deleted, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				return cleared, fmt.Errorf("clear stage locks: %w", err)
			}
			cleared += int(deleted)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	r.mu.Lock()
	r.tokens = make(map[uuid.UUID]string)
	r.mu.Unlock()
	return cleared, nil
}
