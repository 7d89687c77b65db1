package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultQuotaPrefix = "eventingest:quota:"

// Redis keeps daily usage counters in Redis so every worker sees the same totals.
type Redis struct {
	client redis.UniversalClient
	limits Limits
	prefix string
	now    func() time.Time
}

// NewRedis builds a Redis-backed quota service.
func NewRedis(client redis.UniversalClient, limits Limits) *Redis {
	return &Redis{client: client, limits: limits, prefix: defaultQuotaPrefix, now: time.Now}
}

func (r *Redis) key(kind Kind, ownerID uuid.UUID) string {
	return fmt.Sprintf("%s%s:%s:%s", r.prefix, kind, ownerID, dayBucket(r.now()))
}

func (r *Redis) CheckQuota(ctx context.Context, kind Kind, ownerID uuid.UUID) (Status, error) {
	current, err := r.client.Get(ctx, r.key(kind, ownerID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Status{}, fmt.Errorf("read quota %s: %w", kind, err)
	}
	return newStatus(current, r.limits[kind]), nil
}

// IncrementUsage adds amount to today's counter. Counters expire after two days.
func (r *Redis) IncrementUsage(ctx context.Context, kind Kind, ownerID uuid.UUID, amount int64) error {
	key := r.key(kind, ownerID)
	pipe := r.client.TxPipeline()
	pipe.IncrBy(ctx, key, amount)
	pipe.Expire(ctx, key, 48*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("increment quota %s: %w", kind, err)
	}
	return nil
}
