package quota

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQuotaExhausts(t *testing.T) {
	ctx := context.Background()
	owner := uuid.New()
	svc := NewMemory(Limits{KindURLImports: 2})

	status, err := svc.CheckQuota(ctx, KindURLImports, owner)
	require.NoError(t, err)
	assert.Equal(t, Status{Allowed: true, Current: 0, Limit: 2, Remaining: 2}, status)

	require.NoError(t, svc.IncrementUsage(ctx, KindURLImports, owner, 1))
	require.NoError(t, svc.IncrementUsage(ctx, KindURLImports, owner, 1))

	status, err = svc.CheckQuota(ctx, KindURLImports, owner)
	require.NoError(t, err)
	assert.False(t, status.Allowed)
	assert.Zero(t, status.Remaining)

	other, err := svc.CheckQuota(ctx, KindURLImports, uuid.New())
	require.NoError(t, err)
	assert.True(t, other.Allowed)
}

func TestMemoryQuotaResetsDaily(t *testing.T) {
	ctx := context.Background()
	owner := uuid.New()
	svc := NewMemory(Limits{KindURLImports: 1})
	day := time.Date(2024, 3, 15, 23, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return day }

	require.NoError(t, svc.IncrementUsage(ctx, KindURLImports, owner, 1))
	status, _ := svc.CheckQuota(ctx, KindURLImports, owner)
	assert.False(t, status.Allowed)

	day = day.Add(2 * time.Hour)
	status, _ = svc.CheckQuota(ctx, KindURLImports, owner)
	assert.True(t, status.Allowed)
}

func TestUnlimitedAndZeroLimit(t *testing.T) {
	ctx := context.Background()
	status, err := Unlimited{}.CheckQuota(ctx, KindFileBytes, uuid.New())
	require.NoError(t, err)
	assert.True(t, status.Allowed)

	svc := NewMemory(nil)
	require.NoError(t, svc.IncrementUsage(ctx, KindFileBytes, uuid.Nil, 1<<30))
	status, err = svc.CheckQuota(ctx, KindFileBytes, uuid.Nil)
	require.NoError(t, err)
	assert.True(t, status.Allowed)
}

func TestExceededWrapsSentinel(t *testing.T) {
	err := Exceeded(KindURLImports, Status{Current: 3, Limit: 3})
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Contains(t, err.Error(), "used 3 of 3")
}

func TestRedisKeyIsDayBucketed(t *testing.T) {
	svc := NewRedis(nil, Limits{})
	svc.now = func() time.Time { return time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC) }
	owner := uuid.New()
	assert.Equal(t, "eventingest:quota:url-imports-per-day:"+owner.String()+":20240315", svc.key(KindURLImports, owner))
}
