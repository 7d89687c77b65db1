package stagelock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTryAcquireIsExclusive(t *testing.T) {
	ctx := context.Background()
	locks := NewMemory()
	jobID := uuid.New()

	var (
		wg       sync.WaitGroup
		acquired atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := locks.TryAcquire(ctx, jobID)
			assert.NoError(t, err)
			if ok {
				acquired.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, acquired.Load())
	assert.True(t, locks.Held(jobID))
}

func TestMemoryReleaseAllowsReacquire(t *testing.T) {
	ctx := context.Background()
	locks := NewMemory()
	jobID := uuid.New()

	ok, err := locks.TryAcquire(ctx, jobID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = locks.TryAcquire(ctx, jobID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, locks.Release(ctx, jobID))
	require.NoError(t, locks.Release(ctx, jobID))
	require.NoError(t, locks.Release(ctx, uuid.New()))

	ok, err = locks.TryAcquire(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryClearAllCountsLocks(t *testing.T) {
	ctx := context.Background()
	locks := NewMemory()
	for i := 0; i < 5; i++ {
		ok, err := locks.TryAcquire(ctx, uuid.New())
		require.NoError(t, err)
		require.True(t, ok)
	}

	cleared, err := locks.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, cleared)

	cleared, err = locks.ClearAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, cleared)
}

func TestRedisOptions(t *testing.T) {
	locker := NewRedis(nil, WithKeyPrefix("test:"), WithTTL(0))
	jobID := uuid.New()

	assert.Equal(t, "test:"+jobID.String(), locker.key(jobID))
	assert.Equal(t, defaultTTL, locker.ttl)
}

func TestRedisReleaseWithoutTokenIsNoop(t *testing.T) {
	locker := NewRedis(nil)
	assert.NoError(t, locker.Release(context.Background(), uuid.New()))
}
