package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rpattn/eventingest/internal/domain"
	"github.com/rpattn/eventingest/internal/logging"
	"github.com/rpattn/eventingest/internal/stagelock"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanupClearsEveryStageLock(t *testing.T) {
	locks := stagelock.NewMemory()
	ctx := context.Background()
	for range 5 {
		ok, err := locks.TryAcquire(ctx, uuid.New())
		require.NoError(t, err)
		require.True(t, ok)
	}

	// Cleanup needs no store.
	p := NewPipeline(Deps{Locks: locks, Logger: logging.Discard()})

	result, err := p.Cleanup(ctx, Task{Type: TaskCleanupStuckLocks})
	require.NoError(t, err)
	assert.Equal(t, CleanupOutput{TransitionLocksCleaned: 5, TotalCleaned: 5}, result.Output)

	raw, err := json.Marshal(result.Output)
	require.NoError(t, err)
	var keys map[string]int
	require.NoError(t, json.Unmarshal(raw, &keys))
	assert.Equal(t, map[string]int{"transitionLocksCleaned": 5, "totalCleaned": 5}, keys)

	result, err = p.Cleanup(ctx, Task{Type: TaskCleanupStuckLocks})
	require.NoError(t, err)
	assert.Equal(t, CleanupOutput{}, result.Output)
}

func TestRegistryDispatchesCleanup(t *testing.T) {
	h := newHarness(t)
	ok, err := h.locks.TryAcquire(context.Background(), uuid.New())
	require.NoError(t, err)
	require.True(t, ok)

	result, err := h.registry.Dispatch(context.Background(), Task{Type: TaskCleanupStuckLocks})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Output.(CleanupOutput).TotalCleaned)

	_, err = h.registry.Dispatch(context.Background(), Task{Type: "resize-images"})
	assert.ErrorIs(t, err, ErrUnknownTask)
	assert.True(t, IsPermanent(err))
}

func TestFailStaleJobsLeavesApprovalGateAlone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stuck := domain.NewImportJob(uuid.New(), h.catalog.ID)
	stuck.MoveTo(domain.StageGeocodeBatch)
	stuck, err := h.store.Jobs.Create(ctx, stuck)
	require.NoError(t, err)

	parked := domain.NewImportJob(uuid.New(), h.catalog.ID)
	parked.MoveTo(domain.StageAwaitApproval)
	parked, err = h.store.Jobs.Create(ctx, parked)
	require.NoError(t, err)

	failed, err := h.pipeline.FailStaleJobs(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	got, err := h.store.Jobs.GetByID(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageFailed, got.Stage)
	require.NotNil(t, got.ErrorLog)
	assert.Equal(t, "maintenance", got.ErrorLog.Context)

	got, err = h.store.Jobs.GetByID(ctx, parked.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageAwaitApproval, got.Stage)
}
