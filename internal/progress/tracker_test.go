package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rpattn/eventingest/internal/domain"
	"github.com/rpattn/eventingest/internal/repository/memrepo"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob(t *testing.T, jobs *memrepo.Jobs) domain.ImportJob {
	t.Helper()
	job := domain.NewImportJob(uuid.New(), uuid.New())
	job.RowsTotal = 200
	created, err := jobs.Create(context.Background(), job)
	require.NoError(t, err)
	return created
}

func TestTrackerStageLifecycle(t *testing.T) {
	ctx := context.Background()
	jobs := memrepo.NewJobs()
	fixed := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	tracker := NewTracker(jobs).WithClock(func() time.Time { return fixed })
	job := newJob(t, jobs)

	updated, err := tracker.StartStage(ctx, job.ID, domain.StageFileParsing, 200)
	require.NoError(t, err)
	sp := updated.Progress.Stages[domain.StageFileParsing]
	assert.Equal(t, domain.StageStateInProgress, sp.State)
	assert.Equal(t, 200, sp.Total)
	assert.Zero(t, sp.Processed)
	assert.Equal(t, fixed, *sp.StartedAt)
	assert.Equal(t, 200, updated.Progress.TotalRows)

	updated, err = tracker.Advance(ctx, job.ID, domain.StageFileParsing, 500)
	require.NoError(t, err)
	assert.Equal(t, 200, updated.Progress.Stages[domain.StageFileParsing].Processed)
	assert.Equal(t, float64(10), updated.Progress.Percentage)

	updated, err = tracker.CompleteStage(ctx, job.ID, domain.StageFileParsing)
	require.NoError(t, err)
	assert.Equal(t, domain.StageStateCompleted, updated.Progress.Stages[domain.StageFileParsing].State)

	updated, err = tracker.SkipStage(ctx, job.ID, domain.StageGeocodeBatch)
	require.NoError(t, err)
	assert.Equal(t, domain.StageStateSkipped, updated.Progress.Stages[domain.StageGeocodeBatch].State)
	assert.InDelta(t, 16.67, updated.Progress.Percentage, 0.001)
}

func TestTrackerAdvanceUnknownStage(t *testing.T) {
	jobs := memrepo.NewJobs()
	tracker := NewTracker(jobs)
	job := newJob(t, jobs)

	_, err := tracker.Advance(context.Background(), job.ID, domain.StageCreateEvents, 1)
	assert.ErrorIs(t, err, domain.ErrStageNotStarted)
}

func TestTrackerConcurrentAdvanceIsCommutative(t *testing.T) {
	ctx := context.Background()
	jobs := memrepo.NewJobs()
	tracker := NewTracker(jobs)
	job := newJob(t, jobs)

	_, err := tracker.StartStage(ctx, job.ID, domain.StageAnalyzeDuplicates, 200)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tracker.Advance(ctx, job.ID, domain.StageAnalyzeDuplicates, 10)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 200, stored.Progress.Stages[domain.StageAnalyzeDuplicates].Processed)
}
