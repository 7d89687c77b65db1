package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/eventingest/internal/domain"
	"github.com/rpattn/eventingest/internal/metrics"
)

// CleanupOutput reports released locks.
type CleanupOutput struct {
	TransitionLocksCleaned int `json:"transitionLocksCleaned"`
	TotalCleaned           int `json:"totalCleaned"`
}

// Cleanup releases every stage transition lock. It takes no input.
func (p *Pipeline) Cleanup(ctx context.Context, _ Task) (Result, error) {
	cleared, err := p.deps.Locks.ClearAll(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("clear stage locks: %w", err)
	}
	metrics.AddLocksCleared(cleared)
	p.logger.WithField("task", TaskCleanupStuckLocks).WithField("cleared", cleared).Info("stage locks cleared")
	return Result{Output: CleanupOutput{TransitionLocksCleaned: cleared, TotalCleaned: cleared}}, nil
}

// FailStaleJobs fails every unfinished job that has not been updated since
// olderThan and returns how many were failed. Jobs parked at the approval
// gate wait on a person and are left alone.
func (p *Pipeline) FailStaleJobs(ctx context.Context, olderThan time.Time) (int, error) {
	if err := p.requireStore(); err != nil {
		return 0, err
	}
	stale, err := p.store.Jobs.ListStale(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("list stale jobs: %w", err)
	}

	failed := 0
	for _, job := range stale {
		if job.Stage == domain.StageAwaitApproval {
			continue
		}
		cause := fmt.Errorf("no progress at stage %s since %s", job.Stage, job.UpdatedAt.UTC().Format(time.RFC3339))
		_ = p.fail(ctx, job.ID, contextStaleJobMaintenance, cause)
		failed++
	}
	return failed, nil
}
