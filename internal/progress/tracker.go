// Package progress persists per-stage progress on import jobs.
package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/eventingest/internal/domain"
	"github.com/rpattn/eventingest/internal/repository"

	"github.com/google/uuid"
)

// Tracker applies stage lifecycle changes to the persisted import job.
type Tracker struct {
	jobs repository.ImportJobRepository
	now  func() time.Time
}

// NewTracker builds a tracker writing through jobs.
func NewTracker(jobs repository.ImportJobRepository) *Tracker {
	return &Tracker{jobs: jobs, now: time.Now}
}

// WithClock overrides the time source.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// StartStage initializes the stage with processed=0 and the given total.
func (t *Tracker) StartStage(ctx context.Context, jobID uuid.UUID, stage domain.Stage, total int) (domain.ImportJob, error) {
	return t.apply(ctx, jobID, func(p *domain.Progress) error {
		p.StartStage(stage, total, t.now())
		return nil
	})
}

// Advance adds delta processed units to the stage.
func (t *Tracker) Advance(ctx context.Context, jobID uuid.UUID, stage domain.Stage, delta int) (domain.ImportJob, error) {
	return t.apply(ctx, jobID, func(p *domain.Progress) error {
		return p.Advance(stage, delta)
	})
}

// CompleteStage marks the stage done.
func (t *Tracker) CompleteStage(ctx context.Context, jobID uuid.UUID, stage domain.Stage) (domain.ImportJob, error) {
	return t.apply(ctx, jobID, func(p *domain.Progress) error {
		p.CompleteStage(stage, t.now())
		return nil
	})
}

// SkipStage marks the stage skipped so it carries no weight.
func (t *Tracker) SkipStage(ctx context.Context, jobID uuid.UUID, stage domain.Stage) (domain.ImportJob, error) {
	return t.apply(ctx, jobID, func(p *domain.Progress) error {
		p.SkipStage(stage, t.now())
		return nil
	})
}

func (t *Tracker) apply(ctx context.Context, jobID uuid.UUID, fn func(p *domain.Progress) error) (domain.ImportJob, error) {
	job, err := t.jobs.Update(ctx, jobID, func(job *domain.ImportJob) error {
		if err := fn(&job.Progress); err != nil {
			return err
		}
		SyncRows(job)
		return nil
	})
	if err != nil {
		return domain.ImportJob{}, fmt.Errorf("update progress for job %s: %w", jobID, err)
	}
	return job, nil
}

// SyncRows copies the job row counters into its progress record.
func SyncRows(job *domain.ImportJob) {
	job.Progress.TotalRows = job.RowsTotal
	job.Progress.ProcessedRows = job.RowsProcessed
}
