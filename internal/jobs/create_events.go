package jobs

import (
	"context"
	"fmt"
	"strings"

	"github.com/rpattn/eventingest/internal/domain"
	"github.com/rpattn/eventingest/internal/metrics"
	"github.com/rpattn/eventingest/internal/validation"

	"github.com/google/uuid"
)

// CreateEventsOutput reports the events written.
type CreateEventsOutput struct {
	EventsCreated int `json:"eventsCreated"`
	Skipped       int `json:"skipped"`
}

// CreateEvents writes every unique row as an event of the job's dataset and
// completes the job. Inserts are keyed on the row hash, so a redelivered task
// does not duplicate events.
func (p *Pipeline) CreateEvents(ctx context.Context, task Task) (Result, error) {
	if err := p.requireStore(); err != nil {
		return Result{}, err
	}
	var in JobInput
	if err := decodeInput(task, &in, "Import Job ID is required for event creation job"); err != nil {
		return Result{}, err
	}

	return p.withStageLock(ctx, in.ImportJobID, func() (Result, error) {
		job, err := p.store.Jobs.GetByID(ctx, in.ImportJobID)
		if err != nil {
			return Result{}, Permanent(fmt.Errorf("load import job %s: %w", in.ImportJobID, err))
		}
		if job.Stage != domain.StageCreateEvents {
			return skipped("import job is not at event creation"), nil
		}

		out, err := p.createEvents(ctx, job)
		if err != nil {
			return Result{}, p.fail(ctx, job.ID, contextEventCreation, err)
		}
		return Result{Output: out}, nil
	})
}

func (p *Pipeline) createEvents(ctx context.Context, job domain.ImportJob) (CreateEventsOutput, error) {
	if job.DatasetID == nil {
		return CreateEventsOutput{}, Permanent(fmt.Errorf("import job %s has no dataset", job.ID))
	}

	var out CreateEventsOutput
	for index := 0; index < job.BatchCount; index++ {
		batch, err := p.loadBatch(ctx, job.ID, index)
		if err != nil {
			return out, err
		}

		events := make([]domain.Event, 0, len(batch.Rows))
		for _, row := range batch.Rows {
			if row.Duplicate || row.Hash == "" {
				continue
			}
			events = append(events, p.buildEvent(job, row))
		}
		if len(events) == 0 {
			continue
		}

		inserted, err := p.store.Events.CreateBatch(ctx, events)
		if err != nil {
			return out, fmt.Errorf("create events for batch %d: %w", index, err)
		}
		out.EventsCreated += inserted
		out.Skipped += len(events) - inserted

		if _, err := p.deps.Progress.Advance(ctx, job.ID, domain.StageCreateEvents, len(events)); err != nil {
			return out, err
		}
	}

	now := p.now()
	if _, err := p.store.Jobs.Update(ctx, job.ID, func(j *domain.ImportJob) error {
		j.EventsCreated += out.EventsCreated
		j.Progress.CompleteStage(domain.StageCreateEvents, now)
		j.MoveTo(domain.StageCompleted)
		return nil
	}); err != nil {
		return out, err
	}
	metrics.AddEvents(out.EventsCreated)

	for index := 0; index < job.BatchCount; index++ {
		p.deleteBlob(ctx, domain.BatchStorageKey(job.ID, index))
	}
	if err := p.store.Jobs.ReleaseRowHashes(ctx, job.ID); err != nil {
		p.logger.WithError(err).WithField("import_job_id", job.ID).Warn("failed to release row hashes")
	}

	p.jobLogger(job.ID, domain.StageCreateEvents).WithField("events", out.EventsCreated).Info("import completed")
	return out, nil
}

func (p *Pipeline) buildEvent(job domain.ImportJob, row domain.BatchRow) domain.Event {
	detection := job.Detection
	event := domain.Event{
		ID:              uuid.New(),
		DatasetID:       *job.DatasetID,
		ImportJobID:     job.ID,
		SchemaVersionID: job.DatasetSchemaVersionID,
		ContentHash:     row.Hash,
		Data:            row.Data,
		Location:        row.Location,
		GeocodeSource:   row.GeocodeSource,
		CreatedAt:       p.now().UTC(),
	}
	if detection.TitleColumn != "" {
		if title, ok := row.Data[detection.TitleColumn].(string); ok {
			event.Title = strings.TrimSpace(title)
		}
	}
	if detection.TagsColumn != "" {
		event.Tags = validation.CoerceTags(row.Data[detection.TagsColumn])
	}
	if detection.DateColumn != "" {
		if ts, ok := validation.CoerceDate(row.Data[detection.DateColumn]); ok {
			ts = ts.UTC()
			event.EventTimestamp = &ts
		}
	}
	return event
}
