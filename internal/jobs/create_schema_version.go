package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/eventingest/internal/domain"
	"github.com/rpattn/eventingest/internal/schemadetect"
	"github.com/rpattn/eventingest/internal/schemaversion"

	"github.com/google/uuid"
)

// CreateSchemaVersionOutput names the version attached to the job.
type CreateSchemaVersionOutput struct {
	SchemaVersionID uuid.UUID `json:"schemaVersionId"`
	Version         int       `json:"version"`
	AutoApproved    bool      `json:"autoApproved"`
}

// CreateSchemaVersion snapshots the detected schema as the dataset's next
// version, attaches it to the job and moves on to geocoding. It skips jobs
// that already carry a version or still await approval. Failures mark the
// job failed and are returned so the dispatcher may redeliver; a redelivery
// that succeeds moves the failed job on and clears its error log.
func (p *Pipeline) CreateSchemaVersion(ctx context.Context, task Task) (Result, error) {
	if err := p.requireStore(); err != nil {
		return Result{}, err
	}
	var in JobInput
	if err := decodeInput(task, &in, "Import Job ID is required for schema version creation job"); err != nil {
		return Result{}, err
	}

	job, err := p.store.Jobs.GetByID(ctx, in.ImportJobID)
	if err != nil {
		return Result{}, p.fail(ctx, in.ImportJobID, contextSchemaVersion, fmt.Errorf("load import job %s: %w", in.ImportJobID, err))
	}
	if job.HasSchemaVersion() {
		return skipped("schema version already attached"), nil
	}
	if job.RequiresPendingApproval() {
		return skipped("schema change awaiting approval"), nil
	}

	return p.withStageLock(ctx, job.ID, func() (Result, error) {
		out, err := p.createSchemaVersion(ctx, job.ID)
		if err != nil {
			return Result{}, p.fail(ctx, job.ID, contextSchemaVersion, err)
		}
		if out == nil {
			return skipped("schema version already attached"), nil
		}
		return Result{Output: *out}, nil
	})
}

func (p *Pipeline) createSchemaVersion(ctx context.Context, jobID uuid.UUID) (*CreateSchemaVersionOutput, error) {
	job, err := p.deps.Progress.StartStage(ctx, jobID, domain.StageCreateSchemaVersion, 1)
	if err != nil {
		return nil, err
	}
	if job.HasSchemaVersion() {
		return nil, nil
	}
	if job.DatasetID == nil {
		return nil, errors.New("import job has no dataset")
	}

	autoApproved := !job.SchemaValidation.RequiresApproval
	var approvedBy *uuid.UUID
	if !autoApproved {
		approvedBy = job.SchemaValidation.ApprovedBy
	}

	version, err := p.deps.SchemaVersions.CreateSchemaVersion(ctx, schemaversion.CreateRequest{
		DatasetID:     *job.DatasetID,
		Schema:        schemadetect.Definitions(job.SchemaSummary, job.Headers, job.Duplicates.Summary.UniqueRows),
		FieldMetadata: job.SchemaSummary,
		FieldMappings: schemadetect.Mappings(job.Detection, job.Headers),
		AutoApproved:  autoApproved,
		ApprovedBy:    approvedBy,
		Sources:       []uuid.UUID{job.ImportFileID},
	})
	if err != nil {
		return nil, err
	}

	now := p.now()
	if _, err := p.store.Jobs.Update(ctx, jobID, func(j *domain.ImportJob) error {
		if err := j.AttachSchemaVersion(version.ID); err != nil {
			return err
		}
		j.Progress.CompleteStage(domain.StageCreateSchemaVersion, now)
		j.Progress.StartStage(domain.StageGeocodeBatch, j.Duplicates.Summary.UniqueRows, now)
		j.MoveTo(domain.StageGeocodeBatch)
		j.ErrorLog = nil
		return nil
	}); err != nil {
		return nil, err
	}

	if err := p.enqueue(ctx, TaskGeocodeBatch, JobInput{ImportJobID: jobID}); err != nil {
		return nil, err
	}

	return &CreateSchemaVersionOutput{
		SchemaVersionID: version.ID,
		Version:         version.Version,
		AutoApproved:    version.AutoApproved,
	}, nil
}
