package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/eventingest/internal/domain"
	"github.com/rpattn/eventingest/internal/repository"
	"github.com/rpattn/eventingest/internal/schemadetect"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ValidateSchemaOutput is the approval gate decision.
type ValidateSchemaOutput struct {
	RequiresApproval bool                  `json:"requiresApproval"`
	AutoApproved     bool                  `json:"autoApproved"`
	BreakingChanges  []domain.SchemaChange `json:"breakingChanges,omitempty"`
	NewFields        []string              `json:"newFields,omitempty"`
}

// ValidateSchema compares the detected schema with the dataset's latest
// version. Breaking changes park the job at await-approval unless the dataset
// auto-approves; otherwise schema version creation is enqueued.
func (p *Pipeline) ValidateSchema(ctx context.Context, task Task) (Result, error) {
	if err := p.requireStore(); err != nil {
		return Result{}, err
	}
	var in JobInput
	if err := decodeInput(task, &in, "Import Job ID is required for schema validation job"); err != nil {
		return Result{}, err
	}

	return p.withStageLock(ctx, in.ImportJobID, func() (Result, error) {
		job, err := p.store.Jobs.GetByID(ctx, in.ImportJobID)
		if err != nil {
			return Result{}, Permanent(fmt.Errorf("load import job %s: %w", in.ImportJobID, err))
		}
		switch {
		case job.IsTerminal():
			return skipped("import job already finished"), nil
		case !job.AllBatchesProcessed():
			return skipped("batches still pending"), nil
		case job.Stage != domain.StageDetectSchema && job.Stage != domain.StageValidateSchema:
			return skipped("schema already validated"), nil
		}

		out, err := p.validateSchema(ctx, job)
		if err != nil {
			return Result{}, p.fail(ctx, job.ID, contextSchemaValidation, err)
		}
		return Result{Output: out}, nil
	})
}

func (p *Pipeline) validateSchema(ctx context.Context, job domain.ImportJob) (ValidateSchemaOutput, error) {
	if job.DatasetID == nil {
		return ValidateSchemaOutput{}, Permanent(errors.New("import job has no dataset"))
	}
	dataset, err := p.store.Datasets.GetByID(ctx, *job.DatasetID)
	if err != nil {
		return ValidateSchemaOutput{}, fmt.Errorf("load dataset %s: %w", *job.DatasetID, err)
	}

	var previous *domain.SchemaVersion
	latest, err := p.deps.SchemaVersions.Latest(ctx, dataset.ID)
	switch {
	case err == nil:
		previous = &latest
	case !errors.Is(err, repository.ErrNotFound):
		return ValidateSchemaOutput{}, fmt.Errorf("load latest schema version: %w", err)
	}

	cmp := schemadetect.Compare(previous, job.SchemaSummary)
	requiresApproval := cmp.RequiresApproval && !dataset.AutoApproveSchema

	for _, change := range cmp.BreakingChanges {
		p.recordIssue(ctx, job.ID, domain.StageValidateSchema, nil, change.Message)
	}

	if _, err := p.store.Jobs.Update(ctx, job.ID, func(j *domain.ImportJob) error {
		j.MoveTo(domain.StageValidateSchema)
		j.SchemaValidation = domain.SchemaValidation{
			RequiresApproval: requiresApproval,
			Approved:         !requiresApproval,
			BreakingChanges:  cmp.BreakingChanges,
			NewFields:        cmp.NewFields,
		}
		if requiresApproval {
			j.MoveTo(domain.StageAwaitApproval)
		} else {
			j.MoveTo(domain.StageCreateSchemaVersion)
		}
		return nil
	}); err != nil {
		return ValidateSchemaOutput{}, err
	}

	logger := p.jobLogger(job.ID, domain.StageValidateSchema).WithFields(logrus.Fields{
		"dataset_id":       dataset.ID,
		"breaking_changes": len(cmp.BreakingChanges),
		"new_fields":       len(cmp.NewFields),
	})
	if requiresApproval {
		logger.Info("schema change awaiting approval")
	} else {
		if err := p.enqueue(ctx, TaskCreateSchemaVersion, JobInput{ImportJobID: job.ID}); err != nil {
			return ValidateSchemaOutput{}, err
		}
		logger.Info("schema auto-approved")
	}

	return ValidateSchemaOutput{
		RequiresApproval: requiresApproval,
		AutoApproved:     !requiresApproval,
		BreakingChanges:  cmp.BreakingChanges,
		NewFields:        cmp.NewFields,
	}, nil
}

// ApproveSchema records a human approval of a parked schema change and
// enqueues schema version creation.
func (p *Pipeline) ApproveSchema(ctx context.Context, jobID, approverID uuid.UUID) (domain.ImportJob, error) {
	if err := p.requireStore(); err != nil {
		return domain.ImportJob{}, err
	}
	if approverID == uuid.Nil {
		return domain.ImportJob{}, errors.New("approver is required to approve a schema change")
	}

	var job domain.ImportJob
	_, err := p.withStageLock(ctx, jobID, func() (Result, error) {
		now := p.now().UTC()
		updated, err := p.store.Jobs.Update(ctx, jobID, func(j *domain.ImportJob) error {
			if j.Stage != domain.StageAwaitApproval || !j.RequiresPendingApproval() {
				return ErrNotAwaitingApproval
			}
			approver := approverID
			j.SchemaValidation.Approved = true
			j.SchemaValidation.ApprovedBy = &approver
			j.SchemaValidation.ApprovedAt = &now
			j.MoveTo(domain.StageCreateSchemaVersion)
			return nil
		})
		if err != nil {
			return Result{}, err
		}
		job = updated
		return Result{}, p.enqueue(ctx, TaskCreateSchemaVersion, JobInput{ImportJobID: jobID})
	})
	if err != nil {
		return domain.ImportJob{}, err
	}

	p.jobLogger(jobID, domain.StageAwaitApproval).WithField("approved_by", approverID).Info("schema change approved")
	return job, nil
}
