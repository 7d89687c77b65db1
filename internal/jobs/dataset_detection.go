package jobs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rpattn/eventingest/internal/domain"
	"github.com/rpattn/eventingest/internal/repository"

	"github.com/google/uuid"
)

// DatasetDetectionInput names the file whose dataset and import job are resolved.
type DatasetDetectionInput struct {
	ImportFileID uuid.UUID  `json:"importFileId" validate:"required"`
	DatasetID    *uuid.UUID `json:"datasetId,omitempty"`
	DatasetName  string     `json:"datasetName,omitempty"`
}

// DatasetDetectionOutput reports the resolved records.
type DatasetDetectionOutput struct {
	ImportJobID uuid.UUID `json:"importJobId"`
	DatasetID   uuid.UUID `json:"datasetId"`
	CreatedJob  bool      `json:"createdJob"`
}

// DatasetDetection resolves or creates the dataset for a file, creates the
// import job when none exists and enqueues file parsing.
func (p *Pipeline) DatasetDetection(ctx context.Context, task Task) (Result, error) {
	if err := p.requireStore(); err != nil {
		return Result{}, err
	}
	var in DatasetDetectionInput
	if err := decodeInput(task, &in, "Import File ID is required for dataset detection job"); err != nil {
		return Result{}, err
	}

	file, err := p.store.Files.GetByID(ctx, in.ImportFileID)
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("load import file %s: %w", in.ImportFileID, err))
	}

	job, created, err := p.findOrCreateJob(ctx, file)
	if err != nil {
		return Result{}, err
	}
	if job.IsTerminal() || job.DatasetID != nil {
		return skipped("dataset already resolved"), nil
	}

	return p.withStageLock(ctx, job.ID, func() (Result, error) {
		dataset, err := p.resolveDataset(ctx, file, in)
		if err != nil {
			return Result{}, p.fail(ctx, job.ID, contextDatasetDetection, err)
		}

		if _, err := p.store.Jobs.Update(ctx, job.ID, func(j *domain.ImportJob) error {
			id := dataset.ID
			j.DatasetID = &id
			j.MoveTo(domain.StageDatasetDetection)
			return nil
		}); err != nil {
			return Result{}, p.fail(ctx, job.ID, contextDatasetDetection, err)
		}

		if err := p.enqueue(ctx, TaskFileParsing, JobInput{ImportJobID: job.ID}); err != nil {
			return Result{}, p.fail(ctx, job.ID, contextDatasetDetection, err)
		}

		p.jobLogger(job.ID, domain.StageDatasetDetection).WithField("dataset_id", dataset.ID).Info("dataset resolved")
		return Result{Output: DatasetDetectionOutput{ImportJobID: job.ID, DatasetID: dataset.ID, CreatedJob: created}}, nil
	})
}

func (p *Pipeline) findOrCreateJob(ctx context.Context, file domain.ImportFile) (domain.ImportJob, bool, error) {
	job, err := p.store.Jobs.FindByImportFile(ctx, file.ID)
	if err == nil {
		return job, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return domain.ImportJob{}, false, fmt.Errorf("find import job: %w", err)
	}

	job = domain.NewImportJob(file.ID, file.CatalogID)
	job.CreatedAt = p.now().UTC()
	job.UpdatedAt = job.CreatedAt
	created, err := p.store.Jobs.Create(ctx, job)
	if err != nil {
		// A concurrent detection may have created it first.
		if existing, findErr := p.store.Jobs.FindByImportFile(ctx, file.ID); findErr == nil {
			return existing, false, nil
		}
		return domain.ImportJob{}, false, fmt.Errorf("create import job: %w", err)
	}
	return created, true, nil
}

func (p *Pipeline) resolveDataset(ctx context.Context, file domain.ImportFile, in DatasetDetectionInput) (domain.Dataset, error) {
	datasetID := in.DatasetID
	if datasetID == nil {
		datasetID = file.DatasetID
	}
	if datasetID != nil {
		dataset, err := p.store.Datasets.GetByID(ctx, *datasetID)
		if err != nil {
			return domain.Dataset{}, Permanent(fmt.Errorf("load dataset %s: %w", *datasetID, err))
		}
		if dataset.CatalogID != file.CatalogID {
			return domain.Dataset{}, Permanent(fmt.Errorf("dataset %s does not belong to catalog %s", dataset.ID, file.CatalogID))
		}
		return dataset, nil
	}

	name := strings.TrimSpace(in.DatasetName)
	if name == "" {
		name = DatasetNameFromFile(file.OriginalName)
	}
	dataset, err := p.store.Datasets.FindOrCreate(ctx, file.CatalogID, name)
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("resolve dataset %q: %w", name, err)
	}
	return dataset, nil
}

// DatasetNameFromFile derives a dataset name from a file name by dropping
// directories and the extension.
func DatasetNameFromFile(fileName string) string {
	base := filepath.Base(strings.ReplaceAll(fileName, "\\", "/"))
	name := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if name == "" || name == "." || name == "/" {
		return "Imported events"
	}
	return name
}
