package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/eventingest/internal/domain"
	"github.com/rpattn/eventingest/internal/metrics"
	"github.com/rpattn/eventingest/internal/progress"
	"github.com/rpattn/eventingest/internal/schemadetect"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ProcessBatchInput addresses one stored batch.
type ProcessBatchInput struct {
	ImportJobID uuid.UUID `json:"importJobId" validate:"required"`
	BatchIndex  *int      `json:"batchIndex" validate:"required,gte=0"`
}

// ProcessBatchOutput reports what one batch contributed.
type ProcessBatchOutput struct {
	BatchIndex         int  `json:"batchIndex"`
	Processed          int  `json:"processed"`
	Unique             int  `json:"unique"`
	InternalDuplicates int  `json:"internalDuplicates"`
	ExternalDuplicates int  `json:"externalDuplicates"`
	Errors             int  `json:"errors"`
	LastBatch          bool `json:"lastBatch"`
}

var errBatchAlreadyFolded = errors.New("batch already folded")

// ProcessBatch hashes the rows of one batch, flags duplicates within the
// import and against the dataset's stored events, profiles the fields and
// folds the counts into the job. Batches may run concurrently in any order;
// the one that completes the set enqueues schema validation.
func (p *Pipeline) ProcessBatch(ctx context.Context, task Task) (Result, error) {
	if err := p.requireStore(); err != nil {
		return Result{}, err
	}
	var in ProcessBatchInput
	if err := decodeInput(task, &in, "Import Job ID and batch index are required for batch processing job"); err != nil {
		return Result{}, err
	}

	job, err := p.store.Jobs.GetByID(ctx, in.ImportJobID)
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("load import job %s: %w", in.ImportJobID, err))
	}
	if job.IsTerminal() {
		return skipped("import job already finished"), nil
	}
	if job.BatchProcessed(*in.BatchIndex) {
		return skipped("batch already processed"), nil
	}

	out, err := p.processBatch(ctx, job, *in.BatchIndex)
	if errors.Is(err, errBatchAlreadyFolded) {
		return skipped("batch already processed"), nil
	}
	if err != nil {
		return Result{}, p.fail(ctx, job.ID, contextBatchProcessing, err)
	}
	return Result{Output: out}, nil
}

func (p *Pipeline) processBatch(ctx context.Context, job domain.ImportJob, index int) (ProcessBatchOutput, error) {
	batch, err := p.loadBatch(ctx, job.ID, index)
	if err != nil {
		return ProcessBatchOutput{}, err
	}

	out := ProcessBatchOutput{BatchIndex: index, Processed: len(batch.Rows)}

	hashes := make([]string, 0, len(batch.Rows))
	seen := make(map[string]struct{}, len(batch.Rows))
	for i := range batch.Rows {
		row := &batch.Rows[i]
		hash, err := domain.HashRow(row.Data)
		if err != nil {
			out.Errors++
			rowNumber := row.Index + 1
			p.recordIssue(ctx, job.ID, domain.StageAnalyzeDuplicates, &rowNumber, err.Error())
			continue
		}
		row.Hash = hash
		if _, dup := seen[hash]; dup {
			row.Duplicate = true
			out.InternalDuplicates++
			continue
		}
		seen[hash] = struct{}{}
		hashes = append(hashes, hash)
	}

	claimed, err := p.store.Jobs.ClaimRowHashes(ctx, job.ID, index, hashes)
	if err != nil {
		return ProcessBatchOutput{}, fmt.Errorf("claim row hashes: %w", err)
	}
	var external map[string]struct{}
	if job.DatasetID != nil {
		external, err = p.store.Events.ExistingHashes(ctx, *job.DatasetID, hashes)
		if err != nil {
			return ProcessBatchOutput{}, fmt.Errorf("check existing events: %w", err)
		}
	}

	var profiled []domain.Row
	for i := range batch.Rows {
		row := &batch.Rows[i]
		if row.Hash == "" || row.Duplicate {
			continue
		}
		if _, ok := claimed[row.Hash]; ok {
			row.Duplicate = true
			out.InternalDuplicates++
			continue
		}
		if _, ok := external[row.Hash]; ok {
			row.Duplicate = true
			out.ExternalDuplicates++
			continue
		}
		out.Unique++
		profiled = append(profiled, row.Data)
	}

	batch.Processed = out.Processed
	batch.Duplicates = out.InternalDuplicates + out.ExternalDuplicates
	batch.Errors = out.Errors
	if err := p.saveBatch(ctx, batch); err != nil {
		return ProcessBatchOutput{}, err
	}

	summary := schemadetect.Summarize(profiled)
	now := p.now()
	updated, err := p.store.Jobs.Update(ctx, job.ID, func(j *domain.ImportJob) error {
		if j.BatchProcessed(index) {
			return errBatchAlreadyFolded
		}
		j.ProcessedBatches = append(j.ProcessedBatches, index)
		j.BatchesCompleted++
		j.RowsProcessed += out.Processed
		j.Duplicates.Summary.UniqueRows += out.Unique
		j.Duplicates.Summary.InternalDuplicates += out.InternalDuplicates
		j.Duplicates.Summary.ExternalDuplicates += out.ExternalDuplicates
		j.SchemaSummary = schemadetect.Merge(j.SchemaSummary, summary)

		if err := j.Progress.Advance(domain.StageAnalyzeDuplicates, out.Processed); err != nil {
			return err
		}
		if err := j.Progress.Advance(domain.StageDetectSchema, out.Processed); err != nil {
			return err
		}
		if j.AllBatchesProcessed() {
			j.Progress.CompleteStage(domain.StageAnalyzeDuplicates, now)
			j.Progress.CompleteStage(domain.StageDetectSchema, now)
			j.MoveTo(domain.StageDetectSchema)
		}
		progress.SyncRows(j)
		return nil
	})
	if err != nil {
		return ProcessBatchOutput{}, err
	}

	metrics.AddRows("unique", out.Unique)
	metrics.AddRows("duplicate", out.InternalDuplicates+out.ExternalDuplicates)
	metrics.AddRows("error", out.Errors)

	out.LastBatch = updated.AllBatchesProcessed()
	if out.LastBatch {
		if err := p.enqueue(ctx, TaskValidateSchema, JobInput{ImportJobID: job.ID}); err != nil {
			return ProcessBatchOutput{}, err
		}
	}

	p.jobLogger(job.ID, domain.StageAnalyzeDuplicates).WithFields(logrus.Fields{
		"batch":      index,
		"unique":     out.Unique,
		"duplicates": out.InternalDuplicates + out.ExternalDuplicates,
	}).Debug("batch processed")
	return out, nil
}
