package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rpattn/eventingest/internal/domain"
	"github.com/rpattn/eventingest/internal/parsing"
	"github.com/rpattn/eventingest/internal/progress"
	"github.com/rpattn/eventingest/internal/schemadetect"
	"github.com/rpattn/eventingest/internal/validation"

	"github.com/google/uuid"
)

// FileParsingOutput summarises a parsed file.
type FileParsingOutput struct {
	ImportJobID uuid.UUID              `json:"importJobId"`
	RowCount    int                    `json:"rowCount"`
	BatchCount  int                    `json:"batchCount"`
	Detection   domain.ColumnDetection `json:"detection"`
	Warnings    []string               `json:"warnings,omitempty"`
}

// FileParsing parses and validates the raw file, records detection results,
// writes row batches to blob storage and enqueues one process-batch task per
// batch. The raw payload is deleted afterwards on a best-effort basis.
func (p *Pipeline) FileParsing(ctx context.Context, task Task) (Result, error) {
	if err := p.requireStore(); err != nil {
		return Result{}, err
	}
	var in JobInput
	if err := decodeInput(task, &in, "Import Job ID is required for file parsing job"); err != nil {
		return Result{}, err
	}

	return p.withStageLock(ctx, in.ImportJobID, func() (Result, error) {
		job, err := p.store.Jobs.GetByID(ctx, in.ImportJobID)
		if err != nil {
			return Result{}, Permanent(fmt.Errorf("load import job %s: %w", in.ImportJobID, err))
		}
		if job.IsTerminal() {
			return skipped("import job already finished"), nil
		}
		if job.BatchCount > 0 {
			return skipped("file already parsed"), nil
		}

		out, err := p.parseFile(ctx, job)
		if err != nil {
			return Result{}, p.fail(ctx, job.ID, contextFileParsing, err)
		}
		return Result{Output: out}, nil
	})
}

func (p *Pipeline) parseFile(ctx context.Context, job domain.ImportJob) (FileParsingOutput, error) {
	logger := p.jobLogger(job.ID, domain.StageFileParsing)

	if _, err := p.store.Jobs.Update(ctx, job.ID, func(j *domain.ImportJob) error {
		j.MoveTo(domain.StageFileParsing)
		return nil
	}); err != nil {
		return FileParsingOutput{}, err
	}
	if _, err := p.deps.Progress.StartStage(ctx, job.ID, domain.StageFileParsing, 1); err != nil {
		return FileParsingOutput{}, err
	}

	file, err := p.store.Files.GetByID(ctx, job.ImportFileID)
	if err != nil {
		return FileParsingOutput{}, Permanent(fmt.Errorf("load import file %s: %w", job.ImportFileID, err))
	}
	payload, err := p.deps.Blobs.Get(ctx, file.StorageKey)
	if err != nil {
		return FileParsingOutput{}, fmt.Errorf("load raw file: %w", err)
	}

	fileType, err := parsing.DetectFileType(file.OriginalName, file.MimeType)
	if err != nil {
		return FileParsingOutput{}, Permanent(err)
	}
	table, err := parsing.Parse(payload, fileType)
	if err != nil {
		var parseErr *parsing.ParseError
		if errors.As(err, &parseErr) {
			return FileParsingOutput{}, Permanent(err)
		}
		return FileParsingOutput{}, err
	}

	check := validation.ValidateRows(table.Rows)
	if !check.IsValid {
		return FileParsingOutput{}, Permanent(fmt.Errorf("file validation failed: %s", strings.Join(check.Errors, "; ")))
	}
	warnings := append(append([]string{}, check.Errors...), check.Warnings...)
	for _, message := range warnings {
		p.recordIssue(ctx, job.ID, domain.StageFileParsing, nil, message)
	}
	for _, warning := range table.Warnings {
		row := warning.Row
		p.recordIssue(ctx, job.ID, domain.StageFileParsing, &row, warning.Message)
	}

	detection := schemadetect.DetectColumns(table.Headers)
	batches := domain.PartitionRows(job.ID, table.Rows, p.opts.BatchSize)
	for _, batch := range batches {
		if err := p.saveBatch(ctx, batch); err != nil {
			return FileParsingOutput{}, err
		}
	}

	now := p.now()
	if _, err := p.store.Jobs.Update(ctx, job.ID, func(j *domain.ImportJob) error {
		j.RowsTotal = len(table.Rows)
		j.Headers = table.Headers
		j.Detection = detection
		j.BatchCount = len(batches)
		j.Duplicates.Summary.TotalRows = len(table.Rows)
		j.Progress.CompleteStage(domain.StageFileParsing, now)
		j.Progress.StartStage(domain.StageAnalyzeDuplicates, len(table.Rows), now)
		j.Progress.StartStage(domain.StageDetectSchema, len(table.Rows), now)
		j.MoveTo(domain.StageAnalyzeDuplicates)
		progress.SyncRows(j)
		return nil
	}); err != nil {
		return FileParsingOutput{}, err
	}

	for _, batch := range batches {
		input := ProcessBatchInput{ImportJobID: job.ID, BatchIndex: intPtr(batch.Index)}
		if err := p.enqueue(ctx, TaskProcessBatch, input); err != nil {
			return FileParsingOutput{}, err
		}
	}

	p.deleteBlob(ctx, file.StorageKey)

	logger.WithField("rows", len(table.Rows)).WithField("batches", len(batches)).Info("file parsed")
	return FileParsingOutput{
		ImportJobID: job.ID,
		RowCount:    len(table.Rows),
		BatchCount:  len(batches),
		Detection:   detection,
		Warnings:    warnings,
	}, nil
}

func intPtr(v int) *int { return &v }
