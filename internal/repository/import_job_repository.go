package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/eventingest/internal/db"
	"github.com/rpattn/eventingest/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const importJobColumns = `id, import_file_id, catalog_id, dataset_id, stage, status, rows_total, rows_processed,
	batch_count, batches_completed, processed_batches, headers, progress, duplicates, detection,
	schema_summary, schema_validation, dataset_schema_version_id, geocoded_rows, events_created,
	error_log, created_at, updated_at`

type importJobRepository struct {
	pool *pgxpool.Pool
}

// NewImportJobRepository wires a repository backed by pgxpool.
func NewImportJobRepository(pool *pgxpool.Pool) ImportJobRepository {
	return &importJobRepository{pool: pool}
}

func (r *importJobRepository) Create(ctx context.Context, job domain.ImportJob) (domain.ImportJob, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	args, err := importJobArgs(job)
	if err != nil {
		return domain.ImportJob{}, err
	}

	_, err = r.pool.Exec(
		ctx,
		`INSERT INTO import_jobs (`+importJobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		args...,
	)
	if err != nil {
		return domain.ImportJob{}, fmt.Errorf("failed to create import job: %w", err)
	}
	return job, nil
}

func (r *importJobRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.ImportJob, error) {
	job, err := scanImportJob(r.pool.QueryRow(ctx, `SELECT `+importJobColumns+` FROM import_jobs WHERE id = $1`, id))
	if err != nil {
		return domain.ImportJob{}, notFoundOr(err, "failed to get import job %s", id)
	}
	return job, nil
}

func (r *importJobRepository) FindByImportFile(ctx context.Context, importFileID uuid.UUID) (domain.ImportJob, error) {
	job, err := scanImportJob(r.pool.QueryRow(ctx, `SELECT `+importJobColumns+` FROM import_jobs WHERE import_file_id = $1`, importFileID))
	if err != nil {
		return domain.ImportJob{}, notFoundOr(err, "failed to find import job for file %s", importFileID)
	}
	return job, nil
}

// Update locks the row for the duration of fn so concurrent batches fold their counts serially.
func (r *importJobRepository) Update(ctx context.Context, id uuid.UUID, fn func(job *domain.ImportJob) error) (domain.ImportJob, error) {
	var updated domain.ImportJob
	err := db.WithTx(ctx, r.pool, nil, func(tx pgx.Tx) error {
		job, err := scanImportJob(tx.QueryRow(ctx, `SELECT `+importJobColumns+` FROM import_jobs WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return notFoundOr(err, "failed to lock import job %s", id)
		}

		if err := fn(&job); err != nil {
			return err
		}
		job.UpdatedAt = time.Now().UTC()

		args, err := importJobArgs(job)
		if err != nil {
			return err
		}
		_, err = tx.Exec(
			ctx,
			`UPDATE import_jobs SET
				dataset_id = $4, stage = $5, status = $6, rows_total = $7, rows_processed = $8,
				batch_count = $9, batches_completed = $10, processed_batches = $11, headers = $12,
				progress = $13, duplicates = $14, detection = $15, schema_summary = $16,
				schema_validation = $17, dataset_schema_version_id = $18, geocoded_rows = $19,
				events_created = $20, error_log = $21, updated_at = $23
			 WHERE id = $1 AND import_file_id = $2 AND catalog_id = $3 AND created_at = $22`,
			args...,
		)
		if err != nil {
			return fmt.Errorf("failed to update import job %s: %w", id, err)
		}
		updated = job
		return nil
	})
	if err != nil {
		return domain.ImportJob{}, err
	}
	return updated, nil
}

// ListStale returns non-terminal jobs not updated since olderThan.
func (r *importJobRepository) ListStale(ctx context.Context, olderThan time.Time) ([]domain.ImportJob, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT `+importJobColumns+`
		 FROM import_jobs
		 WHERE status IN ('pending', 'processing') AND updated_at < $1
		 ORDER BY updated_at ASC
		 LIMIT 500`,
		olderThan,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale import jobs: %w", err)
	}
	defer rows.Close()

	jobs := []domain.ImportJob{}
	for rows.Next() {
		job, scanErr := scanImportJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan import job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate import jobs: %w", rowsErr)
	}
	return jobs, nil
}

func (r *importJobRepository) ClaimRowHashes(ctx context.Context, jobID uuid.UUID, batchIndex int, hashes []string) (map[string]struct{}, error) {
	claimed := make(map[string]struct{})
	if len(hashes) == 0 {
		return claimed, nil
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO import_row_hashes (import_job_id, content_hash, batch_index)
		 SELECT $1, h, $3 FROM unnest($2::text[]) AS h
		 ON CONFLICT (import_job_id, content_hash) DO NOTHING`,
		jobID,
		hashes,
		batchIndex,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim row hashes: %w", err)
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT content_hash FROM import_row_hashes
		 WHERE import_job_id = $1 AND content_hash = ANY($2::text[]) AND batch_index <> $3`,
		jobID,
		hashes,
		batchIndex,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read claimed row hashes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var hash string
		if scanErr := rows.Scan(&hash); scanErr != nil {
			return nil, fmt.Errorf("failed to scan row hash: %w", scanErr)
		}
		claimed[hash] = struct{}{}
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate row hashes: %w", rowsErr)
	}
	return claimed, nil
}

func (r *importJobRepository) ReleaseRowHashes(ctx context.Context, jobID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM import_row_hashes WHERE import_job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to release row hashes: %w", err)
	}
	return nil
}

func importJobArgs(job domain.ImportJob) ([]any, error) {
	progress, err := marshalJSON(job.Progress)
	if err != nil {
		return nil, err
	}
	duplicates, err := marshalJSON(job.Duplicates)
	if err != nil {
		return nil, err
	}
	detection, err := marshalJSON(job.Detection)
	if err != nil {
		return nil, err
	}
	validation, err := marshalJSON(job.SchemaValidation)
	if err != nil {
		return nil, err
	}

	var summary, errorLog []byte
	if job.SchemaSummary != nil {
		if summary, err = marshalJSON(job.SchemaSummary); err != nil {
			return nil, err
		}
	}
	if job.ErrorLog != nil {
		if errorLog, err = marshalJSON(job.ErrorLog); err != nil {
			return nil, err
		}
	}

	headers := job.Headers
	if headers == nil {
		headers = []string{}
	}

	return []any{
		job.ID,
		job.ImportFileID,
		job.CatalogID,
		nullableUUID(job.DatasetID),
		string(job.Stage),
		string(job.Status),
		job.RowsTotal,
		job.RowsProcessed,
		job.BatchCount,
		job.BatchesCompleted,
		toInt32s(job.ProcessedBatches),
		headers,
		progress,
		duplicates,
		detection,
		summary,
		validation,
		nullableUUID(job.DatasetSchemaVersionID),
		job.GeocodedRows,
		job.EventsCreated,
		errorLog,
		job.CreatedAt,
		job.UpdatedAt,
	}, nil
}

func scanImportJob(row pgx.Row) (domain.ImportJob, error) {
	var (
		job              domain.ImportJob
		datasetID        pgtype.UUID
		schemaVersionID  pgtype.UUID
		stage, status    string
		processed        []int32
		progress         []byte
		duplicates       []byte
		detection        []byte
		summary          []byte
		schemaValidation []byte
		errorLog         []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.ImportFileID,
		&job.CatalogID,
		&datasetID,
		&stage,
		&status,
		&job.RowsTotal,
		&job.RowsProcessed,
		&job.BatchCount,
		&job.BatchesCompleted,
		&processed,
		&job.Headers,
		&progress,
		&duplicates,
		&detection,
		&summary,
		&schemaValidation,
		&schemaVersionID,
		&job.GeocodedRows,
		&job.EventsCreated,
		&errorLog,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return domain.ImportJob{}, err
	}

	job.DatasetID = uuidPtr(datasetID)
	job.DatasetSchemaVersionID = uuidPtr(schemaVersionID)
	job.Stage = domain.Stage(stage)
	job.Status = domain.Status(status)
	job.ProcessedBatches = toInts(processed)

	job.Progress = domain.NewProgress()
	for _, column := range []struct {
		data   []byte
		target any
	}{
		{progress, &job.Progress},
		{duplicates, &job.Duplicates},
		{detection, &job.Detection},
		{summary, &job.SchemaSummary},
		{schemaValidation, &job.SchemaValidation},
	} {
		if err := unmarshalJSON(column.data, column.target); err != nil {
			return domain.ImportJob{}, err
		}
	}
	if len(errorLog) > 0 && string(errorLog) != "null" {
		var entry domain.ErrorLog
		if err := unmarshalJSON(errorLog, &entry); err != nil {
			return domain.ImportJob{}, err
		}
		job.ErrorLog = &entry
	}
	return job, nil
}
