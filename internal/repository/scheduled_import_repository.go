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

const scheduledImportColumns = `id, name, catalog_id, owner_id, dataset_id, source_url, auth, cron_expression,
	enabled, max_retries, retry_delay_minutes, next_run_at, stats`

type scheduledImportRepository struct {
	pool *pgxpool.Pool
}

// NewScheduledImportRepository wires a repository backed by pgxpool.
func NewScheduledImportRepository(pool *pgxpool.Pool) ScheduledImportRepository {
	return &scheduledImportRepository{pool: pool}
}

func (r *scheduledImportRepository) Create(ctx context.Context, schedule domain.ScheduledImport) (domain.ScheduledImport, error) {
	if schedule.ID == uuid.Nil {
		schedule.ID = uuid.New()
	}
	args, err := scheduledImportArgs(schedule)
	if err != nil {
		return domain.ScheduledImport{}, err
	}
	_, err = r.pool.Exec(
		ctx,
		`INSERT INTO scheduled_imports (`+scheduledImportColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		args...,
	)
	if err != nil {
		return domain.ScheduledImport{}, fmt.Errorf("failed to create scheduled import: %w", err)
	}
	return schedule, nil
}

func (r *scheduledImportRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.ScheduledImport, error) {
	schedule, err := scanScheduledImport(r.pool.QueryRow(ctx, `SELECT `+scheduledImportColumns+` FROM scheduled_imports WHERE id = $1`, id))
	if err != nil {
		return domain.ScheduledImport{}, notFoundOr(err, "failed to get scheduled import %s", id)
	}
	return schedule, nil
}

// ListDue returns enabled schedules whose next run is at or before now.
func (r *scheduledImportRepository) ListDue(ctx context.Context, now time.Time) ([]domain.ScheduledImport, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT `+scheduledImportColumns+`
		 FROM scheduled_imports
		 WHERE enabled AND (next_run_at IS NULL OR next_run_at <= $1)
		 ORDER BY next_run_at ASC NULLS FIRST`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list due scheduled imports: %w", err)
	}
	defer rows.Close()

	schedules := []domain.ScheduledImport{}
	for rows.Next() {
		schedule, scanErr := scanScheduledImport(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan scheduled import: %w", scanErr)
		}
		schedules = append(schedules, schedule)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate scheduled imports: %w", rowsErr)
	}
	return schedules, nil
}

func (r *scheduledImportRepository) Update(ctx context.Context, id uuid.UUID, fn func(schedule *domain.ScheduledImport) error) (domain.ScheduledImport, error) {
	var updated domain.ScheduledImport
	err := db.WithTx(ctx, r.pool, nil, func(tx pgx.Tx) error {
		schedule, err := scanScheduledImport(tx.QueryRow(ctx, `SELECT `+scheduledImportColumns+` FROM scheduled_imports WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return notFoundOr(err, "failed to lock scheduled import %s", id)
		}
		if err := fn(&schedule); err != nil {
			return err
		}
		args, err := scheduledImportArgs(schedule)
		if err != nil {
			return err
		}
		_, err = tx.Exec(
			ctx,
			`UPDATE scheduled_imports SET
				name = $2, catalog_id = $3, owner_id = $4, dataset_id = $5, source_url = $6, auth = $7,
				cron_expression = $8, enabled = $9, max_retries = $10, retry_delay_minutes = $11,
				next_run_at = $12, stats = $13
			 WHERE id = $1`,
			args...,
		)
		if err != nil {
			return fmt.Errorf("failed to update scheduled import %s: %w", id, err)
		}
		updated = schedule
		return nil
	})
	if err != nil {
		return domain.ScheduledImport{}, err
	}
	return updated, nil
}

func scheduledImportArgs(schedule domain.ScheduledImport) ([]any, error) {
	auth, err := marshalJSON(schedule.Auth)
	if err != nil {
		return nil, err
	}
	stats, err := marshalJSON(schedule.Stats)
	if err != nil {
		return nil, err
	}
	var nextRun pgtype.Timestamptz
	if schedule.NextRunAt != nil {
		nextRun = pgtype.Timestamptz{Time: *schedule.NextRunAt, Valid: true}
	}
	return []any{
		schedule.ID,
		schedule.Name,
		schedule.CatalogID,
		schedule.OwnerID,
		nullableUUID(schedule.DatasetID),
		schedule.SourceURL,
		auth,
		schedule.CronExpression,
		schedule.Enabled,
		schedule.MaxRetries,
		schedule.RetryDelayMinutes,
		nextRun,
		stats,
	}, nil
}

func scanScheduledImport(row pgx.Row) (domain.ScheduledImport, error) {
	var (
		schedule  domain.ScheduledImport
		datasetID pgtype.UUID
		auth      []byte
		nextRun   pgtype.Timestamptz
		stats     []byte
	)
	if err := row.Scan(
		&schedule.ID,
		&schedule.Name,
		&schedule.CatalogID,
		&schedule.OwnerID,
		&datasetID,
		&schedule.SourceURL,
		&auth,
		&schedule.CronExpression,
		&schedule.Enabled,
		&schedule.MaxRetries,
		&schedule.RetryDelayMinutes,
		&nextRun,
		&stats,
	); err != nil {
		return domain.ScheduledImport{}, err
	}
	schedule.DatasetID = uuidPtr(datasetID)
	if nextRun.Valid {
		at := nextRun.Time
		schedule.NextRunAt = &at
	}
	if err := unmarshalJSON(auth, &schedule.Auth); err != nil {
		return domain.ScheduledImport{}, err
	}
	if err := unmarshalJSON(stats, &schedule.Stats); err != nil {
		return domain.ScheduledImport{}, err
	}
	return schedule, nil
}
