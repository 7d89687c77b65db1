package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/eventingest/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type eventRepository struct {
	pool *pgxpool.Pool
}

// NewEventRepository wires a repository backed by pgxpool.
func NewEventRepository(pool *pgxpool.Pool) EventRepository {
	return &eventRepository{pool: pool}
}

// CreateBatch inserts events in one round trip. Rows whose content hash already
// exists in the dataset are skipped; the number actually inserted is returned.
func (r *eventRepository) CreateBatch(ctx context.Context, events []domain.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, event := range events {
		if event.ID == uuid.Nil {
			event.ID = uuid.New()
		}
		if event.CreatedAt.IsZero() {
			event.CreatedAt = time.Now().UTC()
		}
		data, err := marshalJSON(event.Data)
		if err != nil {
			return 0, err
		}
		tags := event.Tags
		if tags == nil {
			tags = []string{}
		}

		var lat, lng pgtype.Float8
		if event.Location != nil {
			lat = pgtype.Float8{Float64: event.Location.Lat, Valid: true}
			lng = pgtype.Float8{Float64: event.Location.Lng, Valid: true}
		}
		var ts pgtype.Timestamptz
		if event.EventTimestamp != nil {
			ts = pgtype.Timestamptz{Time: *event.EventTimestamp, Valid: true}
		}

		batch.Queue(
			`INSERT INTO events
				(id, dataset_id, import_job_id, schema_version_id, content_hash, data, title, tags,
				 latitude, longitude, geocode_source, event_timestamp, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			 ON CONFLICT (dataset_id, content_hash) DO NOTHING`,
			event.ID,
			event.DatasetID,
			event.ImportJobID,
			nullableUUID(event.SchemaVersionID),
			event.ContentHash,
			data,
			event.Title,
			tags,
			lat,
			lng,
			event.GeocodeSource,
			ts,
			event.CreatedAt,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range events {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("failed to insert event: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (r *eventRepository) ExistingHashes(ctx context.Context, datasetID uuid.UUID, hashes []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(hashes) == 0 {
		return existing, nil
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT content_hash FROM events WHERE dataset_id = $1 AND content_hash = ANY($2::text[])`,
		datasetID,
		hashes,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing event hashes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var hash string
		if scanErr := rows.Scan(&hash); scanErr != nil {
			return nil, fmt.Errorf("failed to scan event hash: %w", scanErr)
		}
		existing[hash] = struct{}{}
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate event hashes: %w", rowsErr)
	}
	return existing, nil
}

func (r *eventRepository) CountByDataset(ctx context.Context, datasetID uuid.UUID) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM events WHERE dataset_id = $1`, datasetID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}
