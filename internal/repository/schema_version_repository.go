package repository

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/rpattn/eventingest/internal/db"
	"github.com/rpattn/eventingest/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaVersionColumns = `id, dataset_id, version, schema, field_metadata, field_mappings, auto_approved,
	approved_by, import_sources::text[], event_count_at_creation, created_at`

type schemaVersionRepository struct {
	pool *pgxpool.Pool
}

// NewSchemaVersionRepository wires a repository backed by pgxpool.
func NewSchemaVersionRepository(pool *pgxpool.Pool) SchemaVersionRepository {
	return &schemaVersionRepository{pool: pool}
}

// CreateNext allocates max(version)+1 under a per-dataset advisory lock.
// ErrNotFound is returned when the dataset does not exist.
func (r *schemaVersionRepository) CreateNext(ctx context.Context, version domain.SchemaVersion) (domain.SchemaVersion, error) {
	if version.ID == uuid.Nil {
		version.ID = uuid.New()
	}
	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now().UTC()
	}

	schema, err := marshalJSON(version.Schema)
	if err != nil {
		return domain.SchemaVersion{}, err
	}
	metadata, err := marshalJSON(version.FieldMetadata)
	if err != nil {
		return domain.SchemaVersion{}, err
	}
	mappings, err := marshalJSON(version.FieldMappings)
	if err != nil {
		return domain.SchemaVersion{}, err
	}

	err = db.WithTx(ctx, r.pool, nil, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryKey(version.DatasetID)); err != nil {
			return fmt.Errorf("failed to lock dataset %s: %w", version.DatasetID, err)
		}

		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM datasets WHERE id = $1)`, version.DatasetID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check dataset %s: %w", version.DatasetID, err)
		}
		if !exists {
			return ErrNotFound
		}

		var next int
		if err := tx.QueryRow(
			ctx,
			`SELECT COALESCE(MAX(version), 0) + 1 FROM dataset_schema_versions WHERE dataset_id = $1`,
			version.DatasetID,
		).Scan(&next); err != nil {
			return fmt.Errorf("failed to allocate schema version: %w", err)
		}
		version.Version = next

		_, err := tx.Exec(
			ctx,
			`INSERT INTO dataset_schema_versions
				(id, dataset_id, version, schema, field_metadata, field_mappings, auto_approved,
				 approved_by, import_sources, event_count_at_creation, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::uuid[], $10, $11)`,
			version.ID,
			version.DatasetID,
			version.Version,
			schema,
			metadata,
			mappings,
			version.AutoApproved,
			nullableUUID(version.ApprovedBy),
			uuidStrings(version.ImportSources),
			version.EventCountAtCreation,
			version.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert schema version: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.SchemaVersion{}, err
	}
	return version, nil
}

func (r *schemaVersionRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.SchemaVersion, error) {
	version, err := scanSchemaVersion(r.pool.QueryRow(ctx, `SELECT `+schemaVersionColumns+` FROM dataset_schema_versions WHERE id = $1`, id))
	if err != nil {
		return domain.SchemaVersion{}, notFoundOr(err, "failed to get schema version %s", id)
	}
	return version, nil
}

func (r *schemaVersionRepository) Latest(ctx context.Context, datasetID uuid.UUID) (domain.SchemaVersion, error) {
	version, err := scanSchemaVersion(r.pool.QueryRow(
		ctx,
		`SELECT `+schemaVersionColumns+`
		 FROM dataset_schema_versions
		 WHERE dataset_id = $1
		 ORDER BY version DESC
		 LIMIT 1`,
		datasetID,
	))
	if err != nil {
		return domain.SchemaVersion{}, notFoundOr(err, "failed to get latest schema version for dataset %s", datasetID)
	}
	return version, nil
}

func (r *schemaVersionRepository) ListByDataset(ctx context.Context, datasetID uuid.UUID) ([]domain.SchemaVersion, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT `+schemaVersionColumns+` FROM dataset_schema_versions WHERE dataset_id = $1 ORDER BY version ASC`,
		datasetID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list schema versions: %w", err)
	}
	defer rows.Close()

	versions := []domain.SchemaVersion{}
	for rows.Next() {
		version, scanErr := scanSchemaVersion(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan schema version: %w", scanErr)
		}
		versions = append(versions, version)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate schema versions: %w", rowsErr)
	}
	return versions, nil
}

func scanSchemaVersion(row pgx.Row) (domain.SchemaVersion, error) {
	var (
		version    domain.SchemaVersion
		schema     []byte
		metadata   []byte
		mappings   []byte
		approvedBy pgtype.UUID
		sources    []string
	)
	if err := row.Scan(
		&version.ID,
		&version.DatasetID,
		&version.Version,
		&schema,
		&metadata,
		&mappings,
		&version.AutoApproved,
		&approvedBy,
		&sources,
		&version.EventCountAtCreation,
		&version.CreatedAt,
	); err != nil {
		return domain.SchemaVersion{}, err
	}

	if err := unmarshalJSON(schema, &version.Schema); err != nil {
		return domain.SchemaVersion{}, err
	}
	if err := unmarshalJSON(metadata, &version.FieldMetadata); err != nil {
		return domain.SchemaVersion{}, err
	}
	if err := unmarshalJSON(mappings, &version.FieldMappings); err != nil {
		return domain.SchemaVersion{}, err
	}
	version.ApprovedBy = uuidPtr(approvedBy)

	ids, err := parseUUIDs(sources)
	if err != nil {
		return domain.SchemaVersion{}, err
	}
	version.ImportSources = ids
	return version, nil
}

func advisoryKey(id uuid.UUID) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("schema_version:"))
	_, _ = h.Write(id[:])
	return int64(h.Sum64())
}
