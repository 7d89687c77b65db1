package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/rpattn/eventingest/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type datasetRepository struct {
	pool *pgxpool.Pool
}

// NewDatasetRepository wires a repository backed by pgxpool.
func NewDatasetRepository(pool *pgxpool.Pool) DatasetRepository {
	return &datasetRepository{pool: pool}
}

func (r *datasetRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Dataset, error) {
	var ds domain.Dataset
	err := r.pool.QueryRow(
		ctx,
		`SELECT id, catalog_id, name, auto_approve_schema, created_at FROM datasets WHERE id = $1`,
		id,
	).Scan(&ds.ID, &ds.CatalogID, &ds.Name, &ds.AutoApproveSchema, &ds.CreatedAt)
	if err != nil {
		return domain.Dataset{}, notFoundOr(err, "failed to get dataset %s", id)
	}
	return ds, nil
}

// FindOrCreate returns the dataset named name in the catalog, creating it when absent.
func (r *datasetRepository) FindOrCreate(ctx context.Context, catalogID uuid.UUID, name string) (domain.Dataset, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Dataset{}, fmt.Errorf("dataset name is required")
	}

	var ds domain.Dataset
	err := r.pool.QueryRow(
		ctx,
		`INSERT INTO datasets (id, catalog_id, name)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (catalog_id, name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id, catalog_id, name, auto_approve_schema, created_at`,
		uuid.New(),
		catalogID,
		name,
	).Scan(&ds.ID, &ds.CatalogID, &ds.Name, &ds.AutoApproveSchema, &ds.CreatedAt)
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("failed to find or create dataset %q: %w", name, err)
	}
	return ds, nil
}
