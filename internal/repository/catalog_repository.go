package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/eventingest/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// catalogRepository implements CatalogRepository interface
type catalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository creates a new catalog repository
func NewCatalogRepository(pool *pgxpool.Pool) CatalogRepository {
	return &catalogRepository{pool: pool}
}

// Create creates a new catalog
func (r *catalogRepository) Create(ctx context.Context, catalog domain.Catalog) (domain.Catalog, error) {
	if catalog.ID == uuid.Nil {
		catalog.ID = uuid.New()
	}
	err := r.pool.QueryRow(
		ctx,
		`INSERT INTO catalogs (id, name, description)
		 VALUES ($1, $2, $3)
		 RETURNING created_at, updated_at`,
		catalog.ID,
		catalog.Name,
		catalog.Description,
	).Scan(&catalog.CreatedAt, &catalog.UpdatedAt)
	if err != nil {
		return domain.Catalog{}, fmt.Errorf("failed to create catalog: %w", err)
	}
	return catalog, nil
}

// GetByID retrieves a catalog by ID
func (r *catalogRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Catalog, error) {
	var catalog domain.Catalog
	err := r.pool.QueryRow(
		ctx,
		`SELECT id, name, description, created_at, updated_at FROM catalogs WHERE id = $1`,
		id,
	).Scan(&catalog.ID, &catalog.Name, &catalog.Description, &catalog.CreatedAt, &catalog.UpdatedAt)
	if err != nil {
		return domain.Catalog{}, notFoundOr(err, "failed to get catalog %s", id)
	}
	return catalog, nil
}
