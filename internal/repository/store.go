package repository

import "github.com/jackc/pgx/v5/pgxpool"

// NewPostgresStore wires every repository onto one pool.
func NewPostgresStore(pool *pgxpool.Pool) *Store {
	return &Store{
		Catalogs:       NewCatalogRepository(pool),
		Files:          NewImportFileRepository(pool),
		Jobs:           NewImportJobRepository(pool),
		Datasets:       NewDatasetRepository(pool),
		SchemaVersions: NewSchemaVersionRepository(pool),
		Events:         NewEventRepository(pool),
		Schedules:      NewScheduledImportRepository(pool),
		Logs:           NewImportLogRepository(pool),
	}
}
