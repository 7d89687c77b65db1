package repository

import (
	"context"
	"errors"
	"time"

	"github.com/rpattn/eventingest/internal/domain"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a lookup matches no record.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateFile is returned when an import file with the same content hash already exists in the catalog.
	ErrDuplicateFile = errors.New("import file with identical content already exists")
)

// CatalogRepository defines the interface for catalog operations
type CatalogRepository interface {
	Create(ctx context.Context, catalog domain.Catalog) (domain.Catalog, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Catalog, error)
}

// ImportFileRepository stores immutable import file records. At most one
// file per (catalog, content hash) has IsDuplicate unset; Create returns
// ErrDuplicateFile when a second one is attempted, and FindByContentHash
// returns that original.
type ImportFileRepository interface {
	Create(ctx context.Context, file domain.ImportFile) (domain.ImportFile, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.ImportFile, error)
	FindByContentHash(ctx context.Context, catalogID uuid.UUID, contentHash string) (domain.ImportFile, error)
}

// ImportJobRepository stores import jobs. Update performs a locked
// read-modify-write: fn sees the current record and its mutations are saved
// only when it returns nil.
type ImportJobRepository interface {
	Create(ctx context.Context, job domain.ImportJob) (domain.ImportJob, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.ImportJob, error)
	FindByImportFile(ctx context.Context, importFileID uuid.UUID) (domain.ImportJob, error)
	Update(ctx context.Context, id uuid.UUID, fn func(job *domain.ImportJob) error) (domain.ImportJob, error)
	ListStale(ctx context.Context, olderThan time.Time) ([]domain.ImportJob, error)
	// ClaimRowHashes records the row hashes of one batch and returns those
	// already claimed by a different batch of the same job.
	ClaimRowHashes(ctx context.Context, jobID uuid.UUID, batchIndex int, hashes []string) (map[string]struct{}, error)
	ReleaseRowHashes(ctx context.Context, jobID uuid.UUID) error
}

// DatasetRepository defines the interface for dataset operations
type DatasetRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (domain.Dataset, error)
	FindOrCreate(ctx context.Context, catalogID uuid.UUID, name string) (domain.Dataset, error)
}

// SchemaVersionRepository is append-only. CreateNext assigns the next version
// number for the dataset atomically.
type SchemaVersionRepository interface {
	CreateNext(ctx context.Context, version domain.SchemaVersion) (domain.SchemaVersion, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.SchemaVersion, error)
	Latest(ctx context.Context, datasetID uuid.UUID) (domain.SchemaVersion, error)
	ListByDataset(ctx context.Context, datasetID uuid.UUID) ([]domain.SchemaVersion, error)
}

// EventRepository stores events created from imported rows.
type EventRepository interface {
	CreateBatch(ctx context.Context, events []domain.Event) (int, error)
	ExistingHashes(ctx context.Context, datasetID uuid.UUID, hashes []string) (map[string]struct{}, error)
	CountByDataset(ctx context.Context, datasetID uuid.UUID) (int64, error)
}

// ScheduledImportRepository stores recurring URL imports.
type ScheduledImportRepository interface {
	Create(ctx context.Context, schedule domain.ScheduledImport) (domain.ScheduledImport, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.ScheduledImport, error)
	ListDue(ctx context.Context, now time.Time) ([]domain.ScheduledImport, error)
	Update(ctx context.Context, id uuid.UUID, fn func(schedule *domain.ScheduledImport) error) (domain.ScheduledImport, error)
}

// ImportLogRepository stores row level import issues for observability.
type ImportLogRepository interface {
	Record(ctx context.Context, entry domain.ImportLogEntry) error
	List(ctx context.Context, importJobID uuid.UUID, limit int, offset int) ([]domain.ImportLogEntry, error)
}

// Store bundles the repositories the pipeline reads and writes.
type Store struct {
	Catalogs       CatalogRepository
	Files          ImportFileRepository
	Jobs           ImportJobRepository
	Datasets       DatasetRepository
	SchemaVersions SchemaVersionRepository
	Events         EventRepository
	Schedules      ScheduledImportRepository
	Logs           ImportLogRepository
}

// Validate reports whether every repository is wired.
func (s *Store) Validate() error {
	if s == nil {
		return errors.New("store is nil")
	}
	switch {
	case s.Catalogs == nil:
		return errors.New("catalog repository missing")
	case s.Files == nil:
		return errors.New("import file repository missing")
	case s.Jobs == nil:
		return errors.New("import job repository missing")
	case s.Datasets == nil:
		return errors.New("dataset repository missing")
	case s.SchemaVersions == nil:
		return errors.New("schema version repository missing")
	case s.Events == nil:
		return errors.New("event repository missing")
	case s.Schedules == nil:
		return errors.New("scheduled import repository missing")
	case s.Logs == nil:
		return errors.New("import log repository missing")
	}
	return nil
}
