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

const importFileColumns = `id, catalog_id, owner_id, dataset_id, original_name, content_hash, mime_type,
	size_bytes, source, source_url, auth, storage_key, is_duplicate, created_at`

type importFileRepository struct {
	pool *pgxpool.Pool
}

// NewImportFileRepository wires a repository backed by pgxpool.
func NewImportFileRepository(pool *pgxpool.Pool) ImportFileRepository {
	return &importFileRepository{pool: pool}
}

// Create inserts the file. A unique violation on (catalog_id, content_hash) among
// non-duplicate files maps to ErrDuplicateFile.
func (r *importFileRepository) Create(ctx context.Context, file domain.ImportFile) (domain.ImportFile, error) {
	if file.ID == uuid.Nil {
		file.ID = uuid.New()
	}
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now().UTC()
	}

	var auth []byte
	if file.Auth != nil {
		redacted := file.Auth.Redacted()
		encoded, err := marshalJSON(redacted)
		if err != nil {
			return domain.ImportFile{}, err
		}
		auth = encoded
	}

	var sourceURL pgtype.Text
	if file.SourceURL != "" {
		sourceURL = pgtype.Text{String: file.SourceURL, Valid: true}
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO import_files (`+importFileColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		file.ID,
		file.CatalogID,
		file.OwnerID,
		nullableUUID(file.DatasetID),
		file.OriginalName,
		file.ContentHash,
		file.MimeType,
		file.Size,
		string(file.Source),
		sourceURL,
		auth,
		file.StorageKey,
		file.IsDuplicate,
		file.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ImportFile{}, ErrDuplicateFile
		}
		return domain.ImportFile{}, fmt.Errorf("failed to create import file: %w", err)
	}
	return file, nil
}

func (r *importFileRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.ImportFile, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+importFileColumns+` FROM import_files WHERE id = $1`, id)
	file, err := scanImportFile(row)
	if err != nil {
		return domain.ImportFile{}, notFoundOr(err, "failed to get import file %s", id)
	}
	return file, nil
}

func (r *importFileRepository) FindByContentHash(ctx context.Context, catalogID uuid.UUID, contentHash string) (domain.ImportFile, error) {
	row := r.pool.QueryRow(
		ctx,
		`SELECT `+importFileColumns+`
		 FROM import_files
		 WHERE catalog_id = $1 AND content_hash = $2 AND NOT is_duplicate
		 ORDER BY created_at ASC
		 LIMIT 1`,
		catalogID,
		contentHash,
	)
	file, err := scanImportFile(row)
	if err != nil {
		return domain.ImportFile{}, notFoundOr(err, "failed to find import file by hash")
	}
	return file, nil
}

func scanImportFile(row pgx.Row) (domain.ImportFile, error) {
	var (
		file      domain.ImportFile
		datasetID pgtype.UUID
		source    string
		sourceURL pgtype.Text
		auth      []byte
	)
	if err := row.Scan(
		&file.ID,
		&file.CatalogID,
		&file.OwnerID,
		&datasetID,
		&file.OriginalName,
		&file.ContentHash,
		&file.MimeType,
		&file.Size,
		&source,
		&sourceURL,
		&auth,
		&file.StorageKey,
		&file.IsDuplicate,
		&file.CreatedAt,
	); err != nil {
		return domain.ImportFile{}, err
	}

	file.DatasetID = uuidPtr(datasetID)
	file.Source = domain.SourceType(source)
	file.SourceURL = sourceURL.String
	if len(auth) > 0 {
		var cfg domain.AuthConfig
		if err := unmarshalJSON(auth, &cfg); err != nil {
			return domain.ImportFile{}, err
		}
		file.Auth = &cfg
	}
	return file, nil
}
