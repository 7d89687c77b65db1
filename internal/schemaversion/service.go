// Package schemaversion creates immutable, numbered dataset schema versions.
package schemaversion

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/eventingest/internal/domain"
	"github.com/rpattn/eventingest/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrDatasetNotFound is wrapped by SchemaCreationError when the dataset is missing.
var ErrDatasetNotFound = errors.New("dataset not found")

// SchemaCreationError reports a failed schema version creation.
type SchemaCreationError struct {
	DatasetID uuid.UUID
	Err       error
}

func (e *SchemaCreationError) Error() string {
	return fmt.Sprintf("failed to create schema version for dataset %s: %v", e.DatasetID, e.Err)
}

func (e *SchemaCreationError) Unwrap() error { return e.Err }

// CreateRequest carries everything a new version records.
type CreateRequest struct {
	DatasetID     uuid.UUID
	Schema        []domain.FieldDefinition
	FieldMetadata domain.SchemaSummary
	FieldMappings domain.FieldMapping
	AutoApproved  bool
	ApprovedBy    *uuid.UUID
	Sources       []uuid.UUID
}

// Service is append-only: it exposes no update or delete.
type Service struct {
	datasets repository.DatasetRepository
	versions repository.SchemaVersionRepository
	events   repository.EventRepository
	logger   logrus.FieldLogger
}

// NewService wires the versioning service. events may be nil, in which case
// the recorded event count is zero.
func NewService(datasets repository.DatasetRepository, versions repository.SchemaVersionRepository, events repository.EventRepository, logger logrus.FieldLogger) *Service {
	return &Service{datasets: datasets, versions: versions, events: events, logger: logger}
}

// CreateSchemaVersion allocates the next version number for the dataset and persists it.
func (s *Service) CreateSchemaVersion(ctx context.Context, req CreateRequest) (domain.SchemaVersion, error) {
	if _, err := s.datasets.GetByID(ctx, req.DatasetID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.SchemaVersion{}, &SchemaCreationError{DatasetID: req.DatasetID, Err: ErrDatasetNotFound}
		}
		return domain.SchemaVersion{}, &SchemaCreationError{DatasetID: req.DatasetID, Err: err}
	}

	var eventCount int64
	if s.events != nil {
		count, err := s.events.CountByDataset(ctx, req.DatasetID)
		if err != nil {
			return domain.SchemaVersion{}, &SchemaCreationError{DatasetID: req.DatasetID, Err: err}
		}
		eventCount = count
	}

	approvedBy := req.ApprovedBy
	if req.AutoApproved {
		approvedBy = nil
	}

	version := domain.NewSchemaVersion(
		req.DatasetID,
		req.Schema,
		req.FieldMetadata,
		req.FieldMappings,
		req.AutoApproved,
		approvedBy,
		req.Sources,
		eventCount,
	)

	created, err := s.versions.CreateNext(ctx, version)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			err = ErrDatasetNotFound
		}
		return domain.SchemaVersion{}, &SchemaCreationError{DatasetID: req.DatasetID, Err: err}
	}

	s.logger.WithFields(logrus.Fields{
		"dataset_id":     created.DatasetID,
		"schema_version": created.Version,
		"auto_approved":  created.AutoApproved,
		"fields":         len(created.Schema),
	}).Info("schema version created")

	return created, nil
}

// Latest returns the newest version of the dataset, or repository.ErrNotFound.
func (s *Service) Latest(ctx context.Context, datasetID uuid.UUID) (domain.SchemaVersion, error) {
	return s.versions.Latest(ctx, datasetID)
}

// History lists every version of the dataset in ascending order.
func (s *Service) History(ctx context.Context, datasetID uuid.UUID) ([]domain.SchemaVersion, error) {
	return s.versions.ListByDataset(ctx, datasetID)
}
