package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Stage is one named step of the ingestion pipeline.
type Stage string

const (
	StageUploaded            Stage = "uploaded"
	StageDatasetDetection    Stage = "dataset-detection"
	StageFileParsing         Stage = "file-parsing"
	StageAnalyzeDuplicates   Stage = "analyze-duplicates"
	StageDetectSchema        Stage = "detect-schema"
	StageValidateSchema      Stage = "validate-schema"
	StageAwaitApproval       Stage = "await-approval"
	StageCreateSchemaVersion Stage = "create-schema-version"
	StageGeocodeBatch        Stage = "geocode-batch"
	StageCreateEvents        Stage = "create-events"
	StageCompleted           Stage = "completed"
	StageFailed              Stage = "failed"
)

// Status is the coarse lifecycle status polled by clients.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ErrSchemaVersionAlreadySet is returned when a second schema version is attached to a job.
var ErrSchemaVersionAlreadySet = errors.New("import job already has a schema version")

// DuplicateSummary aggregates row level duplicate detection.
type DuplicateSummary struct {
	TotalRows          int `json:"totalRows"`
	UniqueRows         int `json:"uniqueRows"`
	InternalDuplicates int `json:"internalDuplicates"`
	ExternalDuplicates int `json:"externalDuplicates"`
}

// Duplicates wraps the duplicate summary as stored on the job.
type Duplicates struct {
	Summary DuplicateSummary `json:"summary"`
}

// SchemaValidation records the outcome of the schema approval gate.
type SchemaValidation struct {
	RequiresApproval bool           `json:"requiresApproval"`
	Approved         bool           `json:"approved"`
	ApprovedBy       *uuid.UUID     `json:"approvedBy,omitempty"`
	ApprovedAt       *time.Time     `json:"approvedAt,omitempty"`
	BreakingChanges  []SchemaChange `json:"breakingChanges,omitempty"`
	NewFields        []string       `json:"newFields,omitempty"`
}

// ErrorLog is the structured failure record persisted on a failed job.
type ErrorLog struct {
	Error     string    `json:"error"`
	Context   string    `json:"context"`
	Timestamp time.Time `json:"timestamp"`
}

// ColumnDetection captures the columns recognised by header heuristics.
type ColumnDetection struct {
	LatitudeColumn  string `json:"latitudeColumn,omitempty"`
	LongitudeColumn string `json:"longitudeColumn,omitempty"`
	AddressColumn   string `json:"addressColumn,omitempty"`
	DateColumn      string `json:"dateColumn,omitempty"`
	TitleColumn     string `json:"titleColumn,omitempty"`
	TagsColumn      string `json:"tagsColumn,omitempty"`
}

// HasCoordinates reports whether both coordinate columns were detected.
func (d ColumnDetection) HasCoordinates() bool {
	return d.LatitudeColumn != "" && d.LongitudeColumn != ""
}

// ImportJob is the root record tracking one ingestion run.
type ImportJob struct {
	ID                     uuid.UUID        `json:"id"`
	ImportFileID           uuid.UUID        `json:"importFileId"`
	CatalogID              uuid.UUID        `json:"catalogId"`
	DatasetID              *uuid.UUID       `json:"datasetId,omitempty"`
	Stage                  Stage            `json:"stage"`
	Status                 Status           `json:"status"`
	RowsTotal              int              `json:"rowsTotal"`
	RowsProcessed          int              `json:"rowsProcessed"`
	BatchCount             int              `json:"batchCount"`
	BatchesCompleted       int              `json:"batchesCompleted"`
	ProcessedBatches       []int            `json:"processedBatches,omitempty"`
	Headers                []string         `json:"headers,omitempty"`
	Progress               Progress         `json:"progress"`
	Duplicates             Duplicates       `json:"duplicates"`
	Detection              ColumnDetection  `json:"detection"`
	SchemaSummary          SchemaSummary    `json:"schemaSummary,omitempty"`
	SchemaValidation       SchemaValidation `json:"schemaValidation"`
	DatasetSchemaVersionID *uuid.UUID       `json:"datasetSchemaVersion,omitempty"`
	GeocodedRows           int              `json:"geocodedRows"`
	EventsCreated          int              `json:"eventsCreated"`
	ErrorLog               *ErrorLog        `json:"errorLog,omitempty"`
	CreatedAt              time.Time        `json:"createdAt"`
	UpdatedAt              time.Time        `json:"updatedAt"`
}

// NewImportJob creates a pending job for the given file.
func NewImportJob(importFileID, catalogID uuid.UUID) ImportJob {
	now := time.Now().UTC()
	return ImportJob{
		ID:           uuid.New(),
		ImportFileID: importFileID,
		CatalogID:    catalogID,
		Stage:        StageUploaded,
		Status:       StatusPending,
		Progress:     NewProgress(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsTerminal reports whether the job reached completed or failed.
func (j ImportJob) IsTerminal() bool {
	return j.Stage == StageCompleted || j.Stage == StageFailed
}

// HasSchemaVersion reports whether a schema version was attached.
func (j ImportJob) HasSchemaVersion() bool {
	return j.DatasetSchemaVersionID != nil && *j.DatasetSchemaVersionID != uuid.Nil
}

// AttachSchemaVersion sets the schema version reference. It may be called once.
func (j *ImportJob) AttachSchemaVersion(id uuid.UUID) error {
	if j.HasSchemaVersion() {
		return ErrSchemaVersionAlreadySet
	}
	j.DatasetSchemaVersionID = &id
	return nil
}

// MoveTo advances the job to the given stage and marks it processing.
func (j *ImportJob) MoveTo(stage Stage) {
	j.Stage = stage
	switch stage {
	case StageCompleted:
		j.Status = StatusCompleted
	case StageFailed:
		j.Status = StatusFailed
	default:
		j.Status = StatusProcessing
	}
}

// Fail moves the job to the failed stage and records the error log.
func (j *ImportJob) Fail(cause error, context string, at time.Time) {
	message := "unknown error"
	if cause != nil {
		message = cause.Error()
	}
	j.MoveTo(StageFailed)
	j.ErrorLog = &ErrorLog{
		Error:     message,
		Context:   context,
		Timestamp: at.UTC(),
	}
}

// BatchProcessed reports whether the batch at idx was already folded into the job.
func (j ImportJob) BatchProcessed(idx int) bool {
	for _, done := range j.ProcessedBatches {
		if done == idx {
			return true
		}
	}
	return false
}

// AllBatchesProcessed reports whether every batch has been folded in.
func (j ImportJob) AllBatchesProcessed() bool {
	return j.BatchCount > 0 && j.BatchesCompleted >= j.BatchCount
}

// RequiresPendingApproval reports whether the schema gate still blocks the job.
func (j ImportJob) RequiresPendingApproval() bool {
	return j.SchemaValidation.RequiresApproval && !j.SchemaValidation.Approved
}
