package domain

import (
	"time"

	"github.com/google/uuid"
)

// ImportLogEntry captures row level issues raised while an import job runs.
type ImportLogEntry struct {
	ID          uuid.UUID `json:"id"`
	ImportJobID uuid.UUID `json:"importJobId"`
	Stage       Stage     `json:"stage"`
	RowNumber   *int      `json:"rowNumber,omitempty"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewRowIssue builds a log entry for a single row.
func NewRowIssue(jobID uuid.UUID, stage Stage, row int, message string) ImportLogEntry {
	return ImportLogEntry{
		ImportJobID: jobID,
		Stage:       stage,
		RowNumber:   &row,
		Message:     message,
		CreatedAt:   time.Now().UTC(),
	}
}

// NewJobIssue builds a log entry that is not tied to a row.
func NewJobIssue(jobID uuid.UUID, stage Stage, message string) ImportLogEntry {
	return ImportLogEntry{
		ImportJobID: jobID,
		Stage:       stage,
		Message:     message,
		CreatedAt:   time.Now().UTC(),
	}
}
