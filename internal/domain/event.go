package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event is one normalized, geocoded record created from an imported row.
type Event struct {
	ID              uuid.UUID  `json:"id"`
	DatasetID       uuid.UUID  `json:"datasetId"`
	ImportJobID     uuid.UUID  `json:"importJobId"`
	SchemaVersionID *uuid.UUID `json:"schemaVersionId,omitempty"`
	ContentHash     string     `json:"contentHash"`
	Data            Row        `json:"data"`
	Title           string     `json:"title,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
	Location        *Point     `json:"location,omitempty"`
	GeocodeSource   string     `json:"geocodeSource,omitempty"`
	EventTimestamp  *time.Time `json:"eventTimestamp,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}
