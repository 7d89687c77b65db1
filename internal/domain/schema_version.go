package domain

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FieldType represents the inferred type of a dataset field
type FieldType string

const (
	FieldTypeString    FieldType = "string"
	FieldTypeInteger   FieldType = "integer"
	FieldTypeFloat     FieldType = "float"
	FieldTypeBoolean   FieldType = "boolean"
	FieldTypeTimestamp FieldType = "timestamp"
	FieldTypeEmpty     FieldType = "empty"
)

// FieldDefinition represents a field definition in a dataset schema
type FieldDefinition struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
}

// FieldStats summarizes the values observed for one column.
type FieldStats struct {
	Type         FieldType `json:"type"`
	Occurrences  int       `json:"occurrences"`
	NullCount    int       `json:"nullCount"`
	Cardinality  int       `json:"cardinality"`
	SampleValues []string  `json:"sampleValues,omitempty"`
}

// SchemaSummary maps field names to their observed statistics.
type SchemaSummary map[string]FieldStats

// FieldNames returns the summary's field names in sorted order.
func (s SchemaSummary) FieldNames() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions derives field definitions from the summary. A field is required
// when every one of totalRows rows carried a value for it.
func (s SchemaSummary) Definitions(totalRows int) []FieldDefinition {
	defs := make([]FieldDefinition, 0, len(s))
	for _, name := range s.FieldNames() {
		stats := s[name]
		defs = append(defs, FieldDefinition{
			Name:     name,
			Type:     stats.Type,
			Required: totalRows > 0 && stats.NullCount == 0 && stats.Occurrences >= totalRows,
		})
	}
	return defs
}

// FieldMapping maps dataset fields onto the event attributes the pipeline fills.
type FieldMapping struct {
	TitleField       string `json:"titleField,omitempty"`
	DescriptionField string `json:"descriptionField,omitempty"`
	DateField        string `json:"dateField,omitempty"`
	LocationField    string `json:"locationField,omitempty"`
	LatitudeField    string `json:"latitudeField,omitempty"`
	LongitudeField   string `json:"longitudeField,omitempty"`
	TagsField        string `json:"tagsField,omitempty"`
}

// SchemaChange describes one difference between two schema revisions.
type SchemaChange struct {
	Field        string    `json:"field"`
	PreviousType FieldType `json:"previousType,omitempty"`
	DetectedType FieldType `json:"detectedType,omitempty"`
	Message      string    `json:"message"`
}

// SchemaVersion is an immutable, numbered snapshot of a dataset schema.
type SchemaVersion struct {
	ID                   uuid.UUID         `json:"id"`
	DatasetID            uuid.UUID         `json:"datasetId"`
	Version              int               `json:"version"`
	Schema               []FieldDefinition `json:"schema"`
	FieldMetadata        SchemaSummary     `json:"fieldMetadata"`
	FieldMappings        FieldMapping      `json:"fieldMappings"`
	AutoApproved         bool              `json:"autoApproved"`
	ApprovedBy           *uuid.UUID        `json:"approvedBy,omitempty"`
	ImportSources        []uuid.UUID       `json:"importSources"`
	EventCountAtCreation int64             `json:"eventCountAtCreation"`
	CreatedAt            time.Time         `json:"createdAt"`
}

// Field returns the definition with the given name, compared case-insensitively.
func (v SchemaVersion) Field(name string) (FieldDefinition, bool) {
	for _, field := range v.Schema {
		if strings.EqualFold(field.Name, name) {
			return field, true
		}
	}
	return FieldDefinition{}, false
}

// SchemaJSON returns the schema definitions as JSONB for storage
func (v SchemaVersion) SchemaJSON() (json.RawMessage, error) {
	return json.Marshal(v.Schema)
}

// copyFields creates a copy of the fields slice so versions never share backing arrays
func copyFields(fields []FieldDefinition) []FieldDefinition {
	if fields == nil {
		return nil
	}
	newFields := make([]FieldDefinition, len(fields))
	copy(newFields, fields)
	return newFields
}

// NewSchemaVersion builds an unnumbered version; the repository assigns Version.
func NewSchemaVersion(datasetID uuid.UUID, schema []FieldDefinition, metadata SchemaSummary, mappings FieldMapping, autoApproved bool, approvedBy *uuid.UUID, sources []uuid.UUID, eventCount int64) SchemaVersion {
	clonedMeta := make(SchemaSummary, len(metadata))
	for name, stats := range metadata {
		clonedMeta[name] = stats
	}
	clonedSources := make([]uuid.UUID, len(sources))
	copy(clonedSources, sources)

	return SchemaVersion{
		ID:                   uuid.New(),
		DatasetID:            datasetID,
		Schema:               copyFields(schema),
		FieldMetadata:        clonedMeta,
		FieldMappings:        mappings,
		AutoApproved:         autoApproved,
		ApprovedBy:           approvedBy,
		ImportSources:        clonedSources,
		EventCountAtCreation: eventCount,
		CreatedAt:            time.Now().UTC(),
	}
}
