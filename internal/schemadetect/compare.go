package schemadetect

import (
	"fmt"

	"github.com/rpattn/eventingest/internal/domain"
)

// Comparison is the difference between a dataset's current schema and a detected summary.
type Comparison struct {
	BreakingChanges  []domain.SchemaChange
	NewFields        []string
	RequiresApproval bool
}

// Compare checks the summary against the previous version. A nil previous
// version is a first import and never requires approval. Removed fields and
// incompatible type changes are breaking; new fields are not.
func Compare(previous *domain.SchemaVersion, summary domain.SchemaSummary) Comparison {
	var cmp Comparison
	if previous == nil {
		cmp.NewFields = summary.FieldNames()
		return cmp
	}

	for _, field := range previous.Schema {
		stats, ok := summary[field.Name]
		if !ok {
			cmp.BreakingChanges = append(cmp.BreakingChanges, domain.SchemaChange{
				Field:        field.Name,
				PreviousType: field.Type,
				Message:      fmt.Sprintf("field %q was removed", field.Name),
			})
			continue
		}
		if !fieldTypesCompatible(field.Type, stats.Type) {
			cmp.BreakingChanges = append(cmp.BreakingChanges, domain.SchemaChange{
				Field:        field.Name,
				PreviousType: field.Type,
				DetectedType: stats.Type,
				Message:      fmt.Sprintf("field %q changed type from %s to %s", field.Name, field.Type, stats.Type),
			})
		}
	}

	for _, name := range summary.FieldNames() {
		if _, ok := previous.Field(name); !ok {
			cmp.NewFields = append(cmp.NewFields, name)
		}
	}

	cmp.RequiresApproval = len(cmp.BreakingChanges) > 0
	return cmp
}

func fieldTypesCompatible(existing, detected domain.FieldType) bool {
	if existing == detected || detected == domain.FieldTypeEmpty {
		return true
	}
	// Integer detections fit float fields.
	if existing == domain.FieldTypeFloat && detected == domain.FieldTypeInteger {
		return true
	}
	// Any value can be stored in a string field.
	return existing == domain.FieldTypeString
}
