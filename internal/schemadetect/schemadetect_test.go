package schemadetect

import (
	"testing"

	"github.com/rpattn/eventingest/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarizeInfersTypes(t *testing.T) {
	rows := []domain.Row{
		{"title": "Launch", "date": "2024-03-15", "count": "3", "price": "9.5", "free": "yes", "notes": ""},
		{"title": "Meetup", "date": "2024-03-16", "count": "4", "price": "10", "free": "no", "notes": ""},
		{"title": "Launch", "date": "2024-03-17", "count": "5", "price": "11", "free": "true", "notes": ""},
	}

	summary := Summarize(rows)

	assert.Equal(t, domain.FieldTypeString, summary["title"].Type)
	assert.Equal(t, domain.FieldTypeTimestamp, summary["date"].Type)
	assert.Equal(t, domain.FieldTypeInteger, summary["count"].Type)
	assert.Equal(t, domain.FieldTypeFloat, summary["price"].Type)
	assert.Equal(t, domain.FieldTypeBoolean, summary["free"].Type)
	assert.Equal(t, domain.FieldTypeEmpty, summary["notes"].Type)

	assert.Equal(t, 2, summary["title"].Cardinality)
	assert.Equal(t, []string{"Launch", "Meetup"}, summary["title"].SampleValues)
	assert.Equal(t, 3, summary["notes"].NullCount)
	assert.Equal(t, 3, summary["count"].Occurrences)
}

func TestSummarizeMixedValuesFallBackToString(t *testing.T) {
	summary := Summarize([]domain.Row{{"code": "12"}, {"code": "A7"}})
	assert.Equal(t, domain.FieldTypeString, summary["code"].Type)
}

func TestMergeFoldsBatches(t *testing.T) {
	a := Summarize([]domain.Row{{"n": "1"}, {"n": ""}})
	b := Summarize([]domain.Row{{"n": "2.5"}, {"n": "3"}})

	merged := Merge(a, b)

	stats := merged["n"]
	assert.Equal(t, domain.FieldTypeFloat, stats.Type)
	assert.Equal(t, 4, stats.Occurrences)
	assert.Equal(t, 1, stats.NullCount)
	assert.Equal(t, 3, stats.Cardinality)
	assert.Equal(t, []string{"1", "2.5", "3"}, stats.SampleValues)
	assert.Equal(t, []string{"1"}, a["n"].SampleValues, "inputs are not mutated")
}

func TestDefinitionsFollowHeaderOrder(t *testing.T) {
	summary := Summarize([]domain.Row{{"title": "x", "date": "2024-01-01", "extra": ""}})

	defs := Definitions(summary, []string{"title", "date"}, 1)

	require.Len(t, defs, 3)
	assert.Equal(t, "title", defs[0].Name)
	assert.True(t, defs[0].Required)
	assert.Equal(t, "date", defs[1].Name)
	assert.Equal(t, "extra", defs[2].Name)
	assert.False(t, defs[2].Required)
}

func TestDetectColumns(t *testing.T) {
	detection := DetectColumns([]string{"Event Name", "Start Date", "Lat", "Lng", "Venue", "Tags", "Description"})

	assert.Equal(t, "Event Name", detection.TitleColumn)
	assert.Equal(t, "Start Date", detection.DateColumn)
	assert.Equal(t, "Lat", detection.LatitudeColumn)
	assert.Equal(t, "Lng", detection.LongitudeColumn)
	assert.Equal(t, "Venue", detection.AddressColumn)
	assert.Equal(t, "Tags", detection.TagsColumn)
	assert.True(t, detection.HasCoordinates())

	mapping := Mappings(detection, []string{"Event Name", "Description"})
	assert.Equal(t, "Description", mapping.DescriptionField)
	assert.Equal(t, "Lat", mapping.LatitudeField)
}

func TestDetectColumnsWithoutCoordinates(t *testing.T) {
	detection := DetectColumns([]string{"title", "address"})
	assert.False(t, detection.HasCoordinates())
	assert.Equal(t, "address", detection.AddressColumn)
}

func TestCompareFirstImportNeverRequiresApproval(t *testing.T) {
	cmp := Compare(nil, domain.SchemaSummary{"title": {Type: domain.FieldTypeString}})
	assert.False(t, cmp.RequiresApproval)
	assert.Equal(t, []string{"title"}, cmp.NewFields)
}

func TestCompareDetectsBreakingChanges(t *testing.T) {
	previous := &domain.SchemaVersion{Schema: []domain.FieldDefinition{
		{Name: "title", Type: domain.FieldTypeString},
		{Name: "count", Type: domain.FieldTypeInteger},
		{Name: "price", Type: domain.FieldTypeFloat},
		{Name: "gone", Type: domain.FieldTypeString},
	}}
	summary := domain.SchemaSummary{
		"title": {Type: domain.FieldTypeInteger},
		"count": {Type: domain.FieldTypeString},
		"price": {Type: domain.FieldTypeInteger},
		"fresh": {Type: domain.FieldTypeBoolean},
	}

	cmp := Compare(previous, summary)

	assert.True(t, cmp.RequiresApproval)
	require.Len(t, cmp.BreakingChanges, 2)
	assert.Equal(t, "count", cmp.BreakingChanges[0].Field)
	assert.Equal(t, "gone", cmp.BreakingChanges[1].Field)
	assert.Equal(t, []string{"fresh"}, cmp.NewFields)
}

func TestCompareAdditiveChangeIsAutoApproved(t *testing.T) {
	previous := &domain.SchemaVersion{Schema: []domain.FieldDefinition{{Name: "title", Type: domain.FieldTypeString}}}
	cmp := Compare(previous, domain.SchemaSummary{
		"title": {Type: domain.FieldTypeString},
		"date":  {Type: domain.FieldTypeTimestamp},
	})

	assert.False(t, cmp.RequiresApproval)
	assert.Equal(t, []string{"date"}, cmp.NewFields)
}
