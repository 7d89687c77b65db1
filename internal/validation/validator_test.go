package validation

import (
	"testing"
	"time"

	"github.com/rpattn/eventingest/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRowsAcceptsWellFormedRows(t *testing.T) {
	rows := []domain.Row{
		{"title": "Event 1", "date": "2024-03-15"},
		{"title": "Event 2", "date": "2024-03-16"},
	}

	result := ValidateRows(rows)

	assert.True(t, result.IsValid)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
	assert.Zero(t, result.SparseRows)
}

func TestValidateRowsStructuralFailures(t *testing.T) {
	cases := []struct {
		name    string
		rows    []domain.Row
		message string
	}{
		{name: "no rows", rows: nil, message: "no data rows"},
		{name: "all empty", rows: []domain.Row{{"a": ""}, {"a": "  ", "b": nil}}, message: "all rows are empty"},
		{name: "no headers", rows: []domain.Row{{}, {"a": "x"}}, message: "no column headers"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := ValidateRows(tc.rows)
			assert.False(t, result.IsValid)
			require.Len(t, result.Errors, 1)
			assert.Contains(t, result.Errors[0], tc.message)
		})
	}
}

func TestValidateRowsSparseRowsBelowThresholdWarn(t *testing.T) {
	rows := make([]domain.Row, 0, 20)
	for i := 0; i < 19; i++ {
		rows = append(rows, domain.Row{"a": "1", "b": "2", "c": "3", "d": "4"})
	}
	rows = append(rows, domain.Row{"a": "1", "b": "", "c": "", "d": ""})

	result := ValidateRows(rows)

	assert.True(t, result.IsValid)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, 1, result.SparseRows)
}

func TestValidateRowsSparseRowsAboveThresholdError(t *testing.T) {
	rows := []domain.Row{
		{"a": "1", "b": "2", "c": "3", "d": "4"},
		{"a": "1", "b": "", "c": "", "d": ""},
		{"a": "1", "b": "2", "c": "3", "d": "4"},
		{"a": "", "b": "", "c": "", "d": "4"},
	}

	result := ValidateRows(rows)

	assert.True(t, result.IsValid, "sparse rows never invalidate the structure")
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "2 of 4 rows")
	assert.Equal(t, 2, result.SparseRows)
}

func TestCoerceDate(t *testing.T) {
	ts, ok := CoerceDate("2024-03-15")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), ts)

	ts, ok = CoerceDate(45366.5)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC), ts)

	_, ok = CoerceDate("next tuesday")
	assert.False(t, ok)

	_, ok = CoerceDate("")
	assert.False(t, ok)
}

func TestCoerceTags(t *testing.T) {
	assert.Equal(t, []string{"music", "outdoor", "free"}, CoerceTags("music, outdoor;free|Music|"))
	assert.Equal(t, []string{"a", "b"}, CoerceTags([]any{"a", " b ", "A"}))
	assert.Nil(t, CoerceTags(nil))
	assert.Empty(t, CoerceTags("  ,  "))
}

func TestCoerceFloat(t *testing.T) {
	f, ok := CoerceFloat("51,5072")
	require.True(t, ok)
	assert.InDelta(t, 51.5072, f, 1e-9)

	_, ok = CoerceFloat("north")
	assert.False(t, ok)
}
