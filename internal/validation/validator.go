package validation

import (
	"fmt"
	"strings"

	"github.com/rpattn/eventingest/internal/domain"
)

const (
	// SparseRowThreshold is the share of rows allowed to be sparse before an error is raised.
	SparseRowThreshold = 0.10
	// SparseColumnRatio is the share of reference columns a row must fill to not count as sparse.
	SparseColumnRatio = 0.50
)

// Result is the outcome of structural validation.
type Result struct {
	IsValid    bool     `json:"isValid"`
	Errors     []string `json:"errors"`
	Warnings   []string `json:"warnings"`
	SparseRows int      `json:"sparseRows"`
}

// ValidateRows runs the structural checks on parsed rows. Only an empty data
// set, all-empty rows, or a missing header set make the result invalid; the
// sparse row check reports but never drops rows.
func ValidateRows(rows []domain.Row) Result {
	result := Result{IsValid: true, Errors: []string{}, Warnings: []string{}}

	if len(rows) == 0 {
		result.IsValid = false
		result.Errors = append(result.Errors, "file contains no data rows")
		return result
	}

	hasData := false
	for _, row := range rows {
		if filledFields(row) > 0 {
			hasData = true
			break
		}
	}
	if !hasData {
		result.IsValid = false
		result.Errors = append(result.Errors, "all rows are empty")
		return result
	}

	reference := len(rows[0])
	if reference == 0 {
		result.IsValid = false
		result.Errors = append(result.Errors, "no column headers found")
		return result
	}

	minimum := float64(reference) * SparseColumnRatio
	for _, row := range rows {
		if float64(filledFields(row)) < minimum {
			result.SparseRows++
		}
	}

	if result.SparseRows > 0 {
		share := float64(result.SparseRows) / float64(len(rows))
		message := fmt.Sprintf("%d of %d rows have fewer than %.0f%% of columns filled", result.SparseRows, len(rows), SparseColumnRatio*100)
		if share > SparseRowThreshold {
			result.Errors = append(result.Errors, message)
		} else {
			result.Warnings = append(result.Warnings, message)
		}
	}

	return result
}

func filledFields(row domain.Row) int {
	filled := 0
	for _, value := range row {
		switch v := value.(type) {
		case nil:
		case string:
			if strings.TrimSpace(v) != "" {
				filled++
			}
		default:
			filled++
		}
	}
	return filled
}
