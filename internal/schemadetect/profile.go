// Package schemadetect profiles parsed rows into field statistics, recognises
// well known columns and decides whether a schema change needs approval.
package schemadetect

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rpattn/eventingest/internal/domain"
	"github.com/rpattn/eventingest/internal/validation"
)

// MaxSampleValues bounds the samples kept per field.
const MaxSampleValues = 5

// Summarize profiles every field of rows.
func Summarize(rows []domain.Row) domain.SchemaSummary {
	summary := domain.SchemaSummary{}
	distinct := map[string]map[string]struct{}{}

	for _, row := range rows {
		for name, raw := range row {
			stats := summary[name]
			if stats.Type == "" {
				stats.Type = domain.FieldTypeEmpty
			}
			stats.Occurrences++

			value := strings.TrimSpace(stringify(raw))
			if value == "" {
				stats.NullCount++
				summary[name] = stats
				continue
			}

			stats.Type = widen(stats.Type, classify(value))

			seen, ok := distinct[name]
			if !ok {
				seen = map[string]struct{}{}
				distinct[name] = seen
			}
			if _, dup := seen[value]; !dup {
				seen[value] = struct{}{}
				if len(stats.SampleValues) < MaxSampleValues {
					stats.SampleValues = append(stats.SampleValues, value)
				}
			}
			stats.Cardinality = len(seen)
			summary[name] = stats
		}
	}
	return summary
}

// Merge folds b into a. Cardinality is an upper bound once batches are merged
// because distinct values are not carried between batches.
func Merge(a, b domain.SchemaSummary) domain.SchemaSummary {
	out := make(domain.SchemaSummary, len(a)+len(b))
	for name, stats := range a {
		stats.SampleValues = append([]string(nil), stats.SampleValues...)
		out[name] = stats
	}
	for name, incoming := range b {
		current, ok := out[name]
		if !ok {
			incoming.SampleValues = append([]string(nil), incoming.SampleValues...)
			out[name] = incoming
			continue
		}
		current.Type = widen(current.Type, incoming.Type)
		current.Occurrences += incoming.Occurrences
		current.NullCount += incoming.NullCount
		current.Cardinality += incoming.Cardinality
		if limit := current.Occurrences - current.NullCount; current.Cardinality > limit {
			current.Cardinality = limit
		}
		for _, sample := range incoming.SampleValues {
			if len(current.SampleValues) >= MaxSampleValues {
				break
			}
			if !contains(current.SampleValues, sample) {
				current.SampleValues = append(current.SampleValues, sample)
			}
		}
		out[name] = current
	}
	return out
}

// Definitions orders field definitions by header position, falling back to name order for unknown fields.
func Definitions(summary domain.SchemaSummary, headers []string, totalRows int) []domain.FieldDefinition {
	defs := summary.Definitions(totalRows)
	position := make(map[string]int, len(headers))
	for idx, header := range headers {
		position[header] = idx
	}
	sort.SliceStable(defs, func(i, j int) bool {
		pi, iok := position[defs[i].Name]
		pj, jok := position[defs[j].Name]
		switch {
		case iok && jok:
			return pi < pj
		case iok != jok:
			return iok
		default:
			return defs[i].Name < defs[j].Name
		}
	})
	return defs
}

func classify(value string) domain.FieldType {
	switch {
	case looksLikeInt(value):
		return domain.FieldTypeInteger
	case looksLikeFloat(value):
		return domain.FieldTypeFloat
	case looksLikeBool(value):
		return domain.FieldTypeBoolean
	case looksLikeTimestamp(value):
		return domain.FieldTypeTimestamp
	default:
		return domain.FieldTypeString
	}
}

// widen returns the narrowest type that holds values of both a and b.
func widen(a, b domain.FieldType) domain.FieldType {
	switch {
	case a == b:
		return a
	case a == domain.FieldTypeEmpty || a == "":
		return b
	case b == domain.FieldTypeEmpty || b == "":
		return a
	case isNumeric(a) && isNumeric(b):
		return domain.FieldTypeFloat
	default:
		return domain.FieldTypeString
	}
}

func isNumeric(t domain.FieldType) bool {
	return t == domain.FieldTypeInteger || t == domain.FieldTypeFloat
}

func looksLikeBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "false", "yes", "no":
		return true
	}
	return false
}

func looksLikeInt(value string) bool {
	if _, err := strconv.ParseInt(value, 10, 64); err == nil {
		return true
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil && !strings.ContainsAny(value, ".eE") {
		return math.Mod(f, 1) == 0
	}
	return false
}

func looksLikeFloat(value string) bool {
	_, err := strconv.ParseFloat(value, 64)
	return err == nil
}

func looksLikeTimestamp(value string) bool {
	_, err := validation.ParseTimestamp(value)
	return err == nil
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
