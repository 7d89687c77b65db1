package schemadetect

import (
	"regexp"
	"strings"

	"github.com/rpattn/eventingest/internal/domain"
)

var (
	latitudePattern  = regexp.MustCompile(`^(lat|latitude|lat_deg|y_coord|geo_lat|location_lat)$`)
	longitudePattern = regexp.MustCompile(`^(lon|lng|long|longitude|lon_deg|x_coord|geo_lon|geo_lng|location_lng|location_lon)$`)
	addressPattern   = regexp.MustCompile(`^(address|location|venue|place|addr|full_address|street_address|city)$`)
	datePattern      = regexp.MustCompile(`^(date|start|start_date|event_date|datetime|start_time|when|timestamp|starts_at)$`)
	titlePattern     = regexp.MustCompile(`^(title|name|event|event_name|summary|headline)$`)
	tagsPattern      = regexp.MustCompile(`^(tags|tag|categories|category|keywords|labels)$`)
	descPattern      = regexp.MustCompile(`^(description|desc|details|body|notes)$`)

	separatorPattern = regexp.MustCompile(`[\s\-\.]+`)
)

func normalizeHeader(header string) string {
	return separatorPattern.ReplaceAllString(strings.ToLower(strings.TrimSpace(header)), "_")
}

// DetectColumns matches headers against well known column names. The first
// header matching each pattern wins.
func DetectColumns(headers []string) domain.ColumnDetection {
	var detection domain.ColumnDetection
	for _, header := range headers {
		name := normalizeHeader(header)
		switch {
		case detection.LatitudeColumn == "" && latitudePattern.MatchString(name):
			detection.LatitudeColumn = header
		case detection.LongitudeColumn == "" && longitudePattern.MatchString(name):
			detection.LongitudeColumn = header
		case detection.AddressColumn == "" && addressPattern.MatchString(name):
			detection.AddressColumn = header
		case detection.DateColumn == "" && datePattern.MatchString(name):
			detection.DateColumn = header
		case detection.TitleColumn == "" && titlePattern.MatchString(name):
			detection.TitleColumn = header
		case detection.TagsColumn == "" && tagsPattern.MatchString(name):
			detection.TagsColumn = header
		}
	}
	return detection
}

// Mappings derives field mappings from detected columns and headers.
func Mappings(detection domain.ColumnDetection, headers []string) domain.FieldMapping {
	mapping := domain.FieldMapping{
		TitleField:     detection.TitleColumn,
		DateField:      detection.DateColumn,
		LocationField:  detection.AddressColumn,
		LatitudeField:  detection.LatitudeColumn,
		LongitudeField: detection.LongitudeColumn,
		TagsField:      detection.TagsColumn,
	}
	for _, header := range headers {
		if descPattern.MatchString(normalizeHeader(header)) {
			mapping.DescriptionField = header
			break
		}
	}
	return mapping
}
