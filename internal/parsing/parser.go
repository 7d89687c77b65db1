package parsing

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/rpattn/eventingest/internal/domain"

	"github.com/xuri/excelize/v2"
)

// FileType is the declared type of a raw payload.
type FileType string

const (
	FileTypeCSV         FileType = "csv"
	FileTypeSpreadsheet FileType = "spreadsheet"
)

var (
	// ErrUnsupportedType is returned when a payload is neither CSV nor a spreadsheet.
	ErrUnsupportedType = errors.New("unsupported file type")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
)

// ParseError names the malformed construct that stopped parsing.
type ParseError struct {
	Construct string
	Line      int
	Err       error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("malformed %s at line %d: %v", e.Construct, e.Line, e.Err)
	}
	return fmt.Sprintf("malformed %s: %v", e.Construct, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Table is the ordered result of parsing a payload.
type Table struct {
	Headers  []string
	Rows     []domain.Row
	Warnings []RowWarning
}

// RowWarning reports lossy handling of one data row. Row is 1-based.
type RowWarning struct {
	Row     int
	Message string
}

// DetectFileType resolves the file type from a MIME type, falling back to the extension.
func DetectFileType(fileName, mimeType string) (FileType, error) {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	switch mimeType {
	case "text/csv", "application/csv", "text/comma-separated-values":
		return FileTypeCSV, nil
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "application/vnd.ms-excel":
		return FileTypeSpreadsheet, nil
	}

	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".csv", ".txt":
		return FileTypeCSV, nil
	case ".xlsx", ".xlsm", ".xls":
		return FileTypeSpreadsheet, nil
	}

	if mimeType == "text/plain" {
		return FileTypeCSV, nil
	}
	return "", fmt.Errorf("%w: %s (%s)", ErrUnsupportedType, fileName, mimeType)
}

// Parse turns raw bytes of the declared type into ordered row mappings.
func Parse(payload []byte, fileType FileType) (Table, error) {
	switch fileType {
	case FileTypeCSV:
		return parseCSV(payload)
	case FileTypeSpreadsheet:
		return parseSpreadsheet(payload)
	default:
		return Table{}, fmt.Errorf("%w: %s", ErrUnsupportedType, fileType)
	}
}

func parseCSV(payload []byte) (Table, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	var records [][]string
	for {
		record, err := csvReader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var csvErr *csv.ParseError
			if errors.As(err, &csvErr) {
				return Table{}, &ParseError{Construct: "csv record", Line: csvErr.Line, Err: csvErr.Err}
			}
			return Table{}, &ParseError{Construct: "csv stream", Err: err}
		}
		records = append(records, record)
	}

	return buildTable(records)
}

func parseSpreadsheet(payload []byte) (Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return Table{}, &ParseError{Construct: "spreadsheet workbook", Err: err}
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Table{}, &ParseError{Construct: "spreadsheet workbook", Err: errors.New("workbook has no sheets")}
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return Table{}, &ParseError{Construct: "spreadsheet sheet " + sheets[0], Err: err}
	}

	return buildTable(rows)
}

// buildTable treats the first non-empty record as the header row. Ragged rows
// are padded or truncated to the header width; truncating non-empty cells
// adds a warning.
func buildTable(records [][]string) (Table, error) {
	headerIdx := -1
	for idx, record := range records {
		if !isBlank(record) {
			headerIdx = idx
			break
		}
	}
	if headerIdx < 0 {
		return Table{Headers: []string{}, Rows: []domain.Row{}}, nil
	}

	rawHeaders := records[headerIdx]
	headers := make([]string, 0, len(rawHeaders))
	columns := make([]int, 0, len(rawHeaders))
	seen := make(map[string]int)
	for idx, raw := range rawHeaders {
		name := strings.TrimSpace(raw)
		if name == "" {
			name = fmt.Sprintf("column_%d", idx)
		}
		if count := seen[name]; count > 0 {
			seen[name] = count + 1
			name = fmt.Sprintf("%s_%d", name, count+1)
		} else {
			seen[name] = 1
		}
		if IsReservedKey(name) {
			continue
		}
		headers = append(headers, name)
		columns = append(columns, idx)
	}

	rows := make([]domain.Row, 0, len(records)-headerIdx-1)
	var warnings []RowWarning
	for _, record := range records[headerIdx+1:] {
		if isBlank(record) {
			continue
		}
		if len(record) > len(rawHeaders) && !isBlank(record[len(rawHeaders):]) {
			rowNumber := len(rows) + 1
			message := fmt.Sprintf("row %d has %d cells but only %d header columns; extra values dropped", rowNumber, len(record), len(rawHeaders))
			warnings = append(warnings, RowWarning{Row: rowNumber, Message: message})
		}
		row := make(domain.Row, len(headers))
		for i, header := range headers {
			value := ""
			if col := columns[i]; col < len(record) {
				value = strings.TrimSpace(record[col])
			}
			SafeSet(row, header, value)
		}
		rows = append(rows, row)
	}

	return Table{Headers: headers, Rows: rows, Warnings: warnings}, nil
}

func isBlank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
