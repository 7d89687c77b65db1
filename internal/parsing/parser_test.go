package parsing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestParseCSVTwoRows(t *testing.T) {
	data := "title,date\nEvent 1,2024-03-15\nEvent 2,2024-03-16"

	table, err := Parse([]byte(data), FileTypeCSV)
	require.NoError(t, err)

	assert.Equal(t, []string{"title", "date"}, table.Headers)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "Event 1", table.Rows[0]["title"])
	assert.Equal(t, "2024-03-15", table.Rows[0]["date"])
	assert.Equal(t, "Event 2", table.Rows[1]["title"])
	assert.Len(t, table.Rows[1], 2)
}

func TestParseCSVSkipsLeadingBlankLinesAndTrimsHeaders(t *testing.T) {
	data := "\xEF\xBB\xBF\n , \n  name , city \nAda,London\n\nGrace,NYC,extra\nLinus\n"

	table, err := Parse([]byte(data), FileTypeCSV)
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "city"}, table.Headers)
	require.Len(t, table.Rows, 3)
	assert.Equal(t, "NYC", table.Rows[1]["city"])
	assert.Equal(t, "Linus", table.Rows[2]["name"])
	assert.Equal(t, "", table.Rows[2]["city"])
	require.Len(t, table.Warnings, 1)
	assert.Equal(t, 2, table.Warnings[0].Row)
}

func TestParseCSVWarnsWhenCellsAreDropped(t *testing.T) {
	data := "title,date
A,2024-01-01,overflow,more
B,2024-01-02,,
C,2024-01-03
"

	table, err := Parse([]byte(data), FileTypeCSV)
	require.NoError(t, err)

	require.Len(t, table.Rows, 3)
	assert.Len(t, table.Rows[0], 2)
	assert.NotContains(t, table.Rows[0], "column_2")
	require.Len(t, table.Warnings, 1, "empty trailing cells are not data loss")
	assert.Equal(t, 1, table.Warnings[0].Row)
	assert.Contains(t, table.Warnings[0].Message, "4 cells but only 2 header columns")
}

func TestParseCSVRejectsReservedHeaders(t *testing.T) {
	data := "title,__proto__,constructor\nA,polluted,x\n"

	table, err := Parse([]byte(data), FileTypeCSV)
	require.NoError(t, err)

	assert.Equal(t, []string{"title"}, table.Headers)
	_, polluted := table.Rows[0]["__proto__"]
	assert.False(t, polluted)
}

func TestParseCSVMalformedQuote(t *testing.T) {
	data := "title,date\n\"Event 1,2024-03-15\n"

	_, err := Parse([]byte(data), FileTypeCSV)
	require.Error(t, err)

	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, "csv record", parseErr.Construct)
	assert.Contains(t, err.Error(), "malformed csv record")
}

func TestParseCSVEmptyPayload(t *testing.T) {
	table, err := Parse([]byte("\n\n"), FileTypeCSV)
	require.NoError(t, err)
	assert.Empty(t, table.Headers)
	assert.Empty(t, table.Rows)
}

func TestParseSpreadsheetFirstSheetAndSynthesizedHeaders(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"title", "", "date"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"Launch", "x", "2024-03-15"}))
	_, err := f.NewSheet("Other")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("Other", "A1", &[]any{"ignored"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	table, err := Parse(buf.Bytes(), FileTypeSpreadsheet)
	require.NoError(t, err)

	assert.Equal(t, []string{"title", "column_1", "date"}, table.Headers)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "Launch", table.Rows[0]["title"])
	assert.Equal(t, "x", table.Rows[0]["column_1"])
}

func TestParseSpreadsheetGarbage(t *testing.T) {
	_, err := Parse([]byte("not a workbook"), FileTypeSpreadsheet)
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "spreadsheet workbook", parseErr.Construct)
}

func TestDetectFileType(t *testing.T) {
	cases := []struct {
		name, mime string
		want       FileType
	}{
		{"data.csv", "", FileTypeCSV},
		{"data", "text/csv; charset=utf-8", FileTypeCSV},
		{"book.xlsx", "application/octet-stream", FileTypeSpreadsheet},
		{"download", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", FileTypeSpreadsheet},
	}
	for _, tc := range cases {
		got, err := DetectFileType(tc.name, tc.mime)
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.want, got, tc.name)
	}

	_, err := DetectFileType("image.png", "image/png")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestSafeSetAndGet(t *testing.T) {
	row := map[string]any{}
	assert.True(t, SafeSet(row, "title", "x"))
	assert.False(t, SafeSet(row, "__proto__", "x"))
	assert.False(t, SafeSet(nil, "title", "x"))

	value, ok := SafeGet(row, "title")
	assert.True(t, ok)
	assert.Equal(t, "x", value)

	_, ok = SafeGet(row, "prototype")
	assert.False(t, ok)
}

func TestReservedKeysCoverObjectMethods(t *testing.T) {
	for _, key := range []string{"hasOwnProperty", "toString", "valueOf", "isPrototypeOf", "propertyIsEnumerable", "toLocaleString"} {
		assert.True(t, IsReservedKey(key), key)
	}
	assert.False(t, IsReservedKey("tostring"))

	table, err := Parse([]byte("title,toString,valueOf\nA,x,y\n"), FileTypeCSV)
	require.NoError(t, err)
	assert.Equal(t, []string{"title"}, table.Headers)
	assert.Equal(t, map[string]any{"title": "A"}, map[string]any(table.Rows[0]))
}
