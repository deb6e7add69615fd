package recipients

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeXLSX(t *testing.T, rows [][]any) string {
	t.Helper()
	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	sheet := xl.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		r := row
		require.NoError(t, xl.SetSheetRow(sheet, cell, &r))
	}

	path := filepath.Join(t.TempDir(), "recipients.xlsx")
	require.NoError(t, xl.SaveAs(path))
	return path
}

func TestFileSource_XLSX(t *testing.T) {
	path := writeXLSX(t, [][]any{
		{"Name", "Email", "Job Role", "Company Name", "hiringPlatform", "shouldSend"},
		{"Ada", "ada@example.com", "Engineer", "Engines", "https://jobs.example.com/1", "TRUE"},
		{},
		{"Grace", "grace@example.com", "Admiral", "Navy", "", "FALSE"},
	})

	list, err := NewFileSource(path).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)

	ada := list[0]
	assert.Equal(t, "Ada", ada.Get("Name"))
	assert.Equal(t, "Engineer", ada.Get("Job Role"))
	assert.Equal(t, "https://jobs.example.com/1", ada.Get("hiringPlatform"))
	assert.True(t, ada.Truthy("shouldSend"))
	assert.Equal(t, "Name", ada.Fields[0].Key)
	assert.Equal(t, "shouldSend", ada.Fields[5].Key)

	grace := list[1]
	assert.Equal(t, "", grace.Get("hiringPlatform"))
	assert.False(t, grace.Truthy("shouldSend"))
}

func TestParseCSV(t *testing.T) {
	src := "\ufeffName,Email,Job Role,shouldSend\nAda,ada@example.com,Engineer,yes\nGrace,grace@example.com,Admiral\n"

	list, err := ParseCSV(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, "Ada", list[0].Get("Name"))
	assert.True(t, list[0].Truthy("shouldSend"))
	assert.Equal(t, "", list[1].Get("shouldSend"))
	assert.False(t, list[1].Truthy("shouldSend"))
}

func TestParseJSON_KeepsKeyOrder(t *testing.T) {
	src := `[{"Name":"Ada","Email":"ada@example.com","Job Role":"Engineer","shouldSend":true,"score":3}]`

	list, err := ParseJSON(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, list, 1)

	keys := make([]string, 0, len(list[0].Fields))
	for _, f := range list[0].Fields {
		keys = append(keys, f.Key)
	}
	assert.Equal(t, []string{"Name", "Email", "Job Role", "shouldSend", "score"}, keys)
	assert.True(t, list[0].Truthy("shouldSend"))
	assert.Equal(t, "3", list[0].Get("score"))
}

func TestParseJSON_Invalid(t *testing.T) {
	_, err := ParseJSON(strings.NewReader(`{"Name":"Ada"}`))
	assert.Error(t, err)
}

func TestFileSource_Errors(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "missing.csv")).Load(context.Background())
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "recipients.txt")
	require.NoError(t, os.WriteFile(path, []byte("Name\nAda\n"), 0o600))
	_, err = NewFileSource(path).Load(context.Background())
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = ParseCSV(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrNoHeader)
}
