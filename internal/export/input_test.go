package export

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeInput(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestReadEGIDs_CSV(t *testing.T) {
	path := writeInput(t, "egids.csv", "egid,note\n190581,home\n# comment\n\n42,office\n190581,dup\n")

	egids, err := ReadEGIDs(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"190581", "42"}, egids)
}

func TestReadEGIDs_PlainText(t *testing.T) {
	path := writeInput(t, "egids.txt", "190581\n  42\nnot valid!\n7\n")

	egids, err := ReadEGIDs(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"190581", "42", "7"}, egids)
}

func TestReadEGIDs_XLSX(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Sheet1")
	require.NoError(t, err)
	for _, v := range []string{"EGID", "190581", "", "42"} {
		sheet.AddRow().AddCell().SetString(v)
	}
	path := filepath.Join(t.TempDir(), "egids.xlsx")
	require.NoError(t, f.Save(path))

	egids, err := ReadEGIDs(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"190581", "42"}, egids)
}

func TestReadEGIDs_MissingFile(t *testing.T) {
	_, err := ReadEGIDs(filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "export: open input")
}
