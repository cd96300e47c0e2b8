package export

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/gwr-relay/internal/lookup"
)

// ReadEGIDs reads EGIDs from the first column of a CSV, plain-text or XLSX
// file. Blank cells and a non-EGID header row are skipped. Duplicates are kept
// once, in first-seen order.
func ReadEGIDs(path string) ([]string, error) {
	var (
		col []string
		err error
	)
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		col, err = readXLSXColumn(path)
	} else {
		var f *os.File
		f, err = os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "export: open input")
		}
		defer f.Close() //nolint:errcheck
		col, err = readCSVColumn(f)
	}
	if err != nil {
		return nil, err
	}
	return collectEGIDs(col), nil
}

func readCSVColumn(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1 // allow variable fields
	reader.TrimLeadingSpace = true

	var col []string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return col, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "export: read csv row")
		}
		if len(record) > 0 {
			col = append(col, record[0])
		}
	}
}

func readXLSXColumn(path string) ([]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "export: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("export: xlsx has no sheets")
	}

	var col []string
	for _, row := range f.Sheets[0].Rows {
		if row == nil || len(row.Cells) == 0 {
			continue
		}
		col = append(col, row.Cells[0].String())
	}
	return col, nil
}

func collectEGIDs(col []string) []string {
	seen := make(map[string]bool, len(col))
	var out []string
	for i, raw := range col {
		egid := strings.TrimSpace(raw)
		if egid == "" || seen[egid] {
			continue
		}
		if i == 0 && strings.EqualFold(egid, "egid") {
			continue
		}
		if err := lookup.ValidateEGID(egid); err != nil {
			if i == 0 {
				continue // header
			}
			zap.L().Warn("export: skipping invalid egid", zap.Int("row", i+1), zap.String("value", egid))
			continue
		}
		seen[egid] = true
		out = append(out, egid)
	}
	return out
}
