// Package export reads EGID lists and writes lookup results as CSV or XLSX.
package export

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/gwr-relay/internal/gwr"
	"github.com/sells-group/gwr-relay/internal/lookup"
)

// Column names that are not record fields.
const (
	ColumnInput = "input"
	ColumnError = "error"
)

// Result is the outcome of one batch lookup.
type Result struct {
	EGID   string
	Record gwr.Record
	Err    error
}

// Columns returns the header row: the requested EGID, every field key in
// table order, the source link and the error message.
func Columns() []string {
	cols := []string{ColumnInput}
	cols = append(cols, gwr.FieldKeys()...)
	return append(cols, gwr.LinkKey, ColumnError)
}

func (r Result) cells(cols []string) []string {
	out := make([]string, len(cols))
	for i, col := range cols {
		switch col {
		case ColumnInput:
			out[i] = r.EGID
		case ColumnError:
			if r.Err != nil {
				out[i] = r.Err.Error()
			}
		case gwr.LinkKey:
			out[i] = r.link()
		default:
			out[i] = r.Record[col]
		}
	}
	return out
}

// link returns the popup URL of the record, or the URL a failed lookup tried.
func (r Result) link() string {
	if l := r.Record.Link(); l != "" {
		return l
	}
	var upErr *lookup.UpstreamError
	if errors.As(r.Err, &upErr) {
		return upErr.URL
	}
	return ""
}

// WriteCSV writes a header row followed by one row per result.
func WriteCSV(w io.Writer, results []Result) error {
	cols := Columns()
	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, r := range results {
		if err := cw.Write(r.cells(cols)); err != nil {
			return eris.Wrapf(err, "export: write csv row %s", r.EGID)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// WriteXLSX writes the results to a single "GWR" sheet.
func WriteXLSX(w io.Writer, results []Result) error {
	cols := Columns()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("GWR")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	addRow(sheet, cols)
	for _, r := range results {
		addRow(sheet, r.cells(cols))
	}

	return eris.Wrap(f.Write(w), "export: write xlsx")
}

func addRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

// WriteFile writes results to path, choosing the format from its extension.
func WriteFile(path string, results []Result) error {
	write := WriteCSV
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
	case ".xlsx":
		write = WriteXLSX
	default:
		return eris.Errorf("export: unsupported output format %q", filepath.Ext(path))
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "export: create output file")
	}
	if err := write(f, results); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrap(f.Close(), "export: close output file")
}
