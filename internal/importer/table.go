package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Record is one data row keyed by normalized column name. Row is 1-based and
// does not count the header.
type Record struct {
	Row    int
	Values map[string]string
}

// Get returns the normalized cell of col ("" when absent).
func (r Record) Get(col string) string { return r.Values[col] }

// Table is a parsed upload: a header and its data rows.
type Table struct {
	Header  []string
	Records []Record
}

// Has reports whether the header contains col.
func (t *Table) Has(col string) bool {
	for _, h := range t.Header {
		if h == col {
			return true
		}
	}
	return false
}

// Missing returns the required columns absent from the header, in order.
func (t *Table) Missing(required []string) []string {
	var out []string
	for _, c := range required {
		if !t.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// ReadTable parses a CSV or XLSX upload, chosen by the file extension.
func ReadTable(filename string, r io.Reader) (*Table, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", "":
		return ReadCSV(r)
	case ".xlsx", ".xlsm":
		return ReadXLSX(r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(filename))
	}
}

// ReadCSV parses comma separated input. A UTF-8 BOM is stripped and rows may
// have fewer or more cells than the header.
func ReadCSV(r io.Reader) (*Table, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	raw = bytes.TrimPrefix(raw, []byte("\ufeff"))
	cr := csv.NewReader(bytes.NewReader(raw))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFile, err)
	}
	return fromRows(rows)
}

// ReadXLSX parses the first worksheet of a workbook.
func ReadXLSX(r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFile, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrMalformedFile)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFile, err)
	}
	return fromRows(rows)
}

func fromRows(rows [][]string) (*Table, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyFile
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = normalizeHeader(h)
	}
	t := &Table{Header: header}
	for i, row := range rows[1:] {
		if blank(row) {
			continue
		}
		vals := make(map[string]string, len(header))
		for j, h := range header {
			if h == "" || j >= len(row) {
				continue
			}
			vals[h] = normalizeCell(row[j])
		}
		t.Records = append(t.Records, Record{Row: i + 1, Values: vals})
	}
	return t, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// ErrEmptyFile is returned for uploads without a header row.
var ErrEmptyFile = errors.New("file is empty")
