package importer

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// Template formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// Template content types.
const (
	ContentTypeCSV  = "text/csv; charset=utf-8"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// sample rows shown under the header of each template.
var samples = map[Domain][][]string{
	DomainServices:     {{"S-101", "نمونه خدمت", "case", "1200", "", "1"}},
	DomainBudgetAnnual: {{"1404", "base", "v1", "S-101", "", "12000", "", "IRR", ""}},
	DomainOpsActual:    {{"1404/01/15", "S-101", "1", "37", ""}},
	DomainCalendar:     {{"1404/01/01", "1", "جمعه", "1", "0", "1", "0"}},
	DomainSeasonality:  {{"", "1", "950"}},
}

// Template renders an empty upload template for d. The XLSX form carries
// the derived columns as formulas so editors can preview them.
func Template(d Domain, format string) ([]byte, string, error) {
	cols, err := Columns(d)
	if err != nil {
		return nil, "", err
	}
	switch format {
	case "", FormatCSV:
		var buf bytes.Buffer
		buf.WriteString("\ufeff")
		w := csv.NewWriter(&buf)
		if err := w.Write(cols); err != nil {
			return nil, "", err
		}
		for _, s := range samples[d] {
			if err := w.Write(pad(s, len(cols))); err != nil {
				return nil, "", err
			}
		}
		w.Flush()
		return buf.Bytes(), ContentTypeCSV, w.Error()
	case FormatXLSX:
		b, err := xlsxTemplate(d, cols)
		return b, ContentTypeXLSX, err
	}
	return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
}

func xlsxTemplate(d Domain, cols []string) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	header := make([]any, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, err
	}
	for i, s := range samples[d] {
		row := make([]any, len(s))
		for j, v := range s {
			row[j] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, err
		}
	}

	switch d {
	case DomainCalendar:
		// H = weight_raw from D..G.
		if err := f.SetCellFormula(sheet, "H2", "IF(OR(D2=1,F2=1,G2=1),0,IF(E2=1,0.5,1))"); err != nil {
			return nil, err
		}
	case DomainSeasonality:
		// D = season_weight as the month's share of its series.
		if err := f.SetCellFormula(sheet, "D2", `C2/SUMIF(A$2:A$1000,A2,C$2:C$1000)`); err != nil {
			return nil, err
		}
	}

	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		last, _ := excelize.CoordinatesToCellName(len(cols), 1)
		_ = f.SetCellStyle(sheet, "A1", last, style)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func pad(row []string, n int) []string {
	if len(row) >= n {
		return row
	}
	out := make([]string, n)
	copy(out, row)
	return out
}
