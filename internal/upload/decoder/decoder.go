// Package decoder turns an uploaded workbook into ordered raw rows per sheet.
// It validates structure only; cell content is the validation engine's job.
package decoder

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrMalformedInput marks a file the pipeline cannot attempt at all: the whole
// batch fails with zero rows attempted.
var ErrMalformedInput = errors.New("malformed_input")

// RawRow is one data row with cells keyed by header name. Number is the
// 1-based workbook row so errors point at the cell the operator sees.
type RawRow struct {
	Number int
	Fields map[string]string
}

// Sheets holds the decoded workbook keyed by sheet name.
type Sheets map[string][]RawRow

// Get returns the first non-empty value of a header, trimmed.
func (r RawRow) Get(header string) string {
	return strings.TrimSpace(r.Fields[header])
}

// Decode parses the workbook and enforces the sheet/header contract.
func Decode(data []byte) (Sheets, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %v", ErrMalformedInput, err)
	}
	defer func() { _ = f.Close() }()

	present := make(map[string]bool)
	for _, name := range f.GetSheetList() {
		present[name] = true
	}

	sheets := make(Sheets, len(contracts))
	for _, contract := range contracts {
		if !present[contract.name] {
			if contract.required {
				return nil, fmt.Errorf("%w: missing sheet %q", ErrMalformedInput, contract.name)
			}
			continue
		}

		rows, err := f.GetRows(contract.name)
		if err != nil {
			return nil, fmt.Errorf("%w: read sheet %q: %v", ErrMalformedInput, contract.name, err)
		}
		if len(rows) == 0 {
			return nil, fmt.Errorf("%w: sheet %q has no header row", ErrMalformedInput, contract.name)
		}

		if err := matchHeader(contract, rows[0]); err != nil {
			return nil, err
		}

		sheets[contract.name] = dataRows(contract.headers, rows[1:])
	}

	return sheets, nil
}

func matchHeader(contract sheetContract, got []string) error {
	if len(got) < len(contract.headers) {
		return fmt.Errorf("%w: sheet %q header row has %d columns, want %d",
			ErrMalformedInput, contract.name, len(got), len(contract.headers))
	}
	for i, want := range contract.headers {
		if strings.TrimSpace(got[i]) != want {
			return fmt.Errorf("%w: sheet %q column %d is %q, want %q",
				ErrMalformedInput, contract.name, i+1, strings.TrimSpace(got[i]), want)
		}
	}
	// Trailing blank cells are an artifact of spreadsheet editing; a named
	// extra column means the file does not follow the template.
	for i := len(contract.headers); i < len(got); i++ {
		if extra := strings.TrimSpace(got[i]); extra != "" {
			return fmt.Errorf("%w: sheet %q has unexpected column %q",
				ErrMalformedInput, contract.name, extra)
		}
	}
	return nil
}

func dataRows(headers []string, rows [][]string) []RawRow {
	out := make([]RawRow, 0, len(rows))
	for idx, row := range rows {
		if emptyRow(row) {
			continue
		}
		fields := make(map[string]string, len(headers))
		for col, header := range headers {
			if col < len(row) {
				fields[header] = strings.TrimSpace(row[col])
			} else {
				fields[header] = ""
			}
		}
		// +2: header row plus 1-based numbering.
		out = append(out, RawRow{Number: idx + 2, Fields: fields})
	}
	return out
}

func emptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
