package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func buildWorkbook(t *testing.T, sheets map[string][][]string) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	first := true
	for name, rows := range sheets {
		if first {
			require.NoError(t, f.SetSheetName("Sheet1", name))
			first = false
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for i, row := range rows {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(name, cell, &row))
		}
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func minimalSheets() map[string][][]string {
	return map[string][][]string{
		SheetDrivers: {
			Headers(SheetDrivers),
			{"D-1", "Asha", "Rao", "+911234567890", "asha@example.com", "1990-04-12", "KA01AB1234"},
		},
		SheetAddresses: {
			Headers(SheetAddresses),
			{"D-1", "home", "12 MG Road", "", "Bengaluru", "KA", "560001", "true"},
		},
		SheetDocuments: {
			Headers(SheetDocuments),
			{"D-1", "driving_license", "KA0120230001234", "2023-01-01", "2033-01-01"},
		},
	}
}

func TestDecodeMinimalWorkbook(t *testing.T) {
	sheets, err := Decode(buildWorkbook(t, minimalSheets()))
	require.NoError(t, err)

	require.Len(t, sheets[SheetDrivers], 1)
	row := sheets[SheetDrivers][0]
	assert.Equal(t, 2, row.Number)
	assert.Equal(t, "D-1", row.Get(ColRefID))
	assert.Equal(t, "Asha", row.Get(ColFirstName))

	// Optional sheets may be absent entirely.
	_, ok := sheets[SheetEmployment]
	assert.False(t, ok)
}

func TestDecodeSkipsEmptyRowsKeepsNumbering(t *testing.T) {
	wb := minimalSheets()
	wb[SheetDrivers] = [][]string{
		Headers(SheetDrivers),
		{"D-1", "Asha", "Rao", "+911234567890", "asha@example.com", "1990-04-12", "KA01AB1234"},
		{"", "", "", "", "", "", ""},
		{"D-2", "Vik", "Shah", "+919876543210", "vik@example.com", "1988-01-30", "MH12CD5678"},
	}

	sheets, err := Decode(buildWorkbook(t, wb))
	require.NoError(t, err)

	rows := sheets[SheetDrivers]
	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[0].Number)
	// The blank row is skipped but workbook numbering is preserved.
	assert.Equal(t, 4, rows[1].Number)
	assert.Equal(t, "D-2", rows[1].Get(ColRefID))
}

func TestDecodeTrimsCells(t *testing.T) {
	wb := minimalSheets()
	wb[SheetDrivers][1][1] = "  Asha  "

	sheets, err := Decode(buildWorkbook(t, wb))
	require.NoError(t, err)
	assert.Equal(t, "Asha", sheets[SheetDrivers][0].Get(ColFirstName))
}

func TestDecodeMissingRequiredSheet(t *testing.T) {
	wb := minimalSheets()
	delete(wb, SheetDocuments)

	_, err := Decode(buildWorkbook(t, wb))
	assert.ErrorIs(t, err, ErrMalformedInput)
	assert.Contains(t, err.Error(), SheetDocuments)
}

func TestDecodeHeaderMismatch(t *testing.T) {
	wb := minimalSheets()
	wb[SheetAddresses][0] = []string{"Ref", "Type", "Line 1", "Line 2", "City", "State", "Postal Code", "Is Primary"}

	_, err := Decode(buildWorkbook(t, wb))
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestDecodeShortHeaderRow(t *testing.T) {
	wb := minimalSheets()
	wb[SheetDocuments] = [][]string{{ColRefID, ColDocumentType}}

	_, err := Decode(buildWorkbook(t, wb))
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestDecodeExtraNamedColumn(t *testing.T) {
	wb := minimalSheets()
	wb[SheetDrivers][0] = append(append([]string{}, Headers(SheetDrivers)...), "Shoe Size")

	_, err := Decode(buildWorkbook(t, wb))
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestDecodeTrailingBlankColumnsAccepted(t *testing.T) {
	wb := minimalSheets()
	wb[SheetDrivers][0] = append(append([]string{}, Headers(SheetDrivers)...), "", " ")

	_, err := Decode(buildWorkbook(t, wb))
	require.NoError(t, err)
}

func TestDecodeNotAWorkbook(t *testing.T) {
	_, err := Decode([]byte("this is not a zip archive"))
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestDecodeOptionalSheetStillChecked(t *testing.T) {
	wb := minimalSheets()
	wb[SheetIncidents] = [][]string{{"Ref ID", "Wrong", "Description", "Severity"}}

	_, err := Decode(buildWorkbook(t, wb))
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestDecodeRaggedDataRow(t *testing.T) {
	wb := minimalSheets()
	wb[SheetDocuments] = [][]string{
		Headers(SheetDocuments),
		{"D-1", "driving_license", "KA0120230001234"},
	}

	sheets, err := Decode(buildWorkbook(t, wb))
	require.NoError(t, err)

	row := sheets[SheetDocuments][0]
	assert.Equal(t, "", row.Get(ColIssuedOn))
	assert.Equal(t, "", row.Get(ColExpiresOn))
}
