package report

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/fleetdesk/fleetdesk/internal/config"
	"github.com/fleetdesk/fleetdesk/internal/upload/validate"
)

func newWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	dir := t.TempDir()
	w := NewWriter(WriterParam{
		Log:    zap.NewNop(),
		Config: config.Config{ReportDir: dir},
	})
	return w, dir
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "march-drivers-B1-errors.xlsx", Filename("March Drivers.xlsx", "B1"))
	assert.Equal(t, "drivers-B2-errors.xlsx", Filename("drivers", "B2"))
}

func TestWriteProducesReadableWorkbook(t *testing.T) {
	w, dir := newWriter(t)

	errs := []validate.FieldError{
		{Sheet: "Drivers", Row: 2, RefID: "D-1", Field: "Phone", Code: validate.CodeInvalidFormat, Message: "bad phone"},
		{Sheet: "Addresses", Row: 5, RefID: "D-404", Field: "Ref ID", Code: validate.CodeOrphanRow, Message: "no Drivers row"},
	}

	name, err := w.Write("March Drivers.xlsx", "01HZX5", errs)
	require.NoError(t, err)
	assert.Equal(t, "march-drivers-01HZX5-errors.xlsx", name)

	f, err := excelize.OpenFile(filepath.Join(dir, name))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Errors")
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, []string{"Sheet", "Row", "Ref ID", "Field", "Code", "Message"}, rows[0])
	assert.Equal(t, "Drivers", rows[1][0])
	assert.Equal(t, "2", rows[1][1])
	assert.Equal(t, "D-1", rows[1][2])
	assert.Equal(t, validate.CodeOrphanRow, rows[2][4])
}

func TestWriteOverwritesOnRerun(t *testing.T) {
	w, _ := newWriter(t)

	errs := []validate.FieldError{
		{Sheet: "Drivers", Row: 2, Field: "Phone", Code: validate.CodeInvalidFormat, Message: "bad phone"},
	}

	first, err := w.Write("drivers.xlsx", "01HZX5", errs)
	require.NoError(t, err)
	second, err := w.Write("drivers.xlsx", "01HZX5", errs[:1])
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestOpenStripsPathTraversal(t *testing.T) {
	w, _ := newWriter(t)

	name, err := w.Write("drivers.xlsx", "01HZX5", []validate.FieldError{
		{Sheet: "Drivers", Row: 2, Field: "Phone", Code: validate.CodeInvalidFormat, Message: "bad"},
	})
	require.NoError(t, err)

	f, err := w.Open("../../" + name)
	require.NoError(t, err)
	defer f.Close()

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}
