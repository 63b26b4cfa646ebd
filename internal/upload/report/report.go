// Package report writes the downloadable error-report workbook for a batch.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gosimple/slug"
	"github.com/xuri/excelize/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fleetdesk/fleetdesk/internal/config"
	"github.com/fleetdesk/fleetdesk/internal/upload/validate"
)

const errorSheet = "Errors"

var headers = []string{"Sheet", "Row", "Ref ID", "Field", "Code", "Message"}

type WriterParam struct {
	fx.In

	Log    *zap.Logger
	Config config.Config
}

// Writer builds one xlsx artifact per batch with invalid rows. The artifact
// name is derived from the original filename and the batch id so reruns of
// the same batch overwrite rather than accumulate.
type Writer struct {
	log *zap.Logger
	dir string
}

func NewWriter(p WriterParam) *Writer {
	return &Writer{
		log: p.Log.Named("upload.report"),
		dir: p.Config.ReportDir,
	}
}

// Filename returns the artifact name for a batch.
func Filename(originalFilename, batchID string) string {
	base := strings.TrimSuffix(originalFilename, filepath.Ext(originalFilename))
	return fmt.Sprintf("%s-%s-errors.xlsx", slug.Make(base), batchID)
}

// Write renders one row per field error and returns the artifact location
// relative to the report directory.
func (w *Writer) Write(originalFilename, batchID string, errs []validate.FieldError) (string, error) {
	f := excelize.NewFile()
	defer f.Close()

	defaultSheet := f.GetSheetName(0)
	if _, err := f.NewSheet(errorSheet); err != nil {
		return "", fmt.Errorf("create error sheet: %w", err)
	}
	if err := f.DeleteSheet(defaultSheet); err != nil {
		return "", fmt.Errorf("drop default sheet: %w", err)
	}

	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return "", err
		}
		if err := f.SetCellValue(errorSheet, cell, header); err != nil {
			return "", err
		}
	}

	for i, fe := range errs {
		values := []string{fe.Sheet, strconv.Itoa(fe.Row), fe.RefID, fe.Field, fe.Code, fe.Message}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return "", err
			}
			if err := f.SetCellValue(errorSheet, cell, value); err != nil {
				return "", err
			}
		}
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	name := Filename(originalFilename, batchID)
	if err := f.SaveAs(filepath.Join(w.dir, name)); err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}

	w.log.Info("error report written",
		zap.String("batch_id", batchID),
		zap.String("report", name),
		zap.Int("errors", len(errs)),
	)
	return name, nil
}

// Open returns the artifact file for download.
func (w *Writer) Open(location string) (*os.File, error) {
	clean := filepath.Base(location)
	return os.Open(filepath.Join(w.dir, clean))
}
