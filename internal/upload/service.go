// Package upload orchestrates the bulk-upload pipeline: intake, decode,
// validate, persist, report, outcome.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	batchdomain "github.com/fleetdesk/fleetdesk/internal/batch/domain"
	"github.com/fleetdesk/fleetdesk/internal/clock"
	"github.com/fleetdesk/fleetdesk/internal/config"
	"github.com/fleetdesk/fleetdesk/internal/observability/metrics"
	"github.com/fleetdesk/fleetdesk/internal/upload/decoder"
	"github.com/fleetdesk/fleetdesk/internal/upload/executor"
	"github.com/fleetdesk/fleetdesk/internal/upload/report"
	"github.com/fleetdesk/fleetdesk/internal/upload/runner"
	"github.com/fleetdesk/fleetdesk/internal/upload/validate"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrUnsupportedFile = errors.New("unsupported_file_type")
	ErrEmptyFile       = errors.New("empty_file")
)

type SubmitRequest struct {
	UploaderID snowflake.ID
	Filename   string
	File       io.Reader
}

type ServiceParam struct {
	fx.In

	Log       *zap.Logger
	Config    config.Config
	Clock     clock.Clock
	Batches   batchdomain.Service
	Engine    *validate.Engine
	Executor  *executor.Executor
	Report    *report.Writer
	Scheduler runner.Scheduler
}

type Service struct {
	log       *zap.Logger
	uploadDir string
	clock     clock.Clock
	batches   batchdomain.Service
	engine    *validate.Engine
	executor  *executor.Executor
	report    *report.Writer
	scheduler runner.Scheduler
}

func New(p ServiceParam) *Service {
	return &Service{
		log:       p.Log.Named("upload.service"),
		uploadDir: p.Config.UploadDir,
		clock:     p.Clock,
		batches:   p.Batches,
		engine:    p.Engine,
		executor:  p.Executor,
		report:    p.Report,
		scheduler: p.Scheduler,
	}
}

// Submit stores the uploaded workbook, registers the batch, and enqueues the
// job. It returns as soon as the batch id is durable; processing happens
// asynchronously.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*batchdomain.Batch, error) {
	if !strings.EqualFold(filepath.Ext(req.Filename), ".xlsx") {
		return nil, ErrUnsupportedFile
	}

	batchID := batchdomain.NewBatchID(s.clock.Now())
	path, err := s.saveFile(batchID, req.File)
	if err != nil {
		return nil, err
	}

	batch, err := s.batches.Create(ctx, batchdomain.CreateBatchRequest{
		BatchID:          batchID,
		UploaderID:       req.UploaderID,
		OriginalFilename: filepath.Base(req.Filename),
		FilePath:         path,
	})
	if err != nil {
		return nil, err
	}

	if err := s.scheduler.Enqueue(ctx, runner.Job{BatchID: batchID}); err != nil {
		// The batch stays in created state; a later resubmission of the job
		// can still claim it.
		s.log.Error("enqueue failed", zap.String("batch_id", batchID), zap.Error(err))
		return nil, fmt.Errorf("enqueue batch: %w", err)
	}

	metrics.Pipeline().IncBatchSubmitted()
	s.log.Info("batch submitted",
		zap.String("batch_id", batchID),
		zap.String("filename", batch.OriginalFilename),
	)
	return batch, nil
}

func (s *Service) saveFile(batchID string, file io.Reader) (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(s.uploadDir, batchID+".xlsx")

	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	defer dst.Close()

	n, err := io.Copy(dst, file)
	if err != nil {
		return "", fmt.Errorf("store upload file: %w", err)
	}
	if n == 0 {
		return "", ErrEmptyFile
	}
	return path, nil
}

// Process is one pipeline attempt over a claimed batch. The runner owns the
// lifecycle around it: Process never transitions the batch to a terminal
// state itself, it only reports the outcome.
func (s *Service) Process(ctx context.Context, batchID string, state *executor.State) (runner.Outcome, error) {
	batch, err := s.batches.Get(ctx, batchID)
	if err != nil {
		return runner.Outcome{}, err
	}

	data, err := os.ReadFile(batch.FilePath)
	if err != nil {
		return runner.Outcome{}, fmt.Errorf("read upload file: %w", err)
	}

	sheets, err := decoder.Decode(data)
	if err != nil {
		return runner.Outcome{}, err
	}
	if err := s.batches.SetTotalRows(ctx, batchID, len(sheets[decoder.SheetDrivers])); err != nil {
		return runner.Outcome{}, err
	}

	result, err := s.engine.Validate(ctx, batchID, sheets)
	if err != nil {
		return runner.Outcome{}, err
	}

	if err := s.executor.Persist(ctx, batch, result.Records, state); err != nil {
		return runner.Outcome{}, err
	}
	valid, invalid := state.Counts()
	if state.Cancelled() {
		return runner.Outcome{
			Status:       batchdomain.BatchStatusCancelled,
			ValidCount:   valid,
			InvalidCount: invalid,
		}, nil
	}

	var reportLocation *string
	if errs := result.AllErrors(); len(errs) > 0 {
		location, err := s.report.Write(batch.OriginalFilename, batchID, errs)
		if err != nil {
			return runner.Outcome{}, fmt.Errorf("write error report: %w", err)
		}
		reportLocation = &location
		metrics.Pipeline().IncReportWritten()
	}

	if err := s.batches.RecordOutcome(ctx, batchID, valid, invalid, reportLocation); err != nil {
		return runner.Outcome{}, err
	}
	return runner.Outcome{
		Status:       batchdomain.BatchStatusCompleted,
		ValidCount:   valid,
		InvalidCount: invalid,
	}, nil
}

// OpenErrorReport streams a previously written report artifact.
func (s *Service) OpenErrorReport(ctx context.Context, batchID string) (*os.File, *batchdomain.Batch, error) {
	batch, err := s.batches.Get(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}
	if batch.ErrorReportLocation == nil {
		return nil, batch, nil
	}
	f, err := s.report.Open(*batch.ErrorReportLocation)
	if err != nil {
		return nil, nil, fmt.Errorf("open error report: %w", err)
	}
	return f, batch, nil
}
