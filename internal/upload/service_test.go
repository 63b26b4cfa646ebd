package upload

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	batchdomain "github.com/fleetdesk/fleetdesk/internal/batch/domain"
	batchrepo "github.com/fleetdesk/fleetdesk/internal/batch/repository"
	batchservice "github.com/fleetdesk/fleetdesk/internal/batch/service"
	"github.com/fleetdesk/fleetdesk/internal/clock"
	"github.com/fleetdesk/fleetdesk/internal/config"
	driverdomain "github.com/fleetdesk/fleetdesk/internal/driver/domain"
	driverrepo "github.com/fleetdesk/fleetdesk/internal/driver/repository"
	"github.com/fleetdesk/fleetdesk/internal/masterdata"
	masterdomain "github.com/fleetdesk/fleetdesk/internal/masterdata/domain"
	"github.com/fleetdesk/fleetdesk/internal/upload/decoder"
	"github.com/fleetdesk/fleetdesk/internal/upload/executor"
	"github.com/fleetdesk/fleetdesk/internal/upload/notify"
	"github.com/fleetdesk/fleetdesk/internal/upload/report"
	"github.com/fleetdesk/fleetdesk/internal/upload/runner"
	"github.com/fleetdesk/fleetdesk/internal/upload/validate"
)

// schedulerStub records enqueued jobs instead of running them, so the test
// drives the runner by hand.
type schedulerStub struct {
	mu   sync.Mutex
	jobs []runner.Job
}

func (s *schedulerStub) Enqueue(ctx context.Context, job runner.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *schedulerStub) enqueued() []runner.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]runner.Job(nil), s.jobs...)
}

type pipelineFixture struct {
	service   *Service
	runner    *runner.Runner
	batches   batchdomain.Service
	scheduler *schedulerStub
	db        *gorm.DB
}

func setupPipeline(t *testing.T) *pipelineFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&batchdomain.Batch{},
		&masterdomain.DocumentType{},
		&masterdomain.AddressType{},
		&driverdomain.Driver{},
		&driverdomain.DriverAddress{},
		&driverdomain.DriverDocument{},
		&driverdomain.DriverEmployment{},
		&driverdomain.DriverIncident{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	require.NoError(t, db.Create([]masterdomain.DocumentType{
		{ID: node.Generate(), Code: "driving_license", Name: "Driving License", NumberPattern: `^[A-Z]{2}[0-9]{13}$`, IsActive: true},
	}).Error)
	require.NoError(t, db.Create([]masterdomain.AddressType{
		{ID: node.Generate(), Code: "home", Name: "Home", IsActive: true},
	}).Error)

	fake := clock.NewFakeClock(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	cfg := config.Config{
		UploadDir: t.TempDir(),
		ReportDir: t.TempDir(),
	}
	rules := config.NewStaticRulesConfigHolder(config.RulesConfig{
		MinDriverAgeYears: 18,
		MaxAttempts:       3,
		BackoffBase:       time.Millisecond,
		AttemptTimeout:    5 * time.Second,
		PoolWorkers:       1,
	})

	batches := batchservice.New(batchservice.ServiceParam{
		Log: log, Repo: batchrepo.Provide(db), Clock: fake,
	})
	drivers := driverrepo.Provide(db)
	hub := notify.NewHub()

	engine := validate.NewEngine(validate.EngineParam{
		Log:        log,
		MasterData: masterdata.NewRepository(db),
		Drivers:    drivers,
		Rules:      rules,
		Clock:      fake,
	})
	exec := executor.New(executor.ExecutorParam{
		Log: log, Drivers: drivers, Batches: batches, Hub: hub, GenID: node,
	})
	writer := report.NewWriter(report.WriterParam{Log: log, Config: cfg})

	sched := &schedulerStub{}
	svc := New(ServiceParam{
		Log:       log,
		Config:    cfg,
		Clock:     fake,
		Batches:   batches,
		Engine:    engine,
		Executor:  exec,
		Report:    writer,
		Scheduler: sched,
	})

	run := runner.NewRunner(runner.RunnerParam{
		Log: log, Batches: batches, Pipeline: svc, Rules: rules, Hub: hub,
	})
	return &pipelineFixture{service: svc, runner: run, batches: batches, scheduler: sched, db: db}
}

func workbookBytes(t *testing.T, sheets map[string][][]string) []byte {
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

func mixedWorkbook(t *testing.T) []byte {
	t.Helper()
	return workbookBytes(t, map[string][][]string{
		decoder.SheetDrivers: {
			decoder.Headers(decoder.SheetDrivers),
			{"D-1", "Asha", "Rao", "9876543210", "d1@example.com", "1990-04-12", "KA01AB1234"},
			{"D-2", "Vik", "Shah", "9876543211", "d2@example.com", "1988-01-30", "MH12CD5678"},
			{"D-3", "Mira", "Das", "9876543212", "d3@example.com", "1992-11-05", "TN09EF9012"},
			// Underage: rejected by validation.
			{"D-4", "Ira", "Nair", "9876543213", "d4@example.com", "2012-01-01", "KL07GH3456"},
			// Missing last name and bad phone.
			{"D-5", "Zed", "", "12345", "d5@example.com", "1991-06-15", "AP02IJ7890"},
		},
		decoder.SheetAddresses: {
			decoder.Headers(decoder.SheetAddresses),
			{"D-1", "home", "12 MG Road", "", "Bengaluru", "KA", "560001", "yes"},
			{"D-2", "home", "4 Marine Drive", "", "Mumbai", "MH", "400001", "yes"},
			{"D-3", "home", "9 Anna Salai", "", "Chennai", "TN", "600002", "yes"},
			{"D-4", "home", "1 Beach Road", "", "Kochi", "KL", "682001", "yes"},
			{"D-5", "home", "7 Tank Bund", "", "Vijayawada", "AP", "520001", "yes"},
		},
		decoder.SheetDocuments: {
			decoder.Headers(decoder.SheetDocuments),
			{"D-1", "driving_license", "KA0123456789012", "2020-01-01", "2030-01-01"},
			{"D-2", "driving_license", "MH0123456789012", "2019-05-01", "2029-05-01"},
			{"D-3", "driving_license", "TN0123456789012", "2021-02-01", "2031-02-01"},
		},
	})
}

func TestSubmitRejectsUnsupportedExtension(t *testing.T) {
	f := setupPipeline(t)

	_, err := f.service.Submit(context.Background(), SubmitRequest{
		UploaderID: 7,
		Filename:   "drivers.csv",
		File:       bytes.NewReader([]byte("a,b,c")),
	})
	assert.ErrorIs(t, err, ErrUnsupportedFile)
	assert.Empty(t, f.scheduler.enqueued())
}

func TestSubmitRejectsEmptyFile(t *testing.T) {
	f := setupPipeline(t)

	_, err := f.service.Submit(context.Background(), SubmitRequest{
		UploaderID: 7,
		Filename:   "drivers.xlsx",
		File:       bytes.NewReader(nil),
	})
	assert.ErrorIs(t, err, ErrEmptyFile)
}

func TestSubmitCreatesBatchAndEnqueues(t *testing.T) {
	f := setupPipeline(t)

	batch, err := f.service.Submit(context.Background(), SubmitRequest{
		UploaderID: 7,
		Filename:   "March Drivers.xlsx",
		File:       bytes.NewReader(mixedWorkbook(t)),
	})
	require.NoError(t, err)
	assert.Equal(t, batchdomain.BatchStatusCreated, batch.Status)
	assert.Equal(t, "March Drivers.xlsx", batch.OriginalFilename)

	jobs := f.scheduler.enqueued()
	require.Len(t, jobs, 1)
	assert.Equal(t, batch.ID, jobs[0].BatchID)
}

func TestEndToEndMixedBatch(t *testing.T) {
	f := setupPipeline(t)
	ctx := context.Background()

	batch, err := f.service.Submit(ctx, SubmitRequest{
		UploaderID: 7,
		Filename:   "March Drivers.xlsx",
		File:       bytes.NewReader(mixedWorkbook(t)),
	})
	require.NoError(t, err)

	require.NoError(t, f.runner.Run(ctx, batch.ID))

	got, err := f.batches.Get(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, batchdomain.BatchStatusCompleted, got.Status)
	assert.Equal(t, 5, got.TotalRows)
	assert.Equal(t, 3, got.ValidCount)
	assert.Equal(t, 2, got.InvalidCount)
	require.NotNil(t, got.ErrorReportLocation)

	var drivers int64
	require.NoError(t, f.db.Model(&driverdomain.Driver{}).Count(&drivers).Error)
	assert.EqualValues(t, 3, drivers)

	var persisted driverdomain.Driver
	require.NoError(t, f.db.Where("upload_ref_id = ?", "D-1").First(&persisted).Error)
	assert.Equal(t, batch.ID, persisted.UploadBatchID)
	assert.Equal(t, "9876543210", persisted.Phone)

	file, reportBatch, err := f.service.OpenErrorReport(ctx, batch.ID)
	require.NoError(t, err)
	require.NotNil(t, file)
	defer file.Close()
	assert.Equal(t, batch.ID, reportBatch.ID)

	wb, err := excelize.OpenReader(file)
	require.NoError(t, err)
	defer wb.Close()
	rows, err := wb.GetRows("Errors")
	require.NoError(t, err)
	// Header plus one row per field error on D-4 and D-5.
	assert.GreaterOrEqual(t, len(rows), 4)
}

func TestRetriedAttemptKeepsReportAccurate(t *testing.T) {
	f := setupPipeline(t)
	ctx := context.Background()

	batch, err := f.service.Submit(ctx, SubmitRequest{
		UploaderID: 7,
		Filename:   "March Drivers.xlsx",
		File:       bytes.NewReader(mixedWorkbook(t)),
	})
	require.NoError(t, err)
	require.NoError(t, f.batches.MarkProcessing(ctx, batch.ID))

	// First attempt persists the valid records but the runner never sees the
	// outcome, as when the process dies between persist and the terminal
	// write. The retry shares the attempt state, exactly as the runner does.
	state := executor.NewState()
	_, err = f.service.Process(ctx, batch.ID, state)
	require.NoError(t, err)

	outcome, err := f.service.Process(ctx, batch.ID, state)
	require.NoError(t, err)
	assert.Equal(t, batchdomain.BatchStatusCompleted, outcome.Status)
	assert.Equal(t, 3, outcome.ValidCount)
	assert.Equal(t, 2, outcome.InvalidCount)

	var drivers int64
	require.NoError(t, f.db.Model(&driverdomain.Driver{}).Count(&drivers).Error)
	assert.EqualValues(t, 3, drivers)

	file, _, err := f.service.OpenErrorReport(ctx, batch.ID)
	require.NoError(t, err)
	require.NotNil(t, file)
	defer file.Close()

	wb, err := excelize.OpenReader(file)
	require.NoError(t, err)
	defer wb.Close()
	rows, err := wb.GetRows("Errors")
	require.NoError(t, err)

	// Rows the batch persisted itself must not reappear as duplicates.
	for _, row := range rows[1:] {
		require.GreaterOrEqual(t, len(row), 5)
		assert.Contains(t, []string{"D-4", "D-5"}, row[2])
		assert.NotEqual(t, validate.CodeDuplicateExisting, row[4])
	}
}

func TestEndToEndCleanBatchHasNoReport(t *testing.T) {
	f := setupPipeline(t)
	ctx := context.Background()

	wb := workbookBytes(t, map[string][][]string{
		decoder.SheetDrivers: {
			decoder.Headers(decoder.SheetDrivers),
			{"D-1", "Asha", "Rao", "9876543210", "d1@example.com", "1990-04-12", "KA01AB1234"},
		},
		decoder.SheetAddresses: {
			decoder.Headers(decoder.SheetAddresses),
			{"D-1", "home", "12 MG Road", "", "Bengaluru", "KA", "560001", "yes"},
		},
		decoder.SheetDocuments: {
			decoder.Headers(decoder.SheetDocuments),
			{"D-1", "driving_license", "KA0123456789012", "2020-01-01", "2030-01-01"},
		},
	})

	batch, err := f.service.Submit(ctx, SubmitRequest{
		UploaderID: 7, Filename: "clean.xlsx", File: bytes.NewReader(wb),
	})
	require.NoError(t, err)
	require.NoError(t, f.runner.Run(ctx, batch.ID))

	got, err := f.batches.Get(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, batchdomain.BatchStatusCompleted, got.Status)
	assert.Equal(t, 1, got.ValidCount)
	assert.Nil(t, got.ErrorReportLocation)

	file, reportBatch, err := f.service.OpenErrorReport(ctx, batch.ID)
	require.NoError(t, err)
	assert.Nil(t, file)
	assert.Equal(t, batch.ID, reportBatch.ID)
}

func TestEndToEndMalformedWorkbookFailsBatch(t *testing.T) {
	f := setupPipeline(t)
	ctx := context.Background()

	batch, err := f.service.Submit(ctx, SubmitRequest{
		UploaderID: 7,
		Filename:   "broken.xlsx",
		File:       bytes.NewReader([]byte("not an xlsx file at all")),
	})
	require.NoError(t, err)

	require.NoError(t, f.runner.Run(ctx, batch.ID))

	got, err := f.batches.Get(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, batchdomain.BatchStatusFailed, got.Status)
	assert.Equal(t, 0, got.ValidCount)
	require.NotNil(t, got.FailureReason)
	assert.Contains(t, *got.FailureReason, "malformed_input")
}

func TestRerunAfterCompletionIsNoOp(t *testing.T) {
	f := setupPipeline(t)
	ctx := context.Background()

	batch, err := f.service.Submit(ctx, SubmitRequest{
		UploaderID: 7,
		Filename:   "drivers.xlsx",
		File:       bytes.NewReader(mixedWorkbook(t)),
	})
	require.NoError(t, err)

	require.NoError(t, f.runner.Run(ctx, batch.ID))
	require.NoError(t, f.runner.Run(ctx, batch.ID))

	got, err := f.batches.Get(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.ValidCount)

	var drivers int64
	require.NoError(t, f.db.Model(&driverdomain.Driver{}).Count(&drivers).Error)
	assert.EqualValues(t, 3, drivers)
}
