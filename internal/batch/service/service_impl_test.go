package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fleetdesk/fleetdesk/internal/batch/domain"
	"github.com/fleetdesk/fleetdesk/internal/batch/repository"
	"github.com/fleetdesk/fleetdesk/internal/clock"
)

func setupService(t *testing.T) (domain.Service, *clock.FakeClock) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&domain.Batch{}))

	fake := clock.NewFakeClock(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	svc := New(ServiceParam{
		Log:   zap.NewNop(),
		Repo:  repository.Provide(db),
		Clock: fake,
	})
	return svc, fake
}

func createBatch(t *testing.T, svc domain.Service, fake *clock.FakeClock) *domain.Batch {
	t.Helper()
	b, err := svc.Create(context.Background(), domain.CreateBatchRequest{
		BatchID:          domain.NewBatchID(fake.Now()),
		UploaderID:       42,
		OriginalFilename: "drivers.xlsx",
		FilePath:         "/tmp/drivers.xlsx",
	})
	require.NoError(t, err)
	return b
}

func TestCreateRejectsInvalidID(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.Create(context.Background(), domain.CreateBatchRequest{BatchID: "not-a-ulid"})
	assert.ErrorIs(t, err, domain.ErrInvalidBatchID)
}

func TestCreateDuplicateID(t *testing.T) {
	svc, fake := setupService(t)
	b := createBatch(t, svc, fake)

	_, err := svc.Create(context.Background(), domain.CreateBatchRequest{
		BatchID:          b.ID,
		OriginalFilename: "again.xlsx",
		FilePath:         "/tmp/again.xlsx",
	})
	assert.ErrorIs(t, err, domain.ErrBatchExists)
}

func TestLifecycleHappyPath(t *testing.T) {
	svc, fake := setupService(t)
	ctx := context.Background()
	b := createBatch(t, svc, fake)

	require.NoError(t, svc.MarkProcessing(ctx, b.ID))
	require.NoError(t, svc.SetTotalRows(ctx, b.ID, 5))
	require.NoError(t, svc.AddRowOutcome(ctx, b.ID, 1, 0))
	require.NoError(t, svc.AddRowOutcome(ctx, b.ID, 2, 2))

	counts, err := svc.CountByValidationStatus(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, counts.TotalRows)
	assert.Equal(t, 3, counts.ValidCount)
	assert.Equal(t, 2, counts.InvalidCount)
	assert.Equal(t, 0, counts.PendingCount)

	location := "drivers-errors.xlsx"
	require.NoError(t, svc.RecordOutcome(ctx, b.ID, 3, 2, &location))
	require.NoError(t, svc.MarkTerminal(ctx, b.ID, domain.BatchStatusCompleted, nil))

	got, err := svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCompleted, got.Status)
	require.NotNil(t, got.ErrorReportLocation)
	assert.Equal(t, location, *got.ErrorReportLocation)
	require.NotNil(t, got.CompletedAt)
}

func TestMarkProcessingIsCompareAndSet(t *testing.T) {
	svc, fake := setupService(t)
	ctx := context.Background()
	b := createBatch(t, svc, fake)

	require.NoError(t, svc.MarkProcessing(ctx, b.ID))

	// A second claim must fail: the batch is no longer in created state.
	err := svc.MarkProcessing(ctx, b.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestTerminalBatchRejectsFurtherMutation(t *testing.T) {
	svc, fake := setupService(t)
	ctx := context.Background()
	b := createBatch(t, svc, fake)

	require.NoError(t, svc.MarkProcessing(ctx, b.ID))
	require.NoError(t, svc.MarkTerminal(ctx, b.ID, domain.BatchStatusCompleted, nil))

	assert.ErrorIs(t, svc.MarkProcessing(ctx, b.ID), domain.ErrBatchTerminal)
	assert.ErrorIs(t, svc.RequestCancel(ctx, b.ID), domain.ErrBatchTerminal)
	assert.ErrorIs(t, svc.RecordOutcome(ctx, b.ID, 1, 1, nil), domain.ErrBatchTerminal)
	assert.ErrorIs(t, svc.MarkTerminal(ctx, b.ID, domain.BatchStatusFailed, nil), domain.ErrBatchTerminal)
}

func TestFailedStraightFromCreated(t *testing.T) {
	svc, fake := setupService(t)
	ctx := context.Background()
	b := createBatch(t, svc, fake)

	reason := "malformed_input: missing sheet"
	require.NoError(t, svc.MarkTerminal(ctx, b.ID, domain.BatchStatusFailed, &reason))

	got, err := svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusFailed, got.Status)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, reason, *got.FailureReason)
}

func TestCompletedRequiresProcessing(t *testing.T) {
	svc, fake := setupService(t)
	b := createBatch(t, svc, fake)

	err := svc.MarkTerminal(context.Background(), b.ID, domain.BatchStatusCompleted, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCancelFlow(t *testing.T) {
	svc, fake := setupService(t)
	ctx := context.Background()
	b := createBatch(t, svc, fake)

	// Cancelling a batch that has not started is not allowed.
	assert.ErrorIs(t, svc.RequestCancel(ctx, b.ID), domain.ErrInvalidTransition)

	require.NoError(t, svc.MarkProcessing(ctx, b.ID))
	require.NoError(t, svc.RequestCancel(ctx, b.ID))

	got, err := svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCancelling, got.Status)

	// The executor observes the flag and finishes with cancelled.
	require.NoError(t, svc.MarkTerminal(ctx, b.ID, domain.BatchStatusCancelled, nil))
}

func TestAddRowOutcomeRequiresRunningBatch(t *testing.T) {
	svc, fake := setupService(t)
	ctx := context.Background()
	b := createBatch(t, svc, fake)

	err := svc.AddRowOutcome(ctx, b.ID, 1, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestGetUnknownBatch(t *testing.T) {
	svc, fake := setupService(t)

	_, err := svc.Get(context.Background(), domain.NewBatchID(fake.Now()))
	assert.ErrorIs(t, err, domain.ErrBatchNotFound)
}

func TestListPaginates(t *testing.T) {
	svc, fake := setupService(t)
	ctx := context.Background()

	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		b := createBatch(t, svc, fake)
		ids = append(ids, b.ID)
		fake.Advance(time.Minute)
	}

	first, err := svc.List(ctx, domain.ListBatchesRequest{UploaderID: 42, PageSize: 3})
	require.NoError(t, err)
	require.Len(t, first.Batches, 3)
	assert.True(t, first.HasMore)
	require.NotEmpty(t, first.NextPageToken)
	// Newest first.
	assert.Equal(t, ids[4], first.Batches[0].ID)

	second, err := svc.List(ctx, domain.ListBatchesRequest{
		UploaderID: 42,
		PageSize:   3,
		PageToken:  first.NextPageToken,
	})
	require.NoError(t, err)
	require.Len(t, second.Batches, 2)
	assert.False(t, second.HasMore)
	assert.Equal(t, ids[0], second.Batches[1].ID)
}
