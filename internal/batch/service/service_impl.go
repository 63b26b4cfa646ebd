package service

import (
	"context"
	"strings"

	"github.com/fleetdesk/fleetdesk/internal/batch/domain"
	"github.com/fleetdesk/fleetdesk/internal/clock"
	"github.com/fleetdesk/fleetdesk/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Log   *zap.Logger
	Repo  domain.Repository
	Clock clock.Clock
}

type Service struct {
	log   *zap.Logger
	repo  domain.Repository
	clock clock.Clock
}

func New(p ServiceParam) domain.Service {
	return &Service{
		log:   p.Log.Named("batch.service"),
		repo:  p.Repo,
		clock: p.Clock,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateBatchRequest) (*domain.Batch, error) {
	id := strings.TrimSpace(req.BatchID)
	if id == "" || !domain.ValidBatchID(id) {
		return nil, domain.ErrInvalidBatchID
	}

	now := s.clock.Now()
	b := &domain.Batch{
		ID:               id,
		UploaderID:       req.UploaderID,
		OriginalFilename: req.OriginalFilename,
		FilePath:         req.FilePath,
		Status:           domain.BatchStatusCreated,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.Create(ctx, b); err != nil {
		return nil, err
	}

	s.log.Info("batch created",
		zap.String("batch_id", b.ID),
		zap.String("filename", b.OriginalFilename),
	)
	return b, nil
}

func (s *Service) MarkProcessing(ctx context.Context, batchID string) error {
	ok, err := s.repo.Transition(ctx, batchID,
		[]domain.BatchStatus{domain.BatchStatusCreated},
		domain.BatchStatusProcessing,
		map[string]any{"updated_at": s.clock.Now()},
	)
	if err != nil {
		return err
	}
	if !ok {
		return s.transitionFailure(ctx, batchID)
	}
	return nil
}

func (s *Service) SetTotalRows(ctx context.Context, batchID string, total int) error {
	return s.repo.Update(ctx, batchID, map[string]any{
		"total_rows": total,
		"updated_at": s.clock.Now(),
	})
}

func (s *Service) AddRowOutcome(ctx context.Context, batchID string, validDelta, invalidDelta int) error {
	if validDelta == 0 && invalidDelta == 0 {
		return nil
	}
	return s.repo.AddCounts(ctx, batchID, validDelta, invalidDelta)
}

func (s *Service) RecordOutcome(ctx context.Context, batchID string, validCount, invalidCount int, reportLocation *string) error {
	b, err := s.repo.Get(ctx, batchID)
	if err != nil {
		return err
	}
	if b.Status.Terminal() {
		return domain.ErrBatchTerminal
	}

	patch := map[string]any{
		"valid_count":   validCount,
		"invalid_count": invalidCount,
		"updated_at":    s.clock.Now(),
	}
	if reportLocation != nil {
		patch["error_report_location"] = *reportLocation
	}
	return s.repo.Update(ctx, batchID, patch)
}

func (s *Service) MarkTerminal(ctx context.Context, batchID string, status domain.BatchStatus, failureReason *string) error {
	if !status.Terminal() {
		return domain.ErrInvalidTransition
	}

	now := s.clock.Now()
	patch := map[string]any{
		"updated_at":   now,
		"completed_at": now,
	}
	if failureReason != nil {
		patch["failure_reason"] = *failureReason
	}

	from := []domain.BatchStatus{domain.BatchStatusProcessing, domain.BatchStatusCancelling}
	if status == domain.BatchStatusFailed {
		// A batch whose file never decoded fails straight out of created.
		from = append(from, domain.BatchStatusCreated)
	}

	ok, err := s.repo.Transition(ctx, batchID, from, status, patch)
	if err != nil {
		return err
	}
	if !ok {
		return s.transitionFailure(ctx, batchID)
	}

	s.log.Info("batch terminal",
		zap.String("batch_id", batchID),
		zap.String("status", string(status)),
	)
	return nil
}

func (s *Service) RequestCancel(ctx context.Context, batchID string) error {
	ok, err := s.repo.Transition(ctx, batchID,
		[]domain.BatchStatus{domain.BatchStatusProcessing},
		domain.BatchStatusCancelling,
		map[string]any{"updated_at": s.clock.Now()},
	)
	if err != nil {
		return err
	}
	if !ok {
		return s.transitionFailure(ctx, batchID)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, batchID string) (*domain.Batch, error) {
	return s.repo.Get(ctx, batchID)
}

func (s *Service) List(ctx context.Context, req domain.ListBatchesRequest) (domain.ListBatchesResponse, error) {
	limit := req.PageSize
	if limit <= 0 {
		limit = 20
	}
	req.PageSize = limit

	batches, err := s.repo.List(ctx, req)
	if err != nil {
		return domain.ListBatchesResponse{}, err
	}

	page, info := pagination.BuildPageInfo(batches, limit, func(b domain.Batch) pagination.Cursor {
		return pagination.Cursor{ID: b.ID, CreatedAt: b.CreatedAt.Format("2006-01-02 15:04:05.999999999")}
	})
	return domain.ListBatchesResponse{PageInfo: info, Batches: page}, nil
}

func (s *Service) CountByValidationStatus(ctx context.Context, batchID string) (domain.ValidationCounts, error) {
	b, err := s.repo.Get(ctx, batchID)
	if err != nil {
		return domain.ValidationCounts{}, err
	}

	pending := b.TotalRows - b.ValidCount - b.InvalidCount
	if pending < 0 {
		pending = 0
	}
	return domain.ValidationCounts{
		TotalRows:    b.TotalRows,
		ValidCount:   b.ValidCount,
		InvalidCount: b.InvalidCount,
		PendingCount: pending,
	}, nil
}

// transitionFailure distinguishes "already finished" from "wrong state" for callers.
func (s *Service) transitionFailure(ctx context.Context, batchID string) error {
	b, err := s.repo.Get(ctx, batchID)
	if err != nil {
		return err
	}
	if b.Status.Terminal() {
		return domain.ErrBatchTerminal
	}
	return domain.ErrInvalidTransition
}
