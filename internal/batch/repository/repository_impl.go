package repository

import (
	"context"
	"errors"

	"github.com/fleetdesk/fleetdesk/internal/batch/domain"
	"github.com/fleetdesk/fleetdesk/pkg/db"
	"github.com/fleetdesk/fleetdesk/pkg/db/pagination"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func Provide(conn *gorm.DB) domain.Repository {
	return &repository{db: conn}
}

func (r *repository) Create(ctx context.Context, b *domain.Batch) error {
	if err := r.db.WithContext(ctx).Create(b).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.ErrBatchExists
		}
		return err
	}
	return nil
}

func (r *repository) Get(ctx context.Context, batchID string) (*domain.Batch, error) {
	var b domain.Batch
	err := r.db.WithContext(ctx).Where("id = ?", batchID).First(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrBatchNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (r *repository) List(ctx context.Context, req domain.ListBatchesRequest) ([]domain.Batch, error) {
	stmt := r.db.WithContext(ctx).Model(&domain.Batch{})
	if req.UploaderID != 0 {
		stmt = stmt.Where("uploader_id = ?", req.UploaderID)
	}
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return nil, err
		}
		stmt = stmt.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	limit := req.PageSize
	if limit <= 0 {
		limit = 20
	}

	var batches []domain.Batch
	// Over-fetch one row so the caller can tell whether more pages exist.
	err := stmt.Order("created_at DESC, id DESC").Limit(limit + 1).Find(&batches).Error
	if err != nil {
		return nil, err
	}
	return batches, nil
}

func (r *repository) Transition(ctx context.Context, batchID string, from []domain.BatchStatus, to domain.BatchStatus, patch map[string]any) (bool, error) {
	updates := map[string]any{"status": to}
	for k, v := range patch {
		updates[k] = v
	}

	res := r.db.WithContext(ctx).Model(&domain.Batch{}).
		Where("id = ? AND status IN ?", batchID, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) AddCounts(ctx context.Context, batchID string, validDelta, invalidDelta int) error {
	running := []domain.BatchStatus{domain.BatchStatusProcessing, domain.BatchStatusCancelling}
	res := r.db.WithContext(ctx).Model(&domain.Batch{}).
		Where("id = ? AND status IN ?", batchID, running).
		Updates(map[string]any{
			"valid_count":   gorm.Expr("valid_count + ?", validDelta),
			"invalid_count": gorm.Expr("invalid_count + ?", invalidDelta),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

func (r *repository) Update(ctx context.Context, batchID string, patch map[string]any) error {
	res := r.db.WithContext(ctx).Model(&domain.Batch{}).
		Where("id = ?", batchID).
		Updates(patch)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrBatchNotFound
	}
	return nil
}
