package repository

import (
	"context"
	"strings"

	"github.com/fleetdesk/fleetdesk/internal/driver/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) CreateAggregate(ctx context.Context, agg *domain.Aggregate) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&agg.Driver).Error; err != nil {
			return err
		}
		if len(agg.Addresses) > 0 {
			if err := tx.Create(&agg.Addresses).Error; err != nil {
				return err
			}
		}
		if len(agg.Documents) > 0 {
			if err := tx.Create(&agg.Documents).Error; err != nil {
				return err
			}
		}
		if len(agg.Employment) > 0 {
			if err := tx.Create(&agg.Employment).Error; err != nil {
				return err
			}
		}
		if len(agg.Incidents) > 0 {
			if err := tx.Create(&agg.Incidents).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *repository) PhoneExists(ctx context.Context, phone, excludeBatchID string) (bool, error) {
	return r.exists(ctx, &domain.Driver{},
		"LOWER(phone) = ? AND upload_batch_id <> ?", normalizeValue(phone), excludeBatchID)
}

func (r *repository) EmailExists(ctx context.Context, email, excludeBatchID string) (bool, error) {
	return r.exists(ctx, &domain.Driver{},
		"LOWER(email) = ? AND upload_batch_id <> ?", normalizeValue(email), excludeBatchID)
}

func (r *repository) DocumentNumberExists(ctx context.Context, number, excludeBatchID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.DriverDocument{}).
		Joins("JOIN drivers ON drivers.id = driver_documents.driver_id").
		Where("LOWER(driver_documents.number) = ? AND drivers.upload_batch_id <> ?",
			normalizeValue(number), excludeBatchID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) exists(ctx context.Context, model any, query string, args ...any) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(model).Where(query, args...).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func normalizeValue(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
