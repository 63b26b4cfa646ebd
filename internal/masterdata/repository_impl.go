package masterdata

import (
	"context"

	"github.com/fleetdesk/fleetdesk/internal/masterdata/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) ListDocumentTypes(ctx context.Context) ([]domain.DocumentType, error) {
	var types []domain.DocumentType
	err := r.db.WithContext(ctx).
		Raw(`SELECT id, code, name, number_pattern, is_active FROM document_types WHERE is_active = true ORDER BY code`).
		Scan(&types).Error
	if err != nil {
		return nil, err
	}
	return types, nil
}

func (r *repository) ListAddressTypes(ctx context.Context) ([]domain.AddressType, error) {
	var types []domain.AddressType
	err := r.db.WithContext(ctx).
		Raw(`SELECT id, code, name, is_active FROM address_types WHERE is_active = true ORDER BY code`).
		Scan(&types).Error
	if err != nil {
		return nil, err
	}
	return types, nil
}
