// Package seed bootstraps the master data tables so a fresh install can
// validate uploads out of the box.
package seed

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	masterdomain "github.com/fleetdesk/fleetdesk/internal/masterdata/domain"
)

var defaultDocumentTypes = []struct {
	code    string
	name    string
	pattern string
}{
	{"driving_license", "Driving License", `^[A-Z]{2}[0-9]{13}$`},
	{"national_id", "National ID", `^[0-9]{12}$`},
	{"pan_card", "PAN Card", `^[A-Z]{5}[0-9]{4}[A-Z]$`},
}

var defaultAddressTypes = []struct {
	code string
	name string
}{
	{"home", "Home"},
	{"work", "Work"},
	{"permanent", "Permanent"},
}

// EnsureMasterData seeds document and address types, leaving existing rows
// untouched so operators can edit patterns in place.
func EnsureMasterData(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, dt := range defaultDocumentTypes {
			var count int64
			if err := tx.Model(&masterdomain.DocumentType{}).Where("code = ?", dt.code).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			row := masterdomain.DocumentType{
				ID:            node.Generate(),
				Code:          dt.code,
				Name:          dt.name,
				NumberPattern: dt.pattern,
				IsActive:      true,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		for _, at := range defaultAddressTypes {
			var count int64
			if err := tx.Model(&masterdomain.AddressType{}).Where("code = ?", at.code).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			row := masterdomain.AddressType{
				ID:       node.Generate(),
				Code:     at.code,
				Name:     at.name,
				IsActive: true,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
