// Package domain contains the read-only master data consulted during validation.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// DocumentType describes one accepted identity/licence document and the shape
// its number must take on upload.
type DocumentType struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey"`
	Code          string       `json:"code" gorm:"type:text;not null;uniqueIndex"`
	Name          string       `json:"name" gorm:"type:text;not null"`
	NumberPattern string       `json:"number_pattern" gorm:"type:text;not null"`
	IsActive      bool         `json:"is_active" gorm:"not null;default:true"`
	CreatedAt     time.Time    `json:"created_at,omitempty" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (DocumentType) TableName() string { return "document_types" }

type AddressType struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	Code      string       `json:"code" gorm:"type:text;not null;uniqueIndex"`
	Name      string       `json:"name" gorm:"type:text;not null"`
	IsActive  bool         `json:"is_active" gorm:"not null;default:true"`
	CreatedAt time.Time    `json:"created_at,omitempty" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (AddressType) TableName() string { return "address_types" }
