// Package domain contains persistence models for drivers created by the bulk
// upload pipeline and their child rows.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Driver struct {
	ID                  snowflake.ID      `json:"id" gorm:"primaryKey"`
	FirstName           string            `json:"first_name" gorm:"type:text;not null"`
	LastName            string            `json:"last_name" gorm:"type:text;not null"`
	Phone               string            `json:"phone" gorm:"type:text;not null;uniqueIndex"`
	Email               string            `json:"email" gorm:"type:text;not null;uniqueIndex"`
	DateOfBirth         time.Time         `json:"date_of_birth" gorm:"not null"`
	VehicleRegistration string            `json:"vehicle_registration" gorm:"type:text;not null"`
	UploadBatchID       string            `json:"upload_batch_id" gorm:"type:text;index"` // provenance
	UploadRefID         string            `json:"upload_ref_id" gorm:"type:text"`
	Metadata            datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt           time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt           time.Time         `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Driver) TableName() string { return "drivers" }

type DriverAddress struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey"`
	DriverID      snowflake.ID `json:"driver_id" gorm:"not null;index"`
	AddressTypeID snowflake.ID `json:"address_type_id" gorm:"not null"`
	Line1         string       `json:"line1" gorm:"type:text;not null"`
	Line2         string       `json:"line2,omitempty" gorm:"type:text"`
	City          string       `json:"city" gorm:"type:text;not null"`
	State         string       `json:"state" gorm:"type:text;not null"`
	PostalCode    string       `json:"postal_code" gorm:"type:text;not null"`
	IsPrimary     bool         `json:"is_primary" gorm:"not null;default:false"`
	CreatedAt     time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (DriverAddress) TableName() string { return "driver_addresses" }

type DriverDocument struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	DriverID       snowflake.ID `json:"driver_id" gorm:"not null;index"`
	DocumentTypeID snowflake.ID `json:"document_type_id" gorm:"not null"`
	Number         string       `json:"number" gorm:"type:text;not null;uniqueIndex"`
	IssuedAt       *time.Time   `json:"issued_at,omitempty"`
	ExpiresAt      *time.Time   `json:"expires_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (DriverDocument) TableName() string { return "driver_documents" }

type DriverEmployment struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	DriverID  snowflake.ID `json:"driver_id" gorm:"not null;index"`
	Employer  string       `json:"employer" gorm:"type:text;not null"`
	Role      string       `json:"role,omitempty" gorm:"type:text"`
	StartedAt *time.Time   `json:"started_at,omitempty"`
	EndedAt   *time.Time   `json:"ended_at,omitempty"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (DriverEmployment) TableName() string { return "driver_employment_history" }

type DriverIncident struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	DriverID    snowflake.ID `json:"driver_id" gorm:"not null;index"`
	OccurredAt  *time.Time   `json:"occurred_at,omitempty"`
	Description string       `json:"description" gorm:"type:text;not null"`
	Severity    string       `json:"severity,omitempty" gorm:"type:text"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (DriverIncident) TableName() string { return "driver_incidents" }

// Aggregate is one driver with every child row persisted in the same transaction.
type Aggregate struct {
	Driver     Driver
	Addresses  []DriverAddress
	Documents  []DriverDocument
	Employment []DriverEmployment
	Incidents  []DriverIncident
}
