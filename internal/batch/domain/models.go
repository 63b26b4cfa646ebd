// Package domain contains the batch ledger: the lifecycle record for one bulk
// upload submission. Batches are kept forever for audit history.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type BatchStatus string

const (
	BatchStatusCreated    BatchStatus = "created"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCancelling BatchStatus = "cancelling"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
	BatchStatusCancelled  BatchStatus = "cancelled"
)

// Terminal reports whether no further mutation of the batch is permitted.
func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusCancelled:
		return true
	}
	return false
}

type Batch struct {
	ID                  string       `json:"id" gorm:"type:text;primaryKey"`
	UploaderID          snowflake.ID `json:"uploader_id" gorm:"not null;index"`
	OriginalFilename    string       `json:"original_filename" gorm:"type:text;not null"`
	FilePath            string       `json:"-" gorm:"type:text;not null"`
	TotalRows           int          `json:"total_rows" gorm:"not null;default:0"`
	ValidCount          int          `json:"valid_count" gorm:"not null;default:0"`
	InvalidCount        int          `json:"invalid_count" gorm:"not null;default:0"`
	Status              BatchStatus  `json:"status" gorm:"type:text;not null;index"`
	ErrorReportLocation *string      `json:"error_report_location,omitempty" gorm:"type:text"`
	FailureReason       *string      `json:"failure_reason,omitempty" gorm:"type:text"`
	CreatedAt           time.Time    `json:"created_at" gorm:"not null;index"`
	UpdatedAt           time.Time    `json:"updated_at" gorm:"not null"`
	CompletedAt         *time.Time   `json:"completed_at,omitempty"`
}

func (Batch) TableName() string { return "upload_batches" }

// ValidationCounts is the aggregate the UI polls while a batch is running.
type ValidationCounts struct {
	TotalRows    int `json:"total_rows"`
	ValidCount   int `json:"valid_count"`
	InvalidCount int `json:"invalid_count"`
	PendingCount int `json:"pending_count"`
}
