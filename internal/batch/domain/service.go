package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"

	"github.com/fleetdesk/fleetdesk/pkg/db/pagination"
)

var (
	ErrBatchExists       = errors.New("batch_exists")
	ErrBatchNotFound     = errors.New("batch_not_found")
	ErrInvalidTransition = errors.New("batch_invalid_transition")
	ErrBatchTerminal     = errors.New("batch_terminal")
	ErrInvalidBatchID    = errors.New("invalid_batch_id")
)

type CreateBatchRequest struct {
	BatchID          string
	UploaderID       snowflake.ID
	OriginalFilename string
	FilePath         string
}

type ListBatchesRequest struct {
	UploaderID snowflake.ID
	PageToken  string
	PageSize   int
}

type ListBatchesResponse struct {
	pagination.PageInfo
	Batches []Batch `json:"batches"`
}

// Service is the single source of truth for batch lifecycle state. Terminal
// states are enforced here, not trusted to callers.
type Service interface {
	// Create allocates a new batch in created state with zero counts.
	// A duplicate id yields ErrBatchExists.
	Create(ctx context.Context, req CreateBatchRequest) (*Batch, error)

	// MarkProcessing transitions created -> processing; any other current
	// state yields ErrInvalidTransition (or ErrBatchTerminal).
	MarkProcessing(ctx context.Context, batchID string) error

	// SetTotalRows records the decoded row count once the file is parsed.
	SetTotalRows(ctx context.Context, batchID string, total int) error

	// AddRowOutcome accumulates per-row results while the batch is running.
	AddRowOutcome(ctx context.Context, batchID string, validDelta, invalidDelta int) error

	// RecordOutcome stores the final counters and the error-report location.
	RecordOutcome(ctx context.Context, batchID string, validCount, invalidCount int, reportLocation *string) error

	// MarkTerminal transitions processing/cancelling to a terminal status.
	MarkTerminal(ctx context.Context, batchID string, status BatchStatus, failureReason *string) error

	// RequestCancel transitions processing -> cancelling; the executor checks
	// the flag between records.
	RequestCancel(ctx context.Context, batchID string) error

	Get(ctx context.Context, batchID string) (*Batch, error)
	List(ctx context.Context, req ListBatchesRequest) (ListBatchesResponse, error)
	CountByValidationStatus(ctx context.Context, batchID string) (ValidationCounts, error)
}
