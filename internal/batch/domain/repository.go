package domain

import "context"

// Repository persists batches. Transition is a compare-and-set: it moves the
// batch from one of the allowed statuses to the target and reports false when
// the batch was in any other state, which is what makes at-most-one effective
// execution per batch possible.
type Repository interface {
	Create(ctx context.Context, b *Batch) error
	Get(ctx context.Context, batchID string) (*Batch, error)
	List(ctx context.Context, req ListBatchesRequest) ([]Batch, error)

	Transition(ctx context.Context, batchID string, from []BatchStatus, to BatchStatus, patch map[string]any) (bool, error)
	AddCounts(ctx context.Context, batchID string, validDelta, invalidDelta int) error
	Update(ctx context.Context, batchID string, patch map[string]any) error
}
