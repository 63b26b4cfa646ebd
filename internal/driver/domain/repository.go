package domain

import "context"

// Repository owns all writes to the driver tables. The upload executor is the
// only caller of CreateAggregate; nothing else mutates these tables.
type Repository interface {
	// CreateAggregate inserts the driver and all child rows in one transaction.
	CreateAggregate(ctx context.Context, agg *Aggregate) error

	// The Exists lookups match trimmed values case-insensitively and skip rows
	// whose upload batch is excludeBatchID, so a retried attempt never collides
	// with records the same batch persisted on an earlier attempt.
	PhoneExists(ctx context.Context, phone, excludeBatchID string) (bool, error)
	EmailExists(ctx context.Context, email, excludeBatchID string) (bool, error)
	DocumentNumberExists(ctx context.Context, number, excludeBatchID string) (bool, error)
}
