package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	// InsertEvents writes events in chunks of batchSize, skipping any whose
	// (org_id, idempotency_id) already exists. It returns the rows inserted.
	InsertEvents(ctx context.Context, db *gorm.DB, events []Event, batchSize int) (int64, error)
	QueryEvents(ctx context.Context, db *gorm.DB, q EventQuery) ([]Event, error)
	// StreamEvents visits matching events in primary key order, batchSize at a time.
	StreamEvents(ctx context.Context, db *gorm.DB, q EventQuery, batchSize int, fn func([]Event) error) error
	CountEvents(ctx context.Context, db *gorm.DB, q EventQuery) (int64, error)
}
