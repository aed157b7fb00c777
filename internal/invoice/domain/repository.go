package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert stores the invoice with its line items.
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Invoice, error)
	FindBySubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*Invoice, error)
	// ListOpen pages through non-terminal invoices with id greater than afterID.
	ListOpen(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]Invoice, error)
	// RecordCollection stores the outcome of a charge attempt. A reference is
	// only written while none is set; it reports false otherwise.
	RecordCollection(ctx context.Context, db *gorm.DB, id snowflake.ID, update CollectionUpdate) (bool, error)
	// UpdateStatus moves id from one status to another and reports whether
	// the row was still in status from.
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to Status) (bool, error)
}

// CollectionUpdate is the outcome of one charge attempt. An empty Reference
// records a failed attempt.
type CollectionUpdate struct {
	Provider  string
	Reference string
	Status    Status
	Error     string
}
