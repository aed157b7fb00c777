package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/meterflow/internal/invoice/domain"
	"github.com/smallbiznis/meterflow/pkg/repository"
	"gorm.io/gorm"
)

const lineItemsAssociation = "LineItems"

type repo struct{}

func Provide() invoicedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, invoice *invoicedomain.Invoice) error {
	return repository.ProvideStore[invoicedomain.Invoice](db).Create(ctx, invoice)
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*invoicedomain.Invoice, error) {
	return repository.ProvideStore[invoicedomain.Invoice](db).FindOne(ctx,
		&invoicedomain.Invoice{ID: id, OrgID: orgID},
		repository.WithOrderedPreload(lineItemsAssociation, "position ASC"),
	)
}

func (r *repo) FindBySubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*invoicedomain.Invoice, error) {
	return repository.ProvideStore[invoicedomain.Invoice](db).FindOne(ctx,
		&invoicedomain.Invoice{SubscriptionID: subscriptionID},
		repository.WithOrderedPreload(lineItemsAssociation, "position ASC"),
	)
}

func (r *repo) ListOpen(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]invoicedomain.Invoice, error) {
	var invoices []invoicedomain.Invoice
	err := db.WithContext(ctx).
		Where("status IN ?", invoicedomain.OpenStatuses).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&invoices).Error
	return invoices, err
}

func (r *repo) RecordCollection(ctx context.Context, db *gorm.DB, id snowflake.ID, update invoicedomain.CollectionUpdate) (bool, error) {
	updates := map[string]any{
		"collection_provider":   update.Provider,
		"last_collection_error": update.Error,
		"collection_attempts":   gorm.Expr("collection_attempts + 1"),
	}
	if update.Reference != "" {
		updates["collection_reference_id"] = update.Reference
		updates["status"] = update.Status
	}
	res := db.WithContext(ctx).
		Model(&invoicedomain.Invoice{}).
		Where("id = ? AND collection_reference_id = ''", id).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to invoicedomain.Status) (bool, error) {
	res := db.WithContext(ctx).
		Model(&invoicedomain.Invoice{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	return res.RowsAffected > 0, res.Error
}
