package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, metric *BillableMetric) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*BillableMetric, error)
	FindByIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []snowflake.ID) ([]BillableMetric, error)
	FindByDefinition(ctx context.Context, db *gorm.DB, metric BillableMetric) (*BillableMetric, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]BillableMetric, error)
}
