package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	meterdomain "github.com/smallbiznis/meterflow/internal/meter/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() meterdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, m *meterdomain.BillableMetric) error {
	return db.WithContext(ctx).Create(m).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*meterdomain.BillableMetric, error) {
	var metric meterdomain.BillableMetric
	err := db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		Take(&metric).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &metric, nil
}

func (r *repo) FindByIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []snowflake.ID) ([]meterdomain.BillableMetric, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var metrics []meterdomain.BillableMetric
	err := db.WithContext(ctx).
		Where("org_id = ? AND id IN ?", orgID, ids).
		Find(&metrics).Error
	return metrics, err
}

func (r *repo) FindByDefinition(ctx context.Context, db *gorm.DB, m meterdomain.BillableMetric) (*meterdomain.BillableMetric, error) {
	var metric meterdomain.BillableMetric
	err := db.WithContext(ctx).
		Where("org_id = ? AND event_name = ? AND property_name = ? AND aggregation_type = ?",
			m.OrgID, m.EventName, m.PropertyName, m.AggregationType).
		Take(&metric).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &metric, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]meterdomain.BillableMetric, error) {
	var metrics []meterdomain.BillableMetric
	err := db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("created_at ASC, id ASC").
		Find(&metrics).Error
	return metrics, err
}
