package repository

import (
	"context"

	usagedomain "github.com/smallbiznis/meterflow/internal/usage/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultInsertBatchSize = 500

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

func (r *repo) InsertEvents(ctx context.Context, db *gorm.DB, events []usagedomain.Event, batchSize int) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = defaultInsertBatchSize
	}

	var inserted int64
	for start := 0; start < len(events); start += batchSize {
		end := start + batchSize
		if end > len(events) {
			end = len(events)
		}
		chunk := events[start:end]

		result := db.WithContext(ctx).
			Clauses(idempotencyConflict).
			Create(&chunk)
		if result.Error != nil {
			return inserted, result.Error
		}
		inserted += result.RowsAffected
	}
	return inserted, nil
}

func (r *repo) QueryEvents(ctx context.Context, db *gorm.DB, q usagedomain.EventQuery) ([]usagedomain.Event, error) {
	var events []usagedomain.Event
	err := scope(db.WithContext(ctx), q).
		Order("occurred_at ASC").
		Order("id ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) StreamEvents(ctx context.Context, db *gorm.DB, q usagedomain.EventQuery, batchSize int, fn func([]usagedomain.Event) error) error {
	if batchSize <= 0 {
		batchSize = defaultInsertBatchSize
	}
	var batch []usagedomain.Event
	return scope(db.WithContext(ctx), q).
		FindInBatches(&batch, batchSize, func(_ *gorm.DB, _ int) error {
			return fn(batch)
		}).Error
}

func (r *repo) CountEvents(ctx context.Context, db *gorm.DB, q usagedomain.EventQuery) (int64, error) {
	var count int64
	err := scope(db.WithContext(ctx).Model(&usagedomain.Event{}), q).Count(&count).Error
	return count, err
}

func scope(db *gorm.DB, q usagedomain.EventQuery) *gorm.DB {
	return db.Where("org_id = ? AND customer_id = ? AND event_name = ?", q.OrgID, q.CustomerID, q.EventName).
		Where("occurred_at >= ? AND occurred_at < ?", q.From, q.To)
}

// idempotencyConflict turns a replayed event into a no-op so a retried
// flush never duplicates rows.
var idempotencyConflict = clause.OnConflict{
	Columns:   []clause.Column{{Name: "org_id"}, {Name: "idempotency_id"}},
	DoNothing: true,
}
