// Package aggregation turns stored events into one billable quantity per metric.
package aggregation

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/meterflow/internal/config"
	meterdomain "github.com/smallbiznis/meterflow/internal/meter/domain"
	subscriptiondomain "github.com/smallbiznis/meterflow/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/meterflow/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const streamBatchSize = 1000

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Repo   usagedomain.Repository
	Engine *config.EngineConfigHolder
}

// Aggregator is read-only; the same window and metric always yield the
// same quantity.
type Aggregator struct {
	db     *gorm.DB
	log    *zap.Logger
	repo   usagedomain.Repository
	engine *config.EngineConfigHolder
}

func New(p Params) *Aggregator {
	return &Aggregator{
		db:     p.DB,
		log:    p.Log.Named("usage.aggregation"),
		repo:   p.Repo,
		engine: p.Engine,
	}
}

// Aggregate computes metric over the subscription's customer events between
// its start date and the end of its end date.
func (a *Aggregator) Aggregate(ctx context.Context, sub subscriptiondomain.Subscription, metric meterdomain.BillableMetric) (decimal.Decimal, error) {
	if sub.EndDate.Before(sub.StartDate) {
		return decimal.Zero, usagedomain.ErrInvalidWindow
	}

	from, to := usagedomain.BillingWindow(sub.StartDate, sub.EndDate)
	q := usagedomain.EventQuery{
		OrgID:      sub.OrgID,
		CustomerID: sub.CustomerID,
		EventName:  metric.EventName,
		From:       from,
		To:         to,
	}

	switch metric.AggregationType {
	case meterdomain.AggregationCount:
		count, err := a.repo.CountEvents(ctx, a.db, q)
		if err != nil {
			return decimal.Zero, fmt.Errorf("count events: %w", err)
		}
		return decimal.NewFromInt(count), nil
	case meterdomain.AggregationSum:
		return a.reduce(ctx, q, newSum(metric.PropertyName))
	case meterdomain.AggregationMax:
		value, err := a.reduce(ctx, q, newMax(metric.PropertyName))
		if err == nil {
			return value, nil
		}
		if fallback, ok := a.engine.Get().Aggregation.EmptyMax(); ok && errors.Is(err, usagedomain.ErrNoData) {
			return fallback, nil
		}
		return decimal.Zero, err
	case meterdomain.AggregationUniqueCount:
		return a.reduce(ctx, q, newUnique(metric.PropertyName))
	default:
		return decimal.Zero, usagedomain.ErrInvalidAggregation.With(fmt.Errorf("aggregation %q", metric.AggregationType))
	}
}

func (a *Aggregator) reduce(ctx context.Context, q usagedomain.EventQuery, r reducer) (decimal.Decimal, error) {
	err := a.repo.StreamEvents(ctx, a.db, q, streamBatchSize, func(events []usagedomain.Event) error {
		for _, event := range events {
			props, err := event.PropertyMap()
			if err != nil {
				a.log.Warn("skipping event with undecodable properties",
					zap.String("event_id", event.ID.String()),
					zap.Error(err),
				)
				continue
			}
			r.add(props)
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("stream events: %w", err)
	}
	return r.result()
}
