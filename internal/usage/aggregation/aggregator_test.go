package aggregation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/meterflow/internal/config"
	meterdomain "github.com/smallbiznis/meterflow/internal/meter/domain"
	subscriptiondomain "github.com/smallbiznis/meterflow/internal/subscription/domain"
	"github.com/smallbiznis/meterflow/internal/testutil"
	usagedomain "github.com/smallbiznis/meterflow/internal/usage/domain"
	"github.com/smallbiznis/meterflow/internal/usage/repository"
	"github.com/smallbiznis/meterflow/pkg/billingerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var sub = subscriptiondomain.Subscription{
	ID:         1,
	OrgID:      10,
	CustomerID: 20,
	PlanID:     30,
	StartDate:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	EndDate:    time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
}

type fixture struct {
	db  *gorm.DB
	agg *Aggregator
	seq int64
}

func newFixture(t *testing.T, emptyMax string) *fixture {
	t.Helper()
	db := testutil.OpenSQLite(t, &usagedomain.Event{})
	cfg := config.DefaultEngineConfig()
	cfg.Aggregation.EmptyMaxDefault = emptyMax
	return &fixture{
		db: db,
		agg: New(Params{
			DB:     db,
			Log:    zap.NewNop(),
			Repo:   repository.Provide(),
			Engine: config.NewStaticEngineConfigHolder(cfg),
		}),
	}
}

func (f *fixture) add(t *testing.T, name string, at time.Time, props string) {
	t.Helper()
	f.seq++
	_, err := repository.Provide().InsertEvents(context.Background(), f.db, []usagedomain.Event{{
		ID:            snowflake.ID(f.seq),
		OrgID:         sub.OrgID,
		CustomerID:    sub.CustomerID,
		EventName:     name,
		Properties:    datatypes.JSON(props),
		Timestamp:     at,
		IdempotencyID: fmt.Sprintf("k-%d", f.seq),
		CreatedAt:     at,
	}}, 0)
	require.NoError(t, err)
}

func metric(agg meterdomain.AggregationType, property string) meterdomain.BillableMetric {
	return meterdomain.BillableMetric{ID: 1, OrgID: sub.OrgID, EventName: "api_call", PropertyName: property, AggregationType: agg}
}

func mid() time.Time { return time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC) }

func TestCountOverEmptyWindowIsZero(t *testing.T) {
	f := newFixture(t, "")
	got, err := f.agg.Aggregate(context.Background(), sub, metric(meterdomain.AggregationCount, ""))
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestCountHonoursWindowBoundaries(t *testing.T) {
	f := newFixture(t, "")
	f.add(t, "api_call", time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC), `{}`)
	f.add(t, "api_call", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), `{}`)
	f.add(t, "api_call", time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC), `{}`)
	f.add(t, "api_call", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), `{}`)
	f.add(t, "other_event", mid(), `{}`)

	got, err := f.agg.Aggregate(context.Background(), sub, metric(meterdomain.AggregationCount, ""))
	require.NoError(t, err)
	assert.Equal(t, "2", got.String())
}

func TestSumSkipsMissingProperty(t *testing.T) {
	f := newFixture(t, "")
	f.add(t, "api_call", mid(), `{"num_requests":5}`)
	f.add(t, "api_call", mid(), `{"num_requests":3}`)
	f.add(t, "api_call", mid(), `{"other":1}`)

	got, err := f.agg.Aggregate(context.Background(), sub, metric(meterdomain.AggregationSum, "num_requests"))
	require.NoError(t, err)
	assert.Equal(t, "8", got.String())
}

func TestSumKeepsDecimalPrecisionAndSkipsNonNumeric(t *testing.T) {
	f := newFixture(t, "")
	f.add(t, "api_call", mid(), `{"gb":0.1}`)
	f.add(t, "api_call", mid(), `{"gb":0.2}`)
	f.add(t, "api_call", mid(), `{"gb":"0.3"}`)
	f.add(t, "api_call", mid(), `{"gb":"lots"}`)
	f.add(t, "api_call", mid(), `{"gb":true}`)
	f.add(t, "api_call", mid(), `{"gb":null}`)

	got, err := f.agg.Aggregate(context.Background(), sub, metric(meterdomain.AggregationSum, "gb"))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.6").Equal(got), got.String())
}

func TestMax(t *testing.T) {
	f := newFixture(t, "")
	f.add(t, "api_call", mid(), `{"seats":4}`)
	f.add(t, "api_call", mid(), `{"seats":11}`)
	f.add(t, "api_call", mid(), `{"seats":-2}`)
	f.add(t, "api_call", mid(), `{"other":100}`)

	got, err := f.agg.Aggregate(context.Background(), sub, metric(meterdomain.AggregationMax, "seats"))
	require.NoError(t, err)
	assert.Equal(t, "11", got.String())
}

func TestMaxWithoutDataFails(t *testing.T) {
	f := newFixture(t, "")
	f.add(t, "api_call", mid(), `{"other":1}`)

	_, err := f.agg.Aggregate(context.Background(), sub, metric(meterdomain.AggregationMax, "seats"))
	require.ErrorIs(t, err, usagedomain.ErrNoData)
	assert.Equal(t, billingerr.KindNoData, billingerr.KindOf(err))
}

func TestMaxWithoutDataUsesConfiguredDefault(t *testing.T) {
	f := newFixture(t, "0")
	got, err := f.agg.Aggregate(context.Background(), sub, metric(meterdomain.AggregationMax, "seats"))
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestUniqueCount(t *testing.T) {
	f := newFixture(t, "")
	f.add(t, "api_call", mid(), `{"user":"a"}`)
	f.add(t, "api_call", mid(), `{"user":"b"}`)
	f.add(t, "api_call", mid(), `{"user":"a"}`)
	f.add(t, "api_call", mid(), `{"user":1}`)
	f.add(t, "api_call", mid(), `{"user":1.0}`)
	f.add(t, "api_call", mid(), `{"user":"1"}`)
	f.add(t, "api_call", mid(), `{"user":null}`)
	f.add(t, "api_call", mid(), `{}`)

	got, err := f.agg.Aggregate(context.Background(), sub, metric(meterdomain.AggregationUniqueCount, "user"))
	require.NoError(t, err)
	// "a", "b", 1 and "1"
	assert.Equal(t, "4", got.String())
}

func TestAggregateIsDeterministic(t *testing.T) {
	f := newFixture(t, "")
	for i := 0; i < 25; i++ {
		f.add(t, "api_call", mid(), fmt.Sprintf(`{"n":%d}`, i))
	}
	m := metric(meterdomain.AggregationSum, "n")

	first, err := f.agg.Aggregate(context.Background(), sub, m)
	require.NoError(t, err)
	second, err := f.agg.Aggregate(context.Background(), sub, m)
	require.NoError(t, err)
	assert.True(t, first.Equal(second))
	assert.Equal(t, "300", first.String())
}

func TestUnknownAggregationRejected(t *testing.T) {
	f := newFixture(t, "")
	_, err := f.agg.Aggregate(context.Background(), sub, metric("median", "n"))
	assert.ErrorIs(t, err, usagedomain.ErrInvalidAggregation)
}
