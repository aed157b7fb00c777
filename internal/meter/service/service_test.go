package service

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	meterdomain "github.com/smallbiznis/meterflow/internal/meter/domain"
	"github.com/smallbiznis/meterflow/internal/meter/repository"
	"github.com/smallbiznis/meterflow/internal/testutil"
	"github.com/smallbiznis/meterflow/pkg/billingerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) meterdomain.Service {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return New(Params{
		DB:    testutil.OpenSQLite(t, &meterdomain.BillableMetric{}),
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
	})
}

func TestCreateValidates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  meterdomain.CreateRequest
		want error
	}{
		{"missing org", meterdomain.CreateRequest{EventName: "api_call", AggregationType: "count"}, meterdomain.ErrInvalidOrganization},
		{"missing event", meterdomain.CreateRequest{OrganizationID: 1, AggregationType: "count"}, meterdomain.ErrInvalidEventName},
		{"bad aggregation", meterdomain.CreateRequest{OrganizationID: 1, EventName: "x", AggregationType: "avg"}, meterdomain.ErrInvalidAggregation},
		{"sum needs property", meterdomain.CreateRequest{OrganizationID: 1, EventName: "x", AggregationType: "sum"}, meterdomain.ErrMissingProperty},
		{"count rejects property", meterdomain.CreateRequest{OrganizationID: 1, EventName: "x", AggregationType: "count", PropertyName: "p"}, meterdomain.ErrUnexpectedProperty},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, billingerr.KindValidation, billingerr.KindOf(err))
		})
	}
}

func TestCreateAndGetMany(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	sum, err := svc.Create(ctx, meterdomain.CreateRequest{
		OrganizationID:  1,
		EventName:       " api_call ",
		PropertyName:    "num_requests",
		AggregationType: "SUM",
	})
	require.NoError(t, err)
	assert.Equal(t, "api_call", sum.EventName)
	assert.Equal(t, meterdomain.AggregationSum, sum.AggregationType)
	assert.Equal(t, "sum(num_requests) of api_call", sum.DisplayName())

	count, err := svc.Create(ctx, meterdomain.CreateRequest{
		OrganizationID:  1,
		EventName:       "api_call",
		AggregationType: meterdomain.AggregationCount,
	})
	require.NoError(t, err)

	_, err = svc.Create(ctx, meterdomain.CreateRequest{
		OrganizationID:  1,
		EventName:       "api_call",
		AggregationType: meterdomain.AggregationCount,
	})
	assert.ErrorIs(t, err, meterdomain.ErrAlreadyExists)

	byID, err := svc.GetMany(ctx, 1, []snowflake.ID{sum.ID, count.ID, sum.ID})
	require.NoError(t, err)
	assert.Len(t, byID, 2)

	_, err = svc.GetMany(ctx, 2, []snowflake.ID{sum.ID})
	assert.True(t, errors.Is(err, meterdomain.ErrNotFound))

	list, err := svc.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
