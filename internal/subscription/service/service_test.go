package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/meterflow/internal/clock"
	"github.com/smallbiznis/meterflow/internal/lock"
	plandomain "github.com/smallbiznis/meterflow/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/meterflow/internal/subscription/domain"
	"github.com/smallbiznis/meterflow/internal/subscription/repository"
	"github.com/smallbiznis/meterflow/internal/testutil"
	"github.com/smallbiznis/meterflow/pkg/billingerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type planStub struct {
	plans map[snowflake.ID]plandomain.BillingPlan
}

func (p planStub) Create(context.Context, plandomain.CreateRequest) (*plandomain.BillingPlan, error) {
	return nil, nil
}

func (p planStub) Get(_ context.Context, _ snowflake.ID, id snowflake.ID) (*plandomain.BillingPlan, error) {
	plan, ok := p.plans[id]
	if !ok {
		return nil, plandomain.ErrNotFound
	}
	return &plan, nil
}

func (p planStub) List(context.Context, snowflake.ID) ([]plandomain.BillingPlan, error) {
	return nil, nil
}

func (p planStub) Update(context.Context, plandomain.UpdateRequest) (*plandomain.BillingPlan, error) {
	return nil, nil
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type fixture struct {
	db    *gorm.DB
	svc   subscriptiondomain.Service
	clock *clock.FakeClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	db := testutil.OpenSQLite(t, &subscriptiondomain.Subscription{})
	fake := clock.NewFakeClock(date(2024, 1, 10))
	plans := planStub{plans: map[snowflake.ID]plandomain.BillingPlan{
		100: {ID: 100, OrgID: 1, Currency: "USD", Interval: plandomain.IntervalMonth, FlatRate: decimal.NewFromInt(10)},
		200: {ID: 200, OrgID: 1, Currency: "USD", Interval: plandomain.IntervalWeek},
	}}

	svc := New(Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Repo:    repository.Provide(),
		PlanSvc: plans,
		Locker:  lock.NewLocalLocker(),
		Clock:   fake,
	})
	return fixture{db: db, svc: svc, clock: fake}
}

func TestCreateDerivesWindowAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		OrganizationID: 1, CustomerID: 7, PlanID: 100,
		StartDate: date(2024, 1, 1), AutoRenew: true,
	})
	require.NoError(t, err)
	assert.Equal(t, date(2024, 1, 31), sub.EndDate)
	assert.Equal(t, subscriptiondomain.StatusActive, sub.Status)
	assert.True(t, sub.IsNew)
	assert.Nil(t, sub.RenewedFromID)

	future, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		OrganizationID: 1, CustomerID: 7, PlanID: 200,
		StartDate: date(2024, 2, 5),
	})
	require.NoError(t, err)
	assert.Equal(t, date(2024, 2, 11), future.EndDate)
	assert.Equal(t, subscriptiondomain.StatusNotStarted, future.Status)
}

func TestCreateRejectsOverlappingLiveSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		OrganizationID: 1, CustomerID: 7, PlanID: 100, StartDate: date(2024, 1, 1),
	})
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		OrganizationID: 1, CustomerID: 7, PlanID: 100, StartDate: date(2024, 1, 31),
	})
	require.ErrorIs(t, err, subscriptiondomain.ErrOverlapping)
	assert.Equal(t, billingerr.KindOverlappingSubscription, billingerr.KindOf(err))

	// A different customer or plan is unaffected.
	_, err = f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		OrganizationID: 1, CustomerID: 8, PlanID: 100, StartDate: date(2024, 1, 15),
	})
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		OrganizationID: 1, CustomerID: 7, PlanID: 200, StartDate: date(2024, 1, 15),
	})
	require.NoError(t, err)

	// The day after the window closes is free.
	_, err = f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		OrganizationID: 1, CustomerID: 7, PlanID: 100, StartDate: date(2024, 2, 1),
	})
	require.NoError(t, err)
}

func TestEndedSubscriptionsDoNotBlockCreation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		OrganizationID: 1, CustomerID: 7, PlanID: 100, StartDate: date(2024, 1, 1),
	})
	require.NoError(t, err)

	ok, err := repository.Provide().Transition(ctx, f.db, sub.ID,
		subscriptiondomain.StatusActive, subscriptiondomain.StatusEnded, f.clock.Now())
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		OrganizationID: 1, CustomerID: 7, PlanID: 100, StartDate: date(2024, 1, 15),
	})
	require.NoError(t, err)
}

func TestConcurrentCreatesAdmitOnlyOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		created  int
		overlaps int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{
				OrganizationID: 1, CustomerID: 9, PlanID: 100, StartDate: date(2024, 1, 1),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case billingerr.KindOf(err) == billingerr.KindOverlappingSubscription:
				overlaps++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, workers-1, overlaps)
}

func TestCreateValidatesRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{CustomerID: 1, PlanID: 100, StartDate: date(2024, 1, 1)})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidOrganization)

	_, err = f.svc.Create(ctx, subscriptiondomain.CreateRequest{OrganizationID: 1, PlanID: 100, StartDate: date(2024, 1, 1)})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidCustomer)

	_, err = f.svc.Create(ctx, subscriptiondomain.CreateRequest{OrganizationID: 1, CustomerID: 1, PlanID: 100})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidStartDate)

	_, err = f.svc.Create(ctx, subscriptiondomain.CreateRequest{OrganizationID: 1, CustomerID: 1, PlanID: 999, StartDate: date(2024, 1, 1)})
	assert.ErrorIs(t, err, plandomain.ErrNotFound)
}

func TestPlanReferencesCountSubscriptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	refs := repository.NewPlanReferences(f.db, repository.Provide())
	count, err := refs.CountByPlan(ctx, 1, 100)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		OrganizationID: 1, CustomerID: 7, PlanID: 100, StartDate: date(2024, 1, 1),
	})
	require.NoError(t, err)

	count, err = refs.CountByPlan(ctx, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
