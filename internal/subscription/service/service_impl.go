package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterflow/internal/clock"
	"github.com/smallbiznis/meterflow/internal/lock"
	plandomain "github.com/smallbiznis/meterflow/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/meterflow/internal/subscription/domain"
	"github.com/smallbiznis/meterflow/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    subscriptiondomain.Repository
	PlanSvc plandomain.Service
	Locker  lock.Locker
	Clock   clock.Clock
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    subscriptiondomain.Repository
	planSvc plandomain.Service
	locker  lock.Locker
	clock   clock.Clock
}

func New(p Params) subscriptiondomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("subscription.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		planSvc: p.PlanSvc,
		locker:  p.Locker,
		clock:   p.Clock,
	}
}

func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateRequest) (*subscriptiondomain.Subscription, error) {
	switch {
	case req.OrganizationID == 0:
		return nil, subscriptiondomain.ErrInvalidOrganization
	case req.CustomerID == 0:
		return nil, subscriptiondomain.ErrInvalidCustomer
	case req.PlanID == 0:
		return nil, subscriptiondomain.ErrInvalidPlan
	case req.StartDate.IsZero():
		return nil, subscriptiondomain.ErrInvalidStartDate
	}

	plan, err := s.planSvc.Get(ctx, req.OrganizationID, req.PlanID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	start := clock.Date(req.StartDate)
	end, err := plan.SubscriptionEndDate(start)
	if err != nil {
		return nil, err
	}
	sub := &subscriptiondomain.Subscription{
		ID:         s.genID.Generate(),
		OrgID:      req.OrganizationID,
		CustomerID: req.CustomerID,
		PlanID:     plan.ID,
		StartDate:  start,
		EndDate:    end,
		Status:     subscriptiondomain.InitialStatus(start, end, clock.Date(now)),
		AutoRenew:  req.AutoRenew,
		IsNew:      true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	// The lock comes first: on sqlite the transaction holds the only connection.
	release, err := s.locker.Lock(ctx, lock.SubscriptionKey(sub.OrgID, sub.CustomerID, sub.PlanID))
	if err != nil {
		return nil, fmt.Errorf("acquire subscription lock: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("subscription lock release failed", zap.Error(err))
		}
	}()

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.InsertChecked(ctx, tx, sub)
	}); err != nil {
		return nil, err
	}

	s.log.Info("subscription created",
		zap.String("org_id", sub.OrgID.String()),
		zap.String("subscription_id", sub.ID.String()),
		zap.String("customer_id", sub.CustomerID.String()),
		zap.String("billing_plan_id", sub.PlanID.String()),
		zap.String("status", string(sub.Status)),
		zap.Time("start_date", sub.StartDate),
		zap.Time("end_date", sub.EndDate),
	)
	return sub, nil
}

func (s *Service) Get(ctx context.Context, orgID, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	sub, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if sub == nil || sub.OrgID != orgID {
		return nil, subscriptiondomain.ErrNotFound
	}
	return sub, nil
}

func (s *Service) ListByCustomer(ctx context.Context, orgID, customerID snowflake.ID) ([]subscriptiondomain.Subscription, error) {
	if orgID == 0 {
		return nil, subscriptiondomain.ErrInvalidOrganization
	}
	if customerID == 0 {
		return nil, subscriptiondomain.ErrInvalidCustomer
	}
	return s.repo.ListByCustomer(ctx, s.db, orgID, customerID)
}

func (s *Service) InsertChecked(ctx context.Context, tx *gorm.DB, sub *subscriptiondomain.Subscription) error {
	overlapping, err := s.repo.FindOverlapping(ctx, tx, sub.OrgID, sub.CustomerID, sub.PlanID, sub.StartDate, sub.EndDate)
	if err != nil {
		return err
	}
	if len(overlapping) > 0 {
		return subscriptiondomain.ErrOverlapping.With(
			fmt.Errorf("subscription %s covers %s..%s",
				overlapping[0].ID,
				overlapping[0].StartDate.Format("2006-01-02"),
				overlapping[0].EndDate.Format("2006-01-02"),
			),
		)
	}

	if err := s.repo.Insert(ctx, tx, sub); err != nil {
		if db.IsDuplicateKeyErr(err) && sub.RenewedFromID != nil {
			return subscriptiondomain.ErrAlreadyRenewed
		}
		return err
	}
	return nil
}
