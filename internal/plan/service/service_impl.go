package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/samber/lo"
	meterdomain "github.com/smallbiznis/meterflow/internal/meter/domain"
	plandomain "github.com/smallbiznis/meterflow/internal/plan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       plandomain.Repository
	MeterSvc   meterdomain.Service
	References plandomain.ReferenceCounter
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       plandomain.Repository
	meterSvc   meterdomain.Service
	references plandomain.ReferenceCounter
}

func New(p Params) plandomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("plan.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		meterSvc:   p.MeterSvc,
		references: p.References,
	}
}

func (s *Service) Create(ctx context.Context, req plandomain.CreateRequest) (*plandomain.BillingPlan, error) {
	if req.OrganizationID == 0 {
		return nil, plandomain.ErrInvalidOrganization
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, plandomain.ErrInvalidName
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return nil, plandomain.ErrInvalidCurrency
	}
	interval := plandomain.Interval(strings.ToLower(strings.TrimSpace(string(req.Interval))))
	if !interval.Valid() {
		return nil, plandomain.ErrInvalidInterval
	}
	if req.FlatRate.IsNegative() {
		return nil, plandomain.ErrInvalidFlatRate
	}

	now := time.Now().UTC()
	plan := &plandomain.BillingPlan{
		ID:           s.genID.Generate(),
		OrgID:        req.OrganizationID,
		Name:         name,
		Code:         planCode(req.Code, name),
		Description:  strings.TrimSpace(req.Description),
		Currency:     currency,
		Interval:     interval,
		FlatRate:     req.FlatRate,
		PayInAdvance: req.PayInAdvance,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	components, err := s.buildComponents(ctx, plan, req.Components)
	if err != nil {
		return nil, err
	}
	plan.Components = components

	if err := s.repo.Insert(ctx, s.db, plan); err != nil {
		return nil, err
	}

	s.log.Info("billing plan created",
		zap.String("org_id", plan.OrgID.String()),
		zap.String("plan_id", plan.ID.String()),
		zap.Int("components", len(plan.Components)),
	)
	return plan, nil
}

func (s *Service) Get(ctx context.Context, orgID, id snowflake.ID) (*plandomain.BillingPlan, error) {
	plan, err := s.repo.FindByID(ctx, s.db, orgID, id)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, plandomain.ErrNotFound
	}
	return plan, nil
}

func (s *Service) List(ctx context.Context, orgID snowflake.ID) ([]plandomain.BillingPlan, error) {
	if orgID == 0 {
		return nil, plandomain.ErrInvalidOrganization
	}
	return s.repo.List(ctx, s.db, orgID)
}

func (s *Service) Update(ctx context.Context, req plandomain.UpdateRequest) (*plandomain.BillingPlan, error) {
	plan, err := s.Get(ctx, req.OrganizationID, req.ID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, plandomain.ErrInvalidName
		}
		plan.Name = name
	}
	if req.Description != nil {
		plan.Description = strings.TrimSpace(*req.Description)
	}
	plan.UpdatedAt = time.Now().UTC()

	if !req.ChangesPricing() {
		if err := s.repo.UpdateDetails(ctx, s.db, plan); err != nil {
			return nil, err
		}
		return plan, nil
	}

	refs, err := s.references.CountByPlan(ctx, plan.OrgID, plan.ID)
	if err != nil {
		return nil, err
	}
	if refs > 0 {
		return nil, plandomain.ErrPlanInUse
	}

	if req.FlatRate != nil {
		if req.FlatRate.IsNegative() {
			return nil, plandomain.ErrInvalidFlatRate
		}
		plan.FlatRate = *req.FlatRate
	}
	if req.PayInAdvance != nil {
		plan.PayInAdvance = *req.PayInAdvance
	}
	if req.Components != nil {
		components, err := s.buildComponents(ctx, plan, *req.Components)
		if err != nil {
			return nil, err
		}
		plan.Components = components
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.UpdateDetails(ctx, tx, plan); err != nil {
			return err
		}
		return s.repo.ReplacePricing(ctx, tx, plan)
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

func (s *Service) buildComponents(ctx context.Context, plan *plandomain.BillingPlan, reqs []plandomain.ComponentRequest) ([]plandomain.PlanComponent, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	metricIDs := lo.Map(reqs, func(r plandomain.ComponentRequest, _ int) snowflake.ID { return r.BillableMetricID })
	if dupes := lo.FindDuplicates(metricIDs); len(dupes) > 0 {
		return nil, plandomain.ErrDuplicateComponent
	}
	if _, err := s.meterSvc.GetMany(ctx, plan.OrgID, metricIDs); err != nil {
		return nil, plandomain.ErrInvalidComponent.With(err)
	}

	components := make([]plandomain.PlanComponent, 0, len(reqs))
	for i, r := range reqs {
		if r.FreeQuantity.IsNegative() || r.CostPerUnit.IsNegative() || r.UnitsPerCostIncrement.IsNegative() {
			return nil, plandomain.ErrInvalidComponent
		}
		components = append(components, plandomain.PlanComponent{
			ID:                    s.genID.Generate(),
			PlanID:                plan.ID,
			BillableMetricID:      r.BillableMetricID,
			FreeQuantity:          r.FreeQuantity,
			CostPerUnit:           r.CostPerUnit,
			UnitsPerCostIncrement: r.UnitsPerCostIncrement,
			Position:              i,
		})
	}
	return components, nil
}

func planCode(code, name string) string {
	if code = strings.TrimSpace(code); code != "" {
		return slug.Make(code)
	}
	return slug.Make(name)
}
