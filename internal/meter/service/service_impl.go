package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	meterdomain "github.com/smallbiznis/meterflow/internal/meter/domain"
	"github.com/smallbiznis/meterflow/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  meterdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  meterdomain.Repository
	genID *snowflake.Node
}

func New(p Params) meterdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("meter.service"),
		repo:  p.Repo,
		genID: p.GenID,
	}
}

func (s *Service) Create(ctx context.Context, req meterdomain.CreateRequest) (*meterdomain.BillableMetric, error) {
	if req.OrganizationID == 0 {
		return nil, meterdomain.ErrInvalidOrganization
	}

	eventName := strings.TrimSpace(req.EventName)
	if eventName == "" {
		return nil, meterdomain.ErrInvalidEventName
	}

	aggregation := meterdomain.AggregationType(strings.ToLower(strings.TrimSpace(string(req.AggregationType))))
	if !aggregation.Valid() {
		return nil, meterdomain.ErrInvalidAggregation
	}

	property := strings.TrimSpace(req.PropertyName)
	switch {
	case aggregation.RequiresProperty() && property == "":
		return nil, meterdomain.ErrMissingProperty
	case !aggregation.RequiresProperty() && property != "":
		return nil, meterdomain.ErrUnexpectedProperty
	}

	metric := &meterdomain.BillableMetric{
		ID:              s.genID.Generate(),
		OrgID:           req.OrganizationID,
		EventName:       eventName,
		PropertyName:    property,
		AggregationType: aggregation,
		CreatedAt:       time.Now().UTC(),
	}

	existing, err := s.repo.FindByDefinition(ctx, s.db, *metric)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, meterdomain.ErrAlreadyExists
	}

	if err := s.repo.Insert(ctx, s.db, metric); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, meterdomain.ErrAlreadyExists
		}
		return nil, err
	}

	s.log.Info("billable metric created",
		zap.String("org_id", metric.OrgID.String()),
		zap.String("metric_id", metric.ID.String()),
		zap.String("definition", metric.DisplayName()),
	)
	return metric, nil
}

func (s *Service) Get(ctx context.Context, orgID, id snowflake.ID) (*meterdomain.BillableMetric, error) {
	metric, err := s.repo.FindByID(ctx, s.db, orgID, id)
	if err != nil {
		return nil, err
	}
	if metric == nil {
		return nil, meterdomain.ErrNotFound
	}
	return metric, nil
}

func (s *Service) GetMany(ctx context.Context, orgID snowflake.ID, ids []snowflake.ID) (map[snowflake.ID]meterdomain.BillableMetric, error) {
	ids = lo.Uniq(ids)
	items, err := s.repo.FindByIDs(ctx, s.db, orgID, ids)
	if err != nil {
		return nil, err
	}

	byID := lo.KeyBy(items, func(m meterdomain.BillableMetric) snowflake.ID { return m.ID })
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			return nil, meterdomain.ErrNotFound.With(fmt.Errorf("metric %s", id))
		}
	}
	return byID, nil
}

func (s *Service) List(ctx context.Context, orgID snowflake.ID) ([]meterdomain.BillableMetric, error) {
	if orgID == 0 {
		return nil, meterdomain.ErrInvalidOrganization
	}
	return s.repo.List(ctx, s.db, orgID)
}
