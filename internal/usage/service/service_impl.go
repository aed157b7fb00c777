package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterflow/internal/clock"
	"github.com/smallbiznis/meterflow/internal/usage/buffer"
	usagedomain "github.com/smallbiznis/meterflow/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Repo   usagedomain.Repository
	Buffer *buffer.Buffer
	Clock  clock.Clock
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	repo   usagedomain.Repository
	buffer *buffer.Buffer
	clock  clock.Clock
}

func New(p Params) usagedomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("usage.service"),
		genID:  p.GenID,
		repo:   p.Repo,
		buffer: p.Buffer,
		clock:  p.Clock,
	}
}

func (s *Service) Record(ctx context.Context, req usagedomain.RecordRequest) (*usagedomain.Event, error) {
	timestamp := req.Timestamp
	if timestamp.IsZero() {
		timestamp = s.clock.Now()
	}

	var properties datatypes.JSON
	if len(req.Properties) > 0 {
		raw, err := json.Marshal(req.Properties)
		if err != nil {
			return nil, usagedomain.ErrInvalidProperties.With(err)
		}
		properties = raw
	}

	event := usagedomain.Event{
		ID:            s.genID.Generate(),
		OrgID:         req.OrganizationID,
		CustomerID:    req.CustomerID,
		EventName:     strings.TrimSpace(req.EventName),
		Properties:    properties,
		Timestamp:     timestamp.UTC(),
		IdempotencyID: strings.TrimSpace(req.IdempotencyID),
		CreatedAt:     s.clock.Now(),
	}

	if err := s.buffer.Record(ctx, event); err != nil {
		return nil, err
	}

	// Ingest never waits on the event store. Whatever TryFlush skips or
	// fails on stays staged for the scheduled flush job.
	if _, err := s.buffer.TryFlush(ctx); err != nil {
		s.log.Warn("flush check failed", zap.Error(err))
	}
	return &event, nil
}

func (s *Service) ListEvents(ctx context.Context, q usagedomain.EventQuery) ([]usagedomain.Event, error) {
	switch {
	case q.OrgID == 0:
		return nil, usagedomain.ErrInvalidOrganization
	case q.CustomerID == 0:
		return nil, usagedomain.ErrInvalidCustomer
	case strings.TrimSpace(q.EventName) == "":
		return nil, usagedomain.ErrInvalidEventName
	case q.From.IsZero() || q.To.IsZero() || !q.From.Before(q.To):
		return nil, usagedomain.ErrInvalidWindow
	}
	return s.repo.QueryEvents(ctx, s.db, q)
}
