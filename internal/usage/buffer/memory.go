package buffer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/smallbiznis/meterflow/internal/usage/domain"
)

type collection struct {
	events    []usagedomain.Event
	createdAt time.Time
}

// MemoryStager keeps staged events in process memory.
type MemoryStager struct {
	mu     sync.Mutex
	staged map[snowflake.ID]*collection
}

func NewMemoryStager() *MemoryStager {
	return &MemoryStager{staged: make(map[snowflake.ID]*collection)}
}

func (s *MemoryStager) Backend() string { return "memory" }

func (s *MemoryStager) Append(_ context.Context, event usagedomain.Event, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.staged[event.OrgID]
	if !ok {
		c = &collection{createdAt: now}
		s.staged[event.OrgID] = c
	}
	c.events = append(c.events, event)
	return nil
}

func (s *MemoryStager) Stages(context.Context) ([]Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stages := make([]Stage, 0, len(s.staged))
	for orgID, c := range s.staged {
		stages = append(stages, Stage{OrgID: orgID, Count: len(c.events), CreatedAt: c.createdAt})
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i].CreatedAt.Before(stages[j].CreatedAt) })
	return stages, nil
}

func (s *MemoryStager) Take(_ context.Context, orgID snowflake.ID) ([]usagedomain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.staged[orgID]
	if !ok {
		return nil, nil
	}
	delete(s.staged, orgID)
	return c.events, nil
}

func (s *MemoryStager) Restore(_ context.Context, orgID snowflake.ID, events []usagedomain.Event, createdAt time.Time) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.staged[orgID]
	if !ok {
		s.staged[orgID] = &collection{events: events, createdAt: createdAt}
		return nil
	}
	merged := make([]usagedomain.Event, 0, len(events)+len(c.events))
	merged = append(merged, events...)
	c.events = append(merged, c.events...)
	if createdAt.Before(c.createdAt) {
		c.createdAt = createdAt
	}
	return nil
}
