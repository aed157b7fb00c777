// Package domain contains the usage event model and its contracts.
package domain

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterflow/internal/clock"
	"gorm.io/datatypes"
)

// Event is one metered occurrence reported by a customer integration.
// Events are immutable once durable and deduplicated per organization on
// IdempotencyID.
type Event struct {
	ID            snowflake.ID   `json:"id" gorm:"primaryKey;autoIncrement:false"`
	OrgID         snowflake.ID   `json:"organization_id" gorm:"column:org_id;not null;uniqueIndex:ux_events_org_idempotency,priority:1;index:ix_events_lookup,priority:1"`
	CustomerID    snowflake.ID   `json:"customer_id" gorm:"not null;index:ix_events_lookup,priority:2"`
	EventName     string         `json:"event_name" gorm:"type:varchar(255);not null;index:ix_events_lookup,priority:3"`
	Properties    datatypes.JSON `json:"properties"`
	Timestamp     time.Time      `json:"timestamp" gorm:"column:occurred_at;not null;index:ix_events_lookup,priority:4"`
	IdempotencyID string         `json:"idempotency_id" gorm:"type:varchar(255);not null;uniqueIndex:ux_events_org_idempotency,priority:2"`
	CreatedAt     time.Time      `json:"created_at" gorm:"not null"`
}

func (Event) TableName() string { return "events" }

// Validate checks the fields every staged event must carry.
func (e Event) Validate() error {
	switch {
	case e.OrgID == 0:
		return ErrInvalidOrganization
	case e.CustomerID == 0:
		return ErrInvalidCustomer
	case strings.TrimSpace(e.EventName) == "":
		return ErrInvalidEventName
	case strings.TrimSpace(e.IdempotencyID) == "":
		return ErrInvalidIdempotencyID
	case e.Timestamp.IsZero():
		return ErrInvalidTimestamp
	}

	if len(e.Properties) > 0 {
		if _, err := e.PropertyMap(); err != nil {
			return ErrInvalidProperties.With(err)
		}
	}
	return nil
}

// PropertyMap decodes Properties keeping numbers as json.Number so decimal
// values survive without float rounding.
func (e Event) PropertyMap() (map[string]any, error) {
	props := map[string]any{}
	if len(bytes.TrimSpace(e.Properties)) == 0 {
		return props, nil
	}

	dec := json.NewDecoder(bytes.NewReader(e.Properties))
	dec.UseNumber()
	if err := dec.Decode(&props); err != nil {
		return nil, err
	}
	if props == nil {
		props = map[string]any{}
	}
	return props, nil
}

// EventQuery selects events for one customer and event name in [From, To).
type EventQuery struct {
	OrgID      snowflake.ID
	CustomerID snowflake.ID
	EventName  string
	From       time.Time
	To         time.Time
}

// BillingWindow converts an inclusive [start, end] date range into the
// half-open timestamp range [start 00:00, end+1 00:00) UTC.
func BillingWindow(start, end time.Time) (time.Time, time.Time) {
	return clock.Date(start), clock.AddDays(end, 1)
}
