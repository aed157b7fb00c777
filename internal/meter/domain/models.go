package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

type AggregationType string

const (
	AggregationCount       AggregationType = "count"
	AggregationSum         AggregationType = "sum"
	AggregationMax         AggregationType = "max"
	AggregationUniqueCount AggregationType = "unique_count"
)

func (a AggregationType) Valid() bool {
	switch a {
	case AggregationCount, AggregationSum, AggregationMax, AggregationUniqueCount:
		return true
	default:
		return false
	}
}

// RequiresProperty reports whether the aggregation reads an event property.
func (a AggregationType) RequiresProperty() bool {
	switch a {
	case AggregationSum, AggregationMax, AggregationUniqueCount:
		return true
	default:
		return false
	}
}

// BillableMetric describes how a stream of events becomes one billable quantity.
// Metrics are immutable once created.
type BillableMetric struct {
	ID              snowflake.ID    `json:"id" gorm:"primaryKey"`
	OrgID           snowflake.ID    `json:"organization_id" gorm:"column:org_id;not null;uniqueIndex:ux_billable_metrics_definition,priority:1"`
	EventName       string          `json:"event_name" gorm:"type:varchar(255);not null;uniqueIndex:ux_billable_metrics_definition,priority:2"`
	PropertyName    string          `json:"property_name" gorm:"type:varchar(255);not null;default:'';uniqueIndex:ux_billable_metrics_definition,priority:3"`
	AggregationType AggregationType `json:"aggregation_type" gorm:"type:varchar(32);not null;uniqueIndex:ux_billable_metrics_definition,priority:4"`
	CreatedAt       time.Time       `json:"created_at" gorm:"not null"`
}

func (BillableMetric) TableName() string { return "billable_metrics" }

// DisplayName renders the metric for invoice line descriptions,
// e.g. "sum(num_requests) of api_call".
func (m BillableMetric) DisplayName() string {
	if m.PropertyName == "" {
		return fmt.Sprintf("%s of %s", m.AggregationType, m.EventName)
	}
	return fmt.Sprintf("%s(%s) of %s", m.AggregationType, m.PropertyName, m.EventName)
}
