// Package domain contains the subscription model and its contracts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterflow/internal/clock"
)

type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusActive     Status = "active"
	StatusEnded      Status = "ended"
)

// LiveStatuses are the statuses the overlap rule applies to.
var LiveStatuses = []Status{StatusNotStarted, StatusActive}

func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusActive, StatusEnded:
		return true
	default:
		return false
	}
}

func (s Status) Live() bool {
	return s == StatusNotStarted || s == StatusActive
}

// CanTransition reports whether from -> to is a lifecycle edge.
// ended is terminal.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusNotStarted:
		return to == StatusActive
	case StatusActive:
		return to == StatusEnded
	default:
		return false
	}
}

// Subscription binds a customer to a billing plan for one period
// [StartDate, EndDate], both whole UTC days. Renewals are new rows linked
// through RenewedFromID.
type Subscription struct {
	ID            snowflake.ID  `json:"id" gorm:"primaryKey"`
	OrgID         snowflake.ID  `json:"organization_id" gorm:"column:org_id;not null;index:ix_subscriptions_triple,priority:1"`
	CustomerID    snowflake.ID  `json:"customer_id" gorm:"not null;index:ix_subscriptions_triple,priority:2"`
	PlanID        snowflake.ID  `json:"billing_plan_id" gorm:"column:billing_plan_id;not null;index:ix_subscriptions_triple,priority:3"`
	StartDate     time.Time     `json:"start_date" gorm:"not null"`
	EndDate       time.Time     `json:"end_date" gorm:"not null"`
	Status        Status        `json:"status" gorm:"type:varchar(16);not null;index"`
	AutoRenew     bool          `json:"auto_renew" gorm:"not null;default:false"`
	IsNew         bool          `json:"is_new" gorm:"not null;default:true"`
	RenewedFromID *snowflake.ID `json:"renewed_from_id,omitempty" gorm:"uniqueIndex"`
	EndedAt       *time.Time    `json:"ended_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time     `json:"updated_at" gorm:"not null"`
}

func (Subscription) TableName() string { return "subscriptions" }

// Overlaps reports whether [start, end] intersects the subscription's window.
func (s Subscription) Overlaps(start, end time.Time) bool {
	return !clock.Date(s.StartDate).After(clock.Date(end)) && !clock.Date(s.EndDate).Before(clock.Date(start))
}

// Contains reports whether date falls inside the subscription's window.
func (s Subscription) Contains(date time.Time) bool {
	return s.Overlaps(date, date)
}

// InitialStatus is active only while [start, end] contains today. A window
// already in the past stays not_started so the start pass activates it and
// the end pass bills it.
func InitialStatus(start, end, today time.Time) Status {
	day := clock.Date(today)
	if clock.Date(start).After(day) || clock.Date(end).Before(day) {
		return StatusNotStarted
	}
	return StatusActive
}
