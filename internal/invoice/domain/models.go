// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/meterflow/internal/payment/domain"
)

// Status tracks collection of an invoice. It starts pending and follows
// what the payment processor reports.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// OpenStatuses are polled by reconciliation.
var OpenStatuses = []Status{StatusPending, StatusProcessing, StatusFailed}

func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusCanceled
}

// StatusFromCollection maps a processor status onto an invoice status.
func StatusFromCollection(s paymentdomain.Status) Status {
	switch s {
	case paymentdomain.StatusProcessing:
		return StatusProcessing
	case paymentdomain.StatusSucceeded:
		return StatusSucceeded
	case paymentdomain.StatusFailed:
		return StatusFailed
	case paymentdomain.StatusCanceled:
		return StatusCanceled
	default:
		return StatusPending
	}
}

type LineKind string

const (
	LineKindUsage    LineKind = "usage"
	LineKindFlatRate LineKind = "flat_rate"
)

// Invoice bills one ended subscription. There is at most one invoice per
// subscription and its lines never change after creation.
type Invoice struct {
	ID                    snowflake.ID    `json:"id" gorm:"primaryKey"`
	OrgID                 snowflake.ID    `json:"organization_id" gorm:"column:org_id;not null;index"`
	CustomerID            snowflake.ID    `json:"customer_id" gorm:"not null;index"`
	SubscriptionID        snowflake.ID    `json:"subscription_id" gorm:"not null;uniqueIndex:ux_invoices_subscription"`
	PlanID                snowflake.ID    `json:"billing_plan_id" gorm:"column:billing_plan_id;not null"`
	PeriodStart           time.Time       `json:"period_start" gorm:"not null"`
	PeriodEnd             time.Time       `json:"period_end" gorm:"not null"`
	Currency              string          `json:"currency" gorm:"type:varchar(3);not null"`
	TotalAmount           decimal.Decimal `json:"total_amount" gorm:"type:numeric(38,12);not null"`
	Status                Status          `json:"status" gorm:"type:varchar(16);not null;index"`
	CollectionProvider    string          `json:"collection_provider" gorm:"type:varchar(32);not null;default:''"`
	CollectionReferenceID string          `json:"collection_reference_id" gorm:"type:varchar(255);not null;default:''"`
	CollectionAttempts    int             `json:"collection_attempts" gorm:"not null;default:0"`
	LastCollectionError   string          `json:"last_collection_error,omitempty" gorm:"type:text;not null;default:''"`
	LineItems             []LineItem      `json:"line_items" gorm:"foreignKey:InvoiceID"`
	CreatedAt             time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt             time.Time       `json:"updated_at" gorm:"not null"`
}

func (Invoice) TableName() string { return "invoices" }

// HasReference reports whether a collection was ever opened with the processor.
func (i Invoice) HasReference() bool {
	return i.CollectionReferenceID != ""
}

// LineItem is one charge on an invoice. Usage lines reference the plan
// component and metric they were rated from.
type LineItem struct {
	ID               snowflake.ID    `json:"id" gorm:"primaryKey"`
	InvoiceID        snowflake.ID    `json:"invoice_id" gorm:"not null;index"`
	Position         int             `json:"position" gorm:"not null"`
	Kind             LineKind        `json:"kind" gorm:"type:varchar(16);not null"`
	PlanComponentID  *snowflake.ID   `json:"plan_component_id,omitempty"`
	BillableMetricID *snowflake.ID   `json:"billable_metric_id,omitempty"`
	Description      string          `json:"description" gorm:"type:text;not null"`
	Quantity         decimal.Decimal `json:"quantity" gorm:"type:numeric(38,12);not null"`
	Amount           decimal.Decimal `json:"amount" gorm:"type:numeric(38,12);not null"`
	PeriodStart      time.Time       `json:"period_start" gorm:"not null"`
	PeriodEnd        time.Time       `json:"period_end" gorm:"not null"`
}

func (LineItem) TableName() string { return "invoice_line_items" }

// ReconcileReport summarises one reconciliation run.
type ReconcileReport struct {
	Checked   int `json:"checked"`
	Updated   int `json:"updated"`
	Collected int `json:"collected"`
	Failed    int `json:"failed"`
}
