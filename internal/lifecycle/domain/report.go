// Package domain describes the outcome of subscription lifecycle passes.
package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterflow/pkg/billingerr"
)

type Pass string

const (
	PassStart    Pass = "start"
	PassEndRenew Pass = "end_renew"
)

// Outcome is what a pass did with one subscription.
type Outcome string

const (
	// OutcomeStarted moved a subscription from not_started to active.
	OutcomeStarted Outcome = "started"
	// OutcomeEnded ended a subscription that does not renew.
	OutcomeEnded Outcome = "ended"
	// OutcomeRenewed ended a subscription and created its successor.
	OutcomeRenewed Outcome = "renewed"
	// OutcomeRenewalRejected ended a subscription whose successor would
	// overlap a live subscription.
	OutcomeRenewalRejected Outcome = "renewal_rejected"
	// OutcomeSkipped means another pass already handled the subscription.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFailed left the subscription untouched for a later pass.
	OutcomeFailed Outcome = "failed"
)

type SubscriptionResult struct {
	SubscriptionID snowflake.ID    `json:"subscription_id"`
	OrgID          snowflake.ID    `json:"organization_id"`
	Outcome        Outcome         `json:"outcome"`
	InvoiceID      snowflake.ID    `json:"invoice_id,omitempty"`
	RenewalID      snowflake.ID    `json:"renewal_id,omitempty"`
	ErrorKind      billingerr.Kind `json:"error_kind,omitempty"`
	Err            error           `json:"-"`
}

// PassReport lists one result per subscription a pass looked at.
type PassReport struct {
	Pass       Pass                 `json:"pass"`
	RunID      string               `json:"run_id"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
	Results    []SubscriptionResult `json:"results"`
}

func (r *PassReport) Add(result SubscriptionResult) {
	if result.Err != nil && result.ErrorKind == "" {
		result.ErrorKind = billingerr.KindOf(result.Err)
	}
	r.Results = append(r.Results, result)
}

func (r PassReport) Count(outcome Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

// Processed counts subscriptions the pass changed.
func (r PassReport) Processed() int {
	return len(r.Results) - r.Count(OutcomeSkipped) - r.Count(OutcomeFailed)
}

// Err joins every per-subscription error, or nil when all succeeded.
func (r PassReport) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("subscription %s: %w", res.SubscriptionID, res.Err))
		}
	}
	return errors.Join(errs...)
}

// Manager drives subscriptions through not_started -> active -> ended.
// Both passes are safe to run concurrently with themselves and each other.
type Manager interface {
	StartPass(ctx context.Context) (PassReport, error)
	EndRenewPass(ctx context.Context) (PassReport, error)
}
