package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/smallbiznis/meterflow/internal/alert/domain"
	"github.com/smallbiznis/meterflow/internal/clock"
	invoicedomain "github.com/smallbiznis/meterflow/internal/invoice/domain"
	lifecycledomain "github.com/smallbiznis/meterflow/internal/lifecycle/domain"
	"github.com/smallbiznis/meterflow/internal/lifecycle/guard"
	"github.com/smallbiznis/meterflow/internal/lock"
	obscontext "github.com/smallbiznis/meterflow/internal/observability/context"
	"github.com/smallbiznis/meterflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/meterflow/internal/observability/metrics"
	plandomain "github.com/smallbiznis/meterflow/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/meterflow/internal/subscription/domain"
	"github.com/smallbiznis/meterflow/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultBatchSize = 100
	lockTimeout      = 30 * time.Second
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Repo          subscriptiondomain.Repository
	Subscriptions subscriptiondomain.Service
	Plans         plandomain.Service
	Invoices      invoicedomain.Service
	Locker        lock.Locker
	Clock         clock.Clock
	Alerts        alertdomain.Dispatcher
	Metrics       *obsmetrics.SchedulerMetrics `optional:"true"`
}

type Manager struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	repo          subscriptiondomain.Repository
	subscriptions subscriptiondomain.Service
	plans         plandomain.Service
	invoices      invoicedomain.Service
	locker        lock.Locker
	clock         clock.Clock
	alerts        alertdomain.Dispatcher
	metrics       *obsmetrics.SchedulerMetrics
	batchSize     int
}

func New(p Params) *Manager {
	return &Manager{
		db:            p.DB,
		log:           p.Log.Named("lifecycle.manager"),
		genID:         p.GenID,
		repo:          p.Repo,
		subscriptions: p.Subscriptions,
		plans:         p.Plans,
		invoices:      p.Invoices,
		locker:        p.Locker,
		clock:         p.Clock,
		alerts:        p.Alerts,
		metrics:       p.Metrics,
		batchSize:     defaultBatchSize,
	}
}

// StartPass activates every not_started subscription whose start date has
// arrived.
func (m *Manager) StartPass(ctx context.Context) (lifecycledomain.PassReport, error) {
	ctx, report := m.beginPass(ctx, lifecycledomain.PassStart)
	today := clock.Date(report.StartedAt)

	err := m.eachDue(ctx, today, m.repo.ListDueToStart, func(sub subscriptiondomain.Subscription) {
		m.record(ctx, &report, m.start(ctx, sub, today))
	})
	return m.finishPass(ctx, report, err)
}

// EndRenewPass ends every active subscription whose period is over, bills
// it and creates the renewal when it auto-renews. A subscription whose
// invoice cannot be generated stays active for the next pass.
func (m *Manager) EndRenewPass(ctx context.Context) (lifecycledomain.PassReport, error) {
	ctx, report := m.beginPass(ctx, lifecycledomain.PassEndRenew)
	today := clock.Date(report.StartedAt)

	err := m.eachDue(ctx, today, m.repo.ListDueToEnd, func(sub subscriptiondomain.Subscription) {
		m.record(ctx, &report, m.endRenew(ctx, sub, today))
	})
	return m.finishPass(ctx, report, err)
}

type listDueFunc func(ctx context.Context, db *gorm.DB, today time.Time, afterID snowflake.ID, limit int) ([]subscriptiondomain.Subscription, error)

// eachDue pages through due subscriptions by id so failures left in place
// are not fetched again within the same pass.
func (m *Manager) eachDue(ctx context.Context, today time.Time, list listDueFunc, fn func(subscriptiondomain.Subscription)) error {
	var afterID snowflake.ID
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		subs, err := list(ctx, m.db, today, afterID, m.batchSize)
		if err != nil {
			return fmt.Errorf("list due subscriptions: %w", err)
		}
		for _, sub := range subs {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn(sub)
		}
		if len(subs) < m.batchSize {
			return nil
		}
		afterID = subs[len(subs)-1].ID
	}
}

func (m *Manager) start(ctx context.Context, sub subscriptiondomain.Subscription, today time.Time) lifecycledomain.SubscriptionResult {
	result := lifecycledomain.SubscriptionResult{SubscriptionID: sub.ID, OrgID: sub.OrgID}

	if err := guard.EnsureSubscriptionCanStart(sub, today); err != nil {
		result.Outcome = lifecycledomain.OutcomeSkipped
		return result
	}
	ok, err := m.repo.Transition(ctx, m.db, sub.ID, subscriptiondomain.StatusNotStarted, subscriptiondomain.StatusActive, m.clock.Now())
	switch {
	case err != nil:
		result.Outcome = lifecycledomain.OutcomeFailed
		result.Err = err
	case ok:
		result.Outcome = lifecycledomain.OutcomeStarted
	default:
		result.Outcome = lifecycledomain.OutcomeSkipped
	}
	return result
}

func (m *Manager) endRenew(ctx context.Context, due subscriptiondomain.Subscription, today time.Time) (result lifecycledomain.SubscriptionResult) {
	result = lifecycledomain.SubscriptionResult{SubscriptionID: due.ID, OrgID: due.OrgID}
	fail := func(err error) lifecycledomain.SubscriptionResult {
		result.Outcome = lifecycledomain.OutcomeFailed
		result.Err = err
		return result
	}

	// Lock before any transaction: renewal creation and overlap checks for
	// this customer and plan must not interleave with another pass.
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	release, err := m.locker.Lock(lockCtx, lock.SubscriptionKey(due.OrgID, due.CustomerID, due.PlanID))
	cancel()
	if err != nil {
		return fail(fmt.Errorf("acquire subscription lock: %w", err))
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			m.log.Warn("subscription lock release failed", zap.String("subscription_id", due.ID.String()), zap.Error(err))
		}
	}()

	sub, err := m.repo.FindByID(ctx, m.db, due.ID)
	if err != nil {
		return fail(err)
	}
	if sub == nil || guard.EnsureSubscriptionCanEnd(*sub, today) != nil {
		result.Outcome = lifecycledomain.OutcomeSkipped
		return result
	}

	invoice, err := m.invoices.GenerateInvoice(ctx, *sub)
	if err != nil {
		return fail(fmt.Errorf("generate invoice: %w", err))
	}
	result.InvoiceID = invoice.ID

	var plan *plandomain.BillingPlan
	if sub.AutoRenew {
		plan, err = m.plans.Get(ctx, sub.OrgID, sub.PlanID)
		if err != nil {
			return fail(fmt.Errorf("load plan: %w", err))
		}
	}

	now := m.clock.Now()
	var renewal *subscriptiondomain.Subscription
	var renewalErr error
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := m.repo.FindByIDForUpdate(ctx, tx, sub.ID)
		if err != nil {
			return err
		}
		if locked == nil || locked.Status != subscriptiondomain.StatusActive {
			return errSkip
		}
		ok, err := m.repo.Transition(ctx, tx, sub.ID, subscriptiondomain.StatusActive, subscriptiondomain.StatusEnded, now)
		if err != nil {
			return err
		}
		if !ok {
			return errSkip
		}
		if !sub.AutoRenew {
			return nil
		}

		existing, err := m.repo.FindRenewal(ctx, tx, sub.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			renewal = existing
			return nil
		}

		candidate, err := m.buildRenewal(*sub, *plan, today, now)
		if err != nil {
			return err
		}
		if err := m.subscriptions.InsertChecked(ctx, tx, candidate); err != nil {
			if errors.Is(err, subscriptiondomain.ErrOverlapping) {
				// The period still ends; only the successor is refused.
				renewalErr = err
				return nil
			}
			return err
		}
		renewal = candidate
		return nil
	})

	switch {
	case errors.Is(err, errSkip):
		result.Outcome = lifecycledomain.OutcomeSkipped
	case err != nil:
		return fail(fmt.Errorf("end subscription: %w", err))
	case renewalErr != nil:
		result.Outcome = lifecycledomain.OutcomeRenewalRejected
		result.Err = renewalErr
	case renewal != nil:
		result.Outcome = lifecycledomain.OutcomeRenewed
		result.RenewalID = renewal.ID
	default:
		result.Outcome = lifecycledomain.OutcomeEnded
	}
	return result
}

var errSkip = errors.New("subscription already handled")

// buildRenewal starts the successor the day after sub ends, for one plan
// interval.
func (m *Manager) buildRenewal(sub subscriptiondomain.Subscription, plan plandomain.BillingPlan, today, now time.Time) (*subscriptiondomain.Subscription, error) {
	start := clock.AddDays(sub.EndDate, 1)
	end, err := plan.SubscriptionEndDate(start)
	if err != nil {
		return nil, err
	}
	predecessor := sub.ID
	return &subscriptiondomain.Subscription{
		ID:            m.genID.Generate(),
		OrgID:         sub.OrgID,
		CustomerID:    sub.CustomerID,
		PlanID:        sub.PlanID,
		StartDate:     start,
		EndDate:       end,
		Status:        subscriptiondomain.InitialStatus(start, end, today),
		AutoRenew:     sub.AutoRenew,
		IsNew:         false,
		RenewedFromID: &predecessor,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (m *Manager) beginPass(ctx context.Context, pass lifecycledomain.Pass) (context.Context, lifecycledomain.PassReport) {
	ctx, runID := correlation.EnsureCorrelationID(ctx)
	ctx = obscontext.WithRunID(ctx, runID)
	report := lifecycledomain.PassReport{
		Pass:      pass,
		RunID:     runID,
		StartedAt: m.clock.Now(),
	}
	logger.WithContext(ctx, m.log).Info("lifecycle.pass.start", zap.String("pass", string(pass)))
	return ctx, report
}

func (m *Manager) finishPass(ctx context.Context, report lifecycledomain.PassReport, err error) (lifecycledomain.PassReport, error) {
	report.FinishedAt = m.clock.Now()
	m.metrics.AddBatchProcessed(string(report.Pass), "subscription", report.Processed())

	fields := []zap.Field{
		zap.String("pass", string(report.Pass)),
		zap.Int("examined", len(report.Results)),
		zap.Int("processed", report.Processed()),
		zap.Int("failed", report.Count(lifecycledomain.OutcomeFailed)),
	}
	log := logger.WithContext(ctx, m.log)
	if err != nil {
		log.Warn("lifecycle.pass.aborted", append(fields, zap.Error(err))...)
		return report, err
	}
	log.Info("lifecycle.pass.finish", fields...)
	return report, nil
}

// record adds result to the report and surfaces failures. A failure never
// stops the pass.
func (m *Manager) record(ctx context.Context, report *lifecycledomain.PassReport, result lifecycledomain.SubscriptionResult) {
	report.Add(result)
	result = report.Results[len(report.Results)-1]
	m.metrics.IncPassOutcome(string(report.Pass), string(result.Outcome), string(result.ErrorKind))

	if result.Err == nil {
		return
	}
	logger.WithSubscription(logger.WithContext(ctx, m.log), result.OrgID.String(), result.SubscriptionID.String()).
		Error("scheduler.subscription.failed",
			zap.String("pass", string(report.Pass)),
			zap.String("outcome", string(result.Outcome)),
			zap.String("error_kind", string(result.ErrorKind)),
			zap.Error(result.Err),
		)

	source := alertdomain.SourceEndRenewPass
	if report.Pass == lifecycledomain.PassStart {
		source = alertdomain.SourceStartPass
	}
	alert := alertdomain.NewReport(source, result.Err)
	alert.OrgID = result.OrgID
	alert.SubscriptionID = result.SubscriptionID
	alert.InvoiceID = result.InvoiceID
	alert.Attributes = map[string]string{
		"run_id":  report.RunID,
		"outcome": string(result.Outcome),
	}
	m.alerts.Report(ctx, alert)
}
