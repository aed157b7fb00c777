package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"
	alertdomain "github.com/smallbiznis/meterflow/internal/alert/domain"
	"github.com/smallbiznis/meterflow/internal/clock"
	"github.com/smallbiznis/meterflow/internal/config"
	invoicedomain "github.com/smallbiznis/meterflow/internal/invoice/domain"
	meterdomain "github.com/smallbiznis/meterflow/internal/meter/domain"
	"github.com/smallbiznis/meterflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/meterflow/internal/observability/metrics"
	"github.com/smallbiznis/meterflow/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/meterflow/internal/payment/domain"
	plandomain "github.com/smallbiznis/meterflow/internal/plan/domain"
	ratingdomain "github.com/smallbiznis/meterflow/internal/rating/domain"
	subscriptiondomain "github.com/smallbiznis/meterflow/internal/subscription/domain"
	"github.com/smallbiznis/meterflow/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	ratingConcurrency = 4
	dateLayout        = "2006-01-02"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       invoicedomain.Repository
	Plans      plandomain.Service
	Meters     meterdomain.Service
	Aggregator invoicedomain.UsageAggregator
	Calculator ratingdomain.Calculator
	Collector  paymentdomain.Collector
	Alerts     alertdomain.Dispatcher
	Engine     *config.EngineConfigHolder
	Metrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       invoicedomain.Repository
	plans      plandomain.Service
	meters     meterdomain.Service
	aggregator invoicedomain.UsageAggregator
	calculator ratingdomain.Calculator
	collector  paymentdomain.Collector
	alerts     alertdomain.Dispatcher
	engine     *config.EngineConfigHolder
	metrics    *obsmetrics.Metrics
}

func New(p Params) invoicedomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("invoice.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		plans:      p.Plans,
		meters:     p.Meters,
		aggregator: p.Aggregator,
		calculator: p.Calculator,
		collector:  p.Collector,
		alerts:     p.Alerts,
		engine:     p.Engine,
		metrics:    p.Metrics,
	}
}

func (s *Service) Get(ctx context.Context, orgID, id snowflake.ID) (*invoicedomain.Invoice, error) {
	invoice, err := s.repo.FindByID(ctx, s.db, orgID, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrNotFound
	}
	return invoice, nil
}

func (s *Service) GetBySubscription(ctx context.Context, subscriptionID snowflake.ID) (*invoicedomain.Invoice, error) {
	invoice, err := s.repo.FindBySubscription(ctx, s.db, subscriptionID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrNotFound
	}
	return invoice, nil
}

func (s *Service) GenerateInvoice(ctx context.Context, sub subscriptiondomain.Subscription) (*invoicedomain.Invoice, error) {
	ctx, span := tracing.Start(ctx, "invoice.generate",
		attribute.String("org_id", sub.OrgID.String()),
		attribute.String("subscription_id", sub.ID.String()),
	)
	invoice, err := s.generateInvoice(ctx, sub)
	tracing.End(span, err)
	return invoice, err
}

func (s *Service) generateInvoice(ctx context.Context, sub subscriptiondomain.Subscription) (*invoicedomain.Invoice, error) {
	if sub.ID == 0 || sub.OrgID == 0 || sub.PlanID == 0 {
		return nil, invoicedomain.ErrInvalidSubscription
	}
	log := logger.WithSubscription(logger.WithContext(ctx, s.log), sub.OrgID.String(), sub.ID.String())

	existing, err := s.repo.FindBySubscription(ctx, s.db, sub.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	plan, err := s.plans.Get(ctx, sub.OrgID, sub.PlanID)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}

	lines, err := s.rateUsage(ctx, sub, *plan)
	if err != nil {
		return nil, err
	}
	flat, err := flatRateLines(sub, *plan)
	if err != nil {
		return nil, err
	}
	lines = append(lines, flat...)

	invoice := &invoicedomain.Invoice{
		ID:             s.genID.Generate(),
		OrgID:          sub.OrgID,
		CustomerID:     sub.CustomerID,
		SubscriptionID: sub.ID,
		PlanID:         plan.ID,
		PeriodStart:    clock.Date(sub.StartDate),
		PeriodEnd:      clock.Date(sub.EndDate),
		Currency:       plan.Currency,
		Status:         invoicedomain.StatusPending,
	}
	total := decimal.Zero
	for i := range lines {
		lines[i].ID = s.genID.Generate()
		lines[i].InvoiceID = invoice.ID
		lines[i].Position = i
		total = total.Add(lines[i].Amount)
	}
	invoice.LineItems = lines
	invoice.TotalAmount = ratingdomain.RoundAmount(total, plan.Currency)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.repo.Insert(ctx, tx, invoice)
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			if existing, ferr := s.repo.FindBySubscription(ctx, s.db, sub.ID); ferr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("persist invoice: %w", err)
	}

	s.metrics.RecordInvoiceGenerated(ctx, invoice.Currency)
	log.Info("invoice generated",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("total", invoice.TotalAmount.String()),
		zap.String("currency", invoice.Currency),
		zap.Int("line_items", len(invoice.LineItems)),
	)

	if !invoice.TotalAmount.IsPositive() {
		if _, err := s.repo.UpdateStatus(ctx, s.db, invoice.ID, invoicedomain.StatusPending, invoicedomain.StatusSucceeded); err != nil {
			return nil, fmt.Errorf("settle empty invoice: %w", err)
		}
		invoice.Status = invoicedomain.StatusSucceeded
		return invoice, nil
	}

	s.collect(ctx, invoice)
	return invoice, nil
}

// rateUsage aggregates and prices every plan component concurrently. Line
// order follows component position.
func (s *Service) rateUsage(ctx context.Context, sub subscriptiondomain.Subscription, plan plandomain.BillingPlan) ([]invoicedomain.LineItem, error) {
	if len(plan.Components) == 0 {
		return nil, nil
	}

	metricIDs := lo.Uniq(lo.Map(plan.Components, func(c plandomain.PlanComponent, _ int) snowflake.ID {
		return c.BillableMetricID
	}))
	metrics, err := s.meters.GetMany(ctx, sub.OrgID, metricIDs)
	if err != nil {
		return nil, fmt.Errorf("load metrics: %w", err)
	}

	lines := make([]invoicedomain.LineItem, len(plan.Components))
	p := pool.New().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(ratingConcurrency)

	for i, component := range plan.Components {
		p.Go(func(ctx context.Context) error {
			metric, ok := metrics[component.BillableMetricID]
			if !ok {
				return fmt.Errorf("component %s: %w", component.ID, meterdomain.ErrNotFound)
			}
			quantity, err := s.aggregator.Aggregate(ctx, sub, metric)
			if err != nil {
				return fmt.Errorf("aggregate %s: %w", metric.DisplayName(), err)
			}
			amount, err := s.calculator.ComputeCharge(component, quantity, plan.Currency)
			if err != nil {
				return fmt.Errorf("rate %s: %w", metric.DisplayName(), err)
			}

			componentID, metricID := component.ID, metric.ID
			lines[i] = invoicedomain.LineItem{
				Kind:             invoicedomain.LineKindUsage,
				PlanComponentID:  &componentID,
				BillableMetricID: &metricID,
				Description:      metric.DisplayName(),
				Quantity:         quantity,
				Amount:           amount,
				PeriodStart:      clock.Date(sub.StartDate),
				PeriodEnd:        clock.Date(sub.EndDate),
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return lines, nil
}

// flatRateLines bills the plan's flat rate. Plans paid in arrears bill the
// ending period. Plans paid in advance bill the next period when the
// subscription renews, plus the ending period for a first subscription
// that was never billed upfront.
func flatRateLines(sub subscriptiondomain.Subscription, plan plandomain.BillingPlan) ([]invoicedomain.LineItem, error) {
	if !plan.FlatRate.IsPositive() {
		return nil, nil
	}
	current := flatRateLine(plan, clock.Date(sub.StartDate), clock.Date(sub.EndDate))
	if !plan.PayInAdvance {
		return []invoicedomain.LineItem{current}, nil
	}

	var lines []invoicedomain.LineItem
	if sub.IsNew {
		lines = append(lines, current)
	}
	if sub.AutoRenew {
		nextStart := clock.AddDays(sub.EndDate, 1)
		nextEnd, err := plan.SubscriptionEndDate(nextStart)
		if err != nil {
			return nil, err
		}
		lines = append(lines, flatRateLine(plan, nextStart, nextEnd))
	}
	return lines, nil
}

func flatRateLine(plan plandomain.BillingPlan, start, end time.Time) invoicedomain.LineItem {
	return invoicedomain.LineItem{
		Kind:        invoicedomain.LineKindFlatRate,
		Description: fmt.Sprintf("%s flat rate %s to %s", plan.Name, start.Format(dateLayout), end.Format(dateLayout)),
		Quantity:    decimal.NewFromInt(1),
		Amount:      ratingdomain.RoundAmount(plan.FlatRate, plan.Currency),
		PeriodStart: start,
		PeriodEnd:   end,
	}
}

// collect opens a collection for invoice and records the outcome on it. A
// failed charge is reported and left for reconciliation.
func (s *Service) collect(ctx context.Context, invoice *invoicedomain.Invoice) bool {
	log := logger.WithContext(ctx, s.log).With(
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("subscription_id", invoice.SubscriptionID.String()),
	)
	provider := s.collector.Provider()

	result, err := s.collector.Charge(ctx, paymentdomain.ChargeRequest{
		InvoiceID:      invoice.ID,
		OrgID:          invoice.OrgID,
		CustomerID:     invoice.CustomerID,
		SubscriptionID: invoice.SubscriptionID,
		Amount:         invoice.TotalAmount,
		Currency:       invoice.Currency,
		Description:    fmt.Sprintf("Invoice %s", invoice.ID),
	})
	if err == nil && result.Reference == "" {
		err = paymentdomain.ErrCollection.With(errors.New("empty collection reference"))
	}

	update := invoicedomain.CollectionUpdate{Provider: provider}
	if err != nil {
		update.Error = err.Error()
	} else {
		update.Reference = result.Reference
		update.Status = invoicedomain.StatusFromCollection(result.Status)
	}

	recorded, rerr := s.repo.RecordCollection(ctx, s.db, invoice.ID, update)
	if rerr != nil {
		log.Error("record collection failed", zap.Error(rerr))
	}

	invoice.CollectionProvider = provider
	invoice.CollectionAttempts++
	invoice.LastCollectionError = update.Error

	if err != nil {
		s.metrics.RecordCollection(ctx, provider, "error")
		log.Warn("invoice collection failed", zap.Error(err))

		report := alertdomain.NewReport(alertdomain.SourceInvoice, err)
		report.OrgID = invoice.OrgID
		report.SubscriptionID = invoice.SubscriptionID
		report.InvoiceID = invoice.ID
		report.Attributes = map[string]string{"provider": provider}
		s.alerts.Report(ctx, report)
		return false
	}

	if recorded {
		invoice.CollectionReferenceID = update.Reference
		invoice.Status = update.Status
	}
	s.metrics.RecordCollection(ctx, provider, string(update.Status))
	log.Info("invoice collection opened",
		zap.String("reference", update.Reference),
		zap.String("status", string(update.Status)),
	)
	return rerr == nil
}
