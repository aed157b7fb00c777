package service

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/bwmarrin/snowflake"
	"github.com/sourcegraph/conc/pool"
	alertdomain "github.com/smallbiznis/meterflow/internal/alert/domain"
	invoicedomain "github.com/smallbiznis/meterflow/internal/invoice/domain"
	"github.com/smallbiznis/meterflow/internal/observability/logger"
	"go.uber.org/zap"
)

type reconcileCounters struct {
	checked   atomic.Int64
	updated   atomic.Int64
	collected atomic.Int64
	failed    atomic.Int64
}

func (c *reconcileCounters) report() invoicedomain.ReconcileReport {
	return invoicedomain.ReconcileReport{
		Checked:   int(c.checked.Load()),
		Updated:   int(c.updated.Load()),
		Collected: int(c.collected.Load()),
		Failed:    int(c.failed.Load()),
	}
}

func (s *Service) Reconcile(ctx context.Context) (invoicedomain.ReconcileReport, error) {
	cfg := s.engine.Get().Reconcile
	log := logger.WithContext(ctx, s.log)

	var counters reconcileCounters
	p := pool.New().
		WithContext(ctx).
		WithMaxGoroutines(cfg.Concurrency)

	var afterID snowflake.ID
	for {
		if err := ctx.Err(); err != nil {
			break
		}
		invoices, err := s.repo.ListOpen(ctx, s.db, afterID, cfg.BatchSize)
		if err != nil {
			_ = p.Wait()
			return counters.report(), fmt.Errorf("list open invoices: %w", err)
		}
		for _, invoice := range invoices {
			p.Go(func(ctx context.Context) error {
				return s.reconcileOne(ctx, invoice, &counters)
			})
		}
		if len(invoices) < cfg.BatchSize {
			break
		}
		afterID = invoices[len(invoices)-1].ID
	}

	err := p.Wait()
	report := counters.report()
	log.Info("invoice reconciliation finished",
		zap.Int("checked", report.Checked),
		zap.Int("updated", report.Updated),
		zap.Int("collected", report.Collected),
		zap.Int("failed", report.Failed),
	)
	return report, err
}

func (s *Service) reconcileOne(ctx context.Context, invoice invoicedomain.Invoice, counters *reconcileCounters) error {
	counters.checked.Add(1)

	if !invoice.HasReference() {
		if s.collect(ctx, &invoice) {
			counters.collected.Add(1)
			return nil
		}
		counters.failed.Add(1)
		return fmt.Errorf("invoice %s: %s", invoice.ID, invoice.LastCollectionError)
	}

	status, err := s.collector.GetStatus(ctx, invoice.CollectionReferenceID)
	if err != nil {
		counters.failed.Add(1)
		report := alertdomain.NewReport(alertdomain.SourceReconcile, err)
		report.OrgID = invoice.OrgID
		report.SubscriptionID = invoice.SubscriptionID
		report.InvoiceID = invoice.ID
		s.alerts.Report(ctx, report)
		return fmt.Errorf("invoice %s: %w", invoice.ID, err)
	}

	next := invoicedomain.StatusFromCollection(status)
	if next == invoice.Status {
		return nil
	}
	changed, err := s.repo.UpdateStatus(ctx, s.db, invoice.ID, invoice.Status, next)
	if err != nil {
		counters.failed.Add(1)
		return fmt.Errorf("invoice %s: update status: %w", invoice.ID, err)
	}
	if changed {
		counters.updated.Add(1)
		s.metrics.RecordCollection(ctx, s.collector.Provider(), string(next))
		logger.WithContext(ctx, s.log).Info("invoice status changed",
			zap.String("invoice_id", invoice.ID.String()),
			zap.String("from", string(invoice.Status)),
			zap.String("to", string(next)),
		)
	}
	return nil
}
