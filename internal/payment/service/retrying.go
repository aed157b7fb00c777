package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/meterflow/internal/config"
	paymentdomain "github.com/smallbiznis/meterflow/internal/payment/domain"
	"go.uber.org/zap"
)

// RetryingCollector bounds every processor call with a per-attempt timeout
// and retries transient failures with exponential backoff. Final failures
// are classified as collection errors.
type RetryingCollector struct {
	next   paymentdomain.Collector
	log    *zap.Logger
	engine *config.EngineConfigHolder
}

func NewRetryingCollector(next paymentdomain.Collector, log *zap.Logger, engine *config.EngineConfigHolder) *RetryingCollector {
	return &RetryingCollector{
		next:   next,
		log:    log.Named("payment.collector"),
		engine: engine,
	}
}

func (r *RetryingCollector) Provider() string { return r.next.Provider() }

func (r *RetryingCollector) Charge(ctx context.Context, req paymentdomain.ChargeRequest) (paymentdomain.ChargeResult, error) {
	result, err := retry(ctx, r, "charge", func(attemptCtx context.Context) (paymentdomain.ChargeResult, error) {
		return r.next.Charge(attemptCtx, req)
	}, zap.String("invoice_id", req.InvoiceID.String()))
	if err != nil {
		return paymentdomain.ChargeResult{}, paymentdomain.ErrCollection.With(err)
	}
	if !result.Status.Valid() {
		result.Status = paymentdomain.StatusPending
	}
	return result, nil
}

func (r *RetryingCollector) GetStatus(ctx context.Context, reference string) (paymentdomain.Status, error) {
	status, err := retry(ctx, r, "get_status", func(attemptCtx context.Context) (paymentdomain.Status, error) {
		return r.next.GetStatus(attemptCtx, reference)
	}, zap.String("reference", reference))
	if err != nil {
		return "", paymentdomain.ErrCollection.With(err)
	}
	return status, nil
}

func retry[T any](
	ctx context.Context,
	r *RetryingCollector,
	op string,
	call func(context.Context) (T, error),
	fields ...zap.Field,
) (T, error) {
	cfg := r.engine.Get().Collection

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.RetryInitialInterval
	policy.MaxInterval = cfg.RetryMaxInterval

	return backoff.Retry(ctx, func() (T, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()

		value, err := call(attemptCtx)
		if err != nil && !paymentdomain.IsRetryable(err) {
			return value, backoff.Permanent(err)
		}
		return value, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(cfg.MaxRetries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.log.Warn("payment call failed, retrying",
				append(fields,
					zap.String("provider", r.next.Provider()),
					zap.String("op", op),
					zap.Duration("retry_in", next),
					zap.Error(err),
				)...,
			)
		}),
	)
}
