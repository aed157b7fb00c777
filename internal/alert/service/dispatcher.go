package service

import (
	"context"
	"sync"
	"time"

	alertdomain "github.com/smallbiznis/meterflow/internal/alert/domain"
	"go.uber.org/zap"
)

const (
	defaultQueueSize   = 256
	defaultSendTimeout = 5 * time.Second
)

type Config struct {
	QueueSize   int
	SendTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	return c
}

// Dispatcher queues reports and fans them out to every provider from a
// single background goroutine. A full queue drops the report.
type Dispatcher struct {
	log       *zap.Logger
	providers []alertdomain.Provider
	cfg       Config

	queue chan alertdomain.Report

	mu      sync.Mutex
	running bool
	stopped bool
	done    chan struct{}
}

func NewDispatcher(log *zap.Logger, cfg Config, providers ...alertdomain.Provider) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		log:       log.Named("alert.dispatcher"),
		providers: providers,
		cfg:       cfg,
		queue:     make(chan alertdomain.Report, cfg.QueueSize),
		done:      make(chan struct{}),
	}
}

func (d *Dispatcher) Report(ctx context.Context, report alertdomain.Report) {
	if report.OccurredAt.IsZero() {
		report.OccurredAt = time.Now().UTC()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		d.log.Warn("alert dropped after shutdown", reportFields(report)...)
		return
	}

	select {
	case d.queue <- report:
	default:
		d.log.Warn("alert queue full, dropping report", reportFields(report)...)
	}
}

// Start launches the delivery loop. It is safe to call more than once.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running || d.stopped {
		return
	}
	d.running = true
	go d.loop()
}

// Stop stops accepting reports and waits for queued ones to be delivered
// or for ctx to expire.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	running := d.running
	close(d.queue)
	d.mu.Unlock()

	if !running {
		return nil
	}
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for report := range d.queue {
		d.deliver(report)
	}
}

func (d *Dispatcher) deliver(report alertdomain.Report) {
	for _, provider := range d.providers {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
		err := provider.Send(ctx, report)
		cancel()
		if err != nil {
			fields := append(reportFields(report),
				zap.String("provider", provider.Name()),
				zap.Error(err),
			)
			d.log.Warn("alert delivery failed", fields...)
		}
	}
}

func reportFields(report alertdomain.Report) []zap.Field {
	fields := []zap.Field{
		zap.String("source", string(report.Source)),
		zap.String("error_kind", string(report.Kind)),
	}
	if report.OrgID != 0 {
		fields = append(fields, zap.String("org_id", report.OrgID.String()))
	}
	if report.SubscriptionID != 0 {
		fields = append(fields, zap.String("subscription_id", report.SubscriptionID.String()))
	}
	if report.InvoiceID != 0 {
		fields = append(fields, zap.String("invoice_id", report.InvoiceID.String()))
	}
	return fields
}
