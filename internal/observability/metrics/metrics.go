package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes engine-level OpenTelemetry instruments.
type Metrics struct {
	eventsRecorded    metric.Int64Counter
	eventsFlushed     metric.Int64Counter
	flushFailures     metric.Int64Counter
	invoicesGenerated metric.Int64Counter
	collections       metric.Int64Counter
	flushLatency      metric.Float64Histogram
}

func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "meterflow"
	}
	meter := provider.Meter(name)

	eventsRecorded, err := meter.Int64Counter("meterflow_events_recorded_total")
	if err != nil {
		return nil, err
	}
	eventsFlushed, err := meter.Int64Counter("meterflow_events_flushed_total")
	if err != nil {
		return nil, err
	}
	flushFailures, err := meter.Int64Counter("meterflow_event_flush_failures_total")
	if err != nil {
		return nil, err
	}
	invoicesGenerated, err := meter.Int64Counter("meterflow_invoices_generated_total")
	if err != nil {
		return nil, err
	}
	collections, err := meter.Int64Counter("meterflow_collections_total")
	if err != nil {
		return nil, err
	}
	flushLatency, err := meter.Float64Histogram("meterflow_event_flush_seconds", metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		eventsRecorded:    eventsRecorded,
		eventsFlushed:     eventsFlushed,
		flushFailures:     flushFailures,
		invoicesGenerated: invoicesGenerated,
		collections:       collections,
		flushLatency:      flushLatency,
	}, nil
}

// NewNoop returns instruments bound to a noop provider, for tests and tools.
func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

func (m *Metrics) RecordEventRecorded(ctx context.Context, eventName string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("event_name", strings.TrimSpace(eventName)))
	m.eventsRecorded.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordFlush(ctx context.Context, count int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.flushFailures.Add(ctx, 1)
		return
	}
	m.eventsFlushed.Add(ctx, int64(count))
	m.flushLatency.Record(ctx, elapsed.Seconds())
}

func (m *Metrics) RecordInvoiceGenerated(ctx context.Context, currency string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("currency", strings.ToUpper(strings.TrimSpace(currency))))
	m.invoicesGenerated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordCollection(ctx context.Context, provider, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.collections.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"event_name": {},
	"currency":   {},
	"provider":   {},
	"status":     {},
	"reason":     {},
}

// FilterAttributes strips identifiers such as org or customer ids to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
