package otel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	globalotel "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const instrumentationName = "github.com/petal-labs/obridge"

// DefaultMetricsInterval is how often metrics are pushed to an OTLP endpoint.
const DefaultMetricsInterval = time.Minute

// Config selects where telemetry goes.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint is an OTLP/HTTP traces URL such as
	// "http://localhost:4318/v1/traces". Empty keeps spans in process.
	OTLPEndpoint string
	// OTLPMetricsEndpoint is an OTLP/HTTP metrics URL such as
	// "http://localhost:4318/v1/metrics". Empty keeps metrics in process,
	// readable only through Totals.
	OTLPMetricsEndpoint string
	// MetricsInterval is the push period. Zero uses DefaultMetricsInterval.
	MetricsInterval time.Duration
	// Global installs the providers as the process-wide otel defaults.
	Global bool
	Logger *slog.Logger
}

// Telemetry owns the SDK providers and the observer wired to them.
type Telemetry struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Observer       *InvocationObserver

	reader *sdkmetric.ManualReader
	logger *slog.Logger
}

// Setup builds tracer and meter providers for cfg.
func Setup(ctx context.Context, cfg Config) (*Telemetry, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := cfg.ServiceName
	if name == "" {
		name = "obridge"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", name),
			attribute.String("service.version", cfg.ServiceVersion),
		),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("otel: build resource: %w", err)
	}

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if endpoint := strings.TrimSpace(cfg.OTLPEndpoint); endpoint != "" {
		exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
		if err != nil {
			return nil, fmt.Errorf("otel: create otlp exporter: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
		logger.Info("otel: exporting traces", "endpoint", endpoint)
	}
	tp := sdktrace.NewTracerProvider(traceOpts...)

	reader := sdkmetric.NewManualReader()
	metricOpts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	}
	if endpoint := strings.TrimSpace(cfg.OTLPMetricsEndpoint); endpoint != "" {
		exporter, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(endpoint))
		if err != nil {
			return nil, errors.Join(fmt.Errorf("otel: create otlp metric exporter: %w", err), tp.Shutdown(ctx))
		}
		interval := cfg.MetricsInterval
		if interval <= 0 {
			interval = DefaultMetricsInterval
		}
		metricOpts = append(metricOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))))
		logger.Info("otel: exporting metrics", "endpoint", endpoint, "interval", interval)
	}
	mp := sdkmetric.NewMeterProvider(metricOpts...)

	observer, err := NewInvocationObserver(mp.Meter(instrumentationName), tp.Tracer(instrumentationName))
	if err != nil {
		return nil, errors.Join(fmt.Errorf("otel: create observer: %w", err), tp.Shutdown(ctx), mp.Shutdown(ctx))
	}

	if cfg.Global {
		globalotel.SetTracerProvider(tp)
		globalotel.SetMeterProvider(mp)
	}

	return &Telemetry{
		TracerProvider: tp,
		MeterProvider:  mp,
		Observer:       observer,
		reader:         reader,
		logger:         logger,
	}, nil
}

// Totals sums the counters recorded so far, keyed by instrument name.
func (t *Telemetry) Totals(ctx context.Context) (map[string]int64, error) {
	var rm metricdata.ResourceMetrics
	if err := t.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("otel: collect metrics: %w", err)
	}
	totals := make(map[string]int64)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, point := range sum.DataPoints {
				totals[m.Name] += point.Value
			}
		}
	}
	return totals, nil
}

// Shutdown flushes pending spans and metrics and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	return errors.Join(t.TracerProvider.Shutdown(ctx), t.MeterProvider.Shutdown(ctx))
}
