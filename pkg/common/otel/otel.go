// Package otel provides otel support.
package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/leakwalk/pkg/common/logger"
)

// Config defines the information needed to init telemetry.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// ExporterEndpoint is the OTLP gRPC collector address. Telemetry is
	// disabled when it is empty.
	ExporterEndpoint   string
	Probability        float64
	ResourceAttributes map[string]string
	InsecureExporter   bool
}

// Telemetry holds the providers a process reports through.
type Telemetry struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider

	shutdown func(ctx context.Context)
}

// Tracer returns a named tracer from the tracer provider.
func (t *Telemetry) Tracer(name string) trace.Tracer { return t.TracerProvider.Tracer(name) }

// Shutdown flushes and stops the exporters. It is a no-op for disabled
// telemetry.
func (t *Telemetry) Shutdown(ctx context.Context) {
	if t.shutdown != nil {
		t.shutdown(ctx)
	}
}

// Disabled returns Telemetry backed by noop providers.
func Disabled() *Telemetry {
	return &Telemetry{
		TracerProvider: noop.NewTracerProvider(),
		MeterProvider:  metricnoop.NewMeterProvider(),
	}
}

// NewResource creates the OpenTelemetry resource describing the service.
func NewResource(cfg Config) *resource.Resource {
	attrs := make([]attribute.KeyValue, 0, len(cfg.ResourceAttributes)+2)
	attrs = append(attrs, semconv.ServiceNameKey.String(cfg.ServiceName))
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersionKey.String(cfg.ServiceVersion))
	}
	attrs = append(attrs, attributesFromMap(cfg.ResourceAttributes)...)

	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

// InitTelemetry configures OTLP trace and metric export and installs the
// providers globally. Without an endpoint it returns Disabled telemetry.
func InitTelemetry(ctx context.Context, log *logger.Logger, cfg Config) (*Telemetry, error) {
	if cfg.ExporterEndpoint == "" {
		return Disabled(), nil
	}

	res := NewResource(cfg)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Initialize trace exporter.
	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.ExporterEndpoint)}
	if cfg.InsecureExporter {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
	}
	traceExporter, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}

	// Initialize metrics exporter.
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.ExporterEndpoint)}
	if cfg.InsecureExporter {
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}
	metricExporter, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	probability := cfg.Probability
	if probability <= 0 {
		probability = 1
	}

	// Configure trace provider.
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(probability))),
		sdktrace.WithBatcher(traceExporter,
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxExportBatchSize(512),
			sdktrace.WithMaxQueueSize(2048),
		),
		sdktrace.WithResource(res),
	)

	// Configure metric provider.
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)

	// Set global providers.
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	shutdown := func(ctx context.Context) {
		if err := tp.Shutdown(ctx); err != nil {
			log.Error(ctx, "shutting down tracer provider", "error", err)
		}
		if err := mp.Shutdown(ctx); err != nil {
			log.Error(ctx, "shutting down meter provider", "error", err)
		}
	}

	return &Telemetry{TracerProvider: tp, MeterProvider: mp, shutdown: shutdown}, nil
}

// attributesFromMap converts a map to a KeyValue slice.
func attributesFromMap(m map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(m))
	for k, v := range m {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}
