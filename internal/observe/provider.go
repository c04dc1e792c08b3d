package observe

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName is the service name reported in telemetry. Default: "voiceloop".
	ServiceName string

	// ServiceVersion is the service version reported in telemetry.
	ServiceVersion string

	// OTLPEndpoint is a full OTLP/HTTP traces URL. When set and TraceExporter
	// is nil, spans are batched and exported there.
	OTLPEndpoint string

	// TraceExporter overrides OTLPEndpoint. With neither set, spans only
	// feed correlation IDs and in-process logging.
	TraceExporter sdktrace.SpanExporter
}

// InitProvider installs the global OTel meter and tracer providers:
//
//   - metrics go through the Prometheus exporter and are scraped via /metrics;
//   - traces go to the configured exporter, if any.
//
// The returned shutdown flushes pending spans and closes both providers.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "voiceloop"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	exp := cfg.TraceExporter
	if exp == nil && cfg.OTLPEndpoint != "" {
		exp, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint))
		if err != nil {
			return nil, fmt.Errorf("observe: otlp exporter: %w", err)
		}
	}

	promExp, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)
	otel.SetMeterProvider(mp)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if exp != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exp))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	// Traces first so the batcher flushes before metrics close.
	shutdownFuncs := []func(context.Context) error{tp.Shutdown, mp.Shutdown}
	return func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdownFuncs {
			if e := fn(ctx); e != nil {
				errs = append(errs, e)
			}
		}
		return errors.Join(errs...)
	}, nil
}
