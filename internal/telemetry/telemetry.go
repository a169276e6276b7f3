// Package telemetry installs the global OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"medical-ai-platform/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

// Shutdown flushes pending spans.
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Setup installs a tracer provider and the W3C propagators. When tracing is
// disabled the global no-op provider stays in place and Setup returns a no-op
// shutdown. The OTLP exporter reads its endpoint and headers from the standard
// OTEL_EXPORTER_OTLP_* variables.
func Setup(ctx context.Context, cfg config.TelemetryConfig, env string, log *slog.Logger) (Shutdown, error) {
	if !cfg.Enabled {
		return noop, nil
	}
	exp, err := newExporter(ctx, cfg.Exporter, os.Stdout)
	if err != nil {
		return noop, err
	}
	tp, err := newProvider(ctx, cfg, env, exp)
	if err != nil {
		return noop, err
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if log != nil {
		log.Info("otel tracing initialized", "service", cfg.ServiceName, "exporter", cfg.Exporter, "sample_ratio", cfg.SampleRatio)
	}
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, kind string, w io.Writer) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "stdout":
		return stdouttrace.New(stdouttrace.WithWriter(w))
	case "otlp":
		return otlptracehttp.New(ctx)
	default:
		return nil, fmt.Errorf("telemetry: unknown exporter %q", kind)
	}
}

func newProvider(ctx context.Context, cfg config.TelemetryConfig, env string, exp sdktrace.SpanExporter) (*sdktrace.TracerProvider, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "referto-api"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(name),
			attribute.String("deployment.environment", env),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithResource(res),
	), nil
}
