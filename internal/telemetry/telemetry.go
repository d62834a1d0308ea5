// Package telemetry installs the global OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/a-essam23/go-relay/pkg/config"
	"go.opentelemetry.io/otel"
	otlptracegrpc "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

const ServiceName = "go-relay"

// ErrNoExporter is returned when neither exporter is configured; tracing stays a no-op.
var ErrNoExporter = errors.New("no OTEL exporter configured: set telemetry.otlpEndpoint or telemetry.stdout")

type Provider struct {
	tp *sdktrace.TracerProvider
}

// Init prefers OTLP/gRPC when an endpoint is configured and falls back to stdout.
func Init(ctx context.Context, logger *slog.Logger, cfg config.TelemetryConfig) (*Provider, error) {
	res, err := sdkresource.New(ctx, sdkresource.WithAttributes(
		semconv.ServiceNameKey.String(ServiceName),
	))
	if err != nil {
		return nil, err
	}

	var exporter sdktrace.SpanExporter
	switch {
	case cfg.OTLPEndpoint != "":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
		logger.Info("Tracing to OTLP collector", slog.String("endpoint", cfg.OTLPEndpoint))
	case cfg.Stdout:
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		logger.Info("Tracing to stdout")
	default:
		return nil, ErrNoExporter
	}
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return &Provider{tp: tp}, nil
}

// Flush gracefully shuts down the tracer provider, flushing any pending spans.
// It is safe to call on a nil Provider and more than once.
func (p *Provider) Flush() {
	if p == nil || p.tp == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = p.tp.Shutdown(ctx)
}
