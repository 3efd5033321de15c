// Package otelexport installs an OTLP trace pipeline as the global
// OpenTelemetry tracer provider.
package otelexport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config configures the OTLP exporter.
type Config struct {
	Endpoint       string            // OTLP endpoint (e.g. "localhost:4317")
	Protocol       string            // "grpc" (default) or "http"
	Insecure       bool              // skip TLS for local dev
	ServiceName    string            // default "pairgate"
	ServiceVersion string
	Headers        map[string]string // extra headers (auth tokens, etc.)
}

// Provider owns the SDK tracer provider. Spans started through otel.Tracer
// anywhere in the process are exported once Install has run.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// New builds the exporter and tracer provider without installing it.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("OTLP endpoint is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "pairgate"
	}
	version := cfg.ServiceVersion
	if version == "" {
		version = "dev"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("otel exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithMaxExportBatchSize(100),
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
	)
	return &Provider{tp: tp}, nil
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Protocol {
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		return otlptracehttp.New(ctx, opts...)
	case "", "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		return otlptracegrpc.New(ctx, opts...)
	}
	return nil, fmt.Errorf("unknown OTLP protocol %q", cfg.Protocol)
}

// Install makes p the global tracer provider.
func (p *Provider) Install() {
	otel.SetTracerProvider(p.tp)
}

// Shutdown flushes buffered spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	slog.Info("otel exporter shutting down")
	return p.tp.Shutdown(ctx)
}
