//go:build otel

package cmd

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/pairgate/internal/config"
	"github.com/nextlevelbuilder/pairgate/internal/tracing/otelexport"
)

// initOTelExporter installs the OTLP trace pipeline when telemetry is
// enabled. Only compiled with -tags otel.
func initOTelExporter(ctx context.Context, cfg *config.Config) func(context.Context) {
	if !cfg.Telemetry.Enabled || cfg.Telemetry.Endpoint == "" {
		slog.Debug("OTel export available but not enabled (set telemetry.enabled + telemetry.endpoint)")
		return nil
	}

	p, err := otelexport.New(ctx, otelexport.Config{
		Endpoint:       cfg.Telemetry.Endpoint,
		Protocol:       cfg.Telemetry.Protocol,
		Insecure:       cfg.Telemetry.Insecure,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		Headers:        cfg.Telemetry.Headers,
	})
	if err != nil {
		slog.Warn("failed to create OTel exporter", "error", err)
		return nil
	}
	p.Install()
	slog.Info("OpenTelemetry OTLP export enabled",
		"endpoint", cfg.Telemetry.Endpoint,
		"protocol", cfg.Telemetry.Protocol,
	)
	return func(ctx context.Context) {
		if err := p.Shutdown(ctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}
}
