package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/dopaminelite/filestorage/internal/config"
)

const serviceNamespace = "dopaminelite"

// Provider holds the initialized OTEL providers
type Provider struct {
	TracerProvider *trace.TracerProvider
	MeterProvider  *metric.MeterProvider
	log            zerolog.Logger
}

// endpoint splits an optional http:// or https:// scheme off the configured endpoint
func endpoint(raw string) (host string, insecure bool) {
	switch {
	case strings.HasPrefix(raw, "http://"):
		return strings.TrimPrefix(raw, "http://"), true
	case strings.HasPrefix(raw, "https://"):
		return strings.TrimPrefix(raw, "https://"), false
	}
	return raw, false
}

// Initialize sets up the global OTLP/HTTP tracer and meter providers.
// It returns a nil Provider when telemetry is disabled; Shutdown is nil-safe.
func Initialize(ctx context.Context, cfg config.OTELConfig, log zerolog.Logger) (*Provider, error) {
	if !cfg.Enabled {
		log.Info().Msg("OpenTelemetry disabled")
		return nil, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
		attribute.String("service.namespace", serviceNamespace),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	tp, err := newTracerProvider(ctx, cfg, res)
	if err != nil {
		return nil, err
	}
	mp, err := newMeterProvider(ctx, cfg, res)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info().
		Str("service", cfg.ServiceName).
		Str("endpoint", cfg.Endpoint).
		Msg("OpenTelemetry initialized")

	return &Provider{TracerProvider: tp, MeterProvider: mp, log: log}, nil
}

func newTracerProvider(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) (*trace.TracerProvider, error) {
	host, insecure := endpoint(cfg.Endpoint)
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(host),
		otlptracehttp.WithURLPath(urlPath(cfg.URLPathPrefix, "traces")),
		otlptracehttp.WithHeaders(cfg.Headers),
	}
	if insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: trace exporter: %w", err)
	}
	return trace.NewTracerProvider(
		trace.WithBatcher(exporter, trace.WithBatchTimeout(5*time.Second)),
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.AlwaysSample())),
	), nil
}

func newMeterProvider(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) (*metric.MeterProvider, error) {
	host, insecure := endpoint(cfg.Endpoint)
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(host),
		otlpmetrichttp.WithURLPath(urlPath(cfg.URLPathPrefix, "metrics")),
		otlpmetrichttp.WithHeaders(cfg.Headers),
	}
	if insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: metric exporter: %w", err)
	}
	return metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(exporter, metric.WithInterval(30*time.Second))),
		metric.WithResource(res),
	), nil
}

// urlPath places the OTLP signal path under an optional gateway prefix such as "/otlp"
func urlPath(prefix, signal string) string {
	return strings.TrimRight(prefix, "/") + "/v1/" + signal
}

// Shutdown flushes and stops both providers
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.log.Info().Msg("shutting down OpenTelemetry")

	err := errors.Join(p.TracerProvider.Shutdown(ctx), p.MeterProvider.Shutdown(ctx))
	if err != nil {
		p.log.Error().Err(err).Msg("telemetry shutdown incomplete")
	}
	return err
}
