package tracing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/mikro-registry/internal/platform/env"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

type Config struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRate   float64
	ServiceName  string
}

func ConfigFromEnv(service string) (Config, error) {
	insecure, err := env.Bool("REGISTRY_TRACING_OTLP_INSECURE", true)
	if err != nil {
		return Config{}, err
	}
	rate, err := env.Int("REGISTRY_TRACING_SAMPLE_PERCENT", 100)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Exporter:     strings.ToLower(env.String("REGISTRY_TRACING_EXPORTER", ExporterNone)),
		OTLPEndpoint: env.String("REGISTRY_TRACING_OTLP_ENDPOINT", "localhost:4317"),
		OTLPInsecure: insecure,
		SampleRate:   float64(rate) / 100,
		ServiceName:  env.String("REGISTRY_TRACING_SERVICE_NAME", service),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Exporter {
	case ExporterNone, ExporterStdout:
	case ExporterOTLP:
		if strings.TrimSpace(c.OTLPEndpoint) == "" {
			return errors.New("REGISTRY_TRACING_OTLP_ENDPOINT is required when REGISTRY_TRACING_EXPORTER=otlp")
		}
	default:
		return fmt.Errorf("REGISTRY_TRACING_EXPORTER must be one of: none, stdout, otlp (got %q)", c.Exporter)
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return errors.New("REGISTRY_TRACING_SAMPLE_PERCENT must be between 0 and 100")
	}
	if strings.TrimSpace(c.ServiceName) == "" {
		return errors.New("REGISTRY_TRACING_SERVICE_NAME is required")
	}
	return nil
}

// Provider owns the tracer provider installed as the otel global.
type Provider struct {
	sdk    *sdktrace.TracerProvider
	tracer trace.Tracer
}

// NewProvider installs a global tracer provider. With ExporterNone it
// installs a no-op provider.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Exporter == ExporterNone {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return &Provider{tracer: tp.Tracer(cfg.ServiceName)}, nil
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch cfg.Exporter {
	case ExporterStdout:
		exporter, err = stdouttrace.New()
	case ExporterOTLP:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", cfg.Exporter, err)
	}

	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(sdk)
	return &Provider{sdk: sdk, tracer: sdk.Tracer(cfg.ServiceName)}, nil
}

func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

func (p *Provider) Enabled() bool {
	return p != nil && p.sdk != nil
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.sdk == nil {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}
