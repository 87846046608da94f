package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv("REGISTRY_TRACING_EXPORTER", "")
	t.Setenv("REGISTRY_TRACING_SAMPLE_PERCENT", "")

	cfg, err := ConfigFromEnv("mikro-registry")
	require.NoError(t, err)
	require.Equal(t, ExporterNone, cfg.Exporter)
	require.Equal(t, 1.0, cfg.SampleRate)
	require.Equal(t, "mikro-registry", cfg.ServiceName)
}

func TestConfigFromEnv_Invalid(t *testing.T) {
	t.Setenv("REGISTRY_TRACING_EXPORTER", "zipkin")
	_, err := ConfigFromEnv("mikro-registry")
	require.ErrorContains(t, err, "REGISTRY_TRACING_EXPORTER")

	t.Setenv("REGISTRY_TRACING_EXPORTER", "stdout")
	t.Setenv("REGISTRY_TRACING_SAMPLE_PERCENT", "150")
	_, err = ConfigFromEnv("mikro-registry")
	require.ErrorContains(t, err, "SAMPLE_PERCENT")
}

func TestNewProvider_None(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Exporter: ExporterNone, SampleRate: 1, ServiceName: "svc"})
	require.NoError(t, err)
	require.False(t, p.Enabled())

	_, span := p.Tracer().Start(context.Background(), "noop")
	require.False(t, span.SpanContext().IsValid())
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_Stdout(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Exporter: ExporterStdout, SampleRate: 1, ServiceName: "svc"})
	require.NoError(t, err)
	require.True(t, p.Enabled())

	_, span := p.Tracer().Start(context.Background(), "op")
	require.True(t, span.SpanContext().IsValid())
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestShutdown_NilProvider(t *testing.T) {
	var p *Provider
	require.NoError(t, p.Shutdown(context.Background()))
}
