package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = abc ,broken, =x,tenant=p2pnfts")
	require.Equal(t, map[string]string{"api-key": "abc", "tenant": "p2pnfts"}, headers)
}

func TestFromEnvDisabledWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg := FromEnv("p2pnftsd", "dev")
	require.False(t, cfg.Metrics)
	require.False(t, cfg.Traces)
	require.True(t, cfg.Insecure)

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestFromEnvEnablesExporters(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "x=1")
	cfg := FromEnv("p2pnftsd", "prod")
	require.Equal(t, "collector:4318", cfg.Endpoint)
	require.False(t, cfg.Insecure)
	require.True(t, cfg.Traces)
	require.Equal(t, map[string]string{"x": "1"}, cfg.Headers)
}

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.Error(t, err)
}

func TestResourceAttributesAreSorted(t *testing.T) {
	attrs := resourceAttributes(Config{
		ServiceName: "p2pnftsd",
		Environment: "dev",
		Attributes:  map[string]string{"p2pnfts.storage": "bolt", "p2pnfts.genesis": "genesis.toml"},
	})
	require.Len(t, attrs, 4)
	require.Equal(t, "service.name", string(attrs[0].Key))
	require.Equal(t, "deployment.environment", string(attrs[1].Key))
	require.Equal(t, "p2pnfts.genesis", string(attrs[2].Key))
	require.Equal(t, "bolt", attrs[3].Value.AsString())
}
