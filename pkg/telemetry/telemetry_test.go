package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dnschat/pkg/config"
	"dnschat/pkg/logging"
)

func TestNewDisabled(t *testing.T) {
	cfg := &config.TelemetryConfig{Enabled: false}
	tel, err := New(context.Background(), cfg, logging.NewDiscard())
	require.NoError(t, err)

	m, err := tel.InitMetrics()
	require.NoError(t, err)
	require.NotNil(t, m)

	// Noop instruments must be safe to use.
	m.QueriesTotal.Add(context.Background(), 1)
	m.QueryDuration.Record(context.Background(), 12.5)

	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestNewEnabledWithoutPrometheus(t *testing.T) {
	cfg := &config.TelemetryConfig{
		Enabled:        true,
		ServiceName:    "dnschat-test",
		ServiceVersion: "test",
	}
	tel, err := New(context.Background(), cfg, logging.NewDiscard())
	require.NoError(t, err)

	m, err := tel.InitMetrics()
	require.NoError(t, err)
	assert.NotNil(t, m.TransportAttempts)
	assert.NotNil(t, m.PoolSaturated)

	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestNoopMetrics(t *testing.T) {
	m := NoopMetrics()
	require.NotNil(t, m)
	m.DedupShared.Add(context.Background(), 1)
	m.QueriesCancelled.Add(context.Background(), 3)
}
