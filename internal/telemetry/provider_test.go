package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zarigata/CHAOSV3/internal/config"
)

func TestInitProvider_NoEndpoint(t *testing.T) {
	p, err := InitProvider(context.Background(), config.TelemetryConfig{ServiceName: "chaos-test"}, "test")
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInitProvider_UnreachableCollector(t *testing.T) {
	// The gRPC dial is non-blocking so setup succeeds with the collector down.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := InitProvider(ctx, config.TelemetryConfig{
		OTLPEndpoint: "localhost:19999",
		OTLPInsecure: true,
		ServiceName:  "chaos-test",
	}, "test")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.Enabled())

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutCancel()
	assert.NoError(t, p.Shutdown(shutCtx))
}
