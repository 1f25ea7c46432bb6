package database

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zarigata/CHAOSV3/internal/config"
)

func TestNewDescriptor_PoolShape(t *testing.T) {
	t.Parallel()

	d, err := NewDescriptor(testDBConfig(), nil)
	require.NoError(t, err)

	assert.Equal(t, "localhost", d.Host)
	assert.Equal(t, uint16(5432), d.Port)
	assert.Equal(t, "chaos_user", d.User)
	assert.Equal(t, "chaos_db", d.Database)
	assert.Equal(t, int64(15), d.Capacity())
	assert.Equal(t, "chaos_user@localhost:5432/chaos_db", d.Target())

	assert.Equal(t, int32(15), d.poolConfig.MaxConns)
	assert.Equal(t, int32(0), d.poolConfig.MinConns)
	assert.Equal(t, 30*time.Minute, d.poolConfig.MaxConnLifetime)
	assert.Equal(t, 10*time.Minute, d.poolConfig.MaxConnIdleTime)
	assert.Equal(t, time.Second, d.poolConfig.ConnConfig.ConnectTimeout)
	assert.Equal(t, "chaos-server", d.poolConfig.ConnConfig.RuntimeParams["application_name"])
	assert.Nil(t, d.poolConfig.ConnConfig.Tracer)
}

func TestNewDescriptor_ZeroRecycleNeverRecycles(t *testing.T) {
	t.Parallel()

	cfg := testDBConfig()
	cfg.PoolRecycle = 0

	d, err := NewDescriptor(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(math.MaxInt64), d.poolConfig.MaxConnLifetime)
}

func TestNewDescriptor_EchoInstallsTracer(t *testing.T) {
	t.Parallel()

	cfg := testDBConfig()
	cfg.Echo = true

	d, err := NewDescriptor(cfg, discardLogger())
	require.NoError(t, err)
	assert.NotNil(t, d.poolConfig.ConnConfig.Tracer)
}

func TestNewDescriptor_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.DatabaseConfig)
		wantSub string
	}{
		{name: "zero pool size", mutate: func(c *config.DatabaseConfig) { c.PoolSize = 0 }, wantSub: "pool size"},
		{name: "negative overflow", mutate: func(c *config.DatabaseConfig) { c.MaxOverflow = -1 }, wantSub: "max overflow"},
		{name: "negative recycle", mutate: func(c *config.DatabaseConfig) { c.PoolRecycle = -time.Second }, wantSub: "pool recycle"},
		{name: "zero timeout", mutate: func(c *config.DatabaseConfig) { c.PoolTimeout = 0 }, wantSub: "pool timeout"},
		{name: "malformed url", mutate: func(c *config.DatabaseConfig) { c.URL = "postgres://%zz" }, wantSub: "parsing postgres DSN"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := testDBConfig()
			tc.mutate(&cfg)

			_, err := NewDescriptor(cfg, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantSub)
		})
	}
}
