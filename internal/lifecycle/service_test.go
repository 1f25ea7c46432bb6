package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mock implementations ---

type mockDB struct {
	initErr     error
	shutdownErr error
	probe       ProbeResult

	ready         atomic.Bool
	initCalls     atomic.Int32
	shutdownCalls atomic.Int32

	// admittingAtShutdown records whether the service still admitted work
	// when the database was asked to shut down.
	svc                 *Service
	admittingAtShutdown atomic.Bool
}

func (m *mockDB) Initialize(_ context.Context) error {
	m.initCalls.Add(1)
	if m.initErr != nil {
		return m.initErr
	}
	m.ready.Store(true)
	return nil
}

func (m *mockDB) Shutdown(_ context.Context) error {
	m.shutdownCalls.Add(1)
	if m.svc != nil {
		m.admittingAtShutdown.Store(m.svc.Admitting())
	}
	m.ready.Store(false)
	return m.shutdownErr
}

func (m *mockDB) Ready() bool                         { return m.ready.Load() }
func (m *mockDB) Probe(_ context.Context) ProbeResult { return m.probe }

type mockProber struct {
	result ProbeResult
}

func (m *mockProber) Probe(_ context.Context) ProbeResult { return m.result }

// --- helpers ---

func okDB() *mockDB {
	return &mockDB{probe: ProbeResult{Name: "postgres", OK: true}}
}

// --- tests ---

func TestStart(t *testing.T) {
	t.Parallel()

	db := okDB()
	s := New(db)

	assert.False(t, s.IsLive(), "not live before the database is READY")
	assert.False(t, s.IsReady())
	assert.Equal(t, PhaseStarting, s.Phase())
	assert.Zero(t, s.Uptime())

	require.NoError(t, s.Start(context.Background()))

	assert.True(t, s.IsLive())
	assert.True(t, s.IsReady())
	assert.True(t, s.Admitting())
	assert.True(t, s.DatabaseReady())
	assert.Equal(t, PhaseLive, s.Phase())
	assert.Equal(t, int32(1), db.initCalls.Load())

	time.Sleep(5 * time.Millisecond)
	assert.Positive(t, s.Uptime())
}

func TestStart_DatabaseFailure(t *testing.T) {
	t.Parallel()

	dbErr := errors.New("database unavailable")
	s := New(&mockDB{initErr: dbErr})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, dbErr)

	assert.Equal(t, PhaseFailed, s.Phase())
	assert.False(t, s.IsLive())
	assert.False(t, s.IsReady())
	assert.False(t, s.Admitting())
}

func TestStart_OnlyOnce(t *testing.T) {
	t.Parallel()

	db := okDB()
	s := New(db)
	require.NoError(t, s.Start(context.Background()))

	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
	assert.Equal(t, int32(1), db.initCalls.Load())
}

func TestDrain(t *testing.T) {
	t.Parallel()

	s := New(okDB())
	require.NoError(t, s.Start(context.Background()))

	s.Drain()
	s.Drain()

	assert.Equal(t, PhaseDraining, s.Phase())
	assert.True(t, s.IsLive(), "liveness holds while draining")
	assert.False(t, s.IsReady())
	assert.True(t, s.DatabaseReady())
}

func TestShutdown_StopsAdmittingBeforeDatabaseShutdown(t *testing.T) {
	t.Parallel()

	db := okDB()
	s := New(db)
	db.svc = s
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Shutdown(context.Background()))

	assert.Equal(t, int32(1), db.shutdownCalls.Load())
	assert.False(t, db.admittingAtShutdown.Load())
	assert.Equal(t, PhaseStopped, s.Phase())
	assert.False(t, s.IsReady())
	assert.False(t, s.IsLive())
}

func TestShutdown_ErrorIsReturned(t *testing.T) {
	t.Parallel()

	shutdownErr := errors.New("grace period exceeded")
	db := okDB()
	db.shutdownErr = shutdownErr
	s := New(db)
	require.NoError(t, s.Start(context.Background()))

	err := s.Shutdown(context.Background())
	assert.ErrorIs(t, err, shutdownErr)
	assert.Equal(t, PhaseStopped, s.Phase())
}

func TestShutdown_AfterFailedStart(t *testing.T) {
	t.Parallel()

	db := &mockDB{initErr: errors.New("refused")}
	s := New(db)
	require.Error(t, s.Start(context.Background()))

	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, PhaseFailed, s.Phase())
}

func TestRunDeepHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		db      *mockDB
		probers []Prober
		wantOK  map[string]bool
	}{
		{
			name:   "database only",
			db:     okDB(),
			wantOK: map[string]bool{"postgres": true},
		},
		{
			name: "all healthy",
			db:   okDB(),
			probers: []Prober{
				&mockProber{result: ProbeResult{Name: "redis", OK: true}},
				&mockProber{result: ProbeResult{Name: "ollama", OK: true}},
			},
			wantOK: map[string]bool{"postgres": true, "redis": true, "ollama": true},
		},
		{
			name: "optional dependency down",
			db:   okDB(),
			probers: []Prober{
				&mockProber{result: ProbeResult{Name: "ollama", OK: false, Error: "connection refused"}},
			},
			wantOK: map[string]bool{"postgres": true, "ollama": false},
		},
		{
			name: "database down",
			db:   &mockDB{probe: ProbeResult{Name: "postgres", OK: false, Error: "circuit open"}},
			probers: []Prober{
				&mockProber{result: ProbeResult{Name: "redis", OK: true}},
			},
			wantOK: map[string]bool{"postgres": false, "redis": true},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := New(tc.db, tc.probers...)
			results := s.RunDeepHealth(context.Background())

			assert.Len(t, results, len(tc.wantOK))
			for name, wantOK := range tc.wantOK {
				probe, ok := results[name]
				require.True(t, ok, "expected result for %q", name)
				assert.Equal(t, wantOK, probe.OK, "probe %q OK mismatch", name)
			}
		})
	}
}

func TestRunDeepHealth_DoesNotAffectReadiness(t *testing.T) {
	t.Parallel()

	s := New(okDB(), &mockProber{result: ProbeResult{Name: "redis", OK: false, Error: "down"}})
	require.NoError(t, s.Start(context.Background()))

	_ = s.RunDeepHealth(context.Background())
	assert.True(t, s.IsReady())
}
