package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const tracerName = "chaos-server"

// ErrAlreadyStarted is returned when Start is called more than once.
var ErrAlreadyStarted = errors.New("service already started")

// DatabaseBootstrap is satisfied by *database.Bootstrap.
type DatabaseBootstrap interface {
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Ready() bool
	Probe(ctx context.Context) ProbeResult
}

// Prober is satisfied by the optional dependency clients (redis, AI backend).
type Prober interface {
	Probe(ctx context.Context) ProbeResult
}

// Service orders startup and shutdown around the database bootstrap and
// answers the liveness and readiness queries.
type Service struct {
	db      DatabaseBootstrap
	probers []Prober

	mu      sync.RWMutex
	phase   Phase
	started time.Time

	startCalled atomic.Bool
	admitting   atomic.Bool
}

// New constructs a Service. probers are only consulted by RunDeepHealth; they
// never gate readiness.
func New(db DatabaseBootstrap, probers ...Prober) *Service {
	return &Service{
		db:      db,
		probers: probers,
		phase:   PhaseStarting,
	}
}

// Start initializes the database. Liveness is announced only once the
// bootstrap is READY; any failure leaves the service in PhaseFailed and must
// stop the process before it accepts traffic.
func (s *Service) Start(ctx context.Context) error {
	if !s.startCalled.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "chaos.startup")
	defer span.End()

	slog.InfoContext(ctx, "startup: initializing database")

	if err := s.db.Initialize(ctx); err != nil {
		s.setPhase(PhaseFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "database bootstrap failed")
		slog.ErrorContext(ctx, "startup aborted", "error", err)
		return fmt.Errorf("startup: %w", err)
	}

	s.mu.Lock()
	s.phase = PhaseLive
	s.started = time.Now()
	s.mu.Unlock()
	s.admitting.Store(true)

	span.SetStatus(codes.Ok, "")
	slog.InfoContext(ctx, "startup complete, accepting traffic")
	return nil
}

// Drain stops admitting new work. In-flight requests keep running.
func (s *Service) Drain() {
	if !s.admitting.CompareAndSwap(true, false) {
		return
	}
	s.setPhase(PhaseDraining)
	slog.Info("draining: no longer admitting new work")
}

// Shutdown drains, then shuts the database down. Errors are logged and
// returned but never block process exit.
func (s *Service) Shutdown(ctx context.Context) error {
	s.Drain()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "chaos.shutdown")
	defer span.End()

	slog.InfoContext(ctx, "shutdown: closing database")

	err := s.db.Shutdown(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "database shutdown incomplete")
		slog.WarnContext(ctx, "database shutdown incomplete", "error", err)
	}

	s.mu.Lock()
	if s.phase != PhaseFailed {
		s.phase = PhaseStopped
	}
	s.mu.Unlock()

	slog.InfoContext(ctx, "shutdown complete")
	return err
}

// IsLive reports whether startup completed. It stays true while draining.
func (s *Service) IsLive() bool {
	p := s.Phase()
	return p == PhaseLive || p == PhaseDraining
}

// IsReady reports whether the service admits work and the database is READY.
func (s *Service) IsReady() bool {
	return s.admitting.Load() && s.db.Ready()
}

// Admitting reports whether new work is accepted.
func (s *Service) Admitting() bool {
	return s.admitting.Load()
}

// DatabaseReady reports whether the database bootstrap is READY.
func (s *Service) DatabaseReady() bool {
	return s.db.Ready()
}

// Phase returns the current lifecycle phase.
func (s *Service) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Uptime returns the time since startup completed, or zero before that.
func (s *Service) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.started.IsZero() {
		return 0
	}
	return time.Since(s.started)
}

func (s *Service) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// RunDeepHealth probes the database and every optional dependency
// concurrently and returns the results keyed by probe name.
func (s *Service) RunDeepHealth(ctx context.Context) map[string]ProbeResult {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "chaos.deep_health")
	defer span.End()

	probers := append([]Prober{s.db}, s.probers...)
	results := make(map[string]ProbeResult, len(probers))
	var mu sync.Mutex

	// Plain errgroup: one failing probe must not cancel its siblings.
	var g errgroup.Group
	for _, p := range probers {
		g.Go(func() error {
			r := p.Probe(ctx)
			mu.Lock()
			results[r.Name] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	healthy := true
	for _, r := range results {
		if !r.OK {
			healthy = false
			slog.WarnContext(ctx, "dependency probe failed", "dependency", r.Name, "error", r.Error)
		}
	}
	span.SetAttributes(attribute.Bool("deep_health.ok", healthy))
	return results
}
