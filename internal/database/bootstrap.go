// Package database owns the pooled PostgreSQL resource of the server: it builds
// the pool from the settings snapshot, probes it once at startup and hands out
// leases until shutdown.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"

	"github.com/zarigata/CHAOSV3/internal/clients"
	"github.com/zarigata/CHAOSV3/internal/config"
)

// Bootstrap drives the database lifecycle:
//
//	UNINITIALIZED → INITIALIZING → READY → SHUTTING_DOWN → CLOSED
//	                      ↘ FAILED
//
// Leases are granted through a FIFO semaphore sized PoolSize+MaxOverflow, so
// waiters are served in request order and a cancelled waiter never holds
// capacity.
type Bootstrap struct {
	cfg     config.DatabaseConfig
	logger  *slog.Logger
	cb      *gobreaker.CircuitBreaker
	connect func(ctx context.Context, d *Descriptor) (connPool, error)

	mu     sync.Mutex
	state  State
	desc   *Descriptor
	pool   connPool
	gate   *semaphore.Weighted
	leases sync.WaitGroup
	done   chan struct{}

	inUse     atomic.Int64
	waiting   atomic.Int64
	acquired  atomic.Uint64
	exhausted atomic.Uint64
	discarded atomic.Uint64
}

// New creates a Bootstrap in the UNINITIALIZED state. No connection is made
// until Initialize. cb guards Probe; nil selects clients.NewCircuitBreaker.
func New(cfg config.DatabaseConfig, cb *gobreaker.CircuitBreaker, logger *slog.Logger) *Bootstrap {
	if logger == nil {
		logger = slog.Default()
	}
	if cb == nil {
		cb = clients.NewCircuitBreaker(probeName)
	}
	return &Bootstrap{
		cfg:     cfg,
		logger:  logger.With("component", "database"),
		cb:      cb,
		connect: realConnect,
	}
}

// Initialize builds the descriptor, opens the pool and runs one liveness
// probe. On failure the bootstrap moves to FAILED and the returned error
// matches ErrDatabaseUnavailable; the caller must not accept traffic.
func (b *Bootstrap) Initialize(ctx context.Context) error {
	b.mu.Lock()
	if b.state != StateUninitialized {
		s := b.state
		b.mu.Unlock()
		return fmt.Errorf("%w: initialize called in %s", ErrInvalidState, s)
	}
	b.state = StateInitializing
	b.mu.Unlock()

	desc, err := NewDescriptor(b.cfg, b.logger)
	if err != nil {
		return b.fail(&UnavailableError{Target: b.cfg.Host, Err: err})
	}

	b.logger.InfoContext(ctx, "initializing database connection",
		"target", desc.Target(),
		"pool_size", desc.PoolSize,
		"max_overflow", desc.MaxOverflow,
		"pool_timeout", desc.PoolTimeout,
		"recycle", desc.Recycle,
	)

	pool, err := b.connect(ctx, desc)
	if err != nil {
		return b.fail(&UnavailableError{Target: desc.Target(), Err: err})
	}

	probeCtx, cancel := context.WithTimeout(ctx, b.probeTimeout())
	defer cancel()
	if err := pool.Ping(probeCtx); err != nil {
		pool.Close()
		return b.fail(&UnavailableError{Target: desc.Target(), Err: fmt.Errorf("liveness probe: %w", err)})
	}

	b.mu.Lock()
	b.desc = desc
	b.pool = pool
	b.gate = semaphore.NewWeighted(desc.Capacity())
	b.state = StateReady
	b.mu.Unlock()

	b.logger.InfoContext(ctx, "database connection established", "target", desc.Target())
	return nil
}

func (b *Bootstrap) fail(err *UnavailableError) error {
	b.mu.Lock()
	b.state = StateFailed
	b.mu.Unlock()
	b.logger.Error("database bootstrap failed", "target", err.Target, "err", err.Err)
	return err
}

func (b *Bootstrap) probeTimeout() time.Duration {
	if b.cfg.ProbeTimeout > 0 {
		return b.cfg.ProbeTimeout
	}
	return 5 * time.Second
}

// Acquire leases a connection. It blocks while the pool is saturated, for at
// most the pool timeout, then fails with ErrPoolExhausted. If ctx ends first
// the wait is abandoned and ctx.Err() is returned. The caller owns the lease
// until it calls Release; prefer WithConn.
func (b *Bootstrap) Acquire(ctx context.Context) (*Lease, error) {
	b.mu.Lock()
	if b.state != StateReady {
		s := b.state
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: state %s", ErrNotReady, s)
	}
	gate, pool, timeout := b.gate, b.pool, b.desc.PoolTimeout
	b.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b.waiting.Add(1)
	err := gate.Acquire(waitCtx, 1)
	b.waiting.Add(-1)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		b.exhausted.Add(1)
		return nil, fmt.Errorf("%w: no connection within %s", ErrPoolExhausted, timeout)
	}

	b.mu.Lock()
	if b.state != StateReady {
		s := b.state
		b.mu.Unlock()
		gate.Release(1)
		return nil, fmt.Errorf("%w: state %s", ErrNotReady, s)
	}
	b.leases.Add(1)
	b.inUse.Add(1)
	b.mu.Unlock()

	conn, err := pool.acquire(ctx)
	if err != nil {
		b.finishLease()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}

	b.acquired.Add(1)
	return newLease(b, conn), nil
}

// WithConn runs fn with a leased connection and releases it on every exit
// path, including a panic in fn.
func (b *Bootstrap) WithConn(ctx context.Context, fn func(ctx context.Context, conn Conn) error) error {
	lease, err := b.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()
	return fn(ctx, lease)
}

// release returns conn to the pool, or destroys it when broken.
func (b *Bootstrap) release(conn pooledConn) {
	if reason := conn.brokenReason(); reason != "" {
		conn.destroy()
		b.discarded.Add(1)
		b.logger.Warn("connection release failed", "err", &ReleaseError{Reason: reason})
	} else {
		conn.release()
	}
	b.finishLease()
}

func (b *Bootstrap) finishLease() {
	b.inUse.Add(-1)
	b.gate.Release(1)
	b.leases.Done()
}

// Shutdown stops granting leases, waits up to the shutdown grace period for
// outstanding ones and closes the pool. Calling it again after CLOSED is a
// no-op. A grace-period overrun is returned for logging only; the pool is
// closed in the background once the stragglers come back.
func (b *Bootstrap) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	switch b.state {
	case StateClosed, StateFailed:
		b.mu.Unlock()
		return nil
	case StateUninitialized:
		b.state = StateClosed
		b.mu.Unlock()
		return nil
	case StateInitializing:
		b.mu.Unlock()
		return fmt.Errorf("%w: shutdown called in %s", ErrInvalidState, StateInitializing)
	case StateShuttingDown:
		done := b.done
		b.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	b.state = StateShuttingDown
	b.done = make(chan struct{})
	pool, done := b.pool, b.done
	b.mu.Unlock()

	b.logger.InfoContext(ctx, "closing database connections", "outstanding_leases", b.inUse.Load())

	err := b.awaitLeases(ctx)
	if err != nil {
		b.logger.WarnContext(ctx, "closing database pool with leases outstanding", "err", err)
		go pool.Close()
	} else {
		pool.Close()
	}

	b.mu.Lock()
	b.state = StateClosed
	b.mu.Unlock()
	close(done)

	b.logger.InfoContext(ctx, "database connections closed")
	return err
}

func (b *Bootstrap) awaitLeases(ctx context.Context) error {
	if b.inUse.Load() == 0 {
		return nil
	}

	drained := make(chan struct{})
	go func() {
		b.leases.Wait()
		close(drained)
	}()

	grace := b.cfg.ShutdownGrace
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-drained:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: %d leases outstanding after %s", ErrShutdownGrace, b.inUse.Load(), grace)
	case <-ctx.Done():
		return fmt.Errorf("waiting for leases: %w", ctx.Err())
	}
}

// State returns the current lifecycle state.
func (b *Bootstrap) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Ready reports whether leases can be granted.
func (b *Bootstrap) Ready() bool {
	return b.State() == StateReady
}

// Stats is a point-in-time view of the pool bookkeeping.
type Stats struct {
	State      State  `json:"-"`
	StateName  string `json:"state"`
	Capacity   int64  `json:"capacity"`
	InUse      int64  `json:"in_use"`
	Available  int64  `json:"available"`
	Waiting    int64  `json:"waiting"`
	Acquired   uint64 `json:"acquired_total"`
	Exhausted  uint64 `json:"exhausted_total"`
	Discarded  uint64 `json:"discarded_total"`
	TotalConns int32  `json:"open_connections"`
	IdleConns  int32  `json:"idle_connections"`
}

// Stats returns the current pool statistics.
func (b *Bootstrap) Stats() Stats {
	b.mu.Lock()
	state, desc, pool := b.state, b.desc, b.pool
	b.mu.Unlock()

	s := Stats{
		State:     state,
		StateName: state.String(),
		InUse:     b.inUse.Load(),
		Waiting:   b.waiting.Load(),
		Acquired:  b.acquired.Load(),
		Exhausted: b.exhausted.Load(),
		Discarded: b.discarded.Load(),
	}
	if desc != nil {
		s.Capacity = desc.Capacity()
		s.Available = s.Capacity - s.InUse
	}
	if pool != nil && state == StateReady {
		s.TotalConns, s.IdleConns = pool.stat()
	}
	return s
}
