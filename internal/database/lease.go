package database

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Lease is exclusive use of one pooled connection until its holder calls
// Release. Extra Release calls are ignored. Ending the acquiring context does
// not release the lease: the holder may still be inside a query or reading
// Rows, so release stays with the holder (WithConn or defer lease.Release()).
// After release every query method returns ErrLeaseReleased.
type Lease struct {
	b    *Bootstrap
	conn pooledConn

	once sync.Once
	mu   sync.Mutex
	done bool
}

var _ Conn = (*Lease)(nil)

func newLease(b *Bootstrap, conn pooledConn) *Lease {
	return &Lease{b: b, conn: conn}
}

// Release hands the connection back to the pool. A connection left in a
// broken state is closed and dropped instead; that is logged, never returned.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.mu.Lock()
		l.done = true
		l.mu.Unlock()
		l.b.release(l.conn)
	})
}

func (l *Lease) active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.done
}

func (l *Lease) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if !l.active() {
		return pgconn.CommandTag{}, ErrLeaseReleased
	}
	return l.conn.Exec(ctx, sql, args...)
}

func (l *Lease) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if !l.active() {
		return nil, ErrLeaseReleased
	}
	return l.conn.Query(ctx, sql, args...)
}

func (l *Lease) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if !l.active() {
		return errRow{err: ErrLeaseReleased}
	}
	return l.conn.QueryRow(ctx, sql, args...)
}

func (l *Lease) Begin(ctx context.Context) (pgx.Tx, error) {
	if !l.active() {
		return nil, ErrLeaseReleased
	}
	return l.conn.Begin(ctx)
}

func (l *Lease) Ping(ctx context.Context) error {
	if !l.active() {
		return ErrLeaseReleased
	}
	return l.conn.Ping(ctx)
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }
