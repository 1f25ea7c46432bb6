package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Conn is the query surface of a leased connection.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// pooledConn is a connection checked out of a connPool. Tests inject fakes.
type pooledConn interface {
	Conn
	// brokenReason returns a non-empty reason when the connection must not go
	// back to the pool.
	brokenReason() string
	release()
	destroy()
}

// connPool abstracts the pgxpool.Pool methods used by Bootstrap so that tests
// can inject a fake without standing up a real database.
type connPool interface {
	acquire(ctx context.Context) (pooledConn, error)
	Ping(ctx context.Context) error
	stat() (total, idle int32)
	Close()
}

// pgxPool adapts *pgxpool.Pool to connPool.
type pgxPool struct {
	pool *pgxpool.Pool
}

// realConnect opens a pgxpool.Pool from the descriptor. pgxpool connects
// lazily, so reachability is only known after the first Ping.
func realConnect(ctx context.Context, d *Descriptor) (connPool, error) {
	pool, err := pgxpool.NewWithConfig(ctx, d.poolConfig)
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}
	return &pgxPool{pool: pool}, nil
}

func (p *pgxPool) acquire(ctx context.Context) (pooledConn, error) {
	c, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &pgxConn{conn: c}, nil
}

func (p *pgxPool) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *pgxPool) stat() (int32, int32) {
	s := p.pool.Stat()
	return s.TotalConns(), s.IdleConns()
}

func (p *pgxPool) Close() { p.pool.Close() }

// pgxConn adapts *pgxpool.Conn to pooledConn.
type pgxConn struct {
	conn *pgxpool.Conn
}

func (c *pgxConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return c.conn.Exec(ctx, sql, args...)
}

func (c *pgxConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return c.conn.Query(ctx, sql, args...)
}

func (c *pgxConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return c.conn.QueryRow(ctx, sql, args...)
}

func (c *pgxConn) Begin(ctx context.Context) (pgx.Tx, error) { return c.conn.Begin(ctx) }

func (c *pgxConn) Ping(ctx context.Context) error { return c.conn.Ping(ctx) }

func (c *pgxConn) brokenReason() string {
	raw := c.conn.Conn()
	switch {
	case raw.IsClosed():
		return "connection closed"
	case raw.PgConn().IsBusy():
		return "connection busy"
	case raw.PgConn().TxStatus() != 'I':
		return "transaction left open"
	default:
		return ""
	}
}

func (c *pgxConn) release() { c.conn.Release() }

func (c *pgxConn) destroy() {
	raw := c.conn.Hijack()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = raw.Close(ctx)
}
