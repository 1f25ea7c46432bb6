package database

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"

	"github.com/zarigata/CHAOSV3/internal/config"
)

const applicationName = "chaos-server"

// Descriptor is the connection target and pool shape derived from the
// settings snapshot. It is owned by a single Bootstrap.
type Descriptor struct {
	Host     string
	Port     uint16
	User     string
	Database string

	PoolSize    int
	MaxOverflow int
	PoolTimeout time.Duration
	IdleTimeout time.Duration
	Recycle     time.Duration

	poolConfig *pgxpool.Config
}

// NewDescriptor parses cfg.URL and shapes the pgx pool: the pool holds at most
// PoolSize+MaxOverflow connections, connections older than PoolRecycle are
// replaced (never when it is zero) and idle ones are closed after IdleTimeout.
// When cfg.Echo is set every statement is logged to logger at debug level.
func NewDescriptor(cfg config.DatabaseConfig, logger *slog.Logger) (*Descriptor, error) {
	if cfg.PoolSize <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", cfg.PoolSize)
	}
	if cfg.MaxOverflow < 0 {
		return nil, fmt.Errorf("max overflow must not be negative, got %d", cfg.MaxOverflow)
	}
	if cfg.PoolRecycle < 0 {
		return nil, fmt.Errorf("pool recycle must not be negative, got %s", cfg.PoolRecycle)
	}
	if cfg.PoolTimeout <= 0 {
		return nil, fmt.Errorf("pool timeout must be positive, got %s", cfg.PoolTimeout)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres DSN: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.PoolSize + cfg.MaxOverflow)
	poolCfg.MinConns = 0
	if cfg.PoolRecycle > 0 {
		poolCfg.MaxConnLifetime = cfg.PoolRecycle
	} else {
		poolCfg.MaxConnLifetime = time.Duration(math.MaxInt64)
	}
	if cfg.IdleTimeout > 0 {
		poolCfg.MaxConnIdleTime = cfg.IdleTimeout
	}
	if cfg.ProbeTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ProbeTimeout
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName

	if cfg.Echo && logger != nil {
		poolCfg.ConnConfig.Tracer = &tracelog.TraceLog{
			Logger:   statementLogger(logger),
			LogLevel: tracelog.LogLevelDebug,
		}
	}

	return &Descriptor{
		Host:        poolCfg.ConnConfig.Host,
		Port:        poolCfg.ConnConfig.Port,
		User:        poolCfg.ConnConfig.User,
		Database:    poolCfg.ConnConfig.Database,
		PoolSize:    cfg.PoolSize,
		MaxOverflow: cfg.MaxOverflow,
		PoolTimeout: cfg.PoolTimeout,
		IdleTimeout: cfg.IdleTimeout,
		Recycle:     cfg.PoolRecycle,
		poolConfig:  poolCfg,
	}, nil
}

// Capacity is the maximum number of concurrent leases.
func (d *Descriptor) Capacity() int64 {
	return int64(d.PoolSize + d.MaxOverflow)
}

// Target renders the descriptor without credentials, e.g. "chaos_user@db:5432/chaos_db".
func (d *Descriptor) Target() string {
	return fmt.Sprintf("%s@%s/%s", d.User, net.JoinHostPort(d.Host, strconv.Itoa(int(d.Port))), d.Database)
}

func statementLogger(logger *slog.Logger) tracelog.Logger {
	return tracelog.LoggerFunc(func(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
		attrs := make([]any, 0, len(data)*2)
		for k, v := range data {
			attrs = append(attrs, k, v)
		}
		logger.DebugContext(ctx, "sql: "+msg, attrs...)
	})
}
