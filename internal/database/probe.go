package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/zarigata/CHAOSV3/internal/lifecycle"
)

const probeName = "postgres"

// Probe leases a connection and pings the server. It runs inside the circuit
// breaker so that a database that keeps failing is reported as "circuit open"
// without another round trip. Probe never changes the lifecycle state.
func (b *Bootstrap) Probe(ctx context.Context) lifecycle.ProbeResult {
	start := time.Now()

	_, err := b.cb.Execute(func() (any, error) {
		if s := b.State(); s != StateReady {
			return nil, fmt.Errorf("%w: state %s", ErrNotReady, s)
		}

		probeCtx, cancel := context.WithTimeout(ctx, b.probeTimeout())
		defer cancel()

		return nil, b.WithConn(probeCtx, func(ctx context.Context, conn Conn) error {
			if err := conn.Ping(ctx); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			return nil
		})
	})

	latency := time.Since(start).Milliseconds()

	if err != nil {
		errMsg := err.Error()
		if errors.Is(err, gobreaker.ErrOpenState) {
			errMsg = "circuit open"
		}
		return lifecycle.ProbeResult{
			Name:      probeName,
			OK:        false,
			LatencyMs: latency,
			Error:     errMsg,
		}
	}

	return lifecycle.ProbeResult{
		Name:      probeName,
		OK:        true,
		LatencyMs: latency,
	}
}
