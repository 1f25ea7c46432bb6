package database

import (
	"errors"
	"fmt"
)

var (
	// ErrDatabaseUnavailable matches any *UnavailableError.
	ErrDatabaseUnavailable = errors.New("database unavailable")

	// ErrPoolExhausted is returned by Acquire when no lease could be granted
	// within the pool timeout. Callers may retry.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrNotReady is returned by Acquire outside the READY state.
	ErrNotReady = errors.New("database not ready")

	// ErrInvalidState is returned when a transition is requested from a state
	// that does not allow it.
	ErrInvalidState = errors.New("invalid bootstrap state")

	// ErrShutdownGrace is returned by Shutdown when leases were still held at
	// the end of the grace period.
	ErrShutdownGrace = errors.New("shutdown grace period exceeded")

	// ErrLeaseReleased is returned by Lease methods after Release.
	ErrLeaseReleased = errors.New("lease already released")
)

// UnavailableError reports a failed bootstrap of the database target.
type UnavailableError struct {
	Target string
	Err    error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("database unavailable (%s): %v", e.Target, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrDatabaseUnavailable }

// ReleaseError describes a broken connection dropped on release. It is only
// logged.
type ReleaseError struct {
	Reason string
}

func (e *ReleaseError) Error() string {
	return "discarded broken connection: " + e.Reason
}
