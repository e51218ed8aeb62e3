package ports

import (
	"context"
	"time"
)

// DispatchKicker wakes the worker so a new batch is dispatched without
// waiting for the next tick.
type DispatchKicker interface {
	Kick(ctx context.Context, reason string) error
}

// Lease is a short-lived exclusive lock shared across processes.
type Lease interface {
	// Acquire returns a release func, or ok=false if someone else holds it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}
