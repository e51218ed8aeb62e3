package worker

import (
	"context"
	"time"

	"reelcast/internal/engine"
	"reelcast/internal/pkg/logger"
	"reelcast/internal/ports"
)

type Dispatcher interface {
	Dispatch(ctx context.Context) (*engine.DispatchSummary, error)
}

type Sweeper interface {
	Sweep(ctx context.Context) (*engine.SweepSummary, error)
}

// Signal delivers dispatch kicks. Wait returns ok=false when timeout passes
// without one.
type Signal interface {
	Wait(ctx context.Context, timeout time.Duration) (reason string, ok bool, err error)
}

type Deps struct {
	Dispatcher Dispatcher
	Sweeper    Sweeper
	// Signal and Lease are optional. Without a signal the worker only runs
	// on its interval; without a lease every pass runs.
	Signal Signal
	Lease  ports.Lease

	Interval      time.Duration
	SweepInterval time.Duration
	// LeaseTTL bounds a single pass.
	LeaseTTL time.Duration
	Log      *logger.Logger
}
