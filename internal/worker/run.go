package worker

import (
	"context"
	"time"

	"reelcast/internal/pkg/logger"
)

const (
	dispatchLease = "dispatch"
	sweepLease    = "sweep"
)

// Run dispatches pending jobs every interval, or as soon as a kick arrives,
// and sweeps stale jobs every sweep interval. It returns when ctx is done.
func Run(ctx context.Context, d Deps) error {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("worker")
	if d.Interval <= 0 {
		d.Interval = time.Minute
	}
	if d.SweepInterval <= 0 {
		d.SweepInterval = 5 * time.Minute
	}
	if d.LeaseTTL <= 0 {
		d.LeaseTTL = 2 * time.Minute
	}
	w := &runner{d: d, log: log}

	var nextSweep time.Time
	reason := "startup"
	for {
		if ctx.Err() != nil {
			log.Info("worker context canceled, stopping")
			return ctx.Err()
		}

		w.exclusive(ctx, dispatchLease, func(ctx context.Context) {
			w.dispatch(ctx, reason)
		})
		if d.Sweeper != nil && !time.Now().Before(nextSweep) {
			w.exclusive(ctx, sweepLease, w.sweep)
			nextSweep = time.Now().Add(d.SweepInterval)
		}

		var err error
		reason, err = w.wait(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("worker stopping due to context cancellation")
				return ctx.Err()
			}
			log.Warn("kick queue wait error, falling back to interval", "error", err.Error())
			if !sleep(ctx, time.Second) {
				return ctx.Err()
			}
			reason = "retry"
		}
	}
}

type runner struct {
	d   Deps
	log *logger.Logger
}

func (w *runner) wait(ctx context.Context) (string, error) {
	if w.d.Signal == nil {
		if !sleep(ctx, w.d.Interval) {
			return "", ctx.Err()
		}
		return "interval", nil
	}
	reason, ok, err := w.d.Signal.Wait(ctx, w.d.Interval)
	if err != nil {
		return "", err
	}
	if !ok {
		return "interval", nil
	}
	return "kick:" + reason, nil
}

// exclusive runs fn under the named lease. A lease the store cannot grant
// because Redis is down does not block the pass: the job ledger already
// guarantees a job is claimed once.
func (w *runner) exclusive(ctx context.Context, name string, fn func(context.Context)) {
	passCtx, cancel := context.WithTimeout(ctx, w.d.LeaseTTL)
	defer cancel()

	if w.d.Lease == nil {
		fn(passCtx)
		return
	}
	release, ok, err := w.d.Lease.Acquire(passCtx, name, w.d.LeaseTTL)
	switch {
	case err != nil:
		w.log.Warn("lease unavailable, running unguarded", "lease", name, "error", err.Error())
		fn(passCtx)
		return
	case !ok:
		w.log.Debug("lease held elsewhere, skipping pass", "lease", name)
		return
	}
	defer func() {
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := release(relCtx); err != nil {
			w.log.Warn("lease release failed", "lease", name, "error", err.Error())
		}
	}()
	fn(passCtx)
}

func (w *runner) dispatch(ctx context.Context, reason string) {
	sum, err := w.d.Dispatcher.Dispatch(ctx)
	if err != nil {
		w.log.LogError(ctx, "dispatch pass failed", err, "trigger", reason)
		return
	}
	if sum.Claimed > 0 {
		w.log.Info("dispatch pass", "trigger", reason, "claimed", sum.Claimed, "submitted", sum.Submitted)
	}
}

func (w *runner) sweep(ctx context.Context) {
	if _, err := w.d.Sweeper.Sweep(ctx); err != nil {
		w.log.LogError(ctx, "stale sweep failed", err)
	}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
