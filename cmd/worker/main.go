package main

import (
	"context"
	"errors"
	"time"

	"reelcast/internal/app"
	"reelcast/internal/config"
	"reelcast/internal/pkg/logger"
	"reelcast/internal/pkg/shutdown"
	"reelcast/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().LogFatal("failed to load configuration", err)
	}
	log := app.NewLogger(cfg.Logging, "reelcast-worker")

	ctx, cancel := context.WithCancel(context.Background())
	shutdownMgr := shutdown.NewManager(log, 30*time.Second)

	rt, err := app.Build(ctx, cfg, log, shutdownMgr)
	if err != nil {
		shutdownMgr.Shutdown()
		log.LogFatal("failed to initialize", err)
	}

	deps := worker.Deps{
		Dispatcher:    rt.Engine.Dispatcher,
		Sweeper:       rt.Engine.Reaper,
		Interval:      cfg.Dispatch.Interval,
		SweepInterval: cfg.Dispatch.SweepInterval,
		LeaseTTL:      cfg.Redis.LeaseTTL,
		Log:           log,
	}
	if rt.Kicks != nil {
		deps.Signal = rt.Kicks
		deps.Lease = rt.Lease
	}

	stopped := make(chan struct{})
	// Registered last so it runs first: the loop stops before the store closes.
	shutdownMgr.Register("worker", func(ctx context.Context) error {
		cancel()
		select {
		case <-stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	go func() {
		defer close(stopped)
		log.Info("reelcast worker started",
			"interval", cfg.Dispatch.Interval.String(),
			"sweep_interval", cfg.Dispatch.SweepInterval.String(),
			"kicks", rt.Kicks != nil,
		)
		if err := worker.Run(ctx, deps); err != nil && !errors.Is(err, context.Canceled) {
			log.LogError(ctx, "worker stopped", err)
		}
	}()

	shutdownMgr.Wait(context.Background())
}
