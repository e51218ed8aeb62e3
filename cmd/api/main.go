package main

import (
	"context"
	"net/http"
	"time"

	"reelcast/internal/app"
	"reelcast/internal/config"
	"reelcast/internal/httpapi"
	"reelcast/internal/httpapi/handlers"
	"reelcast/internal/pkg/logger"
	"reelcast/internal/pkg/shutdown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().LogFatal("failed to load configuration", err)
	}
	log := app.NewLogger(cfg.Logging, "reelcast-api")
	log.Info("starting reelcast API", "port", cfg.HTTP.Port)

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, 30*time.Second)

	rt, err := app.Build(ctx, cfg, log, shutdownMgr)
	if err != nil {
		shutdownMgr.Shutdown()
		log.LogFatal("failed to initialize", err)
	}

	hd := handlers.Deps{
		Batches:       rt.Engine.Batches,
		Progress:      rt.Engine.Progress,
		Completion:    rt.Engine.Completion,
		Dispatcher:    rt.Engine.Dispatcher,
		Sweeper:       rt.Engine.Reaper,
		Store:         rt.Store,
		Artifacts:     rt.Artifacts,
		WebhookSecret: cfg.Render.WebhookSecret,
		Log:           log,
	}
	if ping := rt.RedisPing(); ping != nil {
		hd.Redis = handlers.PingFunc(ping)
	}
	if cfg.Render.WebhookSecret == "" {
		log.Warn("WEBHOOK_SECRET is empty; render callbacks are not authenticated")
	}

	server := &http.Server{
		Addr: "0.0.0.0:" + cfg.HTTP.Port,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Handlers:   hd,
			CronSecret: cfg.Dispatch.CronSecret,
			Log:        log,
		}),
		ReadTimeout: 30 * time.Second,
		// A dispatch pass paces its submissions and can run for a while.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	shutdownMgr.Wait(ctx)
}
