// Package app wires the configured adapters into an engine. The API and the
// worker share it so both run against the same store and storage.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"reelcast/internal/adapters/render/creatomate"
	"reelcast/internal/config"
	"reelcast/internal/engine"
	"reelcast/internal/pkg/logger"
	"reelcast/internal/pkg/shutdown"
	"reelcast/internal/ports"
	"reelcast/internal/repositories"
	"reelcast/internal/storage"
	"reelcast/internal/worker/queue"
)

type Runtime struct {
	Config    *config.Config
	Log       *logger.Logger
	Store     *repositories.SQLStore
	Artifacts ports.ArtifactStore
	Engine    *engine.Engine

	// Redis, Kicks and Lease are nil when no Redis address is configured.
	Redis *redis.Client
	Kicks *queue.KickQueue
	Lease *queue.RedisLease
}

// NewLogger builds the process logger from the logging settings.
func NewLogger(cfg config.LoggingConfig, service string) *logger.Logger {
	return logger.New(logger.Config{
		Level:       cfg.Level,
		Format:      cfg.Format,
		AddSource:   cfg.AddSource,
		ServiceName: service,
	})
}

// Build connects every dependency and registers its cleanup with mgr.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger, mgr *shutdown.Manager) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rt := &Runtime{Config: cfg, Log: log}

	log.Info("opening store", "driver", cfg.Store.Driver)
	store, err := repositories.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	mgr.Register("store", func(ctx context.Context) error { return store.Close() })
	if err := store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}
	rt.Store = store
	log.Info("store ready", "driver", store.Driver())

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		mgr.Register("redis", func(ctx context.Context) error { return rdb.Close() })
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			// Kicks and leases degrade to the interval schedule.
			log.Warn("redis unreachable at startup", "addr", cfg.Redis.Addr, "error", err.Error())
		} else {
			log.Info("redis connected", "addr", cfg.Redis.Addr)
		}
		cancel()
		rt.Redis = rdb
		rt.Kicks = queue.NewKickQueue(rdb, cfg.Redis.KickQueue)
		rt.Lease = queue.NewRedisLease(rdb, "reelcast:lease:")
	}

	artifacts, err := storage.NewProvider(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("storage provider: %w", err)
	}
	rt.Artifacts = artifacts
	log.Info("storage provider initialized", "provider", artifacts.Provider())

	render, err := creatomate.New(creatomate.Config{
		APIKey:  cfg.Render.APIKey,
		BaseURL: cfg.Render.BaseURL,
		Timeout: cfg.Render.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("render client: %w", err)
	}

	deps := engine.Deps{
		Store:      store,
		Recipients: store,
		Render:     render,
		Artifacts:  artifacts,
		Log:        log,
	}
	if rt.Kicks != nil {
		deps.Kicker = rt.Kicks
	}
	if rt.Lease != nil {
		deps.Lease = rt.Lease
	}
	rt.Engine = engine.New(deps, cfg)
	return rt, nil
}

// RedisPing is nil when Redis is not configured.
func (rt *Runtime) RedisPing() func(context.Context) error {
	if rt.Redis == nil {
		return nil
	}
	return func(ctx context.Context) error { return rt.Redis.Ping(ctx).Err() }
}
