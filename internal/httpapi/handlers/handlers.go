package handlers

import (
	"context"

	"reelcast/internal/engine"
	"reelcast/internal/models"
	"reelcast/internal/pkg/logger"
	"reelcast/internal/ports"
)

type BatchCreator interface {
	Create(ctx context.Context, reqs []engine.BatchRequest) ([]*models.RenderBatch, error)
	Preview(ctx context.Context, req engine.BatchRequest) (*engine.BatchPreview, error)
}

type StatusReader interface {
	Status(ctx context.Context, batchID string) (*engine.BatchStatus, error)
}

type CallbackHandler interface {
	Handle(ctx context.Context, cb engine.Callback) (*engine.CompletionResult, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context) (*engine.DispatchSummary, error)
}

type Sweeper interface {
	Sweep(ctx context.Context) (*engine.SweepSummary, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type Deps struct {
	Batches    BatchCreator
	Progress   StatusReader
	Completion CallbackHandler
	Dispatcher Dispatcher
	Sweeper    Sweeper

	Store     Pinger
	Redis     Pinger
	Artifacts ports.ArtifactStore
	// WebhookSecret must match the token query parameter of a callback.
	WebhookSecret string
	Log           *logger.Logger
}

type Handler struct {
	batches    BatchCreator
	progress   StatusReader
	completion CallbackHandler
	dispatcher Dispatcher
	sweeper    Sweeper

	store         Pinger
	redis         Pinger
	artifacts     ports.ArtifactStore
	webhookSecret string
	log           *logger.Logger
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	return &Handler{
		batches:       d.Batches,
		progress:      d.Progress,
		completion:    d.Completion,
		dispatcher:    d.Dispatcher,
		sweeper:       d.Sweeper,
		store:         d.Store,
		redis:         d.Redis,
		artifacts:     d.Artifacts,
		webhookSecret: d.WebhookSecret,
		log:           log.WithComponent("http"),
	}
}

// Log is the handler's logger, for WrapHandler.
func (h *Handler) Log() *logger.Logger { return h.log }
