// Package engine orchestrates render batches: dispatching jobs to the render
// service, applying its callbacks, publishing the videos and keeping batch
// progress in step with the job ledger.
package engine

import (
	"reelcast/internal/config"
	"reelcast/internal/pkg/logger"
	"reelcast/internal/ports"
)

// Deps are the collaborators the engine runs against.
type Deps struct {
	Store      ports.JobStore
	Recipients ports.RecipientDirectory
	Render     ports.RenderClient
	Artifacts  ports.ArtifactStore
	// Kicker and Lease are optional.
	Kicker ports.DispatchKicker
	Lease  ports.Lease
	Log    *logger.Logger
}

// Engine bundles the components shared by the API and the worker.
type Engine struct {
	Batches    *BatchService
	Dispatcher *Dispatcher
	Completion *Completion
	Publisher  *Publisher
	Progress   *Progress
	Reaper     *Reaper
}

func New(d Deps, cfg *config.Config) *Engine {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}

	progress := NewProgress(d.Store, log, ProgressConfig{
		RecentLimit:   cfg.Dispatch.RecentLimit,
		JobsPerMinute: cfg.Dispatch.JobsPerMinute,
	})
	publisher := NewPublisher(d.Store, d.Artifacts, d.Render, log, PublisherConfig{
		RecipientRoot: cfg.Storage.RecipientRoot,
		ArchiveFolder: cfg.Storage.ArchiveFolder,
	})
	completion := NewCompletion(d.Store, publisher, progress, d.Lease, log, CompletionConfig{
		MaxRetries: cfg.Dispatch.MaxRetries,
	})

	return &Engine{
		Batches: NewBatchService(d.Store, d.Recipients, d.Kicker, log),
		Dispatcher: NewDispatcher(d.Store, d.Recipients, d.Render, progress, log, DispatcherConfig{
			ClaimLimit: cfg.Dispatch.ClaimLimit,
			Pacing:     cfg.Dispatch.Pacing,
			MaxRetries: cfg.Dispatch.MaxRetries,
			WebhookURL: WebhookURL(cfg.HTTP.PublicBaseURL, cfg.Render.WebhookSecret),
		}),
		Completion: completion,
		Publisher:  publisher,
		Progress:   progress,
		Reaper: NewReaper(d.Store, d.Render, completion, progress, log, ReaperConfig{
			StaleAfter: cfg.Dispatch.StaleAfter,
			MaxRetries: cfg.Dispatch.MaxRetries,
		}),
	}
}
