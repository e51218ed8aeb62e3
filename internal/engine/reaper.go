package engine

import (
	"context"
	"fmt"
	"time"

	"reelcast/internal/models"
	"reelcast/internal/pkg/logger"
	"reelcast/internal/ports"
)

type ReaperConfig struct {
	// StaleAfter is how long a job may sit in processing without a callback.
	StaleAfter time.Duration
	MaxRetries int
	// SweepLimit bounds the jobs examined per sweep.
	SweepLimit int
}

type SweepSummary struct {
	Examined  int `json:"examined"`
	Recovered int `json:"recovered"`
	Requeued  int `json:"requeued"`
	Failed    int `json:"failed"`
	InFlight  int `json:"in_flight"`
}

// Reaper returns jobs whose callback never arrived to the queue. Before
// giving up on a render it asks the service for its status, and a finished
// render is completed as if its callback had landed.
type Reaper struct {
	store      ports.JobStore
	render     ports.RenderClient
	completion *Completion
	progress   *Progress
	log        *logger.Logger
	cfg        ReaperConfig
	now        func() time.Time
}

func NewReaper(store ports.JobStore, render ports.RenderClient, completion *Completion, progress *Progress, log *logger.Logger, cfg ReaperConfig) *Reaper {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.SweepLimit <= 0 {
		cfg.SweepLimit = 100
	}
	return &Reaper{
		store:      store,
		render:     render,
		completion: completion,
		progress:   progress,
		log:        log.WithComponent("reaper"),
		cfg:        cfg,
		now:        time.Now,
	}
}

func (r *Reaper) Sweep(ctx context.Context) (*SweepSummary, error) {
	now := r.now()
	stale, err := r.store.StaleProcessingJobs(ctx, now.Add(-r.cfg.StaleAfter), r.cfg.SweepLimit)
	if err != nil {
		return nil, err
	}
	sum := &SweepSummary{Examined: len(stale)}
	for i := range stale {
		if ctx.Err() != nil {
			break
		}
		r.reap(ctx, &stale[i], now, sum)
	}
	if sum.Examined > 0 {
		r.log.Info("stale sweep finished",
			"examined", sum.Examined,
			"recovered", sum.Recovered,
			"requeued", sum.Requeued,
			"failed", sum.Failed,
			"in_flight", sum.InFlight,
		)
	}
	return sum, nil
}

func (r *Reaper) reap(ctx context.Context, job *models.RenderJob, now time.Time, sum *SweepSummary) {
	log := r.log.WithJobID(job.ID).WithBatchID(job.BatchID)

	if job.ExternalRenderID != "" && r.render != nil {
		st, err := r.render.Status(ctx, job.ExternalRenderID)
		switch {
		case err != nil:
			log.Warn("render status unavailable, requeueing", "external_render_id", job.ExternalRenderID, "error", err.Error())
		case st.Status == RenderSucceeded || st.Status == RenderFailed:
			res, err := r.completion.Handle(ctx, Callback{
				ExternalID:   job.ExternalRenderID,
				Status:       st.Status,
				ResultURL:    st.URL,
				ErrorMessage: st.ErrorMessage,
				Result:       st.Result,
				Metadata:     ports.CorrelationMetadata{JobID: job.ID, RecipientID: job.RecipientID, PostIdentifier: job.PostIdentifier},
			})
			if err != nil {
				log.LogError(ctx, "recovering finished render failed", err)
				return
			}
			sum.Recovered++
			log.Info("recovered render without callback", "outcome", string(res.Outcome))
			return
		case job.ProcessingStartedAt != nil && now.Sub(*job.ProcessingStartedAt) < 2*r.cfg.StaleAfter:
			sum.InFlight++
			log.Debug("render still in flight", "render_status", st.Status)
			return
		}
	}

	reason := fmt.Sprintf("no completion callback within %s", r.cfg.StaleAfter)
	u := failedAttempt(job, reason, r.cfg.MaxRetries, now, models.JobProcessing)
	ok, err := r.store.UpdateJob(ctx, job.ID, u)
	if err != nil {
		log.LogError(ctx, "requeue stale job failed", err)
		return
	}
	if !ok {
		return
	}
	if *u.Status == models.JobFailed {
		sum.Failed++
	} else {
		sum.Requeued++
	}
	log.Warn("stale job swept", "retry_count", *u.RetryCount, "status", string(*u.Status))
	if _, err := r.progress.Recompute(ctx, job.BatchID); err != nil {
		log.LogError(ctx, "recompute batch failed", err)
	}
}
