package engine

import (
	"context"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"reelcast/internal/models"
	apperrors "reelcast/internal/pkg/errors"
	"reelcast/internal/pkg/logger"
	"reelcast/internal/ports"
)

// Template fields filled from the recipient record.
const (
	FieldLogo  = "Logo"
	FieldName  = "Public-Company-Name"
	FieldPhone = "Public-Company-Phone"
)

type DispatcherConfig struct {
	// ClaimLimit is how many jobs one pass claims.
	ClaimLimit int
	// Pacing is the minimum gap between two submissions. 350ms keeps a full
	// pass under 30 requests per 10 seconds.
	Pacing     time.Duration
	MaxRetries int
	WebhookURL string
}

// DispatchSummary reports one dispatcher pass.
type DispatchSummary struct {
	Claimed   int           `json:"claimed"`
	Submitted int           `json:"submitted"`
	Requeued  int           `json:"requeued"`
	Failed    int           `json:"failed"`
	Invalid   int           `json:"invalid"`
	Released  int           `json:"released"`
	Duration  time.Duration `json:"duration_ns"`
}

// Dispatcher claims pending jobs and submits them to the render service.
// One job's failure never stops the rest of the pass.
type Dispatcher struct {
	store      ports.JobStore
	recipients ports.RecipientDirectory
	render     ports.RenderClient
	progress   *Progress
	log        *logger.Logger
	cfg        DispatcherConfig
	limiter    *rate.Limiter
	now        func() time.Time
}

func NewDispatcher(store ports.JobStore, recipients ports.RecipientDirectory, render ports.RenderClient, progress *Progress, log *logger.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.ClaimLimit <= 0 {
		cfg.ClaimLimit = 20
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	limit := rate.Inf
	if cfg.Pacing > 0 {
		limit = rate.Every(cfg.Pacing)
	}
	return &Dispatcher{
		store:      store,
		recipients: recipients,
		render:     render,
		progress:   progress,
		log:        log.WithComponent("dispatcher"),
		cfg:        cfg,
		limiter:    rate.NewLimiter(limit, 1),
		now:        time.Now,
	}
}

// WebhookURL builds the callback address the render service posts to.
func WebhookURL(publicBaseURL, secret string) string {
	u := strings.TrimRight(publicBaseURL, "/") + "/webhooks/render"
	if secret != "" {
		u += "?token=" + url.QueryEscape(secret)
	}
	return u
}

// Dispatch runs one pass.
func (d *Dispatcher) Dispatch(ctx context.Context) (*DispatchSummary, error) {
	start := time.Now()
	jobs, err := d.store.ClaimPendingJobs(ctx, d.cfg.ClaimLimit, d.now())
	if err != nil {
		return nil, err
	}
	sum := &DispatchSummary{Claimed: len(jobs)}
	if len(jobs) == 0 {
		return sum, nil
	}
	d.log.Info("claimed jobs", "count", len(jobs))

	touched := map[string]bool{}
	for i := range jobs {
		touched[jobs[i].BatchID] = true
	}
	// Claiming moved jobs to processing; the counters follow.
	for batchID := range touched {
		d.recompute(ctx, batchID)
	}

	for i := range jobs {
		if ctx.Err() != nil {
			sum.Released += d.release(jobs[i:])
			break
		}
		d.dispatchOne(ctx, &jobs[i], sum)
	}
	sum.Duration = time.Since(start)
	d.log.Info("dispatch pass finished",
		"claimed", sum.Claimed,
		"submitted", sum.Submitted,
		"requeued", sum.Requeued,
		"failed", sum.Failed,
		"invalid", sum.Invalid,
		"released", sum.Released,
		"duration_ms", sum.Duration.Milliseconds(),
	)
	return sum, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, job *models.RenderJob, sum *DispatchSummary) {
	log := d.log.WithJobID(job.ID).WithBatchID(job.BatchID)

	recipient, err := d.recipients.GetRecipient(ctx, job.RecipientID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			d.invalid(ctx, job, "recipient not found", sum)
			return
		}
		d.retry(ctx, job, "recipient lookup: "+err.Error(), sum)
		return
	}
	if missing := recipient.MissingFields(); len(missing) > 0 {
		d.invalid(ctx, job, "recipient missing required fields: "+strings.Join(missing, ", "), sum)
		return
	}

	if err := d.limiter.Wait(ctx); err != nil {
		sum.Released += d.release([]models.RenderJob{*job})
		return
	}

	out, err := d.render.Submit(ctx, ports.SubmitRenderInput{
		TemplateID: job.TemplateIdentifier,
		Modifications: map[string]string{
			FieldLogo:  recipient.LogoURL,
			FieldName:  recipient.DisplayName,
			FieldPhone: recipient.Phone,
		},
		Metadata: ports.CorrelationMetadata{
			JobID:          job.ID,
			RecipientID:    job.RecipientID,
			PostIdentifier: job.PostIdentifier,
		},
		WebhookURL: d.cfg.WebhookURL,
	})
	if err != nil {
		d.retry(ctx, job, "submit: "+err.Error(), sum)
		return
	}

	ok, err := d.store.UpdateJob(ctx, job.ID, models.JobUpdate{
		ExpectStatus:     []models.JobStatus{models.JobProcessing},
		ExternalRenderID: models.StringPtr(out.ExternalID),
	})
	if err != nil {
		// The render is running; its callback resolves through metadata.
		log.LogError(ctx, "record external id failed", err, "external_render_id", out.ExternalID)
	} else if !ok {
		log.Info("job moved on before external id was recorded", "external_render_id", out.ExternalID)
	}
	sum.Submitted++
	log.Info("render submitted", "external_render_id", out.ExternalID, "render_status", out.Status)
}

func (d *Dispatcher) invalid(ctx context.Context, job *models.RenderJob, reason string, sum *DispatchSummary) {
	ok, err := d.store.UpdateJob(ctx, job.ID, permanentFailure(reason, d.now(), models.JobProcessing))
	if err != nil {
		d.log.WithJobID(job.ID).LogError(ctx, "mark invalid failed", err)
		return
	}
	if ok {
		sum.Invalid++
		d.log.WithJobID(job.ID).WithBatchID(job.BatchID).Warn("job failed validation", "reason", reason)
		d.recompute(ctx, job.BatchID)
	}
}

func (d *Dispatcher) retry(ctx context.Context, job *models.RenderJob, reason string, sum *DispatchSummary) {
	u := failedAttempt(job, reason, d.cfg.MaxRetries, d.now(), models.JobProcessing)
	ok, err := d.store.UpdateJob(ctx, job.ID, u)
	if err != nil {
		d.log.WithJobID(job.ID).LogError(ctx, "record dispatch failure failed", err)
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
	d.log.WithJobID(job.ID).WithBatchID(job.BatchID).Warn("dispatch failed",
		"reason", reason, "retry_count", *u.RetryCount, "status", string(*u.Status))
	d.recompute(ctx, job.BatchID)
}

// release returns claimed but unsubmitted jobs to pending when the pass is
// cancelled. No attempt was made, so the retry counter is untouched.
func (d *Dispatcher) release(jobs []models.RenderJob) int {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	released := 0
	batches := map[string]bool{}
	for _, j := range jobs {
		ok, err := d.store.UpdateJob(ctx, j.ID, models.JobUpdate{
			ExpectStatus: []models.JobStatus{models.JobProcessing},
			Status:       models.StatusPtr(models.JobPending),
		})
		if err != nil {
			d.log.WithJobID(j.ID).LogError(ctx, "release claimed job failed", err)
			continue
		}
		if ok {
			released++
			batches[j.BatchID] = true
		}
	}
	for batchID := range batches {
		d.recompute(ctx, batchID)
	}
	return released
}

func (d *Dispatcher) recompute(ctx context.Context, batchID string) {
	if _, err := d.progress.Recompute(ctx, batchID); err != nil {
		d.log.WithBatchID(batchID).LogError(ctx, "recompute batch failed", err)
	}
}
