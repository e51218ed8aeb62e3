package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"reelcast/internal/models"
	apperrors "reelcast/internal/pkg/errors"
	"reelcast/internal/pkg/logger"
	"reelcast/internal/ports"
)

// Callback is a render service notification about one render.
type Callback struct {
	ExternalID   string
	Status       string
	ResultURL    string
	ErrorMessage string
	Result       models.ResultMetadata
	Metadata     ports.CorrelationMetadata
}

const (
	RenderSucceeded = "succeeded"
	RenderFailed    = "failed"
)

// ResolvedVia records which lookup found the job.
type ResolvedVia string

const (
	ViaExternalID ResolvedVia = "external_id"
	ViaMetadata   ResolvedVia = "metadata"
)

// Resolution is the outcome of matching a callback to a job.
type Resolution struct {
	Found bool
	Job   *models.RenderJob
	Via   ResolvedVia
	// Backfilled is set when the metadata lookup recorded the external id.
	Backfilled bool
	// Superseded is set when the job has moved on to a different render.
	Superseded bool
}

// Outcome says what a callback did.
type Outcome string

const (
	OutcomeCompleted  Outcome = "completed"
	OutcomeRequeued   Outcome = "requeued"
	OutcomeFailed     Outcome = "failed"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeSuperseded Outcome = "superseded"
	OutcomeIgnored    Outcome = "ignored"
)

type CompletionResult struct {
	Outcome  Outcome             `json:"outcome"`
	JobID    string              `json:"job_id"`
	BatchID  string              `json:"batch_id"`
	Via      ResolvedVia         `json:"resolved_via"`
	Artifact *models.ArtifactRef `json:"artifact,omitempty"`
}

type CompletionConfig struct {
	MaxRetries int
	// PublishTTL bounds how long one delivery may hold a job's publish lease.
	PublishTTL time.Duration
}

const defaultPublishTTL = 10 * time.Minute

// Completion applies render callbacks. Every path is safe to repeat: a
// redelivered callback either finds the job terminal or re-runs a publish
// that dedupes against the stored artifact.
type Completion struct {
	store     ports.JobStore
	publisher *Publisher
	progress  *Progress
	log       *logger.Logger
	cfg       CompletionConfig
	now       func() time.Time

	// lease is optional and spans processes; publishing spans this one.
	lease      ports.Lease
	mu         sync.Mutex
	publishing map[string]bool
}

func NewCompletion(store ports.JobStore, publisher *Publisher, progress *Progress, lease ports.Lease, log *logger.Logger, cfg CompletionConfig) *Completion {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.PublishTTL <= 0 {
		cfg.PublishTTL = defaultPublishTTL
	}
	return &Completion{
		store:      store,
		publisher:  publisher,
		progress:   progress,
		log:        log.WithComponent("completion"),
		cfg:        cfg,
		now:        time.Now,
		lease:      lease,
		publishing: map[string]bool{},
	}
}

// Resolve finds the job a callback belongs to: by external id first, then by
// the job id carried in the correlation metadata. The metadata path records
// the external id when the dispatcher has not written it yet.
func (c *Completion) Resolve(ctx context.Context, cb Callback) (Resolution, error) {
	if cb.ExternalID != "" {
		job, err := c.store.FindJobByExternalID(ctx, cb.ExternalID)
		if err == nil {
			return Resolution{Found: true, Job: job, Via: ViaExternalID}, nil
		}
		if !apperrors.IsNotFound(err) {
			return Resolution{}, err
		}
	}

	if cb.Metadata.JobID == "" {
		return Resolution{}, nil
	}
	job, err := c.store.FindJobByID(ctx, cb.Metadata.JobID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return Resolution{}, nil
		}
		return Resolution{}, err
	}
	res := Resolution{Found: true, Job: job, Via: ViaMetadata}
	if job.Status.Terminal() || cb.ExternalID == "" {
		return res, nil
	}

	switch {
	case job.ExternalRenderID == "" && job.Status == models.JobProcessing:
		ok, err := c.store.BackfillExternalID(ctx, job.ID, cb.ExternalID)
		if err != nil {
			return Resolution{}, err
		}
		if ok {
			job.ExternalRenderID = cb.ExternalID
			res.Backfilled = true
			return res, nil
		}
		// Lost a race with the dispatcher; judge against what it wrote.
		if job, err = c.store.FindJobByID(ctx, job.ID); err != nil {
			return Resolution{}, err
		}
		res.Job = job
		res.Superseded = job.ExternalRenderID != "" && job.ExternalRenderID != cb.ExternalID
	case job.ExternalRenderID != "" && job.ExternalRenderID != cb.ExternalID:
		res.Superseded = true
	}
	return res, nil
}

// Handle applies cb. A callback that matches no job is NOT_FOUND and changes
// nothing; a publish failure is UNAVAILABLE and leaves the job processing.
func (c *Completion) Handle(ctx context.Context, cb Callback) (*CompletionResult, error) {
	res, err := c.Resolve(ctx, cb)
	if err != nil {
		return nil, err
	}
	if !res.Found {
		return nil, apperrors.NotFound("render job", firstNonEmpty(cb.ExternalID, cb.Metadata.JobID)).
			WithField("external_render_id", cb.ExternalID).
			WithField("metadata_job_id", cb.Metadata.JobID)
	}

	job := res.Job
	ctx = logger.ContextWithJobID(logger.ContextWithBatchID(ctx, job.BatchID), job.ID)
	log := c.log.FromContext(ctx)
	out := &CompletionResult{JobID: job.ID, BatchID: job.BatchID, Via: res.Via}
	status := strings.ToLower(strings.TrimSpace(cb.Status))

	switch {
	case job.Status.Terminal():
		log.Info("callback for terminal job ignored", "job_status", string(job.Status), "render_status", status)
		c.heal(ctx, job.BatchID)
		out.Outcome = OutcomeDuplicate
		out.Artifact = job.Artifact
		return out, nil
	case res.Superseded:
		log.Info("callback for superseded render ignored",
			"external_render_id", cb.ExternalID, "current_render_id", job.ExternalRenderID)
		out.Outcome = OutcomeSuperseded
		return out, nil
	}

	switch status {
	case RenderSucceeded:
		return c.succeed(ctx, job, cb, out)
	case RenderFailed:
		// A failure for a job already back in pending was counted when it
		// was requeued.
		if job.Status == models.JobPending && res.Via == ViaMetadata {
			out.Outcome = OutcomeSuperseded
			return out, nil
		}
		return c.fail(ctx, job, firstNonEmpty(cb.ErrorMessage, "render failed"), out)
	default:
		log.Debug("non-terminal render status ignored", "render_status", status)
		out.Outcome = OutcomeIgnored
		return out, nil
	}
}

func (c *Completion) succeed(ctx context.Context, job *models.RenderJob, cb Callback, out *CompletionResult) (*CompletionResult, error) {
	log := c.log.FromContext(ctx)

	release, err := c.guardPublish(ctx, job.ID)
	if err != nil {
		log.Info("publish already running for job, awaiting redelivery")
		return nil, err
	}
	defer release()

	ref, err := c.publisher.Publish(ctx, job, cb.ResultURL)
	if err != nil {
		if apperrors.IsValidation(err) {
			return c.fail(ctx, job, err.Error(), out)
		}
		log.Warn("publish failed, awaiting redelivery", "error", err.Error())
		return nil, err
	}

	result := cb.Result
	ok, err := c.store.UpdateJob(ctx, job.ID, models.JobUpdate{
		ExpectStatus: models.NonTerminal,
		Status:       models.StatusPtr(models.JobCompleted),
		CompletedAt:  models.TimePtr(c.now()),
		Artifact:     ref,
		Result:       &result,
		LastError:    models.StringPtr(""),
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		// A concurrent delivery finished the job first.
		out.Outcome = OutcomeDuplicate
		c.heal(ctx, job.BatchID)
		return out, nil
	}
	log.Info("job completed", "artifact_path", ref.Path)

	if _, err := c.progress.Recompute(ctx, job.BatchID); err != nil {
		return nil, err
	}
	out.Outcome = OutcomeCompleted
	out.Artifact = ref
	return out, nil
}

// guardPublish admits one publish per job at a time. A second delivery gets
// UNAVAILABLE and is redelivered after the first has recorded its artifact.
// Without a reachable lease store only the in-process guard applies.
func (c *Completion) guardPublish(ctx context.Context, jobID string) (release func(), err error) {
	busy := apperrors.New(apperrors.CodeUnavailable, "publish already in progress").WithField("job_id", jobID)
	log := c.log.FromContext(ctx)

	c.mu.Lock()
	if c.publishing[jobID] {
		c.mu.Unlock()
		return nil, busy
	}
	c.publishing[jobID] = true
	c.mu.Unlock()
	local := func() {
		c.mu.Lock()
		delete(c.publishing, jobID)
		c.mu.Unlock()
	}

	if c.lease == nil {
		return local, nil
	}
	name := "publish:" + jobID
	unlock, ok, err := c.lease.Acquire(ctx, name, c.cfg.PublishTTL)
	switch {
	case err != nil:
		log.Warn("publish lease unavailable, guarding in process only", "error", err.Error())
		return local, nil
	case !ok:
		local()
		return nil, busy
	}
	return func() {
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := unlock(relCtx); err != nil {
			log.Warn("publish lease release failed", "lease", name, "error", err.Error())
		}
		local()
	}, nil
}

func (c *Completion) fail(ctx context.Context, job *models.RenderJob, reason string, out *CompletionResult) (*CompletionResult, error) {
	u := failedAttempt(job, reason, c.cfg.MaxRetries, c.now(), models.NonTerminal...)
	ok, err := c.store.UpdateJob(ctx, job.ID, u)
	if err != nil {
		return nil, err
	}
	if !ok {
		out.Outcome = OutcomeDuplicate
		c.heal(ctx, job.BatchID)
		return out, nil
	}
	if *u.Status == models.JobFailed {
		out.Outcome = OutcomeFailed
	} else {
		out.Outcome = OutcomeRequeued
	}
	c.log.FromContext(ctx).Warn("render failed",
		"reason", reason, "retry_count", *u.RetryCount, "outcome", string(out.Outcome))

	if _, err := c.progress.Recompute(ctx, job.BatchID); err != nil {
		return nil, err
	}
	return out, nil
}

// heal recomputes a batch after a no-op so a recompute lost to an earlier
// crash is repaired by the redelivery.
func (c *Completion) heal(ctx context.Context, batchID string) {
	if _, err := c.progress.Recompute(ctx, batchID); err != nil {
		c.log.Warn("recompute after duplicate callback failed", "batch_id", batchID, "error", err.Error())
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
