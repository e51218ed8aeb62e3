package engine

import (
	"context"
	"math"
	"time"

	"reelcast/internal/models"
	"reelcast/internal/pkg/logger"
	"reelcast/internal/ports"
)

// JobSummary is the slice of a job shown in status lists.
type JobSummary struct {
	JobID         string              `json:"job_id"`
	RecipientID   string              `json:"recipient_id"`
	RecipientName string              `json:"recipient_name"`
	Artifact      *models.ArtifactRef `json:"artifact,omitempty"`
	LastError     string              `json:"last_error,omitempty"`
	RetryCount    int                 `json:"retry_count"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
}

// BatchStatus is the answer to a batch status query.
type BatchStatus struct {
	Batch           *models.RenderBatch `json:"batch"`
	Counts          models.JobCounts    `json:"counts"`
	PercentComplete float64             `json:"percent_complete"`
	// ETASeconds assumes the configured dispatch throughput for every job
	// that is not yet terminal.
	ETASeconds      int          `json:"eta_seconds"`
	RecentCompleted []JobSummary `json:"recent_completed"`
	RecentFailed    []JobSummary `json:"recent_failed"`
}

type ProgressConfig struct {
	RecentLimit   int
	JobsPerMinute float64
}

// Progress recomputes batch counters from the job set and answers status
// queries. It never increments a counter.
type Progress struct {
	store ports.JobStore
	log   *logger.Logger
	cfg   ProgressConfig
	now   func() time.Time
}

func NewProgress(store ports.JobStore, log *logger.Logger, cfg ProgressConfig) *Progress {
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 10
	}
	if cfg.JobsPerMinute <= 0 {
		cfg.JobsPerMinute = 20
	}
	return &Progress{store: store, log: log.WithComponent("progress"), cfg: cfg, now: time.Now}
}

// Recompute refreshes the batch counters and finalizes the batch on its
// first transition to completed.
func (p *Progress) Recompute(ctx context.Context, batchID string) (*models.RenderBatch, error) {
	batch, finalized, err := p.store.RecomputeBatch(ctx, batchID, p.now())
	if err != nil {
		return nil, err
	}
	if finalized {
		p.log.Info("batch completed",
			"batch_id", batch.ID,
			"post_identifier", batch.PostIdentifier,
			"completed", batch.CompletedJobs,
			"failed", batch.FailedJobs,
			"total", batch.TotalJobs,
		)
	}
	return batch, nil
}

func (p *Progress) Status(ctx context.Context, batchID string) (*BatchStatus, error) {
	batch, err := p.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	counts, err := p.store.CountJobs(ctx, batchID)
	if err != nil {
		return nil, err
	}
	completed, err := p.store.RecentJobs(ctx, batchID, models.JobCompleted, p.cfg.RecentLimit)
	if err != nil {
		return nil, err
	}
	failed, err := p.store.RecentJobs(ctx, batchID, models.JobFailed, p.cfg.RecentLimit)
	if err != nil {
		return nil, err
	}

	// Counters on the batch row may lag a mutation in flight; the fresh
	// counts are what the caller sees.
	batch.CompletedJobs = counts.Completed
	batch.FailedJobs = counts.Failed
	batch.PendingJobs = counts.Pending
	batch.ProcessingJobs = counts.Processing

	return &BatchStatus{
		Batch:           batch,
		Counts:          counts,
		PercentComplete: PercentComplete(counts.Completed, batch.TotalJobs),
		ETASeconds:      ETASeconds(counts.Pending+counts.Processing, p.cfg.JobsPerMinute),
		RecentCompleted: summarize(completed),
		RecentFailed:    summarize(failed),
	}, nil
}

// PercentComplete is completed/total as a percentage rounded to one decimal.
func PercentComplete(completed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(completed)/float64(total)*1000) / 10
}

func ETASeconds(remaining int, jobsPerMinute float64) int {
	if remaining <= 0 || jobsPerMinute <= 0 {
		return 0
	}
	return int(math.Ceil(float64(remaining) / jobsPerMinute * 60))
}

func summarize(jobs []models.RenderJob) []JobSummary {
	out := make([]JobSummary, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, JobSummary{
			JobID:         j.ID,
			RecipientID:   j.RecipientID,
			RecipientName: j.RecipientName,
			Artifact:      j.Artifact,
			LastError:     j.LastError,
			RetryCount:    j.RetryCount,
			CompletedAt:   j.CompletedAt,
		})
	}
	return out
}
