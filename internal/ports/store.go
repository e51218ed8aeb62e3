package ports

import (
	"context"
	"time"

	"reelcast/internal/models"
)

// JobStore is the durable ledger of batches and jobs and the only place
// engine state lives between invocations. Implementations must be safe for
// concurrent use by independent processes.
type JobStore interface {
	// CreateBatch inserts the batch and all of its jobs in one transaction.
	// A post that already has a non-completed batch yields a CONFLICT error.
	CreateBatch(ctx context.Context, batch *models.RenderBatch, jobs []*models.RenderJob) error

	// ClaimPendingJobs moves up to limit pending jobs, oldest first, to
	// processing. Each row is flipped by its own "WHERE status = 'pending'"
	// update, so a job is returned to at most one caller.
	ClaimPendingJobs(ctx context.Context, limit int, now time.Time) ([]models.RenderJob, error)

	FindJobByID(ctx context.Context, id string) (*models.RenderJob, error)
	FindJobByExternalID(ctx context.Context, externalID string) (*models.RenderJob, error)

	// UpdateJob applies u if the job is still in one of u.ExpectStatus.
	// It reports false when the guard did not match.
	UpdateJob(ctx context.Context, id string, u models.JobUpdate) (bool, error)

	// BackfillExternalID sets the external id only if none is recorded yet.
	BackfillExternalID(ctx context.Context, id, externalID string) (bool, error)

	// IsPostActive reports whether a non-completed batch exists for post.
	IsPostActive(ctx context.Context, post string) (bool, error)
	// ActivePosts lists the posts of every non-completed batch.
	ActivePosts(ctx context.Context) ([]string, error)

	GetBatch(ctx context.Context, id string) (*models.RenderBatch, error)
	CountJobs(ctx context.Context, batchID string) (models.JobCounts, error)

	// RecomputeBatch locks the batch row, counts its jobs by status and
	// writes the counts and derived status. completedAt is written only on the
	// first transition to completed; finalized reports whether this call made
	// that transition.
	RecomputeBatch(ctx context.Context, batchID string, now time.Time) (batch *models.RenderBatch, finalized bool, err error)

	// RecentJobs returns up to limit jobs in status, most recent first.
	RecentJobs(ctx context.Context, batchID string, status models.JobStatus, limit int) ([]models.RenderJob, error)

	// StaleProcessingJobs lists processing jobs claimed before cutoff.
	StaleProcessingJobs(ctx context.Context, cutoff time.Time, limit int) ([]models.RenderJob, error)

	Ping(ctx context.Context) error
	Close() error
}

// RecipientDirectory reads dealer records owned by another system.
type RecipientDirectory interface {
	GetRecipient(ctx context.Context, id string) (*models.Recipient, error)
	ListRecipients(ctx context.Context, f models.RecipientFilter) ([]models.Recipient, error)
}
