package engine

import (
	"time"

	"reelcast/internal/models"
)

// DefaultMaxRetries caps failed attempts per job.
const DefaultMaxRetries = 3

// failedAttempt builds the update for one failed attempt on job: back to
// pending with the retry counter bumped, or failed once the counter reaches
// maxRetries. The external id is cleared so a late callback for the
// abandoned render cannot be mistaken for the next attempt.
func failedAttempt(job *models.RenderJob, reason string, maxRetries int, now time.Time, expect ...models.JobStatus) models.JobUpdate {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	retries := job.RetryCount + 1
	u := models.JobUpdate{
		ExpectStatus:    expect,
		RetryCount:      models.IntPtr(retries),
		LastError:       models.StringPtr(reason),
		ClearExternalID: true,
	}
	if retries >= maxRetries {
		u.Status = models.StatusPtr(models.JobFailed)
		u.CompletedAt = models.TimePtr(now)
	} else {
		u.Status = models.StatusPtr(models.JobPending)
	}
	return u
}

// permanentFailure fails job without touching the retry counter.
func permanentFailure(reason string, now time.Time, expect ...models.JobStatus) models.JobUpdate {
	return models.JobUpdate{
		ExpectStatus: expect,
		Status:       models.StatusPtr(models.JobFailed),
		LastError:    models.StringPtr(reason),
		CompletedAt:  models.TimePtr(now),
	}
}
