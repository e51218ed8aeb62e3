package models

import "time"

// BatchStatus is derived from the batch's jobs; it is never set directly.
type BatchStatus string

const (
	BatchQueued     BatchStatus = "queued"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
)

// RenderBatch groups the jobs created together for one post and template.
type RenderBatch struct {
	ID                 string      `json:"id"`
	PostIdentifier     string      `json:"post_identifier"`
	TemplateIdentifier string      `json:"template_identifier"`
	TotalJobs          int         `json:"total_jobs"`
	CompletedJobs      int         `json:"completed_jobs"`
	FailedJobs         int         `json:"failed_jobs"`
	PendingJobs        int         `json:"pending_jobs"`
	ProcessingJobs     int         `json:"processing_jobs"`
	Status             BatchStatus `json:"status"`
	CreatedAt          time.Time   `json:"created_at"`
	CompletedAt        *time.Time  `json:"completed_at,omitempty"`
	CreatedBy          string      `json:"created_by,omitempty"`
}

// JobCounts is a snapshot of a batch's jobs grouped by status.
type JobCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Total is the sum over every status.
func (c JobCounts) Total() int {
	return c.Pending + c.Processing + c.Completed + c.Failed
}

// Add increments the bucket for status by n.
func (c *JobCounts) Add(status JobStatus, n int) {
	switch status {
	case JobPending:
		c.Pending += n
	case JobProcessing:
		c.Processing += n
	case JobCompleted:
		c.Completed += n
	case JobFailed:
		c.Failed += n
	}
}

// Done reports whether every job of a batch of size total is terminal.
func (c JobCounts) Done(total int) bool {
	return total > 0 && c.Completed+c.Failed == total
}

// DeriveStatus computes the batch status for a snapshot.
func (c JobCounts) DeriveStatus(total int) BatchStatus {
	switch {
	case c.Done(total):
		return BatchCompleted
	case c.Processing == 0 && c.Completed == 0 && c.Failed == 0:
		return BatchQueued
	default:
		return BatchProcessing
	}
}
