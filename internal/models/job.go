package models

import "time"

// JobStatus is the lifecycle state of a RenderJob.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition may leave s.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobProcessing, JobCompleted, JobFailed:
		return true
	}
	return false
}

// CanTransition encodes the job state machine:
//
//	pending    -> processing            (claimed)
//	pending    -> pending | failed      (dispatch failure below / at the cap)
//	processing -> pending | failed      (submission or callback failure)
//	processing -> completed             (callback ok, artifact published)
//
// completed and failed never move. A callback that lands on a job the stale
// sweep already returned to pending may complete it directly.
func CanTransition(from, to JobStatus) bool {
	if from.Terminal() {
		return false
	}
	switch from {
	case JobPending:
		return to == JobProcessing || to == JobPending || to == JobFailed || to == JobCompleted
	case JobProcessing:
		return to == JobPending || to == JobFailed || to == JobCompleted
	}
	return false
}

// ArtifactRef locates a published render.
type ArtifactRef struct {
	ID   string `json:"id"`
	Link string `json:"link,omitempty"`
	Path string `json:"path"`
}

// ResultMetadata is what the render service reports about a finished render.
type ResultMetadata struct {
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	FileSizeBytes   int64   `json:"file_size_bytes,omitempty"`
	CostUnits       float64 `json:"cost_units,omitempty"`
}

// RenderJob is one recipient's render request inside a batch.
type RenderJob struct {
	ID                  string          `json:"id"`
	BatchID             string          `json:"batch_id"`
	RecipientID         string          `json:"recipient_id"`
	RecipientName       string          `json:"recipient_name"`
	PostIdentifier      string          `json:"post_identifier"`
	TemplateIdentifier  string          `json:"template_identifier"`
	Status              JobStatus       `json:"status"`
	ExternalRenderID    string          `json:"external_render_id,omitempty"`
	RetryCount          int             `json:"retry_count"`
	LastError           string          `json:"last_error,omitempty"`
	ProcessingStartedAt *time.Time      `json:"processing_started_at,omitempty"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
	Artifact            *ArtifactRef    `json:"artifact,omitempty"`
	Result              *ResultMetadata `json:"result,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

// JobUpdate is a partial update. Nil fields are left untouched. The update
// only applies while the job's status is one of ExpectStatus, which is how
// stores keep transitions monotonic under concurrent writers.
type JobUpdate struct {
	ExpectStatus []JobStatus

	Status              *JobStatus
	ExternalRenderID    *string
	ClearExternalID     bool
	RetryCount          *int
	LastError           *string
	ProcessingStartedAt *time.Time
	CompletedAt         *time.Time
	Artifact            *ArtifactRef
	Result              *ResultMetadata
}

// Empty reports whether the update would not change any column.
func (u JobUpdate) Empty() bool {
	return u.Status == nil && u.ExternalRenderID == nil && !u.ClearExternalID &&
		u.RetryCount == nil && u.LastError == nil && u.ProcessingStartedAt == nil &&
		u.CompletedAt == nil && u.Artifact == nil && u.Result == nil
}

// StatusPtr is a convenience for building JobUpdates.
func StatusPtr(s JobStatus) *JobStatus { return &s }

// StringPtr is a convenience for building JobUpdates.
func StringPtr(s string) *string { return &s }

// IntPtr is a convenience for building JobUpdates.
func IntPtr(i int) *int { return &i }

// TimePtr is a convenience for building JobUpdates.
func TimePtr(t time.Time) *time.Time { return &t }

// NonTerminal lists the statuses a job can still move out of.
var NonTerminal = []JobStatus{JobPending, JobProcessing}
