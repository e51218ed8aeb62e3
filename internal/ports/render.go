package ports

import (
	"context"
	"io"

	"reelcast/internal/models"
)

// CorrelationMetadata rides along with a render and comes back on its callback.
type CorrelationMetadata struct {
	JobID          string `json:"jobId"`
	RecipientID    string `json:"recipientId"`
	PostIdentifier string `json:"postIdentifier"`
}

type SubmitRenderInput struct {
	TemplateID    string
	Modifications map[string]string
	Metadata      CorrelationMetadata
	WebhookURL    string
}

type SubmitRenderOutput struct {
	ExternalID string
	Status     string
}

// RenderStatus is the service's current view of one render.
type RenderStatus struct {
	ExternalID   string
	Status       string
	URL          string
	ErrorMessage string
	// Result is filled in once the render has succeeded.
	Result models.ResultMetadata
}

// RenderClient talks to the external rendering service.
type RenderClient interface {
	Submit(ctx context.Context, in SubmitRenderInput) (SubmitRenderOutput, error)
	// Status polls a render. The stale sweep uses it before giving up on a
	// callback that never arrived.
	Status(ctx context.Context, externalID string) (RenderStatus, error)
	// Download streams a finished render from its result locator.
	Download(ctx context.Context, locator string) (rc io.ReadCloser, size int64, err error)
}
