package engine

import (
	"context"
	"strings"
	"time"

	"reelcast/internal/models"
	apperrors "reelcast/internal/pkg/errors"
	"reelcast/internal/pkg/ids"
	"reelcast/internal/pkg/logger"
	"reelcast/internal/ports"
)

// BatchRequest asks for one post to be rendered for a set of recipients.
type BatchRequest struct {
	PostIdentifier     string                 `json:"post_identifier"`
	TemplateIdentifier string                 `json:"template_identifier"`
	RecipientFilter    models.RecipientFilter `json:"recipient_filter"`
	CreatedBy          string                 `json:"created_by,omitempty"`
}

func (r *BatchRequest) normalize() {
	r.PostIdentifier = strings.TrimSpace(r.PostIdentifier)
	r.TemplateIdentifier = strings.TrimSpace(r.TemplateIdentifier)
	r.CreatedBy = strings.TrimSpace(r.CreatedBy)
}

func (r BatchRequest) validate() error {
	if r.PostIdentifier == "" {
		return apperrors.ValidationField("post_identifier", "post_identifier is required")
	}
	if r.TemplateIdentifier == "" {
		return apperrors.ValidationField("template_identifier", "template_identifier is required")
	}
	return nil
}

// PreviewRecipient is one row of a dry run.
type PreviewRecipient struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Missing []string `json:"missing,omitempty"`
}

// BatchPreview shows what Create would do without writing anything.
type BatchPreview struct {
	PostIdentifier string             `json:"post_identifier"`
	PostActive     bool               `json:"post_active"`
	Ready          int                `json:"ready"`
	Invalid        int                `json:"invalid"`
	Recipients     []PreviewRecipient `json:"recipients"`
}

// BatchService turns batch requests into a batch of pending jobs.
type BatchService struct {
	store      ports.JobStore
	recipients ports.RecipientDirectory
	kicker     ports.DispatchKicker
	log        *logger.Logger
	now        func() time.Time
}

// NewBatchService accepts a nil kicker; new jobs then wait for the next
// scheduled dispatch.
func NewBatchService(store ports.JobStore, recipients ports.RecipientDirectory, kicker ports.DispatchKicker, log *logger.Logger) *BatchService {
	return &BatchService{store: store, recipients: recipients, kicker: kicker, log: log.WithComponent("batches"), now: time.Now}
}

// Create validates every request before creating any batch. A post with an
// active batch is a CONFLICT.
func (s *BatchService) Create(ctx context.Context, reqs []BatchRequest) ([]*models.RenderBatch, error) {
	if len(reqs) == 0 {
		return nil, apperrors.Validation("at least one batch is required")
	}
	seen := map[string]bool{}
	for i := range reqs {
		reqs[i].normalize()
		if err := reqs[i].validate(); err != nil {
			return nil, err
		}
		if seen[reqs[i].PostIdentifier] {
			return nil, apperrors.ValidationField("post_identifier", "post "+reqs[i].PostIdentifier+" appears twice in one request")
		}
		seen[reqs[i].PostIdentifier] = true

		active, err := s.store.IsPostActive(ctx, reqs[i].PostIdentifier)
		if err != nil {
			return nil, err
		}
		if active {
			return nil, apperrors.Conflict("post "+reqs[i].PostIdentifier+" already has an active batch").
				WithField("post_identifier", reqs[i].PostIdentifier)
		}
	}

	plans := make([][]models.Recipient, len(reqs))
	for i, req := range reqs {
		recipients, err := s.recipients.ListRecipients(ctx, req.RecipientFilter)
		if err != nil {
			return nil, err
		}
		if len(recipients) == 0 {
			return nil, apperrors.ValidationField("recipient_filter", "no recipients match the filter for post "+req.PostIdentifier)
		}
		plans[i] = recipients
	}

	created := make([]*models.RenderBatch, 0, len(reqs))
	for i, req := range reqs {
		batch := &models.RenderBatch{
			ID:                 ids.NewID("batch"),
			PostIdentifier:     req.PostIdentifier,
			TemplateIdentifier: req.TemplateIdentifier,
			CreatedBy:          req.CreatedBy,
			CreatedAt:          s.now().UTC(),
		}
		jobs := make([]*models.RenderJob, 0, len(plans[i]))
		for _, r := range plans[i] {
			jobs = append(jobs, &models.RenderJob{
				ID:            ids.NewID("job"),
				RecipientID:   r.ID,
				RecipientName: r.DisplayName,
			})
		}
		if err := s.store.CreateBatch(ctx, batch, jobs); err != nil {
			if apperrors.IsConflict(err) {
				// Another request took the post after the active check.
				s.log.Warn("batch insert conflicted", "post_identifier", req.PostIdentifier, "error", err.Error())
				err = apperrors.WrapWithCode(err, apperrors.CodeConflict, "batches.Create", "create batch for post "+req.PostIdentifier).
					WithField("post_identifier", req.PostIdentifier)
			}
			if len(created) > 0 {
				s.log.Warn("batch request partially applied", "created", len(created), "failed_post", req.PostIdentifier)
			}
			return created, err
		}
		s.log.Info("batch created",
			"batch_id", batch.ID,
			"post_identifier", batch.PostIdentifier,
			"template_identifier", batch.TemplateIdentifier,
			"jobs", len(jobs),
		)
		created = append(created, batch)
	}

	if s.kicker != nil {
		if err := s.kicker.Kick(ctx, "batch_created"); err != nil {
			s.log.Warn("dispatch kick failed; jobs wait for the next tick", "error", err.Error())
		}
	}
	return created, nil
}

// Preview resolves the recipients of req and reports which of them would
// fail validation.
func (s *BatchService) Preview(ctx context.Context, req BatchRequest) (*BatchPreview, error) {
	req.normalize()
	if req.PostIdentifier == "" {
		return nil, apperrors.ValidationField("post_identifier", "post_identifier is required")
	}
	active, err := s.store.IsPostActive(ctx, req.PostIdentifier)
	if err != nil {
		return nil, err
	}
	recipients, err := s.recipients.ListRecipients(ctx, req.RecipientFilter)
	if err != nil {
		return nil, err
	}
	p := &BatchPreview{PostIdentifier: req.PostIdentifier, PostActive: active, Recipients: make([]PreviewRecipient, 0, len(recipients))}
	for _, r := range recipients {
		missing := r.MissingFields()
		if len(missing) > 0 {
			p.Invalid++
		} else {
			p.Ready++
		}
		p.Recipients = append(p.Recipients, PreviewRecipient{ID: r.ID, Name: r.DisplayName, Missing: missing})
	}
	return p, nil
}
