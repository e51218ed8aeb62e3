package engine

import (
	"context"
	"fmt"
	"path"
	"strings"

	"reelcast/internal/models"
	apperrors "reelcast/internal/pkg/errors"
	"reelcast/internal/pkg/logger"
	"reelcast/internal/ports"
)

const videoContentType = "video/mp4"

type PublisherConfig struct {
	// RecipientRoot holds one folder per recipient, named after it.
	RecipientRoot string
	// ArchiveFolder is created inside each recipient folder.
	ArchiveFolder string
}

// Publisher moves a finished render into the recipient's folder. Running it
// twice for the same job stores one file.
type Publisher struct {
	store     ports.JobStore
	artifacts ports.ArtifactStore
	render    ports.RenderClient
	log       *logger.Logger
	cfg       PublisherConfig
}

func NewPublisher(store ports.JobStore, artifacts ports.ArtifactStore, render ports.RenderClient, log *logger.Logger, cfg PublisherConfig) *Publisher {
	if cfg.RecipientRoot == "" {
		cfg.RecipientRoot = "Dealers"
	}
	if cfg.ArchiveFolder == "" {
		cfg.ArchiveFolder = "Archive"
	}
	return &Publisher{store: store, artifacts: artifacts, render: render, log: log.WithComponent("publisher"), cfg: cfg}
}

// Destination returns the folder and file name for a job's video. The folder
// follows the display name; the file name carries the recipient id so two
// recipients sharing a name never share a video.
func (p *Publisher) Destination(job *models.RenderJob) (folder, name string) {
	recipient := safeName(job.RecipientName)
	return path.Join(p.cfg.RecipientRoot, recipient),
		fmt.Sprintf("%s%s_%s.mp4", postPrefix(job.PostIdentifier), recipient, safeName(job.RecipientID))
}

// postPrefix is the leading part every video name for post shares.
func postPrefix(post string) string {
	return "Post " + safeName(post) + "_"
}

// Publish stores the render at locator for job and returns its reference.
func (p *Publisher) Publish(ctx context.Context, job *models.RenderJob, locator string) (*models.ArtifactRef, error) {
	const op = "publisher.Publish"
	log := p.log.WithJobID(job.ID).WithBatchID(job.BatchID)
	folder, name := p.Destination(job)

	existing, err := p.artifacts.List(ctx, folder)
	if err != nil {
		return nil, retryable(err, op, "list destination")
	}
	for _, a := range existing {
		if a.Name == name {
			log.Info("artifact already stored", "path", a.Path, "artifact_id", a.ID)
			p.archive(ctx, job, existing)
			return &models.ArtifactRef{ID: a.ID, Link: a.Link, Path: a.Path}, nil
		}
	}

	if strings.TrimSpace(locator) == "" {
		return nil, apperrors.ValidationField("url", "succeeded callback carries no result url")
	}
	body, size, err := p.render.Download(ctx, locator)
	if err != nil {
		return nil, retryable(err, op, "download render")
	}
	defer body.Close()

	stored, err := p.artifacts.Put(ctx, ports.PutArtifactInput{
		Folder:      folder,
		Name:        name,
		ContentType: videoContentType,
		Reader:      body,
		Size:        size,
	})
	if err != nil {
		return nil, retryable(err, op, "upload artifact")
	}
	log.Info("artifact stored", "path", stored.Path, "artifact_id", stored.ID, "bytes", size)

	p.archive(ctx, job, existing)
	return &models.ArtifactRef{ID: stored.ID, Link: stored.Link, Path: stored.Path}, nil
}

// archive moves the recipient's videos for posts that are no longer running
// into the archive sub-folder. It never fails the publication.
func (p *Publisher) archive(ctx context.Context, job *models.RenderJob, files []ports.Artifact) {
	log := p.log.WithJobID(job.ID)
	active, err := p.store.ActivePosts(ctx)
	if err != nil {
		log.Warn("archive skipped: active posts unavailable", "error", err.Error())
		return
	}
	keep := []string{postPrefix(job.PostIdentifier)}
	for _, post := range active {
		keep = append(keep, postPrefix(post))
	}

	folder, current := p.Destination(job)
	archiveTo := path.Join(folder, p.cfg.ArchiveFolder)
	for _, f := range files {
		if f.Name == current || !strings.HasPrefix(f.Name, "Post ") || keptPost(f.Name, keep) {
			continue
		}
		if err := p.artifacts.Move(ctx, f, archiveTo); err != nil {
			log.Warn("archive move failed", "file", f.Name, "error", err.Error())
			continue
		}
		log.Info("archived stale post video", "file", f.Name)
	}
}

// keptPost reports whether name belongs to one of the kept post prefixes.
// Matching by prefix keeps post ids containing underscores intact.
func keptPost(name string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// safeName keeps a name usable as a single path segment.
func safeName(s string) string {
	s = strings.TrimSpace(s)
	return strings.NewReplacer("/", "-", `\`, "-").Replace(s)
}

// retryable keeps downstream retryable codes and turns everything else into
// UNAVAILABLE so the callback sender re-delivers.
func retryable(err error, op, msg string) error {
	if apperrors.IsRetryable(err) {
		return apperrors.Wrap(err, op, msg)
	}
	return apperrors.WrapWithCode(err, apperrors.CodeUnavailable, op, msg)
}
