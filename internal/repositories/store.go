// Package repositories persists batches, jobs and recipients in PostgreSQL
// or SQLite behind one SQL implementation.
package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"reelcast/internal/models"
	apperrors "reelcast/internal/pkg/errors"
	"reelcast/internal/ports"
)

// SQLStore implements ports.JobStore and ports.RecipientDirectory.
type SQLStore struct {
	db backend
}

var (
	_ ports.JobStore           = (*SQLStore)(nil)
	_ ports.RecipientDirectory = (*SQLStore)(nil)
)

// Open connects to driver ("postgres" or "sqlite") at dsn.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	switch driver {
	case "postgres", "pgx":
		b, err := newPGBackend(ctx, dsn)
		if err != nil {
			return nil, apperrors.Wrap(err, "repositories.Open", "connect postgres")
		}
		return &SQLStore{db: b}, nil
	case "sqlite", "sqlite3":
		b, err := newSQLiteBackend(dsn)
		if err != nil {
			return nil, apperrors.Wrap(err, "repositories.Open", "open sqlite")
		}
		return &SQLStore{db: b}, nil
	default:
		return nil, apperrors.Newf(apperrors.CodeValidation, "unknown store driver %q", driver)
	}
}

// Driver names the active backend.
func (s *SQLStore) Driver() string { return s.db.name() }

func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.ping(ctx); err != nil {
		return apperrors.Unavailable("store", err)
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.close() }

// Stats reports connection pool figures when the backend has a pool.
func (s *SQLStore) Stats() map[string]any {
	if pg, ok := s.db.(*pgBackend); ok {
		return pg.stat()
	}
	return map[string]any{"driver": s.db.name()}
}

const jobColumns = `id, batch_id, recipient_id, recipient_name, post_identifier, template_identifier,
	status, COALESCE(external_render_id, ''), retry_count, COALESCE(last_error, ''),
	processing_started_at, completed_at,
	COALESCE(artifact_id, ''), COALESCE(artifact_link, ''), COALESCE(artifact_path, ''),
	COALESCE(duration_seconds, 0), COALESCE(file_size_bytes, 0), COALESCE(cost_units, 0),
	created_at`

func scanJob(row rowScanner) (*models.RenderJob, error) {
	var (
		j                       models.RenderJob
		status                  string
		artID, artLink, artPath string
		res                     models.ResultMetadata
	)
	err := row.Scan(
		&j.ID, &j.BatchID, &j.RecipientID, &j.RecipientName, &j.PostIdentifier, &j.TemplateIdentifier,
		&status, &j.ExternalRenderID, &j.RetryCount, &j.LastError,
		&j.ProcessingStartedAt, &j.CompletedAt,
		&artID, &artLink, &artPath,
		&res.DurationSeconds, &res.FileSizeBytes, &res.CostUnits,
		&j.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Status = models.JobStatus(status)
	if artID != "" {
		j.Artifact = &models.ArtifactRef{ID: artID, Link: artLink, Path: artPath}
	}
	if res != (models.ResultMetadata{}) {
		j.Result = &res
	}
	return &j, nil
}

func collectJobs(rows rowsIter) ([]models.RenderJob, error) {
	defer rows.Close()
	var out []models.RenderJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// placeholders renders $from..$from+n-1 as a comma separated list.
func placeholders(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(parts, ", ")
}

func (s *SQLStore) CreateBatch(ctx context.Context, batch *models.RenderBatch, jobs []*models.RenderJob) error {
	const op = "repositories.CreateBatch"
	if len(jobs) == 0 {
		return apperrors.Validation("a batch needs at least one job")
	}

	tx, err := s.db.begin(ctx)
	if err != nil {
		return apperrors.Unavailable("store", err)
	}
	defer func() { _ = tx.rollback(ctx) }()

	now := batch.CreatedAt.UTC()
	_, err = tx.exec(ctx, `
		INSERT INTO render_batches (id, post_identifier, template_identifier, total_jobs,
			completed_jobs, failed_jobs, pending_jobs, processing_jobs, status, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, 0, $4, 0, $5, $6, $7, $7)
	`, batch.ID, batch.PostIdentifier, batch.TemplateIdentifier, len(jobs),
		string(models.BatchQueued), nullable(batch.CreatedBy), now)
	if err != nil {
		if s.db.isUniqueViolation(err) {
			return apperrors.Conflict("post already has an active batch").
				WithField("post_identifier", batch.PostIdentifier)
		}
		return apperrors.Wrap(err, op, "insert batch")
	}

	for i, j := range jobs {
		_, err := tx.exec(ctx, `
			INSERT INTO render_jobs (id, batch_id, recipient_id, recipient_name, post_identifier,
				template_identifier, status, retry_count, position, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $9)
		`, j.ID, batch.ID, j.RecipientID, j.RecipientName, batch.PostIdentifier,
			batch.TemplateIdentifier, string(models.JobPending), i, now)
		if err != nil {
			if s.db.isUniqueViolation(err) {
				return apperrors.Conflict("duplicate recipient in batch").WithField("recipient_id", j.RecipientID)
			}
			return apperrors.Wrap(err, op, "insert job")
		}
	}

	if err := tx.commit(ctx); err != nil {
		return apperrors.Wrap(err, op, "commit")
	}

	batch.TotalJobs = len(jobs)
	batch.PendingJobs = len(jobs)
	batch.Status = models.BatchQueued
	for _, j := range jobs {
		j.BatchID = batch.ID
		j.PostIdentifier = batch.PostIdentifier
		j.TemplateIdentifier = batch.TemplateIdentifier
		j.Status = models.JobPending
		j.CreatedAt = now
	}
	return nil
}

func (s *SQLStore) ClaimPendingJobs(ctx context.Context, limit int, now time.Time) ([]models.RenderJob, error) {
	const op = "repositories.ClaimPendingJobs"
	if limit <= 0 {
		return nil, nil
	}

	// The outer status guard keeps a row that another claimer flipped between
	// the sub-select and the update from being returned twice.
	rows, err := s.db.query(ctx, `
		UPDATE render_jobs
		SET status = 'processing', processing_started_at = $1, updated_at = $1
		WHERE status = 'pending' AND id IN (
			SELECT id FROM render_jobs
			WHERE status = 'pending'
			ORDER BY created_at, position
			LIMIT $2`+s.db.skipLockedSuffix()+`
		)
		RETURNING id
	`, now.UTC(), limit)
	if err != nil {
		return nil, apperrors.Wrap(err, op, "claim")
	}
	var ids []any
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, apperrors.Wrap(err, op, "scan claimed id")
		}
		ids = append(ids, id)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, apperrors.Wrap(err, op, "claim")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err = s.db.query(ctx, `SELECT `+jobColumns+` FROM render_jobs
		WHERE id IN (`+placeholders(1, len(ids))+`)
		ORDER BY created_at, position`, ids...)
	if err != nil {
		return nil, apperrors.Wrap(err, op, "load claimed")
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, apperrors.Wrap(err, op, "load claimed")
	}
	return jobs, nil
}

func (s *SQLStore) FindJobByID(ctx context.Context, id string) (*models.RenderJob, error) {
	j, err := scanJob(s.db.queryRow(ctx, `SELECT `+jobColumns+` FROM render_jobs WHERE id = $1`, id))
	if err != nil {
		if s.db.isNoRows(err) {
			return nil, apperrors.NotFound("render job", id)
		}
		return nil, apperrors.Wrap(err, "repositories.FindJobByID", "select job")
	}
	return j, nil
}

func (s *SQLStore) FindJobByExternalID(ctx context.Context, externalID string) (*models.RenderJob, error) {
	j, err := scanJob(s.db.queryRow(ctx, `SELECT `+jobColumns+` FROM render_jobs WHERE external_render_id = $1`, externalID))
	if err != nil {
		if s.db.isNoRows(err) {
			return nil, apperrors.NotFound("render job", externalID).WithField("external_render_id", externalID)
		}
		return nil, apperrors.Wrap(err, "repositories.FindJobByExternalID", "select job")
	}
	return j, nil
}

func (s *SQLStore) UpdateJob(ctx context.Context, id string, u models.JobUpdate) (bool, error) {
	const op = "repositories.UpdateJob"
	q, args, err := buildJobUpdate(id, u, time.Now().UTC())
	if err != nil {
		return false, err
	}
	n, err := s.db.exec(ctx, q, args...)
	if err != nil {
		if s.db.isUniqueViolation(err) {
			return false, apperrors.Conflict("external render id already assigned").WithField("job_id", id)
		}
		return false, apperrors.Wrap(err, op, "update job")
	}
	return n == 1, nil
}

func (s *SQLStore) BackfillExternalID(ctx context.Context, id, externalID string) (bool, error) {
	n, err := s.db.exec(ctx, `
		UPDATE render_jobs SET external_render_id = $1, updated_at = $2
		WHERE id = $3 AND external_render_id IS NULL
	`, externalID, time.Now().UTC(), id)
	if err != nil {
		if s.db.isUniqueViolation(err) {
			return false, apperrors.Conflict("external render id already assigned").WithField("job_id", id)
		}
		return false, apperrors.Wrap(err, "repositories.BackfillExternalID", "update job")
	}
	return n == 1, nil
}

func (s *SQLStore) IsPostActive(ctx context.Context, post string) (bool, error) {
	var active bool
	err := s.db.queryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM render_batches WHERE post_identifier = $1 AND status <> 'completed')
	`, post).Scan(&active)
	if err != nil {
		return false, apperrors.Wrap(err, "repositories.IsPostActive", "select batch")
	}
	return active, nil
}

func (s *SQLStore) ActivePosts(ctx context.Context) ([]string, error) {
	rows, err := s.db.query(ctx, `
		SELECT DISTINCT post_identifier FROM render_batches
		WHERE status <> 'completed'
		ORDER BY post_identifier
	`)
	if err != nil {
		return nil, apperrors.Wrap(err, "repositories.ActivePosts", "select posts")
	}
	defer rows.Close()
	var posts []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, apperrors.Wrap(err, "repositories.ActivePosts", "scan post")
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

const batchColumns = `id, post_identifier, template_identifier, total_jobs, completed_jobs, failed_jobs,
	pending_jobs, processing_jobs, status, COALESCE(created_by, ''), created_at, completed_at`

func scanBatch(row rowScanner) (*models.RenderBatch, error) {
	var (
		b      models.RenderBatch
		status string
	)
	err := row.Scan(&b.ID, &b.PostIdentifier, &b.TemplateIdentifier, &b.TotalJobs, &b.CompletedJobs,
		&b.FailedJobs, &b.PendingJobs, &b.ProcessingJobs, &status, &b.CreatedBy, &b.CreatedAt, &b.CompletedAt)
	if err != nil {
		return nil, err
	}
	b.Status = models.BatchStatus(status)
	return &b, nil
}

func (s *SQLStore) GetBatch(ctx context.Context, id string) (*models.RenderBatch, error) {
	return s.getBatch(ctx, s.db, id, "")
}

func (s *SQLStore) getBatch(ctx context.Context, q querier, id, suffix string) (*models.RenderBatch, error) {
	b, err := scanBatch(q.queryRow(ctx, `SELECT `+batchColumns+` FROM render_batches WHERE id = $1`+suffix, id))
	if err != nil {
		if s.db.isNoRows(err) {
			return nil, apperrors.NotFound("render batch", id)
		}
		return nil, apperrors.Wrap(err, "repositories.GetBatch", "select batch")
	}
	return b, nil
}

func (s *SQLStore) CountJobs(ctx context.Context, batchID string) (models.JobCounts, error) {
	return countJobs(ctx, s.db, batchID)
}

func countJobs(ctx context.Context, q querier, batchID string) (models.JobCounts, error) {
	var counts models.JobCounts
	rows, err := q.query(ctx, `
		SELECT status, COUNT(*) FROM render_jobs WHERE batch_id = $1 GROUP BY status
	`, batchID)
	if err != nil {
		return counts, apperrors.Wrap(err, "repositories.CountJobs", "count jobs")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return counts, apperrors.Wrap(err, "repositories.CountJobs", "scan count")
		}
		counts.Add(models.JobStatus(status), n)
	}
	return counts, rows.Err()
}

func (s *SQLStore) RecomputeBatch(ctx context.Context, batchID string, now time.Time) (*models.RenderBatch, bool, error) {
	const op = "repositories.RecomputeBatch"
	now = now.UTC()

	tx, err := s.db.begin(ctx)
	if err != nil {
		return nil, false, apperrors.Unavailable("store", err)
	}
	defer func() { _ = tx.rollback(ctx) }()

	current, err := s.getBatch(ctx, tx, batchID, s.db.lockRowSuffix())
	if err != nil {
		return nil, false, err
	}
	counts, err := countJobs(ctx, tx, batchID)
	if err != nil {
		return nil, false, err
	}
	status := counts.DeriveStatus(current.TotalJobs)

	if _, err := tx.exec(ctx, `
		UPDATE render_batches
		SET completed_jobs = $1, failed_jobs = $2, pending_jobs = $3, processing_jobs = $4,
			status = $5, updated_at = $6
		WHERE id = $7
	`, counts.Completed, counts.Failed, counts.Pending, counts.Processing, string(status), now, batchID); err != nil {
		if s.db.isUniqueViolation(err) {
			return nil, false, apperrors.Conflict("post already has an active batch").WithField("batch_id", batchID)
		}
		return nil, false, apperrors.Wrap(err, op, "update counts")
	}

	finalized := false
	if status == models.BatchCompleted {
		n, err := tx.exec(ctx, `
			UPDATE render_batches SET completed_at = $1
			WHERE id = $2 AND completed_at IS NULL AND status = 'completed'
		`, now, batchID)
		if err != nil {
			return nil, false, apperrors.Wrap(err, op, "finalize")
		}
		finalized = n == 1
	}

	batch, err := s.getBatch(ctx, tx, batchID, "")
	if err != nil {
		return nil, false, err
	}
	if err := tx.commit(ctx); err != nil {
		return nil, false, apperrors.Wrap(err, op, "commit")
	}
	return batch, finalized, nil
}

func (s *SQLStore) RecentJobs(ctx context.Context, batchID string, status models.JobStatus, limit int) ([]models.RenderJob, error) {
	rows, err := s.db.query(ctx, `SELECT `+jobColumns+` FROM render_jobs
		WHERE batch_id = $1 AND status = $2
		ORDER BY updated_at DESC, position
		LIMIT $3`, batchID, string(status), limit)
	if err != nil {
		return nil, apperrors.Wrap(err, "repositories.RecentJobs", "select jobs")
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, apperrors.Wrap(err, "repositories.RecentJobs", "scan jobs")
	}
	return jobs, nil
}

func (s *SQLStore) StaleProcessingJobs(ctx context.Context, cutoff time.Time, limit int) ([]models.RenderJob, error) {
	rows, err := s.db.query(ctx, `SELECT `+jobColumns+` FROM render_jobs
		WHERE status = 'processing' AND processing_started_at < $1
		ORDER BY processing_started_at
		LIMIT $2`, cutoff.UTC(), limit)
	if err != nil {
		return nil, apperrors.Wrap(err, "repositories.StaleProcessingJobs", "select jobs")
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, apperrors.Wrap(err, "repositories.StaleProcessingJobs", "scan jobs")
	}
	return jobs, nil
}

// nullable stores "" as NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
