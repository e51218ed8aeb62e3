package repositories

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelcast/internal/models"
	apperrors "reelcast/internal/pkg/errors"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, "sqlite", filepath.Join(t.TempDir(), "reelcast.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedBatch(t *testing.T, s *SQLStore, id, post string, n int, at time.Time) []*models.RenderJob {
	t.Helper()
	batch := &models.RenderBatch{ID: id, PostIdentifier: post, TemplateIdentifier: "tpl-1", CreatedAt: at}
	jobs := make([]*models.RenderJob, n)
	for i := range jobs {
		jobs[i] = &models.RenderJob{
			ID:            fmt.Sprintf("%s-job-%d", id, i),
			RecipientID:   fmt.Sprintf("dealer-%d", i),
			RecipientName: fmt.Sprintf("Dealer %d", i),
		}
	}
	require.NoError(t, s.CreateBatch(context.Background(), batch, jobs))
	return jobs
}

func TestCreateBatchIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seedBatch(t, s, "b1", "7", 3, now)

	b, err := s.GetBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 3, b.TotalJobs)
	assert.Equal(t, 3, b.PendingJobs)
	assert.Equal(t, models.BatchQueued, b.Status)
	assert.Nil(t, b.CompletedAt)

	counts, err := s.CountJobs(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, models.JobCounts{Pending: 3}, counts)

	// A duplicate recipient aborts the whole batch.
	batch := &models.RenderBatch{ID: "b2", PostIdentifier: "8", TemplateIdentifier: "tpl-1", CreatedAt: now}
	err = s.CreateBatch(ctx, batch, []*models.RenderJob{
		{ID: "x1", RecipientID: "d1", RecipientName: "One"},
		{ID: "x2", RecipientID: "d1", RecipientName: "One again"},
	})
	require.Error(t, err)
	_, err = s.GetBatch(ctx, "b2")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestCreateBatchRejectsActivePost(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedBatch(t, s, "b1", "7", 1, time.Now())

	active, err := s.IsPostActive(ctx, "7")
	require.NoError(t, err)
	assert.True(t, active)

	batch := &models.RenderBatch{ID: "b2", PostIdentifier: "7", TemplateIdentifier: "tpl-1", CreatedAt: time.Now()}
	err = s.CreateBatch(ctx, batch, []*models.RenderJob{{ID: "j", RecipientID: "d", RecipientName: "D"}})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))

	posts, err := s.ActivePosts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, posts)
}

func TestCompletedPostCanRunAgain(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	jobs := seedBatch(t, s, "b1", "7", 1, time.Now())

	ok, err := s.UpdateJob(ctx, jobs[0].ID, models.JobUpdate{Status: models.StatusPtr(models.JobFailed)})
	require.NoError(t, err)
	require.True(t, ok)
	_, _, err = s.RecomputeBatch(ctx, "b1", time.Now())
	require.NoError(t, err)

	active, err := s.IsPostActive(ctx, "7")
	require.NoError(t, err)
	assert.False(t, active)

	seedBatch(t, s, "b2", "7", 1, time.Now())
}

func TestClaimPendingJobsOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	older := seedBatch(t, s, "b1", "1", 2, base)
	newer := seedBatch(t, s, "b2", "2", 2, base.Add(time.Minute))

	now := time.Now().UTC()
	claimed, err := s.ClaimPendingJobs(ctx, 3, now)
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	assert.Equal(t, older[0].ID, claimed[0].ID)
	assert.Equal(t, older[1].ID, claimed[1].ID)
	assert.Equal(t, newer[0].ID, claimed[2].ID)
	for _, j := range claimed {
		assert.Equal(t, models.JobProcessing, j.Status)
		require.NotNil(t, j.ProcessingStartedAt)
		assert.WithinDuration(t, now, *j.ProcessingStartedAt, time.Millisecond)
	}

	rest, err := s.ClaimPendingJobs(ctx, 10, now)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, newer[1].ID, rest[0].ID)

	none, err := s.ClaimPendingJobs(ctx, 10, now)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestConcurrentClaimsNeverOverlap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedBatch(t, s, "b1", "1", 20, time.Now())

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				jobs, err := s.ClaimPendingJobs(ctx, 3, time.Now())
				if !assert.NoError(t, err) || len(jobs) == 0 {
					return
				}
				mu.Lock()
				for _, j := range jobs {
					seen[j.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 20)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s claimed more than once", id)
	}
}

func TestUpdateJobGuard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	jobs := seedBatch(t, s, "b1", "1", 1, time.Now())
	id := jobs[0].ID

	ok, err := s.UpdateJob(ctx, id, models.JobUpdate{
		ExpectStatus: []models.JobStatus{models.JobProcessing},
		Status:       models.StatusPtr(models.JobCompleted),
	})
	require.NoError(t, err)
	assert.False(t, ok, "pending job must not match a processing guard")

	completedAt := time.Now().UTC()
	ok, err = s.UpdateJob(ctx, id, models.JobUpdate{
		Status:      models.StatusPtr(models.JobCompleted),
		CompletedAt: &completedAt,
		Artifact:    &models.ArtifactRef{ID: "file-1", Link: "https://x/1", Path: "Dealers/Dealer 0/Post 1_Dealer 0.mp4"},
		Result:      &models.ResultMetadata{DurationSeconds: 12.5, FileSizeBytes: 2048, CostUnits: 1},
	})
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.FindJobByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, got.Status)
	require.NotNil(t, got.Artifact)
	assert.Equal(t, "file-1", got.Artifact.ID)
	require.NotNil(t, got.Result)
	assert.Equal(t, int64(2048), got.Result.FileSizeBytes)
	require.NotNil(t, got.CompletedAt)

	// Terminal jobs never move again.
	ok, err = s.UpdateJob(ctx, id, models.JobUpdate{Status: models.StatusPtr(models.JobFailed)})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.UpdateJob(ctx, id, models.JobUpdate{})
	assert.True(t, apperrors.IsValidation(err))
}

func TestExternalIDLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	jobs := seedBatch(t, s, "b1", "1", 2, time.Now())

	ok, err := s.BackfillExternalID(ctx, jobs[0].ID, "ext-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.BackfillExternalID(ctx, jobs[0].ID, "ext-2")
	require.NoError(t, err)
	assert.False(t, ok, "an existing external id is never overwritten")

	got, err := s.FindJobByExternalID(ctx, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, jobs[0].ID, got.ID)

	_, err = s.BackfillExternalID(ctx, jobs[1].ID, "ext-1")
	assert.True(t, apperrors.IsConflict(err))

	ok, err = s.UpdateJob(ctx, jobs[0].ID, models.JobUpdate{ClearExternalID: true, RetryCount: models.IntPtr(1)})
	require.NoError(t, err)
	require.True(t, ok)
	_, err = s.FindJobByExternalID(ctx, "ext-1")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRecomputeBatchFinalizesOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	jobs := seedBatch(t, s, "b1", "1", 2, time.Now())

	claimed, err := s.ClaimPendingJobs(ctx, 1, time.Now())
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	b, finalized, err := s.RecomputeBatch(ctx, "b1", time.Now())
	require.NoError(t, err)
	assert.False(t, finalized)
	assert.Equal(t, models.BatchProcessing, b.Status)
	assert.Equal(t, 1, b.ProcessingJobs)
	assert.Equal(t, 1, b.PendingJobs)

	for i, st := range []models.JobStatus{models.JobCompleted, models.JobFailed} {
		ok, err := s.UpdateJob(ctx, jobs[i].ID, models.JobUpdate{Status: models.StatusPtr(st)})
		require.NoError(t, err)
		require.True(t, ok)
	}

	b, finalized, err = s.RecomputeBatch(ctx, "b1", time.Now())
	require.NoError(t, err)
	assert.True(t, finalized)
	assert.Equal(t, models.BatchCompleted, b.Status)
	assert.Equal(t, 1, b.CompletedJobs)
	assert.Equal(t, 1, b.FailedJobs)
	require.NotNil(t, b.CompletedAt)
	first := *b.CompletedAt

	b, finalized, err = s.RecomputeBatch(ctx, "b1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, finalized)
	assert.True(t, first.Equal(*b.CompletedAt), "completed_at is written once")

	_, _, err = s.RecomputeBatch(ctx, "missing", time.Now())
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRecentAndStaleJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedBatch(t, s, "b1", "1", 3, time.Now())

	past := time.Now().UTC().Add(-time.Hour)
	claimed, err := s.ClaimPendingJobs(ctx, 2, past)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	stale, err := s.StaleProcessingJobs(ctx, time.Now().Add(-30*time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, stale, 2)

	stale, err = s.StaleProcessingJobs(ctx, past.Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, stale)

	for _, j := range claimed {
		ok, err := s.UpdateJob(ctx, j.ID, models.JobUpdate{Status: models.StatusPtr(models.JobCompleted)})
		require.NoError(t, err)
		require.True(t, ok)
		time.Sleep(2 * time.Millisecond)
	}
	recent, err := s.RecentJobs(ctx, "b1", models.JobCompleted, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, claimed[1].ID, recent[0].ID)
}

func TestRecipientDirectory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertRecipients(ctx, []models.Recipient{
		{ID: "a", DisplayName: "Acme Pools", Phone: "555", LogoURL: "https://x/a.png"},
		{ID: "b", DisplayName: "Blue Water", Phone: "556", LogoURL: "https://x/b.png"},
		{ID: "c", DisplayName: "Coral", Phone: "557", LogoURL: "https://x/c.png", ProgramStatus: "LITE"},
	}))

	all, err := s.ListRecipients(ctx, models.RecipientFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)

	picked, err := s.ListRecipients(ctx, models.RecipientFilter{RecipientIDs: []string{"a", "b", "c"}, SkipIDs: []string{"a"}})
	require.NoError(t, err)
	require.Len(t, picked, 1)
	assert.Equal(t, "b", picked[0].ID)

	lite, err := s.ListRecipients(ctx, models.RecipientFilter{ProgramStatus: "LITE"})
	require.NoError(t, err)
	require.Len(t, lite, 1)

	r, err := s.GetRecipient(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "Coral", r.DisplayName)

	_, err = s.GetRecipient(ctx, "zzz")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestBuildJobUpdate(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	q, args, err := buildJobUpdate("j1", models.JobUpdate{
		ExpectStatus:    []models.JobStatus{models.JobProcessing},
		Status:          models.StatusPtr(models.JobPending),
		ClearExternalID: true,
		RetryCount:      models.IntPtr(2),
	}, now)
	require.NoError(t, err)
	assert.Equal(t,
		"UPDATE render_jobs SET status = $1, external_render_id = NULL, retry_count = $2, updated_at = $3 WHERE id = $4 AND status IN ($5)",
		q)
	assert.Equal(t, []any{"pending", 2, now, "j1", "processing"}, args)

	_, _, err = buildJobUpdate("j1", models.JobUpdate{
		ExternalRenderID: models.StringPtr("x"),
		ClearExternalID:  true,
	}, now)
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "SELECT ?1, ?2, ?1", rebind("SELECT $1, $2, $1"))
}
