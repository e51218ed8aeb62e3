package engine

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"reelcast/internal/adapters/storage/localfs"
	"reelcast/internal/config"
	"reelcast/internal/models"
	apperrors "reelcast/internal/pkg/errors"
	"reelcast/internal/pkg/logger"
	"reelcast/internal/ports"
	"reelcast/internal/repositories"
)

type fakeRender struct {
	mu        sync.Mutex
	submits   []ports.SubmitRenderInput
	downloads int
	seq       int
	// failSubmit makes every Submit fail with a retryable error.
	failSubmit bool
	statuses   map[string]ports.RenderStatus
	// onSubmit runs after each submission is recorded.
	onSubmit func()
}

func (f *fakeRender) Submit(ctx context.Context, in ports.SubmitRenderInput) (ports.SubmitRenderOutput, error) {
	f.mu.Lock()
	f.submits = append(f.submits, in)
	fail, hook := f.failSubmit, f.onSubmit
	f.seq++
	id := fmt.Sprintf("rnd-%d", f.seq)
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if fail {
		return ports.SubmitRenderOutput{}, apperrors.Unavailable("creatomate", fmt.Errorf("http 503"))
	}
	return ports.SubmitRenderOutput{ExternalID: id, Status: "planned"}, nil
}

func (f *fakeRender) Status(ctx context.Context, externalID string) (ports.RenderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[externalID]
	if !ok {
		return ports.RenderStatus{}, apperrors.Unavailable("creatomate", fmt.Errorf("unknown render %s", externalID))
	}
	return st, nil
}

func (f *fakeRender) Download(ctx context.Context, locator string) (io.ReadCloser, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	body := "video from " + locator
	return io.NopCloser(strings.NewReader(body)), int64(len(body)), nil
}

func (f *fakeRender) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

// countingStore is a real local artifact store that counts uploads and can
// be told to fail them.
type countingStore struct {
	*localfs.LocalFS
	mu      sync.Mutex
	puts    int
	failPut bool
	// onList runs before each listing.
	onList func(folder string)
}

func (c *countingStore) List(ctx context.Context, folder string) ([]ports.Artifact, error) {
	c.mu.Lock()
	hook := c.onList
	c.mu.Unlock()
	if hook != nil {
		hook(folder)
	}
	return c.LocalFS.List(ctx, folder)
}

func (c *countingStore) Put(ctx context.Context, in ports.PutArtifactInput) (ports.Artifact, error) {
	c.mu.Lock()
	fail := c.failPut
	c.puts++
	c.mu.Unlock()
	if fail {
		return ports.Artifact{}, fmt.Errorf("drive quota exceeded")
	}
	return c.LocalFS.Put(ctx, in)
}

func (c *countingStore) putCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.puts
}

type fakeKicker struct{ kicks []string }

func (k *fakeKicker) Kick(ctx context.Context, reason string) error {
	k.kicks = append(k.kicks, reason)
	return nil
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	cfg    *config.Config
	store  *repositories.SQLStore
	render *fakeRender
	files  *countingStore
	kicker *fakeKicker
	eng    *Engine
}

func newHarness(t *testing.T, mutate ...func(*config.Config)) *harness {
	t.Helper()
	ctx := context.Background()

	cfg := config.Default()
	cfg.Dispatch.Pacing = 0
	cfg.Storage.LocalRoot = t.TempDir()
	cfg.Render.WebhookSecret = "hook-secret"
	cfg.HTTP.PublicBaseURL = "https://reelcast.test"
	for _, m := range mutate {
		m(cfg)
	}

	store, err := repositories.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.UpsertRecipients(ctx, []models.Recipient{
		{ID: "d1", DisplayName: "Acme Pools", Phone: "555-0101", LogoURL: "https://logos.test/acme.png"},
		{ID: "d2", DisplayName: "Blue Water", Phone: "555-0102", LogoURL: "https://logos.test/blue.png"},
		{ID: "d3", DisplayName: "Coral Spas", Phone: "555-0103", LogoURL: "https://logos.test/coral.png"},
		{ID: "x1", DisplayName: "No Logo Inc", Phone: "555-0199", ProgramStatus: "DRAFT"},
	}))

	h := &harness{
		t:      t,
		ctx:    ctx,
		cfg:    cfg,
		store:  store,
		render: &fakeRender{statuses: map[string]ports.RenderStatus{}},
		files:  &countingStore{LocalFS: localfs.New(cfg.Storage.LocalRoot)},
		kicker: &fakeKicker{},
	}
	h.eng = New(Deps{
		Store:      store,
		Recipients: store,
		Render:     h.render,
		Artifacts:  h.files,
		Kicker:     h.kicker,
		Log:        logger.Discard(),
	}, cfg)
	return h
}

func (h *harness) createBatch(post string, filter models.RecipientFilter) *models.RenderBatch {
	h.t.Helper()
	batches, err := h.eng.Batches.Create(h.ctx, []BatchRequest{{
		PostIdentifier:     post,
		TemplateIdentifier: "tpl-holiday",
		RecipientFilter:    filter,
	}})
	require.NoError(h.t, err)
	require.Len(h.t, batches, 1)
	return batches[0]
}

func (h *harness) jobs(batchID string) map[string]*models.RenderJob {
	h.t.Helper()
	out := map[string]*models.RenderJob{}
	for _, st := range []models.JobStatus{models.JobPending, models.JobProcessing, models.JobCompleted, models.JobFailed} {
		jobs, err := h.store.RecentJobs(h.ctx, batchID, st, 1000)
		require.NoError(h.t, err)
		for i := range jobs {
			out[jobs[i].RecipientID] = &jobs[i]
		}
	}
	return out
}

func (h *harness) job(id string) *models.RenderJob {
	h.t.Helper()
	j, err := h.store.FindJobByID(h.ctx, id)
	require.NoError(h.t, err)
	return j
}

func (h *harness) succeeded(job *models.RenderJob) Callback {
	return Callback{
		ExternalID: job.ExternalRenderID,
		Status:     RenderSucceeded,
		ResultURL:  "https://cdn.test/" + job.ExternalRenderID + ".mp4",
		Result:     models.ResultMetadata{DurationSeconds: 15, FileSizeBytes: 4096, CostUnits: 1},
		Metadata:   ports.CorrelationMetadata{JobID: job.ID, RecipientID: job.RecipientID, PostIdentifier: job.PostIdentifier},
	}
}

func (h *harness) failed(job *models.RenderJob, msg string) Callback {
	return Callback{
		ExternalID:   job.ExternalRenderID,
		Status:       RenderFailed,
		ErrorMessage: msg,
		Metadata:     ports.CorrelationMetadata{JobID: job.ID, RecipientID: job.RecipientID, PostIdentifier: job.PostIdentifier},
	}
}

// requireConsistent checks the stored counters against a fresh count and
// that they add up to the batch size.
func (h *harness) requireConsistent(batchID string) *models.RenderBatch {
	h.t.Helper()
	b, err := h.store.GetBatch(h.ctx, batchID)
	require.NoError(h.t, err)
	counts, err := h.store.CountJobs(h.ctx, batchID)
	require.NoError(h.t, err)
	require.Equal(h.t, b.TotalJobs, counts.Total())
	require.Equal(h.t, b.TotalJobs, b.CompletedJobs+b.FailedJobs+b.PendingJobs+b.ProcessingJobs)
	require.Equal(h.t, counts, models.JobCounts{
		Pending: b.PendingJobs, Processing: b.ProcessingJobs, Completed: b.CompletedJobs, Failed: b.FailedJobs,
	})
	return b
}
