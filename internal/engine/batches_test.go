package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelcast/internal/models"
	apperrors "reelcast/internal/pkg/errors"
	"reelcast/internal/pkg/logger"
	"reelcast/internal/ports"
)

func TestCreateBatch(t *testing.T) {
	h := newHarness(t)
	batches, err := h.eng.Batches.Create(h.ctx, []BatchRequest{{
		PostIdentifier:     " 700 ",
		TemplateIdentifier: "tpl-holiday",
		CreatedBy:          "ops@reelcast.test",
	}})
	require.NoError(t, err)
	require.Len(t, batches, 1)

	b := batches[0]
	assert.Contains(t, b.ID, "batch_")
	assert.Equal(t, "700", b.PostIdentifier)
	assert.Equal(t, 3, b.TotalJobs)
	assert.Equal(t, []string{"batch_created"}, h.kicker.kicks)

	stored := h.requireConsistent(b.ID)
	assert.Equal(t, models.BatchQueued, stored.Status)
	assert.Equal(t, 3, stored.PendingJobs)
	assert.Equal(t, "ops@reelcast.test", stored.CreatedBy)

	jobs := h.jobs(b.ID)
	require.Len(t, jobs, 3)
	for _, id := range []string{"d1", "d2", "d3"} {
		j := jobs[id]
		require.NotNil(t, j, id)
		assert.Equal(t, models.JobPending, j.Status)
		assert.Equal(t, "tpl-holiday", j.TemplateIdentifier)
		assert.Equal(t, 0, j.RetryCount)
		assert.Empty(t, j.ExternalRenderID)
	}
}

func TestCreateBatchFilters(t *testing.T) {
	h := newHarness(t)
	b := h.createBatch("700", models.RecipientFilter{SkipIDs: []string{"d2"}})
	jobs := h.jobs(b.ID)
	assert.Len(t, jobs, 2)
	assert.NotContains(t, jobs, "d2")

	b = h.createBatch("701", models.RecipientFilter{RecipientIDs: []string{"d2", "d3"}, SkipIDs: []string{"d3"}})
	jobs = h.jobs(b.ID)
	assert.Len(t, jobs, 1)
	assert.Contains(t, jobs, "d2")
}

func TestCreateBatchRejectsActivePost(t *testing.T) {
	h := newHarness(t)
	h.createBatch("700", models.RecipientFilter{})

	_, err := h.eng.Batches.Create(h.ctx, []BatchRequest{{PostIdentifier: "700", TemplateIdentifier: "tpl-other"}})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
	assert.Equal(t, 409, apperrors.GetHTTPStatus(err))
}

// staleActiveCheck answers the active-post check as if another request had
// not yet committed its batch.
type staleActiveCheck struct{ ports.JobStore }

func (staleActiveCheck) IsPostActive(context.Context, string) (bool, error) { return false, nil }

func TestCreateBatchLosingTheRaceIsConflict(t *testing.T) {
	h := newHarness(t)
	h.createBatch("700", models.RecipientFilter{RecipientIDs: []string{"d1"}})

	svc := NewBatchService(staleActiveCheck{h.store}, h.store, nil, logger.Discard())
	_, err := svc.Create(h.ctx, []BatchRequest{{PostIdentifier: "700", TemplateIdentifier: "tpl-other"}})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
	assert.Equal(t, 409, apperrors.GetHTTPStatus(err))
	assert.Equal(t, "700", apperrors.GetFields(err)["post_identifier"])
	assert.Contains(t, err.Error(), "batches.Create")

	active, err := h.store.ActivePosts(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"700"}, active)
}

func TestCreateBatchValidation(t *testing.T) {
	h := newHarness(t)
	cases := []struct {
		name string
		reqs []BatchRequest
	}{
		{"empty request", nil},
		{"missing post", []BatchRequest{{TemplateIdentifier: "tpl"}}},
		{"missing template", []BatchRequest{{PostIdentifier: "700"}}},
		{"post twice", []BatchRequest{
			{PostIdentifier: "700", TemplateIdentifier: "tpl"},
			{PostIdentifier: "700", TemplateIdentifier: "tpl"},
		}},
		{"no recipients", []BatchRequest{{
			PostIdentifier:     "700",
			TemplateIdentifier: "tpl",
			RecipientFilter:    models.RecipientFilter{RecipientIDs: []string{"nobody"}},
		}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.eng.Batches.Create(h.ctx, tc.reqs)
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err), err.Error())
		})
	}

	active, err := h.store.ActivePosts(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, active, "a rejected request creates nothing")
	assert.Empty(t, h.kicker.kicks)
}

func TestCreateBatchChecksEveryRequestFirst(t *testing.T) {
	h := newHarness(t)
	h.createBatch("701", models.RecipientFilter{})

	_, err := h.eng.Batches.Create(h.ctx, []BatchRequest{
		{PostIdentifier: "700", TemplateIdentifier: "tpl"},
		{PostIdentifier: "701", TemplateIdentifier: "tpl"},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))

	active, err := h.store.IsPostActive(h.ctx, "700")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestCreateSeveralBatches(t *testing.T) {
	h := newHarness(t)
	batches, err := h.eng.Batches.Create(h.ctx, []BatchRequest{
		{PostIdentifier: "700", TemplateIdentifier: "tpl"},
		{PostIdentifier: "701", TemplateIdentifier: "tpl", RecipientFilter: models.RecipientFilter{RecipientIDs: []string{"d1"}}},
	})
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, 3, batches[0].TotalJobs)
	assert.Equal(t, 1, batches[1].TotalJobs)
	assert.Len(t, h.kicker.kicks, 1)
}

func TestPreviewBatch(t *testing.T) {
	h := newHarness(t)
	h.createBatch("700", models.RecipientFilter{RecipientIDs: []string{"d1"}})

	p, err := h.eng.Batches.Preview(h.ctx, BatchRequest{PostIdentifier: "700", RecipientFilter: models.RecipientFilter{ProgramStatus: "DRAFT"}})
	require.NoError(t, err)
	assert.True(t, p.PostActive)
	assert.Equal(t, 0, p.Ready)
	assert.Equal(t, 1, p.Invalid)
	require.Len(t, p.Recipients, 1)
	assert.Equal(t, []string{"logo_url"}, p.Recipients[0].Missing)

	p, err = h.eng.Batches.Preview(h.ctx, BatchRequest{PostIdentifier: "800"})
	require.NoError(t, err)
	assert.False(t, p.PostActive)
	assert.Equal(t, 3, p.Ready)

	active, err := h.store.IsPostActive(h.ctx, "800")
	require.NoError(t, err)
	assert.False(t, active, "preview writes nothing")
}
