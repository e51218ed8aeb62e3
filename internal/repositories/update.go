package repositories

import (
	"fmt"
	"strings"
	"time"

	"reelcast/internal/models"
	apperrors "reelcast/internal/pkg/errors"
)

// setBuilder accumulates "col = $n" assignments.
type setBuilder struct {
	sets []string
	args []any
}

func (b *setBuilder) set(col string, v any) {
	b.args = append(b.args, v)
	b.sets = append(b.sets, fmt.Sprintf("%s = $%d", col, len(b.args)))
}

func (b *setBuilder) setNull(col string) {
	b.sets = append(b.sets, col+" = NULL")
}

// buildJobUpdate renders u as a guarded UPDATE statement. The guard is the
// status list in u.ExpectStatus, or every non-terminal status when empty.
func buildJobUpdate(id string, u models.JobUpdate, now time.Time) (string, []any, error) {
	if u.Empty() {
		return "", nil, apperrors.Validation("job update changes nothing")
	}
	if u.ExternalRenderID != nil && u.ClearExternalID {
		return "", nil, apperrors.Validation("job update both sets and clears the external render id")
	}

	var b setBuilder
	if u.Status != nil {
		if !u.Status.Valid() {
			return "", nil, apperrors.ValidationField("status", "unknown job status "+string(*u.Status))
		}
		b.set("status", string(*u.Status))
	}
	switch {
	case u.ClearExternalID:
		b.setNull("external_render_id")
	case u.ExternalRenderID != nil:
		b.set("external_render_id", nullable(*u.ExternalRenderID))
	}
	if u.RetryCount != nil {
		b.set("retry_count", *u.RetryCount)
	}
	if u.LastError != nil {
		b.set("last_error", nullable(*u.LastError))
	}
	if u.ProcessingStartedAt != nil {
		b.set("processing_started_at", u.ProcessingStartedAt.UTC())
	}
	if u.CompletedAt != nil {
		b.set("completed_at", u.CompletedAt.UTC())
	}
	if u.Artifact != nil {
		b.set("artifact_id", u.Artifact.ID)
		b.set("artifact_link", nullable(u.Artifact.Link))
		b.set("artifact_path", nullable(u.Artifact.Path))
	}
	if u.Result != nil {
		b.set("duration_seconds", u.Result.DurationSeconds)
		b.set("file_size_bytes", u.Result.FileSizeBytes)
		b.set("cost_units", u.Result.CostUnits)
	}
	b.set("updated_at", now.UTC())

	expect := u.ExpectStatus
	if len(expect) == 0 {
		expect = models.NonTerminal
	}
	args := append(b.args, id)
	idArg := len(args)
	for _, st := range expect {
		args = append(args, string(st))
	}

	q := fmt.Sprintf("UPDATE render_jobs SET %s WHERE id = $%d AND status IN (%s)",
		strings.Join(b.sets, ", "), idArg, placeholders(idArg+1, len(expect)))
	return q, args, nil
}
