package repositories

import (
	"context"
	"strings"

	"reelcast/internal/models"
	apperrors "reelcast/internal/pkg/errors"
)

const recipientColumns = `id, display_name, phone, website, logo_url, program_status`

func scanRecipient(row rowScanner) (*models.Recipient, error) {
	var r models.Recipient
	if err := row.Scan(&r.ID, &r.DisplayName, &r.Phone, &r.Website, &r.LogoURL, &r.ProgramStatus); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLStore) GetRecipient(ctx context.Context, id string) (*models.Recipient, error) {
	r, err := scanRecipient(s.db.queryRow(ctx, `SELECT `+recipientColumns+` FROM recipients WHERE id = $1`, id))
	if err != nil {
		if s.db.isNoRows(err) {
			return nil, apperrors.NotFound("recipient", id)
		}
		return nil, apperrors.Wrap(err, "repositories.GetRecipient", "select recipient")
	}
	return r, nil
}

// ListRecipients returns the recipients matching f ordered by display name.
// An empty program status selects FULL.
func (s *SQLStore) ListRecipients(ctx context.Context, f models.RecipientFilter) ([]models.Recipient, error) {
	status := strings.TrimSpace(f.ProgramStatus)
	if status == "" {
		status = models.DefaultProgramStatus
	}

	q := `SELECT ` + recipientColumns + ` FROM recipients WHERE program_status = $1`
	args := []any{status}
	if len(f.RecipientIDs) > 0 {
		q += ` AND id IN (` + placeholders(len(args)+1, len(f.RecipientIDs)) + `)`
		for _, id := range f.RecipientIDs {
			args = append(args, id)
		}
	}
	if len(f.SkipIDs) > 0 {
		q += ` AND id NOT IN (` + placeholders(len(args)+1, len(f.SkipIDs)) + `)`
		for _, id := range f.SkipIDs {
			args = append(args, id)
		}
	}
	q += ` ORDER BY display_name, id`

	rows, err := s.db.query(ctx, q, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, "repositories.ListRecipients", "select recipients")
	}
	defer rows.Close()
	var out []models.Recipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "repositories.ListRecipients", "scan recipient")
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// UpsertRecipients inserts or replaces recipient records. The directory is
// normally fed by the CRM sync; this keeps local stacks and tests seedable.
func (s *SQLStore) UpsertRecipients(ctx context.Context, recipients []models.Recipient) error {
	tx, err := s.db.begin(ctx)
	if err != nil {
		return apperrors.Unavailable("store", err)
	}
	defer func() { _ = tx.rollback(ctx) }()

	for _, r := range recipients {
		if strings.TrimSpace(r.ID) == "" {
			return apperrors.ValidationField("id", "recipient id is required")
		}
		status := r.ProgramStatus
		if status == "" {
			status = models.DefaultProgramStatus
		}
		_, err := tx.exec(ctx, `
			INSERT INTO recipients (id, display_name, phone, website, logo_url, program_status)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				display_name = excluded.display_name,
				phone = excluded.phone,
				website = excluded.website,
				logo_url = excluded.logo_url,
				program_status = excluded.program_status
		`, r.ID, r.DisplayName, r.Phone, r.Website, r.LogoURL, status)
		if err != nil {
			return apperrors.Wrap(err, "repositories.UpsertRecipients", "upsert recipient")
		}
	}
	if err := tx.commit(ctx); err != nil {
		return apperrors.Wrap(err, "repositories.UpsertRecipients", "commit")
	}
	return nil
}
