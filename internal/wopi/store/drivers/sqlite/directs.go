package sqlite

import (
	"context"

	"github.com/harbourshare/wopihost/internal/wopi/domain"
)

type directsRepo struct {
	db dbtx
}

func (r *directsRepo) CreateDirect(ctx context.Context, d domain.DirectOpen) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO direct_tokens (
			id, token, user_id, file_id, template_id,
			initiator_host, initiator_token, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Token, d.UserID, d.FileID, d.TemplateID,
		d.InitiatorHost, d.InitiatorToken, d.CreatedAt.UTC(),
	)
	return mapConstraint(err)
}

func (r *directsRepo) GetDirectByToken(ctx context.Context, token string) (domain.DirectOpen, error) {
	var d domain.DirectOpen
	err := r.db.QueryRowContext(ctx, `
		SELECT id, token, user_id, file_id, template_id,
			initiator_host, initiator_token, created_at
		FROM direct_tokens WHERE token = ?`, token,
	).Scan(
		&d.ID, &d.Token, &d.UserID, &d.FileID, &d.TemplateID,
		&d.InitiatorHost, &d.InitiatorToken, &d.CreatedAt,
	)
	if err != nil {
		return domain.DirectOpen{}, mapNotFound(err)
	}
	return d, nil
}

func (r *directsRepo) DeleteDirect(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM direct_tokens WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}
