package sqlite

import (
	"context"
	"time"

	"github.com/harbourshare/wopihost/internal/wopi/domain"
)

type tokensRepo struct {
	db dbtx
}

const tokenColumns = `id, token, expiry, file_id, owner_id, editor_id, version,
	can_write, hide_download, direct, server_host, guest_display_name,
	template_id, template_destination, share_token, token_type,
	remote_server, remote_server_token, created_at, updated_at`

func (r *tokensRepo) CreateToken(ctx context.Context, t domain.AccessToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO wopi_tokens (
			id, token, expiry, file_id, owner_id, editor_id, version,
			can_write, hide_download, direct, server_host, guest_display_name,
			template_id, template_destination, share_token, token_type,
			remote_server, remote_server_token, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Token, t.Expiry.UTC(), t.FileID, t.OwnerID, t.EditorID, t.Version,
		t.CanWrite, t.HideDownload, t.Direct, t.ServerHost, t.GuestDisplayName,
		t.TemplateID, t.TemplateDestination, t.ShareToken, int(t.TokenType),
		t.RemoteServer, t.RemoteServerToken, t.CreatedAt.UTC(), t.UpdatedAt.UTC(),
	)
	return mapConstraint(err)
}

func (r *tokensRepo) GetTokenByValue(ctx context.Context, token string) (domain.AccessToken, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM wopi_tokens WHERE token = ?`, token)
	return scanToken(row)
}

func (r *tokensRepo) UpdateFederation(ctx context.Context, t domain.AccessToken) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE wopi_tokens SET
			guest_display_name = ?,
			can_write = ?,
			share_token = ?,
			token_type = ?,
			remote_server = ?,
			remote_server_token = ?,
			updated_at = ?
		WHERE id = ?`,
		t.GuestDisplayName, t.CanWrite, t.ShareToken, int(t.TokenType),
		t.RemoteServer, t.RemoteServerToken, time.Now().UTC(), t.ID,
	)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func (r *tokensRepo) ClearTemplate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE wopi_tokens SET template_id = 0, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func (r *tokensRepo) DeleteExpired(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM wopi_tokens WHERE id IN (
			SELECT id FROM wopi_tokens WHERE expiry < ? ORDER BY expiry LIMIT ?
		)`,
		cutoff.UTC(), limit,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (domain.AccessToken, error) {
	var t domain.AccessToken
	var tokenType int
	err := row.Scan(
		&t.ID, &t.Token, &t.Expiry, &t.FileID, &t.OwnerID, &t.EditorID, &t.Version,
		&t.CanWrite, &t.HideDownload, &t.Direct, &t.ServerHost, &t.GuestDisplayName,
		&t.TemplateID, &t.TemplateDestination, &t.ShareToken, &tokenType,
		&t.RemoteServer, &t.RemoteServerToken, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return domain.AccessToken{}, mapNotFound(err)
	}
	t.TokenType = domain.TokenType(tokenType)
	return t, nil
}
