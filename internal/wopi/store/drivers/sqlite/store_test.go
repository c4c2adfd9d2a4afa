package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/harbourshare/wopihost/internal/wopi/domain"
	"github.com/harbourshare/wopihost/internal/wopi/store"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(filepath.Join(t.TempDir(), "wopi.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations())
	return s
}

func testToken(value string) domain.AccessToken {
	now := time.Now().UTC().Truncate(time.Second)
	return domain.AccessToken{
		ID:        ulid.Make().String(),
		Token:     value,
		Expiry:    now.Add(10 * time.Hour),
		FileID:    42,
		OwnerID:   "alice",
		EditorID:  "bob",
		CanWrite:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestTokensCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tok := testToken("abcdefgh12345678abcdefgh12345678")
	require.NoError(t, s.Tokens().CreateToken(ctx, tok))

	got, err := s.Tokens().GetTokenByValue(ctx, tok.Token)
	require.NoError(t, err)
	require.Equal(t, tok.ID, got.ID)
	require.Equal(t, int64(42), got.FileID)
	require.Equal(t, "bob", got.EditorID)
	require.True(t, got.CanWrite)
	require.WithinDuration(t, tok.Expiry, got.Expiry, time.Second)

	_, err = s.Tokens().GetTokenByValue(ctx, "unknown")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestTokensUniqueValue(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tok := testToken("samevaluesamevaluesamevalue12345")
	require.NoError(t, s.Tokens().CreateToken(ctx, tok))

	dup := testToken(tok.Token)
	require.ErrorIs(t, s.Tokens().CreateToken(ctx, dup), store.ErrAlreadyExists)
}

func TestTokensUpdateFederation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tok := testToken("federationtokenfederationtoken12")
	require.NoError(t, s.Tokens().CreateToken(ctx, tok))

	tok.UpgradeFederation(domain.FederationUpgrade{
		RemoteServer:      "https://partner.example.com",
		RemoteServerToken: "remotetok",
		RemoteEditorUID:   "carol",
		RemoteCanWrite:    true,
	})
	require.NoError(t, s.Tokens().UpdateFederation(ctx, tok))

	got, err := s.Tokens().GetTokenByValue(ctx, tok.Token)
	require.NoError(t, err)
	require.Equal(t, domain.TokenTypeRemoteUser, got.TokenType)
	require.Equal(t, "https://partner.example.com", got.RemoteServer)
	require.Equal(t, "remotetok", got.RemoteServerToken)
	require.Equal(t, "carol@partner.example.com", got.GuestDisplayName)

	missing := tok
	missing.ID = ulid.Make().String()
	require.ErrorIs(t, s.Tokens().UpdateFederation(ctx, missing), store.ErrNotFound)
}

func TestTokensClearTemplate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tok := testToken("templatetokentemplatetoken123456")
	tok.TemplateID = 7
	require.NoError(t, s.Tokens().CreateToken(ctx, tok))

	require.NoError(t, s.Tokens().ClearTemplate(ctx, tok.ID))

	got, err := s.Tokens().GetTokenByValue(ctx, tok.Token)
	require.NoError(t, err)
	require.Zero(t, got.TemplateID)
}

func TestTokensDeleteExpired(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now().UTC()

	old := testToken("expiredexpiredexpiredexpired1234")
	old.Expiry = now.Add(-time.Hour)
	require.NoError(t, s.Tokens().CreateToken(ctx, old))

	live := testToken("livetokenlivetokenlivetoken12345")
	require.NoError(t, s.Tokens().CreateToken(ctx, live))

	n, err := s.Tokens().DeleteExpired(ctx, now, 100)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, err = s.Tokens().GetTokenByValue(ctx, old.Token)
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.Tokens().GetTokenByValue(ctx, live.Token)
	require.NoError(t, err)
}

func TestDirectsSingleUse(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	d := domain.DirectOpen{
		ID:        ulid.Make().String(),
		Token:     "directtokendirecttokendirect1234",
		UserID:    "alice",
		FileID:    42,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.Directs().CreateDirect(ctx, d))

	// Redemption resolves and deletes atomically.
	err := s.WithTx(ctx, func(tx store.Tx) error {
		got, err := tx.Directs().GetDirectByToken(ctx, d.Token)
		if err != nil {
			return err
		}
		return tx.Directs().DeleteDirect(ctx, got.ID)
	})
	require.NoError(t, err)

	_, err = s.Directs().GetDirectByToken(ctx, d.Token)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tok := testToken("rollbacktokenrollbacktoken123456")
	err := s.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Tokens().CreateToken(ctx, tok); err != nil {
			return err
		}
		return context.Canceled
	})
	require.ErrorIs(t, err, context.Canceled)

	_, err = s.Tokens().GetTokenByValue(ctx, tok.Token)
	require.ErrorIs(t, err, store.ErrNotFound)
}
