package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/harbourshare/wopihost/internal/wopi/domain"
	"github.com/stretchr/testify/require"
)

func newTokenService(st *memStore, now time.Time) *TokenService {
	return &TokenService{
		Store:     st,
		TTL:       10 * time.Hour,
		ServerURL: "https://docs.example.com",
		now:       func() time.Time { return now },
	}
}

func TestIssueMintsOpaqueToken(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := newTokenService(newMemStore(), now)

	tok, err := svc.Issue(ctx, IssueRequest{
		FileID:   42,
		OwnerID:  "alice",
		EditorID: "bob",
		CanWrite: true,
	})
	require.NoError(t, err)

	require.Len(t, tok.Token, 32)
	require.NotEmpty(t, tok.ID)
	require.Equal(t, now.Add(10*time.Hour), tok.Expiry)
	require.Equal(t, "https://docs.example.com", tok.ServerHost)
	require.Equal(t, domain.TokenTypeUser, tok.TokenType)

	got, err := svc.Resolve(ctx, tok.Token)
	require.NoError(t, err)
	require.Equal(t, tok.ID, got.ID)
}

func TestIssueRetriesOnCollision(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	st.failTokenCreates = 2
	svc := newTokenService(st, time.Now())

	tok, err := svc.Issue(ctx, IssueRequest{FileID: 1, OwnerID: "alice"})
	require.NoError(t, err)
	require.Len(t, tok.Token, 32)
}

func TestIssueGivesUpAfterPersistentCollisions(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	st.failTokenCreates = mintAttempts
	svc := newTokenService(st, time.Now())

	_, err := svc.Issue(ctx, IssueRequest{FileID: 1, OwnerID: "alice"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "collision")
}

func TestResolveUnknownAndExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st := newMemStore()
	svc := newTokenService(st, now)

	_, err := svc.Resolve(ctx, "nosuchtoken")
	require.ErrorIs(t, err, ErrUnknownToken)

	tok, err := svc.Issue(ctx, IssueRequest{FileID: 1, OwnerID: "alice"})
	require.NoError(t, err)

	// Exactly at expiry the token still resolves.
	svc.now = func() time.Time { return tok.Expiry }
	_, err = svc.Resolve(ctx, tok.Token)
	require.NoError(t, err)

	// One tick past expiry it does not.
	svc.now = func() time.Time { return tok.Expiry.Add(time.Nanosecond) }
	got, err := svc.Resolve(ctx, tok.Token)
	require.ErrorIs(t, err, ErrExpiredToken)
	require.Equal(t, tok.ID, got.ID, "expired records are still returned for inspection")
}

func TestUpgradeToRemotePersists(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	svc := newTokenService(st, time.Now())

	tok, err := svc.Issue(ctx, IssueRequest{FileID: 1, OwnerID: "alice", CanWrite: true})
	require.NoError(t, err)

	up := domain.FederationUpgrade{
		RemoteServer:      "https://partner.example.com",
		RemoteServerToken: "remotetok",
		RemoteEditorUID:   "carol",
		RemoteCanWrite:    true,
	}
	require.NoError(t, svc.UpgradeToRemote(ctx, &tok, up))

	got, err := svc.Resolve(ctx, tok.Token)
	require.NoError(t, err)
	require.Equal(t, domain.TokenTypeRemoteUser, got.TokenType)
	require.Equal(t, "carol@partner.example.com", got.GuestDisplayName)

	// Applying the same exchange again changes nothing.
	require.NoError(t, svc.UpgradeToRemote(ctx, &tok, up))
	again, err := svc.Resolve(ctx, tok.Token)
	require.NoError(t, err)
	require.Equal(t, got, again)
}

func TestRedeemDirectIsSingleUse(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	svc := newTokenService(st, time.Now())

	d, err := svc.IssueDirect(ctx, DirectIssueRequest{UserID: "alice", FileID: 42})
	require.NoError(t, err)

	got, err := svc.RedeemDirect(ctx, d.Token)
	require.NoError(t, err)
	require.Equal(t, int64(42), got.FileID)

	_, err = svc.RedeemDirect(ctx, d.Token)
	require.ErrorIs(t, err, ErrUnknownDirect)
}

func TestIssueInitiatorCarriesMintingUser(t *testing.T) {
	ctx := context.Background()
	svc := newTokenService(newMemStore(), time.Now())

	tok, err := svc.IssueInitiator(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.TokenTypeInitiator, tok.TokenType)
	require.Equal(t, "alice", tok.EditorID)
	require.Equal(t, "alice", tok.OwnerID)
	require.Zero(t, tok.FileID)
}

func TestUpgradeFromDirectInitiator(t *testing.T) {
	ctx := context.Background()
	svc := newTokenService(newMemStore(), time.Now())

	t.Run("initiator-backed link upgrades the session", func(t *testing.T) {
		d, err := svc.IssueDirect(ctx, DirectIssueRequest{
			UserID:         "alice",
			FileID:         42,
			InitiatorHost:  "https://partner.example.com",
			InitiatorToken: "their-initiator",
		})
		require.NoError(t, err)

		tok, err := svc.Issue(ctx, IssueRequest{FileID: 42, OwnerID: "alice", EditorID: "alice", CanWrite: true})
		require.NoError(t, err)
		require.NoError(t, svc.UpgradeFromDirectInitiator(ctx, d, &tok))

		got, err := svc.Resolve(ctx, tok.Token)
		require.NoError(t, err)
		require.Equal(t, domain.TokenTypeRemoteUser, got.TokenType)
		require.Equal(t, "https://partner.example.com", got.RemoteServer)
		require.Equal(t, "their-initiator", got.RemoteServerToken)
		require.Equal(t, "alice@partner.example.com", got.GuestDisplayName)
		require.True(t, got.CanWrite)
	})

	t.Run("plain link leaves the session untouched", func(t *testing.T) {
		d, err := svc.IssueDirect(ctx, DirectIssueRequest{UserID: "alice", FileID: 42})
		require.NoError(t, err)

		tok, err := svc.Issue(ctx, IssueRequest{FileID: 42, OwnerID: "alice", EditorID: "alice", CanWrite: true})
		require.NoError(t, err)
		require.NoError(t, svc.UpgradeFromDirectInitiator(ctx, d, &tok))
		require.Equal(t, domain.TokenTypeUser, tok.TokenType)
		require.Empty(t, tok.RemoteServer)
	})
}

func TestPrepareGuestName(t *testing.T) {
	require.Equal(t, "Guest (Guest)", PrepareGuestName("  "))
	require.Equal(t, "Mallory (Guest)", PrepareGuestName(" Mallory "))

	long := strings.Repeat("x", 400)
	got := PrepareGuestName(long)
	require.LessOrEqual(t, len(got), maxGuestNameLen)
	require.True(t, strings.HasSuffix(got, " (Guest)"))
}

func TestRandomGuestID(t *testing.T) {
	id := RandomGuestID()
	require.True(t, strings.HasPrefix(id, "Guest-"))
	require.Len(t, id, len("Guest-")+8)
	require.NotEqual(t, id, RandomGuestID())
}
