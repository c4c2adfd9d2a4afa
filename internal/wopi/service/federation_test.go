package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/harbourshare/wopihost/internal/wopi/domain"
	"github.com/harbourshare/wopihost/internal/wopi/storage"
	"github.com/stretchr/testify/require"
)

// panicTransport fails the test if any request leaves the client. Used to
// prove untrusted remotes never see network traffic.
type panicTransport struct{ t *testing.T }

func (p panicTransport) RoundTrip(*http.Request) (*http.Response, error) {
	p.t.Fatal("unexpected network call to a remote")
	return nil, nil
}

func newFederation(t *testing.T, client *http.Client, trusted []string) *FederationService {
	t.Helper()
	tokens := newTokenService(newMemStore(), time.Now())
	svc, err := NewFederationService(client, tokens,
		"https://docs.example.com", "https://editor.example.com", trusted)
	require.NoError(t, err)
	return svc
}

func TestIsTrustedRemote(t *testing.T) {
	svc := newFederation(t, http.DefaultClient, []string{
		"partner.example.com",
		"https://other.example.org/",
		"*.fleet.example.net",
	})

	require.True(t, svc.IsTrustedRemote("partner.example.com"))
	require.True(t, svc.IsTrustedRemote("https://partner.example.com/"))
	require.True(t, svc.IsTrustedRemote("other.example.org"))
	require.True(t, svc.IsTrustedRemote("node7.fleet.example.net"))
	require.True(t, svc.IsTrustedRemote("docs.example.com"), "own host is always trusted")

	require.False(t, svc.IsTrustedRemote("evil.example.com"))
	require.False(t, svc.IsTrustedRemote("fleet.example.net.evil.com"))
	require.False(t, svc.IsTrustedRemote(""))
}

func TestUntrustedRemoteNeverContacted(t *testing.T) {
	ctx := context.Background()
	client := &http.Client{Transport: panicTransport{t}}
	svc := newFederation(t, client, []string{"partner.example.com"})

	_, err := svc.RemoteEditorEndpoint(ctx, "evil.example.com")
	require.ErrorIs(t, err, ErrUntrustedRemote)

	require.Nil(t, svc.RemoteFileDetails(ctx, "evil.example.com", "sometoken"))
}

func TestRemoteEditorEndpointCaches(t *testing.T) {
	ctx := context.Background()

	calls := 0
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.Equal(t, "/api/v1/federation", r.URL.Path)
		_ = json.NewEncoder(w).Encode(domain.FederationCapabilities{
			WopiURL:   "https://partner.example.com",
			EditorURL: "https://editor.partner.example.com",
		})
	}))
	defer remote.Close()

	svc := newFederation(t, remote.Client(), []string{remote.URL})

	endpoint, err := svc.RemoteEditorEndpoint(ctx, remote.URL)
	require.NoError(t, err)
	require.Equal(t, "https://partner.example.com", endpoint)

	// Second resolution is served from cache.
	_, err = svc.RemoteEditorEndpoint(ctx, remote.URL)
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestRemoteEditorEndpointNegativeCache(t *testing.T) {
	ctx := context.Background()

	calls := 0
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer remote.Close()

	svc := newFederation(t, remote.Client(), []string{remote.URL})

	_, err := svc.RemoteEditorEndpoint(ctx, remote.URL)
	require.ErrorIs(t, err, ErrRemoteUnavailable)

	// The failure is remembered, not retried per request.
	_, err = svc.RemoteEditorEndpoint(ctx, remote.URL)
	require.ErrorIs(t, err, ErrRemoteUnavailable)
	require.Equal(t, 1, calls)
}

func TestRemoteFileDetails(t *testing.T) {
	ctx := context.Background()

	calls := 0
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.Equal(t, http.MethodPost, r.Method)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "their-token", body["token"])

		_ = json.NewEncoder(w).Encode(domain.RemoteWopiDetails{
			OwnerUID:  "remote-owner",
			EditorUID: "carol",
			CanWrite:  true,
		})
	}))
	defer remote.Close()

	svc := newFederation(t, remote.Client(), []string{remote.URL})

	details := svc.RemoteFileDetails(ctx, remote.URL, "their-token")
	require.NotNil(t, details)
	require.Equal(t, "carol", details.EditorUID)
	require.True(t, details.CanWrite)

	// Cached by remote+token fingerprint.
	again := svc.RemoteFileDetails(ctx, remote.URL, "their-token")
	require.Same(t, details, again)
	require.Equal(t, 1, calls)
}

func TestRemoteFileDetailsFailureYieldsNil(t *testing.T) {
	ctx := context.Background()

	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer remote.Close()

	svc := newFederation(t, remote.Client(), []string{remote.URL})
	require.Nil(t, svc.RemoteFileDetails(ctx, remote.URL, "bad-token"))
}

func TestSessionDetails(t *testing.T) {
	ctx := context.Background()
	svc := newFederation(t, http.DefaultClient, nil)

	tok, err := svc.Tokens.Issue(ctx, IssueRequest{
		FileID:   42,
		OwnerID:  "alice",
		EditorID: "bob",
		CanWrite: true,
	})
	require.NoError(t, err)

	details, err := svc.SessionDetails(ctx, tok.Token)
	require.NoError(t, err)
	require.Equal(t, "alice", details.OwnerUID)
	require.Equal(t, "bob", details.EditorUID)
	require.True(t, details.CanWrite)
	require.Equal(t, "https://docs.example.com", details.ServerHost)

	_, err = svc.SessionDetails(ctx, "unknown")
	require.ErrorIs(t, err, ErrUnknownToken)
}

func TestRemoteRedirectURL(t *testing.T) {
	ctx := context.Background()

	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.FederationCapabilities{
			WopiURL: "https://partner.example.com",
		})
	}))
	defer remote.Close()

	svc := newFederation(t, remote.Client(), []string{remote.URL})

	t.Run("local file has no redirect", func(t *testing.T) {
		url, err := svc.RemoteRedirectURL(ctx, &storage.FileInfo{ID: 1}, "alice")
		require.NoError(t, err)
		require.Empty(t, url)
	})

	t.Run("mounted file redirects with initiator credentials", func(t *testing.T) {
		url, err := svc.RemoteRedirectURL(ctx, &storage.FileInfo{
			ID: 2,
			Remote: &storage.RemoteMount{
				Host:       remote.URL,
				ShareToken: "sh42",
			},
		}, "alice")
		require.NoError(t, err)
		require.Contains(t, url, "https://partner.example.com/wopi/remote?")
		require.Contains(t, url, "shareToken=sh42")
		require.Contains(t, url, "remoteServer=https://docs.example.com")
		require.Contains(t, url, "remoteServerToken=")

		// The initiator token minted for the hop carries the local user.
		var minted domain.AccessToken
		for _, part := range strings.Split(url[strings.IndexByte(url, '?')+1:], "&") {
			if v, ok := strings.CutPrefix(part, "remoteServerToken="); ok {
				minted, err = svc.Tokens.Resolve(ctx, v)
				require.NoError(t, err)
			}
		}
		require.Equal(t, domain.TokenTypeInitiator, minted.TokenType)
		require.Equal(t, "alice", minted.EditorID)
		require.Zero(t, minted.FileID)
	})

	t.Run("untrusted mount is refused", func(t *testing.T) {
		_, err := svc.RemoteRedirectURL(ctx, &storage.FileInfo{
			ID:     3,
			Remote: &storage.RemoteMount{Host: "evil.example.com"},
		}, "alice")
		require.ErrorIs(t, err, ErrUntrustedRemote)
	})
}
