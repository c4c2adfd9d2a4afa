package http

import (
	"errors"
	"net/http"

	"github.com/harbourshare/wopihost/internal/wopi/domain"
	"github.com/harbourshare/wopihost/internal/wopi/service"
	"github.com/harbourshare/wopihost/internal/wopi/storage"
	"github.com/harbourshare/wopihost/pkg/httpx"
	"github.com/harbourshare/wopihost/pkg/slogx"
)

// RemoteHandler serves GET /wopi/remote: the landing point for users a
// partnered host redirected to us because we own the file behind one of our
// shares. The partner identifies itself with an initiator token, which we
// exchange back for the visiting user's identity.
type RemoteHandler struct {
	Tokens     *service.TokenService
	Federation *service.FederationService
	Shares     storage.ShareResolver
	EditorURL  string
	ServerURL  string
}

func (h *RemoteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	q := r.URL.Query()
	shareToken := q.Get("shareToken")
	remoteServer := q.Get("remoteServer")
	remoteServerToken := q.Get("remoteServerToken")

	if shareToken == "" || remoteServer == "" || remoteServerToken == "" {
		httpx.WriteStatus(w, http.StatusBadRequest)
		return
	}

	if !h.Federation.IsTrustedRemote(remoteServer) {
		log.Warn("federated arrival from untrusted remote", "remote", remoteServer)
		httpx.WriteStatus(w, http.StatusForbidden)
		return
	}

	share, err := h.Shares.ResolveShare(ctx, shareToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httpx.WriteStatus(w, http.StatusNotFound)
			return
		}
		log.Error("share resolution failed", "error", err)
		httpx.WriteStatus(w, http.StatusInternalServerError)
		return
	}

	details := h.Federation.RemoteFileDetails(ctx, remoteServer, remoteServerToken)
	if details == nil {
		log.Warn("remote session exchange failed", "remote", remoteServer)
		httpx.WriteStatus(w, http.StatusForbidden)
		return
	}

	tok, err := h.Tokens.Issue(ctx, service.IssueRequest{
		FileID:       share.FileID,
		OwnerID:      share.OwnerID,
		CanWrite:     share.CanWrite,
		HideDownload: share.HideDownload,
		ShareToken:   share.Token,
		TokenType:    domain.TokenTypeGuest,
	})
	if err != nil {
		log.Error("issuing session for federated arrival failed", "error", err)
		httpx.WriteStatus(w, http.StatusInternalServerError)
		return
	}

	err = h.Tokens.UpgradeToRemote(ctx, &tok, domain.FederationUpgrade{
		RemoteServer:      remoteServer,
		RemoteServerToken: remoteServerToken,
		RemoteEditorUID:   details.EditorUID,
		RemoteDisplayName: details.GuestDisplayName,
		RemoteCanWrite:    details.CanWrite,
		ShareToken:        share.Token,
	})
	if err != nil {
		log.Error("federation upgrade failed", "error", err)
		httpx.WriteStatus(w, http.StatusInternalServerError)
		return
	}

	httpx.NoCache(w)
	http.Redirect(w, r, editorLaunchURL(h.EditorURL, h.ServerURL, tok), http.StatusFound)
}
