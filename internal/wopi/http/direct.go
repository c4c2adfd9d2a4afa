package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/harbourshare/wopihost/internal/wopi/domain"
	"github.com/harbourshare/wopihost/internal/wopi/service"
	"github.com/harbourshare/wopihost/internal/wopi/storage"
	"github.com/harbourshare/wopihost/pkg/httpx"
	"github.com/harbourshare/wopihost/pkg/slogx"
)

// DirectHandler serves GET /direct/{token}. It redeems a single-use
// direct-open record, mints a regular session and bounces the browser into
// the editor. Files mounted from a partnered host redirect there instead of
// opening locally. A reused link gets a 403.
type DirectHandler struct {
	Tokens     *service.TokenService
	Documents  *service.DocumentService
	Federation *service.FederationService
	Discovery  *service.DiscoveryService
	EditorURL  string
	ServerURL  string
}

func (h *DirectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	d, err := h.Tokens.RedeemDirect(ctx, r.PathValue("token"))
	if err != nil {
		if errors.Is(err, service.ErrUnknownDirect) {
			log.Info("direct-open link unknown or already used")
			httpx.WriteStatus(w, http.StatusForbidden)
			return
		}
		log.Error("direct-open redemption failed", "error", err)
		httpx.WriteStatus(w, http.StatusInternalServerError)
		return
	}

	// Template-seeded files only materialise on first save, so the stat is
	// best effort for those.
	var info *storage.FileInfo
	if h.Documents != nil {
		info, err = h.Documents.StatFile(ctx, d.UserID, d.FileID)
		if err != nil && d.TemplateID == 0 {
			if errors.Is(err, storage.ErrNotFound) {
				httpx.WriteStatus(w, http.StatusNotFound)
				return
			}
			log.Error("direct-open file lookup failed", "error", err)
			httpx.WriteStatus(w, http.StatusInternalServerError)
			return
		}
	}

	if info != nil && info.Remote != nil && h.Federation != nil {
		redirect, err := h.Federation.RemoteRedirectURL(ctx, info, d.UserID)
		if err != nil {
			log.Error("direct-open remote redirect failed",
				"remote", info.Remote.Host, "error", err)
			httpx.WriteStatus(w, http.StatusBadGateway)
			return
		}
		if redirect != "" {
			httpx.NoCache(w)
			http.Redirect(w, r, redirect, http.StatusFound)
			return
		}
	}

	tok, err := h.Tokens.Issue(ctx, service.IssueRequest{
		FileID:     d.FileID,
		OwnerID:    d.UserID,
		EditorID:   d.UserID,
		CanWrite:   true,
		Direct:     true,
		TemplateID: d.TemplateID,
		TokenType:  domain.TokenTypeUser,
	})
	if err != nil {
		log.Error("issuing session for direct open failed", "error", err)
		httpx.WriteStatus(w, http.StatusInternalServerError)
		return
	}

	if err := h.Tokens.UpgradeFromDirectInitiator(ctx, d, &tok); err != nil {
		log.Error("linking direct session to initiator failed", "error", err)
		httpx.WriteStatus(w, http.StatusInternalServerError)
		return
	}

	httpx.NoCache(w)
	http.Redirect(w, r, h.launchURL(ctx, info, tok), http.StatusFound)
}

// launchURL builds the browser URL that opens the editor on a session,
// preferring the urlsrc the editor advertises for the file's extension.
func (h *DirectHandler) launchURL(ctx context.Context, info *storage.FileInfo, tok domain.AccessToken) string {
	if h.Discovery != nil && info != nil {
		if urlsrc, ok := h.Discovery.ActionURL(ctx, path.Ext(info.Name)); ok {
			wopiSrc := fmt.Sprintf("%s/wopi/files/%d", h.ServerURL, tok.FileID)
			return fmt.Sprintf("%s?WOPISrc=%s&access_token=%s",
				strings.TrimRight(urlsrc, "?&"),
				url.QueryEscape(wopiSrc),
				tok.Token,
			)
		}
	}
	return editorLaunchURL(h.EditorURL, h.ServerURL, tok)
}

// editorLaunchURL is the default launch URL when discovery offers no urlsrc.
func editorLaunchURL(editorURL, serverURL string, tok domain.AccessToken) string {
	wopiSrc := fmt.Sprintf("%s/wopi/files/%d", serverURL, tok.FileID)
	return fmt.Sprintf("%s/browser/dist/cool.html?WOPISrc=%s&access_token=%s",
		strings.TrimRight(editorURL, "/"),
		url.QueryEscape(wopiSrc),
		tok.Token,
	)
}
