package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/harbourshare/wopihost/internal/wopi/service"
	"github.com/harbourshare/wopihost/pkg/httpx"
	"github.com/harbourshare/wopihost/pkg/slogx"
)

// FederationHandler serves /api/v1/federation, the host-to-host surface:
// GET advertises our endpoints, POST exchanges one of our tokens for the
// session descriptor behind it.
type FederationHandler struct {
	Federation *service.FederationService
}

// HandleCapabilities serves GET /api/v1/federation.
func (h *FederationHandler) HandleCapabilities(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.Federation.Capabilities())
}

// HandleExchange serves POST /api/v1/federation. Partners post a token they
// received from one of our users; unknown tokens are forbidden so the
// endpoint cannot be used to probe token validity windows.
func (h *FederationHandler) HandleExchange(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token == "" {
		httpx.WriteStatus(w, http.StatusBadRequest)
		return
	}

	details, err := h.Federation.SessionDetails(ctx, body.Token)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrExpiredToken):
			httpx.WriteStatus(w, http.StatusUnauthorized)
		case errors.Is(err, service.ErrUnknownToken):
			httpx.WriteStatus(w, http.StatusForbidden)
		default:
			log.Error("federation exchange failed", "error", err)
			httpx.WriteStatus(w, http.StatusInternalServerError)
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, details)
}
