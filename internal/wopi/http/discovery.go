package http

import (
	"net/http"

	"github.com/harbourshare/wopihost/internal/wopi/service"
	"github.com/harbourshare/wopihost/pkg/httpx"
	"github.com/harbourshare/wopihost/pkg/slogx"
)

// DiscoveryHandler serves GET /hosting/discovery, proxying the editor's
// capability XML so integrating clients only need to know this host.
type DiscoveryHandler struct {
	Discovery *service.DiscoveryService
}

func (h *DiscoveryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := h.Discovery.Discovery(r.Context())
	if err != nil {
		slogx.FromContext(r.Context()).Error("discovery proxy failed", "error", err)
		httpx.WriteStatus(w, http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
