package http

import (
	"io"
	"net/http"

	"github.com/harbourshare/wopihost/internal/wopi/service"
	"github.com/harbourshare/wopihost/pkg/httpx"
	"github.com/harbourshare/wopihost/pkg/slogx"
)

// TemplateHandler serves GET /wopi/template/{fileId}: the raw template bytes
// a session seeds its document from. The guard has already checked the path
// id against the session's template id.
type TemplateHandler struct {
	Documents *service.DocumentService
}

func (h *TemplateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tok := TokenFromContext(ctx)

	rc, err := h.Documents.ReadTemplate(ctx, tok.TemplateID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	defer rc.Close()

	httpx.NoCache(w)
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, rc); err != nil {
		slogx.FromContext(ctx).Warn("streaming template aborted", "error", err)
	}
}
