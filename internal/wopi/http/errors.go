package http

import (
	"errors"
	"net/http"

	"github.com/harbourshare/wopihost/internal/wopi/service"
	"github.com/harbourshare/wopihost/internal/wopi/storage"
	"github.com/harbourshare/wopihost/pkg/httpx"
	"github.com/harbourshare/wopihost/pkg/slogx"
)

// statusCodeDocumentChanged is the body flag Collabora inspects on a 409 to
// tell a concurrency conflict apart from a lock conflict.
const statusCodeDocumentChanged = 1010

// writeServiceError maps service and storage errors onto WOPI responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *service.LockConflictError

	switch {
	case errors.As(err, &conflict):
		w.Header().Set("X-WOPI-Lock", conflict.CurrentLock)
		httpx.WriteStatus(w, http.StatusConflict)

	case errors.Is(err, service.ErrDocumentChanged):
		httpx.WriteJSON(w, http.StatusConflict, map[string]any{
			"LOOLStatusCode": statusCodeDocumentChanged,
		})

	case errors.Is(err, storage.ErrOwnerLocked):
		httpx.WriteStatus(w, http.StatusLocked)

	case errors.Is(err, service.ErrRetriesExhausted):
		// The file stayed locked for the whole retry window.
		httpx.WriteJSON(w, http.StatusInternalServerError, map[string]any{
			"message": "File locked",
		})

	case errors.Is(err, service.ErrNotAllowed), errors.Is(err, storage.ErrForbidden):
		httpx.WriteStatus(w, http.StatusForbidden)

	case errors.Is(err, storage.ErrNotFound):
		httpx.WriteStatus(w, http.StatusNotFound)

	case errors.Is(err, storage.ErrExists):
		httpx.WriteStatus(w, http.StatusConflict)

	default:
		slogx.FromContext(r.Context()).Error("wopi request failed",
			"path", r.URL.Path,
			"error", err,
		)
		httpx.WriteStatus(w, http.StatusInternalServerError)
	}
}
