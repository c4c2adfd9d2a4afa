package http

import (
	"io"
	"net/http"
	"strconv"

	"github.com/harbourshare/wopihost/internal/wopi/service"
	"github.com/harbourshare/wopihost/pkg/httpx"
	"github.com/harbourshare/wopihost/pkg/slogx"
)

// FilesHandler serves the per-file WOPI operations under /wopi/files/{fileId}.
type FilesHandler struct {
	Documents *service.DocumentService
}

// HandleCheckFileInfo serves GET /wopi/files/{fileId}.
func (h *FilesHandler) HandleCheckFileInfo(w http.ResponseWriter, r *http.Request) {
	tok := TokenFromContext(r.Context())

	fi, err := h.Documents.CheckFileInfo(r.Context(), tok)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, fi)
}

// HandleGetFile serves GET /wopi/files/{fileId}/contents.
func (h *FilesHandler) HandleGetFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tok := TokenFromContext(ctx)

	rc, err := h.Documents.ReadFile(ctx, tok)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	defer rc.Close()

	httpx.NoCache(w)
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, rc); err != nil {
		slogx.FromContext(ctx).Warn("streaming file content aborted", "error", err)
	}
}

// HandlePutFile serves POST /wopi/files/{fileId}/contents, the editor's save
// path. X-LOOL-WOPI-Timestamp carries the modification time the editor last
// saw; a mismatch rejects the save as a conflict.
func (h *FilesHandler) HandlePutFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tok := TokenFromContext(ctx)

	res, err := h.Documents.Save(ctx, tok, service.SaveRequest{
		Content:          r.Body,
		WopiTimestamp:    r.Header.Get("X-LOOL-WOPI-Timestamp"),
		IsAutosave:       headerFlag(r, "X-LOOL-WOPI-IsAutosave"),
		IsExitSave:       headerFlag(r, "X-LOOL-WOPI-IsExitSave"),
		IsModifiedByUser: headerFlag(r, "X-LOOL-WOPI-IsModifiedByUser"),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"LastModifiedTime": res.LastModifiedTime,
	})
}

// HandlePostFile serves POST /wopi/files/{fileId} and dispatches on the
// X-WOPI-Override header. An absent or unknown override is treated as
// PUT_RELATIVE, matching how editors actually behave.
func (h *FilesHandler) HandlePostFile(w http.ResponseWriter, r *http.Request) {
	switch r.Header.Get("X-WOPI-Override") {
	case "LOCK":
		h.handleLock(w, r)
	case "UNLOCK":
		h.handleUnlock(w, r)
	case "REFRESH_LOCK":
		h.handleRefreshLock(w, r)
	case "GET_LOCK":
		h.handleGetLock(w, r)
	case "RENAME_FILE":
		h.handleRename(w, r)
	default:
		h.handlePutRelative(w, r)
	}
}

func (h *FilesHandler) handleLock(w http.ResponseWriter, r *http.Request) {
	tok := TokenFromContext(r.Context())

	lockID := r.Header.Get("X-WOPI-Lock")
	if lockID == "" {
		httpx.WriteStatus(w, http.StatusBadRequest)
		return
	}

	if err := h.Documents.Lock(r.Context(), tok, lockID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteStatus(w, http.StatusOK)
}

func (h *FilesHandler) handleUnlock(w http.ResponseWriter, r *http.Request) {
	tok := TokenFromContext(r.Context())

	lockID := r.Header.Get("X-WOPI-Lock")
	if lockID == "" {
		httpx.WriteStatus(w, http.StatusBadRequest)
		return
	}

	if err := h.Documents.Unlock(r.Context(), tok, lockID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteStatus(w, http.StatusOK)
}

func (h *FilesHandler) handleRefreshLock(w http.ResponseWriter, r *http.Request) {
	tok := TokenFromContext(r.Context())

	lockID := r.Header.Get("X-WOPI-Lock")
	if lockID == "" {
		httpx.WriteStatus(w, http.StatusBadRequest)
		return
	}

	if err := h.Documents.RefreshLock(r.Context(), tok, lockID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteStatus(w, http.StatusOK)
}

func (h *FilesHandler) handleGetLock(w http.ResponseWriter, r *http.Request) {
	tok := TokenFromContext(r.Context())

	lockID, err := h.Documents.GetLock(r.Context(), tok)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.Header().Set("X-WOPI-Lock", lockID)
	httpx.WriteStatus(w, http.StatusOK)
}

func (h *FilesHandler) handleRename(w http.ResponseWriter, r *http.Request) {
	tok := TokenFromContext(r.Context())

	name, err := h.Documents.Rename(r.Context(), tok, r.Header.Get("X-WOPI-RequestedName"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"Name": name})
}

func (h *FilesHandler) handlePutRelative(w http.ResponseWriter, r *http.Request) {
	tok := TokenFromContext(r.Context())

	res, err := h.Documents.PutRelative(r.Context(), tok, service.PutRelativeRequest{
		SuggestedTarget: r.Header.Get("X-WOPI-SuggestedTarget"),
		Content:         r.Body,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"Name": res.Name,
		"Url":  res.URL,
	})
}

// headerFlag reads a boolean WOPI extension header.
func headerFlag(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.Header.Get(name))
	return err == nil && v
}
