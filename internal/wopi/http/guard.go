package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/harbourshare/wopihost/internal/wopi/service"
	"github.com/harbourshare/wopihost/pkg/httpx"
	"github.com/harbourshare/wopihost/pkg/slogx"
)

// ParseFileID splits the composite file id used in WOPI paths. Editors may
// append an instance id and a version: "42", "42_oc12ab" or "42_oc12ab_77".
func ParseFileID(raw string) (fileID int64, instance string, version int64, err error) {
	parts := strings.SplitN(raw, "_", 3)

	fileID, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", 0, fmt.Errorf("malformed file id %q", raw)
	}

	if len(parts) > 1 {
		instance = parts[1]
	}
	if len(parts) > 2 {
		version, err = strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return 0, "", 0, fmt.Errorf("malformed file version in %q", raw)
		}
	}
	return fileID, instance, version, nil
}

// TokenGuard resolves the access_token query parameter and verifies the path
// file id belongs to that session before any handler runs. Unknown tokens are
// forbidden; expired ones ask the editor to reauthenticate.
//
// When matchTemplate is set the path id is checked against the session's
// template id instead of its file id.
func TokenGuard(tokens *service.TokenService, matchTemplate bool) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			value := r.URL.Query().Get("access_token")
			if value == "" {
				httpx.WriteStatus(w, http.StatusForbidden)
				return
			}

			tok, err := tokens.Resolve(ctx, value)
			if err != nil {
				switch {
				case errors.Is(err, service.ErrExpiredToken):
					log.Info("expired token presented", "file_id", tok.FileID)
					httpx.WriteStatus(w, http.StatusUnauthorized)
				case errors.Is(err, service.ErrUnknownToken):
					log.Info("unknown token presented")
					httpx.WriteStatus(w, http.StatusForbidden)
				default:
					log.Error("token resolution failed", "error", err)
					httpx.WriteStatus(w, http.StatusInternalServerError)
				}
				return
			}

			fileID, _, _, err := ParseFileID(r.PathValue("fileId"))
			if err != nil {
				httpx.WriteStatus(w, http.StatusBadRequest)
				return
			}

			allowed := fileID == tok.FileID
			if matchTemplate {
				allowed = fileID == tok.TemplateID
			}
			if !allowed {
				log.Warn("token presented for foreign file",
					"path_file_id", fileID,
					"token_file_id", tok.FileID,
				)
				httpx.WriteStatus(w, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(withToken(ctx, &tok)))
		})
	}
}
