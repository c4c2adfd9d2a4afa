package http

import (
	"context"

	"github.com/harbourshare/wopihost/internal/wopi/domain"
)

type tokenCtxKey struct{}

func withToken(ctx context.Context, tok *domain.AccessToken) context.Context {
	return context.WithValue(ctx, tokenCtxKey{}, tok)
}

// TokenFromContext returns the session the guard resolved for this request.
// Handlers behind the guard can rely on it being present.
func TokenFromContext(ctx context.Context) *domain.AccessToken {
	tok, _ := ctx.Value(tokenCtxKey{}).(*domain.AccessToken)
	return tok
}
