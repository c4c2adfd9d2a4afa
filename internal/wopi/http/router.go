package http

import (
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/harbourshare/wopihost/internal/wopi/service"
	"github.com/harbourshare/wopihost/internal/wopi/storage"
	"github.com/harbourshare/wopihost/internal/wopi/store"
	"github.com/harbourshare/wopihost/pkg/httpx"
	"github.com/harbourshare/wopihost/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	serverURL    string
	editorURL    string
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	// AllowList restricts the WOPI surface to the editor server's network.
	// Empty means no filtering.
	AllowList []netip.Prefix

	store             store.Store
	Shares            storage.ShareResolver
	TokenService      *service.TokenService
	DocumentService   *service.DocumentService
	FederationService *service.FederationService
	DiscoveryService  *service.DiscoveryService
}

func NewRouter(
	serverURL, editorURL, buildVersion string,
	st store.Store,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		serverURL:    serverURL,
		editorURL:    editorURL,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerWopi()
	r.registerDirect()
	r.registerFederation()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerWopi() {
	files := &FilesHandler{Documents: r.DocumentService}

	// Every file route sits behind the editor-network allow list and the
	// token guard; rate limiting keys on the access token so one busy
	// session cannot starve others.
	guarded := func(h http.HandlerFunc) http.Handler {
		return httpx.Chain(h,
			httpx.AllowIPs(r.AllowList),
			httpx.RateLimitByToken(httpx.SessionLimit),
			TokenGuard(r.TokenService, false),
		)
	}

	r.Mux.Handle("GET /wopi/files/{fileId}", guarded(files.HandleCheckFileInfo))
	r.Mux.Handle("GET /wopi/files/{fileId}/contents", guarded(files.HandleGetFile))
	r.Mux.Handle("POST /wopi/files/{fileId}/contents", guarded(files.HandlePutFile))
	r.Mux.Handle("POST /wopi/files/{fileId}", guarded(files.HandlePostFile))

	template := &TemplateHandler{Documents: r.DocumentService}
	r.Mux.Handle("GET /wopi/template/{fileId}",
		httpx.Chain(template,
			httpx.AllowIPs(r.AllowList),
			httpx.RateLimitByToken(httpx.SessionLimit),
			TokenGuard(r.TokenService, true),
		),
	)

	// Federated arrivals carry no session token yet; strict limit by IP.
	remote := &RemoteHandler{
		Tokens:     r.TokenService,
		Federation: r.FederationService,
		Shares:     r.Shares,
		EditorURL:  r.editorURL,
		ServerURL:  r.serverURL,
	}
	r.Mux.Handle("GET /wopi/remote",
		httpx.Chain(remote,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerDirect() {
	// Direct-open links are single use; strict limit keeps link scanning dull.
	direct := &DirectHandler{
		Tokens:     r.TokenService,
		Documents:  r.DocumentService,
		Federation: r.FederationService,
		Discovery:  r.DiscoveryService,
		EditorURL:  r.editorURL,
		ServerURL:  r.serverURL,
	}
	r.Mux.Handle("GET /direct/{token}",
		httpx.Chain(direct,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerFederation() {
	h := &FederationHandler{Federation: r.FederationService}

	r.Mux.Handle("GET /api/v1/federation",
		httpx.Chain(http.HandlerFunc(h.HandleCapabilities),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
	r.Mux.Handle("POST /api/v1/federation",
		httpx.Chain(http.HandlerFunc(h.HandleExchange),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerSystem() {
	discovery := &DiscoveryHandler{Discovery: r.DiscoveryService}
	r.Mux.Handle("GET /hosting/discovery",
		httpx.Chain(discovery,
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)

	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
}
