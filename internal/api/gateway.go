package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Prefix is the path under which the gateway's own endpoints live so they
// never shadow upstream routes.
const Prefix = "/_gateway"

// GatewayConfig wires the handlers that make up the public HTTP surface.
type GatewayConfig struct {
	Sync http.Handler
	// Catalog and Events are optional.
	Catalog     *Handler
	Events      http.Handler
	AuthEnabled bool
	Token       string
	// StaticDir is served for GET and HEAD before falling back. Empty disables it.
	StaticDir string
	// Upstream receives every request nothing else handled. Nil means 404.
	Upstream http.Handler
	// Ready reports readiness. Nil means always ready.
	Ready func() error
}

// NewGateway builds the top-level router: POST /sync, the gateway endpoints
// under Prefix, then static files, then the upstream, then 404.
func NewGateway(cfg GatewayConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet, http.MethodHead, http.MethodPut,
			http.MethodPatch, http.MethodPost, http.MethodDelete,
		},
		AllowedHeaders: []string{"*"},
	}))

	var last http.Handler = http.HandlerFunc(NotFound)
	if cfg.Upstream != nil {
		last = cfg.Upstream
	}
	fallback := NewStaticHandler(cfg.StaticDir, last)
	r.NotFound(fallback.ServeHTTP)
	r.MethodNotAllowed(fallback.ServeHTTP)

	r.Post("/sync", cfg.Sync.ServeHTTP)

	// Health check endpoints (unauthenticated).
	r.Get(Prefix+"/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get(Prefix+"/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		if cfg.Ready != nil {
			if err := cfg.Ready(); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
					"error":  err.Error(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if cfg.Catalog != nil {
		r.Mount(Prefix+"/api", NewRouter(cfg.Catalog, cfg.AuthEnabled, cfg.Token, cfg.Events))
	}

	return r
}
