package api

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/intent-sensor/internal/client"
	"github.com/ashureev/intent-sensor/internal/middleware"
	"github.com/ashureev/intent-sensor/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	APIKey         string
	AllowedOrigins []string
	// DevRoutes enables POST /dev/intent/{sessionID}.
	DevRoutes bool
	// Site, when set, serves everything outside the API.
	Site http.Handler
}

// NewRouter assembles the stub backend: health, the key-protected intent
// API and optionally the dev routes and a static site.
func NewRouter(repo store.Repository, cfg RouterConfig, logger *slog.Logger) http.Handler {
	h := NewHandler(repo, logger)
	health := NewHealthHandler(repo)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(origins))

	health.RegisterHealth(r)

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKey(client.APIKeyHeader, cfg.APIKey))
		h.RegisterTrackingRoutes(r)
		h.RegisterChatRoutes(r)
		if cfg.DevRoutes {
			h.RegisterDevRoutes(r)
		}
	})

	if cfg.Site != nil {
		r.Handle("/*", cfg.Site)
	}
	return r
}
