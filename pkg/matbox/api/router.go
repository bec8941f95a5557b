package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth"
	"github.com/go-chi/render"
	"github.com/tendant/matbox/pkg/matbox"
)

// RouterConfig configures the HTTP surface of a matbox server
type RouterConfig struct {
	Logger         *slog.Logger
	JWTSecret      string          // HS256 secret; empty selects the X-Owner-ID header
	Observer       RequestObserver // optional
	Metrics        http.Handler    // served on /metrics when set
	MaxUploadBytes int64
	RequestTimeout time.Duration

	// Ready backs /health/ready; nil reports ready unconditionally
	Ready func(ctx context.Context) error
}

// NewRouter mounts the materials API under /api/v1/materials together with
// /health, /health/ready and, when configured, /metrics.
func NewRouter(service matbox.Service, cfg RouterConfig) chi.Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Observer != nil {
		r.Use(MetricsMiddleware(cfg.Observer))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready != nil {
			if err := cfg.Ready(r.Context()); err != nil {
				cfg.Logger.WarnContext(r.Context(), "Readiness check failed", "error", err)
				render.Status(r, http.StatusServiceUnavailable)
				render.JSON(w, r, map[string]string{"status": "unavailable"})
				return
			}
		}
		render.JSON(w, r, map[string]string{"status": "ready"})
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	handler := NewMaterialsHandler(service,
		WithLogger(cfg.Logger),
		WithMaxUploadBytes(cfg.MaxUploadBytes),
	)

	r.Route("/api/v1/materials", func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
		if cfg.JWTSecret != "" {
			r.Use(OwnerFromJWT(jwtauth.New("HS256", []byte(cfg.JWTSecret), nil)))
		} else {
			r.Use(OwnerFromHeader)
		}
		handler.RegisterRoutes(r)
	})

	return r
}
