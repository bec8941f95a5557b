package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth"
	"github.com/go-chi/render"
)

// OwnerHeader carries the owner id when no JWT secret is configured
const OwnerHeader = "X-Owner-ID"

type contextKey string

const ownerIDKey contextKey = "owner_id"

// WithOwner returns a context carrying ownerID
func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerIDKey, ownerID)
}

// OwnerFromContext returns the owner resolved for the request, or ""
func OwnerFromContext(ctx context.Context) string {
	ownerID, _ := ctx.Value(ownerIDKey).(string)
	return ownerID
}

// OwnerFromHeader resolves the owner from the X-Owner-ID header set by a
// trusted upstream identity provider.
func OwnerFromHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID := strings.TrimSpace(r.Header.Get(OwnerHeader))
		if ownerID == "" {
			unauthorized(w, r, "owner identity is required")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), ownerID)))
	})
}

// OwnerFromJWT verifies the bearer token and resolves the owner from its
// "sub" claim.
func OwnerFromJWT(tokenAuth *jwtauth.JWTAuth) func(http.Handler) http.Handler {
	verify := jwtauth.Verifier(tokenAuth)
	return func(next http.Handler) http.Handler {
		owner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, claims, err := jwtauth.FromContext(r.Context())
			if err != nil {
				unauthorized(w, r, "invalid token")
				return
			}
			sub, _ := claims["sub"].(string)
			if sub == "" {
				unauthorized(w, r, "token has no subject")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), sub)))
		})
		return verify(jwtauth.Authenticator(owner))
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, ErrorResponse{Error: msg})
}

// RequestObserver records request latency by route pattern
type RequestObserver interface {
	ObserveRequest(method, route string, status int, duration time.Duration)
}

// MetricsMiddleware reports every request to observer
func MetricsMiddleware(observer RequestObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			observer.ObserveRequest(r.Method, route, status, time.Since(start))
		})
	}
}
