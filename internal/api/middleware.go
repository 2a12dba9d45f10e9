package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	userIDKey    contextKey = "user_id"
)

// authMiddleware resolves the caller's identity and rejects the request
// with 401 if neither an API key nor a JWT produced one. /health, /ready,
// and /mcp (authenticated per-call by the MCP context func) are exempt.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/health" || path == "/ready" || strings.HasPrefix(path, "/mcp") {
			next.ServeHTTP(w, r)
			return
		}

		user, err := s.authn.Authenticate(r)
		if err != nil {
			writeUnauthorizedError(w, "missing or invalid authentication (API key or Bearer token)")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// rateLimitMiddleware enforces the per-user request budget once the caller
// is known; it runs after authMiddleware.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userFromContext(r.Context())
		if !ok || s.rateLimiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		allowed, err := s.rateLimiter.Allow(r.Context(), user)
		if err != nil {
			s.logger.Error("rate limit check", "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			writeRateLimitedError(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()[:8]
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(userIDKey).(string)
	return user, ok && user != ""
}
