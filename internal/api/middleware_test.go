package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/wardenhq/warden/internal/auth"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_Authenticated(t *testing.T) {
	authn := &mockAuthenticator{}
	s := testServer(testServerOpts{authn: authn})

	authn.On("Authenticate", mock.Anything).Return("alice", nil)

	req := httptest.NewRequest(http.MethodPost, "/execute", nil)
	rec := httptest.NewRecorder()

	s.authMiddleware(okHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware_Unauthenticated(t *testing.T) {
	authn := &mockAuthenticator{}
	s := testServer(testServerOpts{authn: authn})

	authn.On("Authenticate", mock.Anything).Return("", errors.New(auth.ErrUnauthenticated.Error()))

	req := httptest.NewRequest(http.MethodPost, "/execute", nil)
	rec := httptest.NewRecorder()

	s.authMiddleware(okHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddleware_ExemptPaths(t *testing.T) {
	authn := &mockAuthenticator{}
	s := testServer(testServerOpts{authn: authn})

	for _, path := range []string{"/health", "/ready", "/mcp", "/mcp/"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()

		s.authMiddleware(okHandler()).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code, "path %s should be exempt from auth", path)
	}
	authn.AssertNotCalled(t, "Authenticate", mock.Anything)
}

func TestRateLimitMiddleware_Allowed(t *testing.T) {
	rl := &mockRateLimiter{}
	s := testServer(testServerOpts{rateLimiter: rl})

	rl.On("Allow", mock.Anything, "alice").Return(true, nil)

	req := reqWithUser(http.MethodPost, "/execute", "", "alice")
	rec := httptest.NewRecorder()

	s.rateLimitMiddleware(okHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddleware_Rejected(t *testing.T) {
	rl := &mockRateLimiter{}
	s := testServer(testServerOpts{rateLimiter: rl})

	rl.On("Allow", mock.Anything, "alice").Return(false, nil)

	req := reqWithUser(http.MethodPost, "/execute", "", "alice")
	rec := httptest.NewRecorder()

	s.rateLimitMiddleware(okHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRequestIDMiddleware_GeneratesID(t *testing.T) {
	s := testServer(testServerOpts{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.requestIDMiddleware(okHandler()).ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDMiddleware_PreservesExisting(t *testing.T) {
	s := testServer(testServerOpts{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	rec := httptest.NewRecorder()

	s.requestIDMiddleware(okHandler()).ServeHTTP(rec, req)

	assert.Equal(t, "fixed-id", rec.Header().Get("X-Request-ID"))
}
