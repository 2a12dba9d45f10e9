package api

import (
	"log/slog"
	"net/http"
	"time"
)

// Server wires the HTTP surface to the Session Registry, Executor, and
// Workspace Gateway. It performs request parsing, auth, rate limiting, and
// error-kind-to-status mapping; all domain logic lives in the core
// packages it delegates to.
type Server struct {
	registry    Registry
	executor    Executor
	gateway     Gateway
	authn       Authenticator
	rateLimiter RateLimiter
	mcp         http.Handler

	defaultImage       string
	defaultExecTimeout time.Duration
	maxExecTimeout     time.Duration

	logger *slog.Logger
	mux    *http.ServeMux
}

// Options configures a Server.
type Options struct {
	Registry           Registry
	Executor           Executor
	Gateway            Gateway
	Authenticator      Authenticator
	RateLimiter        RateLimiter
	MCP                http.Handler
	DefaultImage       string
	DefaultExecTimeout time.Duration
	MaxExecTimeout     time.Duration
}

// NewServer builds a Server and registers its routes.
func NewServer(opts Options, logger *slog.Logger) *Server {
	s := &Server{
		registry:           opts.Registry,
		executor:           opts.Executor,
		gateway:            opts.Gateway,
		authn:              opts.Authenticator,
		rateLimiter:        opts.RateLimiter,
		mcp:                opts.MCP,
		defaultImage:       opts.DefaultImage,
		defaultExecTimeout: opts.DefaultExecTimeout,
		maxExecTimeout:     opts.MaxExecTimeout,
		logger:             logger,
		mux:                http.NewServeMux(),
	}
	s.routes()
	return s
}

// Handler returns the fully wrapped http.Handler for the HTTP server to
// serve: request ID, then auth, then rate limit, then routing.
func (s *Server) Handler() http.Handler {
	return s.requestIDMiddleware(s.authMiddleware(s.rateLimitMiddleware(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /execute", s.handleExecute)

	s.mux.HandleFunc("POST /sessions", s.handleCreateSession)
	s.mux.HandleFunc("DELETE /sessions/{sid}", s.handleDestroySession)

	s.mux.HandleFunc("GET /sessions/{sid}/workspace", s.handleWorkspaceList)
	s.mux.HandleFunc("GET /sessions/{sid}/workspace/content", s.handleWorkspaceRead)
	s.mux.HandleFunc("PUT /sessions/{sid}/workspace/content", s.handleWorkspaceWrite)
	s.mux.HandleFunc("POST /sessions/{sid}/workspace/upload", s.handleWorkspaceUpload)
	s.mux.HandleFunc("DELETE /sessions/{sid}/workspace", s.handleWorkspaceDelete)

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /ready", s.handleReady)

	if s.mcp != nil {
		// The source materials disagree on whether /mcp requires a
		// trailing slash; both are mounted.
		s.mux.Handle("/mcp", s.mcp)
		s.mux.Handle("/mcp/", s.mcp)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
