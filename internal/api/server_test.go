package api

import (
	"log/slog"
	"os"
	"time"
)

type testServerOpts struct {
	registry    Registry
	executor    Executor
	gateway     Gateway
	authn       Authenticator
	rateLimiter RateLimiter
}

func testServer(opts testServerOpts) *Server {
	return &Server{
		registry:           opts.registry,
		executor:           opts.executor,
		gateway:            opts.gateway,
		authn:              opts.authn,
		rateLimiter:        opts.rateLimiter,
		defaultImage:       "",
		defaultExecTimeout: 30 * time.Second,
		maxExecTimeout:     120 * time.Second,
		logger:             slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
	}
}
