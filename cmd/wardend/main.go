package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wardenhq/warden/internal/api"
	"github.com/wardenhq/warden/internal/auth"
	"github.com/wardenhq/warden/internal/command"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/engine"
	"github.com/wardenhq/warden/internal/executor"
	"github.com/wardenhq/warden/internal/kvdir"
	"github.com/wardenhq/warden/internal/mcpserver"
	"github.com/wardenhq/warden/internal/ratelimit"
	"github.com/wardenhq/warden/internal/reaper"
	"github.com/wardenhq/warden/internal/registry"
	"github.com/wardenhq/warden/internal/workspace"
)

func main() {
	cfgPath := flag.String("config", "", "path to warden.yaml")
	flag.Parse()

	logger := slog.New(newLogHandler(os.Stdout))

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	if cfg.JWTSecret == "" && len(cfg.APIKeys) == 0 {
		logger.Warn("no JWT secret or API keys configured — every request will be rejected as unauthenticated")
	}
	if cfg.DefaultImage == "" {
		logger.Warn("no default image configured — sessions must specify one explicitly")
	}

	rdb := redis.NewClient(parseRedisURL(cfg.RedisURL))
	defer rdb.Close()

	dc, err := engine.New()
	if err != nil {
		logger.Error("docker client", "error", err)
		os.Exit(1)
	}
	defer dc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := dc.Ping(ctx); err != nil {
		logger.Error("docker ping failed — is Docker running?", "error", err)
		os.Exit(1)
	}
	logger.Info("docker connection OK")

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("redis ping failed", "error", err)
		os.Exit(1)
	}
	logger.Info("redis connection OK")

	kv := kvdir.New(rdb)

	allowedImages := make(map[string]bool, len(cfg.AllowedImages))
	for _, img := range cfg.AllowedImages {
		allowedImages[img] = true
	}

	reg := registry.New(dc, kv, registry.Options{
		DefaultImage:   cfg.DefaultImage,
		AllowedImages:  allowedImages,
		SessionTTL:     cfg.SessionTTL(),
		MemLimitBytes:  cfg.MemLimitBytes(),
		CPUQuotaNanos:  cfg.CPUQuotaNanos(),
		PidsLimit:      int64(cfg.Defaults.PidsLimit),
		NofileSoft:     uint64(cfg.Defaults.NofileSoft),
		NofileHard:     uint64(cfg.Defaults.NofileHard),
		TmpSizeBytes:   cfg.TmpSizeBytes(),
		WorkspaceSize:  cfg.WorkspaceSizeBytes(),
		PersistVolumes: cfg.Workspace.PersistVolumes,
		ReadonlyRootfs: cfg.Defaults.ReadonlyRootfs,
	})

	whitelist := command.NewWhitelist(cfg.AllowedCommands)

	exec := executor.New(dc, reg, whitelist, cfg.DefaultImage, cfg.DefaultExecTimeout(), cfg.MaxExecTimeout())

	gateway := workspace.New(dc, reg, cfg.Workspace.MaxFileSizeBytes)

	rl := ratelimit.New(rdb, cfg.RateLimit.Requests, cfg.RateLimit.WindowSeconds)

	authn := auth.New(cfg.APIKeyHeader, cfg.APIKeys, cfg.JWTSecret)

	rpr := reaper.New(
		reaperDriver{dc},
		reaperDirectory{kv},
		reaperLocker{reg},
		cfg.CleanupInterval(),
		cfg.CleanupMaxContainerAge(),
		logger,
	)
	go rpr.Run(ctx)

	mcp := mcpserver.New(mcpserver.Deps{
		Registry:       reg,
		Executor:       exec,
		Gateway:        gateway,
		Auth:           authn,
		DefaultImage:   cfg.DefaultImage,
		MaxExecTimeout: cfg.MaxExecTimeout(),
	})

	srv := api.NewServer(api.Options{
		Registry:           reg,
		Executor:           exec,
		Gateway:            gateway,
		Authenticator:      authn,
		RateLimiter:        rl,
		MCP:                mcp,
		DefaultImage:       cfg.DefaultImage,
		DefaultExecTimeout: cfg.DefaultExecTimeout(),
		MaxExecTimeout:     cfg.MaxExecTimeout(),
	}, logger)

	httpServer := &http.Server{
		Addr:         cfg.Listen,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // exec can run long
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		<-sigCh
		logger.Info("shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", cfg.Listen)
	fmt.Fprintf(os.Stderr, "\n  warden daemon ready at http://%s\n\n", cfg.Listen)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func newLogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if os.Getenv("WARDEN_LOG_FORMAT") == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func parseRedisURL(raw string) *redis.Options {
	if raw == "" {
		return &redis.Options{Addr: "localhost:6379"}
	}
	opts, err := redis.ParseURL(raw)
	if err != nil {
		return &redis.Options{Addr: raw}
	}
	return opts
}

// reaperDriver adapts engine.Docker to the reaper package's local
// ContainerSummary type, so reaper does not need to import engine.
type reaperDriver struct {
	d *engine.Docker
}

func (r reaperDriver) ListByLabel(ctx context.Context, label string) ([]reaper.ContainerSummary, error) {
	summaries, err := r.d.ListByLabel(ctx, label)
	if err != nil {
		return nil, err
	}
	out := make([]reaper.ContainerSummary, len(summaries))
	for i, s := range summaries {
		out[i] = reaper.ContainerSummary{
			ContainerID: s.ContainerID,
			UserID:      s.UserID,
			SessionID:   s.SessionID,
			CreatedAt:   s.CreatedAt,
		}
	}
	return out, nil
}

func (r reaperDriver) Remove(ctx context.Context, containerID string, force bool) error {
	return r.d.Remove(ctx, containerID, force)
}

type reaperDirectory struct {
	kv *kvdir.Directory
}

func (r reaperDirectory) Delete(ctx context.Context, user, sid string) error {
	return r.kv.Delete(ctx, user, sid)
}

type reaperLocker struct {
	reg *registry.Registry
}

func (r reaperLocker) WithLock(user, sid string, fn func()) {
	r.reg.WithLock(user, sid, fn)
}
