// Package testutil collects fixtures shared by the core packages' tests:
// a sensible default Config and a disposable in-memory Redis server for
// anything that talks to the KV Directory or the rate limiter.
package testutil

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wardenhq/warden/internal/config"
)

// TestConfig returns a Config with sensible test defaults: a small
// resource profile, a short session TTL, and an open command whitelist
// covering the binaries the test suites actually exec.
func TestConfig() *config.Config {
	return &config.Config{
		Listen:            "127.0.0.1:0",
		APIKeyHeader:      "X-API-Key",
		APIKeys:           []string{"test-api-key"},
		DefaultImage:      "alpine:3.19",
		AllowedImages:     []string{"alpine:3.19", "python:3.12-slim"},
		SessionTTLSeconds: 300,

		DefaultExecTimeoutSeconds: 30,
		MaxExecTimeoutSeconds:     120,

		AllowedCommands: []string{"echo", "ls", "cat", "pwd", "sh"},

		CleanupIntervalSeconds:        60,
		CleanupMaxContainerAgeSeconds: 900,

		Defaults: config.Defaults{
			MemLimitMB:      256,
			CPUQuotaPercent: 50,
			PidsLimit:       128,
			NofileSoft:      1024,
			NofileHard:      2048,
			TmpSizeMB:       100,
			WorkspaceSizeMB: 64,
			ReadonlyRootfs:  true,
		},
		Workspace: config.WorkspaceConfig{
			PersistVolumes:   false,
			MaxFileSizeBytes: 1 << 20,
		},
		RateLimit: config.RateLimitConfig{
			Requests:      100,
			WindowSeconds: 60,
		},
	}
}

// NewTestRedis spins up a miniredis instance and returns a client
// pointed at it, closing both when the test ends.
func NewTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

// SessionTTL is the TTL TestConfig's SessionTTLSeconds resolves to, kept
// here so callers don't need to import config just to compute it.
const SessionTTL = 300 * time.Second
