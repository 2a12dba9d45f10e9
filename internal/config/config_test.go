package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Listen)
	assert.Equal(t, "", cfg.DefaultImage)
	assert.Equal(t, 600, cfg.SessionTTLSeconds)
	assert.Equal(t, 30, cfg.DefaultExecTimeoutSeconds)
	assert.Equal(t, 120, cfg.MaxExecTimeoutSeconds)
	assert.Equal(t, 256, cfg.Defaults.MemLimitMB)
	assert.Equal(t, 50, cfg.Defaults.CPUQuotaPercent)
	assert.Equal(t, 128, cfg.Defaults.PidsLimit)
	assert.True(t, cfg.Defaults.ReadonlyRootfs)
	assert.False(t, cfg.Workspace.PersistVolumes)
	assert.Contains(t, cfg.AllowedCommands, "ls")
}

func TestLoadYAML(t *testing.T) {
	yamlContent := `
listen: "0.0.0.0:9090"
default_image: "python:3.12-slim"
session_ttl_seconds: 3600
defaults:
  mem_limit_mb: 1024
workspace:
  persist_volumes: true
`
	tmpDir := t.TempDir()
	yamlPath := filepath.Join(tmpDir, "test.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlContent), 0644))

	cfg, err := Load(yamlPath)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Listen)
	assert.Equal(t, "python:3.12-slim", cfg.DefaultImage)
	assert.Equal(t, 3600, cfg.SessionTTLSeconds)
	assert.Equal(t, 1024, cfg.Defaults.MemLimitMB)
	assert.True(t, cfg.Workspace.PersistVolumes)
}

func TestLoadYAMLMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.Listen)
}

func TestLoadYAMLInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	yamlPath := filepath.Join(tmpDir, "bad.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("{{{{invalid yaml"), 0644))

	_, err := Load(yamlPath)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WARDEN_LISTEN", "0.0.0.0:7777")
	t.Setenv("CONTAINER_IMAGE", "alpine:latest")
	t.Setenv("WARDEN_ALLOWED_IMAGES", "img1,img2,img3")
	t.Setenv("SESSION_TTL_SECONDS", "120")
	t.Setenv("CONTAINER_MEM_LIMIT", "512")
	t.Setenv("CONTAINER_CPU_QUOTA", "75")
	t.Setenv("ALLOWED_COMMANDS", "ls,cat")
	t.Setenv("WORKSPACE_PERSIST_VOLUMES", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:7777", cfg.Listen)
	assert.Equal(t, "alpine:latest", cfg.DefaultImage)
	assert.Equal(t, []string{"img1", "img2", "img3"}, cfg.AllowedImages)
	assert.Equal(t, 120, cfg.SessionTTLSeconds)
	assert.Equal(t, 512, cfg.Defaults.MemLimitMB)
	assert.Equal(t, 75, cfg.Defaults.CPUQuotaPercent)
	assert.Equal(t, []string{"ls", "cat"}, cfg.AllowedCommands)
	assert.True(t, cfg.Workspace.PersistVolumes)
}

func TestEnvOverridesYAML(t *testing.T) {
	yamlContent := `
listen: "127.0.0.1:8080"
default_image: "yaml-image:latest"
`
	tmpDir := t.TempDir()
	yamlPath := filepath.Join(tmpDir, "test.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlContent), 0644))

	t.Setenv("CONTAINER_IMAGE", "env-image:latest")

	cfg, err := Load(yamlPath)
	require.NoError(t, err)

	assert.Equal(t, "env-image:latest", cfg.DefaultImage)
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
}

func TestEnvOverrideInvalidValues(t *testing.T) {
	t.Setenv("SESSION_TTL_SECONDS", "not-a-number")
	t.Setenv("CONTAINER_CPU_QUOTA", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 600, cfg.SessionTTLSeconds)
	assert.Equal(t, 50, cfg.Defaults.CPUQuotaPercent)
}

func TestDurationHelpers(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, int64(256*1024*1024), cfg.MemLimitBytes())
	assert.Equal(t, int64(50*1e9/100), cfg.CPUQuotaNanos())
}
