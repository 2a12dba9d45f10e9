package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults holds the fixed container security/resource profile applied
// to every sandbox container.
type Defaults struct {
	MemLimitMB        int    `yaml:"mem_limit_mb"`
	CPUQuotaPercent    int    `yaml:"cpu_quota_percent"` // percent of one CPU
	PidsLimit         int    `yaml:"pids_limit"`
	NofileSoft        int    `yaml:"nofile_soft"`
	NofileHard        int    `yaml:"nofile_hard"`
	TmpSizeMB         int    `yaml:"tmp_size_mb"`
	WorkspaceSizeMB   int    `yaml:"workspace_size_mb"`
	ReadonlyRootfs    bool   `yaml:"readonly_rootfs"`
}

// WorkspaceConfig controls persistence and size limits for the
// Workspace Gateway.
type WorkspaceConfig struct {
	PersistVolumes    bool  `yaml:"persist_volumes"`
	MaxFileSizeBytes  int64 `yaml:"max_file_size_bytes"` // 0 disables the limit
}

// RateLimitConfig controls the token-bucket / KV-counter rate limiter.
type RateLimitConfig struct {
	Requests      int `yaml:"requests"`
	WindowSeconds int `yaml:"window_seconds"`
}

// Config is the fully resolved configuration: defaults, overlaid by an
// optional YAML file, overlaid by environment variables.
type Config struct {
	Listen        string   `yaml:"listen"`
	RedisURL      string   `yaml:"redis_url"`
	JWTSecret     string   `yaml:"jwt_secret"`
	APIKeyHeader  string   `yaml:"api_key_header"`
	APIKeys       []string `yaml:"api_keys"`
	LogFormat     string   `yaml:"log_format"` // "json" or "text"

	DefaultImage  string   `yaml:"default_image"`
	AllowedImages []string `yaml:"allowed_images"`

	SessionTTLSeconds int `yaml:"session_ttl_seconds"`

	DefaultExecTimeoutSeconds int `yaml:"default_exec_timeout_seconds"`
	MaxExecTimeoutSeconds     int `yaml:"max_exec_timeout_seconds"`

	AllowedCommands []string `yaml:"allowed_commands"`

	CleanupIntervalSeconds        int `yaml:"cleanup_interval_seconds"`
	CleanupMaxContainerAgeSeconds int `yaml:"cleanup_max_container_age_seconds"`

	Defaults  Defaults        `yaml:"defaults"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// Load resolves configuration from built-in defaults, an optional YAML
// file at yamlPath, and environment variable overrides, in that order of
// increasing precedence.
func Load(yamlPath string) (*Config, error) {
	cfg := &Config{
		Listen:       "0.0.0.0:8080",
		LogFormat:    "json",
		APIKeyHeader: "X-API-Key",

		// The design deliberately does not bake in a default image; the
		// orchestrator reads CONTAINER_IMAGE verbatim. An empty value
		// here means "must be set".
		DefaultImage: "",

		SessionTTLSeconds: 600,

		DefaultExecTimeoutSeconds: 30,
		MaxExecTimeoutSeconds:     120,

		AllowedCommands: strings.Split(
			"ls,cat,echo,pwd,id,whoami,sh,bash,"+
				"python,python3,pip,pip3,"+
				"git,curl,wget,"+
				"mkdir,cp,mv,rm,grep,find,head,tail,sort,uniq,xargs,env,basename,dirname,"+
				"test,diff,patch,tar", ","),

		CleanupIntervalSeconds:        60,
		CleanupMaxContainerAgeSeconds: 900,

		Defaults: Defaults{
			MemLimitMB:      256,
			CPUQuotaPercent: 50,
			PidsLimit:       128,
			NofileSoft:      1024,
			NofileHard:      2048,
			TmpSizeMB:       100,
			WorkspaceSizeMB: 64,
			ReadonlyRootfs:  true,
		},
		Workspace: WorkspaceConfig{
			PersistVolumes:   false,
			MaxFileSizeBytes: 1 << 20,
		},
		RateLimit: RateLimitConfig{
			Requests:      100,
			WindowSeconds: 60,
		},
	}

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WARDEN_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("WARDEN_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("WARDEN_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("WARDEN_API_KEYS"); v != "" {
		cfg.APIKeys = splitNonEmpty(v, ",")
	}
	if v := os.Getenv("WARDEN_API_KEY_HEADER"); v != "" {
		cfg.APIKeyHeader = v
	}
	if v := os.Getenv("WARDEN_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("CONTAINER_IMAGE"); v != "" {
		cfg.DefaultImage = v
	}
	if v := os.Getenv("WARDEN_ALLOWED_IMAGES"); v != "" {
		cfg.AllowedImages = splitNonEmpty(v, ",")
	}
	if v := os.Getenv("SESSION_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SessionTTLSeconds = n
		}
	}
	if v := os.Getenv("DEFAULT_EXEC_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DefaultExecTimeoutSeconds = n
		}
	}
	if v := os.Getenv("MAX_EXEC_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxExecTimeoutSeconds = n
		}
	}
	if v := os.Getenv("ALLOWED_COMMANDS"); v != "" {
		cfg.AllowedCommands = splitNonEmpty(v, ",")
	}
	if v := os.Getenv("CLEANUP_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CleanupIntervalSeconds = n
		}
	}
	if v := os.Getenv("CLEANUP_MAX_CONTAINER_AGE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CleanupMaxContainerAgeSeconds = n
		}
	}
	if v := os.Getenv("CONTAINER_MEM_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Defaults.MemLimitMB = n
		}
	}
	if v := os.Getenv("CONTAINER_CPU_QUOTA"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Defaults.CPUQuotaPercent = n
		}
	}
	if v := os.Getenv("WARDEN_PIDS_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Defaults.PidsLimit = n
		}
	}
	if v := os.Getenv("WARDEN_READONLY_ROOTFS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Defaults.ReadonlyRootfs = b
		}
	}
	if v := os.Getenv("WORKSPACE_PERSIST_VOLUMES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Workspace.PersistVolumes = b
		}
	}
	if v := os.Getenv("WORKSPACE_MAX_FILE_SIZE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Workspace.MaxFileSizeBytes = n
		}
	}
	if v := os.Getenv("WARDEN_RATE_LIMIT_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.Requests = n
		}
	}
	if v := os.Getenv("WARDEN_RATE_LIMIT_WINDOW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.WindowSeconds = n
		}
	}
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// SessionTTL returns the configured session TTL as a time.Duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

// DefaultExecTimeout returns the configured default exec timeout.
func (c *Config) DefaultExecTimeout() time.Duration {
	return time.Duration(c.DefaultExecTimeoutSeconds) * time.Second
}

// MaxExecTimeout returns the configured max exec timeout.
func (c *Config) MaxExecTimeout() time.Duration {
	return time.Duration(c.MaxExecTimeoutSeconds) * time.Second
}

// CleanupInterval returns the configured reaper cycle interval.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalSeconds) * time.Second
}

// CleanupMaxContainerAge returns the configured reaper max container age.
func (c *Config) CleanupMaxContainerAge() time.Duration {
	return time.Duration(c.CleanupMaxContainerAgeSeconds) * time.Second
}

// MemLimitBytes returns the configured per-container memory limit in
// bytes.
func (c *Config) MemLimitBytes() int64 {
	return int64(c.Defaults.MemLimitMB) * 1024 * 1024
}

// CPUQuotaNanos returns the configured per-container CPU quota in
// NanoCPUs (fraction of one CPU * 1e9), as consumed by the Docker Engine
// API.
func (c *Config) CPUQuotaNanos() int64 {
	return int64(c.Defaults.CPUQuotaPercent) * 1e9 / 100
}

// TmpSizeBytes returns the configured /tmp tmpfs size cap in bytes.
func (c *Config) TmpSizeBytes() int64 {
	return int64(c.Defaults.TmpSizeMB) * 1024 * 1024
}

// WorkspaceSizeBytes returns the configured /workspace tmpfs size cap in
// bytes, used when persistent volumes are disabled.
func (c *Config) WorkspaceSizeBytes() int64 {
	return int64(c.Defaults.WorkspaceSizeMB) * 1024 * 1024
}
