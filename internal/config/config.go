// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	FrontendURL    string
	DBPath         string
	GRPCHealthAddr string
	HomeBase       string
	Session        SessionConfig
	Shell          ShellConfig
	Files          FilesConfig
	RateLimit      RateLimitConfig
	CORS           CORSConfig
}

// SessionConfig controls terminal session storage.
type SessionConfig struct {
	TTL           time.Duration
	Backend       string // "memory" or "bolt"
	BoltPath      string
	SweepInterval time.Duration
}

// ShellConfig controls command execution.
type ShellConfig struct {
	Executor              string // "local" or "docker"
	ShellPath             string
	DropPrivileges        bool
	Timeout               time.Duration
	MaxOutputBytes        int
	ExtraRoots            []string
	ExtraDenylist         []string
	ContainerNameTemplate string
}

// FilesConfig controls the file manager.
type FilesConfig struct {
	MaxReadBytes   int64
	MaxUploadBytes int64
	ProtectedPaths []string
}

// RateLimitConfig controls per-tenant terminal rate limiting.
type RateLimitConfig struct {
	PerSecond float64
	Burst     int
}

// CORSConfig controls cross-origin access to the API. Credentials are
// only granted to origins listed explicitly, never through "*".
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		DBPath:         getEnv("DB_PATH", "./data/panel.db"),
		GRPCHealthAddr: getEnv("GRPC_HEALTH_ADDR", ""),
		HomeBase:       getEnv("HOME_BASE", "/home"),
		Session: SessionConfig{
			TTL:           getEnvDuration("SESSION_TTL", 30*time.Minute),
			Backend:       getEnv("SESSION_BACKEND", "memory"),
			BoltPath:      getEnv("SESSION_DB_PATH", "./data/sessions.db"),
			SweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		},
		Shell: ShellConfig{
			Executor:              getEnv("EXECUTOR", "local"),
			ShellPath:             getEnv("SHELL_PATH", "/bin/bash"),
			DropPrivileges:        getEnvBool("DROP_PRIVILEGES", true),
			Timeout:               getEnvDuration("COMMAND_TIMEOUT", 30*time.Second),
			MaxOutputBytes:        getEnvInt("MAX_OUTPUT_BYTES", 1024*1024),
			ExtraRoots:            getEnvList("SHELL_EXTRA_ROOTS", []string{"/tmp"}),
			ExtraDenylist:         getEnvList("COMMAND_DENYLIST_EXTRA", nil),
			ContainerNameTemplate: getEnv("CONTAINER_NAME_TEMPLATE", "tenant-%s"),
		},
		Files: FilesConfig{
			MaxReadBytes:   int64(getEnvInt("MAX_READ_BYTES", 10*1024*1024)),
			MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_BYTES", 512*1024*1024)),
			ProtectedPaths: getEnvList("PROTECTED_PATHS", []string{"public_html", "mail", "logs", "ssl", ".ssh"}),
		},
		RateLimit: RateLimitConfig{
			PerSecond: getEnvFloat("TERMINAL_RATE_PER_SECOND", 5),
			Burst:     getEnvInt("TERMINAL_RATE_BURST", 20),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", nil),
			AllowedMethods: getEnvList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvList("CORS_ALLOWED_HEADERS", []string{"Content-Type", "X-Tenant-ID"}),
			MaxAge:         getEnvDuration("CORS_MAX_AGE", 10*time.Minute),
		},
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
		if cfg.FrontendURL != "" {
			cfg.CORS.AllowedOrigins = []string{cfg.FrontendURL}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if !strings.HasPrefix(c.HomeBase, "/") {
		return fmt.Errorf("HOME_BASE must be an absolute path")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	switch c.Session.Backend {
	case "memory":
	case "bolt":
		if c.Session.BoltPath == "" {
			return fmt.Errorf("SESSION_DB_PATH cannot be empty with bolt backend")
		}
	default:
		return fmt.Errorf("SESSION_BACKEND must be memory or bolt, got %q", c.Session.Backend)
	}
	switch c.Shell.Executor {
	case "local", "docker":
	default:
		return fmt.Errorf("EXECUTOR must be local or docker, got %q", c.Shell.Executor)
	}
	if c.Shell.Timeout <= 0 {
		return fmt.Errorf("COMMAND_TIMEOUT must be > 0")
	}
	if c.Shell.MaxOutputBytes <= 0 {
		return fmt.Errorf("MAX_OUTPUT_BYTES must be > 0")
	}
	for _, root := range c.Shell.ExtraRoots {
		if !strings.HasPrefix(root, "/") {
			return fmt.Errorf("SHELL_EXTRA_ROOTS entries must be absolute, got %q", root)
		}
	}
	if c.Shell.Executor == "docker" && !strings.Contains(c.Shell.ContainerNameTemplate, "%s") {
		return fmt.Errorf("CONTAINER_NAME_TEMPLATE must contain %%s")
	}
	for _, origin := range c.CORS.AllowedOrigins {
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("CORS_ALLOWED_ORIGINS entries must be * or an http(s) origin, got %q", origin)
		}
	}
	if c.CORS.MaxAge < 0 {
		return fmt.Errorf("CORS_MAX_AGE must be >= 0")
	}
	if c.Files.MaxReadBytes <= 0 || c.Files.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_READ_BYTES and MAX_UPLOAD_BYTES must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

// getEnvList reads a comma-separated list. An empty value yields an empty list.
func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
