package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Session.TTL != 30*time.Minute {
		t.Errorf("expected 30m session TTL, got %v", cfg.Session.TTL)
	}
	if cfg.Shell.Timeout != 30*time.Second {
		t.Errorf("expected 30s command timeout, got %v", cfg.Shell.Timeout)
	}
	if len(cfg.Shell.ExtraRoots) != 1 || cfg.Shell.ExtraRoots[0] != "/tmp" {
		t.Errorf("expected /tmp extra root, got %v", cfg.Shell.ExtraRoots)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SESSION_BACKEND", "bolt")
	t.Setenv("COMMAND_TIMEOUT", "5s")
	t.Setenv("PROTECTED_PATHS", "public_html, mail/** ,")
	t.Setenv("DROP_PRIVILEGES", "off")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Session.Backend != "bolt" || cfg.Shell.Timeout != 5*time.Second || cfg.Shell.DropPrivileges {
		t.Errorf("unexpected config %+v", cfg)
	}
	if len(cfg.Files.ProtectedPaths) != 2 || cfg.Files.ProtectedPaths[1] != "mail/**" {
		t.Errorf("unexpected protected paths %v", cfg.Files.ProtectedPaths)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := map[string]string{
		"SESSION_BACKEND":      "redis",
		"EXECUTOR":             "ssh",
		"HOME_BASE":            "home",
		"SHELL_EXTRA_ROOTS":    "tmp",
		"CORS_ALLOWED_ORIGINS": "panel.example.com",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected %s=%s to be rejected", key, value)
			}
		})
	}
}

func TestCORSOrigins(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		expected []string
	}{
		{"default allows any origin", nil, []string{"*"}},
		{"frontend url", map[string]string{"FRONTEND_URL": "https://panel.example.com"}, []string{"https://panel.example.com"}},
		{"explicit list wins", map[string]string{
			"FRONTEND_URL":         "https://panel.example.com",
			"CORS_ALLOWED_ORIGINS": "https://a.example.com, https://b.example.com",
		}, []string{"https://a.example.com", "https://b.example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if strings.Join(cfg.CORS.AllowedOrigins, ",") != strings.Join(tt.expected, ",") {
				t.Errorf("expected origins %v, got %v", tt.expected, cfg.CORS.AllowedOrigins)
			}
			if cfg.CORS.MaxAge != 10*time.Minute {
				t.Errorf("expected 10m max age, got %v", cfg.CORS.MaxAge)
			}
		})
	}
}
