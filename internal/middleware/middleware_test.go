package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/shsh-panel/internal/config"
)

func TestRateLimit(t *testing.T) {
	limiter := NewRateLimiter(0.001, 2)
	handler := RateLimit(limiter, func(r *http.Request) string {
		return r.Header.Get("X-Tenant-ID")
	})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(tenant string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/terminal/sessions/x/execute", nil)
		req.Header.Set("X-Tenant-ID", tenant)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	if do("t1") != http.StatusOK || do("t1") != http.StatusOK {
		t.Fatal("expected burst requests to pass")
	}
	if code := do("t1"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if code := do("t2"); code != http.StatusOK {
		t.Fatalf("expected other tenant unaffected, got %d", code)
	}
}

func TestCORS(t *testing.T) {
	cfg := config.CORSConfig{
		AllowedOrigins: []string{"https://panel.example.com"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type", "X-Tenant-ID"},
		MaxAge:         10 * time.Minute,
	}

	tests := []struct {
		name        string
		cfg         config.CORSConfig
		method      string
		origin      string
		status      int
		allowOrigin string
		credentials string
		allowHeader string
	}{
		{"preflight from listed origin", cfg, http.MethodOptions, "https://panel.example.com", http.StatusNoContent, "https://panel.example.com", "true", "Content-Type, X-Tenant-ID"},
		{"preflight from unknown origin", cfg, http.MethodOptions, "https://evil.example.com", http.StatusNoContent, "", "", ""},
		{"request from listed origin", cfg, http.MethodPost, "https://panel.example.com", http.StatusTeapot, "https://panel.example.com", "true", ""},
		{"wildcard has no credentials", config.CORSConfig{AllowedOrigins: []string{"*"}}, http.MethodGet, "https://any.example.com", http.StatusTeapot, "https://any.example.com", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := CORS(tt.cfg)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusTeapot)
			}))
			req := httptest.NewRequest(tt.method, "/api/files/list", nil)
			req.Header.Set("Origin", tt.origin)
			if tt.method == http.MethodOptions {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, rr.Code)
			}
			h := rr.Header()
			if h.Get("Access-Control-Allow-Origin") != tt.allowOrigin {
				t.Errorf("expected allow origin %q, got %q", tt.allowOrigin, h.Get("Access-Control-Allow-Origin"))
			}
			if h.Get("Access-Control-Allow-Credentials") != tt.credentials {
				t.Errorf("expected credentials %q, got %q", tt.credentials, h.Get("Access-Control-Allow-Credentials"))
			}
			if h.Get("Access-Control-Allow-Headers") != tt.allowHeader {
				t.Errorf("expected allow headers %q, got %q", tt.allowHeader, h.Get("Access-Control-Allow-Headers"))
			}
			if tt.allowHeader != "" && h.Get("Access-Control-Max-Age") != "600" {
				t.Errorf("expected max age 600, got %q", h.Get("Access-Control-Max-Age"))
			}
		})
	}
}
