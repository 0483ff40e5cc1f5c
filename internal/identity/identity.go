// Package identity resolves the tenant behind a request.
//
// Authentication happens upstream: the auth proxy in front of the panel
// verifies the caller and forwards the tenant id in a trusted header. This
// package only loads the matching tenant record and exposes it through the
// request context.
package identity

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/ashureev/shsh-panel/internal/domain"
	"github.com/ashureev/shsh-panel/internal/store"
)

const (
	TenantHeaderName = "X-Tenant-ID"
)

type contextKey int

const (
	tenantKey contextKey = iota
)

var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// TenantFromContext extracts the resolved tenant from the request context.
func TenantFromContext(ctx context.Context) *domain.Tenant {
	if v, ok := ctx.Value(tenantKey).(*domain.Tenant); ok {
		return v
	}
	return nil
}

// TenantIDFromContext extracts the tenant ID from the request context.
func TenantIDFromContext(ctx context.Context) string {
	if t := TenantFromContext(ctx); t != nil {
		return t.TenantID
	}
	return ""
}

// WithTenant returns a context carrying tenant.
func WithTenant(ctx context.Context, tenant *domain.Tenant) context.Context {
	return context.WithValue(ctx, tenantKey, tenant)
}

func tenantIDFromRequest(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(TenantHeaderName))
	if !tenantIDPattern.MatchString(id) {
		return ""
	}
	return id
}

// Middleware loads the tenant named by the trusted header. Requests without
// a known tenant are rejected with 401.
func Middleware(repo store.Repository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := tenantIDFromRequest(r)
			if tenantID == "" {
				writeError(w, http.StatusUnauthorized, domain.KindUnauthorized, "missing tenant identity")
				return
			}

			tenant, err := repo.GetTenant(r.Context(), tenantID)
			if err != nil {
				slog.Error("Failed to load tenant", "error", err, "tenant_id", tenantID)
				writeError(w, http.StatusInternalServerError, domain.KindExecution, "failed to load tenant")
				return
			}
			if tenant == nil {
				slog.Warn("Unknown tenant", "tenant_id", tenantID, "ip", IPFromRequest(r))
				writeError(w, http.StatusUnauthorized, domain.KindUnauthorized, "unknown tenant")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tenant)))
		})
	}
}

// writeError writes the panel's error envelope. The api package owns the
// full envelope; this copy avoids an import cycle.
func writeError(w http.ResponseWriter, status int, kind domain.ErrorKind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   map[string]string{"kind": string(kind), "message": message},
	})
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
