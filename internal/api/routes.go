package api

import (
	"net/http"

	"github.com/ashureev/shsh-panel/internal/domain"
	"github.com/ashureev/shsh-panel/internal/identity"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the terminal and file manager routes. The
// identity middleware must run before them. terminalMiddleware wraps the
// terminal routes only.
func (h *Handler) RegisterRoutes(r chi.Router, terminalMiddleware ...func(http.Handler) http.Handler) {
	r.Route("/api/terminal", func(r chi.Router) {
		r.Use(terminalMiddleware...)
		r.Get("/audit", h.Audit)
		r.Post("/sessions", h.CreateSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Post("/execute", h.Execute)
			r.Post("/cd", h.ChangeDirectory)
			r.Get("/history", h.History)
			r.Post("/complete", h.Complete)
			r.Delete("/", h.CloseSession)
		})
	})

	r.Route("/api/files", func(r chi.Router) {
		r.Get("/list", h.List)
		r.Get("/read", h.Read)
		r.Get("/download", h.Download)
		r.Post("/write", h.Write)
		r.Post("/upload", h.Upload)
		r.Post("/mkdir", h.Mkdir)
		r.Post("/delete", h.Delete)
		r.Post("/copy", h.Copy)
		r.Post("/move", h.Move)
		r.Post("/rename", h.Rename)
		r.Post("/chmod", h.Chmod)
		r.Post("/compress", h.Compress)
		r.Post("/extract", h.Extract)
	})
}

// tenantFrom returns the request's tenant, writing a 401 when absent.
func tenantFrom(w http.ResponseWriter, r *http.Request) (*domain.Tenant, bool) {
	tenant := identity.TenantFromContext(r.Context())
	if tenant == nil {
		Error(w, domain.NewError(domain.KindUnauthorized, "missing tenant identity"))
		return nil, false
	}
	return tenant, true
}
