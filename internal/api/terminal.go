package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

type executeRequest struct {
	Command string `json:"command"`
}

type cdRequest struct {
	Path string `json:"path"`
}

type completeRequest struct {
	Partial string `json:"partial"`
}

// CreateSession opens a terminal session in the tenant's home directory.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	info, err := h.terminal.CreateSession(r.Context(), tenant)
	if err != nil {
		Error(w, err)
		return
	}
	Success(w, info)
}

// Execute runs one command line in the session.
func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	var req executeRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, err)
		return
	}
	result, err := h.terminal.Execute(r.Context(), tenant, chi.URLParam(r, "id"), req.Command)
	if err != nil {
		Error(w, err)
		return
	}
	Success(w, result)
}

// ChangeDirectory moves the session's working directory.
func (h *Handler) ChangeDirectory(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	var req cdRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, err)
		return
	}
	cwd, err := h.terminal.ChangeDirectory(r.Context(), tenant, chi.URLParam(r, "id"), req.Path)
	if err != nil {
		Error(w, err)
		return
	}
	Success(w, map[string]string{"cwd": cwd})
}

// History returns the session's command history.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	history, err := h.terminal.History(r.Context(), tenant, chi.URLParam(r, "id"))
	if err != nil {
		Error(w, err)
		return
	}
	Success(w, map[string]interface{}{"history": history})
}

// CloseSession destroys the session.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	if err := h.terminal.CloseSession(r.Context(), tenant, chi.URLParam(r, "id")); err != nil {
		Error(w, err)
		return
	}
	Success(w, map[string]string{"status": "closed"})
}

// Complete returns completion candidates for a partial word.
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	var req completeRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, err)
		return
	}
	completions, err := h.terminal.Complete(r.Context(), tenant, chi.URLParam(r, "id"), req.Partial)
	if err != nil {
		Error(w, err)
		return
	}
	Success(w, map[string]interface{}{"completions": completions})
}

// Audit returns the tenant's recent command audit.
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			Error(w, badRequest("invalid limit %q", raw))
			return
		}
		limit = n
	}
	entries, err := h.terminal.Audit(r.Context(), tenant, limit)
	if err != nil {
		Error(w, err)
		return
	}
	Success(w, map[string]interface{}{"commands": entries})
}
