// Package api provides HTTP handlers for the panel API.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/shsh-panel/internal/domain"
	"github.com/ashureev/shsh-panel/internal/filemanager"
	"github.com/ashureev/shsh-panel/internal/store"
	"github.com/ashureev/shsh-panel/internal/terminal"
)

// maxBodyBytes caps JSON request bodies. File content travels in write
// requests, so it allows the largest readable file plus envelope overhead.
const maxBodyBytes = 12 * 1024 * 1024

// Handler provides common handler utilities.
type Handler struct {
	repo     store.Repository
	terminal *terminal.Service
	files    *filemanager.Service
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, term *terminal.Service, files *filemanager.Service) *Handler {
	return &Handler{
		repo:     repo,
		terminal: term,
		files:    files,
	}
}

// envelope is the uniform response body.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *errorBody  `json:"error,omitempty"`
}

type errorBody struct {
	Kind    domain.ErrorKind       `json:"kind"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// Success writes a success envelope carrying data.
func Success(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

// Error writes an error envelope with the status matching err's kind.
func Error(w http.ResponseWriter, err error) {
	body := &errorBody{Kind: domain.KindExecution, Message: err.Error()}
	var derr *domain.Error
	if errors.As(err, &derr) {
		body = &errorBody{Kind: derr.Kind, Message: derr.Error(), Details: derr.Details}
	}
	status := StatusFor(body.Kind)
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
	}
	JSON(w, status, envelope{Success: false, Error: body})
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindBadRequest:
		return http.StatusBadRequest
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindAccessDenied:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindValidation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into v. Malformed bodies are bad requests.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return domain.Validation("request body too large")
		case errors.Is(err, io.EOF):
			return domain.NewError(domain.KindBadRequest, "request body is required")
		default:
			return domain.NewError(domain.KindBadRequest, "invalid JSON body")
		}
	}
	return nil
}
