package api

import (
	"errors"
	"fmt"
	"mime"
	"net/http"

	"github.com/ashureev/shsh-panel/internal/domain"
)

type pathRequest struct {
	Path string `json:"path"`
}

type writeRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type mkdirRequest struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

type transferRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

type renameRequest struct {
	Path    string `json:"path"`
	NewName string `json:"new_name"`
}

type chmodRequest struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
}

type compressRequest struct {
	Paths       []string `json:"paths"`
	Destination string   `json:"destination"`
	Format      string   `json:"format"`
}

type extractRequest struct {
	ArchivePath string `json:"archive_path"`
	Destination string `json:"destination"`
}

// multipartMemory is the part of an upload buffered in memory; the rest
// spills to a temporary file.
const multipartMemory = 32 << 20

func badRequest(format string, args ...interface{}) error {
	return domain.NewError(domain.KindBadRequest, fmt.Sprintf(format, args...))
}

// List returns a directory listing.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	listing, err := h.files.List(r.Context(), tenant, r.URL.Query().Get("path"))
	if err != nil {
		Error(w, err)
		return
	}
	Success(w, listing)
}

// Read returns a file's content.
func (h *Handler) Read(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	content, err := h.files.Read(r.Context(), tenant, r.URL.Query().Get("path"))
	if err != nil {
		Error(w, err)
		return
	}
	Success(w, content)
}

// Download streams a file as an attachment.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	dl, err := h.files.Download(r.Context(), tenant, r.URL.Query().Get("path"))
	if err != nil {
		Error(w, err)
		return
	}
	defer dl.File.Close()

	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.Name}))
	http.ServeContent(w, r, dl.Name, dl.ModTime, dl.File)
}

// Write replaces a file's content.
func (h *Handler) Write(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	var req writeRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, err)
		return
	}
	info, err := h.files.Write(r.Context(), tenant, req.Path, req.Content)
	if err != nil {
		Error(w, err)
		return
	}
	Success(w, info)
}

// Upload stores a multipart file in the directory named by the path field.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.files.MaxUploadBytes()+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, domain.Validation("upload exceeds %d bytes", h.files.MaxUploadBytes()))
			return
		}
		Error(w, badRequest("invalid multipart form"))
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		Error(w, badRequest("file field is required"))
		return
	}
	defer file.Close()

	info, err := h.files.Upload(r.Context(), tenant, r.FormValue("path"), header.Filename, header.Size, file)
	if err != nil {
		Error(w, err)
		return
	}
	Success(w, info)
}

// Mkdir creates a directory.
func (h *Handler) Mkdir(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	var req mkdirRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, err)
		return
	}
	info, err := h.files.Mkdir(r.Context(), tenant, req.Path, req.Name)
	if err != nil {
		Error(w, err)
		return
	}
	Success(w, info)
}

// Delete removes a file or directory tree.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	var req pathRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, err)
		return
	}
	if err := h.files.Delete(r.Context(), tenant, req.Path); err != nil {
		Error(w, err)
		return
	}
	Success(w, map[string]string{"path": req.Path, "status": "deleted"})
}

// Copy duplicates a file or directory.
func (h *Handler) Copy(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, err)
		return
	}
	info, err := h.files.Copy(r.Context(), tenant, req.Source, req.Destination)
	if err != nil {
		Error(w, err)
		return
	}
	Success(w, info)
}

// Move relocates a file or directory.
func (h *Handler) Move(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, err)
		return
	}
	info, err := h.files.Move(r.Context(), tenant, req.Source, req.Destination)
	if err != nil {
		Error(w, err)
		return
	}
	Success(w, info)
}

// Rename renames a file or directory in place.
func (h *Handler) Rename(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	var req renameRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, err)
		return
	}
	info, err := h.files.Rename(r.Context(), tenant, req.Path, req.NewName)
	if err != nil {
		Error(w, err)
		return
	}
	Success(w, info)
}

// Chmod changes permission bits.
func (h *Handler) Chmod(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	var req chmodRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, err)
		return
	}
	info, err := h.files.Chmod(r.Context(), tenant, req.Path, req.Mode)
	if err != nil {
		Error(w, err)
		return
	}
	Success(w, info)
}

// Compress packs paths into an archive.
func (h *Handler) Compress(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	var req compressRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, err)
		return
	}
	info, err := h.files.Compress(r.Context(), tenant, req.Paths, req.Destination, req.Format)
	if err != nil {
		Error(w, err)
		return
	}
	Success(w, info)
}

// Extract unpacks an archive.
func (h *Handler) Extract(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	var req extractRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, err)
		return
	}
	result, err := h.files.Extract(r.Context(), tenant, req.ArchivePath, req.Destination)
	if err != nil {
		Error(w, err)
		return
	}
	Success(w, result)
}
