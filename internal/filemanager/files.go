package filemanager

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/shsh-panel/internal/domain"
)

// Entry types reported by List.
const (
	TypeFile      = "file"
	TypeDirectory = "directory"
	TypeSymlink   = "symlink"
	TypeOther     = "other"
)

// FileInfo describes one directory entry.
type FileInfo struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Type        string    `json:"type"`
	Size        int64     `json:"size"`
	Mode        string    `json:"mode"`
	Permissions string    `json:"permissions"`
	ModifiedAt  time.Time `json:"modified_at"`
}

// Listing is the content of a directory.
type Listing struct {
	Path    string     `json:"path"`
	Entries []FileInfo `json:"entries"`
}

// FileContent is returned by Read.
type FileContent struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Size    int64  `json:"size"`
}

// Download is an open regular file ready to be streamed. The caller must
// close File.
type Download struct {
	Name    string
	Size    int64
	ModTime time.Time
	File    *os.File
}

func newFileInfo(root, p string, info fs.FileInfo) FileInfo {
	kind := TypeOther
	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		kind = TypeSymlink
	case info.IsDir():
		kind = TypeDirectory
	case info.Mode().IsRegular():
		kind = TypeFile
	}
	return FileInfo{
		Name:        info.Name(),
		Path:        display(root, p),
		Type:        kind,
		Size:        info.Size(),
		Mode:        formatMode(info.Mode()),
		Permissions: info.Mode().String(),
		ModifiedAt:  info.ModTime().UTC(),
	}
}

func formatMode(m fs.FileMode) string {
	return "0" + strconv.FormatUint(uint64(m.Perm()), 8)
}

// List returns the entries of a directory, directories first. An empty path
// lists the sandbox root.
func (s *Service) List(_ context.Context, tenant *domain.Tenant, path string) (*Listing, error) {
	root, err := s.sandbox(tenant)
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = "/"
	}
	dir, err := resolve(root, path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fsError("stat", path, err)
	}
	if !info.IsDir() {
		return nil, domain.Validation("not a directory: %s", path)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fsError("read directory", path, err)
	}
	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		out = append(out, newFileInfo(root, filepath.Join(dir, e.Name()), fi))
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := out[i].Type == TypeDirectory, out[j].Type == TypeDirectory
		if di != dj {
			return di
		}
		return out[i].Name < out[j].Name
	})
	return &Listing{Path: display(root, dir), Entries: out}, nil
}

// Read returns the content of a regular file no larger than MaxReadBytes.
func (s *Service) Read(_ context.Context, tenant *domain.Tenant, path string) (*FileContent, error) {
	if err := required("path", path); err != nil {
		return nil, err
	}
	root, err := s.sandbox(tenant)
	if err != nil {
		return nil, err
	}
	p, err := resolve(root, path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(p)
	if err != nil {
		return nil, fsError("stat", path, err)
	}
	if info.IsDir() {
		return nil, domain.Validation("is a directory: %s", path)
	}
	if info.Size() > s.cfg.MaxReadBytes {
		return nil, domain.Validation("file too large to read (%d bytes, limit %d)", info.Size(), s.cfg.MaxReadBytes)
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fsError("read", path, err)
	}
	return &FileContent{Path: display(root, p), Content: string(data), Size: int64(len(data))}, nil
}

// Write replaces the content of a file, creating it if needed. The full
// content length is charged against the quota.
func (s *Service) Write(ctx context.Context, tenant *domain.Tenant, path, content string) (*FileInfo, error) {
	if err := required("path", path); err != nil {
		return nil, err
	}
	root, err := s.sandbox(tenant)
	if err != nil {
		return nil, err
	}
	p, err := resolve(root, path)
	if err != nil {
		return nil, err
	}
	if p == root {
		return nil, domain.Validation("is a directory: %s", path)
	}

	perm := fs.FileMode(0o644)
	if info, err := os.Stat(p); err == nil {
		if info.IsDir() {
			return nil, domain.Validation("is a directory: %s", path)
		}
		perm = info.Mode().Perm()
	}
	if err := s.guard.Check(ctx, tenant, int64(len(content))); err != nil {
		return nil, err
	}

	uid, gid, err := s.owner(tenant)
	if err != nil {
		return nil, err
	}
	if _, err := atomicWrite(p, strings.NewReader(content), perm, 0, uid, gid); err != nil {
		return nil, fsError("write", path, err)
	}
	slog.Info("File written", "tenant_id", tenant.TenantID, "path", display(root, p), "bytes", len(content))
	return s.stat(root, p)
}

// Upload stores r as name inside directory dir. size is the declared
// length used for the quota check; the stream is still capped at
// MaxUploadBytes.
func (s *Service) Upload(ctx context.Context, tenant *domain.Tenant, dir, name string, size int64, r io.Reader) (*FileInfo, error) {
	name = filepath.Base(filepath.Clean("/" + name))
	if err := validName(name); err != nil {
		return nil, err
	}
	if size > s.cfg.MaxUploadBytes {
		return nil, domain.Validation("upload too large (%d bytes, limit %d)", size, s.cfg.MaxUploadBytes)
	}
	root, err := s.sandbox(tenant)
	if err != nil {
		return nil, err
	}
	if dir == "" {
		dir = "/"
	}
	target, err := resolve(root, filepath.Join(dir, name))
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(filepath.Dir(target)); err != nil {
		return nil, fsError("stat", dir, err)
	} else if !info.IsDir() {
		return nil, domain.Validation("not a directory: %s", dir)
	}
	if info, err := os.Stat(target); err == nil && info.IsDir() {
		return nil, domain.Validation("is a directory: %s", display(root, target))
	}
	if err := s.guard.Check(ctx, tenant, size); err != nil {
		return nil, err
	}

	uid, gid, err := s.owner(tenant)
	if err != nil {
		return nil, err
	}
	n, err := atomicWrite(target, r, 0o644, s.cfg.MaxUploadBytes, uid, gid)
	if err != nil {
		if errors.Is(err, errTooLarge) {
			return nil, domain.Validation("upload exceeds %d bytes", s.cfg.MaxUploadBytes)
		}
		return nil, fsError("upload", display(root, target), err)
	}
	slog.Info("File uploaded", "tenant_id", tenant.TenantID, "path", display(root, target), "bytes", n)
	return s.stat(root, target)
}

// Download opens a regular file for streaming.
func (s *Service) Download(_ context.Context, tenant *domain.Tenant, path string) (*Download, error) {
	if err := required("path", path); err != nil {
		return nil, err
	}
	root, err := s.sandbox(tenant)
	if err != nil {
		return nil, err
	}
	p, err := resolve(root, path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p)
	if err != nil {
		return nil, fsError("open", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fsError("stat", path, err)
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, domain.Validation("not a regular file: %s", path)
	}
	return &Download{Name: info.Name(), Size: info.Size(), ModTime: info.ModTime(), File: f}, nil
}

// Mkdir creates directory name inside path.
func (s *Service) Mkdir(_ context.Context, tenant *domain.Tenant, path, name string) (*FileInfo, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	root, err := s.sandbox(tenant)
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = "/"
	}
	p, err := resolve(root, filepath.Join(path, name))
	if err != nil {
		return nil, err
	}
	if err := os.Mkdir(p, 0o755); err != nil {
		return nil, fsError("mkdir", display(root, p), err)
	}
	if err := s.chownTree(tenant, p); err != nil {
		return nil, fsError("chown", display(root, p), err)
	}
	slog.Info("Directory created", "tenant_id", tenant.TenantID, "path", display(root, p))
	return s.stat(root, p)
}

// Delete removes a file or a directory tree. Protected paths are refused.
func (s *Service) Delete(_ context.Context, tenant *domain.Tenant, path string) error {
	if err := required("path", path); err != nil {
		return err
	}
	root, err := s.sandbox(tenant)
	if err != nil {
		return err
	}
	p, err := resolveEntry(root, path)
	if err != nil {
		return err
	}
	if s.protected(root, p) {
		slog.Warn("Protected path delete refused", "tenant_id", tenant.TenantID, "path", display(root, p))
		return domain.AccessDenied("cannot delete protected path: %s", display(root, p))
	}
	if _, err := os.Lstat(p); err != nil {
		return fsError("stat", path, err)
	}
	if err := os.RemoveAll(p); err != nil {
		return fsError("delete", path, err)
	}
	slog.Info("Path deleted", "tenant_id", tenant.TenantID, "path", display(root, p))
	return nil
}

// Chmod sets permission bits from an octal string such as "0755". Special
// bits (setuid, setgid, sticky) are refused.
func (s *Service) Chmod(_ context.Context, tenant *domain.Tenant, path, mode string) (*FileInfo, error) {
	if err := required("path", path); err != nil {
		return nil, err
	}
	if err := required("mode", mode); err != nil {
		return nil, err
	}
	bits, err := strconv.ParseUint(mode, 8, 32)
	if err != nil || bits > 0o777 {
		return nil, domain.Validation("invalid mode %q: expected octal permissions up to 0777", mode)
	}
	root, err := s.sandbox(tenant)
	if err != nil {
		return nil, err
	}
	p, err := resolve(root, path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(p, fs.FileMode(bits)); err != nil {
		return nil, fsError("chmod", path, err)
	}
	slog.Info("Permissions changed", "tenant_id", tenant.TenantID, "path", display(root, p), "mode", formatMode(fs.FileMode(bits)))
	return s.stat(root, p)
}

func (s *Service) stat(root, p string) (*FileInfo, error) {
	info, err := os.Lstat(p)
	if err != nil {
		return nil, fsError("stat", display(root, p), err)
	}
	fi := newFileInfo(root, p, info)
	return &fi, nil
}
