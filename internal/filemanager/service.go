// Package filemanager implements tenant file operations confined to the
// tenant's home directory.
//
// Every path is resolved lexically against the sandbox root and then
// canonicalized on the filesystem, so neither ".." segments nor symlinks
// can reach outside the sandbox. Operations that add bytes are checked
// against the tenant quota first.
package filemanager

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ashureev/shsh-panel/internal/domain"
	"github.com/ashureev/shsh-panel/internal/pathguard"
	"github.com/ashureev/shsh-panel/internal/quota"
	"github.com/ashureev/shsh-panel/internal/shell"
	"github.com/bmatcuk/doublestar/v4"
)

const (
	// DefaultMaxReadBytes is the largest file Read returns inline.
	DefaultMaxReadBytes int64 = 10 * 1024 * 1024

	// DefaultMaxUploadBytes caps a single upload.
	DefaultMaxUploadBytes int64 = 512 * 1024 * 1024
)

// DefaultProtectedPaths are sandbox-relative patterns that cannot be
// deleted, moved or renamed. The sandbox root itself is always protected.
var DefaultProtectedPaths = []string{"public_html", "mail", "logs", "ssl", ".ssh"}

// Config configures a Service.
type Config struct {
	HomeBase       string
	MaxReadBytes   int64
	MaxUploadBytes int64
	ProtectedPaths []string
	// ChownToTenant hands created files to the tenant's uid/gid. Requires root.
	ChownToTenant bool
	Lookup        shell.IdentityLookup
}

// Service implements the file manager operations.
type Service struct {
	guard *quota.Guard
	cfg   Config
}

// NewService creates a file manager backed by guard.
func NewService(guard *quota.Guard, cfg Config) (*Service, error) {
	if cfg.HomeBase == "" {
		cfg.HomeBase = domain.DefaultHomeBase
	}
	if cfg.MaxReadBytes <= 0 {
		cfg.MaxReadBytes = DefaultMaxReadBytes
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.ProtectedPaths == nil {
		cfg.ProtectedPaths = DefaultProtectedPaths
	}
	for _, p := range cfg.ProtectedPaths {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid protected path pattern %q", p)
		}
	}
	if cfg.Lookup == nil {
		cfg.Lookup = shell.LookupIdentity
	}
	return &Service{guard: guard, cfg: cfg}, nil
}

// MaxUploadBytes is the largest accepted upload.
func (s *Service) MaxUploadBytes() int64 {
	return s.cfg.MaxUploadBytes
}

// sandbox returns the canonical sandbox root of tenant.
func (s *Service) sandbox(tenant *domain.Tenant) (string, error) {
	root := tenant.SandboxRoot(s.cfg.HomeBase)
	canonical, err := filepath.EvalSymlinks(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", domain.NotFound("home directory not found")
		}
		return "", domain.Wrap(domain.KindExecution, "resolve home directory", err)
	}
	return canonical, nil
}

// resolve maps candidate to a canonical path inside root, following
// symlinks all the way down.
func resolve(root, candidate string) (string, error) {
	p, err := pathguard.Resolve(root, candidate)
	if err != nil {
		return "", err
	}
	return pathguard.Canonicalize(p, root)
}

// resolveEntry is like resolve but leaves the final segment unresolved, so
// operations on a symlink act on the link rather than its target.
func resolveEntry(root, candidate string) (string, error) {
	p, err := pathguard.Resolve(root, candidate)
	if err != nil {
		return "", err
	}
	if p == root {
		return root, nil
	}
	parent, err := pathguard.Canonicalize(filepath.Dir(p), root)
	if err != nil {
		return "", err
	}
	return parent + "/" + filepath.Base(p), nil
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return domain.Validation("%s is required", field)
	}
	return nil
}

// validName checks a single path segment supplied by the tenant.
func validName(name string) error {
	if err := required("name", name); err != nil {
		return err
	}
	if name == "." || name == ".." || strings.ContainsAny(name, "/\x00") {
		return domain.Validation("invalid name %q", name)
	}
	return nil
}

// display returns p as a sandbox-relative absolute path.
func display(root, p string) string {
	return "/" + pathguard.Rel(root, p)
}

// protected reports whether p may not be deleted, moved or renamed.
func (s *Service) protected(root, p string) bool {
	rel := pathguard.Rel(root, p)
	if rel == "" {
		return true
	}
	for _, pattern := range s.cfg.ProtectedPaths {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// fsError classifies a filesystem error for the caller.
func fsError(op, path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return domain.NotFound("no such file or directory: %s", path)
	case errors.Is(err, fs.ErrExist):
		return domain.Validation("already exists: %s", path)
	case errors.Is(err, fs.ErrPermission):
		return domain.AccessDenied("permission denied: %s", path)
	default:
		return domain.Wrap(domain.KindExecution, op+" "+path, err)
	}
}

// owner returns the uid/gid new files are handed to, or -1/-1.
func (s *Service) owner(tenant *domain.Tenant) (int, int, error) {
	if !s.cfg.ChownToTenant {
		return -1, -1, nil
	}
	id, err := s.cfg.Lookup(tenant.Username)
	if err != nil {
		return -1, -1, domain.Wrap(domain.KindExecution, "resolve tenant identity", err)
	}
	return int(id.UID), int(id.GID), nil
}

// chownTree hands p and everything beneath it to the tenant.
func (s *Service) chownTree(tenant *domain.Tenant, p string) error {
	uid, gid, err := s.owner(tenant)
	if err != nil || uid < 0 {
		return err
	}
	return filepath.WalkDir(p, func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Lchown(path, uid, gid)
	})
}
