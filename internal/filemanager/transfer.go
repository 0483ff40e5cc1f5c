package filemanager

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ashureev/shsh-panel/internal/domain"
	"github.com/ashureev/shsh-panel/internal/pathguard"
	"github.com/ashureev/shsh-panel/internal/quota"
	"golang.org/x/sys/unix"
)

// destination resolves dst for a copy or move of src. An existing
// directory receives src under its own name.
func destination(root, src, dst string) (string, error) {
	target, err := resolveEntry(root, dst)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(target); err == nil && info.IsDir() {
		dir, err := pathguard.Canonicalize(target, root)
		if err != nil {
			return "", err
		}
		target = filepath.Join(dir, filepath.Base(src))
	}
	if target == src {
		return "", domain.Validation("source and destination are the same")
	}
	if pathguard.Within(target, src) {
		return "", domain.Validation("cannot place a directory inside itself")
	}
	if _, err := os.Lstat(target); err == nil {
		return "", domain.Validation("destination already exists: %s", display(root, target))
	}
	return target, nil
}

// Copy duplicates a file or directory tree. The source size is charged
// against the quota.
func (s *Service) Copy(ctx context.Context, tenant *domain.Tenant, source, dest string) (*FileInfo, error) {
	if err := required("source", source); err != nil {
		return nil, err
	}
	if err := required("destination", dest); err != nil {
		return nil, err
	}
	root, err := s.sandbox(tenant)
	if err != nil {
		return nil, err
	}
	src, err := resolve(root, source)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(src); err != nil {
		return nil, fsError("stat", source, err)
	}
	target, err := destination(root, src, dest)
	if err != nil {
		return nil, err
	}

	size, err := quota.TreeSize(ctx, src)
	if err != nil {
		return nil, domain.Wrap(domain.KindExecution, "measure source", err)
	}
	if err := s.guard.Check(ctx, tenant, size); err != nil {
		return nil, err
	}

	if err := copyTree(ctx, src, target); err != nil {
		_ = os.RemoveAll(target)
		return nil, fsError("copy", source, err)
	}
	if err := s.chownTree(tenant, target); err != nil {
		return nil, fsError("chown", display(root, target), err)
	}
	slog.Info("Path copied", "tenant_id", tenant.TenantID, "source", display(root, src), "destination", display(root, target), "bytes", size)
	return s.stat(root, target)
}

// Move relocates a file or directory. Protected paths cannot be moved.
func (s *Service) Move(ctx context.Context, tenant *domain.Tenant, source, dest string) (*FileInfo, error) {
	if err := required("source", source); err != nil {
		return nil, err
	}
	if err := required("destination", dest); err != nil {
		return nil, err
	}
	root, err := s.sandbox(tenant)
	if err != nil {
		return nil, err
	}
	src, err := resolveEntry(root, source)
	if err != nil {
		return nil, err
	}
	if s.protected(root, src) {
		return nil, domain.AccessDenied("cannot move protected path: %s", display(root, src))
	}
	if _, err := os.Lstat(src); err != nil {
		return nil, fsError("stat", source, err)
	}
	target, err := destination(root, src, dest)
	if err != nil {
		return nil, err
	}

	if err := rename(ctx, src, target); err != nil {
		return nil, fsError("move", source, err)
	}
	slog.Info("Path moved", "tenant_id", tenant.TenantID, "source", display(root, src), "destination", display(root, target))
	return s.stat(root, target)
}

// Rename gives a file or directory a new name in the same directory.
func (s *Service) Rename(ctx context.Context, tenant *domain.Tenant, path, newName string) (*FileInfo, error) {
	if err := required("path", path); err != nil {
		return nil, err
	}
	if err := validName(newName); err != nil {
		return nil, err
	}
	root, err := s.sandbox(tenant)
	if err != nil {
		return nil, err
	}
	src, err := resolveEntry(root, path)
	if err != nil {
		return nil, err
	}
	if s.protected(root, src) {
		return nil, domain.AccessDenied("cannot rename protected path: %s", display(root, src))
	}
	if _, err := os.Lstat(src); err != nil {
		return nil, fsError("stat", path, err)
	}
	target := filepath.Join(filepath.Dir(src), newName)
	if _, err := os.Lstat(target); err == nil {
		return nil, domain.Validation("destination already exists: %s", display(root, target))
	}

	if err := rename(ctx, src, target); err != nil {
		return nil, fsError("rename", path, err)
	}
	slog.Info("Path renamed", "tenant_id", tenant.TenantID, "source", display(root, src), "destination", display(root, target))
	return s.stat(root, target)
}

// rename moves src to dst, falling back to copy and delete across devices.
func rename(ctx context.Context, src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, unix.EXDEV) {
		return err
	}
	if err := copyTree(ctx, src, dst); err != nil {
		_ = os.RemoveAll(dst)
		return err
	}
	return os.RemoveAll(src)
}

// copyTree copies src to dst preserving permission bits. Symlinks are
// recreated as links, other special files are skipped.
func copyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			return os.Mkdir(target, info.Mode().Perm()|0o700)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			return copyFile(p, target, info.Mode().Perm())
		default:
			return nil
		}
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
