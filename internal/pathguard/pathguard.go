// Package pathguard confines tenant-supplied paths to a sandbox root.
//
// Resolution is lexical first: the candidate is joined to a base, split on
// "/", and "." and ".." segments are folded without touching the
// filesystem. Containment is then a segment-boundary prefix check against
// one or more allowed roots. Canonicalize adds a filesystem pass that
// follows symlinks so a link inside the sandbox cannot point outside it.
package pathguard

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ashureev/shsh-panel/internal/domain"
)

// Clean lexically normalizes p into an absolute path. Empty and "."
// segments are dropped and ".." pops the previous segment; popping past
// the root is a no-op.
func Clean(p string) string {
	parts := strings.Split(p, "/")
	kept := make([]string, 0, len(parts))
	for _, seg := range parts {
		switch seg {
		case "", ".":
		case "..":
			if len(kept) > 0 {
				kept = kept[:len(kept)-1]
			}
		default:
			kept = append(kept, seg)
		}
	}
	return "/" + strings.Join(kept, "/")
}

// Within reports whether p equals one of roots or lies beneath it.
func Within(p string, roots ...string) bool {
	for _, root := range roots {
		root = Clean(root)
		if p == root {
			return true
		}
		if root == "/" || strings.HasPrefix(p, root+"/") {
			return true
		}
	}
	return false
}

// Resolve resolves candidate against root. Absolute candidates are
// sandbox-relative, relative candidates are relative to root.
func Resolve(root, candidate string) (string, error) {
	return ResolveFrom(root, root, candidate)
}

// ResolveFrom resolves candidate against base (relative) or root
// (absolute) and rejects results that escape root.
func ResolveFrom(root, base, candidate string) (string, error) {
	var joined string
	if strings.HasPrefix(candidate, "/") {
		joined = root + candidate
	} else {
		joined = base + "/" + candidate
	}
	p := Clean(joined)
	if !Within(p, root) {
		return "", domain.AccessDenied("access denied: path outside of home directory")
	}
	return p, nil
}

// ResolveShell resolves a terminal cd target. Unlike Resolve, absolute
// candidates are taken literally and "~" expands to home, so any of
// roots (home plus extra roots such as /tmp) can be reached.
func ResolveShell(home, cwd, candidate string, roots ...string) (string, error) {
	candidate = strings.TrimSpace(candidate)
	var joined string
	switch {
	case candidate == "" || candidate == "~":
		joined = home
	case strings.HasPrefix(candidate, "~/"):
		joined = home + candidate[1:]
	case strings.HasPrefix(candidate, "/"):
		joined = candidate
	default:
		joined = cwd + "/" + candidate
	}
	p := Clean(joined)
	allowed := append([]string{home}, roots...)
	if !Within(p, allowed...) {
		return "", domain.AccessDenied("access denied: path outside of allowed directories")
	}
	return p, nil
}

// Canonicalize resolves symlinks in the deepest existing ancestor of p and
// re-checks containment. Non-existent trailing segments are kept as-is so
// targets of create operations can be checked too.
func Canonicalize(p string, roots ...string) (string, error) {
	existing := p
	var tail []string
	for {
		_, err := os.Lstat(existing)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", domain.Wrap(domain.KindExecution, "stat path", err)
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		tail = append([]string{filepath.Base(existing)}, tail...)
		existing = parent
	}

	base, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", domain.Wrap(domain.KindExecution, "resolve symlinks", err)
	}
	resolved := Clean(filepath.ToSlash(filepath.Join(append([]string{base}, tail...)...)))

	canonRoots := make([]string, 0, len(roots))
	for _, root := range roots {
		if r, err := filepath.EvalSymlinks(root); err == nil {
			canonRoots = append(canonRoots, r)
		} else {
			canonRoots = append(canonRoots, root)
		}
	}
	if !Within(resolved, canonRoots...) {
		return "", domain.AccessDenied("access denied: path resolves outside of home directory")
	}
	return resolved, nil
}

// Rel returns p relative to root, or "" when p is root itself.
func Rel(root, p string) string {
	root = Clean(root)
	if p == root {
		return ""
	}
	return strings.TrimPrefix(p, root+"/")
}
