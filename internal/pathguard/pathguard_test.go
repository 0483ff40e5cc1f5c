package pathguard

import (
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ashureev/shsh-panel/internal/domain"
)

func TestClean(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/home/bob/a/./b/../c", "/home/bob/a/c"},
		{"/home//bob///x/", "/home/bob/x"},
		{"/../../etc", "/etc"},
		{"", "/"},
		{"/home/bob/..", "/home"},
	}
	for _, tt := range tests {
		if got := Clean(tt.in); got != tt.want {
			t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolve(t *testing.T) {
	got, err := Resolve("/home/bob", "a/./b/../c")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/home/bob/a/c" {
		t.Errorf("expected /home/bob/a/c, got %s", got)
	}

	got, err = Resolve("/home/bob", "/public_html/")
	if err != nil || got != "/home/bob/public_html" {
		t.Errorf("expected sandbox-relative absolute path, got %q (%v)", got, err)
	}

	got, err = Resolve("/home/bob", "")
	if err != nil || got != "/home/bob" {
		t.Errorf("expected root itself to be allowed, got %q (%v)", got, err)
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	got, err := Resolve("/home/bob", "../../etc/passwd")
	if err == nil {
		t.Fatalf("expected access denied, got %s", got)
	}
	if !domain.IsKind(err, domain.KindAccessDenied) {
		t.Errorf("expected access_denied kind, got %v", err)
	}

	// Absolute candidates are sandbox-relative, so this collapses inside.
	got, err = Resolve("/home/bob", "/../../etc/passwd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/home/bob/etc/passwd" {
		t.Errorf("expected collapsed path, got %s", got)
	}
}

func TestResolveRejectsSiblingPrefix(t *testing.T) {
	if got, err := ResolveFrom("/home/bob", "/home/bob", "../bobby/x"); err == nil {
		t.Fatalf("expected sibling home to be rejected, got %s", got)
	}
}

func TestResolveNeverEscapes(t *testing.T) {
	segments := []string{"..", ".", "a", "b", "", "..", "c", "..", "/"}
	rng := rand.New(rand.NewSource(42))
	root := "/home/bob"

	for i := 0; i < 2000; i++ {
		n := rng.Intn(10)
		parts := make([]string, n)
		for j := range parts {
			parts[j] = segments[rng.Intn(len(segments))]
		}
		candidate := strings.Join(parts, "/")

		got, err := Resolve(root, candidate)
		if err != nil {
			continue
		}
		if got != root && !strings.HasPrefix(got, root+"/") {
			t.Fatalf("Resolve(%q) = %q escapes %s", candidate, got, root)
		}
	}
}

func TestResolveShell(t *testing.T) {
	home := "/home/bob"
	tests := []struct {
		cwd       string
		candidate string
		want      string
		denied    bool
	}{
		{home, "public_html", "/home/bob/public_html", false},
		{home, "../../../etc", "", true},
		{home, "/tmp", "/tmp", false},
		{"/tmp", "..", "", true},
		{"/home/bob/public_html", "~", home, false},
		{"/tmp", "~/logs", "/home/bob/logs", false},
		{home, "/etc", "", true},
	}
	for _, tt := range tests {
		got, err := ResolveShell(home, tt.cwd, tt.candidate, "/tmp")
		if tt.denied {
			if err == nil {
				t.Errorf("ResolveShell(%q, %q) = %q, expected denial", tt.cwd, tt.candidate, got)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ResolveShell(%q, %q) = %q (%v), want %q", tt.cwd, tt.candidate, got, err, tt.want)
		}
	}
}

func TestCanonicalizeRejectsEscapingSymlink(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "bob")
	outside := filepath.Join(base, "secret")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(outside, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Fatal(err)
	}

	if _, err := Canonicalize(filepath.Join(root, "link", "file.txt"), root); err == nil {
		t.Fatal("expected symlink escape to be rejected")
	}

	got, err := Canonicalize(filepath.Join(root, "new", "dir"), root)
	if err != nil {
		t.Fatalf("unexpected error for non-existent target: %v", err)
	}
	canonRoot, _ := filepath.EvalSymlinks(root)
	if got != filepath.Join(canonRoot, "new", "dir") {
		t.Errorf("unexpected canonical path %s", got)
	}
}

func TestRel(t *testing.T) {
	if got := Rel("/home/bob", "/home/bob"); got != "" {
		t.Errorf("expected empty rel, got %q", got)
	}
	if got := Rel("/home/bob", "/home/bob/a/b"); got != "a/b" {
		t.Errorf("expected a/b, got %q", got)
	}
}
