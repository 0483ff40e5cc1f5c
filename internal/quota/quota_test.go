package quota

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ashureev/shsh-panel/internal/domain"
)

const mb = 1024 * 1024

func fixedUsage(n int64) Oracle {
	return OracleFunc(func(context.Context, string) (int64, error) { return n, nil })
}

func TestAllowed(t *testing.T) {
	tests := []struct {
		used, delta, limit int64
		want               bool
	}{
		{0, 0, 0, true},
		{10, 5, 15, true},
		{10, 6, 15, false},
		{1 << 40, 1 << 40, domain.UnlimitedQuota, true},
		{0, 1, 0, false},
	}
	for _, tt := range tests {
		if got := Allowed(tt.used, tt.delta, tt.limit); got != tt.want {
			t.Errorf("Allowed(%d, %d, %d) = %v, want %v", tt.used, tt.delta, tt.limit, got, tt.want)
		}
	}
}

func TestGuardCheck(t *testing.T) {
	tenant := &domain.Tenant{TenantID: "t1", Username: "bob", QuotaMB: 1024}

	g := NewGuard(fixedUsage(1020*mb), "/home")
	err := g.Check(context.Background(), tenant, 10*mb)
	if !domain.IsKind(err, domain.KindAccessDenied) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}

	g = NewGuard(fixedUsage(10*mb), "/home")
	if err := g.Check(context.Background(), tenant, 10*mb); err != nil {
		t.Fatalf("expected write to be allowed, got %v", err)
	}
}

func TestGuardUnlimitedSkipsOracle(t *testing.T) {
	called := false
	g := NewGuard(OracleFunc(func(context.Context, string) (int64, error) {
		called = true
		return 0, nil
	}), "/home")

	tenant := &domain.Tenant{Username: "bob", QuotaMB: domain.UnlimitedQuota}
	if err := g.Check(context.Background(), tenant, 1<<50); err != nil {
		t.Fatalf("expected unlimited tenant to pass, got %v", err)
	}
	if called {
		t.Error("expected oracle not to be consulted for unlimited tenant")
	}
}

func TestGuardMeasuresSandboxRoot(t *testing.T) {
	var measured string
	g := NewGuard(OracleFunc(func(_ context.Context, root string) (int64, error) {
		measured = root
		return 0, nil
	}), "/srv/homes")

	_ = g.Check(context.Background(), &domain.Tenant{Username: "alice", QuotaMB: 1}, 1)
	if measured != "/srv/homes/alice" {
		t.Errorf("expected /srv/homes/alice, got %s", measured)
	}
}

func TestWalkOracle(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a"), make([]byte, 100), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "b"), make([]byte, 50), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(dir, "a"), filepath.Join(dir, "link")); err != nil {
		t.Fatal(err)
	}

	used, err := WalkOracle{}.Usage(context.Background(), dir)
	if err != nil {
		t.Fatalf("Usage failed: %v", err)
	}
	if used != 150 {
		t.Errorf("expected 150 bytes, got %d", used)
	}

	used, err = WalkOracle{}.Usage(context.Background(), filepath.Join(dir, "missing"))
	if err != nil || used != 0 {
		t.Errorf("expected 0 for missing root, got %d (%v)", used, err)
	}
}
