package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ashureev/shsh-panel/internal/store"
)

func run(t *testing.T, db string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--db", db}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTenantLifecycle(t *testing.T) {
	db := filepath.Join(t.TempDir(), "panel.db")

	if _, err := run(t, db, "tenant", "add", "t-bob", "--username", "bob", "--quota-mb", "1024"); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := run(t, db, "tenant", "add", "t-eve", "--username", "eve"); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	out, err := run(t, db, "tenant", "list")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if !strings.Contains(out, "t-bob") || !strings.Contains(out, "1024MB") || !strings.Contains(out, "unlimited") {
		t.Errorf("unexpected list output:\n%s", out)
	}

	if _, err := run(t, db, "tenant", "delete", "t-eve"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := run(t, db, "tenant", "delete", "t-eve"); err == nil {
		t.Error("expected error deleting a missing tenant")
	}

	repo, err := store.NewSQLite(db)
	if err != nil {
		t.Fatal(err)
	}
	defer repo.Close()
	tenants, err := repo.ListTenants(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(tenants) != 1 || tenants[0].Username != "bob" || tenants[0].QuotaMB != 1024 {
		t.Errorf("unexpected tenants %+v", tenants)
	}
}

func TestTenantAddValidation(t *testing.T) {
	db := filepath.Join(t.TempDir(), "panel.db")
	cases := [][]string{
		{"tenant", "add", "t1", "--username", "../root"},
		{"tenant", "add", "t1", "--username", "bob", "--quota-mb", "-5"},
		{"tenant", "add", "t1"},
	}
	for _, args := range cases {
		if _, err := run(t, db, args...); err == nil {
			t.Errorf("expected error for %v", args)
		}
	}
}

func TestImportExport(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "panel.db")
	input := filepath.Join(dir, "tenants.yaml")
	doc := `tenants:
  - tenant_id: t-bob
    username: bob
    quota_mb: 1024
  - tenant_id: t-alice
    username: alice
    quota_mb: -1
`
	if err := os.WriteFile(input, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, db, "tenant", "import", input)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if !strings.Contains(out, "2 tenants imported") {
		t.Errorf("unexpected import output %q", out)
	}

	exported := filepath.Join(dir, "export.yaml")
	if _, err := run(t, db, "tenant", "export", "-o", exported); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	data, err := os.ReadFile(exported)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"tenant_id: t-alice", "username: bob", "quota_mb: -1"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("export missing %q:\n%s", want, data)
		}
	}
}

func TestImportRejectsInvalidTenant(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "panel.db")
	input := filepath.Join(dir, "tenants.yaml")
	if err := os.WriteFile(input, []byte("tenants:\n  - tenant_id: t1\n    username: Bad/Name\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, db, "tenant", "import", input); err == nil {
		t.Error("expected import to fail")
	}
}
