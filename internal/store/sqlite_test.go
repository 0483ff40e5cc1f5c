package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ashureev/shsh-panel/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "panel.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSQLiteTenantRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	got, err := repo.GetTenant(ctx, "t1")
	if err != nil || got != nil {
		t.Fatalf("expected nil tenant, got %v (%v)", got, err)
	}

	if err := repo.UpsertTenant(ctx, &domain.Tenant{TenantID: "t1", Username: "bob", QuotaMB: 1024}); err != nil {
		t.Fatalf("UpsertTenant failed: %v", err)
	}
	if err := repo.UpsertTenant(ctx, &domain.Tenant{TenantID: "t1", Username: "bob", QuotaMB: domain.UnlimitedQuota}); err != nil {
		t.Fatalf("UpsertTenant update failed: %v", err)
	}

	got, err = repo.GetTenant(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTenant failed: %v", err)
	}
	if got.Username != "bob" || !got.Unlimited() {
		t.Errorf("unexpected tenant %+v", got)
	}

	tenants, err := repo.ListTenants(ctx)
	if err != nil || len(tenants) != 1 {
		t.Fatalf("expected 1 tenant, got %d (%v)", len(tenants), err)
	}

	if err := repo.DeleteTenant(ctx, "t1"); err != nil {
		t.Fatalf("DeleteTenant failed: %v", err)
	}
	if err := repo.DeleteTenant(ctx, "t1"); err == nil {
		t.Fatal("expected error deleting missing tenant")
	}
}

func TestSQLiteCommandAudit(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	for _, cmd := range []string{"ls", "pwd", "sudo ls"} {
		entry := &domain.CommandAudit{TenantID: "t1", SessionID: "s1", Command: cmd, Verdict: "shell"}
		if err := repo.RecordCommand(ctx, entry); err != nil {
			t.Fatalf("RecordCommand failed: %v", err)
		}
		if entry.ID == 0 {
			t.Error("expected audit id to be assigned")
		}
	}
	_ = repo.RecordCommand(ctx, &domain.CommandAudit{TenantID: "t2", SessionID: "s2", Command: "ls", Verdict: "shell"})

	entries, err := repo.ListCommands(ctx, "t1", 2)
	if err != nil {
		t.Fatalf("ListCommands failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Command != "sudo ls" {
		t.Errorf("expected newest first, got %q", entries[0].Command)
	}
}
