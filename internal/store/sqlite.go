package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/shsh-panel/internal/domain"
	"github.com/ashureev/shsh-panel/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS tenants (
		tenant_id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		quota_mb INTEGER NOT NULL DEFAULT -1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS command_audit (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		command TEXT NOT NULL,
		verdict TEXT NOT NULL,
		exit_code INTEGER NOT NULL DEFAULT 0,
		timed_out INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_command_audit_tenant ON command_audit(tenant_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetTenant retrieves a tenant by ID.
func (s *SQLiteStore) GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	query := `
		SELECT tenant_id, username, quota_mb, created_at, updated_at
		FROM tenants WHERE tenant_id = ?`

	row := s.db.QueryRowContext(ctx, query, tenantID)
	tenant, err := scanTenant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan tenant row: %w", err)
	}
	return tenant, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTenant(row rowScanner) (*domain.Tenant, error) {
	var tenant domain.Tenant
	var createdAt, updatedAt int64
	if err := row.Scan(&tenant.TenantID, &tenant.Username, &tenant.QuotaMB, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	tenant.CreatedAt = time.Unix(createdAt, 0)
	tenant.UpdatedAt = time.Unix(updatedAt, 0)
	return &tenant, nil
}

// UpsertTenant creates or updates a tenant record.
func (s *SQLiteStore) UpsertTenant(ctx context.Context, tenant *domain.Tenant) error {
	query := `
	INSERT INTO tenants (tenant_id, username, quota_mb, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(tenant_id) DO UPDATE SET
		username = excluded.username,
		quota_mb = excluded.quota_mb,
		updated_at = excluded.updated_at`

	now := time.Now()
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = now
	}
	tenant.UpdatedAt = now

	return shared.RetryOnConflict(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query,
			tenant.TenantID, tenant.Username, tenant.QuotaMB,
			tenant.CreatedAt.Unix(), tenant.UpdatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert tenant: %w", err)
		}
		return nil
	})
}

// ListTenants returns all tenants.
func (s *SQLiteStore) ListTenants(ctx context.Context) ([]*domain.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, username, quota_mb, created_at, updated_at
		FROM tenants ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("query tenants: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close tenant rows", "error", closeErr)
		}
	}()

	var tenants []*domain.Tenant
	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant row: %w", err)
		}
		tenants = append(tenants, tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenants: %w", err)
	}
	return tenants, nil
}

// DeleteTenant removes a tenant and its audit trail.
func (s *SQLiteStore) DeleteTenant(ctx context.Context, tenantID string) error {
	return shared.RetryOnConflict(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin delete tenant: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM command_audit WHERE tenant_id = ?`, tenantID); err != nil {
			return fmt.Errorf("delete tenant audit: %w", err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM tenants WHERE tenant_id = ?`, tenantID)
		if err != nil {
			return fmt.Errorf("delete tenant: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("tenant not found")
		}
		return tx.Commit()
	})
}

// RecordCommand appends an audit entry.
func (s *SQLiteStore) RecordCommand(ctx context.Context, entry *domain.CommandAudit) error {
	query := `
	INSERT INTO command_audit (tenant_id, session_id, command, verdict, exit_code, timed_out, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	return shared.RetryOnConflict(ctx, func() error {
		result, err := s.db.ExecContext(ctx, query,
			entry.TenantID, entry.SessionID, entry.Command, entry.Verdict,
			entry.ExitCode, entry.TimedOut, entry.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert command audit: %w", err)
		}
		if id, err := result.LastInsertId(); err == nil {
			entry.ID = id
		}
		return nil
	})
}

// ListCommands returns the most recent audit entries for a tenant.
func (s *SQLiteStore) ListCommands(ctx context.Context, tenantID string, limit int) ([]*domain.CommandAudit, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, session_id, command, verdict, exit_code, timed_out, created_at
		FROM command_audit WHERE tenant_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("query command audit: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close command audit rows", "error", closeErr)
		}
	}()

	var entries []*domain.CommandAudit
	for rows.Next() {
		var e domain.CommandAudit
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.TenantID, &e.SessionID, &e.Command, &e.Verdict,
			&e.ExitCode, &e.TimedOut, &createdAt); err != nil {
			return nil, fmt.Errorf("scan command audit row: %w", err)
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate command audit: %w", err)
	}
	return entries, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
