// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/shsh-panel/internal/domain"
)

// Repository defines the interface for persisting tenants and the command
// audit trail.
type Repository interface {
	// GetTenant retrieves a tenant by ID. Returns nil, nil if absent.
	GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error)

	// UpsertTenant creates or updates a tenant record.
	UpsertTenant(ctx context.Context, tenant *domain.Tenant) error

	// ListTenants returns all tenants ordered by ID.
	ListTenants(ctx context.Context) ([]*domain.Tenant, error)

	// DeleteTenant removes a tenant and its audit records.
	DeleteTenant(ctx context.Context, tenantID string) error

	// RecordCommand appends an entry to the command audit trail.
	RecordCommand(ctx context.Context, entry *domain.CommandAudit) error

	// ListCommands returns the tenant's most recent audit entries, newest first.
	ListCommands(ctx context.Context, tenantID string, limit int) ([]*domain.CommandAudit, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
