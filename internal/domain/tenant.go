// Package domain contains core domain types for the hosting panel core.
package domain

import (
	"path"
	"time"
)

// UnlimitedQuota is the quota sentinel meaning no storage limit is enforced.
const UnlimitedQuota int64 = -1

// DefaultHomeBase is the directory under which tenant home directories live.
const DefaultHomeBase = "/home"

// Tenant represents a hosting account owner and the OS identity it maps to.
type Tenant struct {
	TenantID  string    `json:"tenant_id" yaml:"tenant_id"`
	Username  string    `json:"username" yaml:"username"`
	QuotaMB   int64     `json:"quota_mb" yaml:"quota_mb"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// SandboxRoot returns the tenant's home directory under homeBase.
func (t *Tenant) SandboxRoot(homeBase string) string {
	if homeBase == "" {
		homeBase = DefaultHomeBase
	}
	return path.Join(homeBase, t.Username)
}

// Unlimited returns true if the tenant has no storage limit.
func (t *Tenant) Unlimited() bool {
	return t.QuotaMB == UnlimitedQuota
}

// QuotaBytes returns the storage limit in bytes, or UnlimitedQuota.
func (t *Tenant) QuotaBytes() int64 {
	if t.Unlimited() {
		return UnlimitedQuota
	}
	return t.QuotaMB * 1024 * 1024
}
