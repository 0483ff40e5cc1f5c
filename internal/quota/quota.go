// Package quota decides whether a filesystem operation fits in a tenant's
// storage limit.
package quota

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/ashureev/shsh-panel/internal/domain"
)

// Oracle measures the bytes currently stored under a directory.
type Oracle interface {
	Usage(ctx context.Context, root string) (int64, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, root string) (int64, error)

// Usage calls f.
func (f OracleFunc) Usage(ctx context.Context, root string) (int64, error) {
	return f(ctx, root)
}

// Guard checks prospective writes against tenant quotas. It is a plain
// check-then-act: concurrent writers for the same tenant may both pass.
type Guard struct {
	oracle   Oracle
	homeBase string
}

// NewGuard creates a quota guard measuring usage through oracle.
func NewGuard(oracle Oracle, homeBase string) *Guard {
	return &Guard{oracle: oracle, homeBase: homeBase}
}

// Check returns domain.ErrQuotaExceeded if adding delta bytes would push the
// tenant over its limit. Usage is re-measured on every call.
func (g *Guard) Check(ctx context.Context, tenant *domain.Tenant, delta int64) error {
	if tenant.Unlimited() {
		return nil
	}

	root := tenant.SandboxRoot(g.homeBase)
	used, err := g.oracle.Usage(ctx, root)
	if err != nil {
		return domain.Wrap(domain.KindExecution, "measure disk usage", err)
	}

	limit := tenant.QuotaBytes()
	if !Allowed(used, delta, limit) {
		slog.Info("Quota exceeded",
			"tenant_id", tenant.TenantID,
			"used", used,
			"delta", delta,
			"limit", limit)
		return domain.ErrQuotaExceeded
	}
	return nil
}

// Allowed reports whether used+delta fits in limit. UnlimitedQuota always fits.
func Allowed(used, delta, limit int64) bool {
	if limit == domain.UnlimitedQuota {
		return true
	}
	return used+delta <= limit
}

// WalkOracle sums the sizes of regular files under root without following
// symlinks. Unreadable entries are skipped.
type WalkOracle struct{}

// Usage walks root and returns the total size of regular files.
func (WalkOracle) Usage(ctx context.Context, root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("walk %s: %w", root, err)
	}
	return total, nil
}

// TreeSize returns the size of a file, or the total size of a directory tree.
func TreeSize(ctx context.Context, p string) (int64, error) {
	return WalkOracle{}.Usage(ctx, p)
}
