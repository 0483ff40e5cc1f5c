// Package session stores terminal session state with a sliding expiry.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/shsh-panel/internal/domain"
	"github.com/google/uuid"
)

// DefaultTTL is the sliding inactivity window of a terminal session.
const DefaultTTL = 30 * time.Minute

// Store defines persistence for terminal sessions.
//
// Records are handed out as copies: concurrent operations on the same token
// each save their own copy and the last save wins.
type Store interface {
	// Create starts a new active session for the tenant.
	Create(ctx context.Context, tenantID, username, cwd string) (*domain.Session, error)

	// Get returns a live session owned by tenantID. Absent, expired and
	// foreign sessions all yield domain.ErrSessionNotFound.
	Get(ctx context.Context, token, tenantID string) (*domain.Session, error)

	// Save persists the session and extends its expiry.
	Save(ctx context.Context, s *domain.Session) error

	// Destroy removes the session immediately.
	Destroy(ctx context.Context, token string) error

	// Sweep deletes records whose window has lapsed and returns how many.
	Sweep(ctx context.Context) (int, error)
}

// Clock returns the current time.
type Clock func() time.Time

func newSession(tenantID, username, cwd string, now time.Time, ttl time.Duration) *domain.Session {
	return &domain.Session{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		Username:     username,
		Cwd:          cwd,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(ttl),
	}
}

func touch(s *domain.Session, now time.Time, ttl time.Duration) {
	s.LastActivity = now
	s.ExpiresAt = now.Add(ttl)
}

const sweepInterval = 5 * time.Minute

// StartSweeper periodically removes expired sessions until ctx is done.
func StartSweeper(ctx context.Context, store Store, interval time.Duration) {
	if interval <= 0 {
		interval = sweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval)

		for {
			select {
			case <-ticker.C:
				removed, err := store.Sweep(ctx)
				if err != nil {
					slog.Error("Session sweep failed", "error", err)
					continue
				}
				if removed > 0 {
					slog.Info("Expired sessions removed", "count", removed)
				}
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
