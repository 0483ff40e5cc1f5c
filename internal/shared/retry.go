package shared

import (
	"context"
	"log/slog"
	"time"

	"gopkg.in/retry.v1"
)

// sqliteRetryStrategy backs off 50ms, 100ms, 200ms between attempts.
var sqliteRetryStrategy = retry.LimitCount(3, retry.Exponential{
	Initial: 50 * time.Millisecond,
	Factor:  2,
})

// RetryOnConflict runs op, retrying while it fails with a SQLite
// busy/locked error. Other errors are returned immediately.
func RetryOnConflict(ctx context.Context, op func() error) error {
	var err error
	attempt := 0
	for a := retry.Start(sqliteRetryStrategy, nil); a.Next(); {
		attempt++
		err = op()
		if err == nil || !IsSQLiteConflictError(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		slog.Debug("Database locked, retrying", "attempt", attempt, "error", err)
	}
	return err
}
