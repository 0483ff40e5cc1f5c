package shared

import (
	"context"
	"errors"
	"testing"
)

func TestIsSQLiteConflictError(t *testing.T) {
	if !IsSQLiteConflictError(errors.New("database is locked")) {
		t.Error("expected locked error to be a conflict")
	}
	if !IsSQLiteConflictError(errors.New("exec: SQLITE_BUSY")) {
		t.Error("expected busy error to be a conflict")
	}
	if IsSQLiteConflictError(errors.New("no such table")) || IsSQLiteConflictError(nil) {
		t.Error("unexpected conflict classification")
	}
}

func TestRetryOnConflict(t *testing.T) {
	calls := 0
	err := RetryOnConflict(context.Background(), func() error {
		calls++
		if calls < 2 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("expected success on second attempt, got err=%v calls=%d", err, calls)
	}

	calls = 0
	err = RetryOnConflict(context.Background(), func() error {
		calls++
		return errors.New("constraint failed")
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected immediate failure, got err=%v calls=%d", err, calls)
	}

	calls = 0
	err = RetryOnConflict(context.Background(), func() error {
		calls++
		return errors.New("SQLITE_BUSY")
	})
	if err == nil || calls != 3 {
		t.Fatalf("expected 3 attempts, got err=%v calls=%d", err, calls)
	}
}
