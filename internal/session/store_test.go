package session

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/shsh-panel/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// storeFactories lets every behavioral test run against both backends.
func storeFactories(t *testing.T, clock *fakeClock) map[string]Store {
	t.Helper()
	bolt, err := NewBoltStoreWithClock(filepath.Join(t.TempDir(), "sessions.db"), DefaultTTL, clock.Now)
	if err != nil {
		t.Fatalf("NewBoltStoreWithClock failed: %v", err)
	}
	t.Cleanup(func() { _ = bolt.Close() })

	return map[string]Store{
		"memory": NewMemoryStoreWithClock(DefaultTTL, clock.Now),
		"bolt":   bolt,
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	for name, store := range storeFactories(t, newFakeClock()) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s, err := store.Create(ctx, "t1", "bob", "/home/bob")
			if err != nil {
				t.Fatalf("Create failed: %v", err)
			}
			if s.ID == "" {
				t.Fatal("expected a session token")
			}

			got, err := store.Get(ctx, s.ID, "t1")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got.Cwd != "/home/bob" || got.Username != "bob" {
				t.Errorf("unexpected session %+v", got)
			}
		})
	}
}

func TestStore_ForeignTenantIsNotFound(t *testing.T) {
	for name, store := range storeFactories(t, newFakeClock()) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s, _ := store.Create(ctx, "t1", "bob", "/home/bob")

			_, err := store.Get(ctx, s.ID, "t2")
			if err != domain.ErrSessionNotFound {
				t.Fatalf("expected ErrSessionNotFound, got %v", err)
			}
			_, err = store.Get(ctx, "missing", "t1")
			if err != domain.ErrSessionNotFound {
				t.Fatalf("expected ErrSessionNotFound for missing token, got %v", err)
			}
		})
	}
}

func TestStore_SlidingExpiry(t *testing.T) {
	clock := newFakeClock()
	for name, store := range storeFactories(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s, _ := store.Create(ctx, "t1", "bob", "/home/bob")

			for i := 0; i < 5; i++ {
				clock.Advance(29 * time.Minute)
				got, err := store.Get(ctx, s.ID, "t1")
				if err != nil {
					t.Fatalf("refresh %d: session expired early: %v", i, err)
				}
				if err := store.Save(ctx, got); err != nil {
					t.Fatalf("Save failed: %v", err)
				}
			}

			clock.Advance(31 * time.Minute)
			if _, err := store.Get(ctx, s.ID, "t1"); err != domain.ErrSessionNotFound {
				t.Fatalf("expected idle session to expire, got %v", err)
			}
		})
	}
}

func TestStore_Destroy(t *testing.T) {
	for name, store := range storeFactories(t, newFakeClock()) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s, _ := store.Create(ctx, "t1", "bob", "/home/bob")
			if err := store.Destroy(ctx, s.ID); err != nil {
				t.Fatalf("Destroy failed: %v", err)
			}
			if _, err := store.Get(ctx, s.ID, "t1"); err != domain.ErrSessionNotFound {
				t.Fatalf("expected destroyed session to be gone, got %v", err)
			}
		})
	}
}

func TestStore_HistoryPersists(t *testing.T) {
	for name, store := range storeFactories(t, newFakeClock()) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s, _ := store.Create(ctx, "t1", "bob", "/home/bob")
			for i := 0; i < domain.MaxHistory+1; i++ {
				s.RecordCommand("echo", time.Now())
			}
			if err := store.Save(ctx, s); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			got, _ := store.Get(ctx, s.ID, "t1")
			if len(got.History) != domain.MaxHistory {
				t.Errorf("expected %d history entries, got %d", domain.MaxHistory, len(got.History))
			}
		})
	}
}

func TestStore_Sweep(t *testing.T) {
	clock := newFakeClock()
	for name, store := range storeFactories(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, _ = store.Create(ctx, "t1", "bob", "/home/bob")
			clock.Advance(time.Minute)
			fresh, _ := store.Create(ctx, "t1", "bob", "/home/bob")

			clock.Advance(DefaultTTL - 30*time.Second)
			removed, err := store.Sweep(ctx)
			if err != nil {
				t.Fatalf("Sweep failed: %v", err)
			}
			if removed != 1 {
				t.Errorf("expected 1 expired session removed, got %d", removed)
			}
			if _, err := store.Get(ctx, fresh.ID, "t1"); err != nil {
				t.Errorf("expected fresh session to survive sweep: %v", err)
			}
		})
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore(DefaultTTL)
	ctx := context.Background()
	s, _ := store.Create(ctx, "t1", "bob", "/home/bob")

	got, _ := store.Get(ctx, s.ID, "t1")
	got.Cwd = "/tmp"

	again, _ := store.Get(ctx, s.ID, "t1")
	if again.Cwd != "/home/bob" {
		t.Errorf("expected unsaved mutation to stay local, got %s", again.Cwd)
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore(DefaultTTL)
	ctx := context.Background()
	s, _ := store.Create(ctx, "t1", "bob", "/home/bob")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				got, err := store.Get(ctx, s.ID, "t1")
				if err != nil {
					t.Errorf("Get failed: %v", err)
					return
				}
				got.RecordCommand("ls", time.Now())
				_ = store.Save(ctx, got)
			}
		}()
	}
	wg.Wait()

	got, _ := store.Get(ctx, s.ID, "t1")
	if len(got.History) == 0 || len(got.History) > domain.MaxHistory {
		t.Errorf("unexpected history length %d", len(got.History))
	}
}
