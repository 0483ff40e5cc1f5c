package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/shsh-panel/internal/domain"
	bolt "go.etcd.io/bbolt"
)

var sessionsBucket = []byte("sessions")

// BoltStore persists sessions in a bbolt file so they survive restarts.
type BoltStore struct {
	db  *bolt.DB
	ttl time.Duration
	now Clock
}

// NewBoltStore opens (or creates) the session database at path.
func NewBoltStore(path string, ttl time.Duration) (*BoltStore, error) {
	return NewBoltStoreWithClock(path, ttl, time.Now)
}

// NewBoltStoreWithClock opens the session database driven by clock.
func NewBoltStoreWithClock(path string, ttl time.Duration, clock Clock) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create session database directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sessions bucket: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &BoltStore{db: db, ttl: ttl, now: clock}, nil
}

// Close closes the underlying database.
func (b *BoltStore) Close() error {
	return b.db.Close()
}

// Create starts a new session.
func (b *BoltStore) Create(ctx context.Context, tenantID, username, cwd string) (*domain.Session, error) {
	s := newSession(tenantID, username, cwd, b.now(), b.ttl)
	if err := b.put(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Get retrieves a live session by token for tenantID.
func (b *BoltStore) Get(_ context.Context, token, tenantID string) (*domain.Session, error) {
	var s *domain.Session
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(sessionsBucket).Get([]byte(token))
		if data == nil {
			return nil
		}
		var rec domain.Session
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}
		s = &rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s == nil || s.TenantID != tenantID || s.Expired(b.now()) {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

// Save stores the session and refreshes its expiry.
func (b *BoltStore) Save(_ context.Context, s *domain.Session) error {
	if s.ID == "" {
		return fmt.Errorf("session token cannot be empty")
	}
	touch(s, b.now(), b.ttl)
	return b.put(s)
}

func (b *BoltStore) put(s *domain.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put([]byte(s.ID), data)
	})
}

// Destroy removes a session.
func (b *BoltStore) Destroy(_ context.Context, token string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete([]byte(token))
	})
}

// Sweep removes expired sessions.
func (b *BoltStore) Sweep(_ context.Context) (int, error) {
	now := b.now()
	removed := 0
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(sessionsBucket)
		var stale [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var rec domain.Session
			if err := json.Unmarshal(v, &rec); err != nil || rec.Expired(now) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	return removed, nil
}
