package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/okian/skillcheck/internal/domain/model"
)

const boltOpenTimeout = 1 * time.Second

// Bucket names.
var (
	sessionsBucket = []byte("sessions") //nolint:gochecknoglobals // bucket key
)

// BoltStore persists sessions as JSON documents in a bbolt database.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt database %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sessions bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Load implements SessionStore.Load.
func (b *BoltStore) Load(_ context.Context, sessionID string) (model.Session, error) {
	var s model.Session
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(sessionsBucket).Get([]byte(sessionID))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &s)
	})
	if err != nil {
		return model.Session{}, err
	}
	return s, nil
}

// Create implements SessionStore.Create.
func (b *BoltStore) Create(_ context.Context, s model.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", s.SessionID, err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(sessionsBucket)
		if bk.Get([]byte(s.SessionID)) != nil {
			return ErrExists
		}
		return bk.Put([]byte(s.SessionID), data)
	})
}

// Save implements SessionStore.Save.
func (b *BoltStore) Save(_ context.Context, s model.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", s.SessionID, err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put([]byte(s.SessionID), data)
	})
}

// ListFinalized implements SessionStore.ListFinalized. Keys iterate in byte order.
func (b *BoltStore) ListFinalized(_ context.Context) ([]model.CompositeResult, error) {
	var out []model.CompositeResult
	err := b.each(func(s model.Session) {
		if s.Composite != nil {
			out = append(out, *s.Composite)
		}
	})
	return out, err
}

// ListActive implements SessionStore.ListActive.
func (b *BoltStore) ListActive(_ context.Context) ([]model.Session, error) {
	var out []model.Session
	err := b.each(func(s model.Session) {
		if hasActiveStage(s) {
			out = append(out, s)
		}
	})
	return out, err
}

// Count implements SessionStore.Count.
func (b *BoltStore) Count(_ context.Context) int {
	n := 0
	_ = b.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(sessionsBucket).Stats().KeyN
		return nil
	})
	return n
}

// Close closes the database.
func (b *BoltStore) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *BoltStore) each(fn func(model.Session)) error {
	return b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).ForEach(func(k, v []byte) error {
			var s model.Session
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("decode session %s: %w", k, err)
			}
			fn(s)
			return nil
		})
	})
}
