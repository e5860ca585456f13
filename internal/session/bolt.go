package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketSessions = []byte("sessions")

// CLIKey is the slot used by the command line tools.
const CLIKey = "cli"

// BoltDB holds every console session in one bbolt file.
type BoltDB struct {
	db *bolt.DB
}

type record struct {
	Session *Session  `json:"session"`
	SavedAt time.Time `json:"saved_at"`
}

// OpenBolt opens (creating if needed) the session database at path.
func OpenBolt(path string) (*BoltDB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSessions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket %s: %w", bucketSessions, err)
	}

	return &BoltDB{db: db}, nil
}

// Close closes the database
func (b *BoltDB) Close() error {
	return b.db.Close()
}

// Store returns the Store for one session slot.
func (b *BoltDB) Store(key string) *BoltStore {
	return &BoltStore{db: b.db, key: []byte(key)}
}

// Count returns the number of stored sessions.
func (b *BoltDB) Count() (int, error) {
	var n int
	err := b.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketSessions).Stats().KeyN
		return nil
	})
	return n, err
}

// Purge deletes sessions saved before cutoff or whose token has expired.
// With dryRun set it only counts them.
func (b *BoltDB) Purge(cutoff time.Time, dryRun bool) (int, error) {
	now := time.Now()
	var n int

	fn := func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketSessions)

		var stale [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var rec record
			if json.Unmarshal(v, &rec) != nil ||
				rec.Session == nil ||
				rec.SavedAt.Before(cutoff) ||
				rec.Session.Expired(now) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		n = len(stale)
		if dryRun {
			return nil
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	}

	var err error
	if dryRun {
		err = b.db.View(fn)
	} else {
		err = b.db.Update(fn)
	}
	return n, err
}

// BoltStore is a Store bound to one key of a BoltDB.
type BoltStore struct {
	db  *bolt.DB
	key []byte
}

func (s *BoltStore) Load(ctx context.Context) (*Session, error) {
	var out *Session
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSessions).Get(s.key)
		if data == nil {
			return nil
		}
		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal session: %w", err)
		}
		out = rec.Session
		return nil
	})
	return out, err
}

func (s *BoltStore) Save(ctx context.Context, sess *Session) error {
	if sess == nil {
		return fmt.Errorf("%w: nil session", ErrInvalidSession)
	}
	data, err := json.Marshal(record{Session: sess, SavedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Put(s.key, data)
	})
}

func (s *BoltStore) Clear(ctx context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Delete(s.key)
	})
}
