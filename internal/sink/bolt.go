package sink

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/boltdb/bolt"

	"github.com/psantana5/taskmon/internal/sampler"
)

var readingsBucket = []byte("readings")

// DefaultBoltLockTimeout bounds how long a handle waits for the file lock
// held by another process.
const DefaultBoltLockTimeout = 5 * time.Second

// BoltSink keeps readings in a bolt bucket keyed by sequence number.
// Bolt holds an exclusive file lock while open, so the writer and reader
// must never hold a handle at the same time.
type BoltSink struct {
	path        string
	lockTimeout time.Duration

	mu sync.Mutex
	db *bolt.DB
}

// NewBoltSink creates a sink backed by the bolt file at path
func NewBoltSink(path string) *BoltSink {
	return &BoltSink{path: path, lockTimeout: DefaultBoltLockTimeout}
}

func (s *BoltSink) conn() (*bolt.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db, nil
	}

	db, err := bolt.Open(s.path, 0o600, &bolt.Options{Timeout: s.lockTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt file %s: %w", s.path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(readingsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	s.db = db
	return db, nil
}

// Reset drops and recreates the readings bucket
func (s *BoltSink) Reset() error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	return db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(readingsBucket); err != nil && err != bolt.ErrBucketNotFound {
			return fmt.Errorf("failed to reset readings: %w", err)
		}
		_, err := tx.CreateBucket(readingsBucket)
		return err
	})
}

// Append stores one snapshot under the next sequence key
func (s *BoltSink) Append(snap sampler.Snapshot) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(readingsBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), payload)
	})
}

// ReadAll walks the bucket in key order, which is append order
func (s *BoltSink) ReadAll() ([]sampler.Snapshot, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	snaps := []sampler.Snapshot{}
	err = db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(readingsBucket).ForEach(func(k, v []byte) error {
			var snap sampler.Snapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return fmt.Errorf("failed to decode reading %d: %w", binary.BigEndian.Uint64(k), err)
			}
			snaps = append(snaps, snap)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return snaps, nil
}

// Close releases the file lock
func (s *BoltSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
