package eventstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/accordhq/accord/pkg/types"
)

var bucketEvents = []byte("events")

// BoltStore implements Store using BoltDB. Each session gets a nested
// bucket under "events" keyed by big-endian sequence number, so a cursor
// walk yields append order. The single Update transaction per Append
// makes the append atomic: no torn writes are visible to replay.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "accord.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", types.ErrStorageUnavailable, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEvents)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to create bucket: %v", types.ErrStorageUnavailable, err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Append implements Store
func (s *BoltStore) Append(sessionID string, ev *types.Event) (uint64, error) {
	var seq uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketEvents)
		b, err := root.CreateBucketIfNotExists([]byte(sessionID))
		if err != nil {
			return err
		}

		next, err := b.NextSequence()
		if err != nil {
			return err
		}

		stored := *ev
		stored.Seq = next
		data, err := json.Marshal(&stored)
		if err != nil {
			return err
		}

		if err := b.Put(seqKey(next), data); err != nil {
			return err
		}
		seq = next
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: append failed for %s: %v", types.ErrStorageUnavailable, sessionID, err)
	}
	return seq, nil
}

// Load implements Store
func (s *BoltStore) Load(sessionID string) ([]*types.Event, error) {
	var events []*types.Event
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents).Bucket([]byte(sessionID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var ev types.Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			events = append(events, &ev)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: load failed for %s: %v", types.ErrStorageUnavailable, sessionID, err)
	}
	return events, nil
}

// Sessions implements Store
func (s *BoltStore) Sessions() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEvents).ForEachBucket(func(k []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list sessions: %v", types.ErrStorageUnavailable, err)
	}
	return ids, nil
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
