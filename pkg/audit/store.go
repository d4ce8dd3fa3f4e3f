package audit

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var bucketAudit = []byte("audit")

// BoltStore is a bbolt-backed durable mirror for the audit log, satisfying
// Store. Entries are keyed by their own monotonically increasing sequence
// number so List can return them in insertion order without a secondary
// index.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if needed) an "audit.db" file under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "audit.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("audit: open bbolt store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAudit)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: create bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Append writes e under a fresh monotonically increasing key.
func (s *BoltStore) Append(e Entry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAudit)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
}

// List returns up to limit entries matching groupID (or all groups, if
// groupID is empty), most recent first.
func (s *BoltStore) List(groupID string, limit int) ([]Entry, error) {
	var out []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAudit)
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if groupID == "" || e.GroupID == groupID {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

func seqKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%020d", seq))
}
