package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// Keys under which the engine persists its state. All values are JSON.
const (
	keyReceipts           = "receipts"
	keyTombstones         = "deleted_ids"
	keyCategories         = "categories"
	keyReimbursementNames = "reimbursement_names"
	keySettings           = "app_settings"
	keySessionRole        = "session_role"
)

// Store is the persistence capability injected into the engine: a small
// key-value surface over JSON-serializable values.
type Store interface {
	// Get unmarshals the value stored under key into out. The boolean is
	// false when the key is absent.
	Get(key string, out interface{}) (bool, error)

	// Put stores a value under key, replacing any previous value.
	Put(key string, value interface{}) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(key string) error

	Close() error
}

const storeBucket = "pocket"

// schemaVersion tags every persisted value so that an older payload cannot
// corrupt a newer build. Legacy values written without an envelope are read
// as version 0.
const schemaVersion = 1

type envelope struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// BoltStore implements Store on a local bbolt file.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBolt opens (or creates) the store file.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(storeBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create store bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Get(key string, out interface{}) (bool, error) {
	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket([]byte(storeBucket)).Get([]byte(key)); data != nil {
			raw = append(raw, data...)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to read %q: %w", key, err)
	}
	if raw == nil {
		return false, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Data != nil {
		if env.Version > schemaVersion {
			return false, fmt.Errorf("value %q has schema version %d, newer than supported %d", key, env.Version, schemaVersion)
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return false, fmt.Errorf("failed to decode %q: %w", key, err)
		}
		return true, nil
	}

	// Version 0: value written before envelopes existed. Read it as-is; the
	// next Put rewrites it in the current format.
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("failed to decode legacy %q: %w", key, err)
	}
	return true, nil
}

func (s *BoltStore) Put(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}
	wrapped, err := json.Marshal(envelope{Version: schemaVersion, Data: data})
	if err != nil {
		return fmt.Errorf("failed to wrap %q: %w", key, err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(storeBucket)).Put([]byte(key), wrapped)
	})
}

func (s *BoltStore) Delete(key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(storeBucket)).Delete([]byte(key))
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
