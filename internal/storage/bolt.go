// internal/storage/bolt.go
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"taskhub/internal/model"
)

// BoltStore implements Store on an embedded bbolt file. One bucket per
// partition keeps every tenant's range scans confined to its own B+tree.
// Intended for single-node deployments and local development.
type BoltStore struct {
	db *bolt.DB
}

// boltValue is the stored envelope: attributes plus the version the
// conditional-write protocol compares against.
type boltValue struct {
	Attributes json.RawMessage `json:"attributes"`
	Version    int64           `json:"version"`
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Get(_ context.Context, key Key) (*Record, error) {
	rec := Record{Key: key}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(key.Partition))
		if b == nil {
			return model.ErrNotFound
		}
		raw := b.Get([]byte(key.Sort))
		if raw == nil {
			return model.ErrNotFound
		}
		var v boltValue
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("decode record: %w", err)
		}
		rec.Attributes = v.Attributes
		rec.Version = v.Version
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *BoltStore) Put(_ context.Context, rec Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(rec.Key.Partition))
		if err != nil {
			return fmt.Errorf("create partition bucket: %w", err)
		}
		if b.Get([]byte(rec.Key.Sort)) != nil {
			return model.ErrConflict
		}
		return putValue(b, rec)
	})
}

func (s *BoltStore) PutIf(_ context.Context, rec Record, expectedVersion int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(rec.Key.Partition))
		if b == nil {
			return model.ErrNotFound
		}
		raw := b.Get([]byte(rec.Key.Sort))
		if raw == nil {
			return model.ErrNotFound
		}
		var v boltValue
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("decode record: %w", err)
		}
		if v.Version != expectedVersion {
			return model.ErrConflict
		}
		return putValue(b, rec)
	})
}

func (s *BoltStore) Delete(_ context.Context, key Key) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(key.Partition))
		if b == nil || b.Get([]byte(key.Sort)) == nil {
			return model.ErrNotFound
		}
		return b.Delete([]byte(key.Sort))
	})
}

func (s *BoltStore) Query(_ context.Context, partition, sortPrefix, afterSort string, limit int) (*Page, error) {
	page := &Page{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(partition))
		if b == nil {
			return nil // empty partition, empty page
		}

		c := b.Cursor()
		prefix := []byte(sortPrefix)
		var k, raw []byte
		if afterSort != "" && afterSort >= sortPrefix {
			k, raw = c.Seek([]byte(afterSort))
			if k != nil && string(k) == afterSort {
				k, raw = c.Next()
			}
		} else {
			k, raw = c.Seek(prefix)
		}

		for ; k != nil && bytes.HasPrefix(k, prefix); k, raw = c.Next() {
			var v boltValue
			if err := json.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
			page.Records = append(page.Records, Record{
				Key:        Key{Partition: partition, Sort: string(k)},
				Attributes: v.Attributes,
				Version:    v.Version,
			})
			if len(page.Records) == limit {
				page.NextCursor = string(k)
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func putValue(b *bolt.Bucket, rec Record) error {
	raw, err := json.Marshal(boltValue{Attributes: rec.Attributes, Version: rec.Version})
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return b.Put([]byte(rec.Key.Sort), raw)
}
