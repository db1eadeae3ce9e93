// internal/storage/memory.go
package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"taskhub/internal/model"
)

// MemoryStore is a mutex-guarded in-memory Store used by unit tests. It keeps
// the same conditional-write and prefix-scan semantics as the durable
// backends.
type MemoryStore struct {
	mu         sync.RWMutex
	partitions map[string]map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{partitions: make(map[string]map[string]Record)}
}

func (s *MemoryStore) Get(_ context.Context, key Key) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.partitions[key.Partition][key.Sort]
	if !ok {
		return nil, model.ErrNotFound
	}
	out := cloneRecord(rec)
	return &out, nil
}

func (s *MemoryStore) Put(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.partitions[rec.Key.Partition]
	if !ok {
		p = make(map[string]Record)
		s.partitions[rec.Key.Partition] = p
	}
	if _, exists := p[rec.Key.Sort]; exists {
		return model.ErrConflict
	}
	p[rec.Key.Sort] = cloneRecord(rec)
	return nil
}

func (s *MemoryStore) PutIf(_ context.Context, rec Record, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.partitions[rec.Key.Partition]
	cur, ok := p[rec.Key.Sort]
	if !ok {
		return model.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return model.ErrConflict
	}
	p[rec.Key.Sort] = cloneRecord(rec)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.partitions[key.Partition]
	if _, ok := p[key.Sort]; !ok {
		return model.ErrNotFound
	}
	delete(p, key.Sort)
	return nil
}

func (s *MemoryStore) Query(_ context.Context, partition, sortPrefix, afterSort string, limit int) (*Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k := range s.partitions[partition] {
		if strings.HasPrefix(k, sortPrefix) && k > afterSort {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	page := &Page{}
	for _, k := range keys {
		page.Records = append(page.Records, cloneRecord(s.partitions[partition][k]))
		if len(page.Records) == limit {
			page.NextCursor = k
			break
		}
	}
	return page, nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneRecord(rec Record) Record {
	out := rec
	out.Attributes = append([]byte(nil), rec.Attributes...)
	return out
}
