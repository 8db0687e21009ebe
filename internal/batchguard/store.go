package batchguard

import (
	"context"
	"errors"
	"sync"
)

var ErrNotFound = errors.New("batch not found")

// Store persists the pending batch for a thread between the preview and the
// approval event. At most one batch per thread; approving or cancelling
// deletes it.
type Store interface {
	Get(ctx context.Context, tenantID, threadID string) (*Batch, error)
	Save(ctx context.Context, tenantID, threadID string, b *Batch) error
	Delete(ctx context.Context, tenantID, threadID string) error
}

type InMemoryStore struct {
	mu      sync.RWMutex
	batches map[string]*Batch
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{batches: make(map[string]*Batch)}
}

func batchKey(tenantID, threadID string) string { return tenantID + "/" + threadID }

func (s *InMemoryStore) Get(ctx context.Context, tenantID, threadID string) (*Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[batchKey(tenantID, threadID)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBatch(b), nil
}

func (s *InMemoryStore) Save(ctx context.Context, tenantID, threadID string, b *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[batchKey(tenantID, threadID)] = cloneBatch(b)
	return nil
}

func (s *InMemoryStore) Delete(ctx context.Context, tenantID, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.batches, batchKey(tenantID, threadID))
	return nil
}

func cloneBatch(b *Batch) *Batch {
	cp := *b
	cp.Items = append(cp.Items[:0:0], b.Items...)
	return &cp
}
