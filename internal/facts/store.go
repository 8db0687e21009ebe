package facts

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrNotFound = errors.New("fact not found")

// Store is the durable, merge-on-write fact store. Upsert must be race-safe
// at the storage layer (merge by canonical id), not via application locks.
type Store interface {
	// Upsert inserts the fact or merges it into the existing record with the
	// same canonical id: the higher confidence wins, recency is refreshed.
	// Returns true when a new record was created.
	Upsert(ctx context.Context, f *Fact) (bool, error)
	ListByScope(ctx context.Context, tenantID string, scope Scope, scopeID string) ([]*Fact, error)
	CountByScope(ctx context.Context, tenantID string, scope Scope, scopeID string) (int, error)
	// DeleteWeakest removes the n lowest-confidence (oldest first on ties)
	// facts in a scope. Used by budget eviction.
	DeleteWeakest(ctx context.Context, tenantID string, scope Scope, scopeID string, n int) (int, error)
}

// InMemoryStore is a threadsafe in-memory store for tests.
type InMemoryStore struct {
	mu   sync.RWMutex
	byID map[string]*Fact
	now  func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID: make(map[string]*Fact),
		now:  time.Now,
	}
}

func factKey(tenantID, canonicalID string) string { return tenantID + "/" + canonicalID }

func (s *InMemoryStore) Upsert(ctx context.Context, f *Fact) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := factKey(f.TenantID, f.CanonicalID)
	existing, ok := s.byID[k]
	now := s.now()
	if !ok {
		cp := *f
		cp.CreatedAt = now
		cp.UpdatedAt = now
		s.byID[k] = &cp
		return true, nil
	}
	if f.Confidence > existing.Confidence {
		existing.Confidence = f.Confidence
	}
	existing.SourceTS = f.SourceTS
	existing.UpdatedAt = now
	return false, nil
}

func (s *InMemoryStore) ListByScope(ctx context.Context, tenantID string, scope Scope, scopeID string) ([]*Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Fact, 0)
	for _, f := range s.byID {
		if f.TenantID == tenantID && f.Scope == scope && f.ScopeID == scopeID {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) CountByScope(ctx context.Context, tenantID string, scope Scope, scopeID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, f := range s.byID {
		if f.TenantID == tenantID && f.Scope == scope && f.ScopeID == scopeID {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) DeleteWeakest(ctx context.Context, tenantID string, scope Scope, scopeID string, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	all, err := s.ListByScope(ctx, tenantID, scope, scopeID)
	if err != nil {
		return 0, err
	}
	// ListByScope sorts strongest-first; evict from the tail.
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for i := len(all) - 1; i >= 0 && removed < n; i-- {
		delete(s.byID, factKey(tenantID, all[i].CanonicalID))
		removed++
	}
	return removed, nil
}
