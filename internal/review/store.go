package review

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("review not found")

// Store persists live review contexts, one per thread.
type Store interface {
	Get(ctx context.Context, tenantID, threadID string) (*Review, error)
	Save(ctx context.Context, r *Review) error
}

// ArtifactStore persists frozen artifacts. Artifacts are append-only.
type ArtifactStore interface {
	Save(ctx context.Context, a *Artifact) error
	GetLatestByThread(ctx context.Context, tenantID, threadID string) (*Artifact, error)
}

type InMemoryStore struct {
	mu      sync.RWMutex
	reviews map[string]*Review
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{reviews: make(map[string]*Review)}
}

func reviewKey(tenantID, threadID string) string { return tenantID + "/" + threadID }

func (s *InMemoryStore) Get(ctx context.Context, tenantID, threadID string) (*Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reviews[reviewKey(tenantID, threadID)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneReview(r), nil
}

func (s *InMemoryStore) Save(ctx context.Context, r *Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.UpdatedAt = time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = r.UpdatedAt
	}
	s.reviews[reviewKey(r.TenantID, r.ThreadID)] = cloneReview(r)
	return nil
}

func cloneReview(r *Review) *Review {
	cp := *r
	cp.Patches = make([]Patch, len(r.Patches))
	for i, p := range r.Patches {
		cp.Patches[i] = clonePatch(p)
	}
	return &cp
}

func clonePatch(p Patch) Patch {
	cp := p
	cp.NewDecisions = append([]string(nil), p.NewDecisions...)
	cp.NewRisks = append([]string(nil), p.NewRisks...)
	cp.OpenQuestions = append([]string(nil), p.OpenQuestions...)
	cp.Changes = append([]string(nil), p.Changes...)
	return cp
}

type InMemoryArtifactStore struct {
	mu        sync.RWMutex
	artifacts []*Artifact
}

func NewInMemoryArtifactStore() *InMemoryArtifactStore {
	return &InMemoryArtifactStore{}
}

func (s *InMemoryArtifactStore) Save(ctx context.Context, a *Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.artifacts = append(s.artifacts, &cp)
	return nil
}

func (s *InMemoryArtifactStore) GetLatestByThread(ctx context.Context, tenantID, threadID string) (*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.artifacts) - 1; i >= 0; i-- {
		a := s.artifacts[i]
		if a.TenantID == tenantID && a.SourceThreadID == threadID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}
