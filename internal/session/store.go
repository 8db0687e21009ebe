package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("session not found")

// Store persists per-thread sessions as independent keyed records.
type Store interface {
	Get(ctx context.Context, tenantID, threadID string) (*Session, error)
	// Save upserts the full session record.
	Save(ctx context.Context, s *Session) error
	// GetOrCreate returns the existing session or a freshly saved idle one.
	GetOrCreate(ctx context.Context, tenantID, channelID, threadID string) (*Session, error)
}

// InMemoryStore is a threadsafe in-memory store for tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

func key(tenantID, threadID string) string { return tenantID + "/" + threadID }

func (s *InMemoryStore) Get(ctx context.Context, tenantID, threadID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.sessions[key(tenantID, threadID)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(v), nil
}

func (s *InMemoryStore) Save(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.UpdatedAt = s.now()
	s.sessions[key(sess.TenantID, sess.ThreadID)] = cloneSession(sess)
	return nil
}

func (s *InMemoryStore) GetOrCreate(ctx context.Context, tenantID, channelID, threadID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.sessions[key(tenantID, threadID)]; ok {
		return cloneSession(v), nil
	}
	sess := New(tenantID, channelID, threadID)
	s.sessions[key(tenantID, threadID)] = cloneSession(sess)
	return sess, nil
}

func cloneSession(s *Session) *Session {
	if s == nil {
		return nil
	}
	cp := *s
	if s.PendingPayload != nil {
		cp.PendingPayload = make(map[string]string, len(s.PendingPayload))
		for k, v := range s.PendingPayload {
			cp.PendingPayload[k] = v
		}
	}
	return &cp
}
