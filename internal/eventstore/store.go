// Package eventstore is the durable idempotency ledger for inbound events.
// Slack-style transports deliver at-least-once; this ledger is what makes
// processing exactly-once per logical event.
package eventstore

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrUnavailable is returned when the backing store cannot be reached. The
// router fails closed on this for anything that would cause an external
// write: "cannot confirm non-duplicate" is not permission to proceed.
var ErrUnavailable = errors.New("event store unavailable")

// DefaultTTL is how long processed-event rows are retained. Webhook retries
// never arrive later than this, so older rows are dead weight.
const DefaultTTL = 24 * time.Hour

// Store answers "have I processed this event before?" with an at-most-once
// guarantee under concurrent delivery.
type Store interface {
	IsProcessed(ctx context.Context, tenantID, eventID string) (bool, error)
	// MarkProcessed records the event and reports whether this call was the
	// one that first recorded it. A false return with nil error means another
	// delivery won the race; the caller must treat the event as a duplicate.
	MarkProcessed(ctx context.Context, tenantID, eventID string) (bool, error)
	// CleanupOlderThan removes rows older than ttl and returns the count.
	CleanupOlderThan(ctx context.Context, ttl time.Duration) (int64, error)
}

// InMemoryStore is a threadsafe in-memory ledger for tests and single-process
// development. Production deployments use PostgresStore so the guarantee
// holds across processes.
type InMemoryStore struct {
	mu        sync.Mutex
	processed map[string]time.Time
	now       func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		processed: make(map[string]time.Time),
		now:       time.Now,
	}
}

func ledgerKey(tenantID, eventID string) string { return tenantID + "/" + eventID }

func (s *InMemoryStore) IsProcessed(ctx context.Context, tenantID, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[ledgerKey(tenantID, eventID)]
	return ok, nil
}

func (s *InMemoryStore) MarkProcessed(ctx context.Context, tenantID, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := ledgerKey(tenantID, eventID)
	if _, ok := s.processed[k]; ok {
		return false, nil
	}
	s.processed[k] = s.now()
	return true, nil
}

func (s *InMemoryStore) CleanupOlderThan(ctx context.Context, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-ttl)
	var removed int64
	for k, at := range s.processed {
		if at.Before(cutoff) {
			delete(s.processed, k)
			removed++
		}
	}
	return removed, nil
}
