package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore backs the ledger with a unique constraint on
// (tenant_id, event_id). The insert-if-absent is done by the database, not by
// application locking, so the at-most-once guarantee holds with any number of
// handler processes.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) IsProcessed(ctx context.Context, tenantID, eventID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
        SELECT EXISTS (SELECT 1 FROM processed_events WHERE tenant_id=$1 AND event_id=$2)
    `, tenantID, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return exists, nil
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, tenantID, eventID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO processed_events (tenant_id, event_id, processed_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (tenant_id, event_id) DO NOTHING
    `, tenantID, eventID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	// Zero rows means the conflict clause fired: another delivery got here first.
	return rows == 1, nil
}

func (s *PostgresStore) CleanupOlderThan(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	res, err := s.db.ExecContext(ctx, `DELETE FROM processed_events WHERE processed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep processed events: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count swept events: %w", err)
	}
	return removed, nil
}
