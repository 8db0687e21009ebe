package batchguard

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore keeps the pending batch as one JSONB row per thread so that
// any handler process can pick up the approval event.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) Get(ctx context.Context, tenantID, threadID string) (*Batch, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
        SELECT payload FROM pending_batches WHERE tenant_id=$1 AND thread_id=$2
    `, tenantID, threadID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending batch: %w", err)
	}
	var b Batch
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("failed to decode pending batch: %w", err)
	}
	return &b, nil
}

func (s *PostgresStore) Save(ctx context.Context, tenantID, threadID string, b *Batch) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to encode pending batch: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO pending_batches (tenant_id, thread_id, payload, updated_at)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (tenant_id, thread_id) DO UPDATE
        SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
    `, tenantID, threadID, raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save pending batch: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, tenantID, threadID string) error {
	_, err := s.db.ExecContext(ctx, `
        DELETE FROM pending_batches WHERE tenant_id=$1 AND thread_id=$2
    `, tenantID, threadID)
	if err != nil {
		return fmt.Errorf("failed to delete pending batch: %w", err)
	}
	return nil
}
