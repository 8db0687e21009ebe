package facts

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore backs the fact store with merge-by-canonical-id done as an
// ON CONFLICT upsert, so concurrent extractors of the same claim converge on
// one row without coordination.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) Upsert(ctx context.Context, f *Fact) (bool, error) {
	now := time.Now().UTC()
	var created bool
	err := s.db.QueryRowContext(ctx, `
        INSERT INTO facts (tenant_id, canonical_id, fact_type, scope, scope_id, text, confidence, source_ts, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
        ON CONFLICT (tenant_id, canonical_id) DO UPDATE
        SET confidence = GREATEST(facts.confidence, EXCLUDED.confidence),
            source_ts = EXCLUDED.source_ts,
            updated_at = EXCLUDED.updated_at
        RETURNING (xmax = 0)
    `,
		f.TenantID, f.CanonicalID, string(f.Type), string(f.Scope), f.ScopeID, f.Text, f.Confidence, f.SourceTS, now,
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("failed to upsert fact: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) ListByScope(ctx context.Context, tenantID string, scope Scope, scopeID string) ([]*Fact, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT tenant_id, canonical_id, fact_type, scope, scope_id, text, confidence, source_ts, created_at, updated_at
        FROM facts WHERE tenant_id=$1 AND scope=$2 AND scope_id=$3
        ORDER BY confidence DESC, updated_at DESC
    `, tenantID, string(scope), scopeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query facts: %w", err)
	}
	defer rows.Close()

	out := make([]*Fact, 0)
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountByScope(ctx context.Context, tenantID string, scope Scope, scopeID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
        SELECT COUNT(*) FROM facts WHERE tenant_id=$1 AND scope=$2 AND scope_id=$3
    `, tenantID, string(scope), scopeID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count facts: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) DeleteWeakest(ctx context.Context, tenantID string, scope Scope, scopeID string, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
        DELETE FROM facts
        WHERE ctid IN (
            SELECT ctid FROM facts
            WHERE tenant_id=$1 AND scope=$2 AND scope_id=$3
            ORDER BY confidence ASC, updated_at ASC
            LIMIT $4
        )
    `, tenantID, string(scope), scopeID, n)
	if err != nil {
		return 0, fmt.Errorf("failed to evict facts: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(removed), nil
}

func scanFact(scanner interface{ Scan(dest ...any) error }) (*Fact, error) {
	var f Fact
	var factType, scope string
	if err := scanner.Scan(&f.TenantID, &f.CanonicalID, &factType, &scope, &f.ScopeID, &f.Text, &f.Confidence, &f.SourceTS, &f.CreatedAt, &f.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	f.Type = FactType(factType)
	f.Scope = Scope(scope)
	return &f, nil
}
