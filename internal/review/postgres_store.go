package review

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresStore keeps live review contexts in the reviews table. Patches are
// stored as a JSONB column since they are only ever read back whole.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) Get(ctx context.Context, tenantID, threadID string) (*Review, error) {
	var r Review
	var state string
	var patchesRaw []byte
	err := s.db.QueryRowContext(ctx, `
        SELECT tenant_id, thread_id, kind, state, version, summary, patches, created_at, updated_at
        FROM reviews WHERE tenant_id=$1 AND thread_id=$2
    `, tenantID, threadID).Scan(
		&r.TenantID, &r.ThreadID, &r.Kind, &state, &r.Version, &r.Summary, &patchesRaw, &r.CreatedAt, &r.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get review: %w", err)
	}
	r.State = State(state)
	if len(patchesRaw) > 0 {
		if err := json.Unmarshal(patchesRaw, &r.Patches); err != nil {
			return nil, fmt.Errorf("failed to decode review patches: %w", err)
		}
	}
	return &r, nil
}

func (s *PostgresStore) Save(ctx context.Context, r *Review) error {
	now := time.Now().UTC()
	r.UpdatedAt = now
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	patchesRaw, err := json.Marshal(r.Patches)
	if err != nil {
		return fmt.Errorf("failed to encode review patches: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO reviews (tenant_id, thread_id, kind, state, version, summary, patches, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (tenant_id, thread_id) DO UPDATE
        SET kind = EXCLUDED.kind,
            state = EXCLUDED.state,
            version = EXCLUDED.version,
            summary = EXCLUDED.summary,
            patches = EXCLUDED.patches,
            updated_at = EXCLUDED.updated_at
    `, r.TenantID, r.ThreadID, r.Kind, string(r.State), r.Version, r.Summary, patchesRaw, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save review: %w", err)
	}
	return nil
}

// PostgresArtifactStore persists frozen artifacts. Rows are never updated.
type PostgresArtifactStore struct {
	db *sql.DB
}

func NewPostgresArtifactStore(db *sql.DB) *PostgresArtifactStore {
	return &PostgresArtifactStore{db: db}
}

func (s *PostgresArtifactStore) Save(ctx context.Context, a *Artifact) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO review_artifacts (id, tenant_id, source_thread_id, kind, summary, version, frozen_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
    `, a.ID, a.TenantID, a.SourceThreadID, a.Kind, a.Summary, a.Version, a.FrozenAt)
	if err != nil {
		return fmt.Errorf("failed to save review artifact: %w", err)
	}
	return nil
}

func (s *PostgresArtifactStore) GetLatestByThread(ctx context.Context, tenantID, threadID string) (*Artifact, error) {
	var a Artifact
	err := s.db.QueryRowContext(ctx, `
        SELECT id, tenant_id, source_thread_id, kind, summary, version, frozen_at
        FROM review_artifacts
        WHERE tenant_id=$1 AND source_thread_id=$2
        ORDER BY frozen_at DESC LIMIT 1
    `, tenantID, threadID).Scan(&a.ID, &a.TenantID, &a.SourceThreadID, &a.Kind, &a.Summary, &a.Version, &a.FrozenAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get review artifact: %w", err)
	}
	return &a, nil
}
