package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/threadscribe/internal/workflow"
)

// PostgresStore persists sessions one row per (tenant_id, thread_id). Upsert
// is a storage-level ON CONFLICT so concurrent writers never corrupt a row
// even if per-thread serialization is ever violated by a bug.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) Get(ctx context.Context, tenantID, threadID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT tenant_id, channel_id, thread_id, step, pending_action, pending_payload,
               ui_version, default_intent, default_intent_expiry,
               last_event_id, last_event_type, created_at, updated_at
        FROM sessions WHERE tenant_id=$1 AND thread_id=$2
    `, tenantID, threadID)
	return scanSession(row)
}

func (s *PostgresStore) Save(ctx context.Context, sess *Session) error {
	var payloadJSON []byte
	var err error
	if sess.PendingPayload != nil {
		payloadJSON, err = json.Marshal(sess.PendingPayload)
		if err != nil {
			return err
		}
	}
	sess.UpdatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO sessions (tenant_id, channel_id, thread_id, step, pending_action, pending_payload,
                              ui_version, default_intent, default_intent_expiry,
                              last_event_id, last_event_type, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
        ON CONFLICT (tenant_id, thread_id) DO UPDATE
        SET step=EXCLUDED.step,
            pending_action=EXCLUDED.pending_action,
            pending_payload=EXCLUDED.pending_payload,
            ui_version=EXCLUDED.ui_version,
            default_intent=EXCLUDED.default_intent,
            default_intent_expiry=EXCLUDED.default_intent_expiry,
            last_event_id=EXCLUDED.last_event_id,
            last_event_type=EXCLUDED.last_event_type,
            updated_at=EXCLUDED.updated_at
    `,
		sess.TenantID, sess.ChannelID, sess.ThreadID, string(sess.Step), string(sess.Pending), payloadJSON,
		sess.UIVersion, nullIfEmpty(sess.DefaultIntent), nullIfZeroTime(sess.DefaultIntentExpiry),
		nullIfEmpty(sess.LastEventID), nullIfEmpty(sess.LastEventType), sess.CreatedAt, sess.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetOrCreate(ctx context.Context, tenantID, channelID, threadID string) (*Session, error) {
	sess, err := s.Get(ctx, tenantID, threadID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	sess = New(tenantID, channelID, threadID)
	if err := s.Save(ctx, sess); err != nil {
		return nil, err
	}
	// A concurrent creator may have won the upsert; re-read so both callers
	// observe the same row.
	return s.Get(ctx, tenantID, threadID)
}

func scanSession(scanner interface{ Scan(dest ...any) error }) (*Session, error) {
	var sess Session
	var step, pending string
	var payloadJSON sql.NullString
	var defaultIntent, lastEventID, lastEventType sql.NullString
	var defaultExpiry sql.NullTime
	if err := scanner.Scan(&sess.TenantID, &sess.ChannelID, &sess.ThreadID, &step, &pending, &payloadJSON,
		&sess.UIVersion, &defaultIntent, &defaultExpiry,
		&lastEventID, &lastEventType, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	sess.Step = workflow.Step(step)
	sess.Pending = workflow.PendingAction(pending)
	if payloadJSON.Valid && payloadJSON.String != "" {
		payload := map[string]string{}
		if err := json.Unmarshal([]byte(payloadJSON.String), &payload); err == nil {
			sess.PendingPayload = payload
		}
	}
	sess.DefaultIntent = defaultIntent.String
	if defaultExpiry.Valid {
		sess.DefaultIntentExpiry = defaultExpiry.Time
	}
	sess.LastEventID = lastEventID.String
	sess.LastEventType = lastEventType.String
	return &sess, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZeroTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
