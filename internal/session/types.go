package session

import (
	"time"

	"github.com/threadscribe/internal/workflow"
)

// Session is the per-conversation-thread workflow state. One row per
// (tenant, thread); created on first message, never hard-deleted. It holds
// position only: business logic lives in the flow nodes that mutate it.
type Session struct {
	TenantID  string `json:"tenant_id"`
	ChannelID string `json:"channel_id"`
	ThreadID  string `json:"thread_id"`

	Step workflow.Step `json:"step"`

	// Pending is set if and only if the session is paused awaiting a specific
	// response. While set, free-text messages are offered to the continuation
	// handler for this action before any intent classification runs.
	Pending        workflow.PendingAction `json:"pending_action"`
	PendingPayload map[string]string      `json:"pending_payload,omitempty"`

	// UIVersion increments every time a preview is re-rendered, so clicks on
	// an older rendering can be detected and rejected.
	UIVersion int `json:"ui_version"`

	// DefaultIntent, while unexpired, routes ambiguous messages in this
	// thread without re-asking through the scope gate.
	DefaultIntent       string    `json:"thread_default_intent,omitempty"`
	DefaultIntentExpiry time.Time `json:"thread_default_intent_expiry,omitempty"`

	// Audit trail of the last accepted event.
	LastEventID   string `json:"last_event_id,omitempty"`
	LastEventType string `json:"last_event_type,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns a fresh idle session for a thread.
func New(tenantID, channelID, threadID string) *Session {
	now := time.Now().UTC()
	return &Session{
		TenantID:  tenantID,
		ChannelID: channelID,
		ThreadID:  threadID,
		Step:      workflow.StepIdle,
		Pending:   workflow.PendingNone,
		UIVersion: 0,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Paused reports whether the session is waiting on a specific response.
func (s *Session) Paused() bool {
	return s.Pending != workflow.PendingNone
}

// Pause records what the session is now waiting for, with minimal references
// (ids, not whole objects) needed to resume.
func (s *Session) Pause(step workflow.Step, pending workflow.PendingAction, payload map[string]string) {
	s.Step = step
	s.Pending = pending
	s.PendingPayload = payload
}

// Resume clears the pause and returns the payload that was parked.
func (s *Session) Resume() map[string]string {
	payload := s.PendingPayload
	s.Pending = workflow.PendingNone
	s.PendingPayload = nil
	return payload
}

// BumpUIVersion advances the preview version and returns the new value.
func (s *Session) BumpUIVersion() int {
	s.UIVersion++
	return s.UIVersion
}

// RememberIntent pins a default intent for the thread until expiry.
func (s *Session) RememberIntent(intent string, ttl time.Duration) {
	s.DefaultIntent = intent
	s.DefaultIntentExpiry = time.Now().UTC().Add(ttl)
}

// ForgetIntent clears any remembered default intent.
func (s *Session) ForgetIntent() {
	s.DefaultIntent = ""
	s.DefaultIntentExpiry = time.Time{}
}

// ActiveDefaultIntent returns the remembered intent, or "" if none is set or
// it has expired.
func (s *Session) ActiveDefaultIntent(now time.Time) string {
	if s.DefaultIntent == "" {
		return ""
	}
	if !s.DefaultIntentExpiry.IsZero() && now.After(s.DefaultIntentExpiry) {
		return ""
	}
	return s.DefaultIntent
}
