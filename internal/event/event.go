package event

import "time"

// Type is the normalized transport event type. The transport layer (Slack
// socket-mode adapter or anything shaped like it) collapses its envelope into
// one of these before the event reaches the router.
type Type string

const (
	TypeMessage Type = "message"
	TypeButton  Type = "button"
	TypeSlash   Type = "slash"
	TypeModal   Type = "modal"
)

// Event is the normalized inbound event. The core never sees transport
// specifics beyond this shape.
type Event struct {
	ID        string            `json:"id"`
	Type      Type              `json:"type"`
	TenantID  string            `json:"tenant_id"`
	ChannelID string            `json:"channel_id"`
	ThreadID  string            `json:"thread_id"`
	ActorID   string            `json:"actor_id"`
	Text      string            `json:"text,omitempty"`
	Action    string            `json:"action,omitempty"`
	UIVersion int               `json:"ui_version,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Structured reports whether the event is a structured workflow interaction
// (as opposed to free text). Structured events are validated against the
// step allow-list before anything else looks at them.
func (e Event) Structured() bool {
	switch e.Type {
	case TypeButton, TypeSlash, TypeModal:
		return true
	}
	return false
}
