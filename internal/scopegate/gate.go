package scopegate

import (
	"fmt"
	"time"

	"github.com/threadscribe/internal/event"
	"github.com/threadscribe/internal/intent"
	"github.com/threadscribe/internal/session"
	"github.com/threadscribe/internal/workflow"
)

// DefaultMemoryTTL is how long a remembered thread intent stays in effect
// without activity before ambiguous messages hit the gate again.
const DefaultMemoryTTL = 2 * time.Hour

// Gate turns an ambiguous message into an explicit user choice instead of a
// guess. The fixed option set is deliberate: adding options here weakens the
// classifier's incentive to commit.
type Gate struct {
	memoryTTL time.Duration
}

func New() *Gate {
	return &Gate{memoryTTL: DefaultMemoryTTL}
}

func NewWithTTL(ttl time.Duration) *Gate {
	return &Gate{memoryTTL: ttl}
}

// PresentChoice pauses the session on the scope choice and returns the
// options the transport should render.
func (g *Gate) PresentChoice(sess *session.Session) *event.Response {
	sess.Pause(workflow.StepScopeGate, workflow.PendingScopeChoice, nil)
	sess.BumpUIVersion()

	return &event.Response{
		Text: "I wasn't sure what you'd like here. How should I treat this?",
		Options: []event.Option{
			{Action: workflow.ActionChooseReview, Label: "Treat as review"},
			{Action: workflow.ActionChooseTicket, Label: "Treat as ticket creation"},
			{Action: workflow.ActionDismiss, Label: "Dismiss"},
		},
		UIVersion: sess.UIVersion,
	}
}

// Resolve applies the user's explicit choice. With remember set, subsequent
// ambiguous messages in the thread skip the gate until the memory expires.
func (g *Gate) Resolve(sess *session.Session, choice string, remember bool) (intent.Intent, error) {
	var resolved intent.Intent
	switch choice {
	case workflow.ActionChooseReview:
		resolved = intent.IntentReview
	case workflow.ActionChooseTicket:
		resolved = intent.IntentTicket
	case workflow.ActionDismiss:
		resolved = intent.IntentDiscussion
	default:
		return "", fmt.Errorf("unknown scope choice: %s", choice)
	}

	sess.Resume()
	if remember && choice != workflow.ActionDismiss {
		sess.RememberIntent(string(resolved), g.memoryTTL)
	}
	return resolved, nil
}

// Forget clears the remembered thread intent early.
func (g *Gate) Forget(sess *session.Session) {
	sess.ForgetIntent()
}
