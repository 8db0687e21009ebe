package flows

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/threadscribe/internal/event"
	"github.com/threadscribe/internal/facts"
	"github.com/threadscribe/internal/intent"
	"github.com/threadscribe/internal/llm"
	"github.com/threadscribe/internal/session"
	"github.com/threadscribe/internal/workflow"
)

// handleDiscussion captures structured claims from an ordinary work message.
// No reply is rendered; the value is the facts remembered for later flows.
func (e *Engine) handleDiscussion(ctx context.Context, ev *event.Event, sess *session.Session) (*event.Response, error) {
	if err := e.extractFacts(ctx, ev); err != nil {
		// Fact capture is enrichment, not the interaction itself.
		log.Warn().Err(err).Str("thread_id", ev.ThreadID).Msg("fact extraction failed")
	}
	return &event.Response{}, nil
}

func (e *Engine) handleMeta(ctx context.Context, ev *event.Event, sess *session.Session) (*event.Response, error) {
	return &event.Response{Text: strings.TrimSpace(`
Here's what I can do in a thread:
- "create a ticket for ..." turns the discussion into Jira items (batches get a confirmation step)
- "summarize this thread" writes a review you can refine by replying; say "thanks, looks good" to finish it
- "create tickets from this" after a finished review turns it into work items
- /forget clears a remembered choice for this thread
`)}, nil
}

const extractFactsPrompt = `Extract durable claims from this message. Only claims a teammate
would want recorded: decisions made, constraints stated, assumptions taken.

Message:
%s

Respond with JSON only:
{"facts": [{"type": "decision|constraint|assumption", "text": "<claim>", "confidence": <0..1>}]}
An empty list is the right answer for small talk.`

func (e *Engine) extractFacts(ctx context.Context, ev *event.Event) error {
	var parsed struct {
		Facts []struct {
			Type       string  `json:"type"`
			Text       string  `json:"text"`
			Confidence float64 `json:"confidence"`
		} `json:"facts"`
	}
	if _, err := llm.CompleteJSON(ctx, e.client, fmt.Sprintf(extractFactsPrompt, ev.Text), &parsed); err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, f := range parsed.Facts {
		factType := facts.FactType(strings.ToLower(f.Type))
		switch factType {
		case facts.TypeDecision, facts.TypeConstraint, facts.TypeAssumption:
		default:
			continue
		}
		if strings.TrimSpace(f.Text) == "" {
			continue
		}
		if _, err := e.facts.Record(ctx, ev.TenantID, factType, facts.ScopeThread, ev.ThreadID, f.Text, f.Confidence, now); err != nil {
			return err
		}
	}
	return nil
}

// handleScopeChoice resolves a gate button click into a flow, replaying the
// message that originally hit the gate.
func (e *Engine) handleScopeChoice(ctx context.Context, ev *event.Event, sess *session.Session) (*event.Response, error) {
	parked := sess.PendingPayload["text"]
	remember := ev.Payload["remember"] == "true"

	resolved, err := e.gate.Resolve(sess, ev.Action, remember)
	if err != nil {
		return nil, err
	}
	sess.Step = workflow.StepIdle

	if resolved == intent.IntentDiscussion {
		return &event.Response{Text: "No problem, carrying on."}, nil
	}

	replay := *ev
	if parked != "" {
		replay.Text = parked
	}
	return e.RunIntent(ctx, resolved, &replay, sess)
}

// handleScopeChoiceText lets a free-text reply answer the gate ("review
// please") instead of forcing a button click.
func (e *Engine) handleScopeChoiceText(ctx context.Context, ev *event.Event, sess *session.Session) (*event.Response, error) {
	lower := strings.ToLower(ev.Text)
	var action string
	switch {
	case strings.Contains(lower, "review"):
		action = workflow.ActionChooseReview
	case strings.Contains(lower, "ticket"):
		action = workflow.ActionChooseTicket
	case strings.Contains(lower, "dismiss"), strings.Contains(lower, "never mind"), strings.Contains(lower, "nevermind"):
		action = workflow.ActionDismiss
	default:
		// Not an answer to the gate; re-present the choice keeping the
		// originally parked message.
		parked := sess.PendingPayload
		resp := e.gate.PresentChoice(sess)
		sess.PendingPayload = parked
		return resp, nil
	}

	choice := *ev
	choice.Action = action
	return e.handleScopeChoice(ctx, &choice, sess)
}
