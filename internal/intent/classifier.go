package intent

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/threadscribe/internal/llm"
)

// Intent is the closed set of things a free-text message can ask for.
type Intent string

const (
	IntentTicket     Intent = "ticket"
	IntentReview     Intent = "review"
	IntentDiscussion Intent = "discussion"
	IntentMeta       Intent = "meta"
	IntentAmbiguous  Intent = "ambiguous"
)

func (i Intent) Valid() bool {
	switch i {
	case IntentTicket, IntentReview, IntentDiscussion, IntentMeta, IntentAmbiguous:
		return true
	}
	return false
}

// Result carries the label plus enough to explain it in logs.
type Result struct {
	Intent     Intent   `json:"intent"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons"`
}

// Context is the slice of session state classification is allowed to see.
// Deliberately small: pending workflow state must not leak into intent
// inference, that separation is what keeps the router's priority order honest.
type Context struct {
	ThreadID     string
	RecentFacts  []string
	ActorDisplay string
}

// Classifier maps free text to an intent. Deterministic trigger patterns run
// first; only when nothing matches does it fall through to the model, and the
// model's answer degrades to ambiguous on low confidence or any failure.
type Classifier struct {
	client    llm.Client
	threshold float64
}

const DefaultConfidenceThreshold = 0.65

func NewClassifier(client llm.Client, threshold float64) *Classifier {
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	return &Classifier{client: client, threshold: threshold}
}

// pattern is a deterministic trigger rule. Negations veto the match so that
// "don't create a ticket for this" never fast-paths to the ticket flow.
type pattern struct {
	intent    Intent
	triggers  []string
	negations []string
}

var patterns = []pattern{
	{
		intent:    IntentTicket,
		triggers:  []string{"create a ticket", "create ticket", "make a ticket", "file a ticket", "open a ticket", "create a jira", "file a jira", "make tickets", "create tickets"},
		negations: []string{"don't", "do not", "dont", "no ticket", "without creating"},
	},
	{
		intent:    IntentReview,
		triggers:  []string{"summarize this thread", "summarize the thread", "review this thread", "write up a review", "recap this discussion", "give me a summary"},
		negations: []string{"don't", "do not", "dont"},
	},
	{
		intent:   IntentMeta,
		triggers: []string{"what can you do", "help me use", "how do i use", "show commands", "what are your commands"},
	},
}

// Classify returns the intent for a free-text message.
func (c *Classifier) Classify(ctx context.Context, text string, sctx Context) (Result, error) {
	lower := strings.ToLower(text)

	for _, p := range patterns {
		if matched, trigger := p.match(lower); matched {
			return Result{
				Intent:     p.intent,
				Confidence: 1.0,
				Reasons:    []string{fmt.Sprintf("pattern match: %q", trigger)},
			}, nil
		}
	}

	if c.client == nil {
		return ambiguous("no classifier model configured"), nil
	}

	res, err := c.classifyLLM(ctx, text, sctx)
	if err != nil {
		// Fail open to the gate, never to a guessed intent.
		log.Warn().Err(err).Msg("intent classification fallback failed")
		return ambiguous("classification unavailable"), nil
	}

	if res.Confidence < c.threshold {
		res.Reasons = append(res.Reasons, fmt.Sprintf("confidence %.2f below threshold %.2f", res.Confidence, c.threshold))
		res.Intent = IntentAmbiguous
	}
	return res, nil
}

func ambiguous(reason string) Result {
	return Result{Intent: IntentAmbiguous, Confidence: 0, Reasons: []string{reason}}
}

const classifyPromptTemplate = `You classify a Slack message into exactly one intent.

Intents:
- ticket: the user wants one or more Jira tickets created from the discussion
- review: the user wants a written summary or review of the thread
- discussion: the user is discussing work without asking for an artifact
- meta: the user is asking about the assistant itself
- ambiguous: none of the above clearly applies

Message:
%s

%sRespond with JSON only: {"intent": "<label>", "confidence": <0..1>, "reason": "<short>"}
If you are not sure, answer "ambiguous". Do not guess.`

func (c *Classifier) classifyLLM(ctx context.Context, text string, sctx Context) (Result, error) {
	factBlock := ""
	if len(sctx.RecentFacts) > 0 {
		factBlock = "Known thread context:\n- " + strings.Join(sctx.RecentFacts, "\n- ") + "\n\n"
	}
	prompt := fmt.Sprintf(classifyPromptTemplate, text, factBlock)

	var parsed struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	}
	if _, err := llm.CompleteJSON(ctx, c.client, prompt, &parsed); err != nil {
		return Result{}, err
	}

	label := Intent(strings.ToLower(strings.TrimSpace(parsed.Intent)))
	if !label.Valid() {
		return ambiguous(fmt.Sprintf("model returned unknown label %q", parsed.Intent)), nil
	}

	reasons := []string{"llm fallback"}
	if parsed.Reason != "" {
		reasons = append(reasons, parsed.Reason)
	}
	return Result{Intent: label, Confidence: parsed.Confidence, Reasons: reasons}, nil
}

func (p pattern) match(lower string) (bool, string) {
	for _, n := range p.negations {
		if strings.Contains(lower, n) {
			return false, ""
		}
	}
	for _, trig := range p.triggers {
		if strings.Contains(lower, trig) {
			return true, trig
		}
	}
	return false, ""
}
