package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/threadscribe/internal/event"
	"github.com/threadscribe/internal/eventstore"
	"github.com/threadscribe/internal/facts"
	"github.com/threadscribe/internal/flows"
	"github.com/threadscribe/internal/intent"
	"github.com/threadscribe/internal/session"
	"github.com/threadscribe/internal/workflow"
)

// ErrRetryable is returned when the event could not be safely processed now
// but a redelivery may succeed (idempotency ledger unreachable). The caller
// should surface a retryable failure to the transport, never proceed.
var ErrRetryable = errors.New("event processing unavailable, retry")

// Router decides what an inbound event is before anything runs: duplicate,
// stale click, workflow continuation, or a fresh intent. The priority order
// is strict; natural-language inference only runs once no explicit structure
// applies.
type Router struct {
	sessions   session.Store
	events     eventstore.Store
	classifier *intent.Classifier
	engine     *flows.Engine
	facts      *facts.Service
	now        func() time.Time
}

func New(sessions session.Store, events eventstore.Store, classifier *intent.Classifier, engine *flows.Engine, factSvc *facts.Service) *Router {
	return &Router{
		sessions:   sessions,
		events:     events,
		classifier: classifier,
		engine:     engine,
		facts:      factSvc,
		now:        time.Now,
	}
}

// Process routes and handles one event. Exactly-one-side-effect is enforced
// by claiming the event id in the ledger immediately before the handler runs;
// if the ledger cannot be reached the event fails closed.
func (r *Router) Process(ctx context.Context, ev *event.Event) (*event.Decision, error) {
	if ev.ID == "" || ev.TenantID == "" || ev.ThreadID == "" {
		return nil, fmt.Errorf("event missing id, tenant, or thread")
	}

	sess, err := r.sessions.GetOrCreate(ctx, ev.TenantID, ev.ChannelID, ev.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	processed, err := r.events.IsProcessed(ctx, ev.TenantID, ev.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetryable, err)
	}
	if processed {
		return &event.Decision{Kind: event.DecisionDuplicate, Response: event.Response{Text: event.DuplicateMessage}}, nil
	}

	if ev.Structured() {
		return r.processStructured(ctx, ev, sess)
	}
	return r.processMessage(ctx, ev, sess)
}

// processStructured handles button clicks, modal submits, and slash commands.
// Step allow-list and UI version checks run before the event is even claimed:
// a stale click is informational, not a consumed delivery.
func (r *Router) processStructured(ctx context.Context, ev *event.Event, sess *session.Session) (*event.Decision, error) {
	if !workflow.ValidateEvent(sess.Step, ev.Action) {
		log.Debug().Str("action", ev.Action).Str("step", string(sess.Step)).Msg("action not allowed at step")
		return staleUI(), nil
	}
	if ev.Type != event.TypeSlash && !workflow.ValidateUIVersion(sess.UIVersion, ev.UIVersion) {
		log.Debug().Int("event_version", ev.UIVersion).Int("session_version", sess.UIVersion).Msg("stale ui version")
		return staleUI(), nil
	}

	name, handler, ok := r.engine.Dispatch(sess.Step, ev.Action)
	if !ok {
		return staleUI(), nil
	}

	decision, err := r.claimAndRun(ctx, ev, sess, name, handler)
	if err != nil {
		return decision, err
	}
	if decision.Kind == event.DecisionContinuation {
		decision.Handler = name
	}
	return decision, nil
}

// processMessage handles free text in priority order: pending continuation,
// remembered thread intent, then classification.
func (r *Router) processMessage(ctx context.Context, ev *event.Event, sess *session.Session) (*event.Decision, error) {
	if sess.Paused() {
		if name, handler, ok := r.engine.Continuation(sess.Pending); ok {
			decision, err := r.claimAndRun(ctx, ev, sess, name, handler)
			if err != nil {
				return decision, err
			}
			if decision.Kind == event.DecisionContinuation {
				decision.Handler = name
			}
			return decision, nil
		}
	}

	if remembered := sess.ActiveDefaultIntent(r.now()); remembered != "" {
		label := intent.Intent(remembered)
		decision, err := r.claimAndRun(ctx, ev, sess, "intent_"+remembered, r.intentHandler(label))
		if err != nil {
			return decision, err
		}
		if decision.Kind == event.DecisionContinuation {
			decision.Kind = event.DecisionClassified
			decision.Intent = remembered
		}
		return decision, nil
	}

	result, err := r.classifier.Classify(ctx, ev.Text, r.classifierContext(ctx, ev))
	if err != nil {
		return nil, err
	}

	if result.Intent == intent.IntentAmbiguous {
		decision, err := r.claimAndRun(ctx, ev, sess, "scope_gate", r.gateHandler())
		if err != nil {
			return decision, err
		}
		if decision.Kind == event.DecisionContinuation {
			decision.Kind = event.DecisionGate
		}
		return decision, nil
	}

	decision, err := r.claimAndRun(ctx, ev, sess, "intent_"+string(result.Intent), r.intentHandler(result.Intent))
	if err != nil {
		return decision, err
	}
	if decision.Kind == event.DecisionContinuation {
		decision.Kind = event.DecisionClassified
		decision.Intent = string(result.Intent)
	}
	return decision, nil
}

func (r *Router) intentHandler(label intent.Intent) flows.HandlerFunc {
	return func(ctx context.Context, ev *event.Event, sess *session.Session) (*event.Response, error) {
		return r.engine.RunIntent(ctx, label, ev, sess)
	}
}

func (r *Router) gateHandler() flows.HandlerFunc {
	return func(ctx context.Context, ev *event.Event, sess *session.Session) (*event.Response, error) {
		return r.engine.PresentGate(ev, sess), nil
	}
}

// claimAndRun marks the event processed (failing closed when the ledger is
// unreachable, losing the race means duplicate), runs the handler, re-checks
// that the stored session has not advanced underneath it, and persists the
// session with its audit fields.
func (r *Router) claimAndRun(ctx context.Context, ev *event.Event, sess *session.Session, name string, handler flows.HandlerFunc) (*event.Decision, error) {
	won, err := r.events.MarkProcessed(ctx, ev.TenantID, ev.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetryable, err)
	}
	if !won {
		return &event.Decision{Kind: event.DecisionDuplicate, Response: event.Response{Text: event.DuplicateMessage}}, nil
	}

	startVersion := sess.UIVersion
	startPending := sess.Pending

	resp, err := handler(ctx, ev, sess)
	if err != nil {
		// The claim stands: at-most-once. The handler owns making its own
		// external writes retry-safe (idempotency keys).
		log.Error().Err(err).Str("handler", name).Str("event_id", ev.ID).Msg("handler failed")
		return nil, err
	}

	// Another process may have advanced the thread while the handler ran.
	// Re-read and validate before commit; a stale result is discarded, not
	// written over the newer state.
	current, err := r.sessions.Get(ctx, ev.TenantID, ev.ThreadID)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return nil, fmt.Errorf("failed to reload session: %w", err)
	}
	if current != nil && (current.UIVersion != startVersion || current.Pending != startPending) {
		log.Warn().Str("event_id", ev.ID).Str("handler", name).
			Int("start_version", startVersion).Int("current_version", current.UIVersion).
			Msg("session advanced during handling, discarding result")
		return staleUI(), nil
	}

	sess.LastEventID = ev.ID
	sess.LastEventType = string(ev.Type)
	if err := r.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	decision := &event.Decision{Kind: event.DecisionContinuation}
	if resp != nil {
		decision.Response = *resp
	}
	return decision, nil
}

// classifierContext pulls the top thread facts into the classifier's view.
// Store trouble degrades to "no prior facts", never to a failed interaction.
func (r *Router) classifierContext(ctx context.Context, ev *event.Event) intent.Context {
	sctx := intent.Context{ThreadID: ev.ThreadID, ActorDisplay: ev.ActorID}
	if r.facts == nil {
		return sctx
	}
	relevant, err := r.facts.FetchRelevant(ctx, ev.TenantID, facts.ScopeThread, ev.ThreadID, ev.Text, 5)
	if err != nil {
		log.Debug().Err(err).Msg("fact fetch for classification failed")
		return sctx
	}
	for _, f := range relevant {
		sctx.RecentFacts = append(sctx.RecentFacts, f.Text)
	}
	return sctx
}

func staleUI() *event.Decision {
	return &event.Decision{
		Kind:     event.DecisionStaleUI,
		Response: event.Response{Text: event.StaleUIMessage},
	}
}
