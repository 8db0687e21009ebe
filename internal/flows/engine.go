package flows

import (
	"context"
	"fmt"

	"github.com/threadscribe/internal/batchguard"
	"github.com/threadscribe/internal/event"
	"github.com/threadscribe/internal/facts"
	"github.com/threadscribe/internal/intent"
	"github.com/threadscribe/internal/llm"
	"github.com/threadscribe/internal/review"
	"github.com/threadscribe/internal/scopegate"
	"github.com/threadscribe/internal/session"
	"github.com/threadscribe/internal/tickets"
	"github.com/threadscribe/internal/workflow"
)

// HandlerFunc advances one workflow in response to one accepted event. It may
// mutate the session; the caller persists it afterwards.
type HandlerFunc func(ctx context.Context, ev *event.Event, sess *session.Session) (*event.Response, error)

// Engine owns the business flows behind the router: ticket drafting and batch
// creation, review lifecycle, discussion fact capture, and the scope gate.
// The router decides which handler runs; the engine is what the handler does.
type Engine struct {
	facts        *facts.Service
	reviews      *review.Lifecycle
	artifacts    review.ArtifactStore
	gate         *scopegate.Gate
	batches      batchguard.Store
	ticketClient tickets.Client
	client       llm.Client
	projectKey   string

	continuations map[workflow.PendingAction]namedHandler
	dispatch      map[string]namedHandler
}

type namedHandler struct {
	name string
	fn   HandlerFunc
}

type Config struct {
	Facts        *facts.Service
	Reviews      *review.Lifecycle
	Artifacts    review.ArtifactStore
	Gate         *scopegate.Gate
	Batches      batchguard.Store
	TicketClient tickets.Client
	Client       llm.Client
	ProjectKey   string
}

func NewEngine(cfg Config) *Engine {
	e := &Engine{
		facts:        cfg.Facts,
		reviews:      cfg.Reviews,
		artifacts:    cfg.Artifacts,
		gate:         cfg.Gate,
		batches:      cfg.Batches,
		ticketClient: cfg.TicketClient,
		client:       cfg.Client,
		projectKey:   cfg.ProjectKey,
	}

	// Continuation handlers run for free-text messages while the session is
	// paused on the matching pending action.
	e.continuations = map[workflow.PendingAction]namedHandler{
		workflow.PendingReviewReply:     {"review_reply", e.handleReviewReply},
		workflow.PendingScopeChoice:     {"scope_choice_text", e.handleScopeChoiceText},
		workflow.PendingDraftApproval:   {"batch_reminder", e.handleBatchReminder},
		workflow.PendingQuantityConfirm: {"batch_reminder", e.handleBatchReminder},
		workflow.PendingSizeConfirm:     {"batch_reminder", e.handleBatchReminder},
		workflow.PendingBatchApproval:   {"batch_reminder", e.handleBatchReminder},
	}

	// Dispatch handlers run for structured events (buttons, modals, slash)
	// that passed step and version validation.
	e.dispatch = map[string]namedHandler{
		dispatchKey(workflow.StepDraftPreview, workflow.ActionApprove): {"draft_approve", e.handleBatchApprove},
		dispatchKey(workflow.StepDraftPreview, workflow.ActionReject):  {"draft_reject", e.handleBatchCancel},
		dispatchKey(workflow.StepDraftPreview, workflow.ActionEdit):    {"draft_edit", e.handleDraftEdit},

		dispatchKey(workflow.StepMultiItemPreview, workflow.ActionApprove):         {"batch_approve", e.handleBatchApprove},
		dispatchKey(workflow.StepMultiItemPreview, workflow.ActionCancel):          {"batch_cancel", e.handleBatchCancel},
		dispatchKey(workflow.StepMultiItemPreview, workflow.ActionEdit):            {"batch_edit", e.handleDraftEdit},
		dispatchKey(workflow.StepMultiItemPreview, workflow.ActionConfirmQuantity): {"batch_confirm_quantity", e.handleConfirmQuantity},
		dispatchKey(workflow.StepMultiItemPreview, workflow.ActionConfirmSplit):    {"batch_confirm_split", e.handleConfirmSplit},

		dispatchKey(workflow.StepReviewActive, workflow.ActionCompleteReview): {"review_complete", e.handleReviewComplete},
		dispatchKey(workflow.StepReviewActive, workflow.ActionSynthesize):     {"review_synthesize", e.handleReviewSynthesize},
		dispatchKey(workflow.StepReviewActive, workflow.ActionDismiss):        {"review_dismiss", e.handleReviewDismiss},

		dispatchKey(workflow.StepScopeGate, workflow.ActionChooseReview): {"scope_choose_review", e.handleScopeChoice},
		dispatchKey(workflow.StepScopeGate, workflow.ActionChooseTicket): {"scope_choose_ticket", e.handleScopeChoice},
		dispatchKey(workflow.StepScopeGate, workflow.ActionDismiss):      {"scope_dismiss", e.handleScopeChoice},
	}

	return e
}

func dispatchKey(step workflow.Step, action string) string {
	return string(step) + ":" + action
}

// Continuation returns the handler for free text while paused on pending.
func (e *Engine) Continuation(pending workflow.PendingAction) (string, HandlerFunc, bool) {
	h, ok := e.continuations[pending]
	return h.name, h.fn, ok
}

// Dispatch returns the handler for a validated structured action.
func (e *Engine) Dispatch(step workflow.Step, action string) (string, HandlerFunc, bool) {
	if action == workflow.ActionForget {
		return "forget_intent", e.handleForget, true
	}
	h, ok := e.dispatch[dispatchKey(step, action)]
	return h.name, h.fn, ok
}

// RunIntent routes a classified (or remembered, or gate-resolved) intent into
// its flow. Ambiguous never reaches here; the router sends it to the gate.
func (e *Engine) RunIntent(ctx context.Context, label intent.Intent, ev *event.Event, sess *session.Session) (*event.Response, error) {
	switch label {
	case intent.IntentTicket:
		return e.startTicketFlow(ctx, ev, sess)
	case intent.IntentReview:
		return e.startReviewFlow(ctx, ev, sess)
	case intent.IntentDiscussion:
		return e.handleDiscussion(ctx, ev, sess)
	case intent.IntentMeta:
		return e.handleMeta(ctx, ev, sess)
	default:
		return nil, fmt.Errorf("no flow for intent %s", label)
	}
}

// PresentGate pauses the session on the scope choice, parking the original
// message so the resolved choice can replay it into the right flow.
func (e *Engine) PresentGate(ev *event.Event, sess *session.Session) *event.Response {
	resp := e.gate.PresentChoice(sess)
	sess.PendingPayload = map[string]string{"text": ev.Text}
	return resp
}

func (e *Engine) handleForget(ctx context.Context, ev *event.Event, sess *session.Session) (*event.Response, error) {
	e.gate.Forget(sess)
	return &event.Response{Text: "Okay, I'll ask again next time instead of assuming."}, nil
}
