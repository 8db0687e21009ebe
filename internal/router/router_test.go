package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadscribe/internal/batchguard"
	"github.com/threadscribe/internal/event"
	"github.com/threadscribe/internal/eventstore"
	"github.com/threadscribe/internal/facts"
	"github.com/threadscribe/internal/flows"
	"github.com/threadscribe/internal/intent"
	"github.com/threadscribe/internal/llm"
	"github.com/threadscribe/internal/review"
	"github.com/threadscribe/internal/scopegate"
	"github.com/threadscribe/internal/session"
	"github.com/threadscribe/internal/tickets"
	"github.com/threadscribe/internal/workflow"
)

// promptLLM answers by prompt shape, so one fake serves extraction,
// classification, and review synthesis.
type promptLLM struct{}

func (promptLLM) Complete(ctx context.Context, prompt string) (string, error) {
	switch {
	case strings.Contains(prompt, "Extract the Jira items"):
		if strings.Contains(prompt, "epic with 7 stories") {
			items := []string{`{"summary":"auth epic","description":"","issue_type":"epic","parent_index":-1}`}
			for i := 1; i <= 7; i++ {
				items = append(items, fmt.Sprintf(`{"summary":"story %d","description":"","issue_type":"story","parent_index":0}`, i))
			}
			return `{"items":[` + strings.Join(items, ",") + `]}`, nil
		}
		return `{"items":[{"summary":"fix login bug","description":"","issue_type":"bug","parent_index":-1}]}`, nil
	case strings.Contains(prompt, "Extract durable claims"):
		return `{"facts":[]}`, nil
	case strings.Contains(prompt, "classify a Slack message"):
		if strings.Contains(prompt, "microservices") {
			return `{"intent":"ambiguous","confidence":0.3}`, nil
		}
		if strings.Contains(prompt, "epic with 7 stories") {
			return `{"intent":"ticket","confidence":0.9}`, nil
		}
		return `{"intent":"discussion","confidence":0.9}`, nil
	case strings.Contains(prompt, "incremental delta"):
		return `{"new_decisions":["IdP is Okta"],"new_risks":[],"open_questions":[],"changes":[]}`, nil
	default:
		// initial review or full synthesis
		return "Summary of the thread discussion.", nil
	}
}

type recordingTickets struct {
	mu       sync.Mutex
	requests []tickets.CreateRequest
}

func (r *recordingTickets) CreateBatch(ctx context.Context, req tickets.CreateRequest) (*tickets.CreateResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	result := &tickets.CreateResult{}
	for i, it := range req.Items {
		result.Created = append(result.Created, tickets.CreatedItem{
			ProvisionalID: it.ProvisionalID,
			Key:           fmt.Sprintf("PROJ-%d", i+1),
		})
	}
	return result, nil
}

func (r *recordingTickets) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

type fixture struct {
	router  *Router
	ticketc *recordingTickets
	sess    session.Store
	events  eventstore.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, promptLLM{})
}

func newFixtureWith(t *testing.T, client llm.Client) *fixture {
	t.Helper()
	sessions := session.NewInMemoryStore()
	events := eventstore.NewInMemoryStore()
	factSvc := facts.NewService(facts.NewInMemoryStore(), facts.DefaultBudgets())
	artifacts := review.NewInMemoryArtifactStore()
	lifecycle := review.NewLifecycle(review.NewInMemoryStore(), artifacts, client)
	ticketc := &recordingTickets{}

	engine := flows.NewEngine(flows.Config{
		Facts:        factSvc,
		Reviews:      lifecycle,
		Artifacts:    artifacts,
		Gate:         scopegate.New(),
		Batches:      batchguard.NewInMemoryStore(),
		TicketClient: ticketc,
		Client:       client,
		ProjectKey:   "PROJ",
	})
	classifier := intent.NewClassifier(client, 0.65)
	r := New(sessions, events, classifier, engine, factSvc)
	return &fixture{router: r, ticketc: ticketc, sess: sessions, events: events}
}

func msg(id, text string) *event.Event {
	return &event.Event{ID: id, Type: event.TypeMessage, TenantID: "t1", ChannelID: "c1", ThreadID: "thr-1", ActorID: "u1", Text: text}
}

func click(id, action string, uiVersion int) *event.Event {
	return &event.Event{ID: id, Type: event.TypeButton, TenantID: "t1", ChannelID: "c1", ThreadID: "thr-1", ActorID: "u1", Action: action, UIVersion: uiVersion}
}

func TestTicketIntentRoutesDirectly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.router.Process(ctx, msg("ev-1", "create a ticket for login bug"))
	require.NoError(t, err)
	assert.Equal(t, event.DecisionClassified, d.Kind)
	assert.Equal(t, "ticket", d.Intent)
	assert.NotEmpty(t, d.Response.Options, "draft preview should offer actions")

	sess, err := f.sess.Get(ctx, "t1", "thr-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StepDraftPreview, sess.Step)
	assert.Equal(t, workflow.PendingDraftApproval, sess.Pending)
}

func TestDuplicateEventIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.router.Process(ctx, msg("ev-1", "create a ticket for login bug"))
	require.NoError(t, err)

	d, err := f.router.Process(ctx, msg("ev-1", "create a ticket for login bug"))
	require.NoError(t, err)
	assert.Equal(t, event.DecisionDuplicate, d.Kind)
	assert.Empty(t, d.Response.Text)
}

func TestDoubleClickCreatesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.router.Process(ctx, msg("ev-1", "create a ticket for login bug"))
	require.NoError(t, err)
	sess, _ := f.sess.Get(ctx, "t1", "thr-1")

	d, err := f.router.Process(ctx, click("click-1", workflow.ActionApprove, sess.UIVersion))
	require.NoError(t, err)
	assert.Equal(t, event.DecisionContinuation, d.Kind)
	assert.Equal(t, 1, f.ticketc.count())

	// same event id delivered again
	d, err = f.router.Process(ctx, click("click-1", workflow.ActionApprove, sess.UIVersion))
	require.NoError(t, err)
	assert.Equal(t, event.DecisionDuplicate, d.Kind)
	assert.Equal(t, 1, f.ticketc.count(), "no second external write")
}

func TestStaleUIVersionRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.router.Process(ctx, msg("ev-1", "create a ticket for login bug"))
	require.NoError(t, err)
	sess, _ := f.sess.Get(ctx, "t1", "thr-1")
	oldVersion := sess.UIVersion

	// an edit re-renders the preview and bumps the version
	_, err = f.router.Process(ctx, &event.Event{
		ID: "ev-2", Type: event.TypeModal, TenantID: "t1", ChannelID: "c1", ThreadID: "thr-1",
		Action: workflow.ActionEdit, UIVersion: oldVersion,
		Payload: map[string]string{"summary": "fix login bug on mobile"},
	})
	require.NoError(t, err)

	d, err := f.router.Process(ctx, click("click-1", workflow.ActionApprove, oldVersion))
	require.NoError(t, err)
	assert.Equal(t, event.DecisionStaleUI, d.Kind)
	assert.Equal(t, event.StaleUIMessage, d.Response.Text)
	assert.Equal(t, 0, f.ticketc.count())
}

func TestActionNotAllowedAtStepIsStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// idle session, no preview has ever been rendered
	d, err := f.router.Process(ctx, click("click-1", workflow.ActionApprove, 0))
	require.NoError(t, err)
	assert.Equal(t, event.DecisionStaleUI, d.Kind)
}

func TestPendingContinuationBeatsClassification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.router.Process(ctx, msg("ev-1", "summarize this thread please"))
	require.NoError(t, err)

	// this text would pattern-match the ticket intent, but the session is
	// paused on a review reply, so the continuation handler must win
	d, err := f.router.Process(ctx, msg("ev-2", "also create a ticket for the login bug"))
	require.NoError(t, err)
	assert.Equal(t, event.DecisionContinuation, d.Kind)
	assert.Equal(t, "review_reply", d.Handler)
	assert.Equal(t, 0, f.ticketc.count())
}

func TestAmbiguousGoesToGateAndRemembers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.router.Process(ctx, msg("ev-1", "what do you think about microservices?"))
	require.NoError(t, err)
	assert.Equal(t, event.DecisionGate, d.Kind)
	assert.Len(t, d.Response.Options, 3)

	sess, _ := f.sess.Get(ctx, "t1", "thr-1")
	choice := click("ev-2", workflow.ActionChooseReview, sess.UIVersion)
	choice.Payload = map[string]string{"remember": "true"}
	d, err = f.router.Process(ctx, choice)
	require.NoError(t, err)
	assert.Equal(t, event.DecisionContinuation, d.Kind)
	assert.NotEmpty(t, d.Response.Text, "review should have been produced")

	// finish the review so the thread is quiet again
	sess, _ = f.sess.Get(ctx, "t1", "thr-1")
	_, err = f.router.Process(ctx, msg("ev-3", "thanks, looks good"))
	require.NoError(t, err)

	// next ambiguous message skips the gate via the remembered intent
	d, err = f.router.Process(ctx, msg("ev-4", "what do you think about monoliths?"))
	require.NoError(t, err)
	assert.Equal(t, event.DecisionClassified, d.Kind)
	assert.Equal(t, "review", d.Intent)
}

func TestReviewContinuationPatchThenFreeze(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.router.Process(ctx, msg("ev-1", "summarize this thread please"))
	require.NoError(t, err)

	d, err := f.router.Process(ctx, msg("ev-2", "IdP: Okta, Provisioning: Automatic"))
	require.NoError(t, err)
	assert.Equal(t, event.DecisionContinuation, d.Kind)
	assert.Contains(t, d.Response.Text, "IdP is Okta", "continuation must produce a patch, not a regeneration")

	d, err = f.router.Process(ctx, msg("ev-3", "thanks, looks good"))
	require.NoError(t, err)
	assert.Equal(t, event.DecisionContinuation, d.Kind)
	assert.Contains(t, d.Response.Text, "Review saved")

	sess, _ := f.sess.Get(ctx, "t1", "thr-1")
	assert.Equal(t, workflow.StepReviewFrozen, sess.Step)
	assert.Equal(t, workflow.PendingNone, sess.Pending)
}

func TestFrozenReviewDoesNotReactivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.router.Process(ctx, msg("ev-1", "summarize this thread please"))
	require.NoError(t, err)
	_, err = f.router.Process(ctx, msg("ev-2", "thanks, looks good"))
	require.NoError(t, err)

	// a follow-up message must not resume the frozen review and must not be
	// biased toward the review intent
	d, err := f.router.Process(ctx, msg("ev-3", "what do you think about microservices?"))
	require.NoError(t, err)
	assert.Equal(t, event.DecisionGate, d.Kind, "frozen review must not bias classification")
}

func TestBatchQuantityLatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.router.Process(ctx, msg("ev-1", "create epic with 7 stories for the auth project"))
	require.NoError(t, err)
	assert.Contains(t, d.Response.Text, "Confirm create 8 items?")

	sess, _ := f.sess.Get(ctx, "t1", "thr-1")
	assert.Equal(t, workflow.PendingQuantityConfirm, sess.Pending)

	// approve without confirming quantity: allowed at the step, but the
	// latch holds and re-renders the confirmation instead of creating
	d, err = f.router.Process(ctx, click("ev-2", workflow.ActionApprove, sess.UIVersion))
	require.NoError(t, err)
	assert.Equal(t, 0, f.ticketc.count(), "creation blocked until explicit confirmation")
	assert.Contains(t, d.Response.Text, "Confirm create 8 items?")

	sess, _ = f.sess.Get(ctx, "t1", "thr-1")
	_, err = f.router.Process(ctx, click("ev-3", workflow.ActionConfirmQuantity, sess.UIVersion))
	require.NoError(t, err)

	sess, _ = f.sess.Get(ctx, "t1", "thr-1")
	assert.Equal(t, workflow.PendingBatchApproval, sess.Pending)
	d, err = f.router.Process(ctx, click("ev-4", workflow.ActionApprove, sess.UIVersion))
	require.NoError(t, err)
	assert.Equal(t, 1, f.ticketc.count())
	assert.Contains(t, d.Response.Text, "Created:")

	require.Len(t, f.ticketc.requests, 1)
	req := f.ticketc.requests[0]
	assert.Len(t, req.Items, 8)
	assert.NotEmpty(t, req.IdempotencyKey)
}

type unavailableEventStore struct{}

func (unavailableEventStore) IsProcessed(ctx context.Context, tenantID, eventID string) (bool, error) {
	return false, eventstore.ErrUnavailable
}
func (unavailableEventStore) MarkProcessed(ctx context.Context, tenantID, eventID string) (bool, error) {
	return false, eventstore.ErrUnavailable
}
func (unavailableEventStore) CleanupOlderThan(ctx context.Context, ttl time.Duration) (int64, error) {
	return 0, eventstore.ErrUnavailable
}

func TestFailClosedWhenLedgerUnavailable(t *testing.T) {
	f := newFixture(t)
	f.router.events = unavailableEventStore{}
	ctx := context.Background()

	_, err := f.router.Process(ctx, msg("ev-1", "create a ticket for login bug"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetryable)
	assert.Equal(t, 0, f.ticketc.count(), "no side effects when idempotency cannot be confirmed")
}

func TestForgetSlashCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// remember an intent through the gate first
	_, err := f.router.Process(ctx, msg("ev-1", "what do you think about microservices?"))
	require.NoError(t, err)
	sess, _ := f.sess.Get(ctx, "t1", "thr-1")
	choice := click("ev-2", workflow.ActionChooseTicket, sess.UIVersion)
	choice.Payload = map[string]string{"remember": "true"}
	_, err = f.router.Process(ctx, choice)
	require.NoError(t, err)

	slash := &event.Event{ID: "ev-3", Type: event.TypeSlash, TenantID: "t1", ChannelID: "c1", ThreadID: "thr-1", Action: workflow.ActionForget}
	d, err := f.router.Process(ctx, slash)
	require.NoError(t, err)
	assert.Equal(t, event.DecisionContinuation, d.Kind)

	sess, _ = f.sess.Get(ctx, "t1", "thr-1")
	assert.Empty(t, sess.ActiveDefaultIntent(time.Now()))
}

// lostClaimEventStore answers "not processed" on the read but refuses the
// claim, the shape a cross-process race takes: another delivery marked the
// event between the check and the claim.
type lostClaimEventStore struct{}

func (lostClaimEventStore) IsProcessed(ctx context.Context, tenantID, eventID string) (bool, error) {
	return false, nil
}
func (lostClaimEventStore) MarkProcessed(ctx context.Context, tenantID, eventID string) (bool, error) {
	return false, nil
}
func (lostClaimEventStore) CleanupOlderThan(ctx context.Context, ttl time.Duration) (int64, error) {
	return 0, nil
}

func TestLostClaimRaceReportsDuplicate(t *testing.T) {
	f := newFixture(t)
	f.router.events = lostClaimEventStore{}
	ctx := context.Background()

	d, err := f.router.Process(ctx, msg("ev-1", "create a ticket for login bug"))
	require.NoError(t, err)
	assert.Equal(t, event.DecisionDuplicate, d.Kind, "losing the claim race must surface as duplicate")
	assert.Empty(t, d.Intent)
	assert.Empty(t, d.Handler)
	assert.Equal(t, 0, f.ticketc.count())

	// same on the gate path: an ambiguous message that loses the claim must
	// not be reported as a gate presentation
	d, err = f.router.Process(ctx, msg("ev-2", "what do you think about microservices?"))
	require.NoError(t, err)
	assert.Equal(t, event.DecisionDuplicate, d.Kind)
}

// racingLLM simulates a second process advancing the thread while a handler
// is mid-flight: the first extraction call writes a newer session state to
// the store before answering.
type racingLLM struct {
	inner    promptLLM
	sessions session.Store
	once     sync.Once
}

func (r *racingLLM) Complete(ctx context.Context, prompt string) (string, error) {
	if strings.Contains(prompt, "Extract the Jira items") {
		r.once.Do(func() {
			sess, err := r.sessions.Get(ctx, "t1", "thr-1")
			if err == nil {
				sess.BumpUIVersion()
				_ = r.sessions.Save(ctx, sess)
			}
		})
	}
	return r.inner.Complete(ctx, prompt)
}

func TestSessionAdvancedMidHandlerDiscardsResult(t *testing.T) {
	racer := &racingLLM{}
	f := newFixtureWith(t, racer)
	racer.sessions = f.sess
	ctx := context.Background()

	d, err := f.router.Process(ctx, msg("ev-1", "create a ticket for login bug"))
	require.NoError(t, err)
	assert.Equal(t, event.DecisionStaleUI, d.Kind)

	// the handler's pause on draft preview must not overwrite the newer state
	sess, err := f.sess.Get(ctx, "t1", "thr-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StepIdle, sess.Step, "stale handler result must not be committed")
	assert.Equal(t, workflow.PendingNone, sess.Pending)
	assert.Equal(t, 1, sess.UIVersion, "only the concurrent writer's bump survives")
}

func TestFreeTextWhilePausedOnBatchConfirm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.router.Process(ctx, msg("ev-1", "create epic with 7 stories for the auth project"))
	require.NoError(t, err)

	// text that would otherwise classify must not clobber the pause; the
	// outstanding confirmation is re-presented instead
	d, err := f.router.Process(ctx, msg("ev-2", "what do you think about microservices?"))
	require.NoError(t, err)
	assert.Equal(t, event.DecisionContinuation, d.Kind)
	assert.Equal(t, "batch_reminder", d.Handler)
	assert.Contains(t, d.Response.Text, "Confirm create 8 items?")

	sess, _ := f.sess.Get(ctx, "t1", "thr-1")
	assert.Equal(t, workflow.StepMultiItemPreview, sess.Step)
	assert.Equal(t, workflow.PendingQuantityConfirm, sess.Pending)
	assert.Equal(t, 0, f.ticketc.count())
}
