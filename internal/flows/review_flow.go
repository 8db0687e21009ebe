package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/threadscribe/internal/event"
	"github.com/threadscribe/internal/review"
	"github.com/threadscribe/internal/session"
	"github.com/threadscribe/internal/workflow"
)

// startReviewFlow produces (or merges into) the thread's review and pauses
// the session waiting for replies.
func (e *Engine) startReviewFlow(ctx context.Context, ev *event.Event, sess *session.Session) (*event.Response, error) {
	r, err := e.reviews.Start(ctx, ev.TenantID, ev.ThreadID, reviewKind(ev.Text), ev.Text)
	if err != nil {
		return nil, err
	}

	sess.Pause(workflow.StepReviewActive, workflow.PendingReviewReply, nil)
	sess.BumpUIVersion()
	return &event.Response{
		Text: r.Summary,
		Options: []event.Option{
			{Action: workflow.ActionCompleteReview, Label: "Looks good"},
			{Action: workflow.ActionSynthesize, Label: "Full write-up"},
			{Action: workflow.ActionDismiss, Label: "Dismiss"},
		},
		UIVersion: sess.UIVersion,
	}, nil
}

// handleReviewReply is the continuation for free text while a review is live.
// Completion phrases freeze; anything else becomes a bounded patch.
func (e *Engine) handleReviewReply(ctx context.Context, ev *event.Event, sess *session.Session) (*event.Response, error) {
	r, err := e.reviews.Get(ctx, ev.TenantID, ev.ThreadID)
	if err != nil {
		return nil, err
	}
	if !r.Live() {
		// The pause outlived the review somehow; clear it and fall back.
		sess.Resume()
		sess.Step = workflow.StepIdle
		return nil, errors.New("no live review to continue")
	}

	if review.IsCompletionPhrase(ev.Text) {
		return e.freezeReview(ctx, r, sess)
	}

	r, err = e.reviews.Continue(ctx, r, ev.Text)
	if err != nil {
		return nil, err
	}
	sess.BumpUIVersion()
	return &event.Response{
		Text:      renderPatch(r.Patches[len(r.Patches)-1]),
		UIVersion: sess.UIVersion,
	}, nil
}

func (e *Engine) handleReviewComplete(ctx context.Context, ev *event.Event, sess *session.Session) (*event.Response, error) {
	r, err := e.reviews.Get(ctx, ev.TenantID, ev.ThreadID)
	if err != nil {
		return nil, err
	}
	return e.freezeReview(ctx, r, sess)
}

func (e *Engine) freezeReview(ctx context.Context, r *review.Review, sess *session.Session) (*event.Response, error) {
	a, err := e.reviews.Freeze(ctx, r)
	if err != nil {
		return nil, err
	}
	sess.Resume()
	sess.Step = workflow.StepReviewFrozen
	return &event.Response{
		Text: fmt.Sprintf("Review saved (v%d). Say \"create tickets from this\" if you'd like it turned into work items.", a.Version),
	}, nil
}

func (e *Engine) handleReviewSynthesize(ctx context.Context, ev *event.Event, sess *session.Session) (*event.Response, error) {
	r, err := e.reviews.Get(ctx, ev.TenantID, ev.ThreadID)
	if err != nil {
		return nil, err
	}
	r, err = e.reviews.Synthesize(ctx, r)
	if err != nil {
		return nil, err
	}
	sess.BumpUIVersion()
	return &event.Response{Text: r.Summary, UIVersion: sess.UIVersion}, nil
}

func (e *Engine) handleReviewDismiss(ctx context.Context, ev *event.Event, sess *session.Session) (*event.Response, error) {
	r, err := e.reviews.Get(ctx, ev.TenantID, ev.ThreadID)
	if err != nil {
		return nil, err
	}
	// Dismissal freezes quietly so the context is kept but stops reacting.
	if _, err := e.reviews.Freeze(ctx, r); err != nil {
		return nil, err
	}
	sess.Resume()
	sess.Step = workflow.StepIdle
	return &event.Response{Text: "Dropped. The draft is kept if you need it later."}, nil
}

func renderPatch(p review.Patch) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Noted, here's what changed (v%d):\n", p.Version)
	writeBullets(&b, "New decisions", p.NewDecisions)
	writeBullets(&b, "New risks", p.NewRisks)
	writeBullets(&b, "Open questions", p.OpenQuestions)
	writeBullets(&b, "Changes", p.Changes)
	return b.String()
}

func writeBullets(b *strings.Builder, title string, bullets []string) {
	if len(bullets) == 0 {
		return
	}
	b.WriteString("\n" + title + ":\n")
	for _, line := range bullets {
		b.WriteString("- " + line + "\n")
	}
}

// reviewKind guesses the review category from trigger wording. Falls back to
// a general kind; the category only labels the artifact.
func reviewKind(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "security"):
		return "security"
	case strings.Contains(lower, "architect"), strings.Contains(lower, "design"):
		return "architecture"
	case strings.Contains(lower, "roadmap"), strings.Contains(lower, "plan"):
		return "pm"
	default:
		return "general"
	}
}
