package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/threadscribe/internal/llm"
)

var ErrReviewInProgress = errors.New("a review is already in progress for this thread")

// Lifecycle drives a review conversation from first synthesis through
// continuation patches to freeze. Continuation replies produce bounded deltas
// rather than regenerating the artifact, which is what keeps a long thread
// from costing a full synthesis per message.
type Lifecycle struct {
	reviews   Store
	artifacts ArtifactStore
	client    llm.Client
}

func NewLifecycle(reviews Store, artifacts ArtifactStore, client llm.Client) *Lifecycle {
	return &Lifecycle{reviews: reviews, artifacts: artifacts, client: client}
}

// Get returns the live (or tombstoned) review for a thread.
func (l *Lifecycle) Get(ctx context.Context, tenantID, threadID string) (*Review, error) {
	return l.reviews.Get(ctx, tenantID, threadID)
}

// completionPhrases are the short affirmations that finish a review. Matching
// is on the whole (trimmed, lowered) message, not substrings, so "thanks,
// but what about X" does not accidentally freeze.
var completionPhrases = map[string]bool{
	"thanks":             true,
	"thank you":          true,
	"thanks!":            true,
	"thanks, looks good": true,
	"looks good":         true,
	"lgtm":               true,
	"looks good to me":   true,
	"perfect":            true,
	"great, thanks":      true,
	"approved":           true,
	"ship it":            true,
	"that's all":         true,
	"done":               true,
	"all good":           true,
}

// IsCompletionPhrase reports whether a reply closes out the review.
func IsCompletionPhrase(text string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	normalized = strings.TrimRight(normalized, ".!")
	return completionPhrases[normalized] || completionPhrases[normalized+"!"]
}

// Start produces the initial review for a thread. If a live review already
// exists for the thread, the request is folded into it as a continuation
// instead of overwriting the in-progress context.
func (l *Lifecycle) Start(ctx context.Context, tenantID, threadID, kind, topic string) (*Review, error) {
	existing, err := l.reviews.Get(ctx, tenantID, threadID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err == nil && existing.Live() {
		log.Info().Str("thread_id", threadID).Msg("merging new review request into live review")
		return l.Continue(ctx, existing, topic)
	}

	summary, err := l.client.Complete(ctx, initialReviewPrompt(kind, topic))
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize review: %w", err)
	}

	r := &Review{
		TenantID: tenantID,
		ThreadID: threadID,
		Kind:     kind,
		State:    StateActive,
		Version:  1,
		Summary:  summary,
	}
	if err := l.reviews.Save(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Continue handles a reply to a live review: it generates a patch containing
// only the delta and advances the review to the continuation state.
func (l *Lifecycle) Continue(ctx context.Context, r *Review, reply string) (*Review, error) {
	if !r.Live() {
		return nil, fmt.Errorf("review in state %s cannot continue", r.State)
	}

	var parsed struct {
		NewDecisions  []string `json:"new_decisions"`
		NewRisks      []string `json:"new_risks"`
		OpenQuestions []string `json:"open_questions"`
		Changes       []string `json:"changes"`
	}
	if _, err := llm.CompleteJSON(ctx, l.client, patchPrompt(r, reply), &parsed); err != nil {
		return nil, fmt.Errorf("failed to generate review patch: %w", err)
	}

	patch := Patch{
		Version:       r.Version + 1,
		NewDecisions:  parsed.NewDecisions,
		NewRisks:      parsed.NewRisks,
		OpenQuestions: parsed.OpenQuestions,
		Changes:       parsed.Changes,
		CreatedAt:     time.Now().UTC(),
	}
	clampPatch(&patch)

	r.Version++
	r.State = StateContinuation
	r.Patches = append(r.Patches, patch)
	if err := l.reviews.Save(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Synthesize combines the base summary and all accumulated patches into one
// coherent document. Only runs on explicit user request.
func (l *Lifecycle) Synthesize(ctx context.Context, r *Review) (*Review, error) {
	if len(r.Patches) == 0 {
		return r, nil
	}
	full, err := l.client.Complete(ctx, synthesisPrompt(r))
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize full review: %w", err)
	}
	r.Version++
	r.Summary = full
	r.Patches = nil
	if err := l.reviews.Save(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Freeze converts the live context into an immutable artifact. The review
// row remains as a frozen tombstone so later messages in the thread cannot
// resume it.
func (l *Lifecycle) Freeze(ctx context.Context, r *Review) (*Artifact, error) {
	if !r.Live() {
		return nil, fmt.Errorf("review in state %s cannot be frozen", r.State)
	}

	a := &Artifact{
		TenantID:       r.TenantID,
		SourceThreadID: r.ThreadID,
		Kind:           r.Kind,
		Summary:        renderWithPatches(r),
		Version:        r.Version,
		FrozenAt:       time.Now().UTC(),
	}
	if err := l.artifacts.Save(ctx, a); err != nil {
		return nil, err
	}

	r.State = StateFrozen
	if err := l.reviews.Save(ctx, r); err != nil {
		return nil, err
	}
	log.Info().Str("thread_id", r.ThreadID).Int("version", r.Version).Msg("review frozen")
	return a, nil
}

// MarkPosted records that the artifact's content has been handed off.
func (l *Lifecycle) MarkPosted(ctx context.Context, r *Review) error {
	if r.State != StateFrozen {
		return fmt.Errorf("review in state %s cannot be posted", r.State)
	}
	r.State = StatePosted
	return l.reviews.Save(ctx, r)
}

// clampPatch trims sections round-robin until the total bullet count fits.
func clampPatch(p *Patch) {
	sections := []*[]string{&p.NewDecisions, &p.NewRisks, &p.OpenQuestions, &p.Changes}
	for p.BulletCount() > MaxPatchBullets {
		longest := sections[0]
		for _, s := range sections[1:] {
			if len(*s) > len(*longest) {
				longest = s
			}
		}
		*longest = (*longest)[:len(*longest)-1]
	}
}

// renderWithPatches flattens the base summary and pending patches into the
// text that gets frozen.
func renderWithPatches(r *Review) string {
	if len(r.Patches) == 0 {
		return r.Summary
	}
	var b strings.Builder
	b.WriteString(r.Summary)
	for _, p := range r.Patches {
		b.WriteString(fmt.Sprintf("\n\n## Update v%d\n", p.Version))
		writeSection(&b, "New decisions", p.NewDecisions)
		writeSection(&b, "New risks", p.NewRisks)
		writeSection(&b, "Open questions", p.OpenQuestions)
		writeSection(&b, "Changes", p.Changes)
	}
	return b.String()
}

func writeSection(b *strings.Builder, title string, bullets []string) {
	if len(bullets) == 0 {
		return
	}
	b.WriteString(fmt.Sprintf("\n**%s**\n", title))
	for _, line := range bullets {
		b.WriteString("- " + line + "\n")
	}
}

func initialReviewPrompt(kind, topic string) string {
	return fmt.Sprintf(`Write a concise %s review of the following discussion.
Structure it with sections for decisions, risks, and open questions.

Discussion:
%s`, kind, topic)
}

func patchPrompt(r *Review, reply string) string {
	return fmt.Sprintf(`A review is in progress. The user replied with new information.
Produce ONLY the incremental delta, not a rewrite.

Current review (v%d):
%s

User reply:
%s

Respond with JSON only:
{"new_decisions": [], "new_risks": [], "open_questions": [], "changes": []}
Keep the total number of bullets across all four lists at or below %d.
Empty lists are fine; include only what genuinely changed.`, r.Version, r.Summary, reply, MaxPatchBullets)
}

func synthesisPrompt(r *Review) string {
	return fmt.Sprintf(`Combine the review below and all its updates into one coherent document.
Resolve superseded points; do not repeat yourself.

%s`, renderWithPatches(r))
}
