package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/threadscribe/internal/batchguard"
	"github.com/threadscribe/internal/event"
	"github.com/threadscribe/internal/llm"
	"github.com/threadscribe/internal/review"
	"github.com/threadscribe/internal/session"
	"github.com/threadscribe/internal/tickets"
	"github.com/threadscribe/internal/workflow"
)

const batchCreateOperation = "batch_create"

// startTicketFlow extracts creatable items from the message (seeded with the
// thread's frozen review artifact when one exists), previews them, and pauses
// on the first outstanding confirmation.
func (e *Engine) startTicketFlow(ctx context.Context, ev *event.Event, sess *session.Session) (*event.Response, error) {
	seed := ""
	if artifact, err := e.artifacts.GetLatestByThread(ctx, ev.TenantID, ev.ThreadID); err == nil {
		seed = artifact.Summary
	} else if !errors.Is(err, review.ErrNotFound) {
		log.Warn().Err(err).Msg("artifact lookup failed, extracting from message only")
	}

	items, err := e.extractItems(ctx, ev.Text, seed)
	if err != nil {
		return nil, fmt.Errorf("failed to extract ticket items: %w", err)
	}
	if len(items) == 0 {
		return &event.Response{Text: "I couldn't find anything concrete to turn into a ticket. Could you describe the work item?"}, nil
	}

	batch := batchguard.NewBatch(items)
	if err := e.batches.Save(ctx, ev.TenantID, ev.ThreadID, batch); err != nil {
		return nil, err
	}

	if len(batch.Items) == 1 {
		sess.Pause(workflow.StepDraftPreview, workflow.PendingDraftApproval, nil)
		sess.BumpUIVersion()
		return &event.Response{
			Text:      "Here's the ticket I'd create:\n" + renderItems(batch.Items),
			Options:   previewOptions(workflow.StepDraftPreview),
			UIVersion: sess.UIVersion,
		}, nil
	}

	return e.renderBatchPreview(sess, batch)
}

// renderBatchPreview pauses the session on whichever confirmation is still
// outstanding, or on final approval once both latches are clear.
func (e *Engine) renderBatchPreview(sess *session.Session, batch *batchguard.Batch) (*event.Response, error) {
	needsQuantity, needsSize := batch.Evaluate()
	sess.BumpUIVersion()

	switch {
	case needsQuantity:
		sess.Pause(workflow.StepMultiItemPreview, workflow.PendingQuantityConfirm, nil)
		return &event.Response{
			Text: fmt.Sprintf("This would create %d items:\n%s\nConfirm create %d items?",
				len(batch.Items), renderItems(batch.Items), len(batch.Items)),
			Options: []event.Option{
				{Action: workflow.ActionConfirmQuantity, Label: fmt.Sprintf("Create %d items", len(batch.Items))},
				{Action: workflow.ActionCancel, Label: "Cancel"},
			},
			UIVersion: sess.UIVersion,
		}, nil
	case needsSize:
		sess.Pause(workflow.StepMultiItemPreview, workflow.PendingSizeConfirm, nil)
		return &event.Response{
			Text: fmt.Sprintf("This batch is large (%d bytes of content). Proceed anyway, or split into smaller batches?",
				batch.TotalSizeEstimate),
			Options: []event.Option{
				{Action: workflow.ActionConfirmSplit, Label: "Proceed as one batch"},
				{Action: workflow.ActionCancel, Label: "Cancel"},
			},
			UIVersion: sess.UIVersion,
		}, nil
	default:
		sess.Pause(workflow.StepMultiItemPreview, workflow.PendingBatchApproval, nil)
		return &event.Response{
			Text:      "Ready to create:\n" + renderItems(batch.Items),
			Options:   previewOptions(workflow.StepMultiItemPreview),
			UIVersion: sess.UIVersion,
		}, nil
	}
}

func (e *Engine) handleConfirmQuantity(ctx context.Context, ev *event.Event, sess *session.Session) (*event.Response, error) {
	batch, err := e.batches.Get(ctx, ev.TenantID, ev.ThreadID)
	if err != nil {
		return nil, err
	}
	batch.ConfirmQuantity()
	if err := e.batches.Save(ctx, ev.TenantID, ev.ThreadID, batch); err != nil {
		return nil, err
	}
	return e.renderBatchPreview(sess, batch)
}

func (e *Engine) handleConfirmSplit(ctx context.Context, ev *event.Event, sess *session.Session) (*event.Response, error) {
	batch, err := e.batches.Get(ctx, ev.TenantID, ev.ThreadID)
	if err != nil {
		return nil, err
	}
	batch.ConfirmSize()
	if err := e.batches.Save(ctx, ev.TenantID, ev.ThreadID, batch); err != nil {
		return nil, err
	}
	return e.renderBatchPreview(sess, batch)
}

// handleBatchApprove performs the external creation. Both safety latches must
// be clear and the dry run must pass before anything leaves the building.
func (e *Engine) handleBatchApprove(ctx context.Context, ev *event.Event, sess *session.Session) (*event.Response, error) {
	batch, err := e.batches.Get(ctx, ev.TenantID, ev.ThreadID)
	if err != nil {
		return nil, err
	}

	if !batch.ReadyForCreation() {
		// Approval cannot stand in for a missing confirmation.
		return e.renderBatchPreview(sess, batch)
	}

	if err := batchguard.DryRunValidate(batch.Items); err != nil {
		sess.Resume()
		sess.Step = workflow.StepIdle
		if delErr := e.batches.Delete(ctx, ev.TenantID, ev.ThreadID); delErr != nil {
			log.Warn().Err(delErr).Msg("failed to discard invalid batch")
		}
		return &event.Response{Text: "I can't create this batch: " + err.Error()}, nil
	}

	req := tickets.CreateRequest{
		TenantID:       ev.TenantID,
		ProjectKey:     e.projectKey,
		IdempotencyKey: tickets.IdempotencyKey(sess.TenantID+"/"+sess.ThreadID, batchCreateOperation, batch.Items),
		Items:          batch.Items,
	}
	result, err := e.ticketClient.CreateBatch(ctx, req)
	if err != nil {
		// Keep the batch and the pause: the user can retry approval and the
		// idempotency key protects against double creation.
		return nil, fmt.Errorf("batch creation failed, approval can be retried: %w", err)
	}

	if err := e.batches.Delete(ctx, ev.TenantID, ev.ThreadID); err != nil {
		log.Warn().Err(err).Msg("failed to delete created batch")
	}
	sess.Resume()
	sess.Step = workflow.StepIdle

	var keys []string
	for _, c := range result.Created {
		keys = append(keys, c.Key)
	}
	return &event.Response{Text: "Created: " + strings.Join(keys, ", ")}, nil
}

func (e *Engine) handleBatchCancel(ctx context.Context, ev *event.Event, sess *session.Session) (*event.Response, error) {
	if err := e.batches.Delete(ctx, ev.TenantID, ev.ThreadID); err != nil {
		return nil, err
	}
	sess.Resume()
	sess.Step = workflow.StepIdle
	return &event.Response{Text: "Discarded. Nothing was created."}, nil
}

// handleDraftEdit applies an edited summary from the modal payload and
// re-renders the preview under a new UI version, invalidating older buttons.
func (e *Engine) handleDraftEdit(ctx context.Context, ev *event.Event, sess *session.Session) (*event.Response, error) {
	batch, err := e.batches.Get(ctx, ev.TenantID, ev.ThreadID)
	if err != nil {
		return nil, err
	}

	if summary := ev.Payload["summary"]; summary != "" {
		idx := 0
		if ref := ev.Payload["provisional_id"]; ref != "" {
			for i, it := range batch.Items {
				if it.ProvisionalID == ref {
					idx = i
					break
				}
			}
		}
		batch.Items[idx].Summary = summary
	}
	if err := e.batches.Save(ctx, ev.TenantID, ev.ThreadID, batch); err != nil {
		return nil, err
	}

	if sess.Step == workflow.StepDraftPreview {
		sess.BumpUIVersion()
		return &event.Response{
			Text:      "Updated:\n" + renderItems(batch.Items),
			Options:   previewOptions(workflow.StepDraftPreview),
			UIVersion: sess.UIVersion,
		}, nil
	}
	return e.renderBatchPreview(sess, batch)
}

// handleBatchReminder answers free text while a draft or batch confirmation
// is outstanding. The pause holds; the open question is re-presented under a
// fresh UI version instead of letting the text start a new flow.
func (e *Engine) handleBatchReminder(ctx context.Context, ev *event.Event, sess *session.Session) (*event.Response, error) {
	batch, err := e.batches.Get(ctx, ev.TenantID, ev.ThreadID)
	if errors.Is(err, batchguard.ErrNotFound) {
		sess.Resume()
		sess.Step = workflow.StepIdle
		return nil, errors.New("no pending batch to continue")
	}
	if err != nil {
		return nil, err
	}

	if sess.Step == workflow.StepDraftPreview {
		sess.BumpUIVersion()
		return &event.Response{
			Text:      "Still waiting on this draft:\n" + renderItems(batch.Items),
			Options:   previewOptions(workflow.StepDraftPreview),
			UIVersion: sess.UIVersion,
		}, nil
	}
	return e.renderBatchPreview(sess, batch)
}

func previewOptions(step workflow.Step) []event.Option {
	if step == workflow.StepDraftPreview {
		return []event.Option{
			{Action: workflow.ActionApprove, Label: "Create"},
			{Action: workflow.ActionEdit, Label: "Edit"},
			{Action: workflow.ActionReject, Label: "Discard"},
		}
	}
	return []event.Option{
		{Action: workflow.ActionApprove, Label: "Create all"},
		{Action: workflow.ActionEdit, Label: "Edit"},
		{Action: workflow.ActionCancel, Label: "Cancel"},
	}
}

func renderItems(items []tickets.Item) string {
	var b strings.Builder
	for _, it := range items {
		prefix := "- "
		if it.ParentRef != "" {
			prefix = "  - "
		}
		fmt.Fprintf(&b, "%s[%s] %s\n", prefix, it.IssueType, it.Summary)
	}
	return b.String()
}

const extractItemsPrompt = `Extract the Jira items a user wants created from this request.

Request:
%s
%s
Respond with JSON only:
{"items": [{"summary": "<short title>", "description": "<detail or empty>", "issue_type": "epic|story|task|bug", "parent_index": <index of parent item or -1>}]}

Rules:
- One item per distinct piece of work. An "epic with N stories" is 1 epic plus N story items with parent_index pointing at the epic.
- Do not invent work the user did not ask for.`

func (e *Engine) extractItems(ctx context.Context, text, seed string) ([]tickets.Item, error) {
	seedBlock := ""
	if seed != "" {
		seedBlock = "\nFrozen review of this thread, for context:\n" + seed + "\n"
	}

	var parsed struct {
		Items []struct {
			Summary     string `json:"summary"`
			Description string `json:"description"`
			IssueType   string `json:"issue_type"`
			ParentIndex int    `json:"parent_index"`
		} `json:"items"`
	}
	if _, err := llm.CompleteJSON(ctx, e.client, fmt.Sprintf(extractItemsPrompt, text, seedBlock), &parsed); err != nil {
		return nil, err
	}

	items := make([]tickets.Item, 0, len(parsed.Items))
	kept := make([]int, 0, len(parsed.Items)) // model index -> items index
	for _, raw := range parsed.Items {
		if strings.TrimSpace(raw.Summary) == "" {
			kept = append(kept, -1)
			continue
		}
		kept = append(kept, len(items))
		items = append(items, tickets.Item{
			Summary:     strings.TrimSpace(raw.Summary),
			Description: strings.TrimSpace(raw.Description),
			IssueType:   strings.ToLower(strings.TrimSpace(raw.IssueType)),
		})
	}

	// Resolve parent indexes to provisional ids once every item has one.
	batch := batchguard.NewBatch(items)
	for i, raw := range parsed.Items {
		self := kept[i]
		if self < 0 || raw.ParentIndex < 0 || raw.ParentIndex >= len(kept) {
			continue
		}
		parent := kept[raw.ParentIndex]
		if parent >= 0 && parent != self {
			batch.Items[self].ParentRef = batch.Items[parent].ProvisionalID
		}
	}
	return batch.Items, nil
}
