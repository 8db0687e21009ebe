package workflow

// Step is the closed-enum position of a conversation within its current flow.
// Never a free string: every step an event can reference must exist here and
// have an entry in the action allow-list table below.
type Step string

const (
	StepIdle             Step = "idle"
	StepScopeGate        Step = "scope_gate"
	StepDraftPreview     Step = "draft_preview"
	StepMultiItemPreview Step = "multi_item_preview"
	StepDecisionPreview  Step = "decision_preview"
	StepReviewActive     Step = "review_active"
	StepReviewFrozen     Step = "review_frozen"
)

// PendingAction describes what the system is currently waiting for from the
// user, distinct from what the user's next message expresses.
type PendingAction string

const (
	PendingNone            PendingAction = ""
	PendingDraftApproval   PendingAction = "draft_approval"
	PendingQuantityConfirm PendingAction = "batch_quantity_confirm"
	PendingSizeConfirm     PendingAction = "batch_size_confirm"
	PendingBatchApproval   PendingAction = "batch_approval"
	PendingReviewReply     PendingAction = "review_reply"
	PendingScopeChoice     PendingAction = "scope_choice"
)

// Valid reports whether s is a known workflow step.
func (s Step) Valid() bool {
	_, ok := allowedActions[s]
	return ok
}
