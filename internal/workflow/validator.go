package workflow

// Action names carried by structured workflow events (button clicks, modal
// submits). These are the only values that may appear in the allow-list table.
const (
	ActionApprove         = "approve"
	ActionReject          = "reject"
	ActionEdit            = "edit"
	ActionCancel          = "cancel"
	ActionConfirmQuantity = "confirm_quantity"
	ActionConfirmSplit    = "confirm_split"
	ActionCompleteReview  = "complete_review"
	ActionSynthesize      = "synthesize"
	ActionDismiss         = "dismiss"
	ActionChooseReview    = "choose_review"
	ActionChooseTicket    = "choose_ticket"
	ActionForget          = "forget"
)

// allowedActions is the exhaustive allow-list of workflow actions per step.
// An action missing from a step's set is a stale-UI rejection, not an error.
// A frozen review allows no workflow actions at all: handoff from a frozen
// artifact happens through a fresh message intent, never a leftover button.
var allowedActions = map[Step]map[string]bool{
	StepIdle: {},
	StepScopeGate: {
		ActionChooseReview: true,
		ActionChooseTicket: true,
		ActionDismiss:      true,
	},
	StepDraftPreview: {
		ActionApprove: true,
		ActionReject:  true,
		ActionEdit:    true,
	},
	StepMultiItemPreview: {
		ActionApprove:         true,
		ActionCancel:          true,
		ActionEdit:            true,
		ActionConfirmQuantity: true,
		ActionConfirmSplit:    true,
	},
	StepDecisionPreview: {
		ActionApprove: true,
		ActionReject:  true,
		ActionEdit:    true,
	},
	StepReviewActive: {
		ActionCompleteReview: true,
		ActionSynthesize:     true,
		ActionDismiss:        true,
	},
	StepReviewFrozen: {},
}

// slashActions are step-independent commands delivered as slash events.
var slashActions = map[string]bool{
	ActionForget: true,
}

// AllowedActionsFor returns the set of workflow actions valid at the given
// step. Unknown steps get an empty set.
func AllowedActionsFor(step Step) map[string]bool {
	actions, ok := allowedActions[step]
	if !ok {
		return map[string]bool{}
	}
	out := make(map[string]bool, len(actions))
	for a := range actions {
		out[a] = true
	}
	return out
}

// ValidateEvent reports whether the requested action is allowed at the
// session's current step. Slash commands are validated against their own
// global set since they are not tied to a rendered preview.
func ValidateEvent(step Step, action string) bool {
	if slashActions[action] {
		return true
	}
	actions, ok := allowedActions[step]
	if !ok {
		return false
	}
	return actions[action]
}

// ValidateUIVersion reports whether an interaction produced against
// eventVersion is still current. A button rendered for an older preview than
// the session's version is stale: the preview changed under the user.
func ValidateUIVersion(sessionVersion, eventVersion int) bool {
	return eventVersion >= sessionVersion
}
