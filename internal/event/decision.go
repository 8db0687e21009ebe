package event

// DecisionKind tags the routing outcome for an inbound event.
type DecisionKind string

const (
	// DecisionDuplicate means the event was already processed. Not an error:
	// replaying the same event id is a no-op success.
	DecisionDuplicate DecisionKind = "duplicate"
	// DecisionStaleUI means the user interacted with an outdated preview or
	// button. Distinct from duplicate so the user sees "this button is
	// outdated" rather than silence.
	DecisionStaleUI DecisionKind = "stale_ui"
	// DecisionContinuation means the event resumes a paused workflow and was
	// dispatched to the handler bound to the pending action or button.
	DecisionContinuation DecisionKind = "continuation"
	// DecisionGate means intent was ambiguous and the user is being asked to
	// choose explicitly instead of the system guessing.
	DecisionGate DecisionKind = "ambiguous_needs_gate"
	// DecisionClassified means no explicit structure applied and the message
	// went through intent classification into a flow.
	DecisionClassified DecisionKind = "intent_classified"
)

// Response is the opaque payload the transport renders. The core fills in
// text and optional structured options; Block Kit rendering is not its job.
type Response struct {
	Text string `json:"text,omitempty"`
	// Options, when set, is a fixed choice set the transport should render as
	// buttons (used by the scope gate and the batch safety latches).
	Options []Option `json:"options,omitempty"`
	// UIVersion is the preview version embedded into any rendered buttons so
	// later clicks can be checked for staleness.
	UIVersion int `json:"ui_version,omitempty"`
}

// Option is one renderable choice.
type Option struct {
	Action string `json:"action"`
	Label  string `json:"label"`
}

// Decision is the router's verdict plus whatever the transport should show.
type Decision struct {
	Kind     DecisionKind `json:"kind"`
	Handler  string       `json:"handler,omitempty"` // continuation handler name, for audit
	Intent   string       `json:"intent,omitempty"`  // resolved intent, when classified
	Response Response     `json:"response"`
}

// Fixed user-facing copy for the two terminal short-circuit outcomes.
const (
	StaleUIMessage   = "This action is no longer available. The preview has changed since this button was shown."
	DuplicateMessage = ""
)
