package review

import "time"

// State is the lifecycle position of a live review conversation.
type State string

const (
	StateActive       State = "active"       // review just produced, awaiting reaction
	StateContinuation State = "continuation" // user has replied, patches accumulating
	StateFrozen       State = "frozen"       // completed, converted to an immutable artifact
	StatePosted       State = "posted"       // artifact handed off externally
)

// MaxPatchBullets bounds a continuation patch across all four sections.
const MaxPatchBullets = 12

// Patch is the incremental delta produced for one continuation reply. Only
// what changed since the previous version, never a regeneration.
type Patch struct {
	Version       int       `json:"version"`
	NewDecisions  []string  `json:"new_decisions"`
	NewRisks      []string  `json:"new_risks"`
	OpenQuestions []string  `json:"open_questions"`
	Changes       []string  `json:"changes"`
	CreatedAt     time.Time `json:"created_at"`
}

// BulletCount is the total number of bullets across all sections.
func (p Patch) BulletCount() int {
	return len(p.NewDecisions) + len(p.NewRisks) + len(p.OpenQuestions) + len(p.Changes)
}

// Review is the live, mutable review context for one thread. Frozen reviews
// are represented by an Artifact; a Review in StateFrozen only remains as a
// tombstone so a new review in the thread supersedes rather than resumes it.
type Review struct {
	TenantID  string    `json:"tenant_id"`
	ThreadID  string    `json:"thread_id"`
	Kind      string    `json:"kind"` // architecture, security, pm
	State     State     `json:"state"`
	Version   int       `json:"version"`
	Summary   string    `json:"summary"`
	Patches   []Patch   `json:"patches"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Live reports whether the review still reacts to thread replies.
func (r *Review) Live() bool {
	return r.State == StateActive || r.State == StateContinuation
}

// Artifact is the frozen, compressed output of a completed review. Immutable
// after freeze; available for handoff but never re-triggering continuation.
type Artifact struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	SourceThreadID string    `json:"source_thread_id"`
	Kind           string    `json:"kind"`
	Summary        string    `json:"summary"`
	Version        int       `json:"version"`
	FrozenAt       time.Time `json:"frozen_at"`
}
