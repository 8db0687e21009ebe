package facts

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// FactType classifies a structured claim extracted from conversation.
type FactType string

const (
	TypeDecision   FactType = "decision"
	TypeConstraint FactType = "constraint"
	TypeAssumption FactType = "assumption"
)

// Scope is the visibility level a fact is stored under.
type Scope string

const (
	ScopeThread  Scope = "thread"
	ScopeEpic    Scope = "epic"
	ScopeChannel Scope = "channel"
)

// Fact is a single deduplicated claim. Two facts with the same CanonicalID
// are the same fact: storing the second merges into the first.
type Fact struct {
	CanonicalID string    `json:"canonical_id"`
	TenantID    string    `json:"tenant_id"`
	Type        FactType  `json:"type"`
	Scope       Scope     `json:"scope"`
	ScopeID     string    `json:"scope_id"` // thread ts, epic key, or channel id
	Text        string    `json:"text"`
	Confidence  float64   `json:"confidence"`
	SourceTS    time.Time `json:"source_timestamp"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// normalizeText collapses whitespace and case so trivially different
// phrasings of the same claim hash identically.
func normalizeText(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.TrimSpace(s)
	s = strings.Join(strings.Fields(s), " ")
	return s
}

// CanonicalID computes the deterministic dedup key for a claim.
func CanonicalID(text string, scope Scope, factType FactType) string {
	h := sha256.Sum256([]byte(normalizeText(text) + "|" + string(scope) + "|" + string(factType)))
	return hex.EncodeToString(h[:16])
}
