package tickets

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Item is one creatable issue in a batch. ProvisionalID is assigned before
// any external call so parent references can be validated and reported
// against stable handles.
type Item struct {
	ProvisionalID string `json:"provisional_id"`
	Summary       string `json:"summary"`
	Description   string `json:"description,omitempty"`
	IssueType     string `json:"issue_type"` // epic, story, task, bug
	ParentRef     string `json:"parent_ref,omitempty"`
}

// Size is the item's contribution to a batch's aggregate content size.
func (i Item) Size() int {
	return len(i.Summary) + len(i.Description)
}

// CreateRequest asks for every item to be created, all or nothing.
type CreateRequest struct {
	TenantID       string `json:"tenant_id"`
	ProjectKey     string `json:"project_key"`
	IdempotencyKey string `json:"idempotency_key"`
	Items          []Item `json:"items"`
}

// CreatedItem maps a provisional id to the real issue created for it.
type CreatedItem struct {
	ProvisionalID string `json:"provisional_id"`
	Key           string `json:"key"`
	URL           string `json:"url,omitempty"`
}

type CreateResult struct {
	Created []CreatedItem `json:"created"`
}

// IdempotencyKey derives the retry-safe key for a batch create. It hashes
// the session handle, the operation, and the full item content, so retrying
// the same approved batch reuses the key while any edit produces a new one.
func IdempotencyKey(sessionKey, operation string, items []Item) string {
	var b strings.Builder
	b.WriteString(sessionKey)
	b.WriteString("|")
	b.WriteString(operation)
	for _, it := range items {
		fmt.Fprintf(&b, "|%s:%s:%s:%s", it.IssueType, it.Summary, it.Description, it.ParentRef)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
