package tickets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdempotencyKeyStableForSameContent(t *testing.T) {
	items := []Item{
		{ProvisionalID: "p1", Summary: "login bug", IssueType: "bug"},
		{ProvisionalID: "p2", Summary: "fix session expiry", IssueType: "task", ParentRef: "p1"},
	}

	a := IdempotencyKey("t1/thr-1", "batch_create", items)
	b := IdempotencyKey("t1/thr-1", "batch_create", items)
	assert.Equal(t, a, b, "retrying the same approved batch must reuse the key")
}

func TestIdempotencyKeyChangesWithContent(t *testing.T) {
	items := []Item{{Summary: "login bug", IssueType: "bug"}}
	edited := []Item{{Summary: "login bug on mobile", IssueType: "bug"}}

	assert.NotEqual(t,
		IdempotencyKey("t1/thr-1", "batch_create", items),
		IdempotencyKey("t1/thr-1", "batch_create", edited),
	)
	assert.NotEqual(t,
		IdempotencyKey("t1/thr-1", "batch_create", items),
		IdempotencyKey("t1/thr-2", "batch_create", items),
		"different session, different key",
	)
}

func TestItemSize(t *testing.T) {
	it := Item{Summary: "abc", Description: "defgh"}
	assert.Equal(t, 8, it.Size())
}
