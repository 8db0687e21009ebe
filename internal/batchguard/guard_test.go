package batchguard

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadscribe/internal/tickets"
)

func makeItems(n int) []tickets.Item {
	items := make([]tickets.Item, n)
	for i := range items {
		items[i] = tickets.Item{Summary: "story", IssueType: "story"}
	}
	return items
}

func TestSmallBatchNeedsNoConfirmation(t *testing.T) {
	b := NewBatch(makeItems(2))
	q, s := b.Evaluate()
	assert.False(t, q)
	assert.False(t, s)
	assert.True(t, b.ReadyForCreation())
}

func TestQuantityThreshold(t *testing.T) {
	b := NewBatch(makeItems(4))
	q, s := b.Evaluate()
	assert.True(t, q, "4 items exceeds the quantity threshold")
	assert.False(t, s)
	assert.False(t, b.ReadyForCreation())

	b.ConfirmQuantity()
	assert.True(t, b.ReadyForCreation())
}

func TestSevenStoriesNeedQuantityConfirm(t *testing.T) {
	items := append([]tickets.Item{{Summary: "auth epic", IssueType: "epic"}}, makeItems(7)...)
	b := NewBatch(items)
	q, _ := b.Evaluate()
	assert.True(t, q)
}

func TestSizeThreshold(t *testing.T) {
	items := []tickets.Item{
		{Summary: "big one", Description: strings.Repeat("x", SizeThreshold+1), IssueType: "task"},
	}
	b := NewBatch(items)
	q, s := b.Evaluate()
	assert.False(t, q)
	assert.True(t, s, "aggregate size above the threshold requires a split confirmation")

	b.ConfirmSize()
	assert.True(t, b.ReadyForCreation())
}

func TestConfirmationsAreIndependent(t *testing.T) {
	items := makeItems(5)
	items[0].Description = strings.Repeat("x", SizeThreshold+1)
	b := NewBatch(items)

	b.ConfirmQuantity()
	assert.False(t, b.ReadyForCreation(), "size confirmation still outstanding")
	b.ConfirmSize()
	assert.True(t, b.ReadyForCreation())
}

func TestNewBatchAssignsProvisionalIDs(t *testing.T) {
	b := NewBatch(makeItems(3))
	seen := map[string]bool{}
	for _, it := range b.Items {
		require.NotEmpty(t, it.ProvisionalID)
		assert.False(t, seen[it.ProvisionalID])
		seen[it.ProvisionalID] = true
	}
}

func TestDryRunValidateParentLinkage(t *testing.T) {
	items := []tickets.Item{
		{ProvisionalID: "p1", Summary: "auth epic", IssueType: "epic"},
		{ProvisionalID: "p2", Summary: "sso story", IssueType: "story", ParentRef: "p1"},
	}
	assert.NoError(t, DryRunValidate(items))

	broken := []tickets.Item{
		{ProvisionalID: "p1", Summary: "orphan story", IssueType: "story", ParentRef: "missing"},
	}
	err := DryRunValidate(broken)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestDryRunValidateRequiredFields(t *testing.T) {
	err := DryRunValidate([]tickets.Item{{ProvisionalID: "p1", Summary: "  ", IssueType: "story"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "summary is required")

	err = DryRunValidate([]tickets.Item{{ProvisionalID: "p1", Summary: "ok", IssueType: "wish"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown issue type")

	assert.Error(t, DryRunValidate(nil))
}

func TestDryRunValidateReportsAllProblems(t *testing.T) {
	items := []tickets.Item{
		{ProvisionalID: "p1", Summary: "", IssueType: "story"},
		{ProvisionalID: "p2", Summary: "ok", IssueType: "story", ParentRef: "nope"},
	}
	err := DryRunValidate(items)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "item 1")
	assert.Contains(t, err.Error(), "item 2")
}
