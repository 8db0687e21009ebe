package batchguard

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/threadscribe/internal/tickets"
)

var ErrValidation = errors.New("batch validation failed")

const (
	// QuantityThreshold is the item count above which creation requires an
	// explicit "confirm create N items?" approval.
	QuantityThreshold = 3
	// SizeThreshold is the aggregate content size in bytes above which the
	// user must confirm or split the batch.
	SizeThreshold = 8192
)

// Batch is a pending creation of several related external artifacts. It may
// not proceed to creation while either confirmation flag is set and the
// matching confirmation has not arrived.
type Batch struct {
	Items                   []tickets.Item `json:"items"`
	TotalSizeEstimate       int            `json:"total_size_estimate"`
	RequiresQuantityConfirm bool           `json:"requires_quantity_confirmation"`
	RequiresSizeConfirm     bool           `json:"requires_size_confirmation"`
	QuantityConfirmed       bool           `json:"quantity_confirmed"`
	SizeConfirmed           bool           `json:"size_confirmed"`
}

// NewBatch assigns provisional ids, computes the size estimate, and sets the
// confirmation flags. Confirmations start unconfirmed; they can only be
// cleared by explicit confirmation events, never inferred.
func NewBatch(items []tickets.Item) *Batch {
	total := 0
	for i := range items {
		if items[i].ProvisionalID == "" {
			items[i].ProvisionalID = uuid.NewString()
		}
		total += items[i].Size()
	}
	return &Batch{
		Items:                   items,
		TotalSizeEstimate:       total,
		RequiresQuantityConfirm: len(items) > QuantityThreshold,
		RequiresSizeConfirm:     total > SizeThreshold,
	}
}

// Evaluate reports which confirmations are still outstanding.
func (b *Batch) Evaluate() (needsQuantityConfirm, needsSizeConfirm bool) {
	return b.RequiresQuantityConfirm && !b.QuantityConfirmed,
		b.RequiresSizeConfirm && !b.SizeConfirmed
}

// ConfirmQuantity records the explicit "create N items" approval.
func (b *Batch) ConfirmQuantity() { b.QuantityConfirmed = true }

// ConfirmSize records the explicit size/split approval.
func (b *Batch) ConfirmSize() { b.SizeConfirmed = true }

// ReadyForCreation is true only once every required confirmation arrived.
func (b *Batch) ReadyForCreation() bool {
	q, s := b.Evaluate()
	return !q && !s
}

// DryRunValidate checks every item against the target system's preconditions
// before any external call: required fields present, issue types known, and
// parent references resolving inside the batch. Any failure aborts the whole
// batch; no partial creation.
func DryRunValidate(items []tickets.Item) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: batch is empty", ErrValidation)
	}

	known := make(map[string]bool, len(items))
	for _, it := range items {
		known[it.ProvisionalID] = true
	}

	var problems []string
	for i, it := range items {
		if strings.TrimSpace(it.Summary) == "" {
			problems = append(problems, fmt.Sprintf("item %d: summary is required", i+1))
		}
		switch it.IssueType {
		case "epic", "story", "task", "bug":
		default:
			problems = append(problems, fmt.Sprintf("item %d: unknown issue type %q", i+1, it.IssueType))
		}
		if it.ParentRef != "" {
			if !known[it.ParentRef] {
				problems = append(problems, fmt.Sprintf("item %d: parent %q not found in batch", i+1, it.ParentRef))
			}
			if it.ParentRef == it.ProvisionalID {
				problems = append(problems, fmt.Sprintf("item %d: item is its own parent", i+1))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}
