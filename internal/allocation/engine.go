// Package allocation plans how a requested medicine quantity is drawn from
// the batches on hand. Planning is pure: it never touches storage, so the
// same snapshot always yields the same plan.
package allocation

import (
	"sort"
	"time"

	"medipos/backend/internal/store"
)

// Batch is the snapshot of one candidate batch at planning time.
type Batch struct {
	ID         string
	ExpiryDate time.Time
	Remaining  int
}

// Take is one planned draw against a batch.
type Take struct {
	BatchID    string
	ExpiryDate time.Time
	Quantity   int
}

// Plan fills quantity from the given batches, oldest expiry first, ties
// broken by batch id. Batches are drained in full before the next one is
// touched; the last take may be partial. A non-positive quantity returns
// ErrInvalidQuantity and a shortfall returns ErrInsufficientStock, in both
// cases with no plan at all.
func Plan(batches []Batch, quantity int) ([]Take, error) {
	if quantity <= 0 {
		return nil, store.ErrInvalidQuantity
	}

	candidates := make([]Batch, 0, len(batches))
	for _, b := range batches {
		if b.Remaining > 0 {
			candidates = append(candidates, b)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].ExpiryDate.Equal(candidates[j].ExpiryDate) {
			return candidates[i].ExpiryDate.Before(candidates[j].ExpiryDate)
		}
		return candidates[i].ID < candidates[j].ID
	})

	remaining := quantity
	takes := make([]Take, 0, 1)
	for _, b := range candidates {
		if remaining == 0 {
			break
		}
		take := b.Remaining
		if take > remaining {
			take = remaining
		}
		takes = append(takes, Take{BatchID: b.ID, ExpiryDate: b.ExpiryDate, Quantity: take})
		remaining -= take
	}
	if remaining > 0 {
		return nil, store.ErrInsufficientStock
	}
	return takes, nil
}

// Total returns the summed quantity of a plan.
func Total(takes []Take) int {
	total := 0
	for _, t := range takes {
		total += t.Quantity
	}
	return total
}
