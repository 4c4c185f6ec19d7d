package allocation

import (
	"errors"
	"testing"
	"time"

	"medipos/backend/internal/store"
)

func day(offset int) time.Time {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return base.AddDate(0, 0, offset)
}

func TestPlanSplitsAcrossBatchesOldestFirst(t *testing.T) {
	batches := []Batch{
		{ID: "batch-b", ExpiryDate: day(30), Remaining: 10},
		{ID: "batch-a", ExpiryDate: day(10), Remaining: 5},
	}

	takes, err := Plan(batches, 12)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(takes) != 2 {
		t.Fatalf("expected 2 takes, got %d", len(takes))
	}
	if takes[0].BatchID != "batch-a" || takes[0].Quantity != 5 {
		t.Fatalf("expected batch-a drained for 5, got %+v", takes[0])
	}
	if takes[1].BatchID != "batch-b" || takes[1].Quantity != 7 {
		t.Fatalf("expected 7 from batch-b, got %+v", takes[1])
	}
	if Total(takes) != 12 {
		t.Fatalf("expected conserved total 12, got %d", Total(takes))
	}
}

func TestPlanTieBreaksOnBatchID(t *testing.T) {
	batches := []Batch{
		{ID: "batch-z", ExpiryDate: day(10), Remaining: 4},
		{ID: "batch-a", ExpiryDate: day(10), Remaining: 4},
	}

	takes, err := Plan(batches, 6)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if takes[0].BatchID != "batch-a" || takes[0].Quantity != 4 {
		t.Fatalf("expected batch-a first on expiry tie, got %+v", takes[0])
	}
	if takes[1].BatchID != "batch-z" || takes[1].Quantity != 2 {
		t.Fatalf("expected remainder from batch-z, got %+v", takes[1])
	}
}

func TestPlanSingleBatchPartialTake(t *testing.T) {
	takes, err := Plan([]Batch{{ID: "b1", ExpiryDate: day(5), Remaining: 50}}, 8)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(takes) != 1 || takes[0].Quantity != 8 {
		t.Fatalf("expected single take of 8, got %+v", takes)
	}
}

func TestPlanShortfallReturnsNoPartialPlan(t *testing.T) {
	batches := []Batch{
		{ID: "b1", ExpiryDate: day(1), Remaining: 5},
		{ID: "b2", ExpiryDate: day(2), Remaining: 10},
	}
	takes, err := Plan(batches, 20)
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if takes != nil {
		t.Fatalf("expected no plan on shortfall, got %+v", takes)
	}
}

func TestPlanRejectsNonPositiveQuantity(t *testing.T) {
	for _, qty := range []int{0, -3} {
		_, err := Plan([]Batch{{ID: "b1", ExpiryDate: day(1), Remaining: 5}}, qty)
		if !errors.Is(err, store.ErrInvalidQuantity) {
			t.Fatalf("quantity %d: expected invalid quantity, got %v", qty, err)
		}
	}
}

func TestPlanSkipsDepletedBatches(t *testing.T) {
	batches := []Batch{
		{ID: "empty", ExpiryDate: day(0), Remaining: 0},
		{ID: "live", ExpiryDate: day(9), Remaining: 3},
	}
	takes, err := Plan(batches, 3)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(takes) != 1 || takes[0].BatchID != "live" {
		t.Fatalf("expected depleted batch skipped, got %+v", takes)
	}
}

func TestPlanIncludesExpiredBatches(t *testing.T) {
	batches := []Batch{
		{ID: "past", ExpiryDate: day(-400), Remaining: 2},
		{ID: "future", ExpiryDate: day(60), Remaining: 10},
	}
	takes, err := Plan(batches, 5)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if takes[0].BatchID != "past" || takes[0].Quantity != 2 {
		t.Fatalf("expected oldest expiry consumed first even when past, got %+v", takes[0])
	}
}

func TestPlanDoesNotMutateInput(t *testing.T) {
	batches := []Batch{
		{ID: "b2", ExpiryDate: day(2), Remaining: 7},
		{ID: "b1", ExpiryDate: day(1), Remaining: 7},
	}
	if _, err := Plan(batches, 10); err != nil {
		t.Fatalf("plan: %v", err)
	}
	if batches[0].ID != "b2" || batches[0].Remaining != 7 {
		t.Fatalf("input slice mutated: %+v", batches)
	}
}
