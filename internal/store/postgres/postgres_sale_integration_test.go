package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"medipos/backend/internal/domain"
	"medipos/backend/internal/store"
)

func TestCreateSaleDrainsBatchesOldestFirst(t *testing.T) {
	databaseURL := os.Getenv("MEDIPOS_TEST_OPS_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set MEDIPOS_TEST_OPS_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	storeID := int64(900000 + stamp%1000)
	medicineID := int64(1)
	oldBatch := fmt.Sprintf("batch-it-old-%d", stamp)
	newBatch := fmt.Sprintf("batch-it-new-%d", stamp)
	saleID := fmt.Sprintf("sale-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_batches WHERE store_id = $1`, storeID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM medicine_availability WHERE store_id = $1`, storeID)
	})

	seed := func(id string, expiry time.Time, qty int) {
		t.Helper()
		if _, err := s.ReceiveBatch(ctx, domain.Batch{
			ID:               id,
			StoreID:          storeID,
			MedicineID:       medicineID,
			MedicineForm:     domain.FormTablet,
			BatchNumber:      id,
			ExpiryDate:       expiry,
			UnitsInPack:      domain.UnitCount,
			ReceivedQuantity: qty,
		}, "integration"); err != nil {
			t.Fatalf("seed batch %s: %v", id, err)
		}
	}
	seed(oldBatch, time.Now().UTC().AddDate(0, 2, 0), 5)
	seed(newBatch, time.Now().UTC().AddDate(0, 8, 0), 10)

	created, err := s.CreateSale(ctx, domain.Sale{
		ID:        saleID,
		StoreID:   storeID,
		InvoiceID: fmt.Sprintf("inv-it-%d", stamp),
		CreatedBy: "integration",
	}, []domain.SaleLineRequest{{MedicineID: medicineID, Quantity: 12, UnitPriceCents: 500}})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	if created.TotalAmountCents != 6000 {
		t.Fatalf("expected recomputed total 6000, got %d", created.TotalAmountCents)
	}
	if len(created.Items) != 2 {
		t.Fatalf("expected sale split across 2 batches, got %d items", len(created.Items))
	}
	if created.Items[0].BatchID != oldBatch && created.Items[1].BatchID != oldBatch {
		t.Fatalf("expected oldest batch to be drained, items: %+v", created.Items)
	}

	var oldRemaining, newRemaining int
	if err := s.db.QueryRowContext(ctx, `SELECT qty_remaining FROM stock_batches WHERE id = $1`, oldBatch).Scan(&oldRemaining); err != nil {
		t.Fatalf("query old batch: %v", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT qty_remaining FROM stock_batches WHERE id = $1`, newBatch).Scan(&newRemaining); err != nil {
		t.Fatalf("query new batch: %v", err)
	}
	if oldRemaining != 0 || newRemaining != 3 {
		t.Fatalf("expected remainders 0 and 3, got %d and %d", oldRemaining, newRemaining)
	}

	avail, err := s.GetAvailability(ctx, storeID, medicineID)
	if err != nil {
		t.Fatalf("get availability: %v", err)
	}
	if avail.AvailableQuantity != 3 {
		t.Fatalf("expected counter 3 after sale, got %d", avail.AvailableQuantity)
	}

	_, err = s.CreateSale(ctx, domain.Sale{
		StoreID:   storeID,
		InvoiceID: fmt.Sprintf("inv-it2-%d", stamp),
		CreatedBy: "integration",
	}, []domain.SaleLineRequest{{MedicineID: medicineID, Quantity: 50, UnitPriceCents: 500}})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	avail, err = s.GetAvailability(ctx, storeID, medicineID)
	if err != nil {
		t.Fatalf("get availability after failed sale: %v", err)
	}
	if avail.AvailableQuantity != 3 {
		t.Fatalf("failed sale must not change counter, got %d", avail.AvailableQuantity)
	}
}

// A batch received later can still expire sooner. Read-back must return the
// items as allocated, not in batch id order.
func TestFindSaleByIDReturnsItemsInAllocationOrder(t *testing.T) {
	databaseURL := os.Getenv("MEDIPOS_TEST_OPS_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set MEDIPOS_TEST_OPS_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	storeID := int64(910000 + stamp%1000)
	medicineID := int64(1)
	lateBatch := fmt.Sprintf("batch-it-a-%d", stamp)
	soonBatch := fmt.Sprintf("batch-it-z-%d", stamp)
	saleID := fmt.Sprintf("sale-it-order-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_batches WHERE store_id = $1`, storeID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM medicine_availability WHERE store_id = $1`, storeID)
	})

	seed := func(id string, expiry time.Time, qty int) {
		t.Helper()
		if _, err := s.ReceiveBatch(ctx, domain.Batch{
			ID:               id,
			StoreID:          storeID,
			MedicineID:       medicineID,
			MedicineForm:     domain.FormTablet,
			BatchNumber:      id,
			ExpiryDate:       expiry,
			UnitsInPack:      domain.UnitCount,
			ReceivedQuantity: qty,
		}, "integration"); err != nil {
			t.Fatalf("seed batch %s: %v", id, err)
		}
	}
	// lateBatch sorts first by id but expires after soonBatch.
	seed(lateBatch, time.Now().UTC().AddDate(0, 10, 0), 10)
	seed(soonBatch, time.Now().UTC().AddDate(0, 1, 0), 5)

	created, err := s.CreateSale(ctx, domain.Sale{
		ID:        saleID,
		StoreID:   storeID,
		InvoiceID: fmt.Sprintf("inv-it-order-%d", stamp),
		CreatedBy: "integration",
	}, []domain.SaleLineRequest{{MedicineID: medicineID, Quantity: 8, UnitPriceCents: 500}})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if len(created.Items) != 2 {
		t.Fatalf("expected sale split across 2 batches, got %d items", len(created.Items))
	}

	fetched, err := s.FindSaleByID(ctx, saleID)
	if err != nil {
		t.Fatalf("find sale: %v", err)
	}
	if len(fetched.Items) != 2 {
		t.Fatalf("expected 2 items on read-back, got %d", len(fetched.Items))
	}
	if fetched.Items[0].BatchID != soonBatch || fetched.Items[1].BatchID != lateBatch {
		t.Fatalf("expected items in allocation order (%s, %s), got (%s, %s)",
			soonBatch, lateBatch, fetched.Items[0].BatchID, fetched.Items[1].BatchID)
	}
	if fetched.Items[0].ExpiryDate.After(fetched.Items[1].ExpiryDate) {
		t.Fatalf("expected non-decreasing expiry order, got %v then %v",
			fetched.Items[0].ExpiryDate, fetched.Items[1].ExpiryDate)
	}
	if fetched.Items[0].Quantity != 5 || fetched.Items[1].Quantity != 3 {
		t.Fatalf("expected quantities (5, 3), got (%d, %d)",
			fetched.Items[0].Quantity, fetched.Items[1].Quantity)
	}
}
