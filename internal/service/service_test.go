package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"medipos/backend/internal/cache"
	"medipos/backend/internal/domain"
	"medipos/backend/internal/store"
	"medipos/backend/internal/store/memory"
	"medipos/backend/internal/substitution"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	subs := substitution.NewEngine(repo, repo, 5)
	return New(repo, repo, cache.NoopStockCache{}, subs, 5*time.Second), repo
}

func keeperCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "keeper", Role: domain.RoleStoreKeeper})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func TestRecordSaleSplitsAcrossOldestBatches(t *testing.T) {
	svc, repo := newTestService()

	// Seeded paracetamol stock: batch-pcm-a expires first with 40 units,
	// batch-pcm-b later with 60.
	resp, err := svc.RecordSale(keeperCtx(), domain.SaleRequest{
		StoreID: 1,
		Lines:   []domain.SaleLineRequest{{MedicineID: 1, Quantity: 50, UnitPriceCents: 250}},
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}

	if resp.Sale.TotalAmountCents != 12500 {
		t.Fatalf("expected total 12500, got %d", resp.Sale.TotalAmountCents)
	}
	if len(resp.Sale.Items) != 2 {
		t.Fatalf("expected 2 batch items, got %d", len(resp.Sale.Items))
	}
	if resp.Sale.Items[0].BatchID != "batch-pcm-a" || resp.Sale.Items[0].Quantity != 40 {
		t.Fatalf("expected oldest batch drained first, got %+v", resp.Sale.Items[0])
	}
	if resp.Sale.Items[1].BatchID != "batch-pcm-b" || resp.Sale.Items[1].Quantity != 10 {
		t.Fatalf("expected 10 units from newer batch, got %+v", resp.Sale.Items[1])
	}
	if resp.Sale.InvoiceID == "" {
		t.Fatalf("expected generated invoice id")
	}

	avail, err := repo.GetAvailability(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("get availability: %v", err)
	}
	if avail.AvailableQuantity != 50 {
		t.Fatalf("expected counter 50 after sale, got %d", avail.AvailableQuantity)
	}
}

func TestRecordSaleShortfallLeavesStockUntouched(t *testing.T) {
	svc, repo := newTestService()

	_, err := svc.RecordSale(keeperCtx(), domain.SaleRequest{
		StoreID: 1,
		Lines:   []domain.SaleLineRequest{{MedicineID: 1, Quantity: 200, UnitPriceCents: 250}},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	var lineErr *store.LineError
	if !errors.As(err, &lineErr) || lineErr.MedicineID != 1 {
		t.Fatalf("expected line error for medicine 1, got %v", err)
	}

	avail, err := repo.GetAvailability(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("get availability: %v", err)
	}
	if avail.AvailableQuantity != 100 {
		t.Fatalf("failed sale must not change counter, got %d", avail.AvailableQuantity)
	}

	batches, err := repo.ListBatches(context.Background(), 1, 1, false, 10)
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	for _, b := range batches {
		if b.RemainingQuantity != b.ReceivedQuantity {
			t.Fatalf("failed sale must not touch batch %s, remaining %d", b.ID, b.RemainingQuantity)
		}
	}
}

func TestRecordSaleRejectsNonPositiveQuantity(t *testing.T) {
	svc, _ := newTestService()

	// Store 99 does not exist; the quantity check must fire before any lookup.
	_, err := svc.RecordSale(keeperCtx(), domain.SaleRequest{
		StoreID: 99,
		Lines:   []domain.SaleLineRequest{{MedicineID: 1, Quantity: 0, UnitPriceCents: 250}},
	})
	if !errors.Is(err, store.ErrInvalidQuantity) {
		t.Fatalf("expected invalid quantity, got %v", err)
	}

	_, err = svc.RecordSale(keeperCtx(), domain.SaleRequest{
		StoreID: 1,
		Lines:   []domain.SaleLineRequest{{MedicineID: 2, Quantity: -3, UnitPriceCents: 250}},
	})
	var lineErr *store.LineError
	if !errors.As(err, &lineErr) || lineErr.MedicineID != 2 || !errors.Is(err, store.ErrInvalidQuantity) {
		t.Fatalf("expected invalid quantity line error for medicine 2, got %v", err)
	}
}

func TestRecordSaleUnknownMedicine(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.RecordSale(keeperCtx(), domain.SaleRequest{
		StoreID: 1,
		Lines:   []domain.SaleLineRequest{{MedicineID: 77, Quantity: 1, UnitPriceCents: 100}},
	})
	if !errors.Is(err, store.ErrUnknownMedicine) {
		t.Fatalf("expected unknown medicine, got %v", err)
	}
}

func TestRecordSaleUnknownStore(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.RecordSale(keeperCtx(), domain.SaleRequest{
		StoreID: 42,
		Lines:   []domain.SaleLineRequest{{MedicineID: 1, Quantity: 1, UnitPriceCents: 250}},
	})
	if !errors.Is(err, store.ErrUnknownStore) {
		t.Fatalf("expected unknown store, got %v", err)
	}
}

func TestRecordSaleIgnoresCallerTotal(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.RecordSale(keeperCtx(), domain.SaleRequest{
		StoreID:          1,
		TotalAmountCents: 1,
		Lines:            []domain.SaleLineRequest{{MedicineID: 2, Quantity: 4, UnitPriceCents: 300}},
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	if resp.Sale.TotalAmountCents != 1200 {
		t.Fatalf("expected recomputed total 1200, got %d", resp.Sale.TotalAmountCents)
	}
}

func TestRecordSaleMultiLineAtomicity(t *testing.T) {
	svc, repo := newTestService()

	// Second line exceeds ibuprofen stock, so the fulfillable first line
	// must not commit either.
	_, err := svc.RecordSale(keeperCtx(), domain.SaleRequest{
		StoreID: 1,
		Lines: []domain.SaleLineRequest{
			{MedicineID: 2, Quantity: 10, UnitPriceCents: 300},
			{MedicineID: 3, Quantity: 100, UnitPriceCents: 150},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	var lineErr *store.LineError
	if !errors.As(err, &lineErr) || lineErr.MedicineID != 3 {
		t.Fatalf("expected failure attributed to medicine 3, got %v", err)
	}

	avail, err := repo.GetAvailability(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("get availability: %v", err)
	}
	if avail.AvailableQuantity != 30 {
		t.Fatalf("expected medicine 2 untouched at 30, got %d", avail.AvailableQuantity)
	}
}

func TestRecordSaleRequiresRole(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.RecordSale(context.Background(), domain.SaleRequest{
		StoreID: 1,
		Lines:   []domain.SaleLineRequest{{MedicineID: 1, Quantity: 1, UnitPriceCents: 250}},
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden without actor, got %v", err)
	}
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	svc, repo := newTestService()

	// 100 paracetamol units seeded; 8 competing sales of 20 can satisfy
	// at most 5.
	const workers = 8
	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.RecordSale(keeperCtx(), domain.SaleRequest{
				StoreID: 1,
				Lines:   []domain.SaleLineRequest{{MedicineID: 1, Quantity: 20, UnitPriceCents: 250}},
			})
			results[i] = err
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrInsufficientStock):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 5 {
		t.Fatalf("expected exactly 5 sales to succeed, got %d", succeeded)
	}

	avail, err := repo.GetAvailability(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("get availability: %v", err)
	}
	if avail.AvailableQuantity != 0 {
		t.Fatalf("expected stock fully drained, got %d", avail.AvailableQuantity)
	}
}

func TestIntakePurchaseCreatesBatchesAndCounters(t *testing.T) {
	svc, repo := newTestService()

	resp, err := svc.IntakePurchase(keeperCtx(), domain.PurchaseRequest{
		StoreID:       1,
		DistributorID: 1,
		Items: []domain.PurchaseItemRequest{{
			MedicineID:     2,
			MedicineForm:   domain.FormCapsule,
			BatchNumber:    "AMX-2026-09",
			ExpiryDate:     "2027-09-30",
			UnitsInPack:    domain.UnitCount,
			Package:        domain.PackageStrip,
			UnitQuantity:   10,
			PackageCount:   3,
			UnitPriceCents: 120,
		}},
	})
	if err != nil {
		t.Fatalf("intake purchase failed: %v", err)
	}

	if len(resp.Purchase.Items) != 1 {
		t.Fatalf("expected 1 purchase item, got %d", len(resp.Purchase.Items))
	}
	item := resp.Purchase.Items[0]
	if item.Quantity != 30 {
		t.Fatalf("expected quantity 30 from 10x3, got %d", item.Quantity)
	}
	if item.BatchID == "" {
		t.Fatalf("expected a stock batch to be created for the item")
	}
	if resp.Purchase.TotalAmountCents != 3600 {
		t.Fatalf("expected total 3600, got %d", resp.Purchase.TotalAmountCents)
	}

	avail, err := repo.GetAvailability(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("get availability: %v", err)
	}
	if avail.AvailableQuantity != 60 {
		t.Fatalf("expected counter 60 after intake, got %d", avail.AvailableQuantity)
	}

	batch, err := repo.ListBatches(context.Background(), 1, 2, false, 10)
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("expected 2 amoxicillin batches, got %d", len(batch))
	}
}

func TestIntakePurchaseUnknownDistributor(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.IntakePurchase(keeperCtx(), domain.PurchaseRequest{
		StoreID:       1,
		DistributorID: 55,
		Items: []domain.PurchaseItemRequest{{
			MedicineID: 2, MedicineForm: domain.FormCapsule, BatchNumber: "X",
			ExpiryDate: "2027-01-01", UnitsInPack: domain.UnitCount, Package: domain.PackageStrip,
			UnitQuantity: 1, PackageCount: 1, UnitPriceCents: 100,
		}},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for distributor, got %v", err)
	}
}

func TestReceiveBatchValidatesMedicine(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.ReceiveBatch(keeperCtx(), domain.BatchReceiveRequest{
		StoreID: 1, MedicineID: 77, MedicineForm: domain.FormTablet,
		BatchNumber: "B-1", ExpiryDate: "2027-01-01", UnitsInPack: domain.UnitCount, Quantity: 10,
	})
	if !errors.Is(err, store.ErrUnknownMedicine) {
		t.Fatalf("expected unknown medicine, got %v", err)
	}
}

func TestStockStatusInStock(t *testing.T) {
	svc, _ := newTestService()

	status, err := svc.StockStatus(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("stock status failed: %v", err)
	}
	if !status.InStock || status.AvailableQuantity != 30 {
		t.Fatalf("expected 30 in stock, got %+v", status)
	}
	if len(status.Substitutes) != 0 {
		t.Fatalf("in-stock medicine should not list substitutes, got %+v", status.Substitutes)
	}
}

func TestStockStatusSuggestsSubstitutesWhenOut(t *testing.T) {
	svc, _ := newTestService()

	// Drain paracetamol completely, then ask for its status.
	if _, err := svc.RecordSale(keeperCtx(), domain.SaleRequest{
		StoreID: 1,
		Lines:   []domain.SaleLineRequest{{MedicineID: 1, Quantity: 100, UnitPriceCents: 250}},
	}); err != nil {
		t.Fatalf("drain sale failed: %v", err)
	}

	status, err := svc.StockStatus(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("stock status failed: %v", err)
	}
	if status.InStock || status.AvailableQuantity != 0 {
		t.Fatalf("expected out of stock, got %+v", status)
	}
	if len(status.Substitutes) != 1 {
		t.Fatalf("expected 1 substitute suggestion, got %+v", status.Substitutes)
	}
	if status.Substitutes[0].MedicineID != 3 || status.Substitutes[0].AvailableQuantity != 25 {
		t.Fatalf("expected ibuprofen with 25 units, got %+v", status.Substitutes[0])
	}
}

func TestStockStatusUnknownMedicine(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.StockStatus(context.Background(), 1, 77)
	if !errors.Is(err, store.ErrUnknownMedicine) {
		t.Fatalf("expected unknown medicine, got %v", err)
	}
}

func TestListStockBatchesJoinsMedicineNames(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.ListStockBatches(context.Background(), 1, 1, false, 10)
	if err != nil {
		t.Fatalf("list stock batches failed: %v", err)
	}
	if len(resp.Batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(resp.Batches))
	}
	for _, b := range resp.Batches {
		if b.MedicineName != "Paracetamol 500" {
			t.Fatalf("expected medicine name joined, got %+v", b)
		}
	}
}

func TestUpsertPricingComputesNetRate(t *testing.T) {
	svc, _ := newTestService()

	pricing, err := svc.UpsertPricing(adminCtx(), domain.PricingUpsertRequest{
		StoreID: 1, MedicineID: 2, PriceCents: 1000, MRPCents: 1200, DiscountPercent: 10,
	})
	if err != nil {
		t.Fatalf("upsert pricing failed: %v", err)
	}
	if pricing.NetRateCents != 900 {
		t.Fatalf("expected net rate 900, got %d", pricing.NetRateCents)
	}

	_, err = svc.UpsertPricing(keeperCtx(), domain.PricingUpsertRequest{
		StoreID: 1, MedicineID: 2, PriceCents: 1000, MRPCents: 1200,
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for store keeper, got %v", err)
	}
}

func TestCreateMedicineRequiresKnownManufacturer(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CreateMedicine(adminCtx(), domain.MedicineCreateRequest{
		MedicineName: "Cetirizine 10", Formulation: domain.FormTablet,
		UnitOfMeasure: domain.UnitCount, ManufacturerID: 99, CategoryID: 1,
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for manufacturer, got %v", err)
	}

	created, err := svc.CreateMedicine(adminCtx(), domain.MedicineCreateRequest{
		MedicineName: "Cetirizine 10", Formulation: domain.FormTablet,
		UnitOfMeasure: domain.UnitCount, ManufacturerID: 1, CategoryID: 1,
	})
	if err != nil {
		t.Fatalf("create medicine failed: %v", err)
	}
	if created.MedicineID == 0 {
		t.Fatalf("expected assigned medicine id")
	}
}

func TestOrderLifecycle(t *testing.T) {
	svc, _ := newTestService()
	ctx := keeperCtx()

	customer, err := svc.CreateCustomer(ctx, domain.CustomerCreateRequest{
		Name: "A. Rao", Mobile: "9000000009", DoctorName: "Dr. Iyer",
	})
	if err != nil {
		t.Fatalf("create customer failed: %v", err)
	}

	order, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		StoreID:       1,
		CustomerID:    customer.ID,
		PaymentMethod: "cod",
		Items:         []domain.OrderItemRequest{{MedicineID: 1, Quantity: 2, UnitPriceCents: 250}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if order.OrderStatus != domain.OrderStatusPending {
		t.Fatalf("expected pending order, got %s", order.OrderStatus)
	}
	if order.TotalAmountCents != 500 {
		t.Fatalf("expected order total 500, got %d", order.TotalAmountCents)
	}

	open, err := svc.ListOpenOrders(ctx, 1, 10)
	if err != nil {
		t.Fatalf("list open orders failed: %v", err)
	}
	if len(open.Orders) != 1 || open.Orders[0].CustomerName != "A. Rao" {
		t.Fatalf("expected open order joined with customer, got %+v", open.Orders)
	}

	for _, next := range []string{domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusDelivered} {
		updated, err := svc.UpdateOrderStatus(ctx, order.ID, next)
		if err != nil {
			t.Fatalf("transition to %s failed: %v", next, err)
		}
		if updated.OrderStatus != next {
			t.Fatalf("expected status %s, got %s", next, updated.OrderStatus)
		}
	}

	_, err = svc.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusProcessing)
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid transition from delivered, got %v", err)
	}

	delivered, err := svc.ListDeliveredOrders(ctx, 1, 10)
	if err != nil {
		t.Fatalf("list delivered orders failed: %v", err)
	}
	if len(delivered.Orders) != 1 {
		t.Fatalf("expected 1 delivered order, got %d", len(delivered.Orders))
	}
}

func TestSaleAuditTrail(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.RecordSale(keeperCtx(), domain.SaleRequest{
		StoreID: 1,
		Lines:   []domain.SaleLineRequest{{MedicineID: 1, Quantity: 1, UnitPriceCents: 250}},
	}); err != nil {
		t.Fatalf("record sale failed: %v", err)
	}

	logs, err := svc.ListAuditLogs(adminCtx(), 1, time.Time{}, time.Time{}, 10)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	found := false
	for _, entry := range logs {
		if entry.Action == "sale_record" && entry.ActorUsername == "keeper" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected sale_record audit entry, got %+v", logs)
	}
}
