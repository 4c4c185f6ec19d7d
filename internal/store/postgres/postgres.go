package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"medipos/backend/internal/allocation"
	"medipos/backend/internal/domain"
	"medipos/backend/internal/store"
	"medipos/backend/internal/xid"
)

// saleMaxAttempts bounds the serialization-failure retry loop around the
// sale transaction. Conflicts past this point surface as ErrConflict.
const saleMaxAttempts = 3

// Store is the operational datastore: batches, availability counters, sales,
// purchases, pricing, customers, orders and audit lines. It holds no foreign
// keys into the master database; ids referencing master rows are plain values.
type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, storageErr(err)
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, storageErr(err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ReceiveBatch(ctx context.Context, batch domain.Batch, updatedBy string) (*domain.Batch, error) {
	if batch.StoreID < 1 || batch.MedicineID < 1 || batch.ReceivedQuantity < 1 {
		return nil, store.ErrInvalidInput
	}
	if batch.ID == "" {
		batch.ID = xid.New("batch")
	}
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = time.Now().UTC()
	}
	batch.RemainingQuantity = batch.ReceivedQuantity

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, storageErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertBatch(ctx, tx, batch); err != nil {
		return nil, storageErr(err)
	}
	if err := applyAvailabilityDelta(ctx, tx, batch.StoreID, batch.MedicineID, batch.ReceivedQuantity, updatedBy, batch.ReceivedAt); err != nil {
		return nil, storageErr(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr(err)
	}

	created := batch
	return &created, nil
}

func insertBatch(ctx context.Context, tx *sql.Tx, batch domain.Batch) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stock_batches (
			id, store_id, medicine_id, medicine_form, batch_number, expiry_date,
			units_in_pack, qty_received, qty_remaining, received_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
	`, batch.ID, batch.StoreID, batch.MedicineID, batch.MedicineForm, batch.BatchNumber,
		dateUTC(batch.ExpiryDate), batch.UnitsInPack, batch.ReceivedQuantity,
		batch.RemainingQuantity, batch.ReceivedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

// applyAvailabilityDelta folds a signed quantity change into the per-(store,
// medicine) counter, creating the row with the delta value when absent. It
// must run inside the same transaction as the batch mutation it mirrors.
func applyAvailabilityDelta(ctx context.Context, tx *sql.Tx, storeID int64, medicineID int64, delta int, updatedBy string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO medicine_availability (store_id, medicine_id, available_quantity, last_updated, updated_by)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (store_id, medicine_id)
		DO UPDATE SET
			available_quantity = medicine_availability.available_quantity + EXCLUDED.available_quantity,
			last_updated = EXCLUDED.last_updated,
			updated_by = EXCLUDED.updated_by
	`, storeID, medicineID, delta, at, updatedBy)
	return err
}

func (s *Store) ListBatches(ctx context.Context, storeID int64, medicineID int64, includeDepleted bool, limit int) ([]domain.Batch, error) {
	if limit < 1 {
		limit = 100
	}

	query := `
		SELECT id, store_id, medicine_id, medicine_form, batch_number, expiry_date,
			units_in_pack, qty_received, qty_remaining, received_at
		FROM stock_batches
		WHERE store_id = $1`
	args := []any{storeID, limit}
	if medicineID > 0 {
		query += ` AND medicine_id = $3`
		args = append(args, medicineID)
	}
	if !includeDepleted {
		query += ` AND qty_remaining > 0`
	}
	query += `
		ORDER BY expiry_date ASC, id ASC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	batches := make([]domain.Batch, 0, limit)
	for rows.Next() {
		var b domain.Batch
		if err := rows.Scan(&b.ID, &b.StoreID, &b.MedicineID, &b.MedicineForm, &b.BatchNumber,
			&b.ExpiryDate, &b.UnitsInPack, &b.ReceivedQuantity, &b.RemainingQuantity, &b.ReceivedAt); err != nil {
			return nil, storageErr(err)
		}
		b.ExpiryDate = b.ExpiryDate.UTC()
		b.ReceivedAt = b.ReceivedAt.UTC()
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return batches, nil
}

func (s *Store) GetAvailability(ctx context.Context, storeID int64, medicineID int64) (*domain.Availability, error) {
	var avail domain.Availability
	err := s.db.QueryRowContext(ctx, `
		SELECT store_id, medicine_id, available_quantity, last_updated, updated_by
		FROM medicine_availability
		WHERE store_id = $1 AND medicine_id = $2
	`, storeID, medicineID).Scan(&avail.StoreID, &avail.MedicineID, &avail.AvailableQuantity, &avail.LastUpdated, &avail.UpdatedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, storageErr(err)
	}
	avail.LastUpdated = avail.LastUpdated.UTC()
	return &avail, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale, lines []domain.SaleLineRequest) (*domain.Sale, error) {
	if sale.StoreID < 1 || len(lines) == 0 {
		return nil, store.ErrInvalidInput
	}
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, &store.LineError{MedicineID: line.MedicineID, Err: store.ErrInvalidQuantity}
		}
		if line.MedicineID < 1 || line.UnitPriceCents < 1 {
			return nil, &store.LineError{MedicineID: line.MedicineID, Err: store.ErrInvalidInput}
		}
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.SaleDate.IsZero() {
		sale.SaleDate = time.Now().UTC()
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	var lastErr error
	for attempt := 0; attempt < saleMaxAttempts; attempt++ {
		created, err := s.createSaleTx(ctx, sale, lines)
		if err == nil {
			return created, nil
		}
		if !isSerializationFailure(err) {
			return nil, storageErr(err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", store.ErrConflict, lastErr)
}

func (s *Store) createSaleTx(ctx context.Context, sale domain.Sale, lines []domain.SaleLineRequest) (*domain.Sale, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, storageErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	items := make([]domain.SaleLineItem, 0, len(lines))
	var total int64

	for _, line := range lines {
		// Locking the candidate rows up front keeps concurrent sales of the
		// same medicine from planning against the same remainders.
		rows, err := tx.QueryContext(ctx, `
			SELECT id, batch_number, expiry_date, qty_remaining
			FROM stock_batches
			WHERE store_id = $1 AND medicine_id = $2 AND qty_remaining > 0
			ORDER BY expiry_date ASC, id ASC
			FOR UPDATE
		`, sale.StoreID, line.MedicineID)
		if err != nil {
			return nil, storageErr(err)
		}

		candidates := make([]allocation.Batch, 0, 8)
		batchNumbers := make(map[string]string, 8)
		for rows.Next() {
			var id, number string
			var expiry time.Time
			var remaining int
			if err := rows.Scan(&id, &number, &expiry, &remaining); err != nil {
				rows.Close()
				return nil, storageErr(err)
			}
			candidates = append(candidates, allocation.Batch{ID: id, ExpiryDate: expiry.UTC(), Remaining: remaining})
			batchNumbers[id] = number
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, storageErr(err)
		}
		rows.Close()

		takes, err := allocation.Plan(candidates, line.Quantity)
		if err != nil {
			return nil, &store.LineError{MedicineID: line.MedicineID, Err: err}
		}

		for _, take := range takes {
			res, err := tx.ExecContext(ctx, `
				UPDATE stock_batches
				SET qty_remaining = qty_remaining - $2, updated_at = now()
				WHERE id = $1 AND qty_remaining >= $2
			`, take.BatchID, take.Quantity)
			if err != nil {
				return nil, storageErr(err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return nil, storageErr(err)
			}
			if affected == 0 {
				return nil, &store.LineError{MedicineID: line.MedicineID, Err: store.ErrInsufficientStock}
			}

			items = append(items, domain.SaleLineItem{
				MedicineID:     line.MedicineID,
				BatchID:        take.BatchID,
				BatchNumber:    batchNumbers[take.BatchID],
				ExpiryDate:     take.ExpiryDate,
				Quantity:       take.Quantity,
				UnitPriceCents: line.UnitPriceCents,
			})
			total += int64(take.Quantity) * line.UnitPriceCents
		}

		if err := applyAvailabilityDelta(ctx, tx, sale.StoreID, line.MedicineID, -line.Quantity, sale.CreatedBy, sale.CreatedAt); err != nil {
			return nil, storageErr(err)
		}
	}

	sale.TotalAmountCents = total
	sale.Items = items

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, store_id, sale_date, customer_id, invoice_id, total_amount_cents, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, sale.ID, sale.StoreID, sale.SaleDate, nullIfEmpty(sale.CustomerID), sale.InvoiceID, sale.TotalAmountCents, sale.CreatedBy, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrAlreadyExists
		}
		return nil, storageErr(err)
	}

	// line_no records the allocation order for read-back.
	for i, item := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, line_no, medicine_id, batch_id, batch_number, expiry_date, quantity, unit_price_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, sale.ID, i+1, item.MedicineID, item.BatchID, item.BatchNumber, dateUTC(item.ExpiryDate), item.Quantity, item.UnitPriceCents)
		if err != nil {
			return nil, storageErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr(err)
	}

	created := sale
	return &created, nil
}

func (s *Store) FindSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	var customerID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, store_id, sale_date, customer_id, invoice_id, total_amount_cents, created_by, created_at
		FROM sales
		WHERE id = $1
	`, id).Scan(&sale.ID, &sale.StoreID, &sale.SaleDate, &customerID, &sale.InvoiceID,
		&sale.TotalAmountCents, &sale.CreatedBy, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, storageErr(err)
	}
	sale.CustomerID = customerID.String
	sale.SaleDate = sale.SaleDate.UTC()
	sale.CreatedAt = sale.CreatedAt.UTC()

	itemsBySale, err := s.loadSaleItems(ctx, []string{sale.ID})
	if err != nil {
		return nil, storageErr(err)
	}
	sale.Items = itemsBySale[sale.ID]
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, storeID int64, customerID string, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 50
	}

	query := `
		SELECT id, store_id, sale_date, customer_id, invoice_id, total_amount_cents, created_by, created_at
		FROM sales
		WHERE store_id = $1 AND sale_date >= $2 AND sale_date < $3`
	args := []any{storeID, from, to, limit}
	if customerID != "" {
		query += ` AND customer_id = $5`
		args = append(args, customerID)
	}
	query += `
		ORDER BY sale_date DESC
		LIMIT $4`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	ids := make([]string, 0, limit)
	for rows.Next() {
		var sale domain.Sale
		var customer sql.NullString
		if err := rows.Scan(&sale.ID, &sale.StoreID, &sale.SaleDate, &customer, &sale.InvoiceID,
			&sale.TotalAmountCents, &sale.CreatedBy, &sale.CreatedAt); err != nil {
			return nil, storageErr(err)
		}
		sale.CustomerID = customer.String
		sale.SaleDate = sale.SaleDate.UTC()
		sale.CreatedAt = sale.CreatedAt.UTC()
		sales = append(sales, sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}

	itemsBySale, err := s.loadSaleItems(ctx, ids)
	if err != nil {
		return nil, storageErr(err)
	}
	for i := range sales {
		sales[i].Items = itemsBySale[sales[i].ID]
	}
	return sales, nil
}

func (s *Store) loadSaleItems(ctx context.Context, saleIDs []string) (map[string][]domain.SaleLineItem, error) {
	result := make(map[string][]domain.SaleLineItem, len(saleIDs))
	if len(saleIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sale_id, medicine_id, batch_id, batch_number, expiry_date, quantity, unit_price_cents
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, line_no
	`, saleIDs)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	for rows.Next() {
		var saleID string
		var item domain.SaleLineItem
		if err := rows.Scan(&saleID, &item.MedicineID, &item.BatchID, &item.BatchNumber,
			&item.ExpiryDate, &item.Quantity, &item.UnitPriceCents); err != nil {
			return nil, storageErr(err)
		}
		item.ExpiryDate = item.ExpiryDate.UTC()
		result[saleID] = append(result[saleID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return result, nil
}

func (s *Store) CreatePurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	if purchase.StoreID < 1 || purchase.DistributorID < 1 || len(purchase.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	if purchase.ID == "" {
		purchase.ID = xid.New("pur")
	}
	if purchase.PurchaseDate.IsZero() {
		purchase.PurchaseDate = time.Now().UTC()
	}
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, storageErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for i := range purchase.Items {
		item := &purchase.Items[i]
		if item.Quantity < 1 || item.UnitPriceCents < 1 {
			return nil, store.ErrInvalidInput
		}
		if item.BatchID == "" {
			item.BatchID = xid.New("batch")
		}

		batch := domain.Batch{
			ID:                item.BatchID,
			StoreID:           purchase.StoreID,
			MedicineID:        item.MedicineID,
			MedicineForm:      item.MedicineForm,
			BatchNumber:       item.BatchNumber,
			ExpiryDate:        item.ExpiryDate,
			UnitsInPack:       item.UnitsInPack,
			ReceivedQuantity:  item.Quantity,
			RemainingQuantity: item.Quantity,
			ReceivedAt:        purchase.CreatedAt,
		}
		if err := insertBatch(ctx, tx, batch); err != nil {
			return nil, storageErr(err)
		}
		if err := applyAvailabilityDelta(ctx, tx, purchase.StoreID, item.MedicineID, item.Quantity, purchase.CreatedBy, purchase.CreatedAt); err != nil {
			return nil, storageErr(err)
		}
		total += int64(item.Quantity) * item.UnitPriceCents
	}
	purchase.TotalAmountCents = total

	_, err = tx.ExecContext(ctx, `
		INSERT INTO purchases (id, store_id, distributor_id, purchase_date, invoice_number, total_amount_cents, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, purchase.ID, purchase.StoreID, purchase.DistributorID, purchase.PurchaseDate,
		nullIfEmpty(purchase.InvoiceNumber), purchase.TotalAmountCents, purchase.CreatedBy, purchase.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrAlreadyExists
		}
		return nil, storageErr(err)
	}

	for _, item := range purchase.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO purchase_items (
				purchase_id, medicine_id, batch_id, batch_number, expiry_date,
				medicine_form, units_in_pack, package, unit_quantity, package_count,
				quantity, unit_price_cents
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`, purchase.ID, item.MedicineID, item.BatchID, item.BatchNumber, dateUTC(item.ExpiryDate),
			item.MedicineForm, item.UnitsInPack, item.Package, item.UnitQuantity, item.PackageCount,
			item.Quantity, item.UnitPriceCents)
		if err != nil {
			return nil, storageErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr(err)
	}

	created := purchase
	return &created, nil
}

func (s *Store) FindPurchaseByID(ctx context.Context, id string) (*domain.Purchase, error) {
	var purchase domain.Purchase
	var invoice sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, store_id, distributor_id, purchase_date, invoice_number, total_amount_cents, created_by, created_at
		FROM purchases
		WHERE id = $1
	`, id).Scan(&purchase.ID, &purchase.StoreID, &purchase.DistributorID, &purchase.PurchaseDate,
		&invoice, &purchase.TotalAmountCents, &purchase.CreatedBy, &purchase.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, storageErr(err)
	}
	purchase.InvoiceNumber = invoice.String
	purchase.PurchaseDate = purchase.PurchaseDate.UTC()
	purchase.CreatedAt = purchase.CreatedAt.UTC()

	items, err := s.loadPurchaseItems(ctx, purchase.ID)
	if err != nil {
		return nil, storageErr(err)
	}
	purchase.Items = items
	return &purchase, nil
}

func (s *Store) loadPurchaseItems(ctx context.Context, purchaseID string) ([]domain.PurchaseItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT medicine_id, batch_id, batch_number, expiry_date, medicine_form,
			units_in_pack, package, unit_quantity, package_count, quantity, unit_price_cents
		FROM purchase_items
		WHERE purchase_id = $1
		ORDER BY batch_id
	`, purchaseID)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	items := make([]domain.PurchaseItem, 0, 8)
	for rows.Next() {
		var item domain.PurchaseItem
		if err := rows.Scan(&item.MedicineID, &item.BatchID, &item.BatchNumber, &item.ExpiryDate,
			&item.MedicineForm, &item.UnitsInPack, &item.Package, &item.UnitQuantity,
			&item.PackageCount, &item.Quantity, &item.UnitPriceCents); err != nil {
			return nil, storageErr(err)
		}
		item.ExpiryDate = item.ExpiryDate.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return items, nil
}

func (s *Store) ListPurchases(ctx context.Context, storeID int64, from time.Time, to time.Time, limit int) ([]domain.Purchase, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, distributor_id, purchase_date, invoice_number, total_amount_cents, created_by, created_at
		FROM purchases
		WHERE store_id = $1 AND purchase_date >= $2 AND purchase_date < $3
		ORDER BY purchase_date DESC
		LIMIT $4
	`, storeID, from, to, limit)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	purchases := make([]domain.Purchase, 0, limit)
	for rows.Next() {
		var purchase domain.Purchase
		var invoice sql.NullString
		if err := rows.Scan(&purchase.ID, &purchase.StoreID, &purchase.DistributorID, &purchase.PurchaseDate,
			&invoice, &purchase.TotalAmountCents, &purchase.CreatedBy, &purchase.CreatedAt); err != nil {
			return nil, storageErr(err)
		}
		purchase.InvoiceNumber = invoice.String
		purchase.PurchaseDate = purchase.PurchaseDate.UTC()
		purchase.CreatedAt = purchase.CreatedAt.UTC()
		purchases = append(purchases, purchase)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}

	for i := range purchases {
		items, err := s.loadPurchaseItems(ctx, purchases[i].ID)
		if err != nil {
			return nil, storageErr(err)
		}
		purchases[i].Items = items
	}
	return purchases, nil
}

func (s *Store) UpsertPricing(ctx context.Context, pricing domain.Pricing) (*domain.Pricing, error) {
	if pricing.StoreID < 1 || pricing.MedicineID < 1 || pricing.PriceCents < 1 {
		return nil, store.ErrInvalidInput
	}
	if pricing.UpdatedOn.IsZero() {
		pricing.UpdatedOn = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pricing (
			store_id, medicine_id, price_cents, mrp_cents, discount_percent,
			net_rate_cents, is_active, updated_by, updated_on
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (store_id, medicine_id)
		DO UPDATE SET
			price_cents = EXCLUDED.price_cents,
			mrp_cents = EXCLUDED.mrp_cents,
			discount_percent = EXCLUDED.discount_percent,
			net_rate_cents = EXCLUDED.net_rate_cents,
			is_active = EXCLUDED.is_active,
			updated_by = EXCLUDED.updated_by,
			updated_on = EXCLUDED.updated_on
	`, pricing.StoreID, pricing.MedicineID, pricing.PriceCents, pricing.MRPCents,
		pricing.DiscountPercent, pricing.NetRateCents, pricing.IsActive, pricing.UpdatedBy, pricing.UpdatedOn)
	if err != nil {
		return nil, storageErr(err)
	}

	saved := pricing
	return &saved, nil
}

func (s *Store) GetPricing(ctx context.Context, storeID int64, medicineID int64) (*domain.Pricing, error) {
	var pricing domain.Pricing
	err := s.db.QueryRowContext(ctx, `
		SELECT store_id, medicine_id, price_cents, mrp_cents, discount_percent,
			net_rate_cents, is_active, updated_by, updated_on
		FROM pricing
		WHERE store_id = $1 AND medicine_id = $2
	`, storeID, medicineID).Scan(&pricing.StoreID, &pricing.MedicineID, &pricing.PriceCents,
		&pricing.MRPCents, &pricing.DiscountPercent, &pricing.NetRateCents, &pricing.IsActive,
		&pricing.UpdatedBy, &pricing.UpdatedOn)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, storageErr(err)
	}
	pricing.UpdatedOn = pricing.UpdatedOn.UTC()
	return &pricing, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" || customer.Mobile == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, mobile, email, doctor_name, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, customer.ID, customer.Name, customer.Mobile, nullIfEmpty(customer.Email),
		nullIfEmpty(customer.DoctorName), customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrAlreadyExists
		}
		return nil, storageErr(err)
	}

	created := customer
	return &created, nil
}

func (s *Store) FindCustomerByID(ctx context.Context, id string) (*domain.Customer, error) {
	var customer domain.Customer
	var email, doctor sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, mobile, email, doctor_name, created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&customer.ID, &customer.Name, &customer.Mobile, &email, &doctor, &customer.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, storageErr(err)
	}
	customer.Email = email.String
	customer.DoctorName = doctor.String
	customer.CreatedAt = customer.CreatedAt.UTC()
	return &customer, nil
}

func (s *Store) ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, mobile, email, doctor_name, created_at
		FROM customers
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, limit)
	for rows.Next() {
		var customer domain.Customer
		var email, doctor sql.NullString
		if err := rows.Scan(&customer.ID, &customer.Name, &customer.Mobile, &email, &doctor, &customer.CreatedAt); err != nil {
			return nil, storageErr(err)
		}
		customer.Email = email.String
		customer.DoctorName = doctor.String
		customer.CreatedAt = customer.CreatedAt.UTC()
		customers = append(customers, customer)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return customers, nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if order.StoreID < 1 || order.CustomerID == "" || len(order.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	if order.ID == "" {
		order.ID = xid.New("order")
	}
	if order.OrderDate.IsZero() {
		order.OrderDate = time.Now().UTC()
	}
	if order.OrderStatus == "" {
		order.OrderStatus = domain.OrderStatusPending
	}

	var total int64
	for _, item := range order.Items {
		if item.Quantity < 1 || item.UnitPriceCents < 1 {
			return nil, store.ErrInvalidInput
		}
		total += int64(item.Quantity) * item.UnitPriceCents
	}
	order.TotalAmountCents = total

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, storageErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, store_id, customer_id, order_date, order_status, payment_method, total_amount_cents)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, order.ID, order.StoreID, order.CustomerID, order.OrderDate, order.OrderStatus,
		order.PaymentMethod, order.TotalAmountCents)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrAlreadyExists
		}
		return nil, storageErr(err)
	}

	for _, item := range order.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, medicine_id, quantity, unit_price_cents, unit)
			VALUES ($1,$2,$3,$4,$5)
		`, order.ID, item.MedicineID, item.Quantity, item.UnitPriceCents, nullIfEmpty(item.Unit))
		if err != nil {
			return nil, storageErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr(err)
	}

	created := order
	return &created, nil
}

func (s *Store) FindOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	var order domain.Order
	err := s.db.QueryRowContext(ctx, `
		SELECT id, store_id, customer_id, order_date, order_status, payment_method, total_amount_cents
		FROM orders
		WHERE id = $1
	`, id).Scan(&order.ID, &order.StoreID, &order.CustomerID, &order.OrderDate,
		&order.OrderStatus, &order.PaymentMethod, &order.TotalAmountCents)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, storageErr(err)
	}
	order.OrderDate = order.OrderDate.UTC()

	items, err := s.loadOrderItems(ctx, order.ID)
	if err != nil {
		return nil, storageErr(err)
	}
	order.Items = items
	return &order, nil
}

func (s *Store) loadOrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT medicine_id, quantity, unit_price_cents, unit
		FROM order_items
		WHERE order_id = $1
		ORDER BY medicine_id
	`, orderID)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0, 8)
	for rows.Next() {
		var item domain.OrderItem
		var unit sql.NullString
		if err := rows.Scan(&item.MedicineID, &item.Quantity, &item.UnitPriceCents, &unit); err != nil {
			return nil, storageErr(err)
		}
		item.Unit = unit.String
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return items, nil
}

func (s *Store) ListOrdersByStatus(ctx context.Context, storeID int64, statuses []string, limit int) ([]domain.Order, error) {
	if limit < 1 {
		limit = 50
	}
	if len(statuses) == 0 {
		statuses = []string{domain.OrderStatusPending}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, customer_id, order_date, order_status, payment_method, total_amount_cents
		FROM orders
		WHERE store_id = $1 AND order_status = ANY($2)
		ORDER BY order_date ASC
		LIMIT $3
	`, storeID, statuses, limit)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, limit)
	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(&order.ID, &order.StoreID, &order.CustomerID, &order.OrderDate,
			&order.OrderStatus, &order.PaymentMethod, &order.TotalAmountCents); err != nil {
			return nil, storageErr(err)
		}
		order.OrderDate = order.OrderDate.UTC()
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}

	for i := range orders {
		items, err := s.loadOrderItems(ctx, orders[i].ID)
		if err != nil {
			return nil, storageErr(err)
		}
		orders[i].Items = items
	}
	return orders, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id string, status string) (*domain.Order, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET order_status = $2
		WHERE id = $1
	`, id, status)
	if err != nil {
		return nil, storageErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, storageErr(err)
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.FindOrderByID(ctx, id)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.StoreID, entry.ActorUsername, entry.ActorRole, entry.Action,
		entry.EntityType, nullIfEmpty(entry.EntityID), strings.TrimSpace(entry.Detail), entry.CreatedAt)
	return storageErr(err)
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID int64, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE store_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, storeID, from, to, limit)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	entries := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		var entityID sql.NullString
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.ActorUsername, &entry.ActorRole,
			&entry.Action, &entry.EntityType, &entityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, storageErr(err)
		}
		entry.EntityID = entityID.String
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return entries, nil
}

// storageErr classifies datastore availability failures. Context cancellation,
// timeouts, dropped connections and Postgres connection-class errors wrap
// store.ErrUnavailable so callers can retry; everything else passes through
// unchanged.
func storageErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exceptions, 57P0x covers server shutdown
		// states, 57014 is a cancelled statement (statement_timeout).
		if strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P") || pgErr.Code == "57014" {
			return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func dateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
