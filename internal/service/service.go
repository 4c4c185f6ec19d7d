package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"medipos/backend/internal/cache"
	"medipos/backend/internal/domain"
	"medipos/backend/internal/store"
	"medipos/backend/internal/substitution"
	"medipos/backend/internal/xid"
)

// ErrForbidden marks a request whose actor lacks the required role.
var ErrForbidden = errors.New("insufficient role")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	master        store.MasterRepository
	repo          store.Repository
	stockCache    cache.StockCache
	substitutes   *substitution.Engine
	stockCacheTTL time.Duration
}

func New(master store.MasterRepository, repo store.Repository, stockCache cache.StockCache, substitutes *substitution.Engine, stockCacheTTL time.Duration) *Service {
	if stockCache == nil {
		stockCache = cache.NoopStockCache{}
	}
	if stockCacheTTL <= 0 {
		stockCacheTTL = 30 * time.Second
	}

	return &Service{
		master:        master,
		repo:          repo,
		stockCache:    stockCache,
		substitutes:   substitutes,
		stockCacheTTL: stockCacheTTL,
	}
}

func (s *Service) requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("%w: authentication required", ErrForbidden)
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, nil
		}
	}
	return domain.Actor{}, fmt.Errorf("%w: %s role required", ErrForbidden, roles[0])
}

// RecordSale runs the full sale pipeline: line validation, store and
// medicine existence checks, then the allocating transaction in the
// operational store. The recorded total always comes from the allocated
// quantities; a caller-supplied total is ignored.
func (s *Service) RecordSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResponse, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleStoreKeeper)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	if len(req.Lines) == 0 {
		return domain.SaleResponse{}, store.ErrInvalidInput
	}
	// Quantity is rejected before any stock read.
	for _, line := range req.Lines {
		if line.Quantity <= 0 {
			return domain.SaleResponse{}, &store.LineError{MedicineID: line.MedicineID, Err: store.ErrInvalidQuantity}
		}
		if line.MedicineID < 1 || line.UnitPriceCents < 1 {
			return domain.SaleResponse{}, &store.LineError{MedicineID: line.MedicineID, Err: store.ErrInvalidInput}
		}
	}

	storeDetails, err := s.master.GetStoreByID(ctx, req.StoreID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.SaleResponse{}, fmt.Errorf("%w: store %d", store.ErrUnknownStore, req.StoreID)
		}
		return domain.SaleResponse{}, err
	}
	if storeDetails.Status == domain.StoreStatusClosed {
		return domain.SaleResponse{}, fmt.Errorf("%w: store %d is closed", store.ErrInvalidInput, storeDetails.StoreID)
	}

	medicineIDs := uniqueMedicineIDs(req.Lines)
	medicines, err := s.master.GetMedicinesByIDs(ctx, medicineIDs)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	for _, line := range req.Lines {
		if _, ok := medicines[line.MedicineID]; !ok {
			return domain.SaleResponse{}, &store.LineError{MedicineID: line.MedicineID, Err: store.ErrUnknownMedicine}
		}
	}

	sale := domain.Sale{
		StoreID:    req.StoreID,
		CustomerID: strings.TrimSpace(req.CustomerID),
		InvoiceID:  strings.TrimSpace(req.InvoiceID),
		CreatedBy:  actor.Username,
	}
	if req.SaleDate != nil {
		sale.SaleDate = req.SaleDate.UTC()
	}
	if sale.InvoiceID == "" {
		sale.InvoiceID = uuid.NewString()
	}

	created, err := s.repo.CreateSale(ctx, sale, req.Lines)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	s.invalidateStock(ctx, req.StoreID, medicineIDs)
	s.logAudit(ctx, req.StoreID, "sale_record", "sale", created.ID,
		fmt.Sprintf("lines=%d,total_cents=%d,invoice=%s", len(req.Lines), created.TotalAmountCents, created.InvoiceID))

	return domain.SaleResponse{Sale: *created}, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.SaleResponse, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.SaleResponse{}, store.ErrInvalidInput
	}
	sale, err := s.repo.FindSaleByID(ctx, id)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	return domain.SaleResponse{Sale: *sale}, nil
}

func (s *Service) ListSales(ctx context.Context, storeID int64, customerID string, from time.Time, to time.Time, limit int) (domain.SaleListResponse, error) {
	if storeID < 1 {
		return domain.SaleListResponse{}, store.ErrInvalidInput
	}
	from, to = normalizeRange(from, to)
	sales, err := s.repo.ListSales(ctx, storeID, strings.TrimSpace(customerID), from, to, limit)
	if err != nil {
		return domain.SaleListResponse{}, err
	}
	return domain.SaleListResponse{Sales: sales}, nil
}

// IntakePurchase records a distributor delivery: one stock batch per item
// plus positive availability deltas, and the purchase document itself, all in
// one operational transaction.
func (s *Service) IntakePurchase(ctx context.Context, req domain.PurchaseRequest) (domain.PurchaseResponse, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleStoreKeeper)
	if err != nil {
		return domain.PurchaseResponse{}, err
	}

	if len(req.Items) == 0 {
		return domain.PurchaseResponse{}, store.ErrInvalidInput
	}

	if _, err := s.master.GetStoreByID(ctx, req.StoreID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.PurchaseResponse{}, fmt.Errorf("%w: store %d", store.ErrUnknownStore, req.StoreID)
		}
		return domain.PurchaseResponse{}, err
	}
	if _, err := s.master.GetDistributorByID(ctx, req.DistributorID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.PurchaseResponse{}, fmt.Errorf("%w: distributor %d", store.ErrNotFound, req.DistributorID)
		}
		return domain.PurchaseResponse{}, err
	}

	medicineIDs := make([]int64, 0, len(req.Items))
	for _, item := range req.Items {
		medicineIDs = append(medicineIDs, item.MedicineID)
	}
	medicines, err := s.master.GetMedicinesByIDs(ctx, medicineIDs)
	if err != nil {
		return domain.PurchaseResponse{}, err
	}

	items := make([]domain.PurchaseItem, 0, len(req.Items))
	for _, item := range req.Items {
		if _, ok := medicines[item.MedicineID]; !ok {
			return domain.PurchaseResponse{}, &store.LineError{MedicineID: item.MedicineID, Err: store.ErrUnknownMedicine}
		}
		expiry, err := time.Parse("2006-01-02", item.ExpiryDate)
		if err != nil {
			return domain.PurchaseResponse{}, fmt.Errorf("%w: expiry_date %q", store.ErrInvalidInput, item.ExpiryDate)
		}
		if item.UnitQuantity < 1 || item.PackageCount < 1 {
			return domain.PurchaseResponse{}, store.ErrInvalidInput
		}
		items = append(items, domain.PurchaseItem{
			MedicineID:     item.MedicineID,
			BatchNumber:    strings.TrimSpace(item.BatchNumber),
			ExpiryDate:     expiry,
			MedicineForm:   item.MedicineForm,
			UnitsInPack:    item.UnitsInPack,
			Package:        item.Package,
			UnitQuantity:   item.UnitQuantity,
			PackageCount:   item.PackageCount,
			Quantity:       item.UnitQuantity * item.PackageCount,
			UnitPriceCents: item.UnitPriceCents,
		})
	}

	purchase := domain.Purchase{
		StoreID:       req.StoreID,
		DistributorID: req.DistributorID,
		InvoiceNumber: strings.TrimSpace(req.InvoiceNumber),
		CreatedBy:     actor.Username,
		Items:         items,
	}
	if req.PurchaseDate != nil {
		purchase.PurchaseDate = req.PurchaseDate.UTC()
	}
	if purchase.InvoiceNumber == "" {
		purchase.InvoiceNumber = uuid.NewString()
	}

	created, err := s.repo.CreatePurchase(ctx, purchase)
	if err != nil {
		return domain.PurchaseResponse{}, err
	}

	s.invalidateStock(ctx, req.StoreID, medicineIDs)
	s.logAudit(ctx, req.StoreID, "purchase_intake", "purchase", created.ID,
		fmt.Sprintf("items=%d,total_cents=%d,distributor=%d", len(created.Items), created.TotalAmountCents, created.DistributorID))

	return domain.PurchaseResponse{Purchase: *created}, nil
}

func (s *Service) GetPurchase(ctx context.Context, id string) (domain.PurchaseResponse, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.PurchaseResponse{}, store.ErrInvalidInput
	}
	purchase, err := s.repo.FindPurchaseByID(ctx, id)
	if err != nil {
		return domain.PurchaseResponse{}, err
	}
	return domain.PurchaseResponse{Purchase: *purchase}, nil
}

func (s *Service) ListPurchases(ctx context.Context, storeID int64, from time.Time, to time.Time, limit int) (domain.PurchaseListResponse, error) {
	if storeID < 1 {
		return domain.PurchaseListResponse{}, store.ErrInvalidInput
	}
	from, to = normalizeRange(from, to)
	purchases, err := s.repo.ListPurchases(ctx, storeID, from, to, limit)
	if err != nil {
		return domain.PurchaseListResponse{}, err
	}
	return domain.PurchaseListResponse{Purchases: purchases}, nil
}

// ReceiveBatch is the manual single-batch intake path, for stock that
// arrives outside a distributor purchase.
func (s *Service) ReceiveBatch(ctx context.Context, req domain.BatchReceiveRequest) (domain.Batch, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleStoreKeeper)
	if err != nil {
		return domain.Batch{}, err
	}

	if _, err := s.master.GetStoreByID(ctx, req.StoreID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Batch{}, fmt.Errorf("%w: store %d", store.ErrUnknownStore, req.StoreID)
		}
		return domain.Batch{}, err
	}
	if _, err := s.master.GetMedicineByID(ctx, req.MedicineID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Batch{}, fmt.Errorf("%w: medicine %d", store.ErrUnknownMedicine, req.MedicineID)
		}
		return domain.Batch{}, err
	}

	expiry, err := time.Parse("2006-01-02", req.ExpiryDate)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("%w: expiry_date %q", store.ErrInvalidInput, req.ExpiryDate)
	}

	created, err := s.repo.ReceiveBatch(ctx, domain.Batch{
		StoreID:          req.StoreID,
		MedicineID:       req.MedicineID,
		MedicineForm:     req.MedicineForm,
		BatchNumber:      strings.TrimSpace(req.BatchNumber),
		ExpiryDate:       expiry,
		UnitsInPack:      req.UnitsInPack,
		ReceivedQuantity: req.Quantity,
	}, actor.Username)
	if err != nil {
		return domain.Batch{}, err
	}

	s.invalidateStock(ctx, req.StoreID, []int64{req.MedicineID})
	s.logAudit(ctx, req.StoreID, "batch_receive", "batch", created.ID,
		fmt.Sprintf("medicine=%d,qty=%d,expiry=%s", created.MedicineID, created.ReceivedQuantity, req.ExpiryDate))

	return *created, nil
}

// StockStatus is the read-only availability projection. It never mutates
// stock; when the medicine is out of stock it attaches in-stock substitutes.
func (s *Service) StockStatus(ctx context.Context, storeID int64, medicineID int64) (domain.StockStatus, error) {
	if storeID < 1 || medicineID < 1 {
		return domain.StockStatus{}, store.ErrInvalidInput
	}

	key := cache.StockKey(storeID, medicineID)
	if cached, ok, err := s.stockCache.Get(ctx, key); err == nil && ok {
		return *cached, nil
	}

	if _, err := s.master.GetStoreByID(ctx, storeID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.StockStatus{}, fmt.Errorf("%w: store %d", store.ErrUnknownStore, storeID)
		}
		return domain.StockStatus{}, err
	}
	if _, err := s.master.GetMedicineByID(ctx, medicineID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.StockStatus{}, fmt.Errorf("%w: medicine %d", store.ErrUnknownMedicine, medicineID)
		}
		return domain.StockStatus{}, err
	}

	status := domain.StockStatus{StoreID: storeID, MedicineID: medicineID}
	avail, err := s.repo.GetAvailability(ctx, storeID, medicineID)
	switch {
	case err == nil:
		status.AvailableQuantity = avail.AvailableQuantity
		status.InStock = avail.AvailableQuantity > 0
		lastUpdated := avail.LastUpdated
		status.LastUpdated = &lastUpdated
	case errors.Is(err, store.ErrNotFound):
		// No counter yet means nothing was ever received.
	default:
		return domain.StockStatus{}, err
	}

	if !status.InStock && s.substitutes != nil {
		suggestions, err := s.substitutes.Suggest(ctx, storeID, medicineID)
		if err != nil {
			log.Printf("[service] WARN: substitute lookup failed store=%d medicine=%d: %v", storeID, medicineID, err)
		} else {
			status.Substitutes = suggestions
		}
	}

	if err := s.stockCache.Set(ctx, key, &status, s.stockCacheTTL); err != nil {
		log.Printf("[service] WARN: stock cache set failed key=%s: %v", key, err)
	}
	return status, nil
}

func (s *Service) ListStockBatches(ctx context.Context, storeID int64, medicineID int64, includeDepleted bool, limit int) (domain.BatchListResponse, error) {
	if storeID < 1 {
		return domain.BatchListResponse{}, store.ErrInvalidInput
	}

	batches, err := s.repo.ListBatches(ctx, storeID, medicineID, includeDepleted, limit)
	if err != nil {
		return domain.BatchListResponse{}, err
	}

	ids := make([]int64, 0, len(batches))
	seen := make(map[int64]struct{}, len(batches))
	for _, b := range batches {
		if _, ok := seen[b.MedicineID]; !ok {
			seen[b.MedicineID] = struct{}{}
			ids = append(ids, b.MedicineID)
		}
	}
	medicines, err := s.master.GetMedicinesByIDs(ctx, ids)
	if err != nil {
		return domain.BatchListResponse{}, err
	}

	listings := make([]domain.BatchListing, 0, len(batches))
	for _, b := range batches {
		listing := domain.BatchListing{Batch: b}
		if med, ok := medicines[b.MedicineID]; ok {
			listing.MedicineName = med.MedicineName
			listing.GenericName = med.GenericName
		}
		listings = append(listings, listing)
	}
	return domain.BatchListResponse{Batches: listings}, nil
}

func (s *Service) CreateStore(ctx context.Context, req domain.StoreCreateRequest) (domain.StoreDetails, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.StoreDetails{}, err
	}

	details := domain.StoreDetails{
		StoreName:     strings.TrimSpace(req.StoreName),
		LicenseNumber: strings.TrimSpace(req.LicenseNumber),
		GSTNumber:     strings.TrimSpace(req.GSTNumber),
		PAN:           strings.TrimSpace(req.PAN),
		Address:       strings.TrimSpace(req.Address),
		Email:         strings.TrimSpace(req.Email),
		Mobile:        strings.TrimSpace(req.Mobile),
		OwnerName:     strings.TrimSpace(req.OwnerName),
		IsMainStore:   req.IsMainStore,
		Status:        domain.StoreStatusActive,
	}
	if details.StoreName == "" || details.LicenseNumber == "" || details.Mobile == "" {
		return domain.StoreDetails{}, store.ErrInvalidInput
	}

	created, err := s.master.CreateStore(ctx, details)
	if err != nil {
		return domain.StoreDetails{}, err
	}

	s.logAudit(ctx, created.StoreID, "store_create", "store", fmt.Sprintf("%d", created.StoreID), "name="+created.StoreName)
	return *created, nil
}

func (s *Service) GetStore(ctx context.Context, storeID int64) (domain.StoreDetails, error) {
	details, err := s.master.GetStoreByID(ctx, storeID)
	if err != nil {
		return domain.StoreDetails{}, err
	}
	return *details, nil
}

func (s *Service) ListStores(ctx context.Context) ([]domain.StoreDetails, error) {
	return s.master.ListStores(ctx)
}

func (s *Service) UpdateStore(ctx context.Context, storeID int64, req domain.StoreUpdateRequest) (domain.StoreDetails, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.StoreDetails{}, err
	}

	existing, err := s.master.GetStoreByID(ctx, storeID)
	if err != nil {
		return domain.StoreDetails{}, err
	}

	updated := *existing
	if req.StoreName != nil {
		name := strings.TrimSpace(*req.StoreName)
		if name == "" {
			return domain.StoreDetails{}, store.ErrInvalidInput
		}
		updated.StoreName = name
	}
	if req.Address != nil {
		updated.Address = strings.TrimSpace(*req.Address)
	}
	if req.Email != nil {
		updated.Email = strings.TrimSpace(*req.Email)
	}
	if req.Mobile != nil {
		mobile := strings.TrimSpace(*req.Mobile)
		if mobile == "" {
			return domain.StoreDetails{}, store.ErrInvalidInput
		}
		updated.Mobile = mobile
	}
	if req.OwnerName != nil {
		updated.OwnerName = strings.TrimSpace(*req.OwnerName)
	}
	if req.Status != nil {
		updated.Status = *req.Status
	}

	saved, err := s.master.UpdateStore(ctx, updated)
	if err != nil {
		return domain.StoreDetails{}, err
	}

	s.logAudit(ctx, saved.StoreID, "store_update", "store", fmt.Sprintf("%d", saved.StoreID), "status="+saved.Status)
	return *saved, nil
}

func (s *Service) CreateManufacturer(ctx context.Context, req domain.ManufacturerCreateRequest) (domain.Manufacturer, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Manufacturer{}, err
	}
	name := strings.TrimSpace(req.ManufacturerName)
	if name == "" {
		return domain.Manufacturer{}, store.ErrInvalidInput
	}
	created, err := s.master.CreateManufacturer(ctx, domain.Manufacturer{ManufacturerName: name})
	if err != nil {
		return domain.Manufacturer{}, err
	}
	return *created, nil
}

func (s *Service) ListManufacturers(ctx context.Context) ([]domain.Manufacturer, error) {
	return s.master.ListManufacturers(ctx)
}

func (s *Service) CreateCategory(ctx context.Context, req domain.CategoryCreateRequest) (domain.Category, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Category{}, err
	}
	name := strings.TrimSpace(req.CategoryName)
	if name == "" {
		return domain.Category{}, store.ErrInvalidInput
	}
	created, err := s.master.CreateCategory(ctx, domain.Category{CategoryName: name})
	if err != nil {
		return domain.Category{}, err
	}
	return *created, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.master.ListCategories(ctx)
}

func (s *Service) CreateDistributor(ctx context.Context, req domain.DistributorCreateRequest) (domain.Distributor, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Distributor{}, err
	}
	name := strings.TrimSpace(req.DistributorName)
	if name == "" {
		return domain.Distributor{}, store.ErrInvalidInput
	}
	created, err := s.master.CreateDistributor(ctx, domain.Distributor{
		DistributorName: name,
		Mobile:          strings.TrimSpace(req.Mobile),
		Email:           strings.TrimSpace(req.Email),
		Address:         strings.TrimSpace(req.Address),
	})
	if err != nil {
		return domain.Distributor{}, err
	}
	return *created, nil
}

func (s *Service) ListDistributors(ctx context.Context) ([]domain.Distributor, error) {
	return s.master.ListDistributors(ctx)
}

func (s *Service) CreateMedicine(ctx context.Context, req domain.MedicineCreateRequest) (domain.MedicineMaster, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.MedicineMaster{}, err
	}

	name := strings.TrimSpace(req.MedicineName)
	if name == "" {
		return domain.MedicineMaster{}, store.ErrInvalidInput
	}
	if _, err := s.master.GetManufacturerByID(ctx, req.ManufacturerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.MedicineMaster{}, fmt.Errorf("%w: manufacturer %d", store.ErrNotFound, req.ManufacturerID)
		}
		return domain.MedicineMaster{}, err
	}
	if _, err := s.master.GetCategoryByID(ctx, req.CategoryID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.MedicineMaster{}, fmt.Errorf("%w: category %d", store.ErrNotFound, req.CategoryID)
		}
		return domain.MedicineMaster{}, err
	}

	created, err := s.master.CreateMedicine(ctx, domain.MedicineMaster{
		MedicineName:   name,
		GenericName:    strings.TrimSpace(req.GenericName),
		HSNCode:        strings.TrimSpace(req.HSNCode),
		Formulation:    req.Formulation,
		Strength:       strings.TrimSpace(req.Strength),
		UnitOfMeasure:  req.UnitOfMeasure,
		ManufacturerID: req.ManufacturerID,
		CategoryID:     req.CategoryID,
		ScheduleType:   strings.TrimSpace(req.ScheduleType),
	})
	if err != nil {
		return domain.MedicineMaster{}, err
	}

	s.logAudit(ctx, 0, "medicine_create", "medicine", fmt.Sprintf("%d", created.MedicineID), "name="+created.MedicineName)
	return *created, nil
}

func (s *Service) GetMedicine(ctx context.Context, id int64) (domain.MedicineMaster, error) {
	med, err := s.master.GetMedicineByID(ctx, id)
	if err != nil {
		return domain.MedicineMaster{}, err
	}
	return *med, nil
}

func (s *Service) ListMedicines(ctx context.Context, limit int) ([]domain.MedicineMaster, error) {
	return s.master.ListMedicines(ctx, limit)
}

func (s *Service) UpdateMedicine(ctx context.Context, id int64, req domain.MedicineUpdateRequest) (domain.MedicineMaster, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.MedicineMaster{}, err
	}

	existing, err := s.master.GetMedicineByID(ctx, id)
	if err != nil {
		return domain.MedicineMaster{}, err
	}

	updated := *existing
	if req.MedicineName != nil {
		name := strings.TrimSpace(*req.MedicineName)
		if name == "" {
			return domain.MedicineMaster{}, store.ErrInvalidInput
		}
		updated.MedicineName = name
	}
	if req.GenericName != nil {
		updated.GenericName = strings.TrimSpace(*req.GenericName)
	}
	if req.HSNCode != nil {
		updated.HSNCode = strings.TrimSpace(*req.HSNCode)
	}
	if req.Strength != nil {
		updated.Strength = strings.TrimSpace(*req.Strength)
	}
	if req.UnitOfMeasure != nil {
		updated.UnitOfMeasure = *req.UnitOfMeasure
	}
	if req.ScheduleType != nil {
		updated.ScheduleType = strings.TrimSpace(*req.ScheduleType)
	}

	saved, err := s.master.UpdateMedicine(ctx, updated)
	if err != nil {
		return domain.MedicineMaster{}, err
	}

	s.logAudit(ctx, 0, "medicine_update", "medicine", fmt.Sprintf("%d", saved.MedicineID), "name="+saved.MedicineName)
	return *saved, nil
}

func (s *Service) CreateSubstitute(ctx context.Context, req domain.SubstituteCreateRequest) (domain.Substitute, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Substitute{}, err
	}

	if _, err := s.master.GetMedicineByID(ctx, req.MedicineID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Substitute{}, fmt.Errorf("%w: medicine %d", store.ErrUnknownMedicine, req.MedicineID)
		}
		return domain.Substitute{}, err
	}

	created, err := s.master.CreateSubstitute(ctx, domain.Substitute{
		MedicineID:         req.MedicineID,
		SubstituteMedicine: strings.TrimSpace(req.SubstituteMedicine),
	})
	if err != nil {
		return domain.Substitute{}, err
	}
	return *created, nil
}

func (s *Service) ListSubstitutes(ctx context.Context, medicineID int64) ([]domain.Substitute, error) {
	if medicineID < 1 {
		return nil, store.ErrInvalidInput
	}
	return s.master.ListSubstitutesByMedicine(ctx, medicineID)
}

func (s *Service) UpsertPricing(ctx context.Context, req domain.PricingUpsertRequest) (domain.Pricing, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.Pricing{}, err
	}

	if _, err := s.master.GetMedicineByID(ctx, req.MedicineID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Pricing{}, fmt.Errorf("%w: medicine %d", store.ErrUnknownMedicine, req.MedicineID)
		}
		return domain.Pricing{}, err
	}
	if _, err := s.master.GetStoreByID(ctx, req.StoreID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Pricing{}, fmt.Errorf("%w: store %d", store.ErrUnknownStore, req.StoreID)
		}
		return domain.Pricing{}, err
	}

	discount := int64(math.Round(float64(req.PriceCents) * req.DiscountPercent / 100))
	saved, err := s.repo.UpsertPricing(ctx, domain.Pricing{
		StoreID:         req.StoreID,
		MedicineID:      req.MedicineID,
		PriceCents:      req.PriceCents,
		MRPCents:        req.MRPCents,
		DiscountPercent: req.DiscountPercent,
		NetRateCents:    req.PriceCents - discount,
		IsActive:        true,
		UpdatedBy:       actor.Username,
		UpdatedOn:       time.Now().UTC(),
	})
	if err != nil {
		return domain.Pricing{}, err
	}

	s.logAudit(ctx, req.StoreID, "pricing_upsert", "pricing", fmt.Sprintf("%d/%d", req.StoreID, req.MedicineID),
		fmt.Sprintf("price_cents=%d,net_rate_cents=%d", saved.PriceCents, saved.NetRateCents))
	return *saved, nil
}

func (s *Service) GetPricing(ctx context.Context, storeID int64, medicineID int64) (domain.Pricing, error) {
	if storeID < 1 || medicineID < 1 {
		return domain.Pricing{}, store.ErrInvalidInput
	}
	pricing, err := s.repo.GetPricing(ctx, storeID, medicineID)
	if err != nil {
		return domain.Pricing{}, err
	}
	return *pricing, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleStoreKeeper); err != nil {
		return domain.Customer{}, err
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Name:       strings.TrimSpace(req.Name),
		Mobile:     strings.TrimSpace(req.Mobile),
		Email:      strings.TrimSpace(req.Email),
		DoctorName: strings.TrimSpace(req.DoctorName),
	})
	if err != nil {
		return domain.Customer{}, err
	}
	return *created, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Customer{}, store.ErrInvalidInput
	}
	customer, err := s.repo.FindCustomerByID(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) ListCustomers(ctx context.Context, limit int) (domain.CustomerListResponse, error) {
	customers, err := s.repo.ListCustomers(ctx, limit)
	if err != nil {
		return domain.CustomerListResponse{}, err
	}
	return domain.CustomerListResponse{Customers: customers}, nil
}

func (s *Service) CreateOrder(ctx context.Context, req domain.OrderCreateRequest) (domain.Order, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleStoreKeeper); err != nil {
		return domain.Order{}, err
	}

	if _, err := s.master.GetStoreByID(ctx, req.StoreID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Order{}, fmt.Errorf("%w: store %d", store.ErrUnknownStore, req.StoreID)
		}
		return domain.Order{}, err
	}
	if _, err := s.repo.FindCustomerByID(ctx, strings.TrimSpace(req.CustomerID)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Order{}, fmt.Errorf("%w: customer %s", store.ErrNotFound, req.CustomerID)
		}
		return domain.Order{}, err
	}

	medicineIDs := make([]int64, 0, len(req.Items))
	for _, item := range req.Items {
		medicineIDs = append(medicineIDs, item.MedicineID)
	}
	medicines, err := s.master.GetMedicinesByIDs(ctx, medicineIDs)
	if err != nil {
		return domain.Order{}, err
	}

	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		med, ok := medicines[item.MedicineID]
		if !ok {
			return domain.Order{}, &store.LineError{MedicineID: item.MedicineID, Err: store.ErrUnknownMedicine}
		}
		unit := strings.TrimSpace(item.Unit)
		if unit == "" {
			unit = med.UnitOfMeasure
		}
		items = append(items, domain.OrderItem{
			MedicineID:     item.MedicineID,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			Unit:           unit,
		})
	}

	created, err := s.repo.CreateOrder(ctx, domain.Order{
		StoreID:       req.StoreID,
		CustomerID:    strings.TrimSpace(req.CustomerID),
		PaymentMethod: req.PaymentMethod,
		Items:         items,
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logAudit(ctx, req.StoreID, "order_create", "order", created.ID,
		fmt.Sprintf("customer=%s,items=%d,total_cents=%d", created.CustomerID, len(created.Items), created.TotalAmountCents))
	return *created, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Order{}, store.ErrInvalidInput
	}
	order, err := s.repo.FindOrderByID(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

// ListOpenOrders returns undelivered orders joined with customer details for
// the fulfilment queue.
func (s *Service) ListOpenOrders(ctx context.Context, storeID int64, limit int) (domain.OrderListResponse, error) {
	if storeID < 1 {
		return domain.OrderListResponse{}, store.ErrInvalidInput
	}

	orders, err := s.repo.ListOrdersByStatus(ctx, storeID, []string{
		domain.OrderStatusPending, domain.OrderStatusProcessing, domain.OrderStatusShipped,
	}, limit)
	if err != nil {
		return domain.OrderListResponse{}, err
	}
	return s.joinOrderCustomers(ctx, orders)
}

// ListDeliveredOrders is the sales-history view over fulfilled orders.
func (s *Service) ListDeliveredOrders(ctx context.Context, storeID int64, limit int) (domain.OrderListResponse, error) {
	if storeID < 1 {
		return domain.OrderListResponse{}, store.ErrInvalidInput
	}

	orders, err := s.repo.ListOrdersByStatus(ctx, storeID, []string{domain.OrderStatusDelivered}, limit)
	if err != nil {
		return domain.OrderListResponse{}, err
	}
	return s.joinOrderCustomers(ctx, orders)
}

func (s *Service) joinOrderCustomers(ctx context.Context, orders []domain.Order) (domain.OrderListResponse, error) {
	summaries := make([]domain.OrderSummary, 0, len(orders))
	for _, order := range orders {
		summary := domain.OrderSummary{Order: order}
		customer, err := s.repo.FindCustomerByID(ctx, order.CustomerID)
		if err == nil {
			summary.CustomerName = customer.Name
			summary.DoctorName = customer.DoctorName
			summary.Mobile = customer.Mobile
		} else if !errors.Is(err, store.ErrNotFound) {
			return domain.OrderListResponse{}, err
		}
		summaries = append(summaries, summary)
	}
	return domain.OrderListResponse{Orders: summaries}, nil
}

var orderTransitions = map[string][]string{
	domain.OrderStatusPending:    {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
	domain.OrderStatusDelivered:  {},
	domain.OrderStatusCancelled:  {},
}

func (s *Service) UpdateOrderStatus(ctx context.Context, id string, status string) (domain.Order, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleStoreKeeper); err != nil {
		return domain.Order{}, err
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Order{}, store.ErrInvalidInput
	}

	order, err := s.repo.FindOrderByID(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}

	allowed := false
	for _, next := range orderTransitions[order.OrderStatus] {
		if next == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return domain.Order{}, fmt.Errorf("%w: cannot move order from %s to %s", store.ErrInvalidInput, order.OrderStatus, status)
	}

	updated, err := s.repo.UpdateOrderStatus(ctx, id, status)
	if err != nil {
		return domain.Order{}, err
	}

	s.logAudit(ctx, updated.StoreID, "order_status", "order", updated.ID, "status="+updated.OrderStatus)
	return *updated, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, storeID int64, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	from, to = normalizeRange(from, to)
	return s.repo.ListAuditLogs(ctx, storeID, from, to, limit)
}

func (s *Service) invalidateStock(ctx context.Context, storeID int64, medicineIDs []int64) {
	keys := make([]string, 0, len(medicineIDs))
	for _, id := range medicineIDs {
		keys = append(keys, cache.StockKey(storeID, id))
	}
	if err := s.stockCache.Invalidate(ctx, keys...); err != nil {
		log.Printf("[service] WARN: stock cache invalidation failed store=%d: %v", storeID, err)
	}
}

func (s *Service) logAudit(ctx context.Context, storeID int64, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StoreID:       storeID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func uniqueMedicineIDs(lines []domain.SaleLineRequest) []int64 {
	seen := make(map[int64]struct{}, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.MedicineID]; ok {
			continue
		}
		seen[line.MedicineID] = struct{}{}
		ids = append(ids, line.MedicineID)
	}
	return ids
}

func normalizeRange(from time.Time, to time.Time) (time.Time, time.Time) {
	if from.IsZero() {
		from = time.Now().UTC().AddDate(0, -1, 0)
	}
	if to.IsZero() || !to.After(from) {
		to = time.Now().UTC().Add(24 * time.Hour)
	}
	return from, to
}
