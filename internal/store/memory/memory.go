// Package memory backs both repositories with in-process maps. It is the
// default when no database URLs are configured and the fixture store for
// service and handler tests. A single store-wide mutex stands in for the
// transactional guarantees of the SQL implementation.
package memory

import (
	"context"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"medipos/backend/internal/allocation"
	"medipos/backend/internal/domain"
	"medipos/backend/internal/store"
	"medipos/backend/internal/xid"
)

type stockKey struct {
	storeID    int64
	medicineID int64
}

type Store struct {
	mu sync.RWMutex

	stores             map[int64]domain.StoreDetails
	nextStoreID        int64
	manufacturers      map[int64]domain.Manufacturer
	nextManufacturerID int64
	categories         map[int64]domain.Category
	nextCategoryID     int64
	distributors       map[int64]domain.Distributor
	nextDistributorID  int64
	medicines          map[int64]domain.MedicineMaster
	nextMedicineID     int64
	substitutes        []domain.Substitute
	nextSubstituteID   int64
	users              map[string]domain.UserAccount

	batches      map[string]domain.Batch
	availability map[stockKey]domain.Availability
	sales        map[string]domain.Sale
	purchases    map[string]domain.Purchase
	pricing      map[stockKey]domain.Pricing
	customers    map[string]domain.Customer
	orders       map[string]domain.Order
	audits       []domain.AuditLog
}

func New() *Store {
	return &Store{
		stores:             make(map[int64]domain.StoreDetails),
		nextStoreID:        1,
		manufacturers:      make(map[int64]domain.Manufacturer),
		nextManufacturerID: 1,
		categories:         make(map[int64]domain.Category),
		nextCategoryID:     1,
		distributors:       make(map[int64]domain.Distributor),
		nextDistributorID:  1,
		medicines:          make(map[int64]domain.MedicineMaster),
		nextMedicineID:     1,
		nextSubstituteID:   1,
		users:              make(map[string]domain.UserAccount),
		batches:            make(map[string]domain.Batch),
		availability:       make(map[stockKey]domain.Availability),
		sales:              make(map[string]domain.Sale),
		purchases:          make(map[string]domain.Purchase),
		pricing:            make(map[stockKey]domain.Pricing),
		customers:          make(map[string]domain.Customer),
		orders:             make(map[string]domain.Order),
	}
}

// seedUsers builds the initial dev/demo accounts. Credentials come from
// SEED_ADMIN_PASSWORD and SEED_KEEPER_PASSWORD; hardcoded dev defaults are
// used with a warning when unset. Production deployments run against
// PostgreSQL and never reach this path.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	keeperPwd := envOr("SEED_KEEPER_PASSWORD", "keeper123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_KEEPER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_KEEPER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	return map[string]domain.UserAccount{
		"admin":  {Username: "admin", Password: adminPwd, Role: domain.RoleAdmin, Active: true, CreatedAt: now},
		"keeper": {Username: "keeper", Password: keeperPwd, Role: domain.RoleStoreKeeper, StoreID: 1, Active: true, CreatedAt: now},
	}
}

func envOr(key string, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// NewSeeded returns a store preloaded with a small pharmacy catalogue and
// stock so the server is usable without a database.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	s.stores[1] = domain.StoreDetails{
		StoreID: 1, StoreName: "MediPos Central Pharmacy", LicenseNumber: "DL-20B-55521",
		Address: "12 Hospital Road", Mobile: "9000000001", OwnerName: "R. Mehta",
		IsMainStore: true, Status: domain.StoreStatusActive,
	}
	s.nextStoreID = 2

	s.manufacturers[1] = domain.Manufacturer{ManufacturerID: 1, ManufacturerName: "Cipla"}
	s.manufacturers[2] = domain.Manufacturer{ManufacturerID: 2, ManufacturerName: "Sun Pharma"}
	s.nextManufacturerID = 3

	s.categories[1] = domain.Category{CategoryID: 1, CategoryName: "Analgesic"}
	s.categories[2] = domain.Category{CategoryID: 2, CategoryName: "Antibiotic"}
	s.nextCategoryID = 3

	s.distributors[1] = domain.Distributor{DistributorID: 1, DistributorName: "MedLink Distributors", Mobile: "9000000002"}
	s.nextDistributorID = 2

	s.medicines[1] = domain.MedicineMaster{MedicineID: 1, MedicineName: "Paracetamol 500", GenericName: "Paracetamol",
		Formulation: domain.FormTablet, Strength: "500mg", UnitOfMeasure: domain.UnitCount, ManufacturerID: 1, CategoryID: 1}
	s.medicines[2] = domain.MedicineMaster{MedicineID: 2, MedicineName: "Amoxicillin 250", GenericName: "Amoxicillin",
		Formulation: domain.FormCapsule, Strength: "250mg", UnitOfMeasure: domain.UnitCount, ManufacturerID: 2, CategoryID: 2}
	s.medicines[3] = domain.MedicineMaster{MedicineID: 3, MedicineName: "Ibuprofen 400", GenericName: "Ibuprofen",
		Formulation: domain.FormTablet, Strength: "400mg", UnitOfMeasure: domain.UnitCount, ManufacturerID: 1, CategoryID: 1}
	s.medicines[4] = domain.MedicineMaster{MedicineID: 4, MedicineName: "Benadryl Syrup", GenericName: "Diphenhydramine",
		Formulation: domain.FormLiquid, UnitOfMeasure: domain.UnitML, ManufacturerID: 2, CategoryID: 1}
	s.nextMedicineID = 5

	s.substitutes = append(s.substitutes,
		domain.Substitute{SubstituteID: 1, MedicineID: 1, SubstituteMedicine: "Ibuprofen 400"},
	)
	s.nextSubstituteID = 2

	s.users = seedUsers()

	seedBatch := func(id string, medicineID int64, monthsOut int, qty int, form string, unit string) {
		s.batches[id] = domain.Batch{
			ID: id, StoreID: 1, MedicineID: medicineID, MedicineForm: form,
			BatchNumber: strings.ToUpper(id), ExpiryDate: now.AddDate(0, monthsOut, 0),
			UnitsInPack: unit, ReceivedQuantity: qty, RemainingQuantity: qty, ReceivedAt: now,
		}
		s.applyAvailabilityDeltaLocked(1, medicineID, qty, "seed", now)
	}
	seedBatch("batch-pcm-a", 1, 2, 40, domain.FormTablet, domain.UnitCount)
	seedBatch("batch-pcm-b", 1, 8, 60, domain.FormTablet, domain.UnitCount)
	seedBatch("batch-amx-a", 2, 4, 30, domain.FormCapsule, domain.UnitCount)
	seedBatch("batch-ibu-a", 3, 6, 25, domain.FormTablet, domain.UnitCount)
	seedBatch("batch-bnd-a", 4, 3, 500, domain.FormLiquid, domain.UnitML)

	s.pricing[stockKey{1, 1}] = domain.Pricing{
		StoreID: 1, MedicineID: 1, PriceCents: 250, MRPCents: 300, DiscountPercent: 0,
		NetRateCents: 250, IsActive: true, UpdatedBy: "seed", UpdatedOn: now,
	}

	return s
}

func (s *Store) CreateStore(_ context.Context, details domain.StoreDetails) (*domain.StoreDetails, error) {
	if details.StoreName == "" || details.LicenseNumber == "" || details.Mobile == "" {
		return nil, store.ErrInvalidInput
	}
	if details.Status == "" {
		details.Status = domain.StoreStatusActive
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.stores {
		if strings.EqualFold(existing.LicenseNumber, details.LicenseNumber) {
			return nil, store.ErrAlreadyExists
		}
	}
	details.StoreID = s.nextStoreID
	s.nextStoreID++
	s.stores[details.StoreID] = details

	created := details
	return &created, nil
}

func (s *Store) GetStoreByID(_ context.Context, storeID int64) (*domain.StoreDetails, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	details, ok := s.stores[storeID]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := details
	return &found, nil
}

func (s *Store) ListStores(_ context.Context) ([]domain.StoreDetails, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.StoreDetails, 0, len(s.stores))
	for _, details := range s.stores {
		result = append(result, details)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StoreID < result[j].StoreID })
	return result, nil
}

func (s *Store) UpdateStore(_ context.Context, details domain.StoreDetails) (*domain.StoreDetails, error) {
	if details.StoreID < 1 || details.StoreName == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.stores[details.StoreID]
	if !ok {
		return nil, store.ErrNotFound
	}
	existing.StoreName = details.StoreName
	existing.Address = details.Address
	existing.Email = details.Email
	existing.Mobile = details.Mobile
	existing.OwnerName = details.OwnerName
	existing.Status = details.Status
	s.stores[details.StoreID] = existing

	updated := existing
	return &updated, nil
}

func (s *Store) CreateManufacturer(_ context.Context, m domain.Manufacturer) (*domain.Manufacturer, error) {
	if m.ManufacturerName == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.manufacturers {
		if strings.EqualFold(existing.ManufacturerName, m.ManufacturerName) {
			return nil, store.ErrAlreadyExists
		}
	}
	m.ManufacturerID = s.nextManufacturerID
	s.nextManufacturerID++
	s.manufacturers[m.ManufacturerID] = m

	created := m
	return &created, nil
}

func (s *Store) GetManufacturerByID(_ context.Context, id int64) (*domain.Manufacturer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.manufacturers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := m
	return &found, nil
}

func (s *Store) ListManufacturers(_ context.Context) ([]domain.Manufacturer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.Manufacturer, 0, len(s.manufacturers))
	for _, m := range s.manufacturers {
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ManufacturerName < result[j].ManufacturerName })
	return result, nil
}

func (s *Store) CreateCategory(_ context.Context, c domain.Category) (*domain.Category, error) {
	if c.CategoryName == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.categories {
		if strings.EqualFold(existing.CategoryName, c.CategoryName) {
			return nil, store.ErrAlreadyExists
		}
	}
	c.CategoryID = s.nextCategoryID
	s.nextCategoryID++
	s.categories[c.CategoryID] = c

	created := c
	return &created, nil
}

func (s *Store) GetCategoryByID(_ context.Context, id int64) (*domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.categories[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := c
	return &found, nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CategoryName < result[j].CategoryName })
	return result, nil
}

func (s *Store) CreateDistributor(_ context.Context, d domain.Distributor) (*domain.Distributor, error) {
	if d.DistributorName == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.distributors {
		if strings.EqualFold(existing.DistributorName, d.DistributorName) {
			return nil, store.ErrAlreadyExists
		}
	}
	d.DistributorID = s.nextDistributorID
	s.nextDistributorID++
	s.distributors[d.DistributorID] = d

	created := d
	return &created, nil
}

func (s *Store) GetDistributorByID(_ context.Context, id int64) (*domain.Distributor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.distributors[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := d
	return &found, nil
}

func (s *Store) ListDistributors(_ context.Context) ([]domain.Distributor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.Distributor, 0, len(s.distributors))
	for _, d := range s.distributors {
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DistributorName < result[j].DistributorName })
	return result, nil
}

func (s *Store) CreateMedicine(_ context.Context, med domain.MedicineMaster) (*domain.MedicineMaster, error) {
	if med.MedicineName == "" || med.Formulation == "" || med.UnitOfMeasure == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.medicines {
		if strings.EqualFold(existing.MedicineName, med.MedicineName) && existing.ManufacturerID == med.ManufacturerID {
			return nil, store.ErrAlreadyExists
		}
	}
	med.MedicineID = s.nextMedicineID
	s.nextMedicineID++
	s.medicines[med.MedicineID] = med

	created := med
	return &created, nil
}

func (s *Store) GetMedicineByID(_ context.Context, id int64) (*domain.MedicineMaster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	med, ok := s.medicines[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := med
	return &found, nil
}

func (s *Store) GetMedicinesByIDs(_ context.Context, ids []int64) (map[int64]domain.MedicineMaster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[int64]domain.MedicineMaster, len(ids))
	for _, id := range ids {
		if med, ok := s.medicines[id]; ok {
			result[id] = med
		}
	}
	return result, nil
}

func (s *Store) GetMedicineByName(_ context.Context, name string) (*domain.MedicineMaster, error) {
	name = strings.TrimSpace(name)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *domain.MedicineMaster
	for _, med := range s.medicines {
		if !strings.EqualFold(med.MedicineName, name) {
			continue
		}
		if best == nil || med.MedicineID < best.MedicineID {
			found := med
			best = &found
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	return best, nil
}

func (s *Store) ListMedicines(_ context.Context, limit int) ([]domain.MedicineMaster, error) {
	if limit < 1 {
		limit = 200
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.MedicineMaster, 0, len(s.medicines))
	for _, med := range s.medicines {
		result = append(result, med)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].MedicineName < result[j].MedicineName })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) UpdateMedicine(_ context.Context, med domain.MedicineMaster) (*domain.MedicineMaster, error) {
	if med.MedicineID < 1 || med.MedicineName == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.medicines[med.MedicineID]
	if !ok {
		return nil, store.ErrNotFound
	}
	existing.MedicineName = med.MedicineName
	existing.GenericName = med.GenericName
	existing.HSNCode = med.HSNCode
	existing.Strength = med.Strength
	existing.UnitOfMeasure = med.UnitOfMeasure
	existing.ScheduleType = med.ScheduleType
	s.medicines[med.MedicineID] = existing

	updated := existing
	return &updated, nil
}

func (s *Store) CreateSubstitute(_ context.Context, sub domain.Substitute) (*domain.Substitute, error) {
	if sub.MedicineID < 1 || sub.SubstituteMedicine == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.substitutes {
		if existing.MedicineID == sub.MedicineID && strings.EqualFold(existing.SubstituteMedicine, sub.SubstituteMedicine) {
			return nil, store.ErrAlreadyExists
		}
	}
	sub.SubstituteID = s.nextSubstituteID
	s.nextSubstituteID++
	s.substitutes = append(s.substitutes, sub)

	created := sub
	return &created, nil
}

func (s *Store) ListSubstitutesByMedicine(_ context.Context, medicineID int64) ([]domain.Substitute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.Substitute, 0, 4)
	for _, sub := range s.substitutes {
		if sub.MedicineID == medicineID {
			result = append(result, sub)
		}
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[username]; exists {
		return store.ErrAlreadyExists
	}
	user.Username = username
	s.users[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		result = append(result, user)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Username < result[j].Username })
	return result, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[user.Username] = user
	return nil
}

func (s *Store) ReceiveBatch(_ context.Context, batch domain.Batch, updatedBy string) (*domain.Batch, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.batches[batch.ID]; exists {
		return nil, store.ErrAlreadyExists
	}
	s.batches[batch.ID] = batch
	s.applyAvailabilityDeltaLocked(batch.StoreID, batch.MedicineID, batch.ReceivedQuantity, updatedBy, batch.ReceivedAt)

	created := batch
	return &created, nil
}

// applyAvailabilityDeltaLocked requires s.mu to be held for writing.
func (s *Store) applyAvailabilityDeltaLocked(storeID int64, medicineID int64, delta int, updatedBy string, at time.Time) {
	key := stockKey{storeID, medicineID}
	avail := s.availability[key]
	avail.StoreID = storeID
	avail.MedicineID = medicineID
	avail.AvailableQuantity += delta
	avail.LastUpdated = at
	avail.UpdatedBy = updatedBy
	s.availability[key] = avail
}

func (s *Store) ListBatches(_ context.Context, storeID int64, medicineID int64, includeDepleted bool, limit int) ([]domain.Batch, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.Batch, 0, limit)
	for _, b := range s.batches {
		if b.StoreID != storeID {
			continue
		}
		if medicineID > 0 && b.MedicineID != medicineID {
			continue
		}
		if !includeDepleted && b.RemainingQuantity <= 0 {
			continue
		}
		result = append(result, b)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].ExpiryDate.Equal(result[j].ExpiryDate) {
			return result[i].ExpiryDate.Before(result[j].ExpiryDate)
		}
		return result[i].ID < result[j].ID
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) GetAvailability(_ context.Context, storeID int64, medicineID int64) (*domain.Availability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	avail, ok := s.availability[stockKey{storeID, medicineID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := avail
	return &found, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale, lines []domain.SaleLineRequest) (*domain.Sale, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sales[sale.ID]; exists {
		return nil, store.ErrAlreadyExists
	}

	// Plan every line against staged remainders before mutating anything so
	// a failing line leaves the whole sale unapplied.
	staged := make(map[string]int)
	items := make([]domain.SaleLineItem, 0, len(lines))
	var total int64

	for _, line := range lines {
		candidates := make([]allocation.Batch, 0, 8)
		for _, b := range s.batches {
			if b.StoreID != sale.StoreID || b.MedicineID != line.MedicineID {
				continue
			}
			remaining := b.RemainingQuantity - staged[b.ID]
			if remaining <= 0 {
				continue
			}
			candidates = append(candidates, allocation.Batch{ID: b.ID, ExpiryDate: b.ExpiryDate, Remaining: remaining})
		}

		takes, err := allocation.Plan(candidates, line.Quantity)
		if err != nil {
			return nil, &store.LineError{MedicineID: line.MedicineID, Err: err}
		}
		for _, take := range takes {
			staged[take.BatchID] += take.Quantity
			items = append(items, domain.SaleLineItem{
				MedicineID:     line.MedicineID,
				BatchID:        take.BatchID,
				BatchNumber:    s.batches[take.BatchID].BatchNumber,
				ExpiryDate:     take.ExpiryDate,
				Quantity:       take.Quantity,
				UnitPriceCents: line.UnitPriceCents,
			})
			total += int64(take.Quantity) * line.UnitPriceCents
		}
	}

	for batchID, qty := range staged {
		b := s.batches[batchID]
		b.RemainingQuantity -= qty
		s.batches[batchID] = b
	}
	for _, line := range lines {
		s.applyAvailabilityDeltaLocked(sale.StoreID, line.MedicineID, -line.Quantity, sale.CreatedBy, sale.CreatedAt)
	}

	sale.TotalAmountCents = total
	sale.Items = items
	s.sales[sale.ID] = sale

	created := sale
	created.Items = append([]domain.SaleLineItem(nil), items...)
	return &created, nil
}

func (s *Store) FindSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := sale
	found.Items = append([]domain.SaleLineItem(nil), sale.Items...)
	return &found, nil
}

func (s *Store) ListSales(_ context.Context, storeID int64, customerID string, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.Sale, 0, limit)
	for _, sale := range s.sales {
		if sale.StoreID != storeID {
			continue
		}
		if customerID != "" && sale.CustomerID != customerID {
			continue
		}
		if sale.SaleDate.Before(from) || !sale.SaleDate.Before(to) {
			continue
		}
		copied := sale
		copied.Items = append([]domain.SaleLineItem(nil), sale.Items...)
		result = append(result, copied)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SaleDate.After(result[j].SaleDate) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreatePurchase(_ context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for i := range purchase.Items {
		item := &purchase.Items[i]
		if item.Quantity < 1 || item.UnitPriceCents < 1 {
			return nil, store.ErrInvalidInput
		}
		if item.BatchID == "" {
			item.BatchID = xid.New("batch")
		}
		if _, exists := s.batches[item.BatchID]; exists {
			return nil, store.ErrAlreadyExists
		}
		total += int64(item.Quantity) * item.UnitPriceCents
	}
	purchase.TotalAmountCents = total

	for _, item := range purchase.Items {
		s.batches[item.BatchID] = domain.Batch{
			ID: item.BatchID, StoreID: purchase.StoreID, MedicineID: item.MedicineID,
			MedicineForm: item.MedicineForm, BatchNumber: item.BatchNumber,
			ExpiryDate: item.ExpiryDate, UnitsInPack: item.UnitsInPack,
			ReceivedQuantity: item.Quantity, RemainingQuantity: item.Quantity,
			ReceivedAt: purchase.CreatedAt,
		}
		s.applyAvailabilityDeltaLocked(purchase.StoreID, item.MedicineID, item.Quantity, purchase.CreatedBy, purchase.CreatedAt)
	}
	s.purchases[purchase.ID] = purchase

	created := purchase
	created.Items = append([]domain.PurchaseItem(nil), purchase.Items...)
	return &created, nil
}

func (s *Store) FindPurchaseByID(_ context.Context, id string) (*domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	purchase, ok := s.purchases[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := purchase
	found.Items = append([]domain.PurchaseItem(nil), purchase.Items...)
	return &found, nil
}

func (s *Store) ListPurchases(_ context.Context, storeID int64, from time.Time, to time.Time, limit int) ([]domain.Purchase, error) {
	if limit < 1 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.Purchase, 0, limit)
	for _, purchase := range s.purchases {
		if purchase.StoreID != storeID {
			continue
		}
		if purchase.PurchaseDate.Before(from) || !purchase.PurchaseDate.Before(to) {
			continue
		}
		copied := purchase
		copied.Items = append([]domain.PurchaseItem(nil), purchase.Items...)
		result = append(result, copied)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PurchaseDate.After(result[j].PurchaseDate) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) UpsertPricing(_ context.Context, pricing domain.Pricing) (*domain.Pricing, error) {
	if pricing.StoreID < 1 || pricing.MedicineID < 1 || pricing.PriceCents < 1 {
		return nil, store.ErrInvalidInput
	}
	if pricing.UpdatedOn.IsZero() {
		pricing.UpdatedOn = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pricing[stockKey{pricing.StoreID, pricing.MedicineID}] = pricing

	saved := pricing
	return &saved, nil
}

func (s *Store) GetPricing(_ context.Context, storeID int64, medicineID int64) (*domain.Pricing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pricing, ok := s.pricing[stockKey{storeID, medicineID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := pricing
	return &found, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" || customer.Mobile == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.customers {
		if existing.Mobile == customer.Mobile {
			return nil, store.ErrAlreadyExists
		}
	}
	s.customers[customer.ID] = customer

	created := customer
	return &created, nil
}

func (s *Store) FindCustomerByID(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	customer, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := customer
	return &found, nil
}

func (s *Store) ListCustomers(_ context.Context, limit int) ([]domain.Customer, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.Customer, 0, len(s.customers))
	for _, customer := range s.customers {
		result = append(result, customer)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[order.ID]; exists {
		return nil, store.ErrAlreadyExists
	}
	s.orders[order.ID] = order

	created := order
	created.Items = append([]domain.OrderItem(nil), order.Items...)
	return &created, nil
}

func (s *Store) FindOrderByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := order
	found.Items = append([]domain.OrderItem(nil), order.Items...)
	return &found, nil
}

func (s *Store) ListOrdersByStatus(_ context.Context, storeID int64, statuses []string, limit int) ([]domain.Order, error) {
	if limit < 1 {
		limit = 50
	}
	if len(statuses) == 0 {
		statuses = []string{domain.OrderStatusPending}
	}
	wanted := make(map[string]struct{}, len(statuses))
	for _, status := range statuses {
		wanted[status] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.Order, 0, limit)
	for _, order := range s.orders {
		if order.StoreID != storeID {
			continue
		}
		if _, ok := wanted[order.OrderStatus]; !ok {
			continue
		}
		copied := order
		copied.Items = append([]domain.OrderItem(nil), order.Items...)
		result = append(result, copied)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].OrderDate.Before(result[j].OrderDate) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) UpdateOrderStatus(_ context.Context, id string, status string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	order.OrderStatus = status
	s.orders[id] = order

	updated := order
	updated.Items = append([]domain.OrderItem(nil), order.Items...)
	return &updated, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID int64, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.AuditLog, 0, limit)
	for _, entry := range s.audits {
		if entry.StoreID != storeID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
