package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"medipos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrUnknownMedicine   = errors.New("unknown medicine")
	ErrUnknownStore      = errors.New("unknown store")
	ErrConflict          = errors.New("concurrent update conflict")
	ErrUnavailable       = errors.New("storage unavailable")
	ErrAlreadyExists     = errors.New("already exists")
)

// LineError attributes a sale failure to one requested line so callers can
// report which medicine could not be fulfilled.
type LineError struct {
	MedicineID int64
	Err        error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("medicine %d: %v", e.MedicineID, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// MasterRepository holds the reference catalogue: stores, people and the
// medicine master. Operational records point at these rows by plain id with
// no enforced foreign keys; existence checks happen through lookups here.
type MasterRepository interface {
	CreateStore(ctx context.Context, details domain.StoreDetails) (*domain.StoreDetails, error)
	GetStoreByID(ctx context.Context, storeID int64) (*domain.StoreDetails, error)
	ListStores(ctx context.Context) ([]domain.StoreDetails, error)
	UpdateStore(ctx context.Context, details domain.StoreDetails) (*domain.StoreDetails, error)

	CreateManufacturer(ctx context.Context, m domain.Manufacturer) (*domain.Manufacturer, error)
	GetManufacturerByID(ctx context.Context, id int64) (*domain.Manufacturer, error)
	ListManufacturers(ctx context.Context) ([]domain.Manufacturer, error)

	CreateCategory(ctx context.Context, c domain.Category) (*domain.Category, error)
	GetCategoryByID(ctx context.Context, id int64) (*domain.Category, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)

	CreateDistributor(ctx context.Context, d domain.Distributor) (*domain.Distributor, error)
	GetDistributorByID(ctx context.Context, id int64) (*domain.Distributor, error)
	ListDistributors(ctx context.Context) ([]domain.Distributor, error)

	CreateMedicine(ctx context.Context, med domain.MedicineMaster) (*domain.MedicineMaster, error)
	GetMedicineByID(ctx context.Context, id int64) (*domain.MedicineMaster, error)
	GetMedicinesByIDs(ctx context.Context, ids []int64) (map[int64]domain.MedicineMaster, error)
	GetMedicineByName(ctx context.Context, name string) (*domain.MedicineMaster, error)
	ListMedicines(ctx context.Context, limit int) ([]domain.MedicineMaster, error)
	UpdateMedicine(ctx context.Context, med domain.MedicineMaster) (*domain.MedicineMaster, error)

	CreateSubstitute(ctx context.Context, sub domain.Substitute) (*domain.Substitute, error)
	ListSubstitutesByMedicine(ctx context.Context, medicineID int64) ([]domain.Substitute, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// Repository holds the operational records: batches, availability counters,
// sales, purchases, pricing, customers, orders and audit lines.
type Repository interface {
	// ReceiveBatch inserts one batch and applies its quantity as a positive
	// delta to the availability counter in the same transaction.
	ReceiveBatch(ctx context.Context, batch domain.Batch, updatedBy string) (*domain.Batch, error)
	ListBatches(ctx context.Context, storeID int64, medicineID int64, includeDepleted bool, limit int) ([]domain.Batch, error)
	GetAvailability(ctx context.Context, storeID int64, medicineID int64) (*domain.Availability, error)

	// CreateSale allocates every requested line oldest-expiry-first, decrements
	// the touched batches and counters, and persists the sale with its
	// batch-level items. All lines commit together or not at all.
	CreateSale(ctx context.Context, sale domain.Sale, lines []domain.SaleLineRequest) (*domain.Sale, error)
	FindSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, storeID int64, customerID string, from time.Time, to time.Time, limit int) ([]domain.Sale, error)

	CreatePurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error)
	FindPurchaseByID(ctx context.Context, id string) (*domain.Purchase, error)
	ListPurchases(ctx context.Context, storeID int64, from time.Time, to time.Time, limit int) ([]domain.Purchase, error)

	UpsertPricing(ctx context.Context, pricing domain.Pricing) (*domain.Pricing, error)
	GetPricing(ctx context.Context, storeID int64, medicineID int64) (*domain.Pricing, error)

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	FindCustomerByID(ctx context.Context, id string) (*domain.Customer, error)
	ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error)

	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	FindOrderByID(ctx context.Context, id string) (*domain.Order, error)
	ListOrdersByStatus(ctx context.Context, storeID int64, statuses []string, limit int) ([]domain.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status string) (*domain.Order, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID int64, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}
