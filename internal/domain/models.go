package domain

import "time"

const (
	RoleAdmin       = "admin"
	RoleStoreKeeper = "store_keeper"
)

const (
	StoreStatusActive   = "active"
	StoreStatusInactive = "inactive"
	StoreStatusClosed   = "closed"
)

const (
	FormLiquid    = "liquid"
	FormTablet    = "tablet"
	FormInjection = "injection"
	FormCapsule   = "capsule"
	FormPowder    = "powder"
)

// UnitsInPack describes how a batch quantity is counted: millilitres for
// liquids, discrete units for tablets/capsules, milligrams for powders.
const (
	UnitML    = "ml"
	UnitCount = "count"
	UnitMGMS  = "mgms"
)

const (
	PackageStrip  = "strip"
	PackageBottle = "bottle"
	PackageVial   = "vial"
	PackageAmp    = "amp"
	PackageSachet = "sachet"
)

const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
)

type StoreDetails struct {
	StoreID       int64  `json:"store_id"`
	StoreName     string `json:"store_name"`
	LicenseNumber string `json:"license_number"`
	GSTNumber     string `json:"gst_number,omitempty"`
	PAN           string `json:"pan,omitempty"`
	Address       string `json:"address"`
	Email         string `json:"email"`
	Mobile        string `json:"mobile"`
	OwnerName     string `json:"owner_name"`
	IsMainStore   bool   `json:"is_main_store"`
	Status        string `json:"status"`
}

type StoreCreateRequest struct {
	StoreName     string `json:"store_name" validate:"required,min=2"`
	LicenseNumber string `json:"license_number" validate:"required"`
	GSTNumber     string `json:"gst_number"`
	PAN           string `json:"pan"`
	Address       string `json:"address" validate:"required"`
	Email         string `json:"email" validate:"omitempty,email"`
	Mobile        string `json:"mobile" validate:"required"`
	OwnerName     string `json:"owner_name" validate:"required"`
	IsMainStore   bool   `json:"is_main_store"`
}

type StoreUpdateRequest struct {
	StoreName *string `json:"store_name,omitempty"`
	Address   *string `json:"address,omitempty"`
	Email     *string `json:"email,omitempty" validate:"omitempty,email"`
	Mobile    *string `json:"mobile,omitempty"`
	OwnerName *string `json:"owner_name,omitempty"`
	Status    *string `json:"status,omitempty" validate:"omitempty,oneof=active inactive closed"`
}

type Manufacturer struct {
	ManufacturerID   int64  `json:"manufacturer_id"`
	ManufacturerName string `json:"manufacturer_name"`
}

type ManufacturerCreateRequest struct {
	ManufacturerName string `json:"manufacturer_name" validate:"required,min=2"`
}

type Category struct {
	CategoryID   int64  `json:"category_id"`
	CategoryName string `json:"category_name"`
}

type CategoryCreateRequest struct {
	CategoryName string `json:"category_name" validate:"required,min=2"`
}

type Distributor struct {
	DistributorID   int64  `json:"distributor_id"`
	DistributorName string `json:"distributor_name"`
	Mobile          string `json:"mobile,omitempty"`
	Email           string `json:"email,omitempty"`
	Address         string `json:"address,omitempty"`
}

type DistributorCreateRequest struct {
	DistributorName string `json:"distributor_name" validate:"required,min=2"`
	Mobile          string `json:"mobile"`
	Email           string `json:"email" validate:"omitempty,email"`
	Address         string `json:"address"`
}

type MedicineMaster struct {
	MedicineID     int64  `json:"medicine_id"`
	MedicineName   string `json:"medicine_name"`
	GenericName    string `json:"generic_name,omitempty"`
	HSNCode        string `json:"hsn_code,omitempty"`
	Formulation    string `json:"formulation"`
	Strength       string `json:"strength,omitempty"`
	UnitOfMeasure  string `json:"unit_of_measure"`
	ManufacturerID int64  `json:"manufacturer_id"`
	CategoryID     int64  `json:"category_id"`
	ScheduleType   string `json:"schedule_type,omitempty"`
}

type MedicineCreateRequest struct {
	MedicineName   string `json:"medicine_name" validate:"required,min=2"`
	GenericName    string `json:"generic_name"`
	HSNCode        string `json:"hsn_code"`
	Formulation    string `json:"formulation" validate:"required,oneof=liquid tablet injection capsule powder"`
	Strength       string `json:"strength"`
	UnitOfMeasure  string `json:"unit_of_measure" validate:"required,oneof=ml count mgms"`
	ManufacturerID int64  `json:"manufacturer_id" validate:"required,gt=0"`
	CategoryID     int64  `json:"category_id" validate:"required,gt=0"`
	ScheduleType   string `json:"schedule_type"`
}

type MedicineUpdateRequest struct {
	MedicineName  *string `json:"medicine_name,omitempty"`
	GenericName   *string `json:"generic_name,omitempty"`
	HSNCode       *string `json:"hsn_code,omitempty"`
	Strength      *string `json:"strength,omitempty"`
	UnitOfMeasure *string `json:"unit_of_measure,omitempty" validate:"omitempty,oneof=ml count mgms"`
	ScheduleType  *string `json:"schedule_type,omitempty"`
}

// Substitute links a medicine to an interchangeable alternative by name.
// Resolution back to a medicine id goes through the master catalogue.
type Substitute struct {
	SubstituteID       int64  `json:"substitute_id"`
	MedicineID         int64  `json:"medicine_id"`
	SubstituteMedicine string `json:"substitute_medicine"`
}

type SubstituteCreateRequest struct {
	MedicineID         int64  `json:"medicine_id" validate:"required,gt=0"`
	SubstituteMedicine string `json:"substitute_medicine" validate:"required,min=2"`
}

// Batch is one received lot of a medicine at a store. RemainingQuantity only
// ever decreases through sales; depleted batches stay in place with zero
// remaining so historical sale lines keep a valid reference.
type Batch struct {
	ID                string    `json:"batch_id"`
	StoreID           int64     `json:"store_id"`
	MedicineID        int64     `json:"medicine_id"`
	MedicineForm      string    `json:"medicine_form"`
	BatchNumber       string    `json:"batch_number"`
	ExpiryDate        time.Time `json:"expiry_date"`
	UnitsInPack       string    `json:"units_in_pack"`
	ReceivedQuantity  int       `json:"received_quantity"`
	RemainingQuantity int       `json:"remaining_quantity"`
	ReceivedAt        time.Time `json:"received_at"`
}

type BatchReceiveRequest struct {
	StoreID      int64  `json:"store_id" validate:"required,gt=0"`
	MedicineID   int64  `json:"medicine_id" validate:"required,gt=0"`
	MedicineForm string `json:"medicine_form" validate:"required,oneof=liquid tablet injection capsule powder"`
	BatchNumber  string `json:"batch_number" validate:"required"`
	ExpiryDate   string `json:"expiry_date" validate:"required,datetime=2006-01-02"`
	UnitsInPack  string `json:"units_in_pack" validate:"required,oneof=ml count mgms"`
	Quantity     int    `json:"quantity" validate:"required,gt=0"`
}

type BatchListing struct {
	Batch
	MedicineName string `json:"medicine_name"`
	GenericName  string `json:"generic_name,omitempty"`
}

type BatchListResponse struct {
	Batches []BatchListing `json:"batches"`
}

// Availability is the denormalized per-(store, medicine) stock counter. It is
// maintained in the same transaction as every batch mutation, so at rest it
// equals the sum of batch remainders.
type Availability struct {
	StoreID           int64     `json:"store_id"`
	MedicineID        int64     `json:"medicine_id"`
	AvailableQuantity int       `json:"available_quantity"`
	LastUpdated       time.Time `json:"last_updated"`
	UpdatedBy         string    `json:"updated_by"`
}

type SaleLineRequest struct {
	MedicineID int64 `json:"medicine_id" validate:"required,gt=0"`
	// Quantity is range-checked by the sale recorder itself so that a
	// non-positive value maps to the invalid-quantity error rather than a
	// generic payload rejection.
	Quantity       int   `json:"quantity"`
	UnitPriceCents int64 `json:"unit_price_cents" validate:"required,gt=0"`
}

type SaleRequest struct {
	StoreID    int64             `json:"store_id" validate:"required,gt=0"`
	CustomerID string            `json:"customer_id"`
	SaleDate   *time.Time        `json:"sale_date,omitempty"`
	InvoiceID  string            `json:"invoice_id"`
	Lines      []SaleLineRequest `json:"lines" validate:"required,min=1,dive"`
	// TotalAmountCents is accepted for wire compatibility but never trusted;
	// the recorded total is always recomputed from the allocated lines.
	TotalAmountCents int64 `json:"total_amount_cents,omitempty"`
}

// SaleLineItem is one batch-level allocation inside a recorded sale. A single
// requested line splits into multiple items when it drains more than one
// batch. ExpiryDate is captured at allocation time.
type SaleLineItem struct {
	MedicineID     int64     `json:"medicine_id"`
	BatchID        string    `json:"batch_id"`
	BatchNumber    string    `json:"batch_number,omitempty"`
	ExpiryDate     time.Time `json:"expiry_date"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
}

type Sale struct {
	ID               string         `json:"sale_id"`
	StoreID          int64          `json:"store_id"`
	SaleDate         time.Time      `json:"sale_date"`
	CustomerID       string         `json:"customer_id,omitempty"`
	InvoiceID        string         `json:"invoice_id"`
	TotalAmountCents int64          `json:"total_amount_cents"`
	CreatedBy        string         `json:"created_by"`
	CreatedAt        time.Time      `json:"created_at"`
	Items            []SaleLineItem `json:"items"`
}

type SaleResponse struct {
	Sale Sale `json:"sale"`
}

type SaleListResponse struct {
	Sales []Sale `json:"sales"`
}

type PurchaseItemRequest struct {
	MedicineID     int64  `json:"medicine_id" validate:"required,gt=0"`
	MedicineForm   string `json:"medicine_form" validate:"required,oneof=liquid tablet injection capsule powder"`
	BatchNumber    string `json:"batch_number" validate:"required"`
	ExpiryDate     string `json:"expiry_date" validate:"required,datetime=2006-01-02"`
	UnitsInPack    string `json:"units_in_pack" validate:"required,oneof=ml count mgms"`
	Package        string `json:"package" validate:"required,oneof=strip bottle vial amp sachet"`
	UnitQuantity   int    `json:"unit_quantity" validate:"required,gt=0"`
	PackageCount   int    `json:"package_count" validate:"required,gt=0"`
	UnitPriceCents int64  `json:"unit_price_cents" validate:"required,gt=0"`
}

type PurchaseRequest struct {
	StoreID       int64                 `json:"store_id" validate:"required,gt=0"`
	DistributorID int64                 `json:"distributor_id" validate:"required,gt=0"`
	PurchaseDate  *time.Time            `json:"purchase_date,omitempty"`
	InvoiceNumber string                `json:"invoice_number"`
	Items         []PurchaseItemRequest `json:"items" validate:"required,min=1,dive"`
}

type PurchaseItem struct {
	MedicineID     int64     `json:"medicine_id"`
	BatchID        string    `json:"batch_id"`
	BatchNumber    string    `json:"batch_number"`
	ExpiryDate     time.Time `json:"expiry_date"`
	MedicineForm   string    `json:"medicine_form"`
	UnitsInPack    string    `json:"units_in_pack"`
	Package        string    `json:"package"`
	UnitQuantity   int       `json:"unit_quantity"`
	PackageCount   int       `json:"package_count"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
}

type Purchase struct {
	ID               string         `json:"purchase_id"`
	StoreID          int64          `json:"store_id"`
	DistributorID    int64          `json:"distributor_id"`
	PurchaseDate     time.Time      `json:"purchase_date"`
	InvoiceNumber    string         `json:"invoice_number"`
	TotalAmountCents int64          `json:"total_amount_cents"`
	CreatedBy        string         `json:"created_by"`
	CreatedAt        time.Time      `json:"created_at"`
	Items            []PurchaseItem `json:"items"`
}

type PurchaseResponse struct {
	Purchase Purchase `json:"purchase"`
}

type PurchaseListResponse struct {
	Purchases []Purchase `json:"purchases"`
}

type Pricing struct {
	StoreID         int64     `json:"store_id"`
	MedicineID      int64     `json:"medicine_id"`
	PriceCents      int64     `json:"price_cents"`
	MRPCents        int64     `json:"mrp_cents"`
	DiscountPercent float64   `json:"discount_percent"`
	NetRateCents    int64     `json:"net_rate_cents"`
	IsActive        bool      `json:"is_active"`
	UpdatedBy       string    `json:"updated_by"`
	UpdatedOn       time.Time `json:"updated_on"`
}

type PricingUpsertRequest struct {
	StoreID         int64   `json:"store_id" validate:"required,gt=0"`
	MedicineID      int64   `json:"medicine_id" validate:"required,gt=0"`
	PriceCents      int64   `json:"price_cents" validate:"required,gt=0"`
	MRPCents        int64   `json:"mrp_cents" validate:"required,gt=0"`
	DiscountPercent float64 `json:"discount_percent" validate:"gte=0,lte=100"`
}

type Customer struct {
	ID         string    `json:"customer_id"`
	Name       string    `json:"name"`
	Mobile     string    `json:"mobile"`
	Email      string    `json:"email,omitempty"`
	DoctorName string    `json:"doctor_name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name       string `json:"name" validate:"required,min=2"`
	Mobile     string `json:"mobile" validate:"required"`
	Email      string `json:"email" validate:"omitempty,email"`
	DoctorName string `json:"doctor_name"`
}

type CustomerListResponse struct {
	Customers []Customer `json:"customers"`
}

type OrderItem struct {
	MedicineID     int64  `json:"medicine_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Unit           string `json:"unit,omitempty"`
}

type OrderItemRequest struct {
	MedicineID     int64  `json:"medicine_id" validate:"required,gt=0"`
	Quantity       int    `json:"quantity" validate:"required,gt=0"`
	UnitPriceCents int64  `json:"unit_price_cents" validate:"required,gt=0"`
	Unit           string `json:"unit"`
}

type OrderCreateRequest struct {
	StoreID       int64              `json:"store_id" validate:"required,gt=0"`
	CustomerID    string             `json:"customer_id" validate:"required"`
	PaymentMethod string             `json:"payment_method" validate:"required,oneof=cash online cod"`
	Items         []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

type Order struct {
	ID               string      `json:"order_id"`
	StoreID          int64       `json:"store_id"`
	CustomerID       string      `json:"customer_id"`
	OrderDate        time.Time   `json:"order_date"`
	OrderStatus      string      `json:"order_status"`
	PaymentMethod    string      `json:"payment_method"`
	TotalAmountCents int64       `json:"total_amount_cents"`
	Items            []OrderItem `json:"items"`
}

type OrderStatusUpdateRequest struct {
	Status string `json:"status" validate:"required,oneof=pending processing shipped delivered cancelled"`
}

// OrderSummary joins an order with customer details for fulfilment views.
type OrderSummary struct {
	Order        Order  `json:"order"`
	CustomerName string `json:"customer_name"`
	DoctorName   string `json:"doctor_name,omitempty"`
	Mobile       string `json:"mobile,omitempty"`
}

type OrderListResponse struct {
	Orders []OrderSummary `json:"orders"`
}

type SubstituteSuggestion struct {
	MedicineID        int64  `json:"medicine_id"`
	MedicineName      string `json:"medicine_name"`
	AvailableQuantity int    `json:"available_quantity"`
}

// StockStatus is the read-only availability projection served to storefronts.
type StockStatus struct {
	StoreID           int64                  `json:"store_id"`
	MedicineID        int64                  `json:"medicine_id"`
	InStock           bool                   `json:"in_stock"`
	AvailableQuantity int                    `json:"available_quantity"`
	LastUpdated       *time.Time             `json:"last_updated,omitempty"`
	Substitutes       []SubstituteSuggestion `json:"substitutes,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type UserCreateRequest struct {
	Username string `json:"username" validate:"required,min=4"`
	Password string `json:"password" validate:"required,min=6"`
	Role     string `json:"role" validate:"required,oneof=admin store_keeper"`
	StoreID  int64  `json:"store_id" validate:"gte=0"`
}

type UserView struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	StoreID   int64     `json:"store_id,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	StoreID   int64
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	StoreID       int64     `json:"store_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
