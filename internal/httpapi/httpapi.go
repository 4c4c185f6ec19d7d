package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"medipos/backend/internal/domain"
	"medipos/backend/internal/service"
	"medipos/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
	validate      *validator.Validate
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		// Fall back to a deterministic secret if crypto/rand fails (should not happen in practice).
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (expressed as Unix time truncated to the hour). The token is hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

// generateCSRFToken returns a token valid for the current hour bucket.
func (a *API) generateCSRFToken() string {
	now := time.Now().UTC()
	bucket := now.Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken checks whether the provided token matches the current or
// previous hour bucket, giving a 2-hour validity window.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	now := time.Now().UTC()
	currentBucket := now.Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	expected1 := a.csrfTokenForHour(currentBucket)
	expected2 := a.csrfTokenForHour(prevBucket)

	return hmac.Equal([]byte(token), []byte(expected1)) ||
		hmac.Equal([]byte(token), []byte(expected2))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("/api/v1/stores", a.requireAuth(a.handleStores, "store_keeper", "admin"))
	mux.HandleFunc("/api/v1/stores/", a.requireAuth(a.handleStoreActions, "store_keeper", "admin"))
	mux.HandleFunc("/api/v1/manufacturers", a.requireAuth(a.handleManufacturers, "store_keeper", "admin"))
	mux.HandleFunc("/api/v1/categories", a.requireAuth(a.handleCategories, "store_keeper", "admin"))
	mux.HandleFunc("/api/v1/distributors", a.requireAuth(a.handleDistributors, "store_keeper", "admin"))
	mux.HandleFunc("/api/v1/medicines", a.requireAuth(a.handleMedicines, "store_keeper", "admin"))
	mux.HandleFunc("/api/v1/medicines/", a.requireAuth(a.handleMedicineActions, "store_keeper", "admin"))

	mux.HandleFunc("/api/v1/sales", a.requireAuth(a.handleSales, "store_keeper", "admin"))
	mux.HandleFunc("/api/v1/sales/", a.requireAuth(a.handleSaleActions, "store_keeper", "admin"))
	mux.HandleFunc("/api/v1/purchases", a.requireAuth(a.handlePurchases, "store_keeper", "admin"))
	mux.HandleFunc("/api/v1/purchases/", a.requireAuth(a.handlePurchaseActions, "store_keeper", "admin"))

	mux.HandleFunc("/api/v1/stock", a.requireAuth(a.handleStock, "store_keeper", "admin"))
	mux.HandleFunc("/api/v1/stock/batches", a.requireAuth(a.handleStockBatches, "store_keeper", "admin"))
	mux.HandleFunc("/api/v1/pricing", a.requireAuth(a.handlePricing, "store_keeper", "admin"))

	mux.HandleFunc("/api/v1/customers", a.requireAuth(a.handleCustomers, "store_keeper", "admin"))
	mux.HandleFunc("/api/v1/customers/", a.requireAuth(a.handleCustomerActions, "store_keeper", "admin"))
	mux.HandleFunc("/api/v1/orders", a.requireAuth(a.handleOrders, "store_keeper", "admin"))
	mux.HandleFunc("/api/v1/orders/", a.requireAuth(a.handleOrderActions, "store_keeper", "admin"))

	mux.HandleFunc("/api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, "admin"))
	mux.HandleFunc("/api/v1/users", a.requireAuth(a.handleUsers, "admin"))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless CSRF token valid for the current hour bucket.
// Clients must include this token in the X-CSRF-Token header for all mutating requests.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

// csrfExemptPaths lists paths that are exempt from CSRF validation.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

// checkCSRF enforces CSRF token validation for state-changing methods (POST/PUT/PATCH).
// Returns false and writes an error response if validation fails.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	method := r.Method
	if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch {
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) handleStores(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		stores, err := a.service.ListStores(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"stores": stores})
	case http.MethodPost:
		var req domain.StoreCreateRequest
		if err := a.decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := a.service.CreateStore(r.Context(), req)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"store": created})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleStoreActions(w http.ResponseWriter, r *http.Request) {
	storeID, err := pathID(r.URL.Path, "/api/v1/stores/")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		details, err := a.service.GetStore(r.Context(), storeID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"store": details})
	case http.MethodPatch:
		var req domain.StoreUpdateRequest
		if err := a.decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		updated, err := a.service.UpdateStore(r.Context(), storeID, req)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"store": updated})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleManufacturers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		manufacturers, err := a.service.ListManufacturers(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"manufacturers": manufacturers})
	case http.MethodPost:
		var req domain.ManufacturerCreateRequest
		if err := a.decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := a.service.CreateManufacturer(r.Context(), req)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"manufacturer": created})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCategories(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		categories, err := a.service.ListCategories(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"categories": categories})
	case http.MethodPost:
		var req domain.CategoryCreateRequest
		if err := a.decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := a.service.CreateCategory(r.Context(), req)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"category": created})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleDistributors(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		distributors, err := a.service.ListDistributors(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"distributors": distributors})
	case http.MethodPost:
		var req domain.DistributorCreateRequest
		if err := a.decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := a.service.CreateDistributor(r.Context(), req)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"distributor": created})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleMedicines(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
		medicines, err := a.service.ListMedicines(r.Context(), limit)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"medicines": medicines})
	case http.MethodPost:
		var req domain.MedicineCreateRequest
		if err := a.decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := a.service.CreateMedicine(r.Context(), req)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"medicine": created})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleMedicineActions(w http.ResponseWriter, r *http.Request) {
	prefix := "/api/v1/medicines/"
	tail := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("medicine id required"))
		return
	}

	if rest, ok := strings.CutSuffix(tail, "/substitutes"); ok {
		medicineID, err := strconv.ParseInt(strings.Trim(rest, "/"), 10, 64)
		if err != nil || medicineID < 1 {
			writeError(w, http.StatusBadRequest, errors.New("medicine id required"))
			return
		}
		switch r.Method {
		case http.MethodGet:
			subs, err := a.service.ListSubstitutes(r.Context(), medicineID)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"substitutes": subs})
		case http.MethodPost:
			var req domain.SubstituteCreateRequest
			if err := a.decodeAndValidate(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			req.MedicineID = medicineID
			created, err := a.service.CreateSubstitute(r.Context(), req)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"substitute": created})
		default:
			writeMethodNotAllowed(w)
		}
		return
	}

	medicineID, err := strconv.ParseInt(tail, 10, 64)
	if err != nil || medicineID < 1 {
		writeError(w, http.StatusBadRequest, errors.New("medicine id required"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		med, err := a.service.GetMedicine(r.Context(), medicineID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"medicine": med})
	case http.MethodPatch:
		var req domain.MedicineUpdateRequest
		if err := a.decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		updated, err := a.service.UpdateMedicine(r.Context(), medicineID, req)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"medicine": updated})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		storeID, err := queryID(r, "store_id")
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		from, to, err := queryDateRange(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

		resp, err := a.service.ListSales(r.Context(), storeID, r.URL.Query().Get("customer_id"), from, to, limit)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodPost:
		var req domain.SaleRequest
		if err := a.decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := a.service.RecordSale(r.Context(), req)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleSaleActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	id := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/sales/"), "/"))
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("sale id required"))
		return
	}

	resp, err := a.service.GetSale(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handlePurchases(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		storeID, err := queryID(r, "store_id")
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		from, to, err := queryDateRange(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

		resp, err := a.service.ListPurchases(r.Context(), storeID, from, to, limit)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodPost:
		var req domain.PurchaseRequest
		if err := a.decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := a.service.IntakePurchase(r.Context(), req)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handlePurchaseActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	id := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/purchases/"), "/"))
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("purchase id required"))
		return
	}

	resp, err := a.service.GetPurchase(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	storeID, err := queryID(r, "store_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	medicineID, err := queryID(r, "medicine_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	status, err := a.service.StockStatus(r.Context(), storeID, medicineID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) handleStockBatches(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		storeID, err := queryID(r, "store_id")
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		var medicineID int64
		if raw := strings.TrimSpace(r.URL.Query().Get("medicine_id")); raw != "" {
			medicineID, err = strconv.ParseInt(raw, 10, 64)
			if err != nil || medicineID < 1 {
				writeError(w, http.StatusBadRequest, errors.New("invalid medicine_id"))
				return
			}
		}
		includeDepleted := strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("include_depleted")), "true")
		limit := parsePositiveLimit(r.URL.Query().Get("limit"), 200, 500)

		resp, err := a.service.ListStockBatches(r.Context(), storeID, medicineID, includeDepleted, limit)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodPost:
		var req domain.BatchReceiveRequest
		if err := a.decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		batch, err := a.service.ReceiveBatch(r.Context(), req)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"batch": batch})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handlePricing(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		storeID, err := queryID(r, "store_id")
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		medicineID, err := queryID(r, "medicine_id")
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		pricing, err := a.service.GetPricing(r.Context(), storeID, medicineID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"pricing": pricing})
	case http.MethodPost:
		var req domain.PricingUpsertRequest
		if err := a.decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		pricing, err := a.service.UpsertPricing(r.Context(), req)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"pricing": pricing})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCustomers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
		resp, err := a.service.ListCustomers(r.Context(), limit)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodPost:
		var req domain.CustomerCreateRequest
		if err := a.decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := a.service.CreateCustomer(r.Context(), req)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"customer": created})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCustomerActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	id := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/customers/"), "/"))
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("customer id required"))
		return
	}

	customer, err := a.service.GetCustomer(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
}

func (a *API) handleOrders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		storeID, err := queryID(r, "store_id")
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

		var resp domain.OrderListResponse
		switch view := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("view"))); view {
		case "", "open":
			resp, err = a.service.ListOpenOrders(r.Context(), storeID, limit)
		case "delivered":
			resp, err = a.service.ListDeliveredOrders(r.Context(), storeID, limit)
		default:
			writeError(w, http.StatusBadRequest, fmt.Errorf("unknown order view %q", view))
			return
		}
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodPost:
		var req domain.OrderCreateRequest
		if err := a.decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := a.service.CreateOrder(r.Context(), req)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"order": created})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleOrderActions(w http.ResponseWriter, r *http.Request) {
	prefix := "/api/v1/orders/"
	tail := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("order id required"))
		return
	}

	if rest, ok := strings.CutSuffix(tail, "/status"); ok {
		if r.Method != http.MethodPatch {
			writeMethodNotAllowed(w)
			return
		}
		orderID := strings.Trim(rest, "/")
		if orderID == "" {
			writeError(w, http.StatusBadRequest, errors.New("order id required"))
			return
		}

		var req domain.OrderStatusUpdateRequest
		if err := a.decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		updated, err := a.service.UpdateOrderStatus(r.Context(), orderID, req.Status)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"order": updated})
		return
	}

	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	order, err := a.service.GetOrder(r.Context(), tail)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	storeID, err := queryID(r, "store_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	from, to, err := queryDateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), storeID, from, to, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		users, err := a.auth.ListUsers(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})
	case http.MethodPost:
		var req domain.UserCreateRequest
		if err := a.decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		user, err := a.auth.CreateUser(r.Context(), req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"user": user})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Enforce CSRF protection for all state-changing requests.
		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

func (a *API) decodeAndValidate(r *http.Request, dest any) error {
	if err := decodeJSON(r, dest); err != nil {
		return err
	}
	if err := a.validate.Struct(dest); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return err
		}
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			first := fieldErrs[0]
			return fmt.Errorf("field %s failed %s validation", first.Field(), first.Tag())
		}
		return err
	}
	return nil
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

// writeDomainError maps service and storage errors onto HTTP statuses. Line
// errors additionally surface the offending medicine so multi-line sale
// callers can pinpoint the failure.
func writeDomainError(w http.ResponseWriter, err error) {
	status := statusForError(err)

	var lineErr *store.LineError
	if errors.As(err, &lineErr) {
		if status >= 500 {
			writeError(w, status, err)
			return
		}
		writeJSON(w, status, map[string]any{
			"error":       err.Error(),
			"medicine_id": lineErr.MedicineID,
			"kind":        errorKind(lineErr.Err),
		})
		return
	}
	writeError(w, status, err)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrInvalidQuantity), errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrUnknownMedicine), errors.Is(err, store.ErrUnknownStore), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInsufficientStock), errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, store.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, store.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, store.ErrUnknownMedicine):
		return "unknown_medicine"
	case errors.Is(err, store.ErrUnknownStore):
		return "unknown_store"
	case errors.Is(err, store.ErrConflict):
		return "conflict"
	case errors.Is(err, store.ErrInvalidInput):
		return "invalid_input"
	default:
		return "error"
	}
}

func pathID(path string, prefix string) (int64, error) {
	raw := strings.TrimSpace(strings.Trim(strings.TrimPrefix(path, prefix), "/"))
	if raw == "" {
		return 0, errors.New("id required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func queryID(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, fmt.Errorf("%s required", name)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return id, nil
}

func queryDateRange(r *http.Request) (time.Time, time.Time, error) {
	parse := func(name string) (time.Time, error) {
		raw := strings.TrimSpace(r.URL.Query().Get(name))
		if raw == "" {
			return time.Time{}, nil
		}
		ts, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid %s, want YYYY-MM-DD", name)
		}
		return ts, nil
	}

	from, err := parse("from")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parse("to")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !to.IsZero() {
		// Inclusive end date.
		to = to.Add(24 * time.Hour)
	}
	return from, to, nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// For 5xx responses, return a generic message to avoid leaking internal
	// implementation details (stack traces, SQL errors, file paths, etc.).
	// 4xx responses are user-facing so we return the original error message.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
