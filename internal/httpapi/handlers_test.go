package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"medipos/backend/internal/cache"
	"medipos/backend/internal/domain"
	"medipos/backend/internal/service"
	"medipos/backend/internal/store/memory"
	"medipos/backend/internal/substitution"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	subs := substitution.NewEngine(repo, repo, 5)
	svc := service.New(repo, repo, cache.NoopStockCache{}, subs, time.Second)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*")
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func loginToken(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}

	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func csrfToken(t *testing.T, handler http.Handler) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("csrf token fetch failed: %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode csrf response: %v", err)
	}
	return body["csrf_token"]
}

func authedJSONRequest(t *testing.T, handler http.Handler, method, path, token, csrf string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	token := loginToken(t, handler, "admin", "admin123")
	if token == "" {
		t.Fatalf("expected access token")
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleLogin_RateLimit(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	// The loginLimiter allows 5 attempts per minute.
	// Fire 6 requests from the same "IP" (httptest uses RemoteAddr "192.0.2.1:1234").
	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "badpass",
	})

	var lastCode int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		lastCode = rec.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after 6 attempts, got %d", lastCode)
	}
}

func TestHandleMedicines_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/medicines", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleMedicines_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	token := loginToken(t, handler, "admin", "admin123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/medicines", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["medicines"] == nil {
		t.Fatalf("expected medicines key in response, got %v", body)
	}
}

func TestHandleSales_RecordsAndSplitsBatches(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	token := loginToken(t, handler, "keeper", "keeper123")
	csrf := csrfToken(t, handler)

	rec := authedJSONRequest(t, handler, http.MethodPost, "/api/v1/sales", token, csrf, domain.SaleRequest{
		StoreID: 1,
		Lines:   []domain.SaleLineRequest{{MedicineID: 1, Quantity: 50, UnitPriceCents: 250}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var resp domain.SaleResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode sale response: %v", err)
	}
	if resp.Sale.TotalAmountCents != 12500 {
		t.Fatalf("expected total 12500, got %d", resp.Sale.TotalAmountCents)
	}
	if len(resp.Sale.Items) != 2 {
		t.Fatalf("expected allocation across 2 batches, got %d items", len(resp.Sale.Items))
	}
}

func TestHandleSales_InvalidQuantityIsBadRequest(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	token := loginToken(t, handler, "keeper", "keeper123")
	csrf := csrfToken(t, handler)

	rec := authedJSONRequest(t, handler, http.MethodPost, "/api/v1/sales", token, csrf, domain.SaleRequest{
		StoreID: 1,
		Lines:   []domain.SaleLineRequest{{MedicineID: 1, Quantity: 0, UnitPriceCents: 250}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["kind"] != "invalid_quantity" {
		t.Fatalf("expected kind invalid_quantity, got %v", body)
	}
	if body["medicine_id"] != float64(1) {
		t.Fatalf("expected medicine_id 1 in error payload, got %v", body)
	}
}

func TestHandleSales_InsufficientStockIsConflict(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	token := loginToken(t, handler, "keeper", "keeper123")
	csrf := csrfToken(t, handler)

	rec := authedJSONRequest(t, handler, http.MethodPost, "/api/v1/sales", token, csrf, domain.SaleRequest{
		StoreID: 1,
		Lines:   []domain.SaleLineRequest{{MedicineID: 1, Quantity: 9999, UnitPriceCents: 250}},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["kind"] != "insufficient_stock" {
		t.Fatalf("expected kind insufficient_stock, got %v", body)
	}
}

func TestHandleSales_RejectsCSRFMissing(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	token := loginToken(t, handler, "keeper", "keeper123")

	rec := authedJSONRequest(t, handler, http.MethodPost, "/api/v1/sales", token, "", domain.SaleRequest{
		StoreID: 1,
		Lines:   []domain.SaleLineRequest{{MedicineID: 1, Quantity: 1, UnitPriceCents: 250}},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without CSRF token, got %d", rec.Code)
	}
}

func TestHandleStock_ReportsSubstitutesWhenDrained(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	token := loginToken(t, handler, "keeper", "keeper123")
	csrf := csrfToken(t, handler)

	rec := authedJSONRequest(t, handler, http.MethodPost, "/api/v1/sales", token, csrf, domain.SaleRequest{
		StoreID: 1,
		Lines:   []domain.SaleLineRequest{{MedicineID: 1, Quantity: 100, UnitPriceCents: 250}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("drain sale failed: %d %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stock?store_id=1&medicine_id=1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	stockRec := httptest.NewRecorder()
	handler.ServeHTTP(stockRec, req)

	if stockRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", stockRec.Code, stockRec.Body.String())
	}

	var status domain.StockStatus
	if err := json.NewDecoder(stockRec.Body).Decode(&status); err != nil {
		t.Fatalf("decode stock status: %v", err)
	}
	if status.InStock {
		t.Fatalf("expected out of stock, got %+v", status)
	}
	if len(status.Substitutes) != 1 || status.Substitutes[0].MedicineID != 3 {
		t.Fatalf("expected ibuprofen substitute, got %+v", status.Substitutes)
	}
}

func TestHandlePricing_AdminOnly(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	keeperToken := loginToken(t, handler, "keeper", "keeper123")
	csrf := csrfToken(t, handler)

	rec := authedJSONRequest(t, handler, http.MethodPost, "/api/v1/pricing", keeperToken, csrf, domain.PricingUpsertRequest{
		StoreID: 1, MedicineID: 1, PriceCents: 400, MRPCents: 450, DiscountPercent: 5,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for store keeper, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	adminToken := loginToken(t, handler, "admin", "admin123")
	rec = authedJSONRequest(t, handler, http.MethodPost, "/api/v1/pricing", adminToken, csrf, domain.PricingUpsertRequest{
		StoreID: 1, MedicineID: 1, PriceCents: 400, MRPCents: 450, DiscountPercent: 5,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandlePurchases_ValidationFailure(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	token := loginToken(t, handler, "keeper", "keeper123")
	csrf := csrfToken(t, handler)

	// Missing items entirely; request validation must reject it before the
	// service runs.
	rec := authedJSONRequest(t, handler, http.MethodPost, "/api/v1/purchases", token, csrf, map[string]any{
		"store_id":       1,
		"distributor_id": 1,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

// Users provisioned with an already-hashed password must log in without the
// plain-text upgrade path rewriting their credential.
func TestLoginWithHashedSeedUser(t *testing.T) {
	repo := memory.NewSeeded()
	hashed := mustHashPassword(t, "s3cret-pw")
	if err := repo.CreateUser(context.Background(), domain.UserAccount{
		Username:  "relief-keeper",
		Password:  hashed,
		Role:      domain.RoleStoreKeeper,
		StoreID:   1,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	subs := substitution.NewEngine(repo, repo, 5)
	svc := service.New(repo, repo, cache.NoopStockCache{}, subs, time.Second)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)
	handler := New(svc, auth, "*").Handler()

	token := loginToken(t, handler, "relief-keeper", "s3cret-pw")
	if token == "" {
		t.Fatalf("expected access token")
	}

	users, err := repo.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	for _, user := range users {
		if user.Username == "relief-keeper" && user.Password != hashed {
			t.Fatalf("hashed credential must not be rewritten on login")
		}
	}
}
