package httpapi

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"nhathuocpos/backend/internal/cache"
	"nhathuocpos/backend/internal/domain"
	"nhathuocpos/backend/internal/profile"
	"nhathuocpos/backend/internal/service"
	"nhathuocpos/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	profiles := profile.NewStore(filepath.Join(t.TempDir(), "shop_profile.json"))
	svc := service.New(repo, cache.NoopProductCache{}, profiles, time.Second)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*")
}

func loginAs(t *testing.T, api *API, username, password string) string {
	t.Helper()

	payload, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s returned %d (body: %s)", username, rec.Code, rec.Body.String())
	}

	var body domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode login body: %v", err)
	}
	return body.AccessToken
}

func loginAsAdmin(t *testing.T, api *API) string {
	t.Helper()
	return loginAs(t, api, "admin", "admin123")
}

func loginAsCashier(t *testing.T, api *API) string {
	t.Helper()
	return loginAs(t, api, "cashier", "cashier123")
}

// fetchCSRFToken calls the CSRF token endpoint and returns the token string.
func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("csrf-token endpoint returned status %d", rec.Code)
	}
	var payload map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode csrf body: %v", err)
	}
	return payload["csrf_token"]
}

// doJSON runs an authenticated JSON request with a valid CSRF token.
func doJSON(t *testing.T, api *API, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("X-CSRF-Token", fetchCSRFToken(t, api))
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
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

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_ListWithValidToken(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsCashier(t, api)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Products []domain.Product `json:"products"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Products) != 10 {
		t.Fatalf("expected 10 seeded products, got %d", len(body.Products))
	}
}

func TestProductUpsert_CashierForbidden(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsCashier(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/products", token, productBatchRequest{
		Products: []domain.Product{{Code: "X-1", Name: "X", Unit: "box", PriceCents: 100, Stock: 1}},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestProductUpsert_AdminSucceeds(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/products", token, productBatchRequest{
		Products: []domain.Product{{Code: "MED-ZINC-20", Name: "Zinc 20mg", Unit: "tablet", PriceCents: 310, Stock: 40}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["written"] != float64(1) {
		t.Fatalf("expected written:1, got %v", body["written"])
	}
}

func TestStockEndpoints(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	rec := doJSON(t, api, http.MethodPut, "/api/v1/products/MED-PARA-500/stock", token, map[string]int{"qty": 25})
	if rec.Code != http.StatusOK {
		t.Fatalf("set stock expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodPatch, "/api/v1/products/MED-PARA-500/stock", token, map[string]int{"delta": -5})
	if rec.Code != http.StatusOK {
		t.Fatalf("adjust stock expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Product domain.Product `json:"product"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Product.Stock != 20 {
		t.Fatalf("expected stock 20 after set+adjust, got %d", body.Product.Stock)
	}

	// Driving stock negative conflicts and leaves the quantity alone.
	rec = doJSON(t, api, http.MethodPatch, "/api/v1/products/MED-PARA-500/stock", token, map[string]int{"delta": -21})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCheckoutEndpoint(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsCashier(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/checkout", token, domain.CheckoutRequest{
		Lines: []domain.CartLine{
			{ProductCode: "MED-PARA-500", Qty: 2, UnitPriceCents: 150},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var resp domain.CheckoutResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.TotalCents != 300 || resp.OrderCode == "" {
		t.Fatalf("unexpected checkout response: %+v", resp)
	}
}

func TestCheckoutEndpoint_InsufficientStockConflict(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsCashier(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/checkout", token, domain.CheckoutRequest{
		Lines: []domain.CartLine{
			{ProductCode: "MED-PARA-500", Qty: 101, UnitPriceCents: 150},
		},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "insufficient stock") {
		t.Fatalf("expected shortfall message, got %s", rec.Body.String())
	}
}

func TestCheckoutEndpoint_EmptyCartBadRequest(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsCashier(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/checkout", token, domain.CheckoutRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCheckoutRequiresCSRFToken(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsCashier(t, api)

	payload, _ := json.Marshal(domain.CheckoutRequest{
		Lines: []domain.CartLine{{ProductCode: "MED-PARA-500", Qty: 1, UnitPriceCents: 150}},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without CSRF token, got %d", rec.Code)
	}
}

func TestDeleteReferencedProductConflict(t *testing.T) {
	api := newTestAPI(t)
	admin := loginAsAdmin(t, api)
	cashier := loginAsCashier(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/checkout", cashier, domain.CheckoutRequest{
		Lines: []domain.CartLine{{ProductCode: "MED-PARA-500", Qty: 1, UnitPriceCents: 150}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout setup failed: %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodDelete, "/api/v1/products/MED-PARA-500", admin, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for referenced product, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodDelete, "/api/v1/products/MED-IBU-400", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 deleting unreferenced product, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestPartyLifecycle(t *testing.T) {
	api := newTestAPI(t)
	admin := loginAsAdmin(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/parties", admin, domain.PartyCreateRequest{
		Name:  "Nguyen Van A",
		Phone: "0901234567",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Party domain.Party `json:"party"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	rec = doJSON(t, api, http.MethodDelete, "/api/v1/parties/"+created.Party.ID, admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 deleting party, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestOrderAndInvoiceDownloads(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsCashier(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/checkout", token, domain.CheckoutRequest{
		Lines: []domain.CartLine{{ProductCode: "MED-PARA-500", Qty: 2, UnitPriceCents: 150}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout setup failed: %d", rec.Code)
	}
	var resp domain.CheckoutResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode checkout body: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+resp.OrderCode, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	orderRec := httptest.NewRecorder()
	api.Handler().ServeHTTP(orderRec, req)
	if orderRec.Code != http.StatusOK {
		t.Fatalf("get order expected 200, got %d", orderRec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+resp.OrderCode+"/invoice.pdf", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	pdfRec := httptest.NewRecorder()
	api.Handler().ServeHTTP(pdfRec, req)
	if pdfRec.Code != http.StatusOK {
		t.Fatalf("pdf download expected 200, got %d (body: %s)", pdfRec.Code, pdfRec.Body.String())
	}
	if got := pdfRec.Header().Get("Content-Type"); got != "application/pdf" {
		t.Fatalf("pdf content type = %q", got)
	}
	if got := pdfRec.Header().Get("Content-Disposition"); !strings.Contains(got, resp.OrderCode+".pdf") {
		t.Fatalf("pdf disposition = %q", got)
	}
	if !bytes.HasPrefix(pdfRec.Body.Bytes(), []byte("%PDF")) {
		t.Fatalf("pdf body missing magic header")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+resp.OrderCode+"/invoice.docx", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	docxRec := httptest.NewRecorder()
	api.Handler().ServeHTTP(docxRec, req)
	if docxRec.Code != http.StatusOK {
		t.Fatalf("docx download expected 200, got %d", docxRec.Code)
	}
	if !bytes.HasPrefix(docxRec.Body.Bytes(), []byte("PK")) {
		t.Fatalf("docx body is not a zip container")
	}
}

func TestInvoiceUnknownOrderNotFound(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsCashier(t, api)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/HD-NOPE/invoice.pdf", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestReportsRequireAdminRole(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsCashier(t, api)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/revenue", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rec.Code)
	}
}

func TestRevenueReport(t *testing.T) {
	api := newTestAPI(t)
	admin := loginAsAdmin(t, api)
	cashier := loginAsCashier(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/checkout", cashier, domain.CheckoutRequest{
		Date:  "2026-08-30",
		Lines: []domain.CartLine{{ProductCode: "MED-PARA-500", Qty: 2, UnitPriceCents: 150}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout setup failed: %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/revenue?from=2026-08-30&to=2026-08-30", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	reportRec := httptest.NewRecorder()
	api.Handler().ServeHTTP(reportRec, req)
	if reportRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", reportRec.Code, reportRec.Body.String())
	}

	var body struct {
		Rows []domain.RevenueRow `json:"rows"`
	}
	if err := json.NewDecoder(reportRec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Rows) != 1 || body.Rows[0].TotalCents != 300 {
		t.Fatalf("unexpected revenue rows: %+v", body.Rows)
	}
}

func TestProfileEndpoints(t *testing.T) {
	api := newTestAPI(t)
	admin := loginAsAdmin(t, api)
	cashier := loginAsCashier(t, api)

	rec := doJSON(t, api, http.MethodPut, "/api/v1/profile", admin, domain.ShopProfile{
		Name:    "Nha Thuoc An Khang",
		Phone:   "028 3812 0000",
		Address: "12 Le Loi, Q1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put profile expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodPut, "/api/v1/profile", cashier, domain.ShopProfile{Name: "X"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cashier put profile expected 403, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/profile", nil)
	req.Header.Set("Authorization", "Bearer "+cashier)
	getRec := httptest.NewRecorder()
	api.Handler().ServeHTTP(getRec, req)
	if getRec.Code != http.StatusOK {
		t.Fatalf("get profile expected 200, got %d", getRec.Code)
	}
	var body struct {
		Profile domain.ShopProfile `json:"profile"`
	}
	if err := json.NewDecoder(getRec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Profile.Name != "Nha Thuoc An Khang" {
		t.Fatalf("profile name = %q", body.Profile.Name)
	}
}

func workbookBytes(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow(sheet, cellRef, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

func TestImportProductsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	admin := loginAsAdmin(t, api)

	workbook := workbookBytes(t, [][]any{
		{"Ma hang", "Ten hang", "DVT", "Gia ban", "Ton kho"},
		{"MED-ZINC-20", "Zinc 20mg", "tablet", "3.10", "40"},
		{"", "blank code", "box", "1", "1"},
	})

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", "catalog.xlsx")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(workbook); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	mapping := `{"code":"Ma hang","name":"Ten hang","unit":"DVT","price":"Gia ban","stock":"Ton kho"}`
	if err := form.WriteField("mapping", mapping); err != nil {
		t.Fatalf("write mapping field: %v", err)
	}
	if err := form.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/import", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+admin)
	req.Header.Set("X-CSRF-Token", fetchCSRFToken(t, api))
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var result domain.ImportResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if result.Imported != 1 || result.Skipped != 1 {
		t.Fatalf("result = %+v, want imported=1 skipped=1", result)
	}
}

func TestImportMissingMappingField(t *testing.T) {
	api := newTestAPI(t)
	admin := loginAsAdmin(t, api)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, _ := form.CreateFormFile("file", "catalog.xlsx")
	_, _ = part.Write(workbookBytes(t, [][]any{{"A"}, {"1"}}))
	_ = form.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/import", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+admin)
	req.Header.Set("X-CSRF-Token", fetchCSRFToken(t, api))
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}
