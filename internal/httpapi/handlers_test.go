package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"fournil/backend/internal/billing"
	"fournil/backend/internal/cache"
	"fournil/backend/internal/catalog"
	"fournil/backend/internal/domain"
	"fournil/backend/internal/live"
	"fournil/backend/internal/production"
	"fournil/backend/internal/service"
	"fournil/backend/internal/store"
	"fournil/backend/internal/store/memory"
)

const testDate = "2026-10-14"

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	broker := live.NewMemoryBroker()
	source := catalog.NewSource(repo, cache.NoopCatalogCache{}, time.Minute)
	manager := production.NewManager(repo, source, repo, broker)
	svc := service.New(repo, source, manager, service.BillingDefaults{
		TaxRate:         decimal.RequireFromString("5.5"),
		NumberPrefix:    "FAC",
		PaymentTermDays: 30,
	})
	auth := NewAuthManager("test-secret-key", time.Hour, "123456", repo)

	return New(svc, auth, broker, "*")
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

func login(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()
	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s failed: %d %s", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

type client struct {
	t       *testing.T
	handler http.Handler
	token   string
	csrf    string
}

func (c client) do(method, path string, payload any) *httptest.ResponseRecorder {
	c.t.Helper()
	var body io.Reader = http.NoBody
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			c.t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-CSRF-Token", c.csrf)
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec
}

func (c client) expect(method, path string, payload any, status int) *httptest.ResponseRecorder {
	c.t.Helper()
	rec := c.do(method, path, payload)
	if rec.Code != status {
		c.t.Fatalf("%s %s expected %d, got %d (body: %s)", method, path, status, rec.Code, rec.Body.String())
	}
	return rec
}

func newClient(t *testing.T, api *API, username, password string) client {
	t.Helper()
	handler := api.Handler()
	return client{t: t, handler: handler, token: login(t, handler, username, password), csrf: fetchCSRFToken(t, api)}
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

func TestHandleProgram_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/programs/"+testDate, nil)
	rec := httptest.NewRecorder()

	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProgram_InvalidDate(t *testing.T) {
	api := newTestAPI(t)
	c := newClient(t, api, "staff", "staff123")
	c.expect(http.MethodGet, "/api/v1/programs/14-10-2026", nil, http.StatusBadRequest)
}

func TestProductionToInvoiceFlow(t *testing.T) {
	api := newTestAPI(t)
	c := newClient(t, api, "staff", "staff123")
	base := "/api/v1/programs/" + testDate

	rec := c.expect(http.MethodPost, base+"/orders", domain.OrderCreateRequest{
		ClientID: "hotel-port",
		Lines:    []domain.OrderLineInput{{ProductID: "baguette", Split: domain.RunSplit{A: 4, B: 3, C: 3}}},
	}, http.StatusCreated)
	var placed struct {
		Program domain.ProductionProgram `json:"program"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&placed); err != nil {
		t.Fatalf("decode program: %v", err)
	}
	if len(placed.Program.Totals) != 1 || placed.Program.Totals[0].GlobalTotal != 10 {
		t.Fatalf("unexpected totals %+v", placed.Program.Totals)
	}

	c.expect(http.MethodPut, base+"/allocations/baguette", domain.AllocationRequest{Quantity: 20}, http.StatusOK)
	c.expect(http.MethodPost, base+"/send", domain.SendProgramRequest{}, http.StatusOK)
	c.expect(http.MethodPost, base+"/confirm", nil, http.StatusOK)

	c.expect(http.MethodPut, "/api/v1/returns/"+testDate+"/hotel-port", domain.ReturnRequest{
		Lines:    []domain.ReturnLine{{ProductID: "baguette", Returned: 2}},
		Complete: true,
	}, http.StatusOK)

	rec = c.expect(http.MethodPost, "/api/v1/invoices/reconcile", domain.ReconcileRequest{Date: testDate}, http.StatusOK)
	var result domain.ReconcileResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode reconcile: %v", err)
	}
	if result.Created != 1 || result.Invoices[0].Lines[0].Billed != 8 {
		t.Fatalf("unexpected reconcile result %+v", result)
	}
	if result.Invoices[0].Status != domain.InvoiceStatusValidated {
		t.Fatalf("expected validated invoice, got %s", result.Invoices[0].Status)
	}

	rec = c.expect(http.MethodPost, "/api/v1/invoices/reconcile", domain.ReconcileRequest{Date: testDate}, http.StatusOK)
	var again domain.ReconcileResult
	if err := json.NewDecoder(rec.Body).Decode(&again); err != nil {
		t.Fatalf("decode reconcile: %v", err)
	}
	if again.Created != 0 || len(again.Invoices) != 1 {
		t.Fatalf("expected idempotent reconcile, got %+v", again)
	}

	rec = c.expect(http.MethodGet, "/api/v1/invoices?from="+testDate, nil, http.StatusOK)
	var listed struct {
		Invoices []domain.Invoice `json:"invoices"`
		TotalTTC string           `json:"total_ttc"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&listed); err != nil {
		t.Fatalf("decode invoices: %v", err)
	}
	if len(listed.Invoices) != 1 || listed.TotalTTC != "9.28" {
		t.Fatalf("unexpected invoice list %+v", listed)
	}

	id := listed.Invoices[0].ID
	c.expect(http.MethodPost, "/api/v1/invoices/"+id+"/send", nil, http.StatusOK)
	c.expect(http.MethodPost, "/api/v1/invoices/"+id+"/send", nil, http.StatusConflict)
	c.expect(http.MethodPost, "/api/v1/invoices/"+id+"/cancel", domain.CancelInvoiceRequest{Reason: "erreur"}, http.StatusForbidden)
	c.expect(http.MethodPost, "/api/v1/invoices/"+id+"/pay", nil, http.StatusOK)
	c.expect(http.MethodPost, "/api/v1/invoices/"+id+"/refund", nil, http.StatusNotFound)

	c.expect(http.MethodPut, base+"/orders/"+placed.Program.Orders[0].ID+"/lines/baguette", domain.RunSplit{A: 1}, http.StatusConflict)
}

func TestSendRequiresForceOnWarnings(t *testing.T) {
	api := newTestAPI(t)
	c := newClient(t, api, "staff", "staff123")
	base := "/api/v1/programs/" + testDate

	c.expect(http.MethodGet, base, nil, http.StatusOK)
	rec := c.expect(http.MethodPost, base+"/send", domain.SendProgramRequest{}, http.StatusPreconditionRequired)
	var body struct {
		Warnings []domain.Warning `json:"warnings"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Warnings) == 0 {
		t.Fatalf("expected warnings in confirmation response")
	}
	c.expect(http.MethodPost, base+"/send", domain.SendProgramRequest{Force: true}, http.StatusOK)
}

func TestRegularizeNeedsManagerPIN(t *testing.T) {
	api := newTestAPI(t)
	staff := newClient(t, api, "staff", "staff123")
	admin := newClient(t, api, "admin", "admin123")
	base := "/api/v1/programs/" + testDate

	staff.expect(http.MethodPost, base+"/orders/default", domain.DefaultOrderRequest{ClientID: "cafe-halles"}, http.StatusCreated)
	staff.expect(http.MethodPost, base+"/send", domain.SendProgramRequest{}, http.StatusOK)
	staff.expect(http.MethodPost, base+"/confirm", nil, http.StatusOK)

	staff.expect(http.MethodPost, base+"/regularize", domain.RegularizeRequest{Acknowledge: true, ManagerPIN: "123456"}, http.StatusForbidden)
	admin.expect(http.MethodPost, base+"/regularize", domain.RegularizeRequest{ManagerPIN: "123456"}, http.StatusPreconditionRequired)
	rec := admin.expect(http.MethodPost, base+"/regularize", domain.RegularizeRequest{Acknowledge: true, ManagerPIN: "123456"}, http.StatusOK)

	var report domain.ConsumptionReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(report.Program.ConsumptionRuns) != 2 {
		t.Fatalf("expected confirm and regularize runs, got %d", len(report.Program.ConsumptionRuns))
	}
}

func TestAdminOnlyEndpoints(t *testing.T) {
	api := newTestAPI(t)
	staff := newClient(t, api, "staff", "staff123")
	admin := newClient(t, api, "admin", "admin123")

	staff.expect(http.MethodGet, "/api/v1/audit-logs", nil, http.StatusForbidden)
	staff.expect(http.MethodGet, "/api/v1/users/staff", nil, http.StatusForbidden)
	staff.expect(http.MethodPatch, "/api/v1/billing-config", map[string]any{"payment_term_days": 45}, http.StatusForbidden)

	admin.expect(http.MethodGet, "/api/v1/audit-logs", nil, http.StatusOK)
	rec := admin.expect(http.MethodPatch, "/api/v1/billing-config", map[string]any{"payment_term_days": 45}, http.StatusOK)
	var body struct {
		Config domain.BillingConfig `json:"billing_config"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if body.Config.PaymentTermDays != 45 {
		t.Fatalf("expected 45 term days, got %d", body.Config.PaymentTermDays)
	}

	admin.expect(http.MethodPost, "/api/v1/users/staff", domain.StaffCreateRequest{Username: "tourier", Password: "feuilletage"}, http.StatusCreated)
	login(t, api.Handler(), "tourier", "feuilletage")
}

func TestProgramStreamSendsCurrentSnapshot(t *testing.T) {
	api := newTestAPI(t)
	server := httptest.NewServer(api.Handler())
	defer server.Close()

	token := login(t, api.Handler(), "staff", "staff123")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/v1/programs/"+testDate+"/stream", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := server.Client().Do(req)
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if got := res.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("unexpected content type %q", got)
	}

	reader := bufio.NewReader(res.Body)
	var sawEvent bool
	for i := 0; i < 3; i++ {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			var program domain.ProductionProgram
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &program); err != nil {
				t.Fatalf("decode event: %v", err)
			}
			if program.Date != testDate || program.Status != domain.ProgramStatusDraft {
				t.Fatalf("unexpected snapshot %+v", program)
			}
			sawEvent = true
			break
		}
	}
	if !sawEvent {
		t.Fatalf("expected a data line in the first event")
	}
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{service.ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("%w: id", store.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: date", store.ErrInvalidInput), http.StatusBadRequest},
		{billing.ErrInvalidTaxRate, http.StatusBadRequest},
		{store.ErrConflict, http.StatusConflict},
		{production.ErrInvalidTransition, http.StatusConflict},
		{billing.ErrInvalidTransition, http.StatusConflict},
		{production.ErrConfirmationRequired, http.StatusPreconditionRequired},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusForError(tc.err); got != tc.want {
			t.Fatalf("statusForError(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

// TestMustHashPassword verifies that the test helper produces valid bcrypt hashes
// (used to confirm test infrastructure is sound).
func TestMustHashPassword(t *testing.T) {
	hash := mustHashPassword(t, "secret")
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")); err != nil {
		t.Fatalf("hash verification failed: %v", err)
	}
}
