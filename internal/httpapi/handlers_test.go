package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dairyflow/backend/internal/domain"
	"dairyflow/backend/internal/fulfillment"
	"dairyflow/backend/internal/numbering"
	"dairyflow/backend/internal/pricing"
	"dairyflow/backend/internal/service"
	"dairyflow/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store and real service so
// handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	calc, err := pricing.NewCalculator(pricing.Fees{PlatformFee: decimal.NewFromInt(5), DeliveryFee: decimal.Zero})
	if err != nil {
		t.Fatalf("calculator: %v", err)
	}
	numbers, err := numbering.New(3)
	if err != nil {
		t.Fatalf("numbering: %v", err)
	}
	scheduler := fulfillment.New(repo, calc, numbers, fulfillment.Options{Logger: zerolog.Nop(), AutoActivate: true})
	svc := service.New(repo, scheduler, numbers, service.Options{
		Logger:  zerolog.Nop(),
		Support: domain.SupportInfo{Phone: "+918000000000", Email: "help@dairyflow.test"},
	})
	return New(svc, NewAuthManager(testSecret, time.Hour), "*", zerolog.Nop())
}

func doRequest(t *testing.T, api *API, method, path string, body any, userID string, role domain.Role) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		token, _, err := api.auth.IssueToken(userID, role)
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	rec := doRequest(t, api, http.MethodGet, "/healthz", nil, "", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	api := newTestAPI(t)
	rec := doRequest(t, api, http.MethodGet, "/api/v1/products", nil, "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestProductsAndSupport(t *testing.T) {
	api := newTestAPI(t)

	rec := doRequest(t, api, http.MethodGet, "/api/v1/products", nil, memory.SeedCustomerID, domain.RoleCustomer)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	products := decodeBody[struct {
		Items []domain.Product `json:"items"`
	}](t, rec)
	if len(products.Items) != 4 {
		t.Fatalf("expected 4 seeded products, got %d", len(products.Items))
	}

	rec = doRequest(t, api, http.MethodGet, "/api/v1/support", nil, memory.SeedPartnerID, domain.RoleDeliveryPartner)
	support := decodeBody[domain.SupportInfo](t, rec)
	if support.Phone != "+918000000000" {
		t.Fatalf("unexpected support info %+v", support)
	}
}

func TestSubscriptionToDeliveryOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	today := time.Now().UTC().Format(domain.DateLayout)

	rec := doRequest(t, api, http.MethodPost, "/api/v1/subscriptions", domain.CreateSubscriptionRequest{
		Items: []domain.SubscriptionItem{
			{ProductID: memory.SeedMilkID, Quantity: 2},
			{ProductID: memory.SeedCurdID, Quantity: 1},
		},
		Cadence:   domain.CadenceDaily,
		StartDate: today,
	}, memory.SeedCustomerID, domain.RoleCustomer)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create subscription: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	sub := decodeBody[domain.Subscription](t, rec)

	rec = doRequest(t, api, http.MethodPost, "/api/v1/fulfillment/runs", domain.FulfillmentRunRequest{}, memory.SeedCustomerID, domain.RoleCustomer)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("customer run: expected 403, got %d", rec.Code)
	}

	rec = doRequest(t, api, http.MethodPost, "/api/v1/fulfillment/runs", domain.FulfillmentRunRequest{Date: today}, memory.SeedAdminID, domain.RoleAdmin)
	if rec.Code != http.StatusOK {
		t.Fatalf("run: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	summary := decodeBody[domain.BatchSummary](t, rec)
	if summary.Generated != 1 {
		t.Fatalf("expected 1 generated order, got %+v", summary)
	}
	orderPath := "/api/v1/orders/" + summary.GeneratedOrders[0]

	rec = doRequest(t, api, http.MethodGet, orderPath, nil, memory.SeedCustomerID, domain.RoleCustomer)
	order := decodeBody[domain.Order](t, rec)
	if order.SubscriptionID != sub.ID || !order.TotalAmount.Equal(decimal.NewFromInt(140)) {
		t.Fatalf("unexpected order %+v", order)
	}

	steps := []domain.OrderStatusRequest{
		{Status: domain.OrderStatusConfirmed},
		{Status: domain.OrderStatusOutForDelivery, PartnerID: memory.SeedPartnerID},
	}
	for _, step := range steps {
		rec = doRequest(t, api, http.MethodPost, orderPath+"/status", step, memory.SeedAdminID, domain.RoleAdmin)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d (%s)", step.Status, rec.Code, rec.Body.String())
		}
	}
	rec = doRequest(t, api, http.MethodPost, orderPath+"/status", domain.OrderStatusRequest{Status: domain.OrderStatusDelivered}, memory.SeedPartnerID, domain.RoleDeliveryPartner)
	if rec.Code != http.StatusOK {
		t.Fatalf("deliver: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, api, http.MethodGet, "/api/v1/stats/partners/"+memory.SeedPartnerID, nil, memory.SeedPartnerID, domain.RoleDeliveryPartner)
	pstats := decodeBody[domain.DeliveryPartnerStats](t, rec)
	if pstats.TotalDelivered != 1 || pstats.SuccessRate != 100 {
		t.Fatalf("unexpected partner stats %+v", pstats)
	}

	rec = doRequest(t, api, http.MethodGet, orderPath+"/events", nil, memory.SeedAdminID, domain.RoleAdmin)
	trail := decodeBody[struct {
		Items []domain.OrderEvent `json:"items"`
	}](t, rec)
	if len(trail.Items) != 4 {
		t.Fatalf("expected 4 events, got %d", len(trail.Items))
	}
}

func TestErrorMapping(t *testing.T) {
	api := newTestAPI(t)

	rec := doRequest(t, api, http.MethodGet, "/api/v1/orders/ord-missing", nil, memory.SeedAdminID, domain.RoleAdmin)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = doRequest(t, api, http.MethodPost, "/api/v1/subscriptions", domain.CreateSubscriptionRequest{
		Items:   []domain.SubscriptionItem{{ProductID: memory.SeedMilkID, Quantity: 0}},
		Cadence: domain.CadenceDaily,
	}, memory.SeedCustomerID, domain.RoleCustomer)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["kind"] != "validation" {
		t.Fatalf("expected validation kind, got %v", body["kind"])
	}

	rec = doRequest(t, api, http.MethodGet, "/api/v1/users/"+memory.SeedAdminID+"/orders", nil, memory.SeedCustomerID, domain.RoleCustomer)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	rec = doRequest(t, api, http.MethodGet, "/api/v1/stats/partners/"+memory.SeedPartnerID, nil, memory.SeedCustomerID, domain.RoleCustomer)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected role check 403, got %d", rec.Code)
	}
}

func TestStaleVersionIsRetryableConflict(t *testing.T) {
	api := newTestAPI(t)
	today := time.Now().UTC().Format(domain.DateLayout)

	doRequest(t, api, http.MethodPost, "/api/v1/subscriptions", domain.CreateSubscriptionRequest{
		Items:     []domain.SubscriptionItem{{ProductID: memory.SeedGheeID, Quantity: 1}},
		Cadence:   domain.CadenceWeekly,
		StartDate: today,
	}, memory.SeedCustomerID, domain.RoleCustomer)
	rec := doRequest(t, api, http.MethodPost, "/api/v1/fulfillment/runs", domain.FulfillmentRunRequest{Date: today}, memory.SeedAdminID, domain.RoleAdmin)
	summary := decodeBody[domain.BatchSummary](t, rec)
	if len(summary.GeneratedOrders) != 1 {
		t.Fatalf("expected one order, got %+v", summary)
	}
	orderPath := "/api/v1/orders/" + summary.GeneratedOrders[0] + "/status"

	stale := 1
	rec = doRequest(t, api, http.MethodPost, orderPath, domain.OrderStatusRequest{Status: domain.OrderStatusConfirmed, ExpectedVersion: &stale}, memory.SeedAdminID, domain.RoleAdmin)
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	rec = doRequest(t, api, http.MethodPost, orderPath, domain.OrderStatusRequest{Status: domain.OrderStatusCancelled, ExpectedVersion: &stale}, memory.SeedAdminID, domain.RoleAdmin)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["retryable"] != true || body["kind"] != "conflict" {
		t.Fatalf("expected retryable conflict, got %v", body)
	}

	rec = doRequest(t, api, http.MethodPost, orderPath, domain.OrderStatusRequest{Status: domain.OrderStatusPending}, memory.SeedAdminID, domain.RoleAdmin)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for invalid transition, got %d", rec.Code)
	}
	body = decodeBody[map[string]any](t, rec)
	if body["retryable"] != false || body["kind"] != "invalid_transition" {
		t.Fatalf("expected non-retryable invalid transition, got %v", body)
	}
}
