package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/storefront_backend/api"
	"github.com/mmdatafocus/storefront_backend/models"
	"github.com/mmdatafocus/storefront_backend/payment"
	"github.com/mmdatafocus/storefront_backend/testutil"
	"github.com/mmdatafocus/storefront_backend/utils"
	"github.com/mmdatafocus/storefront_backend/workflow"
	"gorm.io/gorm"
)

const webhookSecret = "whsec_test"

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type stubProcessor struct{ intents int }

func (p *stubProcessor) CreatePaymentIntent(_ context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	p.intents++
	id := fmt.Sprintf("pi_%d", p.intents)
	return &payment.Intent{ID: id, ClientSecret: id + "_secret", Amount: req.Amount, Currency: req.Currency}, nil
}

func (p *stubProcessor) Refund(_ context.Context, req payment.RefundRequest) (*payment.Refund, error) {
	return &payment.Refund{ID: "re_1", PaymentIntentId: req.PaymentIntentId, Status: "succeeded", Amount: req.Amount}, nil
}

type testServer struct {
	db      *gorm.DB
	router  *gin.Engine
	variant *models.Variant
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.OpenSQLite(t)
	testutil.SeedTenant(t, db, "t1")
	testutil.SeedTenant(t, db, "t2")
	testutil.SeedShippingMethod(t, db, "t1", "standard", 500, 0, true)
	variant := testutil.SeedVariant(t, db, "t1", "TEE", 1500, 2)

	lifecycle := workflow.NewOrderLifecycle(db, nil, &stubProcessor{})
	lifecycle.Now = func() time.Time { return fixedNow }
	h := &api.Handler{
		DB:               db,
		Lifecycle:        lifecycle,
		Webhooks:         workflow.NewPaymentWebhookHandler(db, nil, lifecycle),
		WebhookSecret:    webhookSecret,
		WebhookTolerance: 5 * time.Minute,
		Now:              func() time.Time { return fixedNow },
	}
	return &testServer{db: db, router: api.NewRouter(h), variant: variant}
}

func token(t *testing.T, userId int, tenantId string, role models.UserRole) string {
	t.Helper()
	tok, err := utils.JwtGenerate(userId, tenantId, string(role))
	if err != nil {
		t.Fatalf("JwtGenerate: %v", err)
	}
	return tok
}

func (s *testServer) do(t *testing.T, method, path, tok string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func (s *testServer) cart(qty int) map[string]any {
	return map[string]any{
		"lines": []map[string]any{{"variant_id": s.variant.ID, "quantity": qty}},
		"address": map[string]any{
			"name": "Ada", "line1": "1 Main St", "city": "Springfield", "country": "US",
		},
	}
}

func TestHealthzAndUnknownRoutes(t *testing.T) {
	s := newTestServer(t)
	if w := s.do(t, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusNoContent {
		t.Fatalf("healthz: %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/nope", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown route: %d", w.Code)
	}
}

func TestAuthIsRequired(t *testing.T) {
	s := newTestServer(t)
	if w := s.do(t, http.MethodPost, "/v1/quote", "", s.cart(1)); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/v1/quote", "not-a-jwt", s.cart(1)); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token, got %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/v1/quote", token(t, 1, "ghost", models.UserRoleCustomer), s.cart(1)); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown store, got %d", w.Code)
	}
}

func TestQuote(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/v1/quote", token(t, 5, "t1", models.UserRoleCustomer), s.cart(2))
	if w.Code != http.StatusOK {
		t.Fatalf("quote: %d %s", w.Code, w.Body.String())
	}
	q := decode(t, w)
	if q["subtotal"].(float64) != 3000 || q["shipping_amount"].(float64) != 500 || q["total"].(float64) != 3500 {
		t.Fatalf("unexpected quote: %v", q)
	}

	w = s.do(t, http.MethodPost, "/v1/quote", token(t, 5, "t1", models.UserRoleCustomer), map[string]any{"lines": []any{}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an empty cart, got %d", w.Code)
	}
}

func TestCheckoutFlow(t *testing.T) {
	s := newTestServer(t)
	customer := token(t, 5, "t1", models.UserRoleCustomer)

	w := s.do(t, http.MethodPost, "/v1/checkout", customer, s.cart(2), api.IdempotencyHeader, "cart-1")
	if w.Code != http.StatusCreated {
		t.Fatalf("checkout: %d %s", w.Code, w.Body.String())
	}
	first := decode(t, w)
	if first["client_secret"] != "pi_1_secret" || first["status"] != "pending" {
		t.Fatalf("unexpected checkout body: %v", first)
	}
	orderId := int(first["order_id"].(float64))

	w = s.do(t, http.MethodPost, "/v1/checkout", customer, s.cart(2), api.IdempotencyHeader, "cart-1")
	if w.Code != http.StatusOK || int(decode(t, w)["order_id"].(float64)) != orderId {
		t.Fatalf("expected replay of order %d, got %d %s", orderId, w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodPost, "/v1/checkout", customer, s.cart(1))
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 when stock is held, got %d", w.Code)
	}
	conflict := decode(t, w)
	if conflict["error"] != "insufficient_stock" || int(conflict["variant_id"].(float64)) != s.variant.ID {
		t.Fatalf("unexpected conflict body: %v", conflict)
	}

	w = s.do(t, http.MethodGet, "/v1/variants/availability?ids="+strconv.Itoa(s.variant.ID), customer, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("availability: %d", w.Code)
	}
	variants := decode(t, w)["variants"].([]any)
	if len(variants) != 1 || variants[0].(map[string]any)["available"].(float64) != 0 {
		t.Fatalf("unexpected availability: %v", variants)
	}

	orderPath := "/v1/orders/" + strconv.Itoa(orderId)
	if w := s.do(t, http.MethodGet, orderPath, customer, nil); w.Code != http.StatusOK {
		t.Fatalf("owner get: %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, orderPath, token(t, 6, "t1", models.UserRoleCustomer), nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected another customer to get 404, got %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, orderPath, token(t, 1, "t2", models.UserRoleAdmin), nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected another store to get 404, got %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, orderPath+"/refund", customer, nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected customers to be forbidden from refunds, got %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, orderPath+"/fulfill", token(t, 2, "t1", models.UserRoleStaff), nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 fulfilling a pending order, got %d", w.Code)
	}

	if w := s.do(t, http.MethodGet, orderPath+"/events", customer, nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected customers to be forbidden from outbox status, got %d", w.Code)
	}
	w = s.do(t, http.MethodGet, orderPath+"/events", token(t, 2, "t1", models.UserRoleStaff), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("events: %d %s", w.Code, w.Body.String())
	}
	events := decode(t, w)["events"].([]any)
	if len(events) != 1 || events[0].(map[string]any)["event_type"] != models.OrderEventTypeCreated {
		t.Fatalf("unexpected events: %v", events)
	}

	w = s.do(t, http.MethodPost, orderPath+"/cancel", customer, map[string]any{"reason": "too slow"})
	if w.Code != http.StatusOK || decode(t, w)["status"] != "cancelled" {
		t.Fatalf("cancel: %d %s", w.Code, w.Body.String())
	}
	w = s.do(t, http.MethodGet, orderPath+"/history", customer, nil)
	if w.Code != http.StatusOK || len(decode(t, w)["history"].([]any)) != 2 {
		t.Fatalf("history: %d %s", w.Code, w.Body.String())
	}
}

func TestPaymentWebhook(t *testing.T) {
	s := newTestServer(t)
	customer := token(t, 5, "t1", models.UserRoleCustomer)
	w := s.do(t, http.MethodPost, "/v1/checkout", customer, s.cart(1))
	if w.Code != http.StatusCreated {
		t.Fatalf("checkout: %d %s", w.Code, w.Body.String())
	}
	orderId := int(decode(t, w)["order_id"].(float64))

	payload := []byte(fmt.Sprintf(`{"id":"evt_1","type":%q,"data":{"object":{"id":"pi_1","object":"payment_intent","metadata":{"tenant_id":"t1","order_id":"%d"}}}}`,
		payment.EventPaymentSucceeded, orderId))
	send := func(signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(payload))
		req.Header.Set(payment.SignatureHeader, signature)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		return rec
	}

	if w := send(payment.Sign(payload, "wrong", fixedNow)); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad signature, got %d", w.Code)
	}
	if w := send(payment.Sign(payload, webhookSecret, fixedNow.Add(-time.Hour))); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a stale signature, got %d", w.Code)
	}
	if w := send(payment.Sign(payload, webhookSecret, fixedNow)); w.Code != http.StatusOK {
		t.Fatalf("webhook: %d %s", w.Code, w.Body.String())
	}
	if w := send(payment.Sign(payload, webhookSecret, fixedNow)); w.Code != http.StatusOK {
		t.Fatalf("redelivery: %d %s", w.Code, w.Body.String())
	}

	order, err := models.GetOrder(context.Background(), s.db, "t1", orderId)
	if err != nil || order.Status != models.OrderStatusPaid {
		t.Fatalf("expected paid order, got %+v %v", order, err)
	}
	v := testutil.ReloadVariant(t, s.db, s.variant.ID)
	if v.Stock != 1 || v.Reserved != 0 {
		t.Fatalf("unexpected ledger after payment: stock=%d reserved=%d", v.Stock, v.Reserved)
	}
}

func TestStaffStockAdjustment(t *testing.T) {
	s := newTestServer(t)
	path := "/v1/variants/" + strconv.Itoa(s.variant.ID) + "/adjust"

	if w := s.do(t, http.MethodPost, path, token(t, 5, "t1", models.UserRoleCustomer), map[string]any{"delta": 3}); w.Code != http.StatusForbidden {
		t.Fatalf("expected customers to be forbidden, got %d", w.Code)
	}
	w := s.do(t, http.MethodPost, path, token(t, 2, "t1", models.UserRoleStaff), map[string]any{"delta": 3, "reason": "restock"})
	if w.Code != http.StatusOK || decode(t, w)["stock"].(float64) != 5 {
		t.Fatalf("adjust: %d %s", w.Code, w.Body.String())
	}
	w = s.do(t, http.MethodPost, path, token(t, 2, "t1", models.UserRoleStaff), map[string]any{"delta": -10})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 below reserved, got %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, path, token(t, 1, "t2", models.UserRoleAdmin), map[string]any{"delta": 1}); w.Code != http.StatusNotFound {
		t.Fatalf("expected another store to get 404, got %d", w.Code)
	}
}
