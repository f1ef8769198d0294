package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestClient_CreatePaymentIntent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payment_intents" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk_test" || r.Header.Get("Idempotency-Key") != "order-t1-5" {
			t.Errorf("unexpected headers: %v", r.Header)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if r.PostForm.Get("amount") != "6000" || r.PostForm.Get("currency") != "usd" || r.PostForm.Get("metadata[order_id]") != "5" {
			t.Errorf("unexpected form: %v", r.PostForm)
		}
		_ = json.NewEncoder(w).Encode(Intent{ID: "pi_1", ClientSecret: "pi_1_secret", Status: "requires_payment_method", Amount: 6000, Currency: "usd"})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "sk_test", time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	intent, err := c.CreatePaymentIntent(context.Background(), IntentRequest{
		Amount:         6000,
		Currency:       "USD",
		Metadata:       map[string]string{"tenant_id": "t1", "order_id": "5"},
		IdempotencyKey: "order-t1-5",
	})
	if err != nil {
		t.Fatalf("CreatePaymentIntent: %v", err)
	}
	if intent.ID != "pi_1" || intent.ClientSecret != "pi_1_secret" {
		t.Fatalf("unexpected intent: %+v", intent)
	}
}

func TestClient_RefundSurfacesAPIErrors(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusServiceUnavailable)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if code := int(status.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			_, _ = w.Write([]byte(`{"error":{"message":"try later"}}`))
			return
		}
		_ = r.ParseForm()
		_ = json.NewEncoder(w).Encode(Refund{ID: "re_1", PaymentIntentId: r.PostForm.Get("payment_intent"), Status: "succeeded", Amount: 100})
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, "sk_test", time.Second)
	_, err := c.Refund(context.Background(), RefundRequest{PaymentIntentId: "pi_1", Amount: 100})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusServiceUnavailable || !apiErr.Retryable() {
		t.Fatalf("expected retryable APIError, got %v", err)
	}

	status.Store(http.StatusBadRequest)
	_, err = c.Refund(context.Background(), RefundRequest{PaymentIntentId: "pi_1"})
	if !errors.As(err, &apiErr) || apiErr.Retryable() {
		t.Fatalf("expected non-retryable APIError, got %v", err)
	}

	status.Store(http.StatusOK)
	refund, err := c.Refund(context.Background(), RefundRequest{PaymentIntentId: "pi_1", Amount: 100})
	if err != nil || refund.ID != "re_1" || refund.PaymentIntentId != "pi_1" {
		t.Fatalf("unexpected refund: %+v %v", refund, err)
	}
}

func TestNewClient_RequiresKey(t *testing.T) {
	if _, err := NewClient("", " ", 0); err == nil {
		t.Fatalf("expected an empty api key to be rejected")
	}
	c, err := NewClient("", "sk_test", 0)
	if err != nil || c.baseURL != "https://api.stripe.com" || c.http.Timeout != 30*time.Second {
		t.Fatalf("unexpected defaults: %+v %v", c, err)
	}
}
