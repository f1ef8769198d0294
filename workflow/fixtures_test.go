package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/storefront_backend/models"
	"github.com/mmdatafocus/storefront_backend/payment"
	"github.com/mmdatafocus/storefront_backend/testutil"
	"github.com/mmdatafocus/storefront_backend/workflow"
	"gorm.io/gorm"
)

var errProcessorDown = errors.New("processor unavailable")

// fakeProcessor hands out sequential intent and refund ids.
type fakeProcessor struct {
	mu        sync.Mutex
	intents   []payment.IntentRequest
	refunds   []payment.RefundRequest
	createErr error
	refundErr error
}

func (p *fakeProcessor) CreatePaymentIntent(_ context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.intents = append(p.intents, req)
	n := len(p.intents)
	return &payment.Intent{
		ID:           fmt.Sprintf("pi_%d", n),
		ClientSecret: fmt.Sprintf("pi_%d_secret", n),
		Status:       "requires_payment_method",
		Amount:       req.Amount,
		Currency:     req.Currency,
	}, nil
}

func (p *fakeProcessor) Refund(_ context.Context, req payment.RefundRequest) (*payment.Refund, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refundErr != nil {
		return nil, p.refundErr
	}
	p.refunds = append(p.refunds, req)
	return &payment.Refund{
		ID:              fmt.Sprintf("re_%d", len(p.refunds)),
		PaymentIntentId: req.PaymentIntentId,
		Status:          "succeeded",
		Amount:          req.Amount,
	}, nil
}

func (p *fakeProcessor) intentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.intents)
}

// clock is a settable time source shared by the lifecycle and the workers.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const storeTTL = 30 * time.Minute

type store struct {
	db        *gorm.DB
	lifecycle *workflow.OrderLifecycle
	processor *fakeProcessor
	clock     *clock
	settings  *models.TenantSettings
	ctx       context.Context
	shirt     *models.Variant
	mug       *models.Variant
}

// newStore seeds tenant t1 with two variants and a flat shipping method, and
// returns a lifecycle whose clock starts at 2026-03-01 12:00 UTC.
func newStore(t *testing.T) *store {
	t.Helper()
	db := testutil.OpenSQLite(t)
	testutil.SeedTenant(t, db, "t1", testutil.WithTaxRate("0.1"))
	testutil.SeedShippingMethod(t, db, "t1", "standard", 500, 0, true)
	s := &store{
		db:        db,
		processor: &fakeProcessor{},
		clock:     &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		ctx:       testutil.TenantContext("t1", 42, models.UserRoleCustomer),
		shirt:     testutil.SeedVariant(t, db, "t1", "SHIRT-M", 2000, 5),
		mug:       testutil.SeedVariant(t, db, "t1", "MUG", 1000, 3),
	}
	s.lifecycle = workflow.NewOrderLifecycle(db, nil, s.processor)
	s.lifecycle.ReservationTTL = storeTTL
	s.lifecycle.Now = s.clock.Now

	settings, err := models.LoadTenantSettings(context.Background(), db, "t1")
	if err != nil {
		t.Fatalf("LoadTenantSettings: %v", err)
	}
	s.settings = settings
	return s
}

func (s *store) checkoutRequest(key string, lines ...models.CartLine) workflow.CheckoutRequest {
	return workflow.CheckoutRequest{
		QuoteInput: models.QuoteInput{
			Lines:   lines,
			Address: testutil.DefaultAddress(),
		},
		CustomerId:     42,
		IdempotencyKey: key,
	}
}

func (s *store) checkout(t *testing.T, key string, lines ...models.CartLine) *workflow.CheckoutResult {
	t.Helper()
	res, err := s.lifecycle.Checkout(s.ctx, s.settings, s.checkoutRequest(key, lines...))
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	return res
}

func (s *store) pay(t *testing.T, orderId int) *models.Order {
	t.Helper()
	order, err := s.lifecycle.ConfirmPayment(s.ctx, workflow.PaymentConfirmation{TenantId: "t1", OrderId: orderId})
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	return order
}

func (s *store) order(t *testing.T, id int) *models.Order {
	t.Helper()
	o, err := models.GetOrder(context.Background(), s.db, "t1", id)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	return o
}

func (s *store) assertLedger(t *testing.T, v *models.Variant, stock, reserved int) {
	t.Helper()
	got := testutil.ReloadVariant(t, s.db, v.ID)
	if got.Stock != stock || got.Reserved != reserved {
		t.Fatalf("%s: expected stock=%d reserved=%d, got stock=%d reserved=%d",
			got.Sku, stock, reserved, got.Stock, got.Reserved)
	}
	if pending := testutil.PendingSum(t, s.db, v.ID); pending != got.Reserved {
		t.Fatalf("%s: reserved %d does not match pending holds %d", got.Sku, got.Reserved, pending)
	}
}

func (s *store) outboxTypes(t *testing.T, orderId int) []string {
	t.Helper()
	var rows []models.OrderEventRecord
	if err := s.db.Where("order_id = ?", orderId).Order("id ASC").Find(&rows).Error; err != nil {
		t.Fatalf("load outbox: %v", err)
	}
	types := make([]string, 0, len(rows))
	for _, r := range rows {
		types = append(types, r.EventType)
	}
	return types
}

func line(v *models.Variant, qty int) models.CartLine {
	return models.CartLine{VariantId: v.ID, Quantity: qty}
}
