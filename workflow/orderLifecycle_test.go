package workflow_test

import (
	"errors"
	"reflect"
	"strconv"
	"testing"
	"time"

	"github.com/mmdatafocus/storefront_backend/models"
	"github.com/mmdatafocus/storefront_backend/testutil"
	"github.com/mmdatafocus/storefront_backend/workflow"
)

func TestCheckout_HoldsStockAndRequestsIntent(t *testing.T) {
	s := newStore(t)

	res := s.checkout(t, "", line(s.shirt, 2), line(s.mug, 1))
	if res.Status != models.OrderStatusPending || res.ClientSecret != "pi_1_secret" || res.Replayed {
		t.Fatalf("unexpected checkout result: %+v", res)
	}
	// 4000 + 1000 subtotal, 500 shipping, 10% tax on goods.
	if res.Total != 6000 || res.Currency != "USD" {
		t.Fatalf("expected total 6000 USD, got %d %s", res.Total, res.Currency)
	}
	if res.ExpiresAt == nil || !res.ExpiresAt.Equal(s.clock.Now().Add(storeTTL)) {
		t.Fatalf("expected hold expiry at now+ttl, got %v", res.ExpiresAt)
	}
	s.assertLedger(t, s.shirt, 5, 2)
	s.assertLedger(t, s.mug, 3, 1)

	order := s.order(t, res.OrderId)
	if order.CustomerId != 42 || order.PaymentIntentId == nil || *order.PaymentIntentId != "pi_1" {
		t.Fatalf("unexpected order: %+v", order)
	}
	if len(order.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(order.Items))
	}
	for _, item := range order.Items {
		if item.ReservationId == "" {
			t.Fatalf("item %d has no reservation", item.ID)
		}
	}

	req := s.processor.intents[0]
	if req.Amount != 6000 || req.Metadata["tenant_id"] != "t1" || req.Metadata["order_id"] != strconv.Itoa(res.OrderId) {
		t.Fatalf("unexpected intent request: %+v", req)
	}
	if got := s.outboxTypes(t, res.OrderId); !reflect.DeepEqual(got, []string{models.OrderEventTypeCreated}) {
		t.Fatalf("expected order.created in outbox, got %v", got)
	}
}

func TestCheckout_InsufficientStockLeavesNoOrder(t *testing.T) {
	s := newStore(t)

	_, err := s.lifecycle.Checkout(s.ctx, s.settings, s.checkoutRequest("", line(s.shirt, 2), line(s.mug, 4)))
	var stockErr *models.InsufficientStockError
	if !errors.As(err, &stockErr) || stockErr.VariantId != s.mug.ID || stockErr.Available != 3 {
		t.Fatalf("expected insufficient stock on the mug, got %v", err)
	}

	var orders int64
	s.db.Model(&models.Order{}).Count(&orders)
	if orders != 0 {
		t.Fatalf("expected no order, found %d", orders)
	}
	s.assertLedger(t, s.shirt, 5, 0)
	s.assertLedger(t, s.mug, 3, 0)
	if s.processor.intentCount() != 0 {
		t.Fatalf("processor must not be called for a rejected cart")
	}
}

func TestCheckout_PausedStoreRejects(t *testing.T) {
	s := newStore(t)
	s.settings.Features[models.FeatureCheckoutPaused] = true

	if _, err := s.lifecycle.Checkout(s.ctx, s.settings, s.checkoutRequest("", line(s.shirt, 1))); !errors.Is(err, models.ErrCheckoutPaused) {
		t.Fatalf("expected ErrCheckoutPaused, got %v", err)
	}
	s.assertLedger(t, s.shirt, 5, 0)
}

func TestCheckout_ProcessorFailureKeepsPendingOrderAndHolds(t *testing.T) {
	s := newStore(t)
	s.processor.createErr = errProcessorDown

	_, err := s.lifecycle.Checkout(s.ctx, s.settings, s.checkoutRequest("cart-1", line(s.shirt, 1)))
	if !errors.Is(err, models.ErrProcessor) {
		t.Fatalf("expected processor error, got %v", err)
	}
	order, ferr := models.FindOrderByCheckoutKey(s.ctx, s.db, "t1", 42, "cart-1")
	if ferr != nil || order == nil {
		t.Fatalf("expected the pending order to survive, got %v %v", order, ferr)
	}
	if order.Status != models.OrderStatusPending || order.PaymentIntentId != nil {
		t.Fatalf("unexpected order after processor failure: %+v", order)
	}
	s.assertLedger(t, s.shirt, 5, 1)

	// The retry with the same key resumes the order instead of holding stock twice.
	s.processor.createErr = nil
	res, err := s.lifecycle.Checkout(s.ctx, s.settings, s.checkoutRequest("cart-1", line(s.shirt, 1)))
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.OrderId != order.ID || !res.Replayed || res.ClientSecret != "pi_1_secret" {
		t.Fatalf("unexpected retry result: %+v", res)
	}
	s.assertLedger(t, s.shirt, 5, 1)
}

func TestCheckout_ReplayedKeyReturnsSameOrder(t *testing.T) {
	s := newStore(t)

	first := s.checkout(t, "cart-7", line(s.mug, 2))
	second := s.checkout(t, "cart-7", line(s.mug, 2))
	if second.OrderId != first.OrderId || !second.Replayed || second.ClientSecret != first.ClientSecret {
		t.Fatalf("expected replay of order %d, got %+v", first.OrderId, second)
	}
	if s.processor.intentCount() != 1 {
		t.Fatalf("expected one payment intent, got %d", s.processor.intentCount())
	}
	s.assertLedger(t, s.mug, 3, 2)
}

func TestCheckout_KeyFromAnotherCustomerStartsNewOrder(t *testing.T) {
	s := newStore(t)

	first := s.checkout(t, "cart-1", line(s.mug, 2))

	req := s.checkoutRequest("cart-1", line(s.shirt, 1))
	req.CustomerId = 99
	other, err := s.lifecycle.Checkout(testutil.TenantContext("t1", 99, models.UserRoleCustomer), s.settings, req)
	if err != nil {
		t.Fatalf("Checkout for customer 99: %v", err)
	}
	if other.Replayed || other.OrderId == first.OrderId {
		t.Fatalf("customer 99 was handed order %d (replayed=%v)", other.OrderId, other.Replayed)
	}
	if other.ClientSecret == first.ClientSecret {
		t.Fatalf("customer 99 received customer 42's client secret %q", other.ClientSecret)
	}

	order := s.order(t, other.OrderId)
	if order.CustomerId != 99 || len(order.Items) != 1 || order.Items[0].VariantId != s.shirt.ID {
		t.Fatalf("expected a shirt order for customer 99, got customer=%d items=%+v", order.CustomerId, order.Items)
	}
	s.assertLedger(t, s.mug, 3, 2)
	s.assertLedger(t, s.shirt, 5, 1)

	// Each customer still replays their own key.
	again := s.checkout(t, "cart-1", line(s.mug, 2))
	if !again.Replayed || again.OrderId != first.OrderId {
		t.Fatalf("expected customer 42 to replay order %d, got %+v", first.OrderId, again)
	}
}

func TestConfirmPayment_ConsumesHoldsOnce(t *testing.T) {
	s := newStore(t)
	res := s.checkout(t, "", line(s.shirt, 2), line(s.mug, 1))

	order, err := s.lifecycle.ConfirmPayment(s.ctx, workflow.PaymentConfirmation{TenantId: "t1", OrderId: res.OrderId, PaymentIntentId: "pi_1"})
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if order.Status != models.OrderStatusPaid || order.PaidAt == nil {
		t.Fatalf("expected paid order, got %+v", order)
	}
	s.assertLedger(t, s.shirt, 3, 0)
	s.assertLedger(t, s.mug, 2, 0)

	again, err := s.lifecycle.ConfirmPayment(s.ctx, workflow.PaymentConfirmation{TenantId: "t1", OrderId: res.OrderId, PaymentIntentId: "pi_1"})
	if err != nil || again.Status != models.OrderStatusPaid {
		t.Fatalf("repeated confirmation should be a no-op, got %v %v", again, err)
	}
	s.assertLedger(t, s.shirt, 3, 0)

	if _, err := s.lifecycle.ConfirmPayment(s.ctx, workflow.PaymentConfirmation{TenantId: "t1", OrderId: res.OrderId, PaymentIntentId: "pi_other"}); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected mismatched intent to be rejected, got %v", err)
	}

	history, err := models.GetOrderHistory(s.ctx, s.db, "t1", res.OrderId)
	if err != nil {
		t.Fatalf("GetOrderHistory: %v", err)
	}
	if len(history) != 2 || history[0].Event != models.OrderEventCheckout || history[1].ToStatus != models.OrderStatusPaid {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestCancel_ReleasesHoldsAndRejectsLatePayment(t *testing.T) {
	s := newStore(t)
	res := s.checkout(t, "", line(s.shirt, 2))

	order, err := s.lifecycle.Cancel(s.ctx, "t1", res.OrderId, "changed my mind")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if order.Status != models.OrderStatusCancelled || order.CancelReason == nil || *order.CancelReason != "changed my mind" {
		t.Fatalf("unexpected cancelled order: %+v", order)
	}
	s.assertLedger(t, s.shirt, 5, 0)

	if _, err := s.lifecycle.Cancel(s.ctx, "t1", res.OrderId, ""); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected second cancel to be rejected, got %v", err)
	}

	_, err = s.lifecycle.ConfirmPayment(s.ctx, workflow.PaymentConfirmation{TenantId: "t1", OrderId: res.OrderId, PaymentIntentId: "pi_1"})
	if !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected payment after cancel to be rejected, got %v", err)
	}
	if got := s.order(t, res.OrderId).Status; got != models.OrderStatusCancelled {
		t.Fatalf("order must stay cancelled, got %s", got)
	}
	s.assertLedger(t, s.shirt, 5, 0)

	want := []string{models.OrderEventTypeCreated, "order.cancelled", models.OrderEventTypePaymentAfterCancel}
	if got := s.outboxTypes(t, res.OrderId); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected outbox %v, got %v", want, got)
	}
}

func TestPaymentFailed_CancelsPendingOrder(t *testing.T) {
	s := newStore(t)
	res := s.checkout(t, "", line(s.mug, 3))

	order, err := s.lifecycle.PaymentFailed(s.ctx, "t1", res.OrderId, "")
	if err != nil {
		t.Fatalf("PaymentFailed: %v", err)
	}
	if order.Status != models.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", order.Status)
	}
	s.assertLedger(t, s.mug, 3, 0)

	var r models.Reservation
	if err := s.db.Where("order_id = ?", res.OrderId).Take(&r).Error; err != nil {
		t.Fatalf("load reservation: %v", err)
	}
	if r.ReleaseReason == nil || *r.ReleaseReason != models.ReleaseReasonPaymentFailed {
		t.Fatalf("expected release reason payment_failed, got %v", r.ReleaseReason)
	}
}

func TestFulfillmentFlow(t *testing.T) {
	s := newStore(t)
	res := s.checkout(t, "", line(s.shirt, 1))
	staff := testutil.TenantContext("t1", 7, models.UserRoleStaff)

	if _, err := s.lifecycle.Fulfill(staff, "t1", res.OrderId); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected pending order to refuse fulfil, got %v", err)
	}
	if _, err := s.lifecycle.Ship(staff, "t1", res.OrderId, workflow.ShipmentInput{Carrier: "UPS", TrackingNumber: "1Z"}); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected pending order to refuse ship, got %v", err)
	}

	s.pay(t, res.OrderId)
	order, err := s.lifecycle.Fulfill(staff, "t1", res.OrderId)
	if err != nil || order.Status != models.OrderStatusFulfilled || order.FulfilledAt == nil {
		t.Fatalf("Fulfill: %+v %v", order, err)
	}
	if _, err := s.lifecycle.Refund(staff, "t1", res.OrderId); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected fulfilled order to refuse refund, got %v", err)
	}

	order, err = s.lifecycle.Ship(staff, "t1", res.OrderId, workflow.ShipmentInput{Carrier: "UPS", TrackingNumber: "1Z999"})
	if err != nil {
		t.Fatalf("Ship: %v", err)
	}
	stored := s.order(t, res.OrderId)
	if stored.Status != models.OrderStatusShipped || stored.TrackingNumber == nil || *stored.TrackingNumber != "1Z999" {
		t.Fatalf("unexpected shipped order: %+v", stored)
	}
	if order.Carrier == nil || *order.Carrier != "UPS" {
		t.Fatalf("carrier not returned: %+v", order)
	}

	history, _ := models.GetOrderHistory(s.ctx, s.db, "t1", res.OrderId)
	last := history[len(history)-1]
	if last.ActorId != 7 || last.ActorRole != string(models.UserRoleStaff) {
		t.Fatalf("expected staff actor on ship row, got %+v", last)
	}
	if len(s.processor.refunds) != 0 {
		t.Fatalf("no refund should have been issued")
	}
}

func TestRefund_ProcessorFirstThenTransition(t *testing.T) {
	s := newStore(t)
	res := s.checkout(t, "", line(s.shirt, 2))
	s.pay(t, res.OrderId)
	admin := testutil.TenantContext("t1", 1, models.UserRoleAdmin)

	s.processor.refundErr = errProcessorDown
	if _, err := s.lifecycle.Refund(admin, "t1", res.OrderId); !errors.Is(err, models.ErrProcessor) {
		t.Fatalf("expected processor error, got %v", err)
	}
	if got := s.order(t, res.OrderId).Status; got != models.OrderStatusPaid {
		t.Fatalf("failed refund must leave the order paid, got %s", got)
	}

	s.processor.refundErr = nil
	order, err := s.lifecycle.Refund(admin, "t1", res.OrderId)
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if order.Status != models.OrderStatusRefunded || order.RefundId == nil || *order.RefundId != "re_1" {
		t.Fatalf("unexpected refunded order: %+v", order)
	}
	req := s.processor.refunds[0]
	if req.PaymentIntentId != "pi_1" || req.Amount != res.Total {
		t.Fatalf("unexpected refund request: %+v", req)
	}
	// Refunds do not restock.
	s.assertLedger(t, s.shirt, 3, 0)

	if _, err := s.lifecycle.Refund(admin, "t1", res.OrderId); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected second refund to be rejected, got %v", err)
	}
	if len(s.processor.refunds) != 1 {
		t.Fatalf("expected one processor refund, got %d", len(s.processor.refunds))
	}
}

func TestExtendReservations(t *testing.T) {
	s := newStore(t)
	res := s.checkout(t, "", line(s.shirt, 1), line(s.mug, 1))

	s.clock.Advance(20 * time.Minute)
	expiresAt, err := s.lifecycle.ExtendReservations(s.ctx, "t1", res.OrderId)
	if err != nil {
		t.Fatalf("ExtendReservations: %v", err)
	}
	if !expiresAt.Equal(s.clock.Now().Add(storeTTL)) {
		t.Fatalf("expected new expiry now+ttl, got %s", expiresAt)
	}
	reservations, _ := models.GetOrderReservations(s.ctx, s.db, res.OrderId)
	for _, r := range reservations {
		if !r.ExpiresAt.Equal(expiresAt) {
			t.Fatalf("reservation %s not extended: %s", r.ID, r.ExpiresAt)
		}
	}

	s.clock.Advance(storeTTL + time.Minute)
	if _, err := s.lifecycle.ExtendReservations(s.ctx, "t1", res.OrderId); !errors.Is(err, models.ErrReservationSettled) {
		t.Fatalf("expected an expired hold to refuse extension, got %v", err)
	}

	s.pay(t, res.OrderId)
	if _, err := s.lifecycle.ExtendReservations(s.ctx, "t1", res.OrderId); !errors.Is(err, models.ErrReservationSettled) {
		t.Fatalf("expected a paid order to refuse extension, got %v", err)
	}
}

func TestOrdersAreTenantScoped(t *testing.T) {
	s := newStore(t)
	res := s.checkout(t, "", line(s.shirt, 1))
	testutil.SeedTenant(t, s.db, "t2")
	other := testutil.TenantContext("t2", 9, models.UserRoleAdmin)

	if _, err := s.lifecycle.Cancel(other, "t2", res.OrderId, ""); !models.IsNotFound(err) {
		t.Fatalf("expected another tenant to get not found, got %v", err)
	}
	if _, err := models.GetOrder(other, s.db, "t2", res.OrderId); !models.IsNotFound(err) {
		t.Fatalf("expected GetOrder across tenants to be not found, got %v", err)
	}
	s.assertLedger(t, s.shirt, 5, 1)
}
