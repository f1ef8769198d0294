package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mmdatafocus/storefront_backend/config"
	"github.com/mmdatafocus/storefront_backend/models"
	"github.com/mmdatafocus/storefront_backend/payment"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// OrderLifecycle owns every order status change. Handlers and workers call it rather than
// writing order or reservation rows themselves.
type OrderLifecycle struct {
	DB             *gorm.DB
	Logger         *logrus.Logger
	Processor      payment.Processor
	ReservationTTL time.Duration
	Now            func() time.Time
}

func NewOrderLifecycle(db *gorm.DB, logger *logrus.Logger, processor payment.Processor) *OrderLifecycle {
	return &OrderLifecycle{
		DB:             db,
		Logger:         logger,
		Processor:      processor,
		ReservationTTL: config.ReservationTTL(),
	}
}

func (l *OrderLifecycle) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *OrderLifecycle) ttl() time.Duration {
	if l.ReservationTTL > 0 {
		return l.ReservationTTL
	}
	return 30 * time.Minute
}

type CheckoutRequest struct {
	models.QuoteInput
	CustomerId     int
	IdempotencyKey string
}

type CheckoutResult struct {
	OrderId      int                `json:"order_id"`
	ClientSecret string             `json:"client_secret,omitempty"`
	Status       models.OrderStatus `json:"status"`
	Total        int64              `json:"total"`
	Currency     string             `json:"currency"`
	ExpiresAt    *time.Time         `json:"expires_at,omitempty"`
	Replayed     bool               `json:"replayed"`
}

// Checkout prices the cart, creates a pending order holding every line's stock, and
// asks the processor for a payment intent. Stock is held before any money moves; a
// failed reservation leaves no order behind. A processor failure leaves the order
// pending with its holds until payment succeeds, the customer cancels, or the sweeper
// reclaims it.
func (l *OrderLifecycle) Checkout(ctx context.Context, settings *models.TenantSettings, req CheckoutRequest) (res *CheckoutResult, err error) {
	if settings == nil || settings.TenantId == "" {
		return nil, models.ErrTenantRequired
	}
	ctx, span := tracer.Start(ctx, "OrderLifecycle.Checkout", trace.WithAttributes(
		attribute.String("tenant_id", settings.TenantId),
		attribute.Int("lines", len(req.Lines)),
	))
	defer func() { endSpan(span, err) }()

	if settings.FeatureEnabled(models.FeatureCheckoutPaused) {
		return nil, models.ErrCheckoutPaused
	}
	tenantId := settings.TenantId

	if req.IdempotencyKey != "" {
		existing, err := models.FindOrderByCheckoutKey(ctx, l.DB, tenantId, req.CustomerId, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return l.resumeCheckout(ctx, existing)
		}
	}

	quote, err := models.ComputeQuote(ctx, l.DB, settings, req.QuoteInput)
	if err != nil {
		return nil, err
	}

	now := l.now()
	expiresAt := now.Add(l.ttl())
	order := &models.Order{
		TenantId:           tenantId,
		CustomerId:         req.CustomerId,
		Status:             models.OrderStatusPending,
		Currency:           quote.Currency,
		Subtotal:           quote.Subtotal,
		ShippingAmount:     quote.ShippingAmount,
		TaxAmount:          quote.TaxAmount,
		Total:              quote.Total,
		ShippingMethodCode: quote.ShippingMethod,
		ShippingAddress:    req.Address,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		order.CheckoutKey = &key
	}

	err = l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Items").Create(order).Error; err != nil {
			return err
		}
		reservations, err := models.ReserveAll(ctx, tx, tenantId, quote.ReserveLines(), &order.ID, now, l.ttl())
		if err != nil {
			return err
		}
		byVariant := make(map[int]string, len(reservations))
		for _, r := range reservations {
			byVariant[r.VariantId] = r.ID
		}
		items := make([]*models.OrderItem, 0, len(quote.Lines))
		for _, line := range quote.Lines {
			items = append(items, &models.OrderItem{
				TenantId:      tenantId,
				OrderId:       order.ID,
				VariantId:     line.VariantId,
				Sku:           line.Sku,
				Name:          line.Name,
				Quantity:      line.Quantity,
				UnitPrice:     line.UnitPrice,
				LineTotal:     line.LineTotal,
				ReservationId: byVariant[line.VariantId],
			})
		}
		if err := tx.Create(&items).Error; err != nil {
			return err
		}
		order.Items = items
		return models.RecordOrderCreated(tx, order, ActorFromContext(ctx), now)
	})
	if err != nil {
		if req.IdempotencyKey != "" && isDuplicateKeyErr(err) {
			existing, ferr := models.FindOrderByCheckoutKey(ctx, l.DB, tenantId, req.CustomerId, req.IdempotencyKey)
			if ferr == nil && existing != nil {
				return l.resumeCheckout(ctx, existing)
			}
		}
		return nil, err
	}

	if l.Logger != nil {
		l.Logger.WithFields(logrus.Fields{
			"field":     "Checkout",
			"tenant_id": tenantId,
			"order_id":  order.ID,
			"total":     order.Total,
		}).Info("order created with reservations")
	}

	result, err := l.requestPaymentIntent(ctx, order)
	if result != nil {
		result.ExpiresAt = &expiresAt
	}
	return result, err
}

// resumeCheckout answers a retried checkout with the order the first attempt created.
func (l *OrderLifecycle) resumeCheckout(ctx context.Context, order *models.Order) (*CheckoutResult, error) {
	if order.Status != models.OrderStatusPending || order.PaymentClientSecret != nil {
		result := checkoutResult(order)
		result.Replayed = true
		return result, nil
	}
	result, err := l.requestPaymentIntent(ctx, order)
	if result != nil {
		result.Replayed = true
	}
	return result, err
}

func checkoutResult(order *models.Order) *CheckoutResult {
	result := &CheckoutResult{
		OrderId:  order.ID,
		Status:   order.Status,
		Total:    order.Total,
		Currency: order.Currency,
	}
	if order.Status == models.OrderStatusPending && order.PaymentClientSecret != nil {
		result.ClientSecret = *order.PaymentClientSecret
	}
	return result
}

func (l *OrderLifecycle) requestPaymentIntent(ctx context.Context, order *models.Order) (*CheckoutResult, error) {
	if l.Processor == nil {
		return nil, &models.ProcessorError{Op: "create_payment_intent", Err: errors.New("no payment processor configured")}
	}
	intent, err := l.Processor.CreatePaymentIntent(ctx, payment.IntentRequest{
		Amount:   order.Total,
		Currency: order.Currency,
		Metadata: map[string]string{
			"tenant_id": order.TenantId,
			"order_id":  strconv.Itoa(order.ID),
		},
		IdempotencyKey: fmt.Sprintf("order-%s-%d", order.TenantId, order.ID),
	})
	if err != nil {
		config.LogError(l.Logger, "OrderLifecycle", "requestPaymentIntent", "create payment intent", order.ID, err)
		return nil, &models.ProcessorError{Op: "create_payment_intent", Err: err}
	}

	if err := l.DB.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND tenant_id = ? AND payment_intent_id IS NULL", order.ID, order.TenantId).
		Updates(map[string]interface{}{
			"payment_intent_id":     intent.ID,
			"payment_client_secret": intent.ClientSecret,
		}).Error; err != nil {
		return nil, err
	}
	order.PaymentIntentId = &intent.ID
	order.PaymentClientSecret = &intent.ClientSecret

	result := checkoutResult(order)
	result.ClientSecret = intent.ClientSecret
	return result, nil
}

type PaymentConfirmation struct {
	TenantId        string
	OrderId         int
	PaymentIntentId string
}

// ConfirmPayment consumes the order's reservations and marks it paid. A repeated
// confirmation for an order that already captured payment is a no-op. A confirmation
// for a cancelled order is recorded as an order.payment_after_cancel event for manual
// follow-up and rejected.
func (l *OrderLifecycle) ConfirmPayment(ctx context.Context, c PaymentConfirmation) (order *models.Order, err error) {
	ctx, span := tracer.Start(ctx, "OrderLifecycle.ConfirmPayment", trace.WithAttributes(
		attribute.String("tenant_id", c.TenantId),
		attribute.Int("order_id", c.OrderId),
	))
	defer func() { endSpan(span, err) }()

	now := l.now()
	afterCancel := false
	err = l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := models.LockOrder(tx, c.TenantId, c.OrderId)
		if err != nil {
			return err
		}
		order = o
		if c.PaymentIntentId != "" && o.PaymentIntentId != nil && *o.PaymentIntentId != c.PaymentIntentId {
			return fmt.Errorf("%w: order %d is bound to payment intent %s, got %s", models.ErrInvalidInput, o.ID, *o.PaymentIntentId, c.PaymentIntentId)
		}
		if o.Status.HasCapturedPayment() {
			return nil
		}
		if o.Status == models.OrderStatusCancelled {
			afterCancel = true
			return models.EnqueueOrderEvent(tx, o, models.OrderEventTypePaymentAfterCancel, now)
		}

		reservations, err := models.GetOrderReservations(ctx, tx, o.ID)
		if err != nil {
			return err
		}
		for _, r := range reservations {
			switch r.Status {
			case models.ReservationStatusReleased:
				return fmt.Errorf("%w: reservation %s of order %d was released", models.ErrReservationSettled, r.ID, o.ID)
			case models.ReservationStatusPending:
				if _, err := models.Consume(ctx, tx, r.ID, now); err != nil {
					return err
				}
			}
		}

		fields := map[string]interface{}{}
		if o.PaymentIntentId == nil && c.PaymentIntentId != "" {
			intentId := c.PaymentIntentId
			fields["payment_intent_id"] = intentId
			o.PaymentIntentId = &intentId
		}
		return models.TransitionOrder(tx, o, models.TransitionChange{
			Event:  models.OrderEventPaymentConfirmed,
			Actor:  models.SystemActor,
			Fields: fields,
		}, now)
	})
	if err != nil {
		return nil, err
	}
	if afterCancel {
		if l.Logger != nil {
			l.Logger.WithFields(logrus.Fields{
				"field":             "ConfirmPayment",
				"tenant_id":         c.TenantId,
				"order_id":          c.OrderId,
				"payment_intent_id": c.PaymentIntentId,
			}).Warn("payment confirmed for a cancelled order; needs refund review")
		}
		return order, &models.InvalidTransitionError{OrderId: order.ID, From: order.Status, Event: models.OrderEventPaymentConfirmed}
	}
	return order, nil
}

// Cancel is the customer or staff initiated cancellation of a pending order.
func (l *OrderLifecycle) Cancel(ctx context.Context, tenantId string, orderId int, reason string) (*models.Order, error) {
	if reason == "" {
		reason = "cancelled"
	}
	return l.cancelPending(ctx, tenantId, orderId, models.OrderEventCancel, models.ReleaseReasonCancelled, reason, ActorFromContext(ctx))
}

// PaymentFailed cancels a pending order whose payment was declined or abandoned.
func (l *OrderLifecycle) PaymentFailed(ctx context.Context, tenantId string, orderId int, reason string) (*models.Order, error) {
	if reason == "" {
		reason = "payment_failed"
	}
	return l.cancelPending(ctx, tenantId, orderId, models.OrderEventPaymentFailed, models.ReleaseReasonPaymentFailed, reason, models.SystemActor)
}

func (l *OrderLifecycle) cancelPending(ctx context.Context, tenantId string, orderId int, event models.OrderEvent, releaseReason models.ReleaseReason, reason string, actor models.Actor) (order *models.Order, err error) {
	ctx, span := tracer.Start(ctx, "OrderLifecycle.cancelPending", trace.WithAttributes(
		attribute.String("tenant_id", tenantId),
		attribute.Int("order_id", orderId),
		attribute.String("event", string(event)),
	))
	defer func() { endSpan(span, err) }()

	now := l.now()
	err = l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := models.LockOrder(tx, tenantId, orderId)
		if err != nil {
			return err
		}
		order = o
		if _, err := models.NextOrderStatus(o.ID, o.Status, event); err != nil {
			return err
		}
		if err := l.releaseOrderReservations(ctx, tx, o.ID, releaseReason, now); err != nil {
			return err
		}
		return models.TransitionOrder(tx, o, models.TransitionChange{
			Event:  event,
			Actor:  actor,
			Note:   reason,
			Fields: map[string]interface{}{"cancel_reason": reason},
		}, now)
	})
	if err != nil {
		return nil, err
	}
	order.CancelReason = &reason
	return order, nil
}

func (l *OrderLifecycle) releaseOrderReservations(ctx context.Context, tx *gorm.DB, orderId int, reason models.ReleaseReason, now time.Time) error {
	reservations, err := models.GetOrderReservations(ctx, tx, orderId)
	if err != nil {
		return err
	}
	for _, r := range reservations {
		if r.Status != models.ReservationStatusPending {
			continue
		}
		if _, err := models.Release(ctx, tx, r.ID, reason, now); err != nil {
			return err
		}
	}
	return nil
}

// CancelExpired is the sweeper's entry point. It cancels a still-pending order once any of
// its holds has passed expiry, releasing every remaining hold of that order. It returns
// false without error when the order was paid, cancelled, or extended in the meantime.
func (l *OrderLifecycle) CancelExpired(ctx context.Context, tenantId string, orderId int) (cancelled bool, err error) {
	ctx, span := tracer.Start(ctx, "OrderLifecycle.CancelExpired", trace.WithAttributes(
		attribute.String("tenant_id", tenantId),
		attribute.Int("order_id", orderId),
	))
	defer func() { endSpan(span, err) }()

	now := l.now()
	err = l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := models.LockOrder(tx, tenantId, orderId)
		if err != nil {
			return err
		}
		if o.Status != models.OrderStatusPending {
			return nil
		}
		reservations, err := models.GetOrderReservations(ctx, tx, o.ID)
		if err != nil {
			return err
		}
		expired := false
		for _, r := range reservations {
			if r.Status == models.ReservationStatusPending && !r.ExpiresAt.After(now) {
				expired = true
				break
			}
		}
		if !expired {
			return nil
		}
		if err := l.releaseOrderReservations(ctx, tx, o.ID, models.ReleaseReasonExpired, now); err != nil {
			return err
		}
		if err := models.TransitionOrder(tx, o, models.TransitionChange{
			Event:  models.OrderEventExpire,
			Actor:  models.SystemActor,
			Note:   "reservation expired",
			Fields: map[string]interface{}{"cancel_reason": "reservation_expired"},
		}, now); err != nil {
			return err
		}
		cancelled = true
		return nil
	})
	return cancelled, err
}

// ExtendReservations pushes every pending hold of a pending order to now + TTL.
func (l *OrderLifecycle) ExtendReservations(ctx context.Context, tenantId string, orderId int) (expiresAt time.Time, err error) {
	ctx, span := tracer.Start(ctx, "OrderLifecycle.ExtendReservations", trace.WithAttributes(
		attribute.String("tenant_id", tenantId),
		attribute.Int("order_id", orderId),
	))
	defer func() { endSpan(span, err) }()

	now := l.now()
	expiresAt = now.Add(l.ttl())
	err = l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := models.LockOrder(tx, tenantId, orderId)
		if err != nil {
			return err
		}
		if o.Status != models.OrderStatusPending {
			return fmt.Errorf("%w: order %d is %s", models.ErrReservationSettled, o.ID, o.Status)
		}
		reservations, err := models.GetOrderReservations(ctx, tx, o.ID)
		if err != nil {
			return err
		}
		for _, r := range reservations {
			if r.Status != models.ReservationStatusPending {
				continue
			}
			// An already expired hold is left for the sweeper; the customer must check out again.
			if !r.ExpiresAt.After(now) {
				return fmt.Errorf("%w: reservation %s expired at %s", models.ErrReservationSettled, r.ID, r.ExpiresAt.Format(time.RFC3339))
			}
			if _, err := models.Extend(ctx, tx, r.ID, expiresAt); err != nil {
				return err
			}
		}
		return nil
	})
	return expiresAt, err
}

// Fulfill marks a paid order as picked and packed.
func (l *OrderLifecycle) Fulfill(ctx context.Context, tenantId string, orderId int) (*models.Order, error) {
	return l.simpleTransition(ctx, tenantId, orderId, models.TransitionChange{
		Event: models.OrderEventFulfill,
		Actor: ActorFromContext(ctx),
	})
}

type ShipmentInput struct {
	Carrier        string `json:"carrier" binding:"required,max=100"`
	TrackingNumber string `json:"tracking_number" binding:"required,max=100"`
}

// Ship records the carrier handoff of a fulfilled order.
func (l *OrderLifecycle) Ship(ctx context.Context, tenantId string, orderId int, input ShipmentInput) (*models.Order, error) {
	order, err := l.simpleTransition(ctx, tenantId, orderId, models.TransitionChange{
		Event: models.OrderEventShip,
		Actor: ActorFromContext(ctx),
		Fields: map[string]interface{}{
			"carrier":         input.Carrier,
			"tracking_number": input.TrackingNumber,
		},
	})
	if err != nil {
		return nil, err
	}
	order.Carrier = &input.Carrier
	order.TrackingNumber = &input.TrackingNumber
	return order, nil
}

func (l *OrderLifecycle) simpleTransition(ctx context.Context, tenantId string, orderId int, change models.TransitionChange) (order *models.Order, err error) {
	ctx, span := tracer.Start(ctx, "OrderLifecycle."+string(change.Event), trace.WithAttributes(
		attribute.String("tenant_id", tenantId),
		attribute.Int("order_id", orderId),
	))
	defer func() { endSpan(span, err) }()

	now := l.now()
	err = l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := models.LockOrder(tx, tenantId, orderId)
		if err != nil {
			return err
		}
		order = o
		return models.TransitionOrder(tx, o, change, now)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// Refund returns the captured amount through the processor and only then moves the
// order to refunded. Stock is not put back; restocking is a separate stock adjustment.
func (l *OrderLifecycle) Refund(ctx context.Context, tenantId string, orderId int) (order *models.Order, err error) {
	ctx, span := tracer.Start(ctx, "OrderLifecycle.Refund", trace.WithAttributes(
		attribute.String("tenant_id", tenantId),
		attribute.Int("order_id", orderId),
	))
	defer func() { endSpan(span, err) }()

	current, err := models.GetOrder(ctx, l.DB, tenantId, orderId)
	if err != nil {
		return nil, err
	}
	if _, err := models.NextOrderStatus(current.ID, current.Status, models.OrderEventRefund); err != nil {
		return nil, err
	}
	if current.PaymentIntentId == nil || *current.PaymentIntentId == "" {
		return nil, fmt.Errorf("%w: %d", models.ErrPaymentIntentMissing, current.ID)
	}
	if l.Processor == nil {
		return nil, &models.ProcessorError{Op: "refund", Err: errors.New("no payment processor configured")}
	}

	refund, err := l.Processor.Refund(ctx, payment.RefundRequest{
		PaymentIntentId: *current.PaymentIntentId,
		Amount:          current.Total,
		IdempotencyKey:  fmt.Sprintf("refund-%s-%d", tenantId, orderId),
	})
	if err != nil {
		config.LogError(l.Logger, "OrderLifecycle", "Refund", "processor refund", orderId, err)
		return nil, &models.ProcessorError{Op: "refund", Err: err}
	}

	order, err = l.simpleTransition(ctx, tenantId, orderId, models.TransitionChange{
		Event:  models.OrderEventRefund,
		Actor:  ActorFromContext(ctx),
		Fields: map[string]interface{}{"refund_id": refund.ID},
	})
	if err != nil {
		// Money has moved but the order did not; surface loudly for reconciliation.
		config.LogError(l.Logger, "OrderLifecycle", "Refund", "transition after processor refund", map[string]interface{}{
			"order_id":  orderId,
			"refund_id": refund.ID,
		}, err)
		return nil, err
	}
	order.RefundId = &refund.ID
	return order, nil
}
