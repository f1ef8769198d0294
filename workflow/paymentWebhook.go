package workflow

import (
	"context"
	"errors"

	"github.com/mmdatafocus/storefront_backend/config"
	"github.com/mmdatafocus/storefront_backend/models"
	"github.com/mmdatafocus/storefront_backend/payment"
	"github.com/mmdatafocus/storefront_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const paymentWebhookHandlerName = "payment_webhook"

// PaymentWebhookHandler applies processor events to orders exactly once per event id.
type PaymentWebhookHandler struct {
	DB        *gorm.DB
	Logger    *logrus.Logger
	Lifecycle *OrderLifecycle
}

func NewPaymentWebhookHandler(db *gorm.DB, logger *logrus.Logger, lifecycle *OrderLifecycle) *PaymentWebhookHandler {
	return &PaymentWebhookHandler{DB: db, Logger: logger, Lifecycle: lifecycle}
}

// Handle returns an error only when the sender should redeliver the event.
func (h *PaymentWebhookHandler) Handle(ctx context.Context, evt *payment.Event) error {
	switch evt.Type {
	case payment.EventPaymentSucceeded, payment.EventPaymentFailed, payment.EventPaymentCanceled:
	default:
		h.log(evt, "", 0).Debug("ignoring unhandled payment event type")
		return nil
	}

	tenantId, orderId, err := evt.OrderRef()
	if err != nil {
		h.log(evt, "", 0).Warn(err.Error())
		return nil
	}
	ctx = utils.SetTenantIdInContext(ctx, tenantId)
	db := h.DB.WithContext(ctx)

	skip, err := BeginIdempotency(db, tenantId, paymentWebhookHandlerName, evt.ID)
	if err != nil {
		return err
	}
	if skip {
		h.log(evt, tenantId, orderId).Info("duplicate payment event skipped")
		return nil
	}

	applyErr := h.apply(ctx, evt, tenantId, orderId)
	if applyErr != nil && !isSettledWebhookErr(applyErr) {
		if markErr := MarkIdempotencyFailed(db, tenantId, paymentWebhookHandlerName, evt.ID, applyErr); markErr != nil {
			config.LogError(h.Logger, "PaymentWebhookHandler", "Handle", "mark idempotency failed", evt.ID, markErr)
		}
		return applyErr
	}
	if applyErr != nil {
		h.log(evt, tenantId, orderId).Warn("payment event did not apply: " + applyErr.Error())
	}
	return MarkIdempotencySucceeded(db, tenantId, paymentWebhookHandlerName, evt.ID)
}

func (h *PaymentWebhookHandler) apply(ctx context.Context, evt *payment.Event, tenantId string, orderId int) error {
	switch evt.Type {
	case payment.EventPaymentSucceeded:
		_, err := h.Lifecycle.ConfirmPayment(ctx, PaymentConfirmation{
			TenantId:        tenantId,
			OrderId:         orderId,
			PaymentIntentId: evt.Data.Object.ID,
		})
		return err
	default:
		_, err := h.Lifecycle.PaymentFailed(ctx, tenantId, orderId, evt.Type)
		return err
	}
}

// isSettledWebhookErr marks outcomes that redelivery cannot change.
func isSettledWebhookErr(err error) bool {
	return models.IsNotFound(err) ||
		errors.Is(err, models.ErrInvalidTransition) ||
		errors.Is(err, models.ErrInvalidInput)
}

func (h *PaymentWebhookHandler) log(evt *payment.Event, tenantId string, orderId int) *logrus.Entry {
	logger := h.Logger
	if logger == nil {
		logger = config.GetLogger()
	}
	return logger.WithFields(logrus.Fields{
		"field":      "PaymentWebhook",
		"event_id":   evt.ID,
		"event_type": evt.Type,
		"tenant_id":  tenantId,
		"order_id":   orderId,
	})
}
