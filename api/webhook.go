package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/storefront_backend/config"
	"github.com/mmdatafocus/storefront_backend/payment"
	"github.com/sirupsen/logrus"
)

const maxWebhookBody = 1 << 20

// paymentWebhook verifies and applies a processor event. A non-2xx response makes the
// processor redeliver, so only failures a retry can fix return 500.
func (h *Handler) paymentWebhook(c *gin.Context) {
	if h.WebhookSecret == "" || h.Webhooks == nil {
		h.logger().WithFields(logrus.Fields{"field": "PaymentWebhook"}).Error("webhook received but PAYMENT_WEBHOOK_SECRET is not configured")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "webhooks not configured"})
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if err := payment.VerifySignature(payload, c.GetHeader(payment.SignatureHeader), h.WebhookSecret, h.WebhookTolerance, h.now()); err != nil {
		h.logger().WithFields(logrus.Fields{"field": "PaymentWebhook", "client_ip": c.ClientIP()}).Warn("rejected webhook: " + err.Error())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}
	evt, err := payment.ParseEvent(payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Webhooks.Handle(c.Request.Context(), evt); err != nil {
		config.LogError(h.logger(), "API", "paymentWebhook", evt.Type, evt.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "retry later"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

