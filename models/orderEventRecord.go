package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/storefront_backend/config"
	"github.com/mmdatafocus/storefront_backend/utils"
	"gorm.io/gorm"
)

// OrderEventRecord is the transactional outbox for order lifecycle events.
// Rows are written in the same transaction as the state change and published later
// by the dispatcher.
type OrderEventRecord struct {
	ID               int        `gorm:"primary_key" json:"id"`
	TenantId         string     `gorm:"size:64;not null;index" json:"tenant_id"`
	OrderId          int        `gorm:"not null;index" json:"order_id"`
	EventType        string     `gorm:"size:50;not null" json:"event_type"`
	Payload          string     `gorm:"type:text;not null" json:"payload"`
	CorrelationId    string     `gorm:"size:64" json:"correlation_id"`
	PublishStatus    string     `gorm:"size:20;not null;default:PENDING;index:idx_order_event_claim,priority:1" json:"publish_status"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index:idx_order_event_claim,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	PublishedAt      *time.Time `json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Message decodes the stored payload back into its wire form.
func (r *OrderEventRecord) Message() (config.OrderEventMessage, error) {
	var msg config.OrderEventMessage
	err := json.Unmarshal([]byte(r.Payload), &msg)
	msg.ID = r.ID
	return msg, err
}

// EnqueueOrderEvent writes an outbox row for order inside tx.
func EnqueueOrderEvent(tx *gorm.DB, order *Order, eventType string, now time.Time) error {
	cid := ""
	if tx.Statement != nil && tx.Statement.Context != nil {
		cid, _ = utils.GetCorrelationIdFromContext(tx.Statement.Context)
	}
	msg := config.OrderEventMessage{
		TenantId:      order.TenantId,
		OrderId:       order.ID,
		EventType:     eventType,
		Status:        string(order.Status),
		Total:         order.Total,
		Currency:      order.Currency,
		OccurredAt:    now,
		CorrelationId: cid,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	pending := now
	return tx.Create(&OrderEventRecord{
		TenantId:      order.TenantId,
		OrderId:       order.ID,
		EventType:     eventType,
		Payload:       string(payload),
		CorrelationId: cid,
		PublishStatus: OutboxPublishStatusPending,
		NextAttemptAt: &pending,
	}).Error
}

// ReplayOrderEvent puts a FAILED or DEAD outbox row back in the dispatcher's queue.
func ReplayOrderEvent(ctx context.Context, db *gorm.DB, tenantId string, recordId int, now time.Time) (*OrderEventRecord, error) {
	res := db.WithContext(ctx).
		Model(&OrderEventRecord{}).
		Where("id = ? AND tenant_id = ? AND publish_status IN ?", recordId, tenantId,
			[]string{OutboxPublishStatusFailed, OutboxPublishStatusDead}).
		Updates(map[string]interface{}{
			"publish_status":     OutboxPublishStatusFailed,
			"publish_attempts":   0,
			"next_attempt_at":    &now,
			"locked_at":          nil,
			"locked_by":          nil,
			"last_publish_error": nil,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	var rec OrderEventRecord
	if err := db.WithContext(ctx).Where("id = ? AND tenant_id = ?", recordId, tenantId).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: outbox record %d is %s", ErrInvalidTransition, recordId, rec.PublishStatus)
	}
	return &rec, nil
}
