package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// OrderEventStatus is the ops view of one outbox row for an order.
type OrderEventStatus struct {
	RecordId         int        `json:"record_id"`
	EventType        string     `json:"event_type"`
	PublishStatus    string     `json:"publish_status"`
	PublishAttempts  int        `json:"publish_attempts"`
	NextAttemptAt    *time.Time `json:"next_attempt_at"`
	LastPublishError *string    `json:"last_publish_error"`
	CreatedAt        time.Time  `json:"created_at"`
	PublishedAt      *time.Time `json:"published_at"`
}

// GetOrderEventStatuses lists every event an order produced with its delivery state, oldest first.
func GetOrderEventStatuses(ctx context.Context, db *gorm.DB, tenantId string, orderId int) ([]*OrderEventStatus, error) {
	var rows []OrderEventRecord
	if err := db.WithContext(ctx).
		Where("tenant_id = ? AND order_id = ?", tenantId, orderId).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*OrderEventStatus, 0, len(rows))
	for _, r := range rows {
		out = append(out, &OrderEventStatus{
			RecordId:         r.ID,
			EventType:        r.EventType,
			PublishStatus:    r.PublishStatus,
			PublishAttempts:  r.PublishAttempts,
			NextAttemptAt:    r.NextAttemptAt,
			LastPublishError: r.LastPublishError,
			CreatedAt:        r.CreatedAt,
			PublishedAt:      r.PublishedAt,
		})
	}
	return out, nil
}
