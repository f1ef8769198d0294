package models

import (
	"time"

	"gorm.io/gorm"
)

// orderTransitions is the only place order status edges are defined.
var orderTransitions = map[OrderStatus]map[OrderEvent]OrderStatus{
	OrderStatusPending: {
		OrderEventPaymentConfirmed: OrderStatusPaid,
		OrderEventPaymentFailed:    OrderStatusCancelled,
		OrderEventCancel:           OrderStatusCancelled,
		OrderEventExpire:           OrderStatusCancelled,
	},
	OrderStatusPaid: {
		OrderEventFulfill: OrderStatusFulfilled,
		OrderEventRefund:  OrderStatusRefunded,
	},
	OrderStatusFulfilled: {
		OrderEventShip: OrderStatusShipped,
	},
}

// NextOrderStatus resolves an event against the transition table.
func NextOrderStatus(orderId int, from OrderStatus, event OrderEvent) (OrderStatus, error) {
	to, ok := orderTransitions[from][event]
	if !ok {
		return "", &InvalidTransitionError{OrderId: orderId, From: from, Event: event}
	}
	return to, nil
}

func CanTransition(from OrderStatus, event OrderEvent) bool {
	_, ok := orderTransitions[from][event]
	return ok
}

func statusTimestampColumn(to OrderStatus) string {
	switch to {
	case OrderStatusPaid:
		return "paid_at"
	case OrderStatusFulfilled:
		return "fulfilled_at"
	case OrderStatusShipped:
		return "shipped_at"
	case OrderStatusCancelled:
		return "cancelled_at"
	case OrderStatusRefunded:
		return "refunded_at"
	}
	return ""
}

// TransitionChange carries the extra columns written alongside a status change.
type TransitionChange struct {
	Event  OrderEvent
	Actor  Actor
	Note   string
	Fields map[string]interface{}
}

// TransitionOrder moves order through the table with a compare-and-set on the current
// status, then records history and the outbound event in the same transaction.
// order is updated in place on success.
func TransitionOrder(tx *gorm.DB, order *Order, change TransitionChange, now time.Time) error {
	to, err := NextOrderStatus(order.ID, order.Status, change.Event)
	if err != nil {
		return err
	}
	updates := map[string]interface{}{"status": to}
	if col := statusTimestampColumn(to); col != "" {
		updates[col] = now
	}
	for k, v := range change.Fields {
		updates[k] = v
	}

	res := tx.Model(&Order{}).
		Where("id = ? AND tenant_id = ? AND status = ?", order.ID, order.TenantId, order.Status).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var current Order
		if err := tx.Select("id", "status").Where("id = ?", order.ID).Take(&current).Error; err != nil {
			return err
		}
		return &InvalidTransitionError{OrderId: order.ID, From: current.Status, Event: change.Event}
	}

	history := OrderHistory{
		TenantId:   order.TenantId,
		OrderId:    order.ID,
		Event:      change.Event,
		FromStatus: order.Status,
		ToStatus:   to,
		ActorId:    change.Actor.UserId,
		ActorRole:  string(change.Actor.Role),
	}
	if change.Note != "" {
		note := change.Note
		history.Note = &note
	}
	if err := tx.Create(&history).Error; err != nil {
		return err
	}

	order.Status = to
	stamp := now
	switch to {
	case OrderStatusPaid:
		order.PaidAt = &stamp
	case OrderStatusFulfilled:
		order.FulfilledAt = &stamp
	case OrderStatusShipped:
		order.ShippedAt = &stamp
	case OrderStatusCancelled:
		order.CancelledAt = &stamp
	case OrderStatusRefunded:
		order.RefundedAt = &stamp
	}
	return EnqueueOrderEvent(tx, order, "order."+string(to), now)
}

// RecordOrderCreated writes the creation history row and the order.created event.
func RecordOrderCreated(tx *gorm.DB, order *Order, actor Actor, now time.Time) error {
	if err := tx.Create(&OrderHistory{
		TenantId:   order.TenantId,
		OrderId:    order.ID,
		Event:      OrderEventCheckout,
		FromStatus: "",
		ToStatus:   order.Status,
		ActorId:    actor.UserId,
		ActorRole:  string(actor.Role),
	}).Error; err != nil {
		return err
	}
	return EnqueueOrderEvent(tx, order, OrderEventTypeCreated, now)
}
