package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/storefront_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Address is both the quote input and the shipping snapshot stored on the order.
type Address struct {
	Name       string `gorm:"size:255" json:"name" binding:"required,max=255"`
	Phone      string `gorm:"size:32" json:"phone" binding:"omitempty,max=32"`
	Line1      string `gorm:"size:255" json:"line1" binding:"required,max=255"`
	Line2      string `gorm:"size:255" json:"line2" binding:"omitempty,max=255"`
	City       string `gorm:"size:100" json:"city" binding:"required,max=100"`
	Region     string `gorm:"size:100" json:"region" binding:"omitempty,max=100"`
	PostalCode string `gorm:"size:20" json:"postal_code" binding:"omitempty,max=20"`
	Country    string `gorm:"size:2" json:"country" binding:"required,len=2"`
}

type Order struct {
	ID                  int          `gorm:"primary_key" json:"id"`
	TenantId            string       `gorm:"size:64;not null;index;uniqueIndex:uniq_order_checkout_key,priority:1" json:"tenant_id"`
	CustomerId          int          `gorm:"not null;index;uniqueIndex:uniq_order_checkout_key,priority:2" json:"customer_id"`
	CheckoutKey         *string      `gorm:"size:100;uniqueIndex:uniq_order_checkout_key,priority:3" json:"-"`
	Status              OrderStatus  `gorm:"size:20;not null;index" json:"status"`
	Currency            string       `gorm:"size:3;not null" json:"currency"`
	Subtotal            int64        `gorm:"not null;default:0" json:"subtotal"`
	ShippingAmount      int64        `gorm:"not null;default:0" json:"shipping_amount"`
	TaxAmount           int64        `gorm:"not null;default:0" json:"tax_amount"`
	Total               int64        `gorm:"not null;default:0" json:"total"`
	ShippingMethodCode  string       `gorm:"size:50" json:"shipping_method_code"`
	ShippingAddress     Address      `gorm:"embedded;embeddedPrefix:shipping_" json:"shipping_address"`
	PaymentIntentId     *string      `gorm:"size:255;index" json:"payment_intent_id"`
	PaymentClientSecret *string      `gorm:"size:255" json:"-"`
	RefundId            *string      `gorm:"size:255" json:"refund_id"`
	CancelReason        *string      `gorm:"size:100" json:"cancel_reason"`
	Carrier             *string      `gorm:"size:100" json:"carrier"`
	TrackingNumber      *string      `gorm:"size:100" json:"tracking_number"`
	PaidAt              *time.Time   `json:"paid_at"`
	FulfilledAt         *time.Time   `json:"fulfilled_at"`
	ShippedAt           *time.Time   `json:"shipped_at"`
	CancelledAt         *time.Time   `json:"cancelled_at"`
	RefundedAt          *time.Time   `json:"refunded_at"`
	Items               []*OrderItem `gorm:"foreignKey:OrderId" json:"items,omitempty"`
	CreatedAt           time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// OrderItem is the price snapshot of one quote line at checkout time.
type OrderItem struct {
	ID            int    `gorm:"primary_key" json:"id"`
	TenantId      string `gorm:"size:64;not null;index" json:"tenant_id"`
	OrderId       int    `gorm:"not null;index" json:"order_id"`
	VariantId     int    `gorm:"not null" json:"variant_id"`
	Sku           string `gorm:"size:100" json:"sku"`
	Name          string `gorm:"size:255" json:"name"`
	Quantity      int    `gorm:"not null" json:"quantity"`
	UnitPrice     int64  `gorm:"not null" json:"unit_price"`
	LineTotal     int64  `gorm:"not null" json:"line_total"`
	ReservationId string `gorm:"size:36;index" json:"reservation_id"`
}

// OrderHistory is an append-only audit of status changes.
type OrderHistory struct {
	ID         int         `gorm:"primary_key" json:"id"`
	TenantId   string      `gorm:"size:64;not null;index" json:"tenant_id"`
	OrderId    int         `gorm:"not null;index" json:"order_id"`
	Event      OrderEvent  `gorm:"size:30;not null" json:"event"`
	FromStatus OrderStatus `gorm:"size:20;not null" json:"from_status"`
	ToStatus   OrderStatus `gorm:"size:20;not null" json:"to_status"`
	ActorId    int         `json:"actor_id"`
	ActorRole  string      `gorm:"size:20" json:"actor_role"`
	Note       *string     `gorm:"size:255" json:"note"`
	CreatedAt  time.Time   `gorm:"autoCreateTime" json:"created_at"`
}

// GetOrder loads an order with its items. tenantId "" is only for platform-level callers.
func GetOrder(ctx context.Context, db *gorm.DB, tenantId string, orderId int) (*Order, error) {
	var order Order
	err := db.WithContext(utils.SetSkipTenantScopeInContext(ctx, true)).
		Preload("Items", func(q *gorm.DB) *gorm.DB { return q.Order("id ASC") }).
		Where("id = ?", orderId).
		Take(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, orderId)
	}
	if err != nil {
		return nil, err
	}
	if tenantId != "" && order.TenantId != tenantId {
		return nil, fmt.Errorf("%w: order %d", ErrTenantMismatch, orderId)
	}
	return &order, nil
}

// LockOrder takes a row lock on the order for the rest of tx.
func LockOrder(tx *gorm.DB, tenantId string, orderId int) (*Order, error) {
	var order Order
	q := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", orderId)
	if tenantId != "" {
		q = q.Where("tenant_id = ?", tenantId)
	}
	err := q.Take(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, orderId)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// FindOrderByCheckoutKey returns nil, nil when the customer has not used the key.
// Keys are namespaced per customer; another customer's key never matches.
func FindOrderByCheckoutKey(ctx context.Context, db *gorm.DB, tenantId string, customerId int, key string) (*Order, error) {
	var order Order
	err := db.WithContext(ctx).
		Preload("Items", func(q *gorm.DB) *gorm.DB { return q.Order("id ASC") }).
		Where("tenant_id = ? AND customer_id = ? AND checkout_key = ?", tenantId, customerId, key).
		Take(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func FindOrderByPaymentIntent(ctx context.Context, db *gorm.DB, intentId string) (*Order, error) {
	var order Order
	err := db.WithContext(ctx).Where("payment_intent_id = ?", intentId).Take(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: payment intent %s", ErrOrderNotFound, intentId)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func GetOrderHistory(ctx context.Context, db *gorm.DB, tenantId string, orderId int) ([]*OrderHistory, error) {
	var rows []*OrderHistory
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND order_id = ?", tenantId, orderId).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}
