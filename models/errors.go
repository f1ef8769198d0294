package models

import (
	"errors"
	"fmt"

	"github.com/mmdatafocus/storefront_backend/utils"
	"gorm.io/gorm"
)

var (
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrInvalidTransition    = errors.New("invalid order transition")
	ErrReservationNotFound  = errors.New("reservation not found")
	ErrReservationSettled   = errors.New("reservation is no longer pending")
	ErrVariantNotFound      = errors.New("variant not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrTenantMismatch       = errors.New("resource belongs to another tenant")
	ErrTenantRequired       = errors.New("tenant id is required")
	ErrProcessor            = errors.New("payment processor error")
	ErrInvalidQuantity      = errors.New("quantity must be positive")
	ErrStockBelowReserved   = errors.New("stock cannot drop below reserved quantity")
	ErrLedgerInvariant      = errors.New("stock ledger invariant violated")
	ErrNoShippingMethod     = errors.New("no shipping method available")
	ErrEmptyCart            = errors.New("cart has no lines")
	ErrCheckoutPaused       = errors.New("checkout is paused for this store")
	ErrPaymentIntentMissing = errors.New("order has no payment intent")
	ErrInvalidInput         = errors.New("invalid input")
)

// InsufficientStockError names the first variant that could not be satisfied.
type InsufficientStockError struct {
	VariantId int
	Sku       string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variant %d (%s): requested %d, available %d",
		e.VariantId, e.Sku, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

type InvalidTransitionError struct {
	OrderId int
	From    OrderStatus
	Event   OrderEvent
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %d: cannot apply %s to a %s order", e.OrderId, e.Event, e.From)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// ProcessorError wraps failures from the external payment processor.
type ProcessorError struct {
	Op  string
	Err error
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("payment processor %s failed: %v", e.Op, e.Err)
}

func (e *ProcessorError) Unwrap() error { return e.Err }

func (e *ProcessorError) Is(target error) bool { return target == ErrProcessor }

// IsNotFound is true for every error that should surface as "not found" to a caller,
// including cross-tenant access.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrReservationNotFound) ||
		errors.Is(err, ErrVariantNotFound) ||
		errors.Is(err, ErrTenantMismatch) ||
		errors.Is(err, utils.ErrorRecordNotFound) ||
		errors.Is(err, gorm.ErrRecordNotFound)
}

// IsConflict is true for business-rule rejections that a retry will not fix.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrReservationSettled) ||
		errors.Is(err, ErrStockBelowReserved)
}
