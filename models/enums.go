package models

type ReservationStatus string

const (
	ReservationStatusPending  ReservationStatus = "pending"
	ReservationStatusConsumed ReservationStatus = "consumed"
	ReservationStatusReleased ReservationStatus = "released"
)

func (s ReservationStatus) IsValid() bool {
	switch s {
	case ReservationStatusPending, ReservationStatusConsumed, ReservationStatusReleased:
		return true
	}
	return false
}

type ReleaseReason string

const (
	ReleaseReasonCancelled     ReleaseReason = "cancelled"
	ReleaseReasonPaymentFailed ReleaseReason = "payment_failed"
	ReleaseReasonExpired       ReleaseReason = "expired"
	ReleaseReasonManual        ReleaseReason = "manual"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusFulfilled OrderStatus = "fulfilled"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRefunded  OrderStatus = "refunded"
)

func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusFulfilled,
		OrderStatusShipped, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// IsTerminal reports whether no event can move the order any further.
func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

// HasCapturedPayment is true once money has been taken for the order.
func (s OrderStatus) HasCapturedPayment() bool {
	switch s {
	case OrderStatusPaid, OrderStatusFulfilled, OrderStatusShipped, OrderStatusRefunded:
		return true
	}
	return false
}

type OrderEvent string

const (
	OrderEventPaymentConfirmed OrderEvent = "payment_confirmed"
	OrderEventPaymentFailed    OrderEvent = "payment_failed"
	OrderEventCancel           OrderEvent = "cancel"
	OrderEventExpire           OrderEvent = "expire"
	OrderEventFulfill          OrderEvent = "fulfill"
	OrderEventShip             OrderEvent = "ship"
	OrderEventRefund           OrderEvent = "refund"

	// OrderEventCheckout only appears in history as the creation row.
	OrderEventCheckout OrderEvent = "checkout"
)

type UserRole string

const (
	UserRoleCustomer   UserRole = "customer"
	UserRoleStaff      UserRole = "staff"
	UserRoleAdmin      UserRole = "admin"
	UserRoleOwner      UserRole = "owner"
	UserRoleSuperAdmin UserRole = "super_admin"
)

func (r UserRole) IsValid() bool {
	switch r {
	case UserRoleCustomer, UserRoleStaff, UserRoleAdmin, UserRoleOwner, UserRoleSuperAdmin:
		return true
	}
	return false
}

// IsStaff covers every back-office role.
func (r UserRole) IsStaff() bool {
	return r == UserRoleStaff || r == UserRoleAdmin || r == UserRoleOwner || r == UserRoleSuperAdmin
}

// Actor is recorded on order history rows. UserId is 0 for system actors.
type Actor struct {
	UserId int
	Role   UserRole
}

var SystemActor = Actor{Role: "system"}
