package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Reservation is a time-limited hold on stock for one order line.
// pending -> consumed | released; both targets are terminal.
type Reservation struct {
	ID            string            `gorm:"primary_key;size:36" json:"id"`
	TenantId      string            `gorm:"size:64;not null;index" json:"tenant_id"`
	VariantId     int               `gorm:"not null;index" json:"variant_id"`
	OrderId       *int              `gorm:"index" json:"order_id"`
	Quantity      int               `gorm:"not null" json:"quantity"`
	Status        ReservationStatus `gorm:"size:20;not null;index:idx_reservation_sweep,priority:1" json:"status"`
	ExpiresAt     time.Time         `gorm:"not null;index:idx_reservation_sweep,priority:2" json:"expires_at"`
	ReleaseReason *ReleaseReason    `gorm:"size:50" json:"release_reason"`
	ConsumedAt    *time.Time        `json:"consumed_at"`
	ReleasedAt    *time.Time        `json:"released_at"`
	CreatedAt     time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

type ReserveLine struct {
	VariantId int
	Quantity  int
}

// Reserve holds quantity units of a variant. The variant row is only touched through a
// conditional update, so concurrent reservers can never push reserved past stock.
// Passing a transaction handle nests the work in a savepoint.
func Reserve(ctx context.Context, db *gorm.DB, tenantId string, line ReserveLine, orderId *int, now time.Time, ttl time.Duration) (*Reservation, error) {
	if tenantId == "" {
		return nil, ErrTenantRequired
	}
	if line.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	var reservation *Reservation
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec("UPDATE variants SET reserved = reserved + ?, updated_at = ? WHERE id = ? AND tenant_id = ? AND is_active = ? AND stock - reserved >= ?",
			line.Quantity, now, line.VariantId, tenantId, true, line.Quantity)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return reserveRejection(ctx, tx, tenantId, line)
		}
		reservation = &Reservation{
			ID:        uuid.NewString(),
			TenantId:  tenantId,
			VariantId: line.VariantId,
			OrderId:   orderId,
			Quantity:  line.Quantity,
			Status:    ReservationStatusPending,
			ExpiresAt: now.Add(ttl),
		}
		return tx.Create(reservation).Error
	})
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

func reserveRejection(ctx context.Context, tx *gorm.DB, tenantId string, line ReserveLine) error {
	v, err := GetVariant(ctx, tx, tenantId, line.VariantId)
	if err != nil {
		return err
	}
	if !v.Sellable() {
		return fmt.Errorf("%w: %d is inactive", ErrVariantNotFound, line.VariantId)
	}
	return &InsufficientStockError{
		VariantId: v.ID,
		Sku:       v.Sku,
		Requested: line.Quantity,
		Available: v.Available(),
	}
}

// ReserveAll reserves every line or none. Lines are taken in ascending variant order so
// two multi-line checkouts touching the same variants lock rows in the same sequence.
func ReserveAll(ctx context.Context, db *gorm.DB, tenantId string, lines []ReserveLine, orderId *int, now time.Time, ttl time.Duration) ([]*Reservation, error) {
	sorted := make([]ReserveLine, len(lines))
	copy(sorted, lines)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].VariantId < sorted[j].VariantId })

	reservations := make([]*Reservation, 0, len(sorted))
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, line := range sorted {
			r, err := Reserve(ctx, tx, tenantId, line, orderId, now, ttl)
			if err != nil {
				return err
			}
			reservations = append(reservations, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reservations, nil
}

// Consume converts a pending hold into a sale: stock and reserved both drop by the
// reserved quantity. Returns false without error when the reservation is already terminal.
func Consume(ctx context.Context, db *gorm.DB, reservationId string, now time.Time) (bool, error) {
	changed := false
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, ok, err := settleReservation(tx, reservationId, map[string]interface{}{
			"status":      ReservationStatusConsumed,
			"consumed_at": now,
		})
		if err != nil || !ok {
			return err
		}
		res := tx.Exec("UPDATE variants SET stock = stock - ?, reserved = reserved - ?, updated_at = ? WHERE id = ? AND tenant_id = ? AND reserved >= ? AND stock >= ?",
			r.Quantity, r.Quantity, now, r.VariantId, r.TenantId, r.Quantity, r.Quantity)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: consuming reservation %s on variant %d", ErrLedgerInvariant, r.ID, r.VariantId)
		}
		changed = true
		return nil
	})
	return changed, err
}

// Release returns a pending hold to available stock. Returns false without error when
// the reservation is already terminal.
func Release(ctx context.Context, db *gorm.DB, reservationId string, reason ReleaseReason, now time.Time) (bool, error) {
	changed := false
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, ok, err := settleReservation(tx, reservationId, map[string]interface{}{
			"status":         ReservationStatusReleased,
			"released_at":    now,
			"release_reason": reason,
		})
		if err != nil || !ok {
			return err
		}
		res := tx.Exec("UPDATE variants SET reserved = reserved - ?, updated_at = ? WHERE id = ? AND tenant_id = ? AND reserved >= ?",
			r.Quantity, now, r.VariantId, r.TenantId, r.Quantity)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: releasing reservation %s on variant %d", ErrLedgerInvariant, r.ID, r.VariantId)
		}
		changed = true
		return nil
	})
	return changed, err
}

// settleReservation flips pending to a terminal status. ok is false when another caller
// already settled it.
func settleReservation(tx *gorm.DB, reservationId string, updates map[string]interface{}) (*Reservation, bool, error) {
	res := tx.Model(&Reservation{}).
		Where("id = ? AND status = ?", reservationId, ReservationStatusPending).
		Updates(updates)
	if res.Error != nil {
		return nil, false, res.Error
	}
	var r Reservation
	if err := tx.Where("id = ?", reservationId).Take(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, fmt.Errorf("%w: %s", ErrReservationNotFound, reservationId)
		}
		return nil, false, err
	}
	return &r, res.RowsAffected > 0, nil
}

// Extend pushes the expiry of a pending reservation. Expiry never moves backwards.
func Extend(ctx context.Context, db *gorm.DB, reservationId string, expiresAt time.Time) (*Reservation, error) {
	var r Reservation
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Reservation{}).
			Where("id = ? AND status = ? AND expires_at < ?", reservationId, ReservationStatusPending, expiresAt).
			Update("expires_at", expiresAt)
		if res.Error != nil {
			return res.Error
		}
		if err := tx.Where("id = ?", reservationId).Take(&r).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrReservationNotFound, reservationId)
			}
			return err
		}
		if r.Status != ReservationStatusPending {
			return fmt.Errorf("%w: %s is %s", ErrReservationSettled, reservationId, r.Status)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func GetReservation(ctx context.Context, db *gorm.DB, reservationId string) (*Reservation, error) {
	var r Reservation
	err := db.WithContext(ctx).Where("id = ?", reservationId).Take(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrReservationNotFound, reservationId)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func GetOrderReservations(ctx context.Context, db *gorm.DB, orderId int) ([]*Reservation, error) {
	var rows []*Reservation
	err := db.WithContext(ctx).
		Where("order_id = ?", orderId).
		Order("variant_id ASC").
		Find(&rows).Error
	return rows, err
}
