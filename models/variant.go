package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Variant is the sellable unit and carries its own stock ledger counters.
// Invariant: 0 <= Reserved <= Stock.
type Variant struct {
	ID        int       `gorm:"primary_key" json:"id"`
	TenantId  string    `gorm:"size:64;not null;index;uniqueIndex:uniq_variant_sku,priority:1" json:"tenant_id"`
	ProductId int       `gorm:"not null;index" json:"product_id"`
	Sku       string    `gorm:"size:100;not null;uniqueIndex:uniq_variant_sku,priority:2" json:"sku"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Price     int64     `gorm:"not null;default:0" json:"price"`
	Stock     int       `gorm:"not null;default:0" json:"stock"`
	Reserved  int       `gorm:"not null;default:0" json:"reserved"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (v *Variant) Available() int {
	return v.Stock - v.Reserved
}

func (v *Variant) Sellable() bool {
	return v.IsActive == nil || *v.IsActive
}

type Availability struct {
	VariantId int `json:"variant_id"`
	Stock     int `json:"stock"`
	Reserved  int `json:"reserved"`
	Available int `json:"available"`
}

// GetAvailability is a point-in-time read of the ledger. Unknown ids are omitted.
func GetAvailability(ctx context.Context, db *gorm.DB, tenantId string, variantIds []int) (map[int]Availability, error) {
	if tenantId == "" {
		return nil, ErrTenantRequired
	}
	result := make(map[int]Availability, len(variantIds))
	if len(variantIds) == 0 {
		return result, nil
	}
	var rows []Variant
	if err := db.WithContext(ctx).
		Select("id", "stock", "reserved").
		Where("tenant_id = ? AND id IN ?", tenantId, variantIds).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, v := range rows {
		result[v.ID] = Availability{
			VariantId: v.ID,
			Stock:     v.Stock,
			Reserved:  v.Reserved,
			Available: v.Available(),
		}
	}
	return result, nil
}

// GetVariants loads a tenant's variants keyed by id. Unknown ids are omitted.
func GetVariants(ctx context.Context, db *gorm.DB, tenantId string, variantIds []int) (map[int]*Variant, error) {
	if tenantId == "" {
		return nil, ErrTenantRequired
	}
	result := make(map[int]*Variant, len(variantIds))
	if len(variantIds) == 0 {
		return result, nil
	}
	var rows []*Variant
	if err := db.WithContext(ctx).
		Where("tenant_id = ? AND id IN ?", tenantId, variantIds).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, v := range rows {
		result[v.ID] = v
	}
	return result, nil
}

func GetVariant(ctx context.Context, db *gorm.DB, tenantId string, variantId int) (*Variant, error) {
	var v Variant
	err := db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantId, variantId).Take(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrVariantNotFound, variantId)
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// AdjustVariantStock applies a manual stock correction (restock, shrinkage).
// The conditional update refuses to let stock fall below what is currently reserved.
func AdjustVariantStock(ctx context.Context, db *gorm.DB, tenantId string, variantId int, delta int, now time.Time) (*Variant, error) {
	if tenantId == "" {
		return nil, ErrTenantRequired
	}
	if delta == 0 {
		return nil, ErrInvalidQuantity
	}
	var updated *Variant
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec("UPDATE variants SET stock = stock + ?, updated_at = ? WHERE id = ? AND tenant_id = ? AND stock + ? >= reserved AND stock + ? >= 0",
			delta, now, variantId, tenantId, delta, delta)
		if res.Error != nil {
			return res.Error
		}
		v, err := GetVariant(ctx, tx, tenantId, variantId)
		if err != nil {
			return err
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: variant %d has stock %d, reserved %d, delta %d",
				ErrStockBelowReserved, variantId, v.Stock, v.Reserved, delta)
		}
		updated = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
