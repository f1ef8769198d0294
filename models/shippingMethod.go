package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/storefront_backend/config"
	"github.com/mmdatafocus/storefront_backend/utils"
	"gorm.io/gorm"
)

type ShippingMethod struct {
	ID             int       `gorm:"primary_key" json:"id"`
	TenantId       string    `gorm:"size:64;not null;uniqueIndex:uniq_shipping_code,priority:1" json:"tenant_id"`
	Code           string    `gorm:"size:50;not null;uniqueIndex:uniq_shipping_code,priority:2" json:"code"`
	Name           string    `gorm:"size:100;not null" json:"name"`
	Amount         int64     `gorm:"not null;default:0" json:"amount"`
	FreeOverAmount int64     `gorm:"not null;default:0" json:"free_over_amount"`
	SortOrder      int       `gorm:"not null;default:0" json:"sort_order"`
	IsDefault      *bool     `gorm:"not null;default:false" json:"is_default"`
	IsActive       *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewShippingMethod struct {
	Code           string `json:"code" binding:"required,max=50"`
	Name           string `json:"name" binding:"required,max=100"`
	Amount         int64  `json:"amount" binding:"gte=0"`
	FreeOverAmount int64  `json:"free_over_amount" binding:"gte=0"`
	SortOrder      int    `json:"sort_order"`
	IsDefault      bool   `json:"is_default"`
}

// validate input for both create & update. (id = 0 for create)
func (input *NewShippingMethod) validate(ctx context.Context, db *gorm.DB, tenantId string, id int) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	var count int64
	q := db.WithContext(ctx).Model(&ShippingMethod{}).Where("tenant_id = ? AND code = ?", tenantId, input.Code)
	if id > 0 {
		q = q.Where("id <> ?", id)
	}
	if err := q.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: shipping method code %q already exists", ErrInvalidInput, input.Code)
	}
	return nil
}

func CreateShippingMethod(ctx context.Context, db *gorm.DB, tenantId string, input *NewShippingMethod) (*ShippingMethod, error) {
	if tenantId == "" {
		return nil, ErrTenantRequired
	}
	if err := input.validate(ctx, db, tenantId, 0); err != nil {
		return nil, err
	}

	method := ShippingMethod{
		TenantId:       tenantId,
		Code:           input.Code,
		Name:           input.Name,
		Amount:         input.Amount,
		FreeOverAmount: input.FreeOverAmount,
		SortOrder:      input.SortOrder,
		IsDefault:      &input.IsDefault,
		IsActive:       utils.NewTrue(),
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if input.IsDefault {
			if err := clearDefaultShippingMethod(tx, tenantId); err != nil {
				return err
			}
		}
		return tx.Create(&method).Error
	})
	if err != nil {
		return nil, err
	}
	invalidateShippingCache(tenantId)
	return &method, nil
}

func UpdateShippingMethod(ctx context.Context, db *gorm.DB, tenantId string, id int, input *NewShippingMethod) (*ShippingMethod, error) {
	if tenantId == "" {
		return nil, ErrTenantRequired
	}
	method, err := GetShippingMethod(ctx, db, tenantId, id)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, db, tenantId, id); err != nil {
		return nil, err
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if input.IsDefault {
			if err := clearDefaultShippingMethod(tx, tenantId); err != nil {
				return err
			}
		}
		return tx.Model(method).Updates(map[string]interface{}{
			"code":             input.Code,
			"name":             input.Name,
			"amount":           input.Amount,
			"free_over_amount": input.FreeOverAmount,
			"sort_order":       input.SortOrder,
			"is_default":       input.IsDefault,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	invalidateShippingCache(tenantId)
	return GetShippingMethod(ctx, db, tenantId, id)
}

func ToggleActiveShippingMethod(ctx context.Context, db *gorm.DB, tenantId string, id int, isActive bool) (*ShippingMethod, error) {
	method, err := GetShippingMethod(ctx, db, tenantId, id)
	if err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Model(method).Update("is_active", isActive).Error; err != nil {
		return nil, err
	}
	method.IsActive = &isActive
	invalidateShippingCache(tenantId)
	return method, nil
}

func GetShippingMethod(ctx context.Context, db *gorm.DB, tenantId string, id int) (*ShippingMethod, error) {
	var method ShippingMethod
	err := db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantId, id).Take(&method).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &method, nil
}

func GetShippingMethods(ctx context.Context, db *gorm.DB, tenantId string) ([]*ShippingMethod, error) {
	var results []*ShippingMethod
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantId).
		Order("sort_order ASC, id ASC").
		Find(&results).Error
	return results, err
}

func clearDefaultShippingMethod(tx *gorm.DB, tenantId string) error {
	return tx.Model(&ShippingMethod{}).
		Where("tenant_id = ? AND is_default = ?", tenantId, true).
		Update("is_default", false).Error
}

func invalidateShippingCache(tenantId string) {
	if err := InvalidateTenantSettings(tenantId); err != nil {
		config.LogError(config.GetLogger(), "ShippingMethodModel", "invalidateShippingCache", "remove cache", tenantId, err)
	}
}
