package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mmdatafocus/storefront_backend/config"
	"github.com/mmdatafocus/storefront_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Tenant struct {
	ID           string          `gorm:"primary_key;size:64" json:"id"`
	Name         string          `gorm:"size:255;not null" json:"name"`
	Currency     string          `gorm:"size:3;not null;default:USD" json:"currency"`
	TaxRate      decimal.Decimal `gorm:"type:decimal(8,6);not null;default:0" json:"tax_rate"`
	TaxShipping  *bool           `gorm:"not null;default:false" json:"tax_shipping"`
	FeatureFlags string          `gorm:"type:text" json:"-"`
	IsActive     *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// Feature flag names understood by the storefront.
const (
	FeatureCheckoutPaused = "checkout_paused"
)

// TenantSettings is the read-only snapshot a request sees for its tenant.
type TenantSettings struct {
	TenantId        string                 `json:"tenant_id"`
	Currency        string                 `json:"currency"`
	TaxRate         decimal.Decimal        `json:"tax_rate"`
	TaxShipping     bool                   `json:"tax_shipping"`
	ShippingMethods []ShippingMethodOption `json:"shipping_methods"`
	Features        map[string]bool        `json:"features"`
}

type ShippingMethodOption struct {
	Code           string `json:"code"`
	Name           string `json:"name"`
	Amount         int64  `json:"amount"`
	FreeOverAmount int64  `json:"free_over_amount"`
	IsDefault      bool   `json:"is_default"`
}

func (s *TenantSettings) FeatureEnabled(name string) bool {
	return s != nil && s.Features[name]
}

// ResolveShippingMethod returns the requested active method, falling back to the
// tenant default and then to the first active method.
func (s *TenantSettings) ResolveShippingMethod(code string) (ShippingMethodOption, bool) {
	if s == nil || len(s.ShippingMethods) == 0 {
		return ShippingMethodOption{}, false
	}
	if code != "" {
		for _, m := range s.ShippingMethods {
			if m.Code == code {
				return m, true
			}
		}
	}
	for _, m := range s.ShippingMethods {
		if m.IsDefault {
			return m, true
		}
	}
	return s.ShippingMethods[0], true
}

// LoadTenantSettings builds the snapshot from the database.
func LoadTenantSettings(ctx context.Context, db *gorm.DB, tenantId string) (*TenantSettings, error) {
	if tenantId == "" {
		return nil, ErrTenantRequired
	}
	var tenant Tenant
	err := db.WithContext(ctx).Where("id = ? AND is_active = ?", tenantId, true).Take(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: tenant %s", utils.ErrorRecordNotFound, tenantId)
	}
	if err != nil {
		return nil, err
	}

	var methods []*ShippingMethod
	if err := db.WithContext(ctx).
		Where("tenant_id = ? AND is_active = ?", tenantId, true).
		Order("sort_order ASC, id ASC").
		Find(&methods).Error; err != nil {
		return nil, err
	}

	settings := &TenantSettings{
		TenantId:    tenant.ID,
		Currency:    tenant.Currency,
		TaxRate:     tenant.TaxRate,
		TaxShipping: tenant.TaxShipping != nil && *tenant.TaxShipping,
		Features:    map[string]bool{},
	}
	if tenant.FeatureFlags != "" {
		if err := json.Unmarshal([]byte(tenant.FeatureFlags), &settings.Features); err != nil {
			return nil, fmt.Errorf("tenant %s feature flags: %w", tenantId, err)
		}
	}
	for _, m := range methods {
		settings.ShippingMethods = append(settings.ShippingMethods, ShippingMethodOption{
			Code:           m.Code,
			Name:           m.Name,
			Amount:         m.Amount,
			FreeOverAmount: m.FreeOverAmount,
			IsDefault:      m.IsDefault != nil && *m.IsDefault,
		})
	}
	sort.SliceStable(settings.ShippingMethods, func(i, j int) bool {
		return settings.ShippingMethods[i].IsDefault && !settings.ShippingMethods[j].IsDefault
	})
	return settings, nil
}

// GetTenantSettings reads through the redis cache.
func GetTenantSettings(ctx context.Context, db *gorm.DB, tenantId string) (*TenantSettings, error) {
	logger := config.GetLogger()
	cached, err := utils.RetrieveRedisTenant[TenantSettings](tenantId)
	if err != nil {
		config.LogError(logger, "TenantModel", "GetTenantSettings", "retrieve cache", tenantId, err)
	} else if cached != nil {
		return cached, nil
	}

	settings, err := LoadTenantSettings(ctx, db, tenantId)
	if err != nil {
		return nil, err
	}
	if err := utils.StoreRedisTenant(settings, tenantId, config.TenantSettingsCacheTTL()); err != nil {
		config.LogError(logger, "TenantModel", "GetTenantSettings", "store cache", tenantId, err)
	}
	return settings, nil
}

func InvalidateTenantSettings(tenantId string) error {
	return utils.RemoveRedisTenant[TenantSettings](tenantId)
}

type TenantSettingsInput struct {
	Currency     *string          `json:"currency" binding:"omitempty,len=3,uppercase"`
	TaxRate      *decimal.Decimal `json:"tax_rate"`
	TaxShipping  *bool            `json:"tax_shipping"`
	FeatureFlags map[string]bool  `json:"feature_flags"`
}

func UpdateTenantSettings(ctx context.Context, db *gorm.DB, tenantId string, input *TenantSettingsInput) (*TenantSettings, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if input.TaxRate != nil && (input.TaxRate.IsNegative() || input.TaxRate.GreaterThan(decimal.NewFromInt(1))) {
		return nil, fmt.Errorf("%w: tax_rate must be between 0 and 1", ErrInvalidInput)
	}
	updates := map[string]interface{}{}
	if input.Currency != nil {
		updates["currency"] = *input.Currency
	}
	if input.TaxRate != nil {
		updates["tax_rate"] = *input.TaxRate
	}
	if input.TaxShipping != nil {
		updates["tax_shipping"] = *input.TaxShipping
	}
	if input.FeatureFlags != nil {
		raw, err := json.Marshal(input.FeatureFlags)
		if err != nil {
			return nil, err
		}
		updates["feature_flags"] = string(raw)
	}
	if len(updates) > 0 {
		if err := db.WithContext(ctx).Model(&Tenant{}).Where("id = ?", tenantId).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	if err := InvalidateTenantSettings(tenantId); err != nil {
		config.LogError(config.GetLogger(), "TenantModel", "UpdateTenantSettings", "invalidate cache", tenantId, err)
	}
	return LoadTenantSettings(ctx, db, tenantId)
}
