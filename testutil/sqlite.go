// Package testutil opens throwaway databases for package tests and seeds the rows most
// tests need.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/mmdatafocus/storefront_backend/config"
	"github.com/mmdatafocus/storefront_backend/models"
	"github.com/mmdatafocus/storefront_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OpenSQLite returns a migrated, plugin-equipped database backed by a file in t.TempDir().
// A single connection serializes writers the way row locks would on MySQL.
func OpenSQLite(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "storefront.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), config.GormConfig())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := config.InstallPlugins(db); err != nil {
		t.Fatalf("install plugins: %v", err)
	}
	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// TenantContext is what a request for tenantId carries after authentication.
func TenantContext(tenantId string, userId int, role models.UserRole) context.Context {
	ctx := utils.SetTenantIdInContext(context.Background(), tenantId)
	ctx = utils.SetUserIdInContext(ctx, userId)
	return utils.SetRoleInContext(ctx, string(role))
}

type TenantOption func(*models.Tenant)

func WithTaxRate(rate string) TenantOption {
	return func(t *models.Tenant) { t.TaxRate = decimal.RequireFromString(rate) }
}

func WithTaxShipping() TenantOption {
	return func(t *models.Tenant) { t.TaxShipping = utils.NewTrue() }
}

func WithFeatureFlags(raw string) TenantOption {
	return func(t *models.Tenant) { t.FeatureFlags = raw }
}

func SeedTenant(t testing.TB, db *gorm.DB, id string, opts ...TenantOption) *models.Tenant {
	t.Helper()
	tenant := &models.Tenant{
		ID:          id,
		Name:        "Store " + id,
		Currency:    "USD",
		TaxRate:     decimal.Zero,
		TaxShipping: utils.NewFalse(),
		IsActive:    utils.NewTrue(),
	}
	for _, opt := range opts {
		opt(tenant)
	}
	if err := db.Create(tenant).Error; err != nil {
		t.Fatalf("seed tenant %s: %v", id, err)
	}
	return tenant
}

func SeedShippingMethod(t testing.TB, db *gorm.DB, tenantId, code string, amount, freeOver int64, isDefault bool) *models.ShippingMethod {
	t.Helper()
	m, err := models.CreateShippingMethod(context.Background(), db, tenantId, &models.NewShippingMethod{
		Code:           code,
		Name:           code,
		Amount:         amount,
		FreeOverAmount: freeOver,
		IsDefault:      isDefault,
	})
	if err != nil {
		t.Fatalf("seed shipping method %s: %v", code, err)
	}
	return m
}

func SeedVariant(t testing.TB, db *gorm.DB, tenantId, sku string, price int64, stock int) *models.Variant {
	t.Helper()
	v := &models.Variant{
		TenantId:  tenantId,
		ProductId: 1,
		Sku:       sku,
		Name:      "Variant " + sku,
		Price:     price,
		Stock:     stock,
		IsActive:  utils.NewTrue(),
	}
	if err := db.Create(v).Error; err != nil {
		t.Fatalf("seed variant %s: %v", sku, err)
	}
	return v
}

// ReloadVariant reads the ledger counters straight from the table.
func ReloadVariant(t testing.TB, db *gorm.DB, id int) *models.Variant {
	t.Helper()
	var v models.Variant
	if err := db.Where("id = ?", id).Take(&v).Error; err != nil {
		t.Fatalf("reload variant %d: %v", id, err)
	}
	return &v
}

// PendingSum is the total quantity of pending reservations for a variant.
func PendingSum(t testing.TB, db *gorm.DB, variantId int) int {
	t.Helper()
	var sum int
	if err := db.Model(&models.Reservation{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("variant_id = ? AND status = ?", variantId, models.ReservationStatusPending).
		Scan(&sum).Error; err != nil {
		t.Fatalf("pending sum: %v", err)
	}
	return sum
}

// DefaultAddress passes address validation.
func DefaultAddress() models.Address {
	return models.Address{
		Name:    "Test Buyer",
		Line1:   "1 Main St",
		City:    "Springfield",
		Country: "US",
	}
}
