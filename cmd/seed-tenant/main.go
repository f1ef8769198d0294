// seed-tenant creates a storefront tenant with a default shipping method and prints a
// signed token for it, for local development.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... API_SECRET=... \
//	  go run ./cmd/seed-tenant --tenant-id=demo --role=owner
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/storefront_backend/config"
	"github.com/mmdatafocus/storefront_backend/models"
	"github.com/mmdatafocus/storefront_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func main() {
	tenantID := flag.String("tenant-id", "demo", "Tenant id")
	name := flag.String("name", "Demo Store", "Tenant display name")
	currency := flag.String("currency", "USD", "ISO 4217 currency code")
	taxRate := flag.String("tax-rate", "0", "Flat tax rate, e.g. 0.07")
	role := flag.String("role", string(models.UserRoleOwner), "Role for the printed token")
	userID := flag.Int("user-id", 1, "User id for the printed token")
	flag.Parse()

	if !models.UserRole(*role).IsValid() {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(1)
	}
	rate, err := decimal.NewFromString(*taxRate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid tax rate: %v\n", err)
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	if err := models.MigrateTable(db); err != nil {
		fmt.Fprintf(os.Stderr, "migrate failed: %v\n", err)
		os.Exit(1)
	}

	ctx := utils.SetTenantIdInContext(context.Background(), *tenantID)
	var existing models.Tenant
	err = db.WithContext(ctx).Where("id = ?", *tenantID).Take(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		tenant := models.Tenant{
			ID:          *tenantID,
			Name:        *name,
			Currency:    strings.ToUpper(*currency),
			TaxRate:     rate,
			TaxShipping: utils.NewFalse(),
			IsActive:    utils.NewTrue(),
		}
		if err := db.WithContext(ctx).Create(&tenant).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create tenant: %v\n", err)
			os.Exit(1)
		}
		if _, err := models.CreateShippingMethod(ctx, db, *tenantID, &models.NewShippingMethod{
			Code:      "standard",
			Name:      "Standard",
			Amount:    500,
			IsDefault: true,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create shipping method: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created tenant %q\n", *tenantID)
	case err != nil:
		fmt.Fprintf(os.Stderr, "failed to lookup tenant: %v\n", err)
		os.Exit(1)
	default:
		fmt.Printf("Tenant %q already exists\n", *tenantID)
	}

	token, err := utils.JwtGenerate(*userID, *tenantID, *role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
