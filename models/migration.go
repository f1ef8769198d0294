package models

import (
	"gorm.io/gorm"
)

func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&Tenant{}, &ShippingMethod{},
		&Variant{}, &Reservation{},
		&Order{}, &OrderItem{}, &OrderHistory{},
		&OrderEventRecord{},
		&IdempotencyKey{},
	)
}
