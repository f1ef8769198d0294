package models

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerDrift is a variant whose reserved counter disagrees with its pending reservations.
type LedgerDrift struct {
	VariantId     int    `json:"variant_id"`
	TenantId      string `json:"tenant_id"`
	Sku           string `json:"sku"`
	Stock         int    `json:"stock"`
	Reserved      int    `json:"reserved"`
	PendingSum    int    `json:"pending_sum"`
	Repaired      bool   `json:"repaired"`
	RepairSkipped string `json:"repair_skipped,omitempty"`
}

// ReconcileStockLedger compares every variant's reserved counter with the sum of its
// pending reservations. With repair set, reserved is reset to that sum under a row lock
// unless the sum itself exceeds stock. tenantId "" scans all tenants.
func ReconcileStockLedger(ctx context.Context, db *gorm.DB, tenantId string, repair bool, now time.Time) ([]LedgerDrift, error) {
	type row struct {
		ID         int
		TenantId   string
		Sku        string
		Stock      int
		Reserved   int
		PendingSum int
	}
	q := db.WithContext(ctx).Table("variants").
		Select("variants.id, variants.tenant_id, variants.sku, variants.stock, variants.reserved, COALESCE(SUM(reservations.quantity), 0) AS pending_sum").
		Joins("LEFT JOIN reservations ON reservations.variant_id = variants.id AND reservations.status = ?", ReservationStatusPending).
		Group("variants.id, variants.tenant_id, variants.sku, variants.stock, variants.reserved").
		Order("variants.id ASC")
	if tenantId != "" {
		q = q.Where("variants.tenant_id = ?", tenantId)
	}
	var rows []row
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}

	var drifts []LedgerDrift
	for _, r := range rows {
		if r.Reserved == r.PendingSum && r.Reserved >= 0 && r.Reserved <= r.Stock {
			continue
		}
		d := LedgerDrift{
			VariantId:  r.ID,
			TenantId:   r.TenantId,
			Sku:        r.Sku,
			Stock:      r.Stock,
			Reserved:   r.Reserved,
			PendingSum: r.PendingSum,
		}
		if repair {
			if err := repairReserved(ctx, db, &d, now); err != nil {
				return drifts, err
			}
		}
		drifts = append(drifts, d)
	}
	return drifts, nil
}

func repairReserved(ctx context.Context, db *gorm.DB, d *LedgerDrift, now time.Time) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var v Variant
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND tenant_id = ?", d.VariantId, d.TenantId).
			Take(&v).Error; err != nil {
			return err
		}
		var pending int64
		if err := tx.Model(&Reservation{}).
			Select("COALESCE(SUM(quantity), 0)").
			Where("variant_id = ? AND tenant_id = ? AND status = ?", d.VariantId, d.TenantId, ReservationStatusPending).
			Scan(&pending).Error; err != nil {
			return err
		}
		if int(pending) > v.Stock {
			d.RepairSkipped = "pending reservations exceed stock"
			return nil
		}
		if err := tx.Model(&Variant{}).
			Where("id = ? AND tenant_id = ?", d.VariantId, d.TenantId).
			Updates(map[string]interface{}{"reserved": int(pending), "updated_at": now}).Error; err != nil {
			return err
		}
		d.PendingSum = int(pending)
		d.Repaired = true
		return nil
	})
}
