// stock-reconcile checks that every variant's reserved counter equals the sum of its
// pending reservations and stays within 0..stock.
//
// Usage:
//
//	go run ./cmd/stock-reconcile --tenant-id=<id>        # report drift
//	go run ./cmd/stock-reconcile --tenant-id=<id> --fix  # reset reserved to the pending sum
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mmdatafocus/storefront_backend/config"
	"github.com/mmdatafocus/storefront_backend/models"
	"github.com/mmdatafocus/storefront_backend/utils"
)

func main() {
	tenantID := flag.String("tenant-id", "", "Tenant to check (empty = all tenants)")
	fix := flag.Bool("fix", false, "Repair drifted reserved counters")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	ctx := utils.SetSkipTenantScopeInContext(context.Background(), true)
	drifts, err := models.ReconcileStockLedger(ctx, db, strings.TrimSpace(*tenantID), *fix, time.Now().UTC())
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconcile failed: %v\n", err)
		os.Exit(1)
	}
	out, _ := json.MarshalIndent(map[string]any{
		"tenant_id": *tenantID,
		"fix":       *fix,
		"drifts":    drifts,
	}, "", "  ")
	fmt.Println(string(out))

	for _, d := range drifts {
		if !d.Repaired {
			os.Exit(2)
		}
	}
}
