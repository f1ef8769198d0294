// reservation-sweep runs a single reclamation pass over expired reservations.
//
// Usage:
//
//	go run ./cmd/reservation-sweep                 # dry run: report what would be reclaimed
//	go run ./cmd/reservation-sweep --dry-run=false # release holds and cancel expired orders
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/mmdatafocus/storefront_backend/config"
	"github.com/mmdatafocus/storefront_backend/workflow"
)

func main() {
	dryRun := flag.Bool("dry-run", true, "Only count expired reservations; change nothing")
	batchSize := flag.Int("batch-size", config.ReservationSweepBatchSize(), "Reservations scanned per page")
	useRedisLease := flag.Bool("redis-lease", false, "Take the sweep lease in redis instead of a MySQL advisory lock")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()

	sweeper := workflow.NewReservationSweeper(db, logger, nil, nil)
	if *useRedisLease {
		config.ConnectRedisWithRetry()
		sweeper.Locker = config.GetRedisLock()
	}
	sweeper.BatchSize = *batchSize
	sweeper.DryRun = *dryRun

	result, err := sweeper.SweepOnce(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "sweep failed: %v\n", err)
		os.Exit(1)
	}
	out, _ := json.MarshalIndent(map[string]any{
		"dry_run": *dryRun,
		"result":  result,
	}, "", "  ")
	fmt.Println(string(out))
	if result.Failed > 0 {
		os.Exit(2)
	}
}
