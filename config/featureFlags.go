package config

import (
	"os"
	"strings"
	"time"
)

// ReservationTTL is how long a checkout holds stock before the sweeper may reclaim it.
//
// Set via env:
// - RESERVATION_TTL_MINUTES (default 30)
func ReservationTTL() time.Duration {
	return time.Duration(intFromEnv("RESERVATION_TTL_MINUTES", 30)) * time.Minute
}

// ReservationSweepInterval is the pause between reclamation passes.
//
// Set via env:
// - RESERVATION_SWEEP_INTERVAL_SECONDS (default 3600)
func ReservationSweepInterval() time.Duration {
	return time.Duration(intFromEnv("RESERVATION_SWEEP_INTERVAL_SECONDS", 3600)) * time.Second
}

// ReservationSweepBatchSize bounds how many expired reservations one pass loads at a time.
func ReservationSweepBatchSize() int {
	return intFromEnv("RESERVATION_SWEEP_BATCH_SIZE", 500)
}

// ReservationSweeperEnabled lets a deployment run the sweeper out-of-process (cmd/reservation-sweep).
//
// Set via env:
// - RESERVATION_SWEEPER_ENABLED=false
func ReservationSweeperEnabled() bool {
	return boolFromEnv("RESERVATION_SWEEPER_ENABLED", true)
}

// OrderEventsOutboxEnabled starts the order event dispatcher in the API process.
//
// Set via env:
// - ORDER_EVENTS_OUTBOX_ENABLED=true
func OrderEventsOutboxEnabled() bool {
	return boolFromEnv("ORDER_EVENTS_OUTBOX_ENABLED", false)
}

// CheckoutRateLimit is the number of checkout attempts allowed per user per minute (0 disables).
func CheckoutRateLimit() int {
	return intFromEnv("CHECKOUT_RATE_LIMIT_PER_MINUTE", 20)
}

// TenantSettingsCacheTTL bounds how stale a cached tenant settings snapshot may be.
func TenantSettingsCacheTTL() time.Duration {
	return time.Duration(intFromEnv("TENANT_SETTINGS_CACHE_SECONDS", 300)) * time.Second
}

// WebhookTolerance is the allowed clock skew for signed payment webhooks.
func WebhookTolerance() time.Duration {
	return time.Duration(intFromEnv("PAYMENT_WEBHOOK_TOLERANCE_SECONDS", 300)) * time.Second
}

func boolFromEnv(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
