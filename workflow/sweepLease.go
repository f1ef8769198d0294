package workflow

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"gorm.io/gorm"
)

const sweepLeaseName = "storefront:reservation-sweeper"

var errLeaseHeld = errors.New("sweep lease held by another instance")

// acquireRedisLease takes the cross-instance sweep lease in redis.
func acquireRedisLease(ctx context.Context, locker *redislock.Client, ttl time.Duration) (func(), error) {
	lock, err := locker.Obtain(ctx, sweepLeaseName, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, errLeaseHeld
	}
	if err != nil {
		return nil, err
	}
	return func() { _ = lock.Release(context.Background()) }, nil
}

// acquireAdvisoryLease uses a MySQL advisory lock when redis is not configured.
// GET_LOCK is connection-scoped, so the lease pins one pooled connection until released.
func acquireAdvisoryLease(ctx context.Context, db *gorm.DB) (func(), error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, err
	}
	var ok sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", sweepLeaseName).Scan(&ok); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if !ok.Valid || ok.Int64 != 1 {
		_ = conn.Close()
		return nil, errLeaseHeld
	}
	return func() {
		var released sql.NullInt64
		_ = conn.QueryRowContext(context.Background(), "SELECT RELEASE_LOCK(?)", sweepLeaseName).Scan(&released)
		_ = conn.Close()
	}, nil
}
