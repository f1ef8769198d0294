package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/storefront_backend/config"
	"github.com/mmdatafocus/storefront_backend/models"
	"github.com/mmdatafocus/storefront_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ReservationSweeper returns expired holds to available stock and cancels the pending
// orders they belonged to. Every step is idempotent, so overlapping sweeps are safe;
// the lease only keeps instances from doing the same work twice.
type ReservationSweeper struct {
	DB        *gorm.DB
	Logger    *logrus.Logger
	Lifecycle *OrderLifecycle
	Locker    *redislock.Client

	Interval  time.Duration
	BatchSize int
	LeaseTTL  time.Duration
	DryRun    bool
	Now       func() time.Time
}

type SweepResult struct {
	Expired         int  `json:"expired"`
	ReleasedOrphans int  `json:"released_orphans"`
	CancelledOrders int  `json:"cancelled_orders"`
	Failed          int  `json:"failed"`
	Skipped         bool `json:"skipped"`
}

// NewReservationSweeper builds a processor-less lifecycle when none is given; cancelling
// an expired order never talks to the payment processor.
func NewReservationSweeper(db *gorm.DB, logger *logrus.Logger, lifecycle *OrderLifecycle, locker *redislock.Client) *ReservationSweeper {
	s := &ReservationSweeper{
		DB:        db,
		Logger:    logger,
		Lifecycle: lifecycle,
		Locker:    locker,
		Interval:  config.ReservationSweepInterval(),
		BatchSize: config.ReservationSweepBatchSize(),
		LeaseTTL:  10 * time.Minute,
	}
	if s.Lifecycle == nil {
		s.Lifecycle = NewOrderLifecycle(db, logger, nil)
		s.Lifecycle.Now = s.now
	}
	return s
}

func (s *ReservationSweeper) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	interval := s.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, err := s.SweepOnce(ctx); err != nil {
			config.LogError(s.Logger, "ReservationSweeper", "Run", "sweep", nil, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (s *ReservationSweeper) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *ReservationSweeper) acquireLease(ctx context.Context) (func(), error) {
	ttl := s.LeaseTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if s.Locker != nil {
		return acquireRedisLease(ctx, s.Locker, ttl)
	}
	if s.DB.Dialector != nil && s.DB.Dialector.Name() == "mysql" {
		return acquireAdvisoryLease(ctx, s.DB)
	}
	return func() {}, nil
}

// SweepOnce runs a single reclamation pass. Per-item failures are counted and logged and
// do not stop the pass; the returned error is reserved for failures to scan at all.
func (s *ReservationSweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)
	if s.Lifecycle == nil {
		return result, errors.New("reservation sweeper has no order lifecycle")
	}

	release, err := s.acquireLease(ctx)
	if errors.Is(err, errLeaseHeld) {
		result.Skipped = true
		s.logger().WithField("field", "ReservationSweeper").Info("sweep skipped: lease held elsewhere")
		return result, nil
	}
	if err != nil {
		// Sweeping without the lease is still correct, only possibly duplicated.
		config.LogError(s.Logger, "ReservationSweeper", "SweepOnce", "acquire lease", nil, err)
		release = func() {}
	}
	defer release()

	batch := s.BatchSize
	if batch <= 0 {
		batch = 500
	}
	now := s.now()
	seenOrders := map[int]bool{}
	lastId := ""

	for {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		var rows []models.Reservation
		if err := s.DB.WithContext(ctx).
			Where("status = ? AND expires_at <= ? AND id > ?", models.ReservationStatusPending, now, lastId).
			Order("id ASC").
			Limit(batch).
			Find(&rows).Error; err != nil {
			return result, err
		}

		for _, r := range rows {
			result.Expired++
			if r.OrderId == nil {
				s.releaseOrphan(ctx, r, now, &result)
				continue
			}
			if seenOrders[*r.OrderId] {
				continue
			}
			seenOrders[*r.OrderId] = true
			s.expireOrder(ctx, r, &result)
		}

		if len(rows) < batch {
			break
		}
		lastId = rows[len(rows)-1].ID
	}

	s.logger().WithFields(logrus.Fields{
		"field":            "ReservationSweeper",
		"expired":          result.Expired,
		"released_orphans": result.ReleasedOrphans,
		"cancelled_orders": result.CancelledOrders,
		"failed":           result.Failed,
		"dry_run":          s.DryRun,
	}).Info("reservation sweep finished")
	return result, nil
}

func (s *ReservationSweeper) releaseOrphan(ctx context.Context, r models.Reservation, now time.Time, result *SweepResult) {
	if s.DryRun {
		result.ReleasedOrphans++
		return
	}
	changed, err := models.Release(ctx, s.DB, r.ID, models.ReleaseReasonExpired, now)
	if err != nil {
		result.Failed++
		config.LogError(s.Logger, "ReservationSweeper", "releaseOrphan", "release", r.ID, err)
		return
	}
	if changed {
		result.ReleasedOrphans++
	}
}

func (s *ReservationSweeper) expireOrder(ctx context.Context, r models.Reservation, result *SweepResult) {
	if s.DryRun {
		var order models.Order
		if err := s.DB.WithContext(ctx).Select("id", "status").Where("id = ?", *r.OrderId).Take(&order).Error; err == nil &&
			order.Status == models.OrderStatusPending {
			result.CancelledOrders++
		}
		return
	}
	cancelled, err := s.Lifecycle.CancelExpired(ctx, r.TenantId, *r.OrderId)
	if err != nil {
		result.Failed++
		config.LogError(s.Logger, "ReservationSweeper", "expireOrder", "cancel expired order", *r.OrderId, err)
		return
	}
	if cancelled {
		result.CancelledOrders++
	}
}

func (s *ReservationSweeper) logger() *logrus.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return config.GetLogger()
}
