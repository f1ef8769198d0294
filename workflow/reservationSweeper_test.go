package workflow_test

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/storefront_backend/models"
	"github.com/mmdatafocus/storefront_backend/workflow"
)

func (s *store) sweeper(dryRun bool) *workflow.ReservationSweeper {
	sw := workflow.NewReservationSweeper(s.db, nil, s.lifecycle, nil)
	sw.Now = s.clock.Now
	sw.BatchSize = 100
	sw.DryRun = dryRun
	return sw
}

func TestSweepOnce_ReclaimsExpiredHolds(t *testing.T) {
	s := newStore(t)
	abandoned := s.checkout(t, "", line(s.shirt, 2), line(s.mug, 1))
	paid := s.checkout(t, "", line(s.shirt, 1))
	s.pay(t, paid.OrderId)
	orphan, err := models.Reserve(s.ctx, s.db, "t1", models.ReserveLine{VariantId: s.mug.ID, Quantity: 1}, nil, s.clock.Now(), storeTTL)
	if err != nil {
		t.Fatalf("Reserve orphan: %v", err)
	}
	s.assertLedger(t, s.shirt, 4, 2)
	s.assertLedger(t, s.mug, 3, 2)

	// Nothing has expired yet.
	result, err := s.sweeper(false).SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if result.Expired != 0 {
		t.Fatalf("expected nothing to sweep, got %+v", result)
	}

	s.clock.Advance(storeTTL + time.Second)
	result, err = s.sweeper(false).SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if result.Expired != 3 || result.CancelledOrders != 1 || result.ReleasedOrphans != 1 || result.Failed != 0 {
		t.Fatalf("unexpected sweep result: %+v", result)
	}
	s.assertLedger(t, s.shirt, 4, 0)
	s.assertLedger(t, s.mug, 3, 0)

	order := s.order(t, abandoned.OrderId)
	if order.Status != models.OrderStatusCancelled || order.CancelReason == nil || *order.CancelReason != "reservation_expired" {
		t.Fatalf("expected the abandoned order to be cancelled, got %+v", order)
	}
	if got := s.order(t, paid.OrderId).Status; got != models.OrderStatusPaid {
		t.Fatalf("paid order must be untouched, got %s", got)
	}
	r, err := models.GetReservation(s.ctx, s.db, orphan.ID)
	if err != nil || r.Status != models.ReservationStatusReleased || r.ReleaseReason == nil || *r.ReleaseReason != models.ReleaseReasonExpired {
		t.Fatalf("expected orphan released as expired, got %+v %v", r, err)
	}

	// A second pass finds nothing left to do.
	result, err = s.sweeper(false).SweepOnce(context.Background())
	if err != nil || result.Expired != 0 {
		t.Fatalf("expected an idle second pass, got %+v %v", result, err)
	}
}

func TestSweepOnce_DryRunChangesNothing(t *testing.T) {
	s := newStore(t)
	res := s.checkout(t, "", line(s.shirt, 3))
	s.clock.Advance(time.Hour)

	result, err := s.sweeper(true).SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if result.Expired != 1 || result.CancelledOrders != 1 {
		t.Fatalf("unexpected dry run report: %+v", result)
	}
	if got := s.order(t, res.OrderId).Status; got != models.OrderStatusPending {
		t.Fatalf("dry run must not cancel, got %s", got)
	}
	s.assertLedger(t, s.shirt, 5, 3)
}

func TestSweepOnce_PaymentBeforeSweepWins(t *testing.T) {
	s := newStore(t)
	res := s.checkout(t, "", line(s.mug, 2))
	s.clock.Advance(storeTTL + time.Minute)

	// The hold is past expiry but still pending, so a late confirmation consumes it.
	s.pay(t, res.OrderId)
	result, err := s.sweeper(false).SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if result.Expired != 0 || result.CancelledOrders != 0 {
		t.Fatalf("expected nothing to reclaim, got %+v", result)
	}
	s.assertLedger(t, s.mug, 1, 0)
}

func TestCancelExpired_SkipsExtendedOrders(t *testing.T) {
	s := newStore(t)
	res := s.checkout(t, "", line(s.shirt, 1))

	s.clock.Advance(storeTTL - time.Minute)
	if _, err := s.lifecycle.ExtendReservations(s.ctx, "t1", res.OrderId); err != nil {
		t.Fatalf("ExtendReservations: %v", err)
	}
	s.clock.Advance(2 * time.Minute)

	cancelled, err := s.lifecycle.CancelExpired(context.Background(), "t1", res.OrderId)
	if err != nil || cancelled {
		t.Fatalf("extended order must not be cancelled, got %v %v", cancelled, err)
	}
	s.assertLedger(t, s.shirt, 5, 1)
}

func TestSweepOnce_ConcurrentPassesCancelOnce(t *testing.T) {
	s := newStore(t)
	abandoned := s.checkout(t, "", line(s.shirt, 2), line(s.mug, 1))
	if _, err := models.Reserve(s.ctx, s.db, "t1", models.ReserveLine{VariantId: s.mug.ID, Quantity: 1}, nil, s.clock.Now(), storeTTL); err != nil {
		t.Fatalf("Reserve orphan: %v", err)
	}
	s.clock.Advance(storeTTL + time.Second)

	// One shared sweeper with its own lifecycle, run from several goroutines.
	sw := workflow.NewReservationSweeper(s.db, nil, nil, nil)
	sw.Now = s.clock.Now
	sw.BatchSize = 100

	const passes = 4
	results := make([]workflow.SweepResult, passes)
	errs := make([]error, passes)
	var wg sync.WaitGroup
	for i := 0; i < passes; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = sw.SweepOnce(context.Background())
		}(i)
	}
	wg.Wait()

	var cancelled, orphans int
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("pass %d: %v", i, errs[i])
		}
		if results[i].Failed != 0 {
			t.Fatalf("pass %d had failures: %+v", i, results[i])
		}
		cancelled += results[i].CancelledOrders
		orphans += results[i].ReleasedOrphans
	}
	if cancelled != 1 || orphans != 1 {
		t.Fatalf("expected one cancel and one orphan release across passes, got %d and %d", cancelled, orphans)
	}

	s.assertLedger(t, s.shirt, 5, 0)
	s.assertLedger(t, s.mug, 3, 0)
	if got := s.order(t, abandoned.OrderId).Status; got != models.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", got)
	}
	var expiries int64
	if err := s.db.Model(&models.OrderHistory{}).
		Where("order_id = ? AND event = ?", abandoned.OrderId, models.OrderEventExpire).
		Count(&expiries).Error; err != nil {
		t.Fatalf("count history: %v", err)
	}
	if expiries != 1 {
		t.Fatalf("expected a single expiry transition, got %d", expiries)
	}
	if got := s.outboxTypes(t, abandoned.OrderId); !reflect.DeepEqual(got, []string{"order.created", "order.cancelled"}) {
		t.Fatalf("unexpected order events %v", got)
	}
}
