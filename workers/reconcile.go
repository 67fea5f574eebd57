// Package workers runs the scheduled reconciliation jobs that settle what the
// request path left in doubt: refunds whose provider outcome was unknown and
// pending orders whose webhook never arrived.
package workers

import (
	"context"
	"log"
	"time"

	"club-tournament-backend/models"
	"club-tournament-backend/payment"
	"club-tournament-backend/services"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

const (
	// refundGrace is how long a REQUESTED refund intent must sit before the
	// worker queries the provider. Short enough that players are not left
	// hanging, long enough not to race the request path's own round trip.
	refundGrace = 2 * time.Minute

	// staleOrderAge is when an unpaid PENDING order gets settled one way or
	// the other.
	staleOrderAge = 24 * time.Hour
)

type Reconciler struct {
	DB            *gorm.DB
	Provider      payment.Provider
	Registrations *services.RegistrationService
	Orders        *services.OrderService
}

func NewReconciler(db *gorm.DB, provider payment.Provider, reg *services.RegistrationService, ord *services.OrderService) *Reconciler {
	return &Reconciler{DB: db, Provider: provider, Registrations: reg, Orders: ord}
}

// Start schedules the reconciliation jobs and runs them until ctx is
// cancelled.
func (r *Reconciler) Start(ctx context.Context) (gocron.Scheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(5*time.Minute),
		gocron.NewTask(func() { r.SettleInDoubtRefunds(ctx) }),
	)
	if err != nil {
		return nil, err
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(time.Hour),
		gocron.NewTask(func() { r.SettleStaleOrders(ctx) }),
	)
	if err != nil {
		return nil, err
	}

	scheduler.Start()
	log.Printf("[RECONCILE] scheduler started")

	go func() {
		<-ctx.Done()
		if err := scheduler.Shutdown(); err != nil {
			log.Printf("[RECONCILE] scheduler shutdown: %v", err)
		}
	}()
	return scheduler, nil
}

// SettleInDoubtRefunds finds refund intents stuck in REQUESTED past the grace
// period and asks the provider what actually happened. A confirmed refund
// completes the cancellation (including the waitlist promotion the request
// path never got to run); a missing or abnormal one is marked FAILED for
// operator attention; a processing one is left for the next pass.
func (r *Reconciler) SettleInDoubtRefunds(ctx context.Context) {
	if r.Provider.Simulated() {
		return
	}

	cutoff := time.Now().Add(-refundGrace)
	var orders []models.Order
	err := r.DB.WithContext(ctx).
		Where("refund_status = ? AND refund_requested_at < ?", models.RefundRequested, cutoff).
		Limit(100).
		Find(&orders).Error
	if err != nil {
		log.Printf("[RECONCILE] listing in-doubt refunds: %v", err)
		return
	}

	for i := range orders {
		order := &orders[i]
		state, err := r.Provider.QueryRefund(ctx, order.RefundNo)
		if err != nil {
			log.Printf("[RECONCILE] refund %s query failed: %v", order.RefundNo, err)
			continue
		}
		switch state {
		case payment.RefundStateSuccess:
			if err := r.Registrations.FinalizeRefund(ctx, order); err != nil {
				log.Printf("[RECONCILE] refund %s finalize failed: %v", order.RefundNo, err)
				continue
			}
			log.Printf("[RECONCILE] refund %s confirmed, cancellation completed", order.RefundNo)
		case payment.RefundStateAbnormal, payment.RefundStateNotFound:
			err := r.DB.WithContext(ctx).Model(order).
				Update("refund_status", models.RefundFailed).Error
			if err != nil {
				log.Printf("[RECONCILE] refund %s mark failed: %v", order.RefundNo, err)
				continue
			}
			log.Printf("[RECONCILE] refund %s settled as FAILED (provider state %s)", order.RefundNo, state)
		case payment.RefundStateProcessing:
			// Still in flight; next pass will look again.
		}
	}
}

// SettleStaleOrders closes out PENDING orders past staleOrderAge. The
// provider is queried first: an order that actually got paid is reconciled as
// a success (the webhook was simply lost), everything else is cancelled
// locally.
func (r *Reconciler) SettleStaleOrders(ctx context.Context) {
	cutoff := time.Now().Add(-staleOrderAge)
	var orders []models.Order
	err := r.DB.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.OrderPending, cutoff).
		Limit(200).
		Find(&orders).Error
	if err != nil {
		log.Printf("[RECONCILE] listing stale orders: %v", err)
		return
	}

	for i := range orders {
		order := &orders[i]

		if !r.Provider.Simulated() {
			state, err := r.Provider.QueryOrder(ctx, order.OrderNo)
			if err != nil {
				log.Printf("[RECONCILE] stale order %s query failed: %v", order.OrderNo, err)
				continue
			}
			if state == payment.OrderStateSuccess {
				if _, err := r.Orders.ApplyPaymentSuccess(ctx, order.OrderNo); err != nil {
					log.Printf("[RECONCILE] stale order %s reconciliation failed: %v", order.OrderNo, err)
				} else {
					log.Printf("[RECONCILE] stale order %s was paid upstream, reconciled", order.OrderNo)
				}
				continue
			}
		}

		err := r.DB.WithContext(ctx).Model(order).
			Update("status", models.OrderCancelled).Error
		if err != nil {
			log.Printf("[RECONCILE] stale order %s cancel failed: %v", order.OrderNo, err)
			continue
		}
		log.Printf("[RECONCILE] stale order %s cancelled", order.OrderNo)
	}
}
