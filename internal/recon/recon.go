// Package recon periodically compares the prize reserve against the
// outstanding voucher liability. Every voucher that is live (unredeemed and
// unexpired) is a claim on the reserve; if the sum of those claims ever
// exceeds the balance, redemptions will start failing with insufficient
// funds and operators need to top up. The reconciler exports both sides of
// that ledger as gauges and warns on deficit.
package recon

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/Yours-Pranav/fcplinko/internal/ledger"
	"github.com/Yours-Pranav/fcplinko/internal/metrics"
)

// Snapshot is one reconciliation pass over the ledger.
type Snapshot struct {
	ReserveUnits   int64
	LiabilityUnits int64
	LiveVouchers   int64
}

// Deficit is how many units the reserve is short, zero when fully covered.
func (s Snapshot) Deficit() int64 {
	if s.LiabilityUnits > s.ReserveUnits {
		return s.LiabilityUnits - s.ReserveUnits
	}
	return 0
}

type Reconciler struct {
	store    *ledger.Store
	interval time.Duration
	log      *zap.Logger
	now      func() time.Time
}

func New(store *ledger.Store, interval time.Duration, log *zap.Logger) *Reconciler {
	return &Reconciler{
		store:    store,
		interval: interval,
		log:      log,
		now:      time.Now,
	}
}

// Snapshot runs one pass: read both sides, publish the gauges, warn if the
// reserve no longer covers the live vouchers.
func (r *Reconciler) Snapshot(ctx context.Context) (Snapshot, error) {
	balance, err := r.store.ReserveBalance(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	liability, count, err := r.store.OutstandingLiability(ctx, r.now().UTC())
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		ReserveUnits:   balance,
		LiabilityUnits: liability,
		LiveVouchers:   count,
	}
	metrics.Game().ReserveUnits.Set(float64(snap.ReserveUnits))
	metrics.Game().LiabilityUnits.Set(float64(snap.LiabilityUnits))
	metrics.Game().OutstandingVouchers.Set(float64(snap.LiveVouchers))

	if deficit := snap.Deficit(); deficit > 0 {
		r.log.Warn("reserve does not cover outstanding vouchers",
			zap.Int64("reserve_units", snap.ReserveUnits),
			zap.Int64("liability_units", snap.LiabilityUnits),
			zap.Int64("deficit_units", deficit),
			zap.Int64("live_vouchers", snap.LiveVouchers))
	} else {
		r.log.Debug("reserve reconciled",
			zap.Int64("reserve_units", snap.ReserveUnits),
			zap.Int64("liability_units", snap.LiabilityUnits),
			zap.Int64("live_vouchers", snap.LiveVouchers))
	}
	return snap, nil
}

// Run schedules reconciliation every interval until ctx is cancelled. The
// first pass happens immediately so the gauges are live from boot.
func (r *Reconciler) Run(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(r.interval),
		gocron.NewTask(func() {
			if _, err := r.Snapshot(ctx); err != nil {
				r.log.Error("reconciliation pass failed", zap.Error(err))
			}
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = sched.Shutdown()
		return err
	}

	sched.Start()
	r.log.Info("reconciler started", zap.Duration("interval", r.interval))

	<-ctx.Done()
	r.log.Info("reconciler stopped")
	return sched.Shutdown()
}
