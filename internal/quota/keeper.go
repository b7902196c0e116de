package quota

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Yours-Pranav/fcplinko/internal/metrics"
)

// Keeper fronts the shared store and falls back to the process-local store
// when the shared one is unreachable. Callers always get an answer with the
// same fail-closed semantics; the Degraded flag and a gauge tell operators
// which store produced it.
type Keeper struct {
	shared   Store
	local    Store
	log      *zap.Logger
	degraded atomic.Bool
}

func NewKeeper(shared, local Store, log *zap.Logger) *Keeper {
	return &Keeper{shared: shared, local: local, log: log}
}

func (k *Keeper) TryConsume(ctx context.Context, principal string) (Result, error) {
	rec, allowed, err := k.shared.TryConsume(ctx, principal)
	if err != nil {
		k.markDegraded(err)
		lrec, lallowed, lerr := k.local.TryConsume(ctx, principal)
		if lerr != nil {
			return Result{}, lerr
		}
		return result(lrec, lallowed, true), nil
	}
	k.markHealthy()
	return result(rec, allowed, false), nil
}

func (k *Keeper) Remaining(ctx context.Context, principal string) (Result, error) {
	rec, err := k.shared.Remaining(ctx, principal)
	if err != nil {
		k.markDegraded(err)
		lrec, lerr := k.local.Remaining(ctx, principal)
		if lerr != nil {
			return Result{}, lerr
		}
		return result(lrec, false, true), nil
	}
	k.markHealthy()
	return result(rec, false, false), nil
}

// Reset restores the full allowance for one principal. While degraded the
// reset lands on the local store only; the shared record keeps its TTL and
// ages out on its own.
func (k *Keeper) Reset(ctx context.Context, principal string) error {
	if err := k.shared.Reset(ctx, principal); err != nil {
		k.markDegraded(err)
		return k.local.Reset(ctx, principal)
	}
	k.markHealthy()
	return nil
}

// Degraded reports whether the last shared-store call failed.
func (k *Keeper) Degraded() bool {
	return k.degraded.Load()
}

func (k *Keeper) markDegraded(err error) {
	if !k.degraded.Swap(true) {
		k.log.Warn("quota store unreachable, serving from process-local fallback", zap.Error(err))
		metrics.Game().QuotaDegraded.Set(1)
	}
}

func (k *Keeper) markHealthy() {
	if k.degraded.Swap(false) {
		k.log.Info("quota store recovered")
		metrics.Game().QuotaDegraded.Set(0)
	}
}

func result(rec Record, allowed, degraded bool) Result {
	return Result{
		Allowed:         allowed,
		Remaining:       rec.Remaining,
		WindowExpiresAt: rec.WindowExpiresAt,
		Degraded:        degraded,
	}
}
